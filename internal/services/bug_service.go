package services

import (
	"strings"
	"time"
)

// Bug lifecycle statuses and severities.
const (
	BugStatusNew        = "New"
	BugStatusInProgress = "In Progress"
	BugStatusFixed      = "Fixed"
	BugStatusVerified   = "Verified"
	BugStatusClosed     = "Closed"
	BugStatusRejected   = "Rejected"
)

var BugStatuses = []string{
	BugStatusNew, BugStatusInProgress, BugStatusFixed,
	BugStatusVerified, BugStatusClosed, BugStatusRejected,
}

var BugSeverities = []string{"Low", "Medium", "High", "Critical"}

// bugTransitions lists the allowed forward moves per status. Staying in place
// is always allowed.
var bugTransitions = map[string][]string{
	BugStatusNew:        {BugStatusInProgress, BugStatusRejected},
	BugStatusInProgress: {BugStatusFixed, BugStatusRejected},
	BugStatusFixed:      {BugStatusVerified},
	BugStatusVerified:   {BugStatusClosed},
	BugStatusClosed:     {},
	BugStatusRejected:   {},
}

func ValidBugTransition(current, next string) bool {
	allowed, ok := bugTransitions[current]
	if !ok {
		return false
	}
	if next == current {
		return true
	}
	for _, s := range allowed {
		if s == next {
			return true
		}
	}
	return false
}

func validBugSeverity(s string) bool {
	for _, v := range BugSeverities {
		if v == s {
			return true
		}
	}
	return false
}

func validBugStatus(s string) bool {
	for _, v := range BugStatuses {
		if v == s {
			return true
		}
	}
	return false
}

const bugTitleMaxLen = 200

// Bug is one tracked issue.
type Bug struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Reporter        string    `json:"reporter"`
	Severity        string    `json:"severity"`
	Status          string    `json:"status"`
	Assignee        string    `json:"assignee,omitempty"`
	ResolutionNotes string    `json:"resolution_notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// BugFilter narrows ListBugs. Empty fields match everything; Unassigned
// matches bugs with no assignee.
type BugFilter struct {
	Status     string
	Severity   string
	Assignee   string
	Unassigned bool
	Search     string
	Limit      int
}

// BugCounts aggregates the tracker for the metrics view.
type BugCounts struct {
	ByStatus     map[string]int `json:"by_status"`
	BySeverity   map[string]int `json:"by_severity"`
	OpenCritical int            `json:"open_critical"`
}

type BugStore interface {
	SaveBug(b *Bug) error
	GetBug(id string) (*Bug, error)
	UpdateBug(b *Bug) error
	ListBugs(f BugFilter) ([]*Bug, error)
	BugCounts() (*BugCounts, error)
}

// BugUpdate carries partial edits. Nil pointers leave fields untouched;
// empty-string assignee/notes clear them.
type BugUpdate struct {
	Status          *string
	Assignee        *string
	ResolutionNotes *string
	Title           *string
	Description     *string
}

type BugService struct {
	store BugStore
	now   func() time.Time
	idGen func() string
}

func NewBugService(store BugStore) *BugService {
	return &BugService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(12) },
	}
}

// Create files a new bug in status New. An unknown severity falls back to
// Medium rather than failing the report.
func (s *BugService) Create(title, description, reporter, severity string) (*Bug, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, NewInvalidError("title required")
	}
	if !validBugSeverity(severity) {
		severity = "Medium"
	}
	now := s.now()
	b := &Bug{
		ID:          s.idGen(),
		Title:       truncate(title, bugTitleMaxLen),
		Description: strings.TrimSpace(description),
		Reporter:    truncate(strings.TrimSpace(reporter), bugTitleMaxLen),
		Severity:    severity,
		Status:      BugStatusNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.SaveBug(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BugService) Get(id string) (*Bug, error) {
	b, err := s.store.GetBug(id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, NewNotFoundError("bug not found: " + id)
	}
	return b, nil
}

// Update applies a partial edit. Status changes are validated against the
// transition table before anything is written.
func (s *BugService) Update(id string, upd BugUpdate) (*Bug, error) {
	b, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if upd.Status != nil {
		next := *upd.Status
		if !validBugStatus(next) {
			return nil, NewInvalidError("unknown status: " + next)
		}
		if !ValidBugTransition(b.Status, next) {
			return nil, NewInvalidError("invalid transition: " + b.Status + " -> " + next)
		}
		b.Status = next
	}
	if upd.Assignee != nil {
		b.Assignee = strings.TrimSpace(*upd.Assignee)
	}
	if upd.ResolutionNotes != nil {
		b.ResolutionNotes = strings.TrimSpace(*upd.ResolutionNotes)
	}
	if upd.Title != nil {
		t := strings.TrimSpace(*upd.Title)
		if t == "" {
			return nil, NewInvalidError("title cannot be empty")
		}
		b.Title = truncate(t, bugTitleMaxLen)
	}
	if upd.Description != nil {
		b.Description = strings.TrimSpace(*upd.Description)
	}
	b.UpdatedAt = s.now()
	if err := s.store.UpdateBug(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BugService) List(f BugFilter) ([]*Bug, error) {
	if f.Limit <= 0 {
		f.Limit = 200
	}
	return s.store.ListBugs(f)
}

func (s *BugService) Metrics() (*BugCounts, error) {
	return s.store.BugCounts()
}
