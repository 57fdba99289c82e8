package api

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dommolloy/seeus/internal/services"
)

// MemoryStore is the in-process Store used by tests and by deployments that
// run without a database file. Answers are an append-only log; newest-first
// reads walk the log backwards.
type MemoryStore struct {
	mu sync.RWMutex

	relationships map[string]*services.Relationship
	sessions      map[string]*services.Session
	answers       []*services.Answer
	invites       map[string]*services.Invite
	reports       []*services.Report
	bugs          map[string]*services.Bug
	checkins      []*services.GrowthCheckin
	reflections   []*services.GrowthReflection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		relationships: map[string]*services.Relationship{},
		sessions:      map[string]*services.Session{},
		invites:       map[string]*services.Invite{},
		bugs:          map[string]*services.Bug{},
	}
}

// --- relationships ---

func (m *MemoryStore) CreateRelationship(r *services.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.relationships[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRelationship(id string) (*services.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.relationships[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListRelationships(includeArchived bool) ([]*services.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*services.Relationship, 0, len(m.relationships))
	for _, r := range m.relationships {
		if r.Archived && !includeArchived {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) SetRelationshipArchived(id string, archived bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.relationships[id]
	if !ok {
		return services.NewNotFoundError("relationship not found: " + id)
	}
	r.Archived = archived
	return nil
}

// --- sessions & answers ---

// CreateSession holds the open-session invariant: the insert fails while any
// session for the relationship is still open. The single store lock makes
// this a compare-and-set for racing callers.
func (m *MemoryStore) CreateSession(s *services.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.RelationshipID == s.RelationshipID && !existing.Ended() {
			return services.ErrOpenSessionExists
		}
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOpenSession(relationshipID string) (*services.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.RelationshipID == relationshipID && !s.Ended() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) EndSession(sessionID string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return services.NewNotFoundError("session not found: " + sessionID)
	}
	if s.EndedAt == nil {
		t := endedAt
		s.EndedAt = &t
	}
	return nil
}

func (m *MemoryStore) SaveResponse(a *services.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.answers = append(m.answers, &cp)
	return nil
}

func (m *MemoryStore) GetAnswersForSession(sessionID string) ([]*services.Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*services.Answer{}
	for _, a := range m.answers {
		if a.SessionID == sessionID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetLastAnswers(relationshipID string, respondent services.Respondent, limit int) ([]*services.Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*services.Answer{}
	for i := len(m.answers) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		a := m.answers[i]
		if a.RelationshipID == relationshipID && a.Respondent == respondent {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetAnswerHistory(relationshipID string, respondent services.Respondent, questionID string, limit int) ([]*services.Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*services.Answer{}
	for i := len(m.answers) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		a := m.answers[i]
		if a.RelationshipID == relationshipID && a.Respondent == respondent && a.QuestionID == questionID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetAnswersForRelationship(relationshipID string) ([]*services.Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*services.Answer{}
	for i := len(m.answers) - 1; i >= 0; i-- {
		a := m.answers[i]
		if a.RelationshipID == relationshipID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- invites ---

func (m *MemoryStore) CreateInvite(inv *services.Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inv
	m.invites[inv.Token] = &cp
	return nil
}

func (m *MemoryStore) GetInvite(token string) (*services.Invite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invites[token]
	if !ok {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}

func (m *MemoryStore) MarkInviteUsed(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[token]
	if !ok {
		return services.NewNotFoundError("invite not found")
	}
	inv.Used = true
	return nil
}

// --- reports ---

func (m *MemoryStore) SaveReport(r *services.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.reports = append(m.reports, &cp)
	return nil
}

func (m *MemoryStore) GetLatestReport(relationshipID, reportType string) (*services.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.reports) - 1; i >= 0; i-- {
		r := m.reports[i]
		if r.RelationshipID == relationshipID && r.Type == reportType {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

// --- bugs ---

func (m *MemoryStore) SaveBug(b *services.Bug) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bugs[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBug(id string) (*services.Bug, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bugs[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) UpdateBug(b *services.Bug) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bugs[b.ID]; !ok {
		return services.NewNotFoundError("bug not found: " + b.ID)
	}
	cp := *b
	m.bugs[b.ID] = &cp
	return nil
}

func (m *MemoryStore) ListBugs(f services.BugFilter) ([]*services.Bug, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*services.Bug{}
	for _, b := range m.bugs {
		if !bugMatches(b, f) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func bugMatches(b *services.Bug, f services.BugFilter) bool {
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.Severity != "" && b.Severity != f.Severity {
		return false
	}
	if f.Unassigned {
		if b.Assignee != "" {
			return false
		}
	} else if f.Assignee != "" && b.Assignee != f.Assignee {
		return false
	}
	if f.Search != "" {
		s := strings.ToLower(f.Search)
		hay := strings.ToLower(b.Title + " " + b.Description + " " + b.Reporter + " " + b.Assignee)
		if !strings.Contains(hay, s) {
			return false
		}
	}
	return true
}

func (m *MemoryStore) BugCounts() (*services.BugCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := &services.BugCounts{
		ByStatus:   map[string]int{},
		BySeverity: map[string]int{},
	}
	for _, b := range m.bugs {
		counts.ByStatus[b.Status]++
		counts.BySeverity[b.Severity]++
		if b.Severity == "Critical" && b.Status != services.BugStatusClosed && b.Status != services.BugStatusRejected {
			counts.OpenCritical++
		}
	}
	return counts, nil
}

// --- growth ---

func (m *MemoryStore) SaveGrowthCheckin(c *services.GrowthCheckin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.checkins = append(m.checkins, &cp)
	return nil
}

func (m *MemoryStore) ListGrowthCheckins(relationshipID string, respondent services.Respondent, limit int) ([]*services.GrowthCheckin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*services.GrowthCheckin{}
	for i := len(m.checkins) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		c := m.checkins[i]
		if c.RelationshipID != relationshipID {
			continue
		}
		if respondent != "" && c.Respondent != respondent {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) GetLatestGrowthCheckin(relationshipID string, respondent services.Respondent) (*services.GrowthCheckin, error) {
	rows, err := m.ListGrowthCheckins(relationshipID, respondent, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (m *MemoryStore) SaveGrowthReflection(r *services.GrowthReflection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.reflections = append(m.reflections, &cp)
	return nil
}

func (m *MemoryStore) ListGrowthReflections(relationshipID string, respondent services.Respondent, limit int) ([]*services.GrowthReflection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*services.GrowthReflection{}
	for i := len(m.reflections) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		r := m.reflections[i]
		if r.RelationshipID != relationshipID {
			continue
		}
		if respondent != "" && r.Respondent != respondent {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}
