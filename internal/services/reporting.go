package services

import (
	"encoding/json"
	"sort"
	"time"
)

// Report types stored per relationship.
const (
	ReportHeuristic = "heuristic"
	ReportLLM       = "llm"
	ReportDeep      = "deep"
)

// DimensionOrder fixes the presentation order for scored dimensions and makes
// headline extraction deterministic for tied scores.
var DimensionOrder = []string{
	"values", "attachment", "conflict", "cost", "power",
	"stress", "load", "pattern", "future", "agency",
}

// DimensionLabels maps dimension tags to reader-facing names.
var DimensionLabels = map[string]string{
	"values":     "Values hierarchy",
	"attachment": "Closeness vs space",
	"conflict":   "Repair & conflict",
	"cost":       "Cost tolerance",
	"power":      "Power & decisions",
	"stress":     "Stress behavior",
	"load":       "Emotional labor",
	"pattern":    "Repeated roles",
	"future":     "Future realism",
	"agency":     "Agency / choice",
}

// DimensionHighlight is one entry of a headline list.
type DimensionHighlight struct {
	Dimension string  `json:"dimension"`
	Score     float64 `json:"score"`
}

// Headlines summarizes a score map: top strengths, lowest frictions, and the
// positive-only overall mean.
type Headlines struct {
	Top     []DimensionHighlight `json:"top"`
	Bottom  []DimensionHighlight `json:"bottom"`
	Overall float64              `json:"overall"`
}

// BuildHeadlines sorts positively scored dimensions descending; the top three
// are strengths, the lowest three (shown ascending) are frictions. Fewer than
// three qualifying dimensions degrade to what exists.
func BuildHeadlines(scores ScoreMap) Headlines {
	items := make([]DimensionHighlight, 0, len(scores))
	for _, dim := range DimensionOrder {
		if s, ok := scores[dim]; ok && s.Score > 0 {
			items = append(items, DimensionHighlight{Dimension: dim, Score: s.Score})
		}
	}
	for dim, s := range scores {
		if s.Score > 0 && !knownDimension(dim) {
			items = append(items, DimensionHighlight{Dimension: dim, Score: s.Score})
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })

	top := items
	if len(top) > 3 {
		top = top[:3]
	}
	tail := items
	if len(tail) > 3 {
		tail = tail[len(tail)-3:]
	}
	bottom := make([]DimensionHighlight, 0, len(tail))
	for i := len(tail) - 1; i >= 0; i-- {
		bottom = append(bottom, tail[i])
	}
	if len(items) < 3 {
		bottom = append([]DimensionHighlight(nil), tail...)
	}
	return Headlines{
		Top:     append([]DimensionHighlight(nil), top...),
		Bottom:  bottom,
		Overall: OverallScore(scores),
	}
}

func knownDimension(dim string) bool {
	for _, d := range DimensionOrder {
		if d == dim {
			return true
		}
	}
	return false
}

// ReportStore persists scoring/brief artifacts.
type ReportStore interface {
	SaveReport(r *Report) error
	GetLatestReport(relationshipID, reportType string) (*Report, error)
}

// ReportService stores one report per run so later sessions read a consistent
// artifact instead of recomputing.
type ReportService struct {
	store ReportStore
	now   func() time.Time
	idGen func() string
}

func NewReportService(store ReportStore) *ReportService {
	return &ReportService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(12) },
	}
}

func validReportType(t string) bool {
	return t == ReportHeuristic || t == ReportLLM || t == ReportDeep
}

// Save marshals content and stores it under the relationship and type.
func (s *ReportService) Save(relationshipID, reportType string, content any) (*Report, error) {
	if !validReportType(reportType) {
		return nil, NewInvalidError("report_type must be heuristic, llm, or deep")
	}
	data, err := json.Marshal(content)
	if err != nil {
		return nil, NewInvalidError("report content not serializable: " + err.Error())
	}
	r := &Report{
		ID:             s.idGen(),
		RelationshipID: relationshipID,
		Type:           reportType,
		CreatedAt:      s.now(),
		Content:        data,
	}
	if err := s.store.SaveReport(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Latest returns the most recent report of the given type, or a not-found
// error when none exists.
func (s *ReportService) Latest(relationshipID, reportType string) (*Report, error) {
	if !validReportType(reportType) {
		return nil, NewInvalidError("report_type must be heuristic, llm, or deep")
	}
	r, err := s.store.GetLatestReport(relationshipID, reportType)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, NewNotFoundError("no " + reportType + " report for this relationship")
	}
	return r, nil
}
