package services

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBuildHeadlines(t *testing.T) {
	scores := ScoreMap{
		"values":     {Score: 9.0},
		"attachment": {Score: 7.5},
		"cost":       {Score: 4.0},
		"stress":     {Score: 5.0},
		"agency":     {Score: 0.0}, // insufficient data, excluded everywhere
	}
	h := BuildHeadlines(scores)

	if len(h.Top) != 3 || h.Top[0].Dimension != "values" || h.Top[1].Dimension != "attachment" || h.Top[2].Dimension != "stress" {
		t.Fatalf("top = %+v", h.Top)
	}
	if len(h.Bottom) != 3 || h.Bottom[0].Dimension != "cost" {
		t.Fatalf("bottom = %+v", h.Bottom)
	}
	want := (9.0 + 7.5 + 4.0 + 5.0) / 4
	if h.Overall != want {
		t.Fatalf("overall = %v, want %v", h.Overall, want)
	}
}

func TestBuildHeadlinesFewDimensions(t *testing.T) {
	h := BuildHeadlines(ScoreMap{"values": {Score: 7.0}})
	if len(h.Top) != 1 || len(h.Bottom) != 1 {
		t.Fatalf("single-dimension headlines = %+v", h)
	}
	h = BuildHeadlines(ScoreMap{})
	if len(h.Top) != 0 || len(h.Bottom) != 0 || h.Overall != 0.0 {
		t.Fatalf("empty headlines = %+v", h)
	}
}

func TestBuildHeadlinesDeterministicOnTies(t *testing.T) {
	scores := ScoreMap{
		"values": {Score: 7.0},
		"cost":   {Score: 7.0},
		"stress": {Score: 7.0},
		"agency": {Score: 7.0},
	}
	first := BuildHeadlines(scores)
	for i := 0; i < 20; i++ {
		again := BuildHeadlines(scores)
		for j := range first.Top {
			if again.Top[j] != first.Top[j] {
				t.Fatalf("tie order changed on run %d: %+v vs %+v", i, first.Top, again.Top)
			}
		}
	}
	// Ties resolve in presentation order.
	if first.Top[0].Dimension != "values" || first.Top[1].Dimension != "cost" {
		t.Fatalf("tie order = %+v", first.Top)
	}
}

type stubReportStore struct {
	reports []*Report
}

func (s *stubReportStore) SaveReport(r *Report) error {
	cp := *r
	s.reports = append(s.reports, &cp)
	return nil
}

func (s *stubReportStore) GetLatestReport(relationshipID, reportType string) (*Report, error) {
	for i := len(s.reports) - 1; i >= 0; i-- {
		if s.reports[i].RelationshipID == relationshipID && s.reports[i].Type == reportType {
			cp := *s.reports[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func TestReportServiceSaveAndLatest(t *testing.T) {
	store := &stubReportStore{}
	svc := NewReportService(store)
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }

	if _, err := svc.Save("rel1", "weekly", map[string]int{}); err == nil {
		t.Fatalf("unknown report type accepted")
	}

	first, err := svc.Save("rel1", ReportHeuristic, map[string]string{"v": "one"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := svc.Save("rel1", ReportHeuristic, map[string]string{"v": "two"}); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := svc.Latest("rel1", ReportHeuristic)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.ID == first.ID {
		t.Fatalf("latest returned the older report")
	}
	var content map[string]string
	if err := json.Unmarshal(got.Content, &content); err != nil || content["v"] != "two" {
		t.Fatalf("content = %s (%v)", got.Content, err)
	}

	if _, err := svc.Latest("rel1", ReportDeep); err == nil {
		t.Fatalf("missing report type should be not found")
	}
}
