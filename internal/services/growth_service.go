package services

import (
	"strings"
	"time"
)

// Repair and agency choices offered at check-in time.
var (
	GrowthRepairChoices = []string{
		"Repaired quickly", "Repaired eventually", "Avoided", "Still unresolved",
	}
	GrowthAgencyChoices = []string{
		"Very intentional", "Somewhat intentional", "Mixed", "Mostly inertia",
	}
)

// GrowthCheckin is one monthly self-report.
type GrowthCheckin struct {
	ID             string        `json:"id"`
	RelationshipID string        `json:"relationship_id"`
	Mode           Mode          `json:"mode"`
	Respondent     Respondent    `json:"respondent"`
	MonthKey       string        `json:"month_key"`
	PatternText    string        `json:"pattern_text"`
	CostText       string        `json:"cost_text"`
	RepairChoice   string        `json:"repair_choice"`
	AgencyChoice   string        `json:"agency_choice"`
	ShiftText      string        `json:"shift_text"`
	Metrics        GrowthMetrics `json:"metrics"`
	CreatedAt      time.Time     `json:"created_at"`
}

// GrowthMetrics are derived 1..5 trend values, not scores.
type GrowthMetrics struct {
	Clarity int `json:"clarity"`
	Cost    int `json:"cost"`
	Agency  int `json:"agency"`
}

// GrowthReflection is an optional monthly free-text response to the rotating
// prompt.
type GrowthReflection struct {
	ID             string     `json:"id"`
	RelationshipID string     `json:"relationship_id"`
	Respondent     Respondent `json:"respondent"`
	MonthKey       string     `json:"month_key"`
	PromptText     string     `json:"prompt_text"`
	ResponseText   string     `json:"response_text"`
	CreatedAt      time.Time  `json:"created_at"`
}

type GrowthStore interface {
	SaveGrowthCheckin(c *GrowthCheckin) error
	ListGrowthCheckins(relationshipID string, respondent Respondent, limit int) ([]*GrowthCheckin, error)
	GetLatestGrowthCheckin(relationshipID string, respondent Respondent) (*GrowthCheckin, error)
	SaveGrowthReflection(r *GrowthReflection) error
	ListGrowthReflections(relationshipID string, respondent Respondent, limit int) ([]*GrowthReflection, error)
}

var growthReflectionPrompts = []string{
	"What feels easier to see now than it did a month ago?",
	"What did you stop pretending about this month?",
	"What did you tolerate automatically, and what did you choose intentionally?",
	"Where did you repair quickly, and where did you avoid?",
}

var growthHeavyTokens = []string{
	"heavy", "exhaust", "resent", "tired", "stuck", "pain", "lonely", "anxious", "burden",
}

// CheckinMetrics derives the 1..5 trend values from a check-in's free text
// and choices. Longer pattern text reads as clarity; heavy emotional language
// and unresolved tension read as cost; the agency choice maps directly.
func CheckinMetrics(patternText, costText, repairChoice, agencyChoice string) GrowthMetrics {
	clarity := 2
	switch pl := len(strings.TrimSpace(patternText)); {
	case pl >= 60:
		clarity = 4
	case pl >= 25:
		clarity = 3
	}

	cost := 3
	lower := strings.ToLower(costText)
	for _, tok := range growthHeavyTokens {
		if strings.Contains(lower, tok) {
			cost = 4
			break
		}
	}
	if len(strings.TrimSpace(costText)) >= 80 {
		cost = min5(cost + 1)
	}

	agency := 3
	switch agencyChoice {
	case "Very intentional":
		agency = 5
	case "Somewhat intentional":
		agency = 4
	case "Mixed":
		agency = 3
	case "Mostly inertia":
		agency = 2
	}

	switch repairChoice {
	case "Still unresolved":
		cost = min5(cost + 1)
		if clarity > 1 {
			clarity--
		}
	case "Repaired quickly":
		if cost > 1 {
			cost--
		}
	}

	return GrowthMetrics{Clarity: clarity, Cost: cost, Agency: agency}
}

func min5(v int) int {
	if v > 5 {
		return 5
	}
	return v
}

// MonthlyPrompt rotates the reflection prompt by calendar month.
func MonthlyPrompt(t time.Time) string {
	return growthReflectionPrompts[(int(t.Month())-1)%len(growthReflectionPrompts)]
}

// MonthKey renders a time as the YYYY-MM bucket key.
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}

type GrowthService struct {
	store GrowthStore
	now   func() time.Time
	idGen func() string
}

func NewGrowthService(store GrowthStore) *GrowthService {
	return &GrowthService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(12) },
	}
}

// CheckinInput is one month's raw check-in before metric derivation.
type CheckinInput struct {
	RelationshipID string
	Mode           Mode
	Respondent     Respondent
	MonthKey       string
	PatternText    string
	CostText       string
	RepairChoice   string
	AgencyChoice   string
	ShiftText      string
}

// SaveCheckin derives metrics and stores the check-in. An empty month key
// defaults to the current month.
func (s *GrowthService) SaveCheckin(in CheckinInput) (*GrowthCheckin, error) {
	if strings.TrimSpace(in.RelationshipID) == "" {
		return nil, NewInvalidError("relationship_id required")
	}
	if !ValidRespondent(in.Respondent) {
		return nil, NewInvalidError("unknown respondent role")
	}
	now := s.now()
	monthKey := strings.TrimSpace(in.MonthKey)
	if monthKey == "" {
		monthKey = MonthKey(now)
	}
	c := &GrowthCheckin{
		ID:             s.idGen(),
		RelationshipID: in.RelationshipID,
		Mode:           in.Mode,
		Respondent:     in.Respondent,
		MonthKey:       monthKey,
		PatternText:    strings.TrimSpace(in.PatternText),
		CostText:       strings.TrimSpace(in.CostText),
		RepairChoice:   in.RepairChoice,
		AgencyChoice:   in.AgencyChoice,
		ShiftText:      strings.TrimSpace(in.ShiftText),
		Metrics:        CheckinMetrics(in.PatternText, in.CostText, in.RepairChoice, in.AgencyChoice),
		CreatedAt:      now,
	}
	if err := s.store.SaveGrowthCheckin(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GrowthService) Timeline(relationshipID string, respondent Respondent, limit int) ([]*GrowthCheckin, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListGrowthCheckins(relationshipID, respondent, limit)
}

// Latest returns the most recent check-in or nil when none exist yet.
func (s *GrowthService) Latest(relationshipID string, respondent Respondent) (*GrowthCheckin, error) {
	return s.store.GetLatestGrowthCheckin(relationshipID, respondent)
}

// SaveReflection stores a non-empty response to the current month's prompt.
func (s *GrowthService) SaveReflection(relationshipID string, respondent Respondent, response string) (*GrowthReflection, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, NewInvalidError("nothing to save")
	}
	if !ValidRespondent(respondent) {
		return nil, NewInvalidError("unknown respondent role")
	}
	now := s.now()
	r := &GrowthReflection{
		ID:             s.idGen(),
		RelationshipID: relationshipID,
		Respondent:     respondent,
		MonthKey:       MonthKey(now),
		PromptText:     MonthlyPrompt(now),
		ResponseText:   response,
		CreatedAt:      now,
	}
	if err := s.store.SaveGrowthReflection(r); err != nil {
		return nil, err
	}
	return r, nil
}

// CurrentPrompt returns this month's reflection prompt.
func (s *GrowthService) CurrentPrompt() string {
	return MonthlyPrompt(s.now())
}

func (s *GrowthService) Reflections(relationshipID string, respondent Respondent, limit int) ([]*GrowthReflection, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListGrowthReflections(relationshipID, respondent, limit)
}
