package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ChatCompleter is the one external call this engine makes. It is synchronous,
// may fail, and is never retried here; callers bound it with their context.
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, system, user string) (string, error)
}

// LLMScore is one externally computed dimension record. Score arrives as an
// opaque value and is coerced to a float, defaulting to 0.0 on parse failure.
type LLMScore struct {
	Dimension   string   `json:"dimension"`
	Score       float64  `json:"score"`
	Confidence  string   `json:"confidence,omitempty"`
	Rationale   string   `json:"rationale,omitempty"`
	PromptsNext []string `json:"prompts_next,omitempty"`
}

type rawLLMScore struct {
	Dimension   string          `json:"dimension"`
	Score       json.RawMessage `json:"score"`
	Confidence  string          `json:"confidence"`
	Rationale   string          `json:"rationale"`
	PromptsNext []string        `json:"prompts_next"`
}

// ResearchPacket is the structured payload handed to the external brief call.
type ResearchPacket struct {
	Mode            Mode                `json:"relationship_mode"`
	DimensionScores []LLMScore          `json:"dimension_scores"`
	KeyQuotes       map[string][]string `json:"key_quotes"`
	Contradictions  []Contradiction     `json:"contradictions"`
	Deltas          []Delta             `json:"deltas_over_time"`
}

// Brief is the structured narrative returned by the deep-research call.
type Brief struct {
	Title             string             `json:"title"`
	ObservedPatterns  []BriefPattern     `json:"observed_patterns"`
	WhatTendsToHappen []BriefTendency    `json:"what_tends_to_happen"`
	EarlyWins         []string           `json:"early_wins"`
	FailureModes      []BriefFailureMode `json:"likely_failure_modes"`
	LeveragePoints    []BriefLeverage    `json:"leverage_points"`
	StayChangeLeave   BriefLens          `json:"stay_change_leave_lens"`
	FollowUpQuestions []string           `json:"follow_up_questions"`
	Limits            []string           `json:"limits"`
}

type BriefPattern struct {
	Headline     string   `json:"headline"`
	Evidence     []string `json:"evidence"`
	WhyItMatters string   `json:"why_it_matters"`
}

type BriefTendency struct {
	Headline   string `json:"headline"`
	Mechanism  string `json:"mechanism"`
	Conditions string `json:"conditions"`
}

type BriefFailureMode struct {
	Name        string `json:"name"`
	HowItStarts string `json:"how_it_starts"`
	HowItEnds   string `json:"how_it_ends"`
	RiskLevel   string `json:"risk_level"`
}

type BriefLeverage struct {
	Action   string `json:"action"`
	Why      string `json:"why"`
	HowToTry string `json:"how_to_try"`
}

type BriefLens struct {
	StayAsIs         string `json:"stay_as_is"`
	ChangeOneThing   string `json:"change_one_thing"`
	IfNothingChanges string `json:"if_nothing_changes"`
}

// LLMScoringService drives per-dimension LLM scoring and the deep-research
// brief. Either the full dimension set is accepted or none is: any failed
// call or malformed reply aborts without partial results.
type LLMScoringService struct {
	client ChatCompleter
	bank   *QuestionBank
}

func NewLLMScoringService(client ChatCompleter, bank *QuestionBank) *LLMScoringService {
	return &LLMScoringService{client: client, bank: bank}
}

// groupByDimension renders each answered question as a prompt bullet, grouped
// under its dimension tag.
func (s *LLMScoringService) groupByDimension(answers map[string]string) map[string]string {
	lines := map[string][]string{}
	for _, q := range s.bank.Questions() {
		ans, ok := answers[q.ID]
		if !ok {
			continue
		}
		lines[q.Dimension] = append(lines[q.Dimension], fmt.Sprintf("- %s\n  Answer: %s", q.Prompts[ToneDefault], ans))
	}
	out := make(map[string]string, len(lines))
	for dim, ls := range lines {
		out[dim] = strings.Join(ls, "\n")
	}
	return out
}

// ScoreDuoLLM asks the external service for one score record per dimension
// present in either respondent's grouped answers.
func (s *LLMScoringService) ScoreDuoLLM(ctx context.Context, answersA, answersB map[string]string) ([]LLMScore, error) {
	if s.client == nil {
		return nil, NewBadGatewayError("llm scoring is not configured")
	}
	aByDim := s.groupByDimension(answersA)
	bByDim := s.groupByDimension(answersB)

	dimSet := map[string]bool{}
	for dim := range aByDim {
		dimSet[dim] = true
	}
	for dim := range bByDim {
		dimSet[dim] = true
	}
	dims := make([]string, 0, len(dimSet))
	for dim := range dimSet {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	out := make([]LLMScore, 0, len(dims))
	for _, dim := range dims {
		aText := aByDim[dim]
		if aText == "" {
			aText = "(none)"
		}
		bText := bByDim[dim]
		if bText == "" {
			bText = "(none)"
		}
		raw, err := s.client.ChatCompletion(ctx, scoringSystemPrompt, makeDimensionPrompt(dim, aText, bText))
		if err != nil {
			return nil, NewBadGatewayError("llm scoring call failed: " + err.Error())
		}
		score, err := parseLLMScore(raw, dim)
		if err != nil {
			return nil, NewBadGatewayError("llm scoring reply for " + dim + " was not valid: " + err.Error())
		}
		out = append(out, score)
	}
	return out, nil
}

func parseLLMScore(raw, fallbackDimension string) (LLMScore, error) {
	data, err := extractJSON(raw)
	if err != nil {
		return LLMScore{}, err
	}
	var rs rawLLMScore
	if err := json.Unmarshal(data, &rs); err != nil {
		return LLMScore{}, err
	}
	out := LLMScore{
		Dimension:   rs.Dimension,
		Score:       coerceScore(rs.Score),
		Confidence:  rs.Confidence,
		Rationale:   rs.Rationale,
		PromptsNext: rs.PromptsNext,
	}
	if out.Dimension == "" {
		out.Dimension = fallbackDimension
	}
	return out, nil
}

// coerceScore accepts a JSON number or a numeric string; anything else
// becomes 0.0.
func coerceScore(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0.0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v
		}
	}
	return 0.0
}

// OverallFromLLM averages the strictly positive LLM scores, rounded to one
// decimal. Zero scores mean insufficient data and are excluded.
func OverallFromLLM(scores []LLMScore) float64 {
	sum, n := 0.0, 0
	for _, s := range scores {
		if s.Score > 0 {
			sum += s.Score
			n++
		}
	}
	if n == 0 {
		return 0.0
	}
	return math.Round(sum/float64(n)*10) / 10
}

// DeepResearch runs the single brief-generation call over the research
// packet. Malformed output is a hard failure; nothing is retried.
func (s *LLMScoringService) DeepResearch(ctx context.Context, packet ResearchPacket) (*Brief, error) {
	if s.client == nil {
		return nil, NewBadGatewayError("deep research is not configured")
	}
	prompt, err := makeDeepResearchPrompt(packet)
	if err != nil {
		return nil, err
	}
	raw, err := s.client.ChatCompletion(ctx, deepResearchSystemPrompt, prompt)
	if err != nil {
		return nil, NewBadGatewayError("deep research call failed: " + err.Error())
	}
	data, err := extractJSON(raw)
	if err != nil {
		return nil, NewBadGatewayError("deep research reply was not valid json: " + err.Error())
	}
	var brief Brief
	if err := json.Unmarshal(data, &brief); err != nil {
		return nil, NewBadGatewayError("deep research reply did not match the brief schema: " + err.Error())
	}
	return &brief, nil
}

// extractJSON is the best-effort JSON recovery for model replies: strip code
// fences, try the whole string, then fall back to the outermost {...} block.
func extractJSON(raw string) (json.RawMessage, error) {
	t := strings.TrimSpace(raw)
	if strings.HasPrefix(t, "```") {
		if i := strings.IndexByte(t, '\n'); i >= 0 {
			t = t[i+1:]
		} else {
			t = ""
		}
		if j := strings.LastIndex(t, "```"); j >= 0 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}
	if json.Valid([]byte(t)) {
		return json.RawMessage(t), nil
	}
	start := strings.IndexByte(t, '{')
	end := strings.LastIndexByte(t, '}')
	if start != -1 && end > start {
		candidate := t[start : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, fmt.Errorf("model did not return valid JSON")
}
