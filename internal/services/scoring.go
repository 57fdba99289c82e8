package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Scoring thresholds and weights. Tunable without touching control flow.
const (
	closenessMin = 0.0
	closenessMax = 10.0

	// Duo heuristic: score = heuristicBase + heuristicSpan * jaccard.
	heuristicBase = 4.0
	heuristicSpan = 6.0

	// Attachment gap bands for duo mode.
	attachmentTightGap  = 1.0
	attachmentNearGap   = 3.0
	attachmentTightScore = 9.0
	attachmentNearScore  = 7.5
	attachmentFarScore   = 6.0

	// Solo heuristic scores.
	soloPresenceScore      = 7.0
	soloPresenceConfidence = 0.5
	soloAttachmentScore    = 8.0
	soloAttachmentConfidence = 0.7

	// Insufficient-data marker: callers must not read this as a real low score.
	missingScore      = 0.0
	missingConfidence = 0.2
)

var (
	numberPattern             = regexp.MustCompile(`\d+(?:\.\d+)?`)
	similarityTokenPattern    = regexp.MustCompile(`[a-zA-Z']{3,}`)
	contradictionTokenPattern = regexp.MustCompile(`[a-zA-Z']{4,}`)
)

// extractNumbers pulls all decimal numbers out of free text, in order.
func extractNumbers(text string) []float64 {
	matches := numberPattern.FindAllString(text, -1)
	out := make([]float64, 0, len(matches))
	for _, m := range matches {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// FirstCloseness scans free text for the first embedded number in the
// inclusive [0, 10] range. Later numbers are ignored even if also in range.
func FirstCloseness(text string) (float64, bool) {
	for _, n := range extractNumbers(text) {
		if n >= closenessMin && n <= closenessMax {
			return n, true
		}
	}
	return 0, false
}

func tokenSet(text string, pattern *regexp.Regexp) map[string]struct{} {
	out := map[string]struct{}{}
	for _, tok := range pattern.FindAllString(strings.ToLower(text), -1) {
		out[tok] = struct{}{}
	}
	return out
}

// textSimilarity is token Jaccard similarity over case-folded alphabetic runs
// of length >= 3. Zero when either side has no tokens.
func textSimilarity(a, b string) float64 {
	as := tokenSet(a, similarityTokenPattern)
	bs := tokenSet(b, similarityTokenPattern)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	inter := 0
	for tok := range as {
		if _, ok := bs[tok]; ok {
			inter++
		}
	}
	union := len(as) + len(bs) - inter
	return float64(inter) / float64(union)
}

// DimensionScore is one scored dimension with a confidence weight and a short
// plain-language rationale.
type DimensionScore struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// ScoreMap holds per-dimension scores keyed by dimension tag.
type ScoreMap map[string]DimensionScore

// soloDimensionQuestions maps the ten scored dimensions to the answers they
// read. Order matches the report's dimension order.
var soloDimensionQuestions = []struct {
	QuestionID string
	Dimension  string
}{
	{QuestionValuesHierarchy, "values"},
	{QuestionCostTolerance, "cost"},
	{"repair_capacity", "conflict"},
	{"emotional_labor", "load"},
	{QuestionClosenessNumeric, "attachment"},
	{"power_decisions", "power"},
	{"stress_behavior", "stress"},
	{"pattern_role", "pattern"},
	{"future_self", "future"},
	{"agency_choice", "agency"},
}

// duoSimilarityQuestions maps dimensions scored by answer overlap in duo mode.
var duoSimilarityQuestions = []struct {
	QuestionID string
	Dimension  string
	Confidence float64
}{
	{QuestionValuesHierarchy, "values", 0.5},
	{QuestionCostTolerance, "cost", 0.4},
	{"repair_capacity", "conflict", 0.4},
	{"power_decisions", "power", 0.4},
	{"stress_behavior", "stress", 0.4},
	{"agency_choice", "agency", 0.3},
}

// ScoreSolo computes completeness-based dimension scores from one respondent's
// latest answers, keyed by question id.
func ScoreSolo(latest map[string]string) ScoreMap {
	out := ScoreMap{}
	for _, m := range soloDimensionQuestions {
		score := missingScore
		if latest[m.QuestionID] != "" {
			score = soloPresenceScore
		}
		out[m.Dimension] = DimensionScore{
			Score:      score,
			Confidence: soloPresenceConfidence,
			Rationale:  "Based on presence of an answer.",
		}
	}
	// A numeric closeness anchor raises attachment above bare presence.
	if n, ok := FirstCloseness(latest[QuestionClosenessNumeric]); ok {
		out["attachment"] = DimensionScore{
			Score:      soloAttachmentScore,
			Confidence: soloAttachmentConfidence,
			Rationale:  fmt.Sprintf("Detected closeness ~%s/10.", formatNumber(n)),
		}
	}
	return out
}

// ScoreDuo combines numeric closeness gap and token overlap across the two
// respondents' latest answers, keyed by question id.
func ScoreDuo(a, b map[string]string) ScoreMap {
	out := ScoreMap{}
	for _, m := range duoSimilarityQuestions {
		out[m.Dimension] = DimensionScore{
			Score:      heuristicBase + heuristicSpan*textSimilarity(a[m.QuestionID], b[m.QuestionID]),
			Confidence: m.Confidence,
			Rationale:  "Token overlap heuristic.",
		}
	}

	ca, okA := FirstCloseness(a[QuestionClosenessNumeric])
	cb, okB := FirstCloseness(b[QuestionClosenessNumeric])
	if okA && okB {
		d := abs(ca - cb)
		score := attachmentFarScore
		switch {
		case d <= attachmentTightGap:
			score = attachmentTightScore
		case d <= attachmentNearGap:
			score = attachmentNearScore
		}
		out["attachment"] = DimensionScore{
			Score:      score,
			Confidence: 0.7,
			Rationale:  fmt.Sprintf("Closeness distance ~%s.", formatNumber(d)),
		}
	} else {
		out["attachment"] = DimensionScore{
			Score:      missingScore,
			Confidence: missingConfidence,
			Rationale:  "Missing numeric closeness.",
		}
	}
	return out
}

// OverallScore averages the strictly positive dimension scores. Zero/missing
// dimensions are excluded, not averaged in. Returns 0.0 when none qualify.
func OverallScore(scores ScoreMap) float64 {
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
	return sum / float64(n)
}

// formatNumber renders a float the way it reads in a rationale: "7" stays
// "7", "7.5" stays "7.5".
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
