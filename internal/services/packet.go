package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Research packet limits and detector thresholds.
const (
	quotesPerDimension = 2
	quoteMaxLen        = 280
	deltaTextMaxLen    = 240

	// Pair closeness numbers at least this far apart read as a contradiction.
	closenessGapThreshold = 4.0
)

// Contradiction is a divergence signal surfaced to the report assembler.
type Contradiction struct {
	Who      string   `json:"who"`
	Headline string   `json:"headline"`
	Evidence []string `json:"evidence"`
}

// Delta records a change between the two most recent answers to a question.
type Delta struct {
	Respondent Respondent   `json:"respondent"`
	QuestionID string       `json:"question_id"`
	From       string       `json:"from"`
	To         string       `json:"to"`
	Timestamps [2]time.Time `json:"timestamps"`
}

// BuildKeyQuotes groups one quote per answered question by dimension, capped
// at two per dimension for prompt efficiency.
func BuildKeyQuotes(latestA, latestB map[string]string, mode Mode, bank *QuestionBank) map[string][]string {
	grouped := map[string][]string{}

	add := func(label string, answers map[string]string) {
		for _, q := range bank.Questions() {
			ans := strings.TrimSpace(answers[q.ID])
			if ans == "" {
				continue
			}
			grouped[q.Dimension] = append(grouped[q.Dimension], label+": "+truncate(ans, quoteMaxLen))
		}
	}

	if mode == ModeSolo {
		add("Solo", latestA)
	} else {
		add("A", latestA)
		add("B", latestB)
	}

	for dim, quotes := range grouped {
		if len(quotes) > quotesPerDimension {
			grouped[dim] = quotes[:quotesPerDimension]
		}
	}
	return grouped
}

// DetectContradictions runs the pair-level divergence checks. Both checks are
// additive and independent; missing data never produces a contradiction.
func DetectContradictions(latestA, latestB map[string]string, mode Mode) []Contradiction {
	out := []Contradiction{}
	if mode == ModeSolo {
		return out
	}

	// Closeness-gap check.
	ca, okA := FirstCloseness(latestA[QuestionClosenessNumeric])
	cb, okB := FirstCloseness(latestB[QuestionClosenessNumeric])
	if okA && okB && abs(ca-cb) >= closenessGapThreshold {
		out = append(out, Contradiction{
			Who:      "pair",
			Headline: "Closeness vs space needs appear far apart",
			Evidence: []string{
				fmt.Sprintf("A closeness number: %s", closenessEvidence(ca)),
				fmt.Sprintf("B closeness number: %s", closenessEvidence(cb)),
			},
		})
	}

	// Lexical polarity check over values + boundary answers, symmetric in
	// either direction.
	va := tokenSet(latestA[QuestionValuesHierarchy]+" "+latestA[QuestionBoundaryLine], contradictionTokenPattern)
	vb := tokenSet(latestB[QuestionValuesHierarchy]+" "+latestB[QuestionBoundaryLine], contradictionTokenPattern)
	if polarityMismatch(va, vb) || polarityMismatch(vb, va) {
		out = append(out, Contradiction{
			Who:      "pair",
			Headline: "Freedom vs structure could become a recurring negotiation",
			Evidence: []string{"One side emphasizes freedom; the other emphasizes control/structure (token check)."},
		})
	}

	return out
}

func polarityMismatch(freedomSide, structureSide map[string]struct{}) bool {
	if _, ok := freedomSide["freedom"]; !ok {
		return false
	}
	_, control := structureSide["control"]
	_, structure := structureSide["structure"]
	return control || structure
}

// ComputeDeltas fetches each question's last two stored answers and emits a
// delta when their trimmed texts differ. Fewer than two answers, or two that
// are identical after trimming, yield nothing.
func ComputeDeltas(store SessionStore, relationshipID string, respondent Respondent, questionIDs []string, limit int) ([]Delta, error) {
	if limit < 2 {
		limit = 2
	}
	deltas := []Delta{}
	for _, qid := range questionIDs {
		hist, err := store.GetAnswerHistory(relationshipID, respondent, qid, limit)
		if err != nil {
			return nil, err
		}
		if len(hist) < 2 {
			continue
		}
		newest, prev := hist[0], hist[1]
		if strings.TrimSpace(newest.Text) == strings.TrimSpace(prev.Text) {
			continue
		}
		deltas = append(deltas, Delta{
			Respondent: respondent,
			QuestionID: qid,
			From:       truncate(prev.Text, deltaTextMaxLen),
			To:         truncate(newest.Text, deltaTextMaxLen),
			Timestamps: [2]time.Time{prev.CreatedAt, newest.CreatedAt},
		})
	}
	return deltas, nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// closenessEvidence renders an extracted closeness number for evidence lines:
// whole numbers keep a trailing ".0" so 3 reads as "3.0".
func closenessEvidence(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
