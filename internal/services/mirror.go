package services

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Mirror-Moment thresholds.
const (
	// Primary answers required before the gate opens.
	mirrorAfterPrimaryAnswers = 5
	// Trimmed values answer at or above this length reads as a clear hierarchy.
	mirrorValuesStrongLen = 40
	// Trimmed cost answer at or above this length reads as a named cost.
	mirrorCostDetailLen = 20
)

// MirrorMoment is the one-time mid-session reflective checkpoint: three
// observations derived purely from already-submitted answers.
type MirrorMoment struct {
	Strength string `json:"strength"`
	Tension  string `json:"tension"`
	Cost     string `json:"cost"`
}

// BuildMirrorMoment derives the three observation lines from the latest
// answer texts, keyed by question id.
func BuildMirrorMoment(latest map[string]string) *MirrorMoment {
	m := &MirrorMoment{}

	values := strings.TrimSpace(latest[QuestionValuesHierarchy])
	if utf8.RuneCountInString(values) >= mirrorValuesStrongLen {
		m.Strength = "You named a clear values hierarchy — you already know which value tends to win when life forces a choice."
	} else {
		m.Strength = "You have a felt sense of your values, even if the hierarchy between them is still taking shape."
	}

	if n, ok := FirstCloseness(latest[QuestionClosenessNumeric]); ok {
		m.Tension = fmt.Sprintf("You want around %s/10 day-to-day closeness — and you can tell when it starts tipping into too much.", formatNumber(n))
	} else {
		m.Tension = "Your closeness need hasn't landed on a number yet — the line between enough and too much is still blurry."
	}

	cost := strings.TrimSpace(latest[QuestionCostTolerance])
	if utf8.RuneCountInString(cost) >= mirrorCostDetailLen {
		m.Cost = "You can name the discomfort you've been carrying to stay connected — that cost is visible to you."
	} else {
		m.Cost = "What staying connected costs you hasn't been put into words yet."
	}

	return m
}
