package services

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tone keys for prompt variants. Every question carries a default prompt;
// variant lookups fall back to it.
const (
	ToneDefault = "default"
	ToneGentle  = "gentle"
	ToneClear   = "clear"
	ToneSharp   = "sharp"
)

// ToneKey maps a free-form tone profile label to a prompt variant key.
func ToneKey(label string) string {
	t := strings.ToLower(label)
	switch {
	case strings.Contains(t, "sugar"), strings.Contains(t, "sharp"):
		return ToneSharp
	case strings.Contains(t, "clear"), strings.Contains(t, "direct"):
		return ToneClear
	case strings.Contains(t, "gentle"):
		return ToneGentle
	}
	return ToneDefault
}

// Prompt returns the tone-variant prompt text, falling back to the default.
func (q *Question) Prompt(tone string) string {
	if q == nil {
		return ""
	}
	if p := q.Prompts[ToneKey(tone)]; p != "" {
		return p
	}
	return q.Prompts[ToneDefault]
}

// QuestionBank is the ordered, read-only question catalog for a process.
// It is validated once at load time and never mutated afterwards.
type QuestionBank struct {
	questions  []*Question
	byID       map[string]*Question
	primaryIDs []string
}

// NewQuestionBank validates the given questions and builds a bank.
// Validation failures are fatal: the caller must abort startup.
func NewQuestionBank(questions []*Question) (*QuestionBank, error) {
	if len(questions) == 0 {
		return nil, NewInvalidError("question bank is empty")
	}
	byID := make(map[string]*Question, len(questions))
	for _, q := range questions {
		if strings.TrimSpace(q.ID) == "" {
			return nil, NewInvalidError("question with empty id")
		}
		if _, dup := byID[q.ID]; dup {
			return nil, NewInvalidError(fmt.Sprintf("duplicate question id: %s", q.ID))
		}
		if q.Prompts[ToneDefault] == "" {
			return nil, NewInvalidError(fmt.Sprintf("question %s has no default prompt", q.ID))
		}
		byID[q.ID] = q
	}
	primary := make([]string, 0, len(questions))
	for _, q := range questions {
		if q.Branch != "" {
			if q.Branch == q.ID {
				return nil, NewInvalidError(fmt.Sprintf("question %s branches to itself", q.ID))
			}
			if _, ok := byID[q.Branch]; !ok {
				return nil, NewInvalidError(fmt.Sprintf("question %s branches to unknown id %s", q.ID, q.Branch))
			}
		}
		if q.Primary {
			primary = append(primary, q.ID)
		}
	}
	// Reject cycles across branch chains: no question may reach itself by
	// following branch_target pointers.
	for _, q := range questions {
		seen := map[string]bool{q.ID: true}
		for cur := byID[q.ID]; cur.Branch != ""; cur = byID[cur.Branch] {
			if seen[cur.Branch] {
				return nil, NewInvalidError(fmt.Sprintf("branch cycle through question %s", cur.Branch))
			}
			seen[cur.Branch] = true
		}
	}
	return &QuestionBank{questions: questions, byID: byID, primaryIDs: primary}, nil
}

// LoadBankJSON parses and validates a JSON question list.
func LoadBankJSON(data []byte) (*QuestionBank, error) {
	var qs []*Question
	if err := json.Unmarshal(data, &qs); err != nil {
		return nil, NewInvalidError("invalid question bank json: " + err.Error())
	}
	return NewQuestionBank(qs)
}

// Question returns the catalog entry for id, or nil.
func (b *QuestionBank) Question(id string) *Question { return b.byID[id] }

// Questions returns the bank in catalog order.
func (b *QuestionBank) Questions() []*Question {
	return append([]*Question(nil), b.questions...)
}

// PrimaryIDs returns primary question ids in catalog order.
func (b *QuestionBank) PrimaryIDs() []string {
	return append([]string(nil), b.primaryIDs...)
}

// Dimension returns the dimension tag for a question id, or "other".
func (b *QuestionBank) Dimension(questionID string) string {
	if q := b.byID[questionID]; q != nil {
		return q.Dimension
	}
	return "other"
}
