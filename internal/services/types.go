package services

import "time"

// Respondent identifies who is answering within a relationship.
type Respondent string

const (
	RespondentSolo Respondent = "solo"
	RespondentA    Respondent = "A"
	RespondentB    Respondent = "B"
)

// ValidRespondent reports whether r is one of the fixed roles.
func ValidRespondent(r Respondent) bool {
	return r == RespondentSolo || r == RespondentA || r == RespondentB
}

// Mode selects the sitting type for a session.
type Mode string

const (
	ModeSolo Mode = "solo"
	ModeDuo  Mode = "duo"
)

// Question is an immutable catalog entry in the question bank.
type Question struct {
	ID        string            `json:"id"`
	Dimension string            `json:"dimension"`
	Primary   bool              `json:"is_primary"`
	Numeric   bool              `json:"numeric,omitempty"`
	Branch    string            `json:"branch_target,omitempty"`
	Prompts   map[string]string `json:"prompts"`
	Signals   []string          `json:"signals,omitempty"`
}

// Relationship is a durable pairing record. The second participant is optional.
type Relationship struct {
	ID        string    `json:"id"`
	UserAID   string    `json:"user_a_id"`
	UserBID   string    `json:"user_b_id,omitempty"`
	Label     string    `json:"label,omitempty"`
	Archived  bool      `json:"archived,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one sitting of questionnaire activity. EndedAt is nil while open.
type Session struct {
	ID             string     `json:"id"`
	RelationshipID string     `json:"relationship_id"`
	Mode           Mode       `json:"mode"`
	Tone           string     `json:"tone,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Ended reports whether the session reached its terminal state.
func (s *Session) Ended() bool { return s != nil && s.EndedAt != nil }

// Answer is one submitted or skipped reply. Rows are append-only; the latest
// answer per (relationship, respondent, question) is derived by timestamp.
type Answer struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	RelationshipID string     `json:"relationship_id"`
	Respondent     Respondent `json:"respondent"`
	QuestionID     string     `json:"question_id"`
	Text           string     `json:"answer_text"`
	Dimension      string     `json:"dimension,omitempty"`
	Skipped        bool       `json:"skipped,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Invite binds a relationship id and a forced respondent role to a one-time
// token. Used is set on the first productive answer, not on creation.
type Invite struct {
	Token          string     `json:"token"`
	RelationshipID string     `json:"relationship_id"`
	Respondent     Respondent `json:"respondent"`
	Used           bool       `json:"used"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Report is a stored scoring/brief artifact for a relationship.
type Report struct {
	ID             string    `json:"id"`
	RelationshipID string    `json:"relationship_id"`
	Type           string    `json:"report_type"`
	CreatedAt      time.Time `json:"created_at"`
	Content        []byte    `json:"content"`
}

// LatestAnswerTexts collapses a newest-first answer list into a map of the
// most recent answer text per question id.
func LatestAnswerTexts(newestFirst []*Answer) map[string]string {
	out := map[string]string{}
	for i := len(newestFirst) - 1; i >= 0; i-- {
		r := newestFirst[i]
		out[r.QuestionID] = r.Text
	}
	return out
}

// AnsweredQuestionIDs returns the set of question ids present in rows.
func AnsweredQuestionIDs(rows []*Answer) map[string]bool {
	out := map[string]bool{}
	for _, r := range rows {
		out[r.QuestionID] = true
	}
	return out
}
