package services

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrOpenSessionExists is returned by stores when a session insert loses the
// compare-and-set against the relationship's single open-session slot.
var ErrOpenSessionExists = errors.New("an open session already exists for this relationship")

// SessionStore abstracts the answer/session repository. All reads return
// newest-first except GetAnswersForSession, which is chronological.
type SessionStore interface {
	CreateSession(s *Session) error
	GetOpenSession(relationshipID string) (*Session, error)
	EndSession(sessionID string, endedAt time.Time) error
	SaveResponse(a *Answer) error
	GetAnswersForSession(sessionID string) ([]*Answer, error)
	GetLastAnswers(relationshipID string, respondent Respondent, limit int) ([]*Answer, error)
	GetAnswerHistory(relationshipID string, respondent Respondent, questionID string, limit int) ([]*Answer, error)
}

// InviteMarker flags an invite used after its first answer.
type InviteMarker interface {
	MarkUsed(token string) error
}

// SessionStep is what the engine asks the caller to present next: exactly one
// of Mirror or Question is set, or Done is true. Done is a per-respondent
// terminal condition; the session itself stays open until ended explicitly.
type SessionStep struct {
	Mirror   *MirrorMoment `json:"mirror,omitempty"`
	Question *Question     `json:"question,omitempty"`
	Done     bool          `json:"done"`
}

// SubmitAnswerInput carries one reply into the engine. Empty text encodes a
// skip. Lock is present when the caller is invite-locked.
type SubmitAnswerInput struct {
	SessionID      string
	RelationshipID string
	Respondent     Respondent
	QuestionID     string
	Text           string
	Lock           *InviteLock
}

// SessionService owns the session lifecycle, question sequencing, and the
// per-(session, respondent) runtime state it hands to the branch queue.
type SessionService struct {
	store   SessionStore
	bank    *QuestionBank
	invites InviteMarker

	mu      sync.Mutex
	runtime map[runtimeKey]*SessionRuntimeState

	now   func() time.Time
	idGen func() string
}

type runtimeKey struct {
	sessionID  string
	respondent Respondent
}

func NewSessionService(store SessionStore, bank *QuestionBank, invites InviteMarker) *SessionService {
	return &SessionService{
		store:   store,
		bank:    bank,
		invites: invites,
		runtime: map[runtimeKey]*SessionRuntimeState{},
		now:     func() time.Time { return time.Now().UTC() },
		idGen:   uuid.NewString,
	}
}

// Start opens a new session for the relationship. The store insert is the
// compare-and-set against the open-session slot: when two callers race,
// exactly one wins and the other sees a conflict error pointing at the
// existing session.
func (s *SessionService) Start(relationshipID string, mode Mode, tone string) (*Session, error) {
	if strings.TrimSpace(relationshipID) == "" {
		return nil, NewInvalidError("relationship_id required")
	}
	if mode != ModeSolo && mode != ModeDuo {
		return nil, NewInvalidError("mode must be solo or duo")
	}
	sess := &Session{
		ID:             s.idGen(),
		RelationshipID: relationshipID,
		Mode:           mode,
		Tone:           tone,
		StartedAt:      s.now(),
	}
	if err := s.store.CreateSession(sess); err != nil {
		if errors.Is(err, ErrOpenSessionExists) {
			return nil, NewConflictError(err.Error())
		}
		return nil, err
	}
	return sess, nil
}

// Resume re-attaches the caller to the relationship's open session. It is a
// no-op state transition.
func (s *SessionService) Resume(relationshipID string) (*Session, error) {
	sess, err := s.store.GetOpenSession(relationshipID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, NewNotFoundError("no open session for this relationship")
	}
	return sess, nil
}

// End closes the session. Calling it twice is a no-op, not an error.
// Invite-locked callers are never permitted to end a session: that is an
// authorization rule checked before any mutation.
func (s *SessionService) End(sessionID string, lock *InviteLock) error {
	if lock != nil {
		return NewForbiddenError("invited participants cannot end a session")
	}
	if strings.TrimSpace(sessionID) == "" {
		return NewInvalidError("session_id required")
	}
	return s.store.EndSession(sessionID, s.now())
}

// Runtime returns (creating on first use) the transient state for the
// (session, respondent) pair.
func (s *SessionService) Runtime(sessionID string, respondent Respondent) *SessionRuntimeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runtimeKey{sessionID, respondent}
	st, ok := s.runtime[key]
	if !ok {
		st = newSessionRuntimeState(sessionID, respondent)
		s.runtime[key] = st
	}
	return st
}

// NextStep computes what the respondent sees next: the Mirror-Moment gate
// once it triggers and until acknowledged, else the branch-queue head, else
// the first unanswered primary in bank order, else done.
func (s *SessionService) NextStep(sessionID string, respondent Respondent) (*SessionStep, error) {
	if !ValidRespondent(respondent) {
		return nil, NewInvalidError("unknown respondent role")
	}
	rows, err := s.respondentAnswers(sessionID, respondent)
	if err != nil {
		return nil, err
	}
	answered := AnsweredQuestionIDs(rows)
	rt := s.Runtime(sessionID, respondent)

	if !rt.MirrorAcked && s.primaryAnswered(answered) >= mirrorAfterPrimaryAnswers {
		latest := map[string]string{}
		for _, r := range rows { // chronological, newest wins
			latest[r.QuestionID] = r.Text
		}
		return &SessionStep{Mirror: BuildMirrorMoment(latest)}, nil
	}

	if head, ok := rt.Head(); ok {
		if q := s.bank.Question(head); q != nil {
			return &SessionStep{Question: q}, nil
		}
	}
	for _, id := range s.bank.PrimaryIDs() {
		if !answered[id] {
			return &SessionStep{Question: s.bank.Question(id)}, nil
		}
	}
	return &SessionStep{Done: true}, nil
}

// SubmitAnswer persists one reply, marks the invite used for locked callers,
// advances the branch queue head, and evaluates the branch trigger.
func (s *SessionService) SubmitAnswer(in SubmitAnswerInput) (*Answer, error) {
	if !ValidRespondent(in.Respondent) {
		return nil, NewInvalidError("unknown respondent role")
	}
	q := s.bank.Question(in.QuestionID)
	if q == nil {
		return nil, NewNotFoundError("unknown question id: " + in.QuestionID)
	}
	ans := &Answer{
		ID:             s.idGen(),
		SessionID:      in.SessionID,
		RelationshipID: in.RelationshipID,
		Respondent:     in.Respondent,
		QuestionID:     q.ID,
		Text:           in.Text,
		Dimension:      q.Dimension,
		Skipped:        strings.TrimSpace(in.Text) == "",
		CreatedAt:      s.now(),
	}
	if err := s.store.SaveResponse(ans); err != nil {
		return nil, err
	}
	if in.Lock != nil && s.invites != nil {
		if err := s.invites.MarkUsed(in.Lock.Token); err != nil {
			return nil, err
		}
	}

	rows, err := s.respondentAnswers(in.SessionID, in.Respondent)
	if err != nil {
		return nil, err
	}
	rt := s.Runtime(in.SessionID, in.Respondent)
	rt.PopIfHead(q.ID)
	EnqueueBranch(rt, q, in.Text, AnsweredQuestionIDs(rows), s.bank)
	return ans, nil
}

// ConfirmMirror closes the gate for the respondent. It is never re-shown,
// even across resumes.
func (s *SessionService) ConfirmMirror(sessionID string, respondent Respondent) {
	s.Runtime(sessionID, respondent).MirrorAcked = true
}

// CorrectMirror stores a free-text correction as a synthetic answer under the
// reserved meta question, then closes the gate.
func (s *SessionService) CorrectMirror(sessionID, relationshipID string, respondent Respondent, text string, lock *InviteLock) (*Answer, error) {
	ans, err := s.SubmitAnswer(SubmitAnswerInput{
		SessionID:      sessionID,
		RelationshipID: relationshipID,
		Respondent:     respondent,
		QuestionID:     QuestionMirrorCorrection,
		Text:           text,
		Lock:           lock,
	})
	if err != nil {
		return nil, err
	}
	s.ConfirmMirror(sessionID, respondent)
	return ans, nil
}

// LastAnswers exposes the relationship's latest answers for a respondent,
// newest first.
func (s *SessionService) LastAnswers(relationshipID string, respondent Respondent, limit int) ([]*Answer, error) {
	return s.store.GetLastAnswers(relationshipID, respondent, limit)
}

// AnswerHistory exposes per-question history, newest first.
func (s *SessionService) AnswerHistory(relationshipID string, respondent Respondent, questionID string, limit int) ([]*Answer, error) {
	return s.store.GetAnswerHistory(relationshipID, respondent, questionID, limit)
}

func (s *SessionService) respondentAnswers(sessionID string, respondent Respondent) ([]*Answer, error) {
	rows, err := s.store.GetAnswersForSession(sessionID)
	if err != nil {
		return nil, err
	}
	out := rows[:0:0]
	for _, r := range rows {
		if r.Respondent == respondent {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *SessionService) primaryAnswered(answered map[string]bool) int {
	n := 0
	for _, id := range s.bank.PrimaryIDs() {
		if answered[id] {
			n++
		}
	}
	return n
}
