package services

import (
	"strings"
	"unicode/utf8"
)

// branchTriggerMaxLen is the "answer too thin to be useful" threshold: a
// trimmed answer strictly shorter than this triggers the parent's branch.
// Skips (empty text) always trigger.
const branchTriggerMaxLen = 30

// SessionRuntimeState is the transient per-(session, respondent) state: the
// pending branch queue, the set of dimensions that already triggered a branch,
// and the Mirror-Moment acknowledgement. It lives in memory only; after a
// restart the deterministic trigger rule recomputes pending branches from
// stored answers.
type SessionRuntimeState struct {
	SessionID      string
	Respondent     Respondent
	Queue          []string
	UsedBranchDims map[string]bool
	MirrorAcked    bool
}

func newSessionRuntimeState(sessionID string, respondent Respondent) *SessionRuntimeState {
	return &SessionRuntimeState{
		SessionID:      sessionID,
		Respondent:     respondent,
		UsedBranchDims: map[string]bool{},
	}
}

// Head returns the pending branch question at the front of the queue.
func (st *SessionRuntimeState) Head() (string, bool) {
	if len(st.Queue) == 0 {
		return "", false
	}
	return st.Queue[0], true
}

// PopIfHead removes the queue head only when it matches the just-answered
// question id. The check guards against reordering races between two tabs.
func (st *SessionRuntimeState) PopIfHead(questionID string) bool {
	if len(st.Queue) == 0 || st.Queue[0] != questionID {
		return false
	}
	st.Queue = st.Queue[1:]
	return true
}

func (st *SessionRuntimeState) queued(questionID string) bool {
	for _, id := range st.Queue {
		if id == questionID {
			return true
		}
	}
	return false
}

// branchTriggered reports whether the submitted answer text is thin enough to
// warrant the parent's follow-up.
func branchTriggered(answerText string) bool {
	trimmed := strings.TrimSpace(answerText)
	return utf8.RuneCountInString(trimmed) < branchTriggerMaxLen
}

// EnqueueBranch inspects the answered question's branch target and appends it
// to the respondent's queue when the trigger fires. A target is enqueued only
// if its dimension has not already triggered a branch in this session, it is
// not already queued, and the respondent has not already answered it. At most
// one pending branch exists per dimension per respondent.
func EnqueueBranch(st *SessionRuntimeState, answered *Question, answerText string, answeredIDs map[string]bool, bank *QuestionBank) bool {
	if answered == nil || answered.Branch == "" {
		return false
	}
	if !branchTriggered(answerText) {
		return false
	}
	target := bank.Question(answered.Branch)
	if target == nil {
		return false
	}
	if st.UsedBranchDims[target.Dimension] {
		return false
	}
	if st.queued(target.ID) || answeredIDs[target.ID] {
		return false
	}
	st.Queue = append(st.Queue, target.ID)
	st.UsedBranchDims[target.Dimension] = true
	return true
}
