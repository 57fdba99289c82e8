package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/dommolloy/seeus/internal/services"
)

func newTestMux(t *testing.T, completer services.ChatCompleter) *http.ServeMux {
	t.Helper()
	rt := NewRouter(NewMemoryStore(), services.DefaultBank(), []byte("test-secret"), completer, zap.NewNop())
	mux := http.NewServeMux()
	rt.Register(mux)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// Substantive answers long enough to never trigger a branch.
var journeyAnswers = map[string]string{
	"values_hierarchy":  "Honesty wins over comfort in my actual decisions, even when it costs me.",
	"cost_tolerance":    "I have accepted being the one who always plans everything for years now.",
	"repair_capacity":   "I usually move first to repair, and if I don't we drift for weeks quietly.",
	"emotional_labor":   "I track birthdays, appointments, moods, and the emotional weather constantly.",
	"closeness_numeric": "I would say a 7 out of 10 feels right for day-to-day closeness for me.",
}

func TestFullAssessmentJourney(t *testing.T) {
	mux := newTestMux(t, nil)

	// Relationship.
	rec := doJSON(t, mux, http.MethodPost, "/api/relationships", map[string]string{
		"user_a_id": "u1", "user_b_id": "u2", "label": "us",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create relationship: %d %s", rec.Code, rec.Body.String())
	}
	var rel services.Relationship
	decodeBody(t, rec, &rel)

	// Invite for B.
	rec = doJSON(t, mux, http.MethodPost, "/api/invites", map[string]string{
		"relationship_id": rel.ID, "respondent": "B",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create invite: %d %s", rec.Code, rec.Body.String())
	}
	var invResp struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &invResp)
	inviteHeaders := map[string]string{inviteHeader: invResp.Token}

	// Session. A second start conflicts; resume re-attaches.
	rec = doJSON(t, mux, http.MethodPost, "/api/sessions", map[string]string{
		"relationship_id": rel.ID, "mode": "duo",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start session: %d %s", rec.Code, rec.Body.String())
	}
	var sess services.Session
	decodeBody(t, rec, &sess)

	rec = doJSON(t, mux, http.MethodPost, "/api/sessions", map[string]string{
		"relationship_id": rel.ID, "mode": "duo",
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second start = %d, want 409", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/sessions/resume", map[string]string{
		"relationship_id": rel.ID,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: %d", rec.Code)
	}
	var resumed services.Session
	decodeBody(t, rec, &resumed)
	if resumed.ID != sess.ID {
		t.Fatalf("resume returned session %q, want %q", resumed.ID, sess.ID)
	}

	// A answers the first five primaries; the engine serves them in order.
	for _, want := range []string{
		"values_hierarchy", "cost_tolerance", "repair_capacity", "emotional_labor", "closeness_numeric",
	} {
		rec = doJSON(t, mux, http.MethodGet, "/api/sessions/"+sess.ID+"/next?respondent=A", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("next: %d %s", rec.Code, rec.Body.String())
		}
		var step struct {
			Question *services.Question `json:"question"`
			Prompt   string             `json:"prompt"`
			Done     bool               `json:"done"`
		}
		decodeBody(t, rec, &step)
		if step.Question == nil || step.Question.ID != want {
			t.Fatalf("next question = %+v, want %s", step.Question, want)
		}
		if step.Prompt == "" {
			t.Fatalf("next for %s carried no rendered prompt", want)
		}

		rec = doJSON(t, mux, http.MethodPost, "/api/sessions/"+sess.ID+"/answers", map[string]string{
			"relationship_id": rel.ID, "respondent": "A",
			"question_id": want, "answer_text": journeyAnswers[want],
		}, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("answer %s: %d %s", want, rec.Code, rec.Body.String())
		}
	}

	// Fifth primary answered: the mirror gate holds until confirmed.
	rec = doJSON(t, mux, http.MethodGet, "/api/sessions/"+sess.ID+"/next?respondent=A", nil, nil)
	var gate struct {
		Mirror *services.MirrorMoment `json:"mirror"`
		Done   bool                   `json:"done"`
	}
	decodeBody(t, rec, &gate)
	if gate.Mirror == nil {
		t.Fatalf("mirror gate did not trigger: %s", rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/sessions/"+sess.ID+"/mirror/confirm", map[string]string{
		"respondent": "A",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mirror confirm: %d", rec.Code)
	}

	// After confirmation the engine moves on to the sixth primary.
	rec = doJSON(t, mux, http.MethodGet, "/api/sessions/"+sess.ID+"/next?respondent=A", nil, nil)
	var after struct {
		Question *services.Question `json:"question"`
	}
	decodeBody(t, rec, &after)
	if after.Question == nil || after.Question.ID != "power_decisions" {
		t.Fatalf("post-mirror question = %+v", after.Question)
	}

	// A thin answer queues the branch follow-up ahead of the primaries.
	rec = doJSON(t, mux, http.MethodPost, "/api/sessions/"+sess.ID+"/answers", map[string]string{
		"relationship_id": rel.ID, "respondent": "A",
		"question_id": "stress_behavior", "answer_text": "tired.",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("thin answer: %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodGet, "/api/sessions/"+sess.ID+"/next?respondent=A", nil, nil)
	decodeBody(t, rec, &after)
	if after.Question == nil || after.Question.ID != "stress_duration_followup" {
		t.Fatalf("branch head = %+v, want stress_duration_followup", after.Question)
	}

	// B joins through the invite link. The lock decides who they are; the
	// body cannot claim another role or relationship.
	rec = doJSON(t, mux, http.MethodGet, "/api/sessions/"+sess.ID+"/next", nil, inviteHeaders)
	decodeBody(t, rec, &after)
	if after.Question == nil || after.Question.ID != "values_hierarchy" {
		t.Fatalf("invited respondent starts at %+v", after.Question)
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/sessions/"+sess.ID+"/answers", map[string]string{
		"relationship_id": "spoofed", "respondent": "A",
		"question_id": "values_hierarchy", "answer_text": "Being wanted matters more to me than being right, almost every time.",
	}, inviteHeaders)
	if rec.Code != http.StatusCreated {
		t.Fatalf("invited answer: %d %s", rec.Code, rec.Body.String())
	}
	var locked services.Answer
	decodeBody(t, rec, &locked)
	if locked.Respondent != services.RespondentB || locked.RelationshipID != rel.ID {
		t.Fatalf("lock did not pin identity: %+v", locked)
	}

	// Invited participants cannot end the session or archive the relationship.
	rec = doJSON(t, mux, http.MethodPost, "/api/sessions/"+sess.ID+"/end", nil, inviteHeaders)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("invited end = %d, want 403", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodPost, "/api/relationships/"+rel.ID+"/archive", nil, inviteHeaders)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("invited archive = %d, want 403", rec.Code)
	}

	// Scoring persists a heuristic report retrievable afterwards.
	rec = doJSON(t, mux, http.MethodGet, "/api/relationships/"+rel.ID+"/score?mode=duo", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("score: %d %s", rec.Code, rec.Body.String())
	}
	var scored struct {
		Scores map[string]any `json:"scores"`
	}
	decodeBody(t, rec, &scored)
	if len(scored.Scores) == 0 {
		t.Fatalf("score returned no dimensions")
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/relationships/"+rel.ID+"/reports/latest?type=heuristic", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("latest report: %d %s", rec.Code, rec.Body.String())
	}

	// CSV export carries the relationship's answer log.
	rec = doJSON(t, mux, http.MethodGet, "/api/relationships/"+rel.ID+"/export.csv", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("export content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "values_hierarchy") {
		t.Errorf("export missing answers: %s", rec.Body.String())
	}

	// Ending is idempotent, and a new sitting can start afterwards.
	for i := 0; i < 2; i++ {
		rec = doJSON(t, mux, http.MethodPost, "/api/sessions/"+sess.ID+"/end", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("end #%d: %d", i+1, rec.Code)
		}
	}
	rec = doJSON(t, mux, http.MethodPost, "/api/sessions", map[string]string{
		"relationship_id": rel.ID, "mode": "duo",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("restart after end: %d %s", rec.Code, rec.Body.String())
	}
}

func TestErrorStatusMapping(t *testing.T) {
	mux := newTestMux(t, nil)

	tests := []struct {
		name    string
		method  string
		path    string
		body    any
		headers map[string]string
		want    int
	}{
		{
			name: "unknown relationship", method: http.MethodGet,
			path: "/api/relationships/nope", want: http.StatusNotFound,
		},
		{
			name: "bad session mode", method: http.MethodPost,
			path: "/api/sessions", body: map[string]string{"relationship_id": "r", "mode": "triple"},
			want: http.StatusBadRequest,
		},
		{
			name: "tampered invite token", method: http.MethodPost,
			path: "/api/sessions", body: map[string]string{"relationship_id": "r", "mode": "duo"},
			headers: map[string]string{inviteHeader: "not.a.jwt"},
			want:    http.StatusForbidden,
		},
		{
			name: "unknown report type", method: http.MethodGet,
			path: "/api/relationships/r/reports/latest?type=weekly", want: http.StatusBadRequest,
		},
		{
			name: "bad deltas respondent", method: http.MethodGet,
			path: "/api/relationships/r/deltas?respondent=X", want: http.StatusBadRequest,
		},
		{
			name: "resume with nothing open", method: http.MethodPost,
			path: "/api/sessions/resume", body: map[string]string{"relationship_id": "r"},
			want: http.StatusNotFound,
		},
		{
			name: "llm scoring without a client", method: http.MethodPost,
			path: "/api/relationships/r/score/llm", want: http.StatusBadGateway,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, mux, tc.method, tc.path, tc.body, tc.headers)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
			var errResp struct {
				Error string `json:"error"`
			}
			decodeBody(t, rec, &errResp)
			if errResp.Error == "" {
				t.Fatalf("error body missing code: %s", rec.Body.String())
			}
		})
	}
}

func TestQuestionsEndpointRendersTone(t *testing.T) {
	mux := newTestMux(t, nil)

	rec := doJSON(t, mux, http.MethodGet, "/api/questions?tone=no-sugarcoat", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("questions: %d", rec.Code)
	}
	var resp struct {
		Tone      string `json:"tone"`
		Questions []struct {
			ID     string `json:"id"`
			Prompt string `json:"prompt"`
		} `json:"questions"`
	}
	decodeBody(t, rec, &resp)
	if resp.Tone != "sharp" {
		t.Errorf("tone = %q", resp.Tone)
	}
	if len(resp.Questions) < 16 {
		t.Errorf("question count = %d", len(resp.Questions))
	}
	for _, q := range resp.Questions {
		if q.ID == "values_hierarchy" && !strings.Contains(q.Prompt, "no matter what you say you want") {
			t.Errorf("sharp prompt not rendered: %q", q.Prompt)
		}
	}
}

func TestBugEndpoints(t *testing.T) {
	mux := newTestMux(t, nil)

	rec := doJSON(t, mux, http.MethodPost, "/api/bugs", map[string]string{
		"title": "Mirror shows twice", "description": "confirm then resume", "reporter": "dom", "severity": "Critical",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create bug: %d %s", rec.Code, rec.Body.String())
	}
	var bug services.Bug
	decodeBody(t, rec, &bug)
	if bug.Status != services.BugStatusNew {
		t.Fatalf("new bug status = %q", bug.Status)
	}

	rec = doJSON(t, mux, http.MethodPatch, "/api/bugs/"+bug.ID, map[string]string{
		"status": services.BugStatusInProgress, "assignee": "sam",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch bug: %d %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &bug)
	if bug.Status != services.BugStatusInProgress || bug.Assignee != "sam" {
		t.Fatalf("patched bug = %+v", bug)
	}

	// Skipping the pipeline is rejected.
	rec = doJSON(t, mux, http.MethodPatch, "/api/bugs/"+bug.ID, map[string]string{
		"status": services.BugStatusClosed,
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("illegal transition = %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/bugs?status=In+Progress", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list bugs: %d", rec.Code)
	}
	var listed struct {
		Bugs []services.Bug `json:"bugs"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Bugs) != 1 {
		t.Fatalf("filtered list = %+v", listed.Bugs)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/bugs/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	var counts services.BugCounts
	decodeBody(t, rec, &counts)
	if counts.OpenCritical != 1 {
		t.Fatalf("open critical = %d", counts.OpenCritical)
	}
}

func TestGrowthEndpoints(t *testing.T) {
	mux := newTestMux(t, nil)

	rec := doJSON(t, mux, http.MethodPost, "/api/growth/checkins", map[string]string{
		"relationship_id": "rel1", "mode": "solo", "respondent": "solo",
		"pattern_text":  "I keep smoothing things over before anyone gets uncomfortable at all.",
		"cost_text":     "tired of carrying the calendar",
		"repair_choice": "Repaired quickly", "agency_choice": "Mixed",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create checkin: %d %s", rec.Code, rec.Body.String())
	}
	var checkin services.GrowthCheckin
	decodeBody(t, rec, &checkin)
	if checkin.Metrics.Clarity == 0 || checkin.MonthKey == "" {
		t.Fatalf("metrics not derived: %+v", checkin)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/growth/latest?relationship_id=rel1&respondent=solo", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("latest checkin: %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/growth/prompt", nil, nil)
	var promptResp struct {
		Prompt string `json:"prompt"`
	}
	decodeBody(t, rec, &promptResp)
	if promptResp.Prompt == "" {
		t.Fatalf("monthly prompt empty")
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/growth/reflections", map[string]string{
		"relationship_id": "rel1", "respondent": "solo",
		"response": "I stopped pretending the silence was fine.",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create reflection: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/growth/reflections?relationship_id=rel1", nil, nil)
	var refl struct {
		Reflections []services.GrowthReflection `json:"reflections"`
	}
	decodeBody(t, rec, &refl)
	if len(refl.Reflections) != 1 || refl.Reflections[0].PromptText != promptResp.Prompt {
		t.Fatalf("reflections = %+v", refl.Reflections)
	}
}

func TestArchiveHidesRelationshipFromDefaultList(t *testing.T) {
	mux := newTestMux(t, nil)

	rec := doJSON(t, mux, http.MethodPost, "/api/relationships", map[string]string{"user_a_id": "u1"}, nil)
	var rel services.Relationship
	decodeBody(t, rec, &rel)

	rec = doJSON(t, mux, http.MethodPost, "/api/relationships/"+rel.ID+"/archive", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("archive: %d %s", rec.Code, rec.Body.String())
	}

	var listed struct {
		Relationships []services.Relationship `json:"relationships"`
	}
	rec = doJSON(t, mux, http.MethodGet, "/api/relationships", nil, nil)
	decodeBody(t, rec, &listed)
	if len(listed.Relationships) != 0 {
		t.Fatalf("archived relationship still listed: %+v", listed.Relationships)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/relationships?include_archived=1", nil, nil)
	decodeBody(t, rec, &listed)
	if len(listed.Relationships) != 1 {
		t.Fatalf("include_archived list = %+v", listed.Relationships)
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/relationships/"+rel.ID+"/restore", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("restore: %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodGet, "/api/relationships", nil, nil)
	decodeBody(t, rec, &listed)
	if len(listed.Relationships) != 1 {
		t.Fatalf("restored relationship missing: %+v", listed.Relationships)
	}
}
