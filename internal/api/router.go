package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dommolloy/seeus/internal/services"
)

// inviteHeader carries the signed invite link token on locked requests.
const inviteHeader = "X-Invite-Token"

type Router struct {
	store         Store
	bank          *services.QuestionBank
	relationships *services.RelationshipService
	invites       *services.InviteService
	sessions      *services.SessionService
	reports       *services.ReportService
	bugs          *services.BugService
	growth        *services.GrowthService
	llm           *services.LLMScoringService
	logger        *zap.Logger
}

// NewRouter wires the service graph over one Store. completer may be nil;
// LLM-backed endpoints then answer 502.
func NewRouter(store Store, bank *services.QuestionBank, inviteSecret []byte, completer services.ChatCompleter, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	invites := services.NewInviteService(store, inviteSecret)
	return &Router{
		store:         store,
		bank:          bank,
		relationships: services.NewRelationshipService(store),
		invites:       invites,
		sessions:      services.NewSessionService(store, bank, invites),
		reports:       services.NewReportService(store),
		bugs:          services.NewBugService(store),
		growth:        services.NewGrowthService(store),
		llm:           services.NewLLMScoringService(completer, bank),
		logger:        logger,
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/questions", rt.handleQuestions)          // GET
	mux.HandleFunc("/api/relationships", rt.handleRelationships)  // POST, GET
	mux.HandleFunc("/api/relationships/", rt.handleRelationshipScoped)
	mux.HandleFunc("/api/invites", rt.handleInvites)              // POST
	mux.HandleFunc("/api/sessions", rt.handleSessions)            // POST
	mux.HandleFunc("/api/sessions/resume", rt.handleResume)       // POST
	mux.HandleFunc("/api/sessions/", rt.handleSessionScoped)
	mux.HandleFunc("/api/bugs", rt.handleBugs)                    // POST, GET
	mux.HandleFunc("/api/bugs/metrics", rt.handleBugMetrics)      // GET
	mux.HandleFunc("/api/bugs/", rt.handleBugScoped)              // GET, PATCH
	mux.HandleFunc("/api/growth/checkins", rt.handleGrowthCheckins)       // POST, GET
	mux.HandleFunc("/api/growth/latest", rt.handleGrowthLatest)           // GET
	mux.HandleFunc("/api/growth/reflections", rt.handleGrowthReflections) // POST, GET
	mux.HandleFunc("/api/growth/prompt", rt.handleGrowthPrompt)           // GET
}

// --- helpers ---

func (rt *Router) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (rt *Router) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	msg := err.Error()
	if se, ok := services.AsServiceError(err); ok {
		code = string(se.Code)
		switch se.Code {
		case services.ErrorInvalid:
			status = http.StatusBadRequest
		case services.ErrorUnauthorized:
			status = http.StatusUnauthorized
		case services.ErrorForbidden, services.ErrorInvalidInvite:
			status = http.StatusForbidden
		case services.ErrorNotFound:
			status = http.StatusNotFound
		case services.ErrorConflict:
			status = http.StatusConflict
		case services.ErrorTooManyRequests:
			status = http.StatusTooManyRequests
		case services.ErrorBadGateway:
			status = http.StatusBadGateway
		}
	}
	if status >= 500 {
		rt.logger.Error("request failed", zap.String("code", code), zap.Error(err))
	}
	rt.writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

// lock resolves the optional invite header. A present but invalid token is
// fatal before any handler state is touched.
func (rt *Router) lock(r *http.Request) (*services.InviteLock, error) {
	return rt.invites.Resolve(r.Header.Get(inviteHeader))
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// latestTexts loads the newest answer per question for a respondent.
func (rt *Router) latestTexts(relationshipID string, respondent services.Respondent) (map[string]string, error) {
	rows, err := rt.store.GetLastAnswers(relationshipID, respondent, 200)
	if err != nil {
		return nil, err
	}
	return services.LatestAnswerTexts(rows), nil
}

// --- questions ---

// GET /api/questions?tone=xx
func (rt *Router) handleQuestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tone := services.ToneKey(r.URL.Query().Get("tone"))
	type outQuestion struct {
		ID        string `json:"id"`
		Dimension string `json:"dimension"`
		Primary   bool   `json:"is_primary"`
		Prompt    string `json:"prompt"`
	}
	qs := rt.bank.Questions()
	out := make([]outQuestion, 0, len(qs))
	for _, q := range qs {
		out = append(out, outQuestion{ID: q.ID, Dimension: q.Dimension, Primary: q.Primary, Prompt: q.Prompt(tone)})
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"tone": tone, "questions": out})
}

// --- relationships ---

func (rt *Router) handleRelationships(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			UserAID string `json:"user_a_id"`
			UserBID string `json:"user_b_id"`
			Label   string `json:"label"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			rt.writeError(w, services.NewInvalidError(err.Error()))
			return
		}
		rel, err := rt.relationships.Create(req.UserAID, req.UserBID, req.Label)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusCreated, rel)
	case http.MethodGet:
		include := r.URL.Query().Get("include_archived") == "1"
		rels, err := rt.relationships.List(include)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, map[string]any{"relationships": rels})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRelationshipScoped routes /api/relationships/{id}[/action].
func (rt *Router) handleRelationshipScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/relationships/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		rel, err := rt.relationships.Get(id)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, rel)
	case action == "archive" && r.Method == http.MethodPost:
		rt.handleArchive(w, r, id, true)
	case action == "restore" && r.Method == http.MethodPost:
		rt.handleArchive(w, r, id, false)
	case action == "score" && r.Method == http.MethodGet:
		rt.handleScore(w, r, id)
	case action == "score/llm" && r.Method == http.MethodPost:
		rt.handleScoreLLM(w, r, id)
	case action == "packet" && r.Method == http.MethodGet:
		rt.handlePacket(w, r, id)
	case action == "brief" && r.Method == http.MethodPost:
		rt.handleBrief(w, r, id)
	case action == "deltas" && r.Method == http.MethodGet:
		rt.handleDeltas(w, r, id)
	case action == "memory" && r.Method == http.MethodGet:
		rt.handleMemory(w, r, id)
	case action == "history" && r.Method == http.MethodGet:
		rt.handleHistory(w, r, id)
	case action == "export.csv" && r.Method == http.MethodGet:
		rt.handleExportCSV(w, r, id)
	case action == "reports/latest" && r.Method == http.MethodGet:
		rt.handleLatestReport(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) handleArchive(w http.ResponseWriter, r *http.Request, id string, archived bool) {
	lock, err := rt.lock(r)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	if archived {
		err = rt.relationships.Archive(id, lock)
	} else {
		err = rt.relationships.Restore(id, lock)
	}
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "archived": archived})
}

// --- invites ---

// POST /api/invites
func (rt *Router) handleInvites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		RelationshipID string              `json:"relationship_id"`
		Respondent     services.Respondent `json:"respondent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rt.writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	if _, err := rt.relationships.Get(req.RelationshipID); err != nil {
		rt.writeError(w, err)
		return
	}
	inv, token, err := rt.invites.Create(req.RelationshipID, req.Respondent)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusCreated, map[string]any{"invite": inv, "token": token})
}

// --- sessions ---

// POST /api/sessions
func (rt *Router) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	lock, err := rt.lock(r)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	var req struct {
		RelationshipID string        `json:"relationship_id"`
		Mode           services.Mode `json:"mode"`
		Tone           string        `json:"tone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rt.writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	if lock != nil {
		req.RelationshipID = lock.RelationshipID
	}
	sess, err := rt.sessions.Start(req.RelationshipID, req.Mode, services.ToneKey(req.Tone))
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusCreated, sess)
}

// POST /api/sessions/resume
func (rt *Router) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	lock, err := rt.lock(r)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	var req struct {
		RelationshipID string `json:"relationship_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rt.writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	if lock != nil {
		req.RelationshipID = lock.RelationshipID
	}
	sess, err := rt.sessions.Resume(req.RelationshipID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, sess)
}

// handleSessionScoped routes /api/sessions/{id}/action.
func (rt *Router) handleSessionScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) < 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	sessionID, action := parts[0], parts[1]

	lock, err := rt.lock(r)
	if err != nil {
		rt.writeError(w, err)
		return
	}

	switch {
	case action == "end" && r.Method == http.MethodPost:
		if err := rt.sessions.End(sessionID, lock); err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case action == "next" && r.Method == http.MethodGet:
		rt.handleNext(w, r, sessionID, lock)
	case action == "answers" && r.Method == http.MethodPost:
		rt.handleSubmitAnswer(w, r, sessionID, lock)
	case action == "mirror/confirm" && r.Method == http.MethodPost:
		rt.handleMirrorConfirm(w, r, sessionID, lock)
	case action == "mirror/correct" && r.Method == http.MethodPost:
		rt.handleMirrorCorrect(w, r, sessionID, lock)
	default:
		http.NotFound(w, r)
	}
}

// GET /api/sessions/{id}/next?respondent=A&tone=xx
func (rt *Router) handleNext(w http.ResponseWriter, r *http.Request, sessionID string, lock *services.InviteLock) {
	respondent := services.Respondent(r.URL.Query().Get("respondent"))
	if lock != nil {
		respondent = lock.Respondent
	}
	step, err := rt.sessions.NextStep(sessionID, respondent)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	out := map[string]any{"done": step.Done}
	if step.Mirror != nil {
		out["mirror"] = step.Mirror
	}
	if step.Question != nil {
		tone := services.ToneKey(r.URL.Query().Get("tone"))
		out["question"] = step.Question
		out["prompt"] = step.Question.Prompt(tone)
	}
	rt.writeJSON(w, http.StatusOK, out)
}

// POST /api/sessions/{id}/answers
func (rt *Router) handleSubmitAnswer(w http.ResponseWriter, r *http.Request, sessionID string, lock *services.InviteLock) {
	var req struct {
		RelationshipID string              `json:"relationship_id"`
		Respondent     services.Respondent `json:"respondent"`
		QuestionID     string              `json:"question_id"`
		Text           string              `json:"answer_text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rt.writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	if lock != nil {
		req.RelationshipID = lock.RelationshipID
		req.Respondent = lock.Respondent
	}
	ans, err := rt.sessions.SubmitAnswer(services.SubmitAnswerInput{
		SessionID:      sessionID,
		RelationshipID: req.RelationshipID,
		Respondent:     req.Respondent,
		QuestionID:     req.QuestionID,
		Text:           req.Text,
		Lock:           lock,
	})
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusCreated, ans)
}

// POST /api/sessions/{id}/mirror/confirm
func (rt *Router) handleMirrorConfirm(w http.ResponseWriter, r *http.Request, sessionID string, lock *services.InviteLock) {
	var req struct {
		Respondent services.Respondent `json:"respondent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rt.writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	if lock != nil {
		req.Respondent = lock.Respondent
	}
	if !services.ValidRespondent(req.Respondent) {
		rt.writeError(w, services.NewInvalidError("unknown respondent role"))
		return
	}
	rt.sessions.ConfirmMirror(sessionID, req.Respondent)
	rt.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// POST /api/sessions/{id}/mirror/correct
func (rt *Router) handleMirrorCorrect(w http.ResponseWriter, r *http.Request, sessionID string, lock *services.InviteLock) {
	var req struct {
		RelationshipID string              `json:"relationship_id"`
		Respondent     services.Respondent `json:"respondent"`
		Text           string              `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rt.writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	if lock != nil {
		req.RelationshipID = lock.RelationshipID
		req.Respondent = lock.Respondent
	}
	ans, err := rt.sessions.CorrectMirror(sessionID, req.RelationshipID, req.Respondent, req.Text, lock)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusCreated, ans)
}

// --- scoring & research ---

// GET /api/relationships/{id}/score?mode=duo
func (rt *Router) handleScore(w http.ResponseWriter, r *http.Request, relationshipID string) {
	mode := services.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = services.ModeSolo
	}
	scores, err := rt.heuristicScores(relationshipID, mode)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	headlines := services.BuildHeadlines(scores)
	content := map[string]any{"scores": scores, "headlines": headlines}
	if _, err := rt.reports.Save(relationshipID, services.ReportHeuristic, content); err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, content)
}

func (rt *Router) heuristicScores(relationshipID string, mode services.Mode) (services.ScoreMap, error) {
	if mode == services.ModeSolo {
		latest, err := rt.latestTexts(relationshipID, services.RespondentSolo)
		if err != nil {
			return nil, err
		}
		return services.ScoreSolo(latest), nil
	}
	latestA, err := rt.latestTexts(relationshipID, services.RespondentA)
	if err != nil {
		return nil, err
	}
	latestB, err := rt.latestTexts(relationshipID, services.RespondentB)
	if err != nil {
		return nil, err
	}
	return services.ScoreDuo(latestA, latestB), nil
}

type llmReportContent struct {
	Scores  []services.LLMScore `json:"scores"`
	Overall float64             `json:"overall"`
}

// POST /api/relationships/{id}/score/llm
func (rt *Router) handleScoreLLM(w http.ResponseWriter, r *http.Request, relationshipID string) {
	latestA, err := rt.latestTexts(relationshipID, services.RespondentA)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	latestB, err := rt.latestTexts(relationshipID, services.RespondentB)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	scores, err := rt.llm.ScoreDuoLLM(r.Context(), latestA, latestB)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	content := llmReportContent{Scores: scores, Overall: services.OverallFromLLM(scores)}
	if _, err := rt.reports.Save(relationshipID, services.ReportLLM, content); err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, content)
}

// GET /api/relationships/{id}/packet?mode=duo
func (rt *Router) handlePacket(w http.ResponseWriter, r *http.Request, relationshipID string) {
	mode := services.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = services.ModeDuo
	}
	packet, err := rt.buildPacket(relationshipID, mode)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, packet)
}

// buildPacket assembles the research packet: dimension scores (stored LLM
// scores when present, heuristic fallback otherwise), grouped quotes,
// contradictions, and per-question deltas.
func (rt *Router) buildPacket(relationshipID string, mode services.Mode) (*services.ResearchPacket, error) {
	respA, respB := services.RespondentA, services.RespondentB
	if mode == services.ModeSolo {
		respA, respB = services.RespondentSolo, services.RespondentSolo
	}
	latestA, err := rt.latestTexts(relationshipID, respA)
	if err != nil {
		return nil, err
	}
	latestB := map[string]string{}
	if mode == services.ModeDuo {
		latestB, err = rt.latestTexts(relationshipID, respB)
		if err != nil {
			return nil, err
		}
	}

	var dimScores []services.LLMScore
	if stored, err := rt.store.GetLatestReport(relationshipID, services.ReportLLM); err == nil && stored != nil {
		var content llmReportContent
		if json.Unmarshal(stored.Content, &content) == nil {
			dimScores = content.Scores
		}
	}
	if dimScores == nil {
		var heur services.ScoreMap
		if mode == services.ModeSolo {
			heur = services.ScoreSolo(latestA)
		} else {
			heur = services.ScoreDuo(latestA, latestB)
		}
		for _, dim := range services.DimensionOrder {
			if s, ok := heur[dim]; ok {
				dimScores = append(dimScores, services.LLMScore{
					Dimension: dim,
					Score:     s.Score,
					Rationale: s.Rationale,
				})
			}
		}
	}

	deltas := []services.Delta{}
	respondents := []services.Respondent{respA}
	if mode == services.ModeDuo {
		respondents = append(respondents, respB)
	}
	for _, resp := range respondents {
		ds, err := services.ComputeDeltas(rt.store, relationshipID, resp, rt.bank.PrimaryIDs(), 5)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, ds...)
	}

	return &services.ResearchPacket{
		Mode:            mode,
		DimensionScores: dimScores,
		KeyQuotes:       services.BuildKeyQuotes(latestA, latestB, mode, rt.bank),
		Contradictions:  services.DetectContradictions(latestA, latestB, mode),
		Deltas:          deltas,
	}, nil
}

// POST /api/relationships/{id}/brief?mode=duo
func (rt *Router) handleBrief(w http.ResponseWriter, r *http.Request, relationshipID string) {
	mode := services.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = services.ModeDuo
	}
	packet, err := rt.buildPacket(relationshipID, mode)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	brief, err := rt.llm.DeepResearch(r.Context(), *packet)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	if _, err := rt.reports.Save(relationshipID, services.ReportDeep, brief); err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, brief)
}

// GET /api/relationships/{id}/deltas?respondent=A&limit=5
func (rt *Router) handleDeltas(w http.ResponseWriter, r *http.Request, relationshipID string) {
	respondent := services.Respondent(r.URL.Query().Get("respondent"))
	if !services.ValidRespondent(respondent) {
		rt.writeError(w, services.NewInvalidError("unknown respondent role"))
		return
	}
	deltas, err := services.ComputeDeltas(rt.store, relationshipID, respondent, rt.bank.PrimaryIDs(), queryInt(r, "limit", 5))
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"deltas": deltas})
}

// GET /api/relationships/{id}/memory?respondent=A&limit=20
func (rt *Router) handleMemory(w http.ResponseWriter, r *http.Request, relationshipID string) {
	respondent := services.Respondent(r.URL.Query().Get("respondent"))
	if !services.ValidRespondent(respondent) {
		rt.writeError(w, services.NewInvalidError("unknown respondent role"))
		return
	}
	rows, err := rt.sessions.LastAnswers(relationshipID, respondent, queryInt(r, "limit", 20))
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"answers": rows})
}

// GET /api/relationships/{id}/history?respondent=A&question_id=xx&limit=10
func (rt *Router) handleHistory(w http.ResponseWriter, r *http.Request, relationshipID string) {
	respondent := services.Respondent(r.URL.Query().Get("respondent"))
	questionID := r.URL.Query().Get("question_id")
	if !services.ValidRespondent(respondent) {
		rt.writeError(w, services.NewInvalidError("unknown respondent role"))
		return
	}
	if questionID == "" {
		rt.writeError(w, services.NewInvalidError("question_id required"))
		return
	}
	rows, err := rt.sessions.AnswerHistory(relationshipID, respondent, questionID, queryInt(r, "limit", 10))
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"answers": rows})
}

// GET /api/relationships/{id}/export.csv
func (rt *Router) handleExportCSV(w http.ResponseWriter, r *http.Request, relationshipID string) {
	rows, err := rt.store.GetAnswersForRelationship(relationshipID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	b, err := services.ExportAnswersCSV(rows)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=answers.csv")
	_, _ = w.Write(b)
}

// GET /api/relationships/{id}/reports/latest?type=deep
func (rt *Router) handleLatestReport(w http.ResponseWriter, r *http.Request, relationshipID string) {
	rep, err := rt.reports.Latest(relationshipID, r.URL.Query().Get("type"))
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{
		"id":              rep.ID,
		"relationship_id": rep.RelationshipID,
		"report_type":     rep.Type,
		"created_at":      rep.CreatedAt,
		"content":         json.RawMessage(rep.Content),
	})
}

// --- bugs ---

func (rt *Router) handleBugs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Reporter    string `json:"reporter"`
			Severity    string `json:"severity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			rt.writeError(w, services.NewInvalidError(err.Error()))
			return
		}
		b, err := rt.bugs.Create(req.Title, req.Description, req.Reporter, req.Severity)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusCreated, b)
	case http.MethodGet:
		q := r.URL.Query()
		f := services.BugFilter{
			Status:     q.Get("status"),
			Severity:   q.Get("severity"),
			Assignee:   q.Get("assignee"),
			Unassigned: q.Get("unassigned") == "1",
			Search:     q.Get("search"),
			Limit:      queryInt(r, "limit", 200),
		}
		rows, err := rt.bugs.List(f)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, map[string]any{"bugs": rows})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /api/bugs/metrics
func (rt *Router) handleBugMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	counts, err := rt.bugs.Metrics()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, counts)
}

// handleBugScoped routes /api/bugs/{id}.
func (rt *Router) handleBugScoped(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/bugs/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		b, err := rt.bugs.Get(id)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, b)
	case http.MethodPatch:
		var req struct {
			Status          *string `json:"status"`
			Assignee        *string `json:"assignee"`
			ResolutionNotes *string `json:"resolution_notes"`
			Title           *string `json:"title"`
			Description     *string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			rt.writeError(w, services.NewInvalidError(err.Error()))
			return
		}
		b, err := rt.bugs.Update(id, services.BugUpdate{
			Status:          req.Status,
			Assignee:        req.Assignee,
			ResolutionNotes: req.ResolutionNotes,
			Title:           req.Title,
			Description:     req.Description,
		})
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, b)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- growth ---

func (rt *Router) handleGrowthCheckins(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			RelationshipID string              `json:"relationship_id"`
			Mode           services.Mode       `json:"mode"`
			Respondent     services.Respondent `json:"respondent"`
			MonthKey       string              `json:"month_key"`
			PatternText    string              `json:"pattern_text"`
			CostText       string              `json:"cost_text"`
			RepairChoice   string              `json:"repair_choice"`
			AgencyChoice   string              `json:"agency_choice"`
			ShiftText      string              `json:"shift_text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			rt.writeError(w, services.NewInvalidError(err.Error()))
			return
		}
		c, err := rt.growth.SaveCheckin(services.CheckinInput{
			RelationshipID: req.RelationshipID,
			Mode:           req.Mode,
			Respondent:     req.Respondent,
			MonthKey:       req.MonthKey,
			PatternText:    req.PatternText,
			CostText:       req.CostText,
			RepairChoice:   req.RepairChoice,
			AgencyChoice:   req.AgencyChoice,
			ShiftText:      req.ShiftText,
		})
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusCreated, c)
	case http.MethodGet:
		rows, err := rt.growth.Timeline(
			r.URL.Query().Get("relationship_id"),
			services.Respondent(r.URL.Query().Get("respondent")),
			queryInt(r, "limit", 50),
		)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, map[string]any{"checkins": rows})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /api/growth/latest?relationship_id=&respondent=
func (rt *Router) handleGrowthLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c, err := rt.growth.Latest(
		r.URL.Query().Get("relationship_id"),
		services.Respondent(r.URL.Query().Get("respondent")),
	)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"checkin": c})
}

func (rt *Router) handleGrowthReflections(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			RelationshipID string              `json:"relationship_id"`
			Respondent     services.Respondent `json:"respondent"`
			Response       string              `json:"response"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			rt.writeError(w, services.NewInvalidError(err.Error()))
			return
		}
		refl, err := rt.growth.SaveReflection(req.RelationshipID, req.Respondent, req.Response)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusCreated, refl)
	case http.MethodGet:
		rows, err := rt.growth.Reflections(
			r.URL.Query().Get("relationship_id"),
			services.Respondent(r.URL.Query().Get("respondent")),
			queryInt(r, "limit", 20),
		)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, map[string]any{"reflections": rows})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /api/growth/prompt
func (rt *Router) handleGrowthPrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"prompt": rt.growth.CurrentPrompt()})
}
