package db

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dommolloy/seeus/internal/services"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	database, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := RunMigrations(database, ""); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := NewSQLiteStore(database)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func at(sec int) time.Time {
	return time.Date(2026, 6, 1, 12, 0, sec, 0, time.UTC)
}

func TestOpenSessionSlot(t *testing.T) {
	store := newTestStore(t)

	first := &services.Session{ID: "s1", RelationshipID: "rel1", Mode: services.ModeDuo, StartedAt: at(0)}
	if err := store.CreateSession(first); err != nil {
		t.Fatalf("create first: %v", err)
	}

	// The partial unique index arbitrates the race: the second insert loses.
	second := &services.Session{ID: "s2", RelationshipID: "rel1", Mode: services.ModeDuo, StartedAt: at(1)}
	if err := store.CreateSession(second); !errors.Is(err, services.ErrOpenSessionExists) {
		t.Fatalf("second create err = %v", err)
	}

	// A different relationship is unaffected.
	other := &services.Session{ID: "s3", RelationshipID: "rel2", Mode: services.ModeSolo, StartedAt: at(1)}
	if err := store.CreateSession(other); err != nil {
		t.Fatalf("other relationship: %v", err)
	}

	open, err := store.GetOpenSession("rel1")
	if err != nil || open == nil || open.ID != "s1" {
		t.Fatalf("open session = %+v, %v", open, err)
	}

	if err := store.EndSession("s1", at(10)); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := store.EndSession("s1", at(20)); err != nil {
		t.Fatalf("second end should be a no-op: %v", err)
	}
	if err := store.EndSession("missing", at(10)); err == nil {
		t.Fatalf("ending an unknown session should fail")
	}

	open, err = store.GetOpenSession("rel1")
	if err != nil || open != nil {
		t.Fatalf("slot not freed: %+v, %v", open, err)
	}
	if err := store.CreateSession(second); err != nil {
		t.Fatalf("slot should reopen after end: %v", err)
	}
}

func TestAnswerReads(t *testing.T) {
	store := newTestStore(t)

	rows := []*services.Answer{
		{ID: "a1", SessionID: "s1", RelationshipID: "rel1", Respondent: services.RespondentA,
			QuestionID: "values_hierarchy", Text: "honesty", Dimension: "values", CreatedAt: at(1)},
		{ID: "a2", SessionID: "s1", RelationshipID: "rel1", Respondent: services.RespondentB,
			QuestionID: "values_hierarchy", Text: "loyalty", Dimension: "values", CreatedAt: at(2)},
		{ID: "a3", SessionID: "s1", RelationshipID: "rel1", Respondent: services.RespondentA,
			QuestionID: "cost_tolerance", Text: "", Dimension: "cost", Skipped: true, CreatedAt: at(3)},
		{ID: "a4", SessionID: "s2", RelationshipID: "rel1", Respondent: services.RespondentA,
			QuestionID: "values_hierarchy", Text: "honesty, still", Dimension: "values", CreatedAt: at(4)},
	}
	for _, a := range rows {
		if err := store.SaveResponse(a); err != nil {
			t.Fatalf("save %s: %v", a.ID, err)
		}
	}

	chrono, err := store.GetAnswersForSession("s1")
	if err != nil || len(chrono) != 3 {
		t.Fatalf("session answers = %d, %v", len(chrono), err)
	}
	if chrono[0].ID != "a1" || chrono[2].ID != "a3" {
		t.Fatalf("session answers out of order: %s..%s", chrono[0].ID, chrono[2].ID)
	}
	if !chrono[2].Skipped {
		t.Fatalf("skipped flag lost")
	}

	last, err := store.GetLastAnswers("rel1", services.RespondentA, 10)
	if err != nil || len(last) != 3 {
		t.Fatalf("last answers = %d, %v", len(last), err)
	}
	if last[0].ID != "a4" {
		t.Fatalf("newest first expected, got %s", last[0].ID)
	}

	hist, err := store.GetAnswerHistory("rel1", services.RespondentA, "values_hierarchy", 10)
	if err != nil || len(hist) != 2 {
		t.Fatalf("history = %d, %v", len(hist), err)
	}
	if hist[0].ID != "a4" || hist[1].ID != "a1" {
		t.Fatalf("history order = %s, %s", hist[0].ID, hist[1].ID)
	}

	all, err := store.GetAnswersForRelationship("rel1")
	if err != nil || len(all) != 4 {
		t.Fatalf("relationship answers = %d, %v", len(all), err)
	}
	if all[0].CreatedAt.Unix() != at(4).Unix() {
		t.Fatalf("relationship answers not newest first")
	}
}

func TestRelationshipArchiveList(t *testing.T) {
	store := newTestStore(t)

	if err := store.CreateRelationship(&services.Relationship{ID: "r1", UserAID: "u1", CreatedAt: at(1)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateRelationship(&services.Relationship{ID: "r2", UserAID: "u1", UserBID: "u2", Label: "us", CreatedAt: at(2)}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.SetRelationshipArchived("r1", true); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := store.SetRelationshipArchived("missing", true); err == nil {
		t.Fatalf("archiving an unknown relationship should fail")
	}

	active, err := store.ListRelationships(false)
	if err != nil || len(active) != 1 || active[0].ID != "r2" {
		t.Fatalf("active list = %+v, %v", active, err)
	}
	if active[0].UserBID != "u2" || active[0].Label != "us" {
		t.Fatalf("optional columns lost: %+v", active[0])
	}

	all, err := store.ListRelationships(true)
	if err != nil || len(all) != 2 {
		t.Fatalf("full list = %d, %v", len(all), err)
	}

	got, err := store.GetRelationship("r1")
	if err != nil || got == nil || !got.Archived {
		t.Fatalf("get archived = %+v, %v", got, err)
	}
	if missing, err := store.GetRelationship("nope"); err != nil || missing != nil {
		t.Fatalf("missing relationship = %+v, %v", missing, err)
	}
}

func TestInviteRoundTrip(t *testing.T) {
	store := newTestStore(t)

	inv := &services.Invite{Token: "tok1", RelationshipID: "rel1", Respondent: services.RespondentB, CreatedAt: at(1)}
	if err := store.CreateInvite(inv); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.GetInvite("tok1")
	if err != nil || got == nil || got.Respondent != services.RespondentB || got.Used {
		t.Fatalf("invite = %+v, %v", got, err)
	}
	if missing, err := store.GetInvite("nope"); err != nil || missing != nil {
		t.Fatalf("missing invite = %+v, %v", missing, err)
	}

	if err := store.MarkInviteUsed("tok1"); err != nil {
		t.Fatalf("mark used: %v", err)
	}
	if err := store.MarkInviteUsed("tok1"); err != nil {
		t.Fatalf("marking again should stay a no-op: %v", err)
	}
	if err := store.MarkInviteUsed("nope"); err == nil {
		t.Fatalf("marking an unknown invite should fail")
	}

	got, _ = store.GetInvite("tok1")
	if !got.Used {
		t.Fatalf("used flag not persisted")
	}
}

func TestReportLatest(t *testing.T) {
	store := newTestStore(t)

	reports := []*services.Report{
		{ID: "p1", RelationshipID: "rel1", Type: services.ReportHeuristic, Content: []byte(`{"v":1}`), CreatedAt: at(1)},
		{ID: "p2", RelationshipID: "rel1", Type: services.ReportHeuristic, Content: []byte(`{"v":2}`), CreatedAt: at(2)},
		{ID: "p3", RelationshipID: "rel1", Type: services.ReportDeep, Content: []byte(`{"v":3}`), CreatedAt: at(3)},
	}
	for _, r := range reports {
		if err := store.SaveReport(r); err != nil {
			t.Fatalf("save %s: %v", r.ID, err)
		}
	}

	got, err := store.GetLatestReport("rel1", services.ReportHeuristic)
	if err != nil || got == nil || got.ID != "p2" {
		t.Fatalf("latest heuristic = %+v, %v", got, err)
	}
	if string(got.Content) != `{"v":2}` {
		t.Fatalf("content = %s", got.Content)
	}
	if missing, err := store.GetLatestReport("rel1", services.ReportLLM); err != nil || missing != nil {
		t.Fatalf("missing type = %+v, %v", missing, err)
	}
}

func TestBugPersistence(t *testing.T) {
	store := newTestStore(t)

	bugs := []*services.Bug{
		{ID: "b1", Title: "Queue stalls", Description: "head never pops", Reporter: "dom",
			Severity: "Critical", Status: services.BugStatusNew, CreatedAt: at(1), UpdatedAt: at(1)},
		{ID: "b2", Title: "CSV header off", Severity: "Low", Status: services.BugStatusNew,
			Assignee: "sam", CreatedAt: at(2), UpdatedAt: at(2)},
	}
	for _, b := range bugs {
		if err := store.SaveBug(b); err != nil {
			t.Fatalf("save %s: %v", b.ID, err)
		}
	}

	b1, err := store.GetBug("b1")
	if err != nil || b1 == nil || b1.Reporter != "dom" {
		t.Fatalf("get = %+v, %v", b1, err)
	}
	if missing, err := store.GetBug("nope"); err != nil || missing != nil {
		t.Fatalf("missing bug = %+v, %v", missing, err)
	}

	b1.Status = services.BugStatusInProgress
	b1.Assignee = "sam"
	b1.UpdatedAt = at(5)
	if err := store.UpdateBug(b1); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.UpdateBug(&services.Bug{ID: "nope"}); err == nil {
		t.Fatalf("updating an unknown bug should fail")
	}

	byStatus, err := store.ListBugs(services.BugFilter{Status: services.BugStatusInProgress})
	if err != nil || len(byStatus) != 1 || byStatus[0].ID != "b1" {
		t.Fatalf("status filter = %+v, %v", byStatus, err)
	}
	unassigned, err := store.ListBugs(services.BugFilter{Unassigned: true})
	if err != nil || len(unassigned) != 0 {
		t.Fatalf("unassigned filter = %+v, %v", unassigned, err)
	}
	bySearch, err := store.ListBugs(services.BugFilter{Search: "csv"})
	if err != nil || len(bySearch) != 1 || bySearch[0].ID != "b2" {
		t.Fatalf("search filter = %+v, %v", bySearch, err)
	}

	counts, err := store.BugCounts()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.OpenCritical != 1 || counts.ByStatus[services.BugStatusInProgress] != 1 || counts.BySeverity["Low"] != 1 {
		t.Fatalf("counts = %+v", counts)
	}
}

func TestGrowthPersistence(t *testing.T) {
	store := newTestStore(t)

	checkins := []*services.GrowthCheckin{
		{ID: "c1", RelationshipID: "rel1", Mode: services.ModeDuo, Respondent: services.RespondentA,
			MonthKey: "2026-05", PatternText: "smoothing", CostText: "tired",
			RepairChoice: "Repaired quickly", AgencyChoice: "Mixed",
			Metrics: services.GrowthMetrics{Clarity: 3, Cost: 4, Agency: 3}, CreatedAt: at(1)},
		{ID: "c2", RelationshipID: "rel1", Mode: services.ModeDuo, Respondent: services.RespondentB,
			MonthKey: "2026-06", PatternText: "withdrawing", CostText: "fine",
			Metrics: services.GrowthMetrics{Clarity: 2, Cost: 3, Agency: 2}, CreatedAt: at(2)},
	}
	for _, c := range checkins {
		if err := store.SaveGrowthCheckin(c); err != nil {
			t.Fatalf("save %s: %v", c.ID, err)
		}
	}

	// Empty respondent reads across both sides of the pair.
	both, err := store.ListGrowthCheckins("rel1", "", 10)
	if err != nil || len(both) != 2 {
		t.Fatalf("combined timeline = %d, %v", len(both), err)
	}
	if both[0].ID != "c2" {
		t.Fatalf("timeline not newest first: %s", both[0].ID)
	}

	onlyA, err := store.ListGrowthCheckins("rel1", services.RespondentA, 10)
	if err != nil || len(onlyA) != 1 || onlyA[0].ID != "c1" {
		t.Fatalf("respondent filter = %+v, %v", onlyA, err)
	}
	if onlyA[0].Metrics.Cost != 4 || onlyA[0].RepairChoice != "Repaired quickly" {
		t.Fatalf("checkin round trip lost fields: %+v", onlyA[0])
	}

	latest, err := store.GetLatestGrowthCheckin("rel1", "")
	if err != nil || latest == nil || latest.ID != "c2" {
		t.Fatalf("latest = %+v, %v", latest, err)
	}
	if empty, err := store.GetLatestGrowthCheckin("rel2", ""); err != nil || empty != nil {
		t.Fatalf("empty latest = %+v, %v", empty, err)
	}

	refl := &services.GrowthReflection{ID: "f1", RelationshipID: "rel1", Respondent: services.RespondentA,
		MonthKey: "2026-06", PromptText: "prompt", ResponseText: "answer", CreatedAt: at(3)}
	if err := store.SaveGrowthReflection(refl); err != nil {
		t.Fatalf("save reflection: %v", err)
	}
	got, err := store.ListGrowthReflections("rel1", "", 10)
	if err != nil || len(got) != 1 || got[0].ResponseText != "answer" {
		t.Fatalf("reflections = %+v, %v", got, err)
	}
}
