// Package db provides the sqlite-backed Store and schema migrations.
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/dommolloy/seeus/internal/api"
	"github.com/dommolloy/seeus/internal/services"
)

// SQLiteStore persists the full Store surface in one sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(database *sql.DB) (*SQLiteStore, error) {
	if database == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := database.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: database}, nil
}

func NewStore(database *sql.DB) (api.Store, error) {
	return NewSQLiteStore(database)
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// --- relationships ---

func (s *SQLiteStore) CreateRelationship(r *services.Relationship) error {
	_, err := s.db.Exec(
		`INSERT INTO relationships (id, user_a_id, user_b_id, label, archived, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserAID, toNullString(r.UserBID), toNullString(r.Label),
		boolToInt64(r.Archived), formatTime(r.CreatedAt),
	)
	return err
}

func (s *SQLiteStore) scanRelationship(row *sql.Row) (*services.Relationship, error) {
	var r services.Relationship
	var userB, label sql.NullString
	var archived int64
	var createdAt string
	err := row.Scan(&r.ID, &r.UserAID, &userB, &label, &archived, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.UserBID = userB.String
	r.Label = label.String
	r.Archived = archived != 0
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

func (s *SQLiteStore) GetRelationship(id string) (*services.Relationship, error) {
	row := s.db.QueryRow(
		`SELECT id, user_a_id, user_b_id, label, archived, created_at
		 FROM relationships WHERE id = ?`, id)
	return s.scanRelationship(row)
}

func (s *SQLiteStore) ListRelationships(includeArchived bool) ([]*services.Relationship, error) {
	q := `SELECT id, user_a_id, user_b_id, label, archived, created_at FROM relationships`
	if !includeArchived {
		q += ` WHERE archived = 0`
	}
	q += ` ORDER BY created_at DESC, id`
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*services.Relationship{}
	for rows.Next() {
		var r services.Relationship
		var userB, label sql.NullString
		var archived int64
		var createdAt string
		if err := rows.Scan(&r.ID, &r.UserAID, &userB, &label, &archived, &createdAt); err != nil {
			return nil, err
		}
		r.UserBID = userB.String
		r.Label = label.String
		r.Archived = archived != 0
		r.CreatedAt = parseTime(createdAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetRelationshipArchived(id string, archived bool) error {
	res, err := s.db.Exec(`UPDATE relationships SET archived = ? WHERE id = ?`, boolToInt64(archived), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.NewNotFoundError("relationship not found: " + id)
	}
	return nil
}

// --- sessions & answers ---

// CreateSession relies on the partial unique index over open sessions: a
// losing racer gets a constraint violation, surfaced as ErrOpenSessionExists.
func (s *SQLiteStore) CreateSession(sess *services.Session) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, relationship_id, mode, tone, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, NULL)`,
		sess.ID, sess.RelationshipID, string(sess.Mode), toNullString(sess.Tone),
		formatTime(sess.StartedAt),
	)
	if err != nil && isUniqueViolation(err) {
		return services.ErrOpenSessionExists
	}
	return err
}

func (s *SQLiteStore) GetOpenSession(relationshipID string) (*services.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, relationship_id, mode, tone, started_at, ended_at
		 FROM sessions WHERE relationship_id = ? AND ended_at IS NULL`, relationshipID)
	var sess services.Session
	var tone, endedAt sql.NullString
	var mode, startedAt string
	err := row.Scan(&sess.ID, &sess.RelationshipID, &mode, &tone, &startedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess.Mode = services.Mode(mode)
	sess.Tone = tone.String
	sess.StartedAt = parseTime(startedAt)
	if endedAt.Valid {
		t := parseTime(endedAt.String)
		sess.EndedAt = &t
	}
	return &sess, nil
}

// EndSession only touches still-open rows, which makes repeated calls no-ops.
func (s *SQLiteStore) EndSession(sessionID string, endedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		formatTime(endedAt), sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return services.NewNotFoundError("session not found: " + sessionID)
		}
		return err
	}
	return nil
}

func (s *SQLiteStore) SaveResponse(a *services.Answer) error {
	_, err := s.db.Exec(
		`INSERT INTO responses (id, session_id, relationship_id, respondent, question_id,
		                        answer_text, dimension, skipped, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.RelationshipID, string(a.Respondent), a.QuestionID,
		a.Text, toNullString(a.Dimension), boolToInt64(a.Skipped), formatTime(a.CreatedAt),
	)
	return err
}

const answerColumns = `id, session_id, relationship_id, respondent, question_id,
       answer_text, dimension, skipped, created_at`

func scanAnswers(rows *sql.Rows) ([]*services.Answer, error) {
	defer rows.Close()
	out := []*services.Answer{}
	for rows.Next() {
		var a services.Answer
		var respondent, createdAt string
		var dimension sql.NullString
		var skipped int64
		if err := rows.Scan(&a.ID, &a.SessionID, &a.RelationshipID, &respondent,
			&a.QuestionID, &a.Text, &dimension, &skipped, &createdAt); err != nil {
			return nil, err
		}
		a.Respondent = services.Respondent(respondent)
		a.Dimension = dimension.String
		a.Skipped = skipped != 0
		a.CreatedAt = parseTime(createdAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetAnswersForSession(sessionID string) ([]*services.Answer, error) {
	rows, err := s.db.Query(
		`SELECT `+answerColumns+` FROM responses
		 WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	return scanAnswers(rows)
}

func (s *SQLiteStore) GetLastAnswers(relationshipID string, respondent services.Respondent, limit int) ([]*services.Answer, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(
		`SELECT `+answerColumns+` FROM responses
		 WHERE relationship_id = ? AND respondent = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		relationshipID, string(respondent), limit)
	if err != nil {
		return nil, err
	}
	return scanAnswers(rows)
}

func (s *SQLiteStore) GetAnswerHistory(relationshipID string, respondent services.Respondent, questionID string, limit int) ([]*services.Answer, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT `+answerColumns+` FROM responses
		 WHERE relationship_id = ? AND respondent = ? AND question_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		relationshipID, string(respondent), questionID, limit)
	if err != nil {
		return nil, err
	}
	return scanAnswers(rows)
}

func (s *SQLiteStore) GetAnswersForRelationship(relationshipID string) ([]*services.Answer, error) {
	rows, err := s.db.Query(
		`SELECT `+answerColumns+` FROM responses
		 WHERE relationship_id = ? ORDER BY created_at DESC, id DESC`, relationshipID)
	if err != nil {
		return nil, err
	}
	return scanAnswers(rows)
}

// --- invites ---

func (s *SQLiteStore) CreateInvite(inv *services.Invite) error {
	_, err := s.db.Exec(
		`INSERT INTO invites (token, relationship_id, respondent, used, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		inv.Token, inv.RelationshipID, string(inv.Respondent),
		boolToInt64(inv.Used), formatTime(inv.CreatedAt),
	)
	return err
}

func (s *SQLiteStore) GetInvite(token string) (*services.Invite, error) {
	row := s.db.QueryRow(
		`SELECT token, relationship_id, respondent, used, created_at
		 FROM invites WHERE token = ?`, token)
	var inv services.Invite
	var respondent, createdAt string
	var used int64
	err := row.Scan(&inv.Token, &inv.RelationshipID, &respondent, &used, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	inv.Respondent = services.Respondent(respondent)
	inv.Used = used != 0
	inv.CreatedAt = parseTime(createdAt)
	return &inv, nil
}

func (s *SQLiteStore) MarkInviteUsed(token string) error {
	res, err := s.db.Exec(`UPDATE invites SET used = 1 WHERE token = ?`, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.NewNotFoundError("invite not found")
	}
	return nil
}

// --- reports ---

func (s *SQLiteStore) SaveReport(r *services.Report) error {
	_, err := s.db.Exec(
		`INSERT INTO reports (id, relationship_id, report_type, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.RelationshipID, r.Type, string(r.Content), formatTime(r.CreatedAt),
	)
	return err
}

func (s *SQLiteStore) GetLatestReport(relationshipID, reportType string) (*services.Report, error) {
	row := s.db.QueryRow(
		`SELECT id, relationship_id, report_type, content, created_at
		 FROM reports WHERE relationship_id = ? AND report_type = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, relationshipID, reportType)
	var r services.Report
	var content, createdAt string
	err := row.Scan(&r.ID, &r.RelationshipID, &r.Type, &content, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Content = []byte(content)
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

// --- bugs ---

const bugColumns = `id, title, description, reporter, severity, status, assignee,
       resolution_notes, created_at, updated_at`

func (s *SQLiteStore) SaveBug(b *services.Bug) error {
	_, err := s.db.Exec(
		`INSERT INTO bugs (`+bugColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Title, b.Description, toNullString(b.Reporter), b.Severity, b.Status,
		toNullString(b.Assignee), toNullString(b.ResolutionNotes),
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	return err
}

func scanBug(scan func(dest ...any) error) (*services.Bug, error) {
	var b services.Bug
	var reporter, assignee, notes sql.NullString
	var createdAt, updatedAt string
	err := scan(&b.ID, &b.Title, &b.Description, &reporter, &b.Severity, &b.Status,
		&assignee, &notes, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Reporter = reporter.String
	b.Assignee = assignee.String
	b.ResolutionNotes = notes.String
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func (s *SQLiteStore) GetBug(id string) (*services.Bug, error) {
	row := s.db.QueryRow(`SELECT `+bugColumns+` FROM bugs WHERE id = ?`, id)
	return scanBug(row.Scan)
}

func (s *SQLiteStore) UpdateBug(b *services.Bug) error {
	res, err := s.db.Exec(
		`UPDATE bugs SET title = ?, description = ?, reporter = ?, severity = ?,
		        status = ?, assignee = ?, resolution_notes = ?, updated_at = ?
		 WHERE id = ?`,
		b.Title, b.Description, toNullString(b.Reporter), b.Severity, b.Status,
		toNullString(b.Assignee), toNullString(b.ResolutionNotes),
		formatTime(b.UpdatedAt), b.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.NewNotFoundError("bug not found: " + b.ID)
	}
	return nil
}

func (s *SQLiteStore) ListBugs(f services.BugFilter) ([]*services.Bug, error) {
	where := []string{}
	args := []any{}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, f.Severity)
	}
	if f.Unassigned {
		where = append(where, "(assignee IS NULL OR assignee = '')")
	} else if f.Assignee != "" {
		where = append(where, "assignee = ?")
		args = append(args, f.Assignee)
	}
	if f.Search != "" {
		where = append(where, `(title LIKE ? OR description LIKE ? OR reporter LIKE ? OR assignee LIKE ?)`)
		pat := "%" + f.Search + "%"
		args = append(args, pat, pat, pat, pat)
	}
	q := `SELECT ` + bugColumns + ` FROM bugs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY updated_at DESC, id LIMIT ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*services.Bug{}
	for rows.Next() {
		b, err := scanBug(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) BugCounts() (*services.BugCounts, error) {
	counts := &services.BugCounts{
		ByStatus:   map[string]int{},
		BySeverity: map[string]int{},
	}
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM bugs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		counts.ByStatus[k] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT severity, COUNT(*) FROM bugs GROUP BY severity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		counts.BySeverity[k] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRow(
		`SELECT COUNT(*) FROM bugs
		 WHERE severity = 'Critical' AND status NOT IN ('Closed', 'Rejected')`,
	).Scan(&counts.OpenCritical)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// --- growth ---

func (s *SQLiteStore) SaveGrowthCheckin(c *services.GrowthCheckin) error {
	metricsJSON, err := json.Marshal(c.Metrics)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO growth_checkins (id, relationship_id, mode, respondent, month_key,
		        pattern_text, cost_text, repair_choice, agency_choice, shift_text,
		        metrics_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.RelationshipID, string(c.Mode), string(c.Respondent), c.MonthKey,
		c.PatternText, c.CostText, toNullString(c.RepairChoice), toNullString(c.AgencyChoice),
		c.ShiftText, string(metricsJSON), formatTime(c.CreatedAt),
	)
	return err
}

func (s *SQLiteStore) ListGrowthCheckins(relationshipID string, respondent services.Respondent, limit int) ([]*services.GrowthCheckin, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, relationship_id, mode, respondent, month_key, pattern_text, cost_text,
	             repair_choice, agency_choice, shift_text, metrics_json, created_at
	      FROM growth_checkins WHERE relationship_id = ?`
	args := []any{relationshipID}
	if respondent != "" {
		q += ` AND respondent = ?`
		args = append(args, string(respondent))
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*services.GrowthCheckin{}
	for rows.Next() {
		var c services.GrowthCheckin
		var mode, respondentCol, createdAt, metricsJSON string
		var repair, agency sql.NullString
		if err := rows.Scan(&c.ID, &c.RelationshipID, &mode, &respondentCol, &c.MonthKey,
			&c.PatternText, &c.CostText, &repair, &agency, &c.ShiftText,
			&metricsJSON, &createdAt); err != nil {
			return nil, err
		}
		c.Mode = services.Mode(mode)
		c.Respondent = services.Respondent(respondentCol)
		c.RepairChoice = repair.String
		c.AgencyChoice = agency.String
		c.CreatedAt = parseTime(createdAt)
		_ = json.Unmarshal([]byte(metricsJSON), &c.Metrics)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetLatestGrowthCheckin(relationshipID string, respondent services.Respondent) (*services.GrowthCheckin, error) {
	rows, err := s.ListGrowthCheckins(relationshipID, respondent, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (s *SQLiteStore) SaveGrowthReflection(r *services.GrowthReflection) error {
	_, err := s.db.Exec(
		`INSERT INTO growth_reflections (id, relationship_id, respondent, month_key,
		        prompt_text, response_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RelationshipID, string(r.Respondent), r.MonthKey,
		r.PromptText, r.ResponseText, formatTime(r.CreatedAt),
	)
	return err
}

func (s *SQLiteStore) ListGrowthReflections(relationshipID string, respondent services.Respondent, limit int) ([]*services.GrowthReflection, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT id, relationship_id, respondent, month_key, prompt_text, response_text, created_at
	      FROM growth_reflections WHERE relationship_id = ?`
	args := []any{relationshipID}
	if respondent != "" {
		q += ` AND respondent = ?`
		args = append(args, string(respondent))
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*services.GrowthReflection{}
	for rows.Next() {
		var r services.GrowthReflection
		var respondentCol, createdAt string
		if err := rows.Scan(&r.ID, &r.RelationshipID, &respondentCol, &r.MonthKey,
			&r.PromptText, &r.ResponseText, &createdAt); err != nil {
			return nil, err
		}
		r.Respondent = services.Respondent(respondentCol)
		r.CreatedAt = parseTime(createdAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}
