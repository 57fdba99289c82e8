package services

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"
)

// ExportAnswersCSV renders a relationship's full answer history in long
// format, one row per stored answer. Rows keep store order (newest first).
func ExportAnswersCSV(answers []*Answer) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"answer_id", "session_id", "relationship_id", "respondent",
		"question_id", "dimension", "answer_text", "skipped", "created_at",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, a := range answers {
		row := []string{
			a.ID,
			a.SessionID,
			a.RelationshipID,
			string(a.Respondent),
			a.QuestionID,
			a.Dimension,
			a.Text,
			strconv.FormatBool(a.Skipped),
			a.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
