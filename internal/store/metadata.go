package store

import (
	"context"
	"database/sql"

	"github.com/pavelanni/lsattracker/internal/model"
)

func upsertMeta(ctx context.Context, tx *sql.Tx, userID int64, m model.ExamMeta) error {
	var score sql.NullFloat64
	if m.ScaledScore != nil {
		score = sql.NullFloat64{Float64: *m.ScaledScore, Valid: true}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO exam_meta (user_id, exam_number, exam_date, scaled_score) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, exam_number) DO UPDATE SET
			exam_date = excluded.exam_date,
			scaled_score = excluded.scaled_score`,
		userID, m.ExamNumber, m.ExamDate, score,
	)
	return err
}

// ListExamMeta returns a user's exam metadata ordered by exam number.
func (s *Store) ListExamMeta(ctx context.Context, userID int64) ([]model.ExamMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT exam_number, exam_date, scaled_score FROM exam_meta
		 WHERE user_id = ? ORDER BY exam_number`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ExamMeta{}
	for rows.Next() {
		var m model.ExamMeta
		var score sql.NullFloat64
		if err := rows.Scan(&m.ExamNumber, &m.ExamDate, &score); err != nil {
			return nil, err
		}
		if score.Valid {
			v := score.Float64
			m.ScaledScore = &v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
