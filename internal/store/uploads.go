package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/lsattracker/internal/model"
)

func insertUpload(ctx context.Context, tx *sql.Tx, up model.Upload) error {
	exams, err := json.Marshal(up.ExamNumbers)
	if err != nil {
		return fmt.Errorf("marshal exam numbers: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO uploads (id, user_id, filename, exam_numbers, row_count, meta_count, sha256, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		up.ID, up.UserID, up.Filename, string(exams), up.RowCount, up.MetaCount, up.SHA256, up.CreatedAt,
	)
	return err
}

// ListUploads returns a user's upload log, newest first.
func (s *Store) ListUploads(ctx context.Context, userID int64) ([]model.Upload, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, filename, exam_numbers, row_count, meta_count, sha256, created_at
		 FROM uploads WHERE user_id = ? ORDER BY created_at DESC, id`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Upload{}
	for rows.Next() {
		up, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, up)
	}
	return out, rows.Err()
}

// FindUploadBySHA256 returns the most recent upload of identical content,
// or nil if the content was never ingested.
func (s *Store) FindUploadBySHA256(ctx context.Context, userID int64, sum string) (*model.Upload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, filename, exam_numbers, row_count, meta_count, sha256, created_at
		 FROM uploads WHERE user_id = ? AND sha256 = ? ORDER BY created_at DESC LIMIT 1`, userID, sum,
	)
	up, err := scanUpload(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &up, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(sc scanner) (model.Upload, error) {
	var up model.Upload
	var exams string
	if err := sc.Scan(&up.ID, &up.UserID, &up.Filename, &exams, &up.RowCount, &up.MetaCount, &up.SHA256, &up.CreatedAt); err != nil {
		return up, err
	}
	if err := json.Unmarshal([]byte(exams), &up.ExamNumbers); err != nil {
		return up, fmt.Errorf("decode exam numbers of upload %s: %w", up.ID, err)
	}
	return up, nil
}
