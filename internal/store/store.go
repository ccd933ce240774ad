package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pavelanni/lsattracker/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS question_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		exam_number TEXT NOT NULL,
		section INTEGER NOT NULL,
		question INTEGER NOT NULL,
		subtype TEXT NOT NULL DEFAULT '',
		difficulty INTEGER,
		total_time_seconds REAL NOT NULL DEFAULT 0,
		question_score INTEGER NOT NULL DEFAULT 0,
		flagged INTEGER NOT NULL DEFAULT 0,
		experimental_section INTEGER NOT NULL DEFAULT 0,
		section_type TEXT NOT NULL DEFAULT '',
		UNIQUE (user_id, exam_number, section, question),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS exam_meta (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		exam_number TEXT NOT NULL,
		exam_date TEXT NOT NULL DEFAULT '',
		scaled_score REAL,
		UNIQUE (user_id, exam_number),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS uploads (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		exam_numbers TEXT NOT NULL DEFAULT '[]',
		row_count INTEGER NOT NULL DEFAULT 0,
		meta_count INTEGER NOT NULL DEFAULT 0,
		sha256 TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_uploads_user_sha ON uploads (user_id, sha256);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ApplyBatch upserts a reconciled batch and logs the upload in a single
// transaction. Each row replaces any stored row with the same natural key.
func (s *Store) ApplyBatch(ctx context.Context, userID int64, b model.Batch, up model.Upload) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range b.Rows {
		if err := upsertRow(ctx, tx, userID, r); err != nil {
			return fmt.Errorf("upsert row %s/%d/%d: %w", r.ExamNumber, r.Section, r.Question, err)
		}
	}
	for _, m := range b.Metas {
		if err := upsertMeta(ctx, tx, userID, m); err != nil {
			return fmt.Errorf("upsert meta %s: %w", m.ExamNumber, err)
		}
	}
	if up.ID != "" {
		up.UserID = userID
		if err := insertUpload(ctx, tx, up); err != nil {
			return fmt.Errorf("log upload: %w", err)
		}
	}
	return tx.Commit()
}

func upsertRow(ctx context.Context, tx *sql.Tx, userID int64, r model.QuestionRecord) error {
	var difficulty sql.NullInt64
	if r.Difficulty != nil {
		difficulty = sql.NullInt64{Int64: int64(*r.Difficulty), Valid: true}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO question_rows (user_id, exam_number, section, question, subtype, difficulty,
			total_time_seconds, question_score, flagged, experimental_section, section_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, exam_number, section, question) DO UPDATE SET
			subtype = excluded.subtype,
			difficulty = excluded.difficulty,
			total_time_seconds = excluded.total_time_seconds,
			question_score = excluded.question_score,
			flagged = excluded.flagged,
			experimental_section = excluded.experimental_section,
			section_type = excluded.section_type`,
		userID, r.ExamNumber, r.Section, r.Question, r.Subtype, difficulty,
		r.TotalTimeSeconds, r.QuestionScore, r.Flagged, r.ExperimentalSection, string(r.SectionType),
	)
	return err
}

// ListRows returns a user's question rows ordered by exam, section, question.
func (s *Store) ListRows(ctx context.Context, userID int64) ([]model.QuestionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT exam_number, section, question, subtype, difficulty, total_time_seconds,
			question_score, flagged, experimental_section, section_type
		 FROM question_rows WHERE user_id = ?
		 ORDER BY exam_number, section, question`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.QuestionRecord{}
	for rows.Next() {
		var r model.QuestionRecord
		var difficulty sql.NullInt64
		var sectionType string
		if err := rows.Scan(&r.ExamNumber, &r.Section, &r.Question, &r.Subtype, &difficulty,
			&r.TotalTimeSeconds, &r.QuestionScore, &r.Flagged, &r.ExperimentalSection, &sectionType); err != nil {
			return nil, err
		}
		if difficulty.Valid {
			d := int(difficulty.Int64)
			r.Difficulty = &d
		}
		r.SectionType = model.SectionType(sectionType)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteExam removes every row and the metadata of one exam. It returns the
// number of question rows removed.
func (s *Store) DeleteExam(ctx context.Context, userID int64, examNumber string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM question_rows WHERE user_id = ? AND exam_number = ?`, userID, examNumber)
	if err != nil {
		return 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM exam_meta WHERE user_id = ? AND exam_number = ?`, userID, examNumber); err != nil {
		return 0, err
	}
	return removed, tx.Commit()
}

// ListExams returns one summary per exam that has rows or metadata.
func (s *Store) ListExams(ctx context.Context, userID int64) ([]model.ExamSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT exam_number, MAX(exam_date), MAX(scaled_score), SUM(n) FROM (
			SELECT exam_number, '' AS exam_date, NULL AS scaled_score, COUNT(*) AS n
			FROM question_rows WHERE user_id = ? GROUP BY exam_number
			UNION ALL
			SELECT exam_number, exam_date, scaled_score, 0
			FROM exam_meta WHERE user_id = ?
		 ) GROUP BY exam_number ORDER BY exam_number`, userID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ExamSummary{}
	for rows.Next() {
		var e model.ExamSummary
		var score sql.NullFloat64
		if err := rows.Scan(&e.ExamNumber, &e.ExamDate, &score, &e.QuestionCount); err != nil {
			return nil, err
		}
		if score.Valid {
			v := score.Float64
			e.ScaledScore = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
