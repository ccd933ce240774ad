// Package dashboard owns a signed-in user's collections for the lifetime of
// their session. It is the only writer of question rows and exam metadata:
// every batch is reconciled, persisted in one transaction, and only then
// made visible in memory.
package dashboard

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/lsattracker/internal/analytics"
	"github.com/pavelanni/lsattracker/internal/export"
	"github.com/pavelanni/lsattracker/internal/ingest"
	"github.com/pavelanni/lsattracker/internal/metrics"
	"github.com/pavelanni/lsattracker/internal/model"
	"github.com/pavelanni/lsattracker/internal/reconcile"
	"github.com/pavelanni/lsattracker/internal/transformer"
)

var (
	// ErrEmptyBatch is returned when a payload yields no rows and no metadata.
	ErrEmptyBatch = errors.New("no records found in payload")
	// ErrClosed is returned by I/O methods after Close.
	ErrClosed = errors.New("dashboard session closed")
	// ErrNoTransformer is returned by Upload when no transformer is configured.
	ErrNoTransformer = errors.New("no transformer configured")
)

// StoreError reports a failed read or write against the persisted store.
// The session's in-memory state is unchanged when it is returned.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// Repository is the persisted store as seen by a session.
type Repository interface {
	ListRows(ctx context.Context, userID int64) ([]model.QuestionRecord, error)
	ListExamMeta(ctx context.Context, userID int64) ([]model.ExamMeta, error)
	ApplyBatch(ctx context.Context, userID int64, b model.Batch, up model.Upload) error
	DeleteExam(ctx context.Context, userID int64, examNumber string) (int64, error)
	ListExams(ctx context.Context, userID int64) ([]model.ExamSummary, error)
	ListUploads(ctx context.Context, userID int64) ([]model.Upload, error)
	FindUploadBySHA256(ctx context.Context, userID int64, sum string) (*model.Upload, error)
}

// Transformer converts a PDF into CSV payloads.
type Transformer interface {
	Transform(ctx context.Context, req transformer.Request) (transformer.Payload, error)
}

// Option configures a Session.
type Option func(*Session)

// WithMetrics records upload outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithClock overrides the time source used for upload timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session holds one user's rows and metadata.
type Session struct {
	repo    Repository
	tf      Transformer
	metrics *metrics.Metrics
	now     func() time.Time
	userID  int64

	mu     sync.RWMutex
	rows   []model.QuestionRecord
	metas  []model.ExamMeta
	closed bool
}

// Open creates a session for userID and loads both collections. tf may be
// nil when only CSV imports are needed.
func Open(ctx context.Context, repo Repository, tf Transformer, userID int64, opts ...Option) (*Session, error) {
	s := &Session{repo: repo, tf: tf, userID: userID, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// UserID returns the owner of the session.
func (s *Session) UserID() int64 { return s.userID }

// Refresh reloads both collections from the store. It holds the write lock
// across the load so a concurrent apply cannot land between load and swap.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	var rows []model.QuestionRecord
	var metas []model.ExamMeta

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = s.repo.ListRows(gctx, s.userID)
		return err
	})
	g.Go(func() error {
		var err error
		metas, err = s.repo.ListExamMeta(gctx, s.userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return &StoreError{Op: "load", Err: err}
	}
	s.rows, s.metas = rows, metas
	slog.Debug("session loaded", "user_id", s.userID, "rows", len(rows), "metas", len(metas))
	return nil
}

// Close drops the session's collections.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows, s.metas = nil, nil
	s.closed = true
}

// Rows returns a copy of the user's question rows.
func (s *Session) Rows() []model.QuestionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.rows)
}

// Metas returns a copy of the user's exam metadata.
func (s *Session) Metas() []model.ExamMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.metas)
}

// Working joins and filters the collections.
func (s *Session) Working(f model.FilterSpec) model.WorkingSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return analytics.Apply(s.rows, s.metas, f)
}

// Summary aggregates the filtered working set.
func (s *Session) Summary(f model.FilterSpec) model.Summary {
	return analytics.Summary(s.Working(f))
}

// ExportCSV writes the filtered records as CSV.
func (s *Session) ExportCSV(w io.Writer, f model.FilterSpec) error {
	return export.WriteCSV(w, s.Working(f).Records)
}

// ExportXLSX writes the filtered working set as a workbook.
func (s *Session) ExportXLSX(w io.Writer, f model.FilterSpec) error {
	return export.WriteXLSX(w, s.Working(f))
}

// UploadInput is a PDF to send through the transformer.
type UploadInput struct {
	Filename   string
	Content    []byte
	ExamNumber string
	ExamDate   string
	// Force re-ingests content that was already uploaded.
	Force bool
}

// ImportInput is a pair of CSV payloads produced elsewhere.
type ImportInput struct {
	Filename   string
	RowsCSV    string
	MetaCSV    string
	ExamNumber string
	ExamDate   string
	Force      bool
}

// Result describes the outcome of an upload or import.
type Result struct {
	Upload model.Upload `json:"upload"`
	// Duplicate is set when identical content was ingested before and
	// nothing was written.
	Duplicate bool `json:"duplicate"`
}

// Upload transforms a PDF and reconciles the result. Transport failures
// leave the session and the store untouched.
func (s *Session) Upload(ctx context.Context, in UploadInput) (Result, error) {
	if s.tf == nil {
		return Result{}, ErrNoTransformer
	}
	sum := checksum(in.Content, []byte(strings.TrimSpace(in.ExamNumber)), []byte(strings.TrimSpace(in.ExamDate)))
	if res, ok, err := s.duplicate(ctx, sum, in.Force); err != nil || ok {
		return res, err
	}

	payload, err := s.tf.Transform(ctx, transformer.Request{
		Filename:   in.Filename,
		File:       bytes.NewReader(in.Content),
		ExamNumber: in.ExamNumber,
		ExamDate:   in.ExamDate,
	})
	if err != nil {
		s.metrics.Upload(metrics.ResultTransport)
		slog.Warn("transform failed", "user_id", s.userID, "filename", in.Filename, "error", err)
		return Result{}, err
	}

	opts := ingest.Options{ExamNumber: in.ExamNumber, ExamDate: in.ExamDate}
	batch := ingest.ParseBatch(payload.RowsCSV, payload.MetaCSV, opts)
	return s.apply(ctx, batch, in.Filename, sum)
}

// Import reconciles CSV payloads directly. The rows payload is required;
// metadata is optional.
func (s *Session) Import(ctx context.Context, in ImportInput) (Result, error) {
	if strings.TrimSpace(in.RowsCSV) == "" {
		return Result{}, transformer.ErrMissingData
	}
	sum := checksum([]byte(in.RowsCSV), []byte(in.MetaCSV), []byte(strings.TrimSpace(in.ExamNumber)), []byte(strings.TrimSpace(in.ExamDate)))
	if res, ok, err := s.duplicate(ctx, sum, in.Force); err != nil || ok {
		return res, err
	}

	opts := ingest.Options{ExamNumber: in.ExamNumber, ExamDate: in.ExamDate}
	batch := ingest.ParseBatch(in.RowsCSV, in.MetaCSV, opts)
	return s.apply(ctx, batch, in.Filename, sum)
}

func (s *Session) duplicate(ctx context.Context, sum string, force bool) (Result, bool, error) {
	if force {
		return Result{}, false, nil
	}
	prev, err := s.repo.FindUploadBySHA256(ctx, s.userID, sum)
	if err != nil {
		return Result{}, false, &StoreError{Op: "find upload", Err: err}
	}
	if prev == nil || !s.holdsExams(prev.ExamNumbers) {
		return Result{}, false, nil
	}
	s.metrics.Upload(metrics.ResultDuplicate)
	slog.Info("content already ingested, skipping", "user_id", s.userID, "upload_id", prev.ID)
	return Result{Upload: *prev, Duplicate: true}, true, nil
}

// apply reconciles a batch into the session. The store write happens under
// the write lock so concurrent uploads to one session are serialised and
// readers never see a half-merged state.
func (s *Session) apply(ctx context.Context, batch model.Batch, filename, sum string) (Result, error) {
	batch = reconcile.Batch(batch)
	if len(batch.Rows) == 0 && len(batch.Metas) == 0 {
		s.metrics.Upload(metrics.ResultEmpty)
		return Result{}, ErrEmptyBatch
	}

	up := model.Upload{
		ID:          uuid.NewString(),
		UserID:      s.userID,
		Filename:    filename,
		ExamNumbers: examNumbers(batch),
		RowCount:    len(batch.Rows),
		MetaCount:   len(batch.Metas),
		SHA256:      sum,
		CreatedAt:   s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Result{}, ErrClosed
	}

	rows := reconcile.Rows(s.rows, batch.Rows)
	metas := reconcile.Metas(s.metas, batch.Metas)
	if err := s.repo.ApplyBatch(ctx, s.userID, batch, up); err != nil {
		s.metrics.Upload(metrics.ResultStore)
		return Result{}, &StoreError{Op: "apply batch", Err: err}
	}
	s.rows, s.metas = rows, metas

	s.metrics.Upload(metrics.ResultOK)
	s.metrics.Reconciled(up.RowCount, up.MetaCount)
	slog.Info("reconciled batch",
		"user_id", s.userID,
		"upload_id", up.ID,
		"exam_numbers", up.ExamNumbers,
		"rows", up.RowCount,
		"metas", up.MetaCount,
	)
	return Result{Upload: up}, nil
}

// DeleteExam removes an exam's rows and metadata from the store and the
// session. It returns the number of rows removed.
func (s *Session) DeleteExam(ctx context.Context, examNumber string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	removed, err := s.repo.DeleteExam(ctx, s.userID, examNumber)
	if err != nil {
		return 0, &StoreError{Op: "delete exam", Err: err}
	}
	s.rows = slices.DeleteFunc(slices.Clone(s.rows), func(r model.QuestionRecord) bool {
		return r.ExamNumber == examNumber
	})
	s.metas = slices.DeleteFunc(slices.Clone(s.metas), func(m model.ExamMeta) bool {
		return m.ExamNumber == examNumber
	})
	s.metrics.ExamDeleted()
	slog.Info("deleted exam", "user_id", s.userID, "exam_number", examNumber, "rows", removed)
	return removed, nil
}

// Exams lists the stored exams.
func (s *Session) Exams(ctx context.Context) ([]model.ExamSummary, error) {
	exams, err := s.repo.ListExams(ctx, s.userID)
	if err != nil {
		return nil, &StoreError{Op: "list exams", Err: err}
	}
	return exams, nil
}

// Uploads lists the upload log, newest first.
func (s *Session) Uploads(ctx context.Context) ([]model.Upload, error) {
	ups, err := s.repo.ListUploads(ctx, s.userID)
	if err != nil {
		return nil, &StoreError{Op: "list uploads", Err: err}
	}
	return ups, nil
}

// holdsExams reports whether every exam is still present in the session.
// A prior upload whose exams were deleted no longer counts as a duplicate.
func (s *Session) holdsExams(exams []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	present := make(map[string]bool, len(s.metas))
	for _, r := range s.rows {
		present[r.ExamNumber] = true
	}
	for _, m := range s.metas {
		present[m.ExamNumber] = true
	}
	for _, e := range exams {
		if !present[e] {
			return false
		}
	}
	return true
}

// checksum hashes the parts with length prefixes so part boundaries are
// unambiguous.
func checksum(parts ...[]byte) string {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func examNumbers(b model.Batch) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(e string) {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	for _, r := range b.Rows {
		add(r.ExamNumber)
	}
	for _, m := range b.Metas {
		add(m.ExamNumber)
	}
	slices.Sort(out)
	return out
}
