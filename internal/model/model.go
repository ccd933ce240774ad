package model

import (
	"context"
	"time"
)

// User represents a data owner.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type tokenCtxKey struct{}

// ContextWithToken stores the auth session token in context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenCtxKey{}, token)
}

// TokenFromContext retrieves the auth session token from context.
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenCtxKey{}).(string)
	return t
}

// QuestionRecord is one attempted exam question.
// (ExamNumber, Section, Question) is unique per user.
type QuestionRecord struct {
	ExamNumber          string      `json:"exam_number"`
	Section             int         `json:"section"`
	Question            int         `json:"question"`
	Subtype             string      `json:"subtype"`
	Difficulty          *int        `json:"difficulty"`
	TotalTimeSeconds    float64     `json:"total_time_seconds"`
	QuestionScore       int         `json:"question_score"`
	Flagged             bool        `json:"flagged"`
	ExperimentalSection bool        `json:"experimental_section"`
	SectionType         SectionType `json:"section_type"`
}

// Correct reports whether the question was answered correctly.
func (r QuestionRecord) Correct() bool {
	return r.QuestionScore != 0
}

// ExamMeta holds the metadata of one exam instance. ExamNumber is unique per user.
type ExamMeta struct {
	ExamNumber  string   `json:"exam_number"`
	ExamDate    string   `json:"exam_date"`
	ScaledScore *float64 `json:"scaled_score"`
}

// JoinedRecord is a QuestionRecord enriched with its exam's metadata.
type JoinedRecord struct {
	QuestionRecord
	ExamDate    string   `json:"exam_date"`
	ScaledScore *float64 `json:"scaled_score"`
}

// Batch is one freshly ingested set of rows and metadata.
type Batch struct {
	Rows  []QuestionRecord
	Metas []ExamMeta
}

// Upload is the log entry written for every reconciled batch.
type Upload struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"-"`
	Filename    string    `json:"filename"`
	ExamNumbers []string  `json:"exam_numbers"`
	RowCount    int       `json:"row_count"`
	MetaCount   int       `json:"meta_count"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExamSummary describes one stored exam for listings.
type ExamSummary struct {
	ExamNumber    string   `json:"exam_number"`
	ExamDate      string   `json:"exam_date"`
	ScaledScore   *float64 `json:"scaled_score"`
	QuestionCount int      `json:"question_count"`
}

// AppConfig holds runtime parameters set via CLI flags.
type AppConfig struct {
	TransformerURL string
	SecureCookies  bool
	MaxUploadBytes int64
	SessionTTL     time.Duration
}
