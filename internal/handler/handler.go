package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/lsattracker/internal/dashboard"
	appI18n "github.com/pavelanni/lsattracker/internal/i18n"
	"github.com/pavelanni/lsattracker/internal/metrics"
	"github.com/pavelanni/lsattracker/internal/model"
	"github.com/pavelanni/lsattracker/internal/store"
	"github.com/pavelanni/lsattracker/internal/transformer"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	tf       dashboard.Transformer
	metrics  *metrics.Metrics
	config   model.AppConfig
	validate *validator.Validate

	mu       sync.Mutex
	sessions map[string]*dashboard.Session // keyed by auth token
}

// New creates a new Handler. tf may be nil, in which case PDF uploads are
// rejected and only CSV imports work.
func New(s *store.Store, tf dashboard.Transformer, m *metrics.Metrics, cfg model.AppConfig) *Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	return &Handler{
		store:    s,
		tf:       tf,
		metrics:  m,
		config:   cfg,
		validate: newValidator(),
		sessions: make(map[string]*dashboard.Session),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealthz)
	r.Handle("/metrics", h.metrics.Handler())
	r.Post("/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/logout", h.handleLogout)
		r.Route("/api", func(r chi.Router) {
			r.Get("/records", h.handleRecords)
			r.Get("/summary", h.handleSummary)
			r.Get("/exams", h.handleExams)
			r.Delete("/exams/{examNumber}", h.handleDeleteExam)
			r.Get("/uploads", h.handleUploads)
			r.Post("/upload", h.handleUpload)
			r.Post("/import", h.handleImport)
			r.Post("/refresh", h.handleRefresh)
			r.Get("/export", h.handleExport)
		})
	})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.UserCount(); err != nil {
		slog.Error("health check failed", "error", err)
		h.writeDetail(w, r, http.StatusServiceUnavailable, appI18n.T(r.Context(), "ErrInternal"))
		return
	}
	render.JSON(w, r, map[string]bool{"ok": true})
}

func (h *Handler) handleRecords(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filterFromRequest(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, sessionFromContext(r.Context()).Working(f))
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filterFromRequest(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, sessionFromContext(r.Context()).Summary(f))
}

func (h *Handler) handleExams(w http.ResponseWriter, r *http.Request) {
	exams, err := sessionFromContext(r.Context()).Exams(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, exams)
}

func (h *Handler) handleUploads(w http.ResponseWriter, r *http.Request) {
	ups, err := sessionFromContext(r.Context()).Uploads(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, ups)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if err := sess.Refresh(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]int{"rows": len(sess.Rows()), "metas": len(sess.Metas())})
}

func (h *Handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	exam := strings.TrimSpace(chi.URLParam(r, "examNumber"))
	removed, err := sessionFromContext(r.Context()).DeleteExam(r.Context(), exam)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{
		"exam_number": exam,
		"deleted":     removed,
		"message":     appI18n.Tp(r.Context(), "MsgQuestionsDeleted", int(removed)),
	})
}

type uploadForm struct {
	ExamNumber string `json:"exam_number" validate:"omitempty,max=64"`
	ExamDate   string `json:"exam_date" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeBodyError(w, r, "ErrInvalidUpload", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeInvalid(w, r, "ErrInvalidUpload", "file is required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		h.writeBodyError(w, r, "ErrInvalidUpload", err)
		return
	}

	form := uploadForm{
		ExamNumber: strings.TrimSpace(r.FormValue("exam_number")),
		ExamDate:   strings.TrimSpace(r.FormValue("exam_date")),
	}
	if err := h.validate.Struct(form); err != nil {
		h.writeInvalid(w, r, "ErrInvalidUpload", validationReason(err))
		return
	}

	res, err := sessionFromContext(r.Context()).Upload(r.Context(), dashboard.UploadInput{
		Filename:   header.Filename,
		Content:    content,
		ExamNumber: form.ExamNumber,
		ExamDate:   form.ExamDate,
		Force:      formBool(r.FormValue("force")),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeResult(w, r, res)
}

type importRequest struct {
	Filename   string `json:"filename"`
	RowsCSV    string `json:"rows_csv" validate:"required"`
	MetaCSV    string `json:"meta_csv"`
	ExamNumber string `json:"exam_number" validate:"omitempty,max=64"`
	ExamDate   string `json:"exam_date" validate:"omitempty,datetime=2006-01-02"`
	Force      bool   `json:"force"`
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	var req importRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.writeBodyError(w, r, "ErrInvalidUpload", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeInvalid(w, r, "ErrInvalidUpload", validationReason(err))
		return
	}

	res, err := sessionFromContext(r.Context()).Import(r.Context(), dashboard.ImportInput{
		Filename:   req.Filename,
		RowsCSV:    req.RowsCSV,
		MetaCSV:    req.MetaCSV,
		ExamNumber: strings.TrimSpace(req.ExamNumber),
		ExamDate:   strings.TrimSpace(req.ExamDate),
		Force:      req.Force,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeResult(w, r, res)
}

func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, res dashboard.Result) {
	msg := appI18n.Tp(r.Context(), "MsgRecordsImported", res.Upload.RowCount)
	status := http.StatusCreated
	if res.Duplicate {
		msg = appI18n.T(r.Context(), "MsgDuplicateUpload")
		status = http.StatusOK
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]any{
		"upload":    res.Upload,
		"duplicate": res.Duplicate,
		"message":   msg,
	})
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filterFromRequest(w, r)
	if !ok {
		return
	}
	sess := sessionFromContext(r.Context())
	format := strings.ToLower(r.URL.Query().Get("format"))

	var buf bytes.Buffer
	var contentType, ext string
	var err error
	switch format {
	case "", "csv":
		contentType, ext = "text/csv; charset=utf-8", "csv"
		err = sess.ExportCSV(&buf, f)
	case "xlsx":
		contentType, ext = xlsxContentType, "xlsx"
		err = sess.ExportXLSX(&buf, f)
	default:
		h.writeDetail(w, r, http.StatusBadRequest,
			appI18n.Td(r.Context(), "ErrUnknownFormat", map[string]any{"Format": format}))
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	name := fmt.Sprintf("lsat-export-%s.%s", time.Now().UTC().Format("20060102"), ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

// writeError maps domain errors to status codes and localised details.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var te *transformer.TransportError
	var se *dashboard.StoreError
	switch {
	case errors.As(err, &te):
		msg := appI18n.T(ctx, "ErrTransformerUnreachable")
		if te.StatusCode != 0 && te.Detail != "" {
			msg = appI18n.Td(ctx, "ErrTransformer", map[string]any{"Status": te.StatusCode, "Detail": te.Detail})
		} else if te.StatusCode != 0 {
			msg = appI18n.Td(ctx, "ErrTransformerStatus", map[string]any{"Status": te.StatusCode})
		}
		h.writeDetail(w, r, http.StatusBadGateway, msg)
	case errors.Is(err, dashboard.ErrNoTransformer):
		h.writeDetail(w, r, http.StatusServiceUnavailable, appI18n.T(ctx, "ErrNoTransformer"))
	case errors.Is(err, transformer.ErrMissingData):
		h.writeDetail(w, r, http.StatusUnprocessableEntity, appI18n.T(ctx, "ErrMissingData"))
	case errors.Is(err, dashboard.ErrEmptyBatch):
		h.writeDetail(w, r, http.StatusUnprocessableEntity, appI18n.T(ctx, "ErrEmptyBatch"))
	case errors.As(err, &se):
		slog.Error("store operation failed", "op", se.Op, "error", se.Err)
		h.writeDetail(w, r, http.StatusInternalServerError, appI18n.T(ctx, "ErrStore"))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.writeDetail(w, r, http.StatusGatewayTimeout, appI18n.T(ctx, "ErrTransformerUnreachable"))
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		h.writeDetail(w, r, http.StatusInternalServerError, appI18n.T(ctx, "ErrInternal"))
	}
}

func (h *Handler) writeBodyError(w http.ResponseWriter, r *http.Request, msgID string, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		h.writeDetail(w, r, http.StatusRequestEntityTooLarge, appI18n.T(r.Context(), "ErrFileTooLarge"))
		return
	}
	h.writeInvalid(w, r, msgID, err.Error())
}

func (h *Handler) writeInvalid(w http.ResponseWriter, r *http.Request, msgID, reason string) {
	h.writeDetail(w, r, http.StatusBadRequest, appI18n.Td(r.Context(), msgID, map[string]any{"Reason": reason}))
}

func (h *Handler) writeDetail(w http.ResponseWriter, r *http.Request, status int, detail string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"detail": detail})
}

func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag())
	}
	return err.Error()
}

func formBool(v string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(v))
	return b
}
