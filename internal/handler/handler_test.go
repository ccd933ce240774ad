package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/lsattracker/internal/dashboard"
	appI18n "github.com/pavelanni/lsattracker/internal/i18n"
	"github.com/pavelanni/lsattracker/internal/metrics"
	"github.com/pavelanni/lsattracker/internal/model"
	"github.com/pavelanni/lsattracker/internal/store"
	"github.com/pavelanni/lsattracker/internal/transformer"
)

const (
	rowsCSV = "exam_number,section,question,subtype,question_score,total_time_seconds,flagged\n" +
		"101,1,1,Flaws,1,60,false\n101,1,2,Flaws,0,90,true\n101,2,1,Main Point,1,45,false\n"
	metaCSV = "exam_number,exam_date,scaled_score\n101,2024-05-04,163\n"
)

type testEnv struct {
	srv   *httptest.Server
	h     *Handler
	store *store.Store
}

func newTestEnv(t *testing.T, tf dashboard.Transformer) *testEnv {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n init: %v", err)
	}
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := s.CreateUser(model.User{Username: "alice", DisplayName: "Alice", PasswordHash: string(hash), Active: true}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	h := New(s, tf, metrics.New(prometheus.NewRegistry()), model.AppConfig{MaxUploadBytes: 1 << 20})
	r := chi.NewRouter()
	r.Use(appI18n.Middleware())
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, h: h, store: s}
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	resp := e.do(t, "", http.MethodPost, "/login", "application/json", strings.NewReader(`{"username":"alice","password":"secret"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var lr loginResponse
	decode(t, resp, &lr)
	if lr.Token == "" || lr.DisplayName != "Alice" {
		t.Fatalf("unexpected login response: %+v", lr)
	}
	return lr.Token
}

func (e *testEnv) do(t *testing.T, token, method, path, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) importCSV(t *testing.T, token string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(importRequest{Filename: "pt101.csv", RowsCSV: rowsCSV, MetaCSV: metaCSV})
	return e.do(t, token, http.MethodPost, "/api/import", "application/json", bytes.NewReader(body))
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func detail(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	decode(t, resp, &body)
	return body["detail"]
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t, nil)

	resp := e.do(t, "", http.MethodGet, "/api/records", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := detail(t, resp); got != "Sign in required." {
		t.Errorf("detail = %q", got)
	}

	resp = e.do(t, "bogus", http.MethodGet, "/api/records", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bogus token status = %d, want 401", resp.StatusCode)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	e := newTestEnv(t, nil)
	form := url.Values{"username": {"alice"}, "password": {"wrong"}}
	resp := e.do(t, "", http.MethodPost, "/login", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	resp = e.do(t, "", http.MethodPost, "/login", "application/json", strings.NewReader(`{"username":"alice"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing password status = %d, want 400", resp.StatusCode)
	}
}

func TestLoginSetsCookie(t *testing.T) {
	e := newTestEnv(t, nil)
	form := url.Values{"username": {"alice"}, "password": {"secret"}}
	resp := e.do(t, "", http.MethodPost, "/login", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly {
		t.Fatalf("session cookie missing or not HttpOnly: %+v", cookie)
	}

	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/api/exams", nil)
	req.AddCookie(cookie)
	got, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer got.Body.Close()
	if got.StatusCode != http.StatusOK {
		t.Errorf("cookie auth status = %d", got.StatusCode)
	}
}

func TestImportAndQuery(t *testing.T) {
	e := newTestEnv(t, nil)
	token := e.login(t)

	resp := e.importCSV(t, token)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("import status = %d: %s", resp.StatusCode, detail(t, resp))
	}
	var res struct {
		Upload    model.Upload `json:"upload"`
		Duplicate bool         `json:"duplicate"`
		Message   string       `json:"message"`
	}
	decode(t, resp, &res)
	if res.Duplicate || res.Upload.RowCount != 3 || res.Upload.MetaCount != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Message != "3 records imported." {
		t.Errorf("message = %q", res.Message)
	}

	var ws model.WorkingSet
	decode(t, e.do(t, token, http.MethodGet, "/api/records?section=1&flag=flagged", "", nil), &ws)
	if len(ws.Records) != 1 || ws.Records[0].Question != 2 {
		t.Fatalf("filtered records = %+v", ws.Records)
	}
	if ws.Records[0].ExamDate != "2024-05-04" {
		t.Errorf("exam date = %q", ws.Records[0].ExamDate)
	}

	var sum model.Summary
	decode(t, e.do(t, token, http.MethodGet, "/api/summary", "", nil), &sum)
	if sum.KPIs.Attempted != 3 || sum.KPIs.Correct != 2 || sum.KPIs.Flagged != 1 {
		t.Errorf("kpis = %+v", sum.KPIs)
	}
	if len(sum.Trend) != 1 || sum.Trend[0].ExamNumber != "101" {
		t.Errorf("trend = %+v", sum.Trend)
	}

	var exams []model.ExamSummary
	decode(t, e.do(t, token, http.MethodGet, "/api/exams", "", nil), &exams)
	if len(exams) != 1 || exams[0].QuestionCount != 3 {
		t.Errorf("exams = %+v", exams)
	}

	again := e.importCSV(t, token)
	if again.StatusCode != http.StatusOK {
		t.Fatalf("duplicate status = %d", again.StatusCode)
	}
	decode(t, again, &res)
	if !res.Duplicate {
		t.Error("expected duplicate import to be skipped")
	}

	var ups []model.Upload
	decode(t, e.do(t, token, http.MethodGet, "/api/uploads", "", nil), &ups)
	if len(ups) != 1 {
		t.Errorf("uploads = %d, want 1", len(ups))
	}
}

func TestImportValidation(t *testing.T) {
	e := newTestEnv(t, nil)
	token := e.login(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing rows", `{"meta_csv":"exam_number\n1\n"}`, http.StatusBadRequest},
		{"bad date", `{"rows_csv":"exam_number\n1\n","exam_date":"May 4"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
		{"empty batch", `{"rows_csv":"exam_number,section,question\n"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.do(t, token, http.MethodPost, "/api/import", "application/json", strings.NewReader(tt.body))
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestFilterValidation(t *testing.T) {
	e := newTestEnv(t, nil)
	token := e.login(t)

	for _, q := range []string{"flag=maybe", "from=05/04/2024", "section=one", "section_type=Games"} {
		resp := e.do(t, token, http.MethodGet, "/api/records?"+q, "", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}

	q := url.Values{"section_type": {"Logical Reasoning"}, "subtype": {"Techniques, Roles, and Principles"}}
	resp := e.do(t, token, http.MethodGet, "/api/records?"+q.Encode(), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid filter status = %d", resp.StatusCode)
	}
}

func TestLocalizedErrors(t *testing.T) {
	e := newTestEnv(t, nil)
	resp := e.do(t, "", http.MethodGet, "/api/records?lang=ru", "", nil)
	if got := detail(t, resp); got == "" || got == "Sign in required." {
		t.Errorf("expected russian detail, got %q", got)
	}
}

func uploadBody(t *testing.T, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "pt101.pdf")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("%PDF-1.7 test"))
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func newTransformerServer(t *testing.T, status int, body string) dashboard.Transformer {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	c, err := transformer.New(srv.URL+"/transform", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestUploadThroughTransformer(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{"all_sections_csv": rowsCSV, "exam_metadata_csv": metaCSV})
	e := newTestEnv(t, newTransformerServer(t, http.StatusOK, string(payload)))
	token := e.login(t)

	body, ct := uploadBody(t, map[string]string{"exam_date": "2024-05-04"})
	resp := e.do(t, token, http.MethodPost, "/api/upload", ct, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", resp.StatusCode, detail(t, resp))
	}

	var ws model.WorkingSet
	decode(t, e.do(t, token, http.MethodGet, "/api/records", "", nil), &ws)
	if len(ws.Records) != 3 {
		t.Errorf("records = %d, want 3", len(ws.Records))
	}

	body, ct = uploadBody(t, map[string]string{"exam_date": "yesterday"})
	resp = e.do(t, token, http.MethodPost, "/api/upload", ct, body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad override status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadTransformerFailure(t *testing.T) {
	e := newTestEnv(t, newTransformerServer(t, http.StatusInternalServerError, `{"detail":"Transformer failed"}`))
	token := e.login(t)

	body, ct := uploadBody(t, nil)
	resp := e.do(t, token, http.MethodPost, "/api/upload", ct, body)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	if got := detail(t, resp); !strings.Contains(got, "Transformer failed") {
		t.Errorf("detail = %q", got)
	}

	rows, err := e.store.ListRows(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("store has %d rows after failed upload", len(rows))
	}
}

func TestUploadWithoutTransformer(t *testing.T) {
	e := newTestEnv(t, nil)
	token := e.login(t)
	body, ct := uploadBody(t, nil)
	resp := e.do(t, token, http.MethodPost, "/api/upload", ct, body)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestUploadTooLarge(t *testing.T) {
	e := newTestEnv(t, nil)
	e.h.config.MaxUploadBytes = 16
	token := e.login(t)
	body, ct := uploadBody(t, nil)
	resp := e.do(t, token, http.MethodPost, "/api/upload", ct, body)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}

func TestDeleteExam(t *testing.T) {
	e := newTestEnv(t, nil)
	token := e.login(t)
	if resp := e.importCSV(t, token); resp.StatusCode != http.StatusCreated {
		t.Fatalf("import status = %d", resp.StatusCode)
	}

	resp := e.do(t, token, http.MethodDelete, "/api/exams/101", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	var out struct {
		Deleted int64  `json:"deleted"`
		Message string `json:"message"`
	}
	decode(t, resp, &out)
	if out.Deleted != 3 {
		t.Errorf("deleted = %d, want 3", out.Deleted)
	}

	var ws model.WorkingSet
	decode(t, e.do(t, token, http.MethodGet, "/api/records", "", nil), &ws)
	if len(ws.Records) != 0 || len(ws.Metas) != 0 {
		t.Errorf("working set not empty after delete: %+v", ws)
	}
}

func TestExport(t *testing.T) {
	e := newTestEnv(t, nil)
	token := e.login(t)
	if resp := e.importCSV(t, token); resp.StatusCode != http.StatusCreated {
		t.Fatalf("import status = %d", resp.StatusCode)
	}

	resp := e.do(t, token, http.MethodGet, "/api/export?format=csv&exam=101", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("csv status = %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/csv") {
		t.Errorf("content type = %q", resp.Header.Get("Content-Type"))
	}
	b, _ := io.ReadAll(resp.Body)
	if lines := strings.Split(strings.TrimSpace(string(b)), "\n"); len(lines) != 4 {
		t.Errorf("csv lines = %d, want 4", len(lines))
	}

	resp = e.do(t, token, http.MethodGet, "/api/export?format=xlsx", "", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != xlsxContentType {
		t.Errorf("xlsx status = %d, type = %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), ".xlsx") {
		t.Errorf("disposition = %q", resp.Header.Get("Content-Disposition"))
	}

	resp = e.do(t, token, http.MethodGet, "/api/export?format=pdf", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown format status = %d, want 400", resp.StatusCode)
	}
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t, nil)
	token := e.login(t)
	if n := e.h.SessionCount(); n != 1 {
		t.Fatalf("sessions = %d, want 1", n)
	}

	resp := e.do(t, token, http.MethodPost, "/logout", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	if n := e.h.SessionCount(); n != 0 {
		t.Errorf("sessions after logout = %d", n)
	}
	resp = e.do(t, token, http.MethodGet, "/api/records", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status after logout = %d, want 401", resp.StatusCode)
	}
}

func TestSessionReopensAfterRestart(t *testing.T) {
	e := newTestEnv(t, nil)
	token := e.login(t)
	if resp := e.importCSV(t, token); resp.StatusCode != http.StatusCreated {
		t.Fatalf("import status = %d", resp.StatusCode)
	}
	e.h.dropSessions(token)

	var ws model.WorkingSet
	decode(t, e.do(t, token, http.MethodGet, "/api/records", "", nil), &ws)
	if len(ws.Records) != 3 {
		t.Errorf("records after reopen = %d, want 3", len(ws.Records))
	}
}

func TestCleanupSessions(t *testing.T) {
	e := newTestEnv(t, nil)
	live := e.login(t)

	expired, err := e.store.CreateAuthSession(1, time.Nanosecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := e.h.session(context.Background(), expired.ID, 1); err != nil {
		t.Fatal(err)
	}
	if n := e.h.SessionCount(); n != 2 {
		t.Fatalf("sessions = %d, want 2", n)
	}

	if err := e.h.CleanupSessions(); err != nil {
		t.Fatal(err)
	}
	if n := e.h.SessionCount(); n != 1 {
		t.Errorf("sessions after cleanup = %d, want 1", n)
	}
	if resp := e.do(t, live, http.MethodGet, "/api/exams", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("live session status = %d", resp.StatusCode)
	}
}

func TestConcurrentSessionOpenSharesOne(t *testing.T) {
	e := newTestEnv(t, nil)
	auth, err := e.store.CreateAuthSession(1, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	const n = 8
	got := make([]*dashboard.Session, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := e.h.session(context.Background(), auth.ID, 1)
			if err != nil {
				t.Error(err)
				return
			}
			got[i] = s
		}()
	}
	wg.Wait()

	for i, s := range got {
		if s != got[0] {
			t.Errorf("session %d = %p, want %p", i, s, got[0])
		}
	}
	if c := e.h.SessionCount(); c != 1 {
		t.Errorf("sessions = %d, want 1", c)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t, nil)
	if resp := e.do(t, "", http.MethodGet, "/healthz", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	token := e.login(t)
	e.importCSV(t, token)
	resp := e.do(t, "", http.MethodGet, "/metrics", "", nil)
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), `lsattracker_uploads_total{result="ok"} 1`) {
		t.Errorf("metrics output missing upload counter:\n%s", b)
	}
}
