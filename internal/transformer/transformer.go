// Package transformer talks to the external service that converts an exam
// score PDF into the per-question and exam metadata CSV payloads.
package transformer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrMissingData is returned when a response lacks either CSV payload.
var ErrMissingData = errors.New("transformer response missing one of the CSVs")

// TransportError reports a failed call to the transformer. Detail carries
// the service's own message when it sent one.
type TransportError struct {
	StatusCode int
	Detail     string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("transformer error %d: %s", e.StatusCode, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("transformer unreachable: %v", e.Err)
	default:
		return fmt.Sprintf("transformer error %d", e.StatusCode)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Request is one PDF to transform. ExamNumber and ExamDate are optional
// overrides forwarded to the service.
type Request struct {
	Filename   string    `json:"filename" validate:"required"`
	File       io.Reader `json:"-" validate:"required"`
	ExamNumber string    `json:"exam_number" validate:"omitempty,max=64"`
	ExamDate   string    `json:"exam_date" validate:"omitempty,datetime=2006-01-02"`
}

// Payload holds the two CSV documents of a successful transform.
type Payload struct {
	RowsCSV string
	MetaCSV string
}

// Client posts PDFs to the transformer endpoint.
type Client struct {
	url      string
	http     *http.Client
	validate *validator.Validate
}

// New creates a client for the transform endpoint at rawURL. The timeout
// bounds each call.
func New(rawURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse transformer url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("transformer url must be http or https, got %q", rawURL)
	}
	return &Client{
		url:      rawURL,
		http:     &http.Client{Timeout: timeout},
		validate: newValidator(),
	}, nil
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

// Validate checks a request without sending it.
func (c *Client) Validate(req Request) error {
	if err := c.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed %q check", fe.Field(), fe.Tag())
		}
		return err
	}
	return nil
}

// Transform uploads the PDF and decodes both CSV payloads.
func (c *Client) Transform(ctx context.Context, req Request) (Payload, error) {
	if err := c.Validate(req); err != nil {
		return Payload{}, err
	}

	body, contentType, err := encodeForm(req)
	if err != nil {
		return Payload{}, fmt.Errorf("encode upload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return Payload{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Payload{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Payload{}, &TransportError{StatusCode: resp.StatusCode, Err: err}
	}
	slog.Debug("transformer response",
		"status", resp.StatusCode,
		"bytes", len(data),
		"duration", time.Since(start),
		"filename", req.Filename,
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Payload{}, &TransportError{StatusCode: resp.StatusCode, Detail: errorDetail(data)}
	}
	return DecodePayload(resp.Header.Get("Content-Type"), data)
}

func encodeForm(req Request) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(req.Filename)))
	h.Set("Content-Type", fileContentType(req.Filename))
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, req.File); err != nil {
		return nil, "", err
	}

	if v := strings.TrimSpace(req.ExamNumber); v != "" {
		if err := mw.WriteField("exam_number", v); err != nil {
			return nil, "", err
		}
	}
	if v := strings.TrimSpace(req.ExamDate); v != "" {
		if err := mw.WriteField("exam_date", v); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func fileContentType(name string) string {
	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		return "application/pdf"
	}
	return "application/octet-stream"
}

// errorDetail extracts the "detail" field of a JSON error body. Non-string
// details are returned as compact JSON.
func errorDetail(body []byte) string {
	var e struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err != nil || len(e.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Detail, &s); err == nil {
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, e.Detail); err != nil {
		return string(e.Detail)
	}
	return compact.String()
}

var metaSeparator = regexp.MustCompile(`\r?\n---META---\r?\n`)

// DecodePayload reads a transformer response body. JSON bodies carry the
// CSVs under all_sections_csv (or all_sections_clean_scored) and
// exam_metadata_csv (or exam_metadata). Any other body is text with the
// two CSVs separated by a ---META--- line. Both CSVs must be non-blank.
func DecodePayload(contentType string, body []byte) (Payload, error) {
	var p Payload
	if isJSON(contentType) {
		var doc struct {
			AllSectionsCSV         string `json:"all_sections_csv"`
			AllSectionsCleanScored string `json:"all_sections_clean_scored"`
			ExamMetadataCSV        string `json:"exam_metadata_csv"`
			ExamMetadata           string `json:"exam_metadata"`
		}
		if err := json.Unmarshal(body, &doc); err != nil {
			return Payload{}, fmt.Errorf("decode transformer JSON: %w", err)
		}
		p.RowsCSV = firstNonEmpty(doc.AllSectionsCSV, doc.AllSectionsCleanScored)
		p.MetaCSV = firstNonEmpty(doc.ExamMetadataCSV, doc.ExamMetadata)
	} else {
		parts := metaSeparator.Split(string(body), 2)
		p.RowsCSV = parts[0]
		if len(parts) > 1 {
			p.MetaCSV = parts[1]
		}
	}

	if strings.TrimSpace(p.RowsCSV) == "" || strings.TrimSpace(p.MetaCSV) == "" {
		return Payload{}, ErrMissingData
	}
	return p, nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "application/json")
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Ping checks the service's /healthz endpoint on the transformer host.
func (c *Client) Ping(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return err
	}
	u.Path = "/healthz"
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &TransportError{StatusCode: resp.StatusCode}
	}
	return nil
}
