package ingest

import (
	"log/slog"
	"math"
	"strings"

	"github.com/pavelanni/lsattracker/internal/model"
)

// Options overrides values the transformer could not infer.
type Options struct {
	ExamNumber string // replaces every row's and meta's exam number when set
	ExamDate   string // replaces every meta's exam date when set
}

// timeFields are tried in order for the per-question time.
var timeFields = []string{FieldTotalTimeSeconds, "time_seconds", "seconds"}

// ParseRows converts a per-question CSV payload into records. Rows without
// an exam number cannot be keyed and are dropped.
func ParseRows(text string, opts Options) []model.QuestionRecord {
	table := ParseCSVTable(text)
	out := make([]model.QuestionRecord, 0, len(table.Records))
	dropped := 0
	for _, raw := range table.Records {
		rec := NormalizeHeaders(raw)
		r := rowFromRecord(rec, opts)
		if r.ExamNumber == "" {
			dropped++
			continue
		}
		out = append(out, r)
	}
	if dropped > 0 {
		slog.Warn("dropped rows without exam number", "dropped", dropped, "kept", len(out))
	}
	return out
}

func rowFromRecord(rec Record, opts Options) model.QuestionRecord {
	exam := strings.TrimSpace(rec[FieldExamNumber])
	if opts.ExamNumber != "" {
		exam = strings.TrimSpace(opts.ExamNumber)
	}

	var seconds float64
	for _, f := range timeFields {
		if v, ok := rec[f]; ok && v != "" {
			seconds = NumberOr(v, 0)
			break
		}
	}

	subtype := strings.TrimSpace(rec[FieldSubtype])
	return model.QuestionRecord{
		ExamNumber:          exam,
		Section:             IntOr(rec[FieldSection], 0),
		Question:            IntOr(rec[FieldQuestion], 0),
		Subtype:             subtype,
		Difficulty:          OptionalInt(rec[FieldDifficulty]),
		TotalTimeSeconds:    math.Max(0, seconds),
		QuestionScore:       Score(rec[FieldQuestionScore]),
		Flagged:             Bool(rec[FieldFlagged]),
		ExperimentalSection: Bool(rec[FieldExperimentalSection]),
		SectionType:         ParseSectionType(rec[FieldSectionType], subtype),
	}
}

// ParseMeta converts an exam metadata CSV payload into metadata rows.
func ParseMeta(text string, opts Options) []model.ExamMeta {
	table := ParseCSVTable(text)
	out := make([]model.ExamMeta, 0, len(table.Records))
	for _, raw := range table.Records {
		rec := NormalizeHeaders(raw)
		m := model.ExamMeta{
			ExamNumber:  strings.TrimSpace(rec[FieldExamNumber]),
			ExamDate:    strings.TrimSpace(rec[FieldExamDate]),
			ScaledScore: OptionalNumber(rec[FieldScaledScore]),
		}
		if opts.ExamNumber != "" {
			m.ExamNumber = strings.TrimSpace(opts.ExamNumber)
		}
		if opts.ExamDate != "" {
			m.ExamDate = strings.TrimSpace(opts.ExamDate)
		}
		if m.ExamNumber == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ParseBatch parses both payloads of one transformer response.
func ParseBatch(rowsCSV, metaCSV string, opts Options) model.Batch {
	return model.Batch{
		Rows:  ParseRows(rowsCSV, opts),
		Metas: ParseMeta(metaCSV, opts),
	}
}
