// Package analytics joins records with exam metadata, filters them, and
// computes grouped statistics. Every function is pure.
package analytics

import (
	"slices"
	"time"

	"github.com/pavelanni/lsattracker/internal/ingest"
	"github.com/pavelanni/lsattracker/internal/model"
)

// Join attaches each record's exam date and scaled score. Records without
// matching metadata get an empty date and nil score. A blank section type
// is inferred from the subtype.
func Join(rows []model.QuestionRecord, metas []model.ExamMeta) []model.JoinedRecord {
	byExam := make(map[string]model.ExamMeta, len(metas))
	for _, m := range metas {
		byExam[m.ExamNumber] = m
	}

	out := make([]model.JoinedRecord, 0, len(rows))
	for _, r := range rows {
		j := model.JoinedRecord{QuestionRecord: r}
		if j.SectionType == "" {
			j.SectionType = ingest.InferSectionType(r.Subtype)
		}
		if m, ok := byExam[r.ExamNumber]; ok {
			j.ExamDate = m.ExamDate
			if m.ScaledScore != nil {
				s := *m.ScaledScore
				j.ScaledScore = &s
			}
		}
		out = append(out, j)
	}
	return out
}

// Apply joins rows with metas and keeps the records matching f. The
// returned metas are those passing f's exam and date dimensions.
func Apply(rows []model.QuestionRecord, metas []model.ExamMeta, f model.FilterSpec) model.WorkingSet {
	p := newPredicate(f)

	records := make([]model.JoinedRecord, 0, len(rows))
	for _, j := range Join(rows, metas) {
		if p.record(j) {
			records = append(records, j)
		}
	}

	keptMetas := make([]model.ExamMeta, 0, len(metas))
	for _, m := range metas {
		if p.exam(m.ExamNumber) && p.date(m.ExamDate) {
			keptMetas = append(keptMetas, m)
		}
	}
	return model.WorkingSet{Records: records, Metas: keptMetas}
}

type predicate struct {
	f          model.FilterSpec
	from, to   time.Time
	hasFrom    bool
	hasTo      bool
	onlyFlag   bool
	onlyUnflag bool
}

// newPredicate resolves the date bounds once. An unparseable bound is
// treated as absent.
func newPredicate(f model.FilterSpec) predicate {
	p := predicate{f: f}
	p.from, p.hasFrom = ingest.ParseDate(f.DateFrom)
	p.to, p.hasTo = ingest.ParseDate(f.DateTo)

	flagged := slices.Contains(f.Flags, model.FlagFlagged)
	unflagged := slices.Contains(f.Flags, model.FlagNotFlagged)
	p.onlyFlag = flagged && !unflagged
	p.onlyUnflag = unflagged && !flagged
	return p
}

func (p predicate) record(j model.JoinedRecord) bool {
	if !p.exam(j.ExamNumber) {
		return false
	}
	if len(p.f.Sections) > 0 && !slices.Contains(p.f.Sections, j.Section) {
		return false
	}
	if len(p.f.SectionTypes) > 0 && !slices.Contains(p.f.SectionTypes, j.SectionType) {
		return false
	}
	if len(p.f.Subtypes) > 0 && !slices.Contains(p.f.Subtypes, j.Subtype) {
		return false
	}
	if p.onlyFlag && !j.Flagged {
		return false
	}
	if p.onlyUnflag && j.Flagged {
		return false
	}
	return p.date(j.ExamDate)
}

func (p predicate) exam(examNumber string) bool {
	return len(p.f.ExamNumbers) == 0 || slices.Contains(p.f.ExamNumbers, examNumber)
}

// date passes everything when no bound is set. Otherwise the value must be
// a parseable calendar date inside [from, to].
func (p predicate) date(value string) bool {
	if !p.hasFrom && !p.hasTo {
		return true
	}
	d, ok := ingest.ParseDate(value)
	if !ok {
		return false
	}
	if p.hasFrom && d.Before(p.from) {
		return false
	}
	if p.hasTo && d.After(p.to) {
		return false
	}
	return true
}
