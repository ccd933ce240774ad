package analytics

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/pavelanni/lsattracker/internal/ingest"
	"github.com/pavelanni/lsattracker/internal/model"
)

// percent returns round(100*correct/attempted), or 0 when nothing was attempted.
func percent(correct, attempted int) int {
	if attempted == 0 {
		return 0
	}
	return roundHalfUp(100 * float64(correct) / float64(attempted))
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

// BySectionType reports accuracy for every section type in fixed order.
func BySectionType(records []model.JoinedRecord) []model.SectionTypeStat {
	out := make([]model.SectionTypeStat, 0, len(model.SectionTypes))
	for _, st := range model.SectionTypes {
		stat := model.SectionTypeStat{SectionType: st}
		for _, r := range records {
			if r.SectionType != st {
				continue
			}
			stat.Attempted++
			if r.Correct() {
				stat.Correct++
			}
		}
		stat.Accuracy = percent(stat.Correct, stat.Attempted)
		out = append(out, stat)
	}
	return out
}

type subtypeAcc struct {
	attempted int
	correct   int
	seconds   float64
}

// BySubtype reports accuracy and mean time per subtype. Every fixed subtype
// is present even with no attempts. Rows without a subtype go to the
// "(Other)" bucket; unrecognised subtypes get a bucket of their own. The
// result is sorted weakest first: accuracy ascending, then attempted
// descending, then by name.
func BySubtype(records []model.JoinedRecord) []model.SubtypeStat {
	order := make([]string, 0, len(model.LogicalReasoningSubtypes)+len(model.ReadingComprehensionSubtypes)+1)
	buckets := make(map[string]*subtypeAcc)
	add := func(name string) *subtypeAcc {
		if b, ok := buckets[name]; ok {
			return b
		}
		b := &subtypeAcc{}
		buckets[name] = b
		order = append(order, name)
		return b
	}

	for _, s := range model.LogicalReasoningSubtypes {
		add(s)
	}
	for _, s := range model.ReadingComprehensionSubtypes {
		add(s)
	}

	for _, r := range records {
		name := r.Subtype
		if name == "" {
			name = model.OtherSubtype
		}
		b := add(name)
		b.attempted++
		if r.Correct() {
			b.correct++
		}
		b.seconds += r.TotalTimeSeconds
	}

	out := make([]model.SubtypeStat, 0, len(order))
	for _, name := range order {
		b := buckets[name]
		stat := model.SubtypeStat{
			Subtype:     name,
			SectionType: ingest.InferSectionType(name),
			Attempted:   b.attempted,
			Correct:     b.correct,
			Accuracy:    percent(b.correct, b.attempted),
		}
		if b.attempted > 0 {
			stat.AvgSec = roundHalfUp(b.seconds / float64(b.attempted))
		}
		out = append(out, stat)
	}

	slices.SortStableFunc(out, func(a, b model.SubtypeStat) int {
		if c := cmp.Compare(a.Accuracy, b.Accuracy); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Attempted, a.Attempted); c != 0 {
			return c
		}
		return strings.Compare(a.Subtype, b.Subtype)
	})
	return out
}

// ByExam builds the per-exam trend series. Exams that only have metadata
// appear with zero attempts.
func ByExam(ws model.WorkingSet) []model.ExamTrend {
	var order []string
	groups := make(map[string]*model.ExamTrend)
	get := func(exam, date string) *model.ExamTrend {
		if g, ok := groups[exam]; ok {
			return g
		}
		g := &model.ExamTrend{ExamNumber: exam, ExamDate: date}
		groups[exam] = g
		order = append(order, exam)
		return g
	}

	for _, r := range ws.Records {
		g := get(r.ExamNumber, r.ExamDate)
		g.Attempted++
		if r.Correct() {
			g.Correct++
		}
	}
	for _, m := range ws.Metas {
		g := get(m.ExamNumber, m.ExamDate)
		if m.ScaledScore != nil {
			s := *m.ScaledScore
			g.ScaledScore = &s
		}
		if g.ExamDate == "" {
			g.ExamDate = m.ExamDate
		}
	}

	out := make([]model.ExamTrend, 0, len(order))
	for _, exam := range order {
		g := groups[exam]
		g.Accuracy = percent(g.Correct, g.Attempted)
		out = append(out, *g)
	}
	slices.SortStableFunc(out, compareExams)
	return out
}

// compareExams orders dated exams by date ahead of undated ones. Ties fall
// back to the exam number: numeric numbers first in numeric order, then the
// rest lexically. Comparing a dated exam to an undated one by number would
// make the order cyclic, and a sort over a cyclic order is unspecified.
func compareExams(a, b model.ExamTrend) int {
	da, okA := ingest.ParseDate(a.ExamDate)
	db, okB := ingest.ParseDate(b.ExamDate)
	switch {
	case okA && okB:
		if c := da.Compare(db); c != 0 {
			return c
		}
	case okA:
		return -1
	case okB:
		return 1
	}

	na, errA := strconv.ParseFloat(strings.TrimSpace(a.ExamNumber), 64)
	nb, errB := strconv.ParseFloat(strings.TrimSpace(b.ExamNumber), 64)
	switch {
	case errA == nil && errB == nil:
		if c := cmp.Compare(na, nb); c != 0 {
			return c
		}
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a.ExamNumber, b.ExamNumber)
}

// Summarize computes the headline KPIs of a working set.
func Summarize(ws model.WorkingSet) model.KPIs {
	var k model.KPIs
	var seconds float64
	for _, r := range ws.Records {
		k.Attempted++
		if r.Correct() {
			k.Correct++
		}
		if r.Flagged {
			k.Flagged++
		}
		seconds += r.TotalTimeSeconds
	}
	if k.Attempted > 0 {
		k.Accuracy = 100 * float64(k.Correct) / float64(k.Attempted)
		k.AvgSec = seconds / float64(k.Attempted)
	}

	var sum float64
	var n int
	for _, m := range ws.Metas {
		if m.ScaledScore != nil {
			sum += *m.ScaledScore
			n++
		}
	}
	if n > 0 {
		avg := sum / float64(n)
		k.ScaledAvg = &avg
	}
	return k
}

// Summary computes every aggregate view of ws.
func Summary(ws model.WorkingSet) model.Summary {
	return model.Summary{
		KPIs:          Summarize(ws),
		BySectionType: BySectionType(ws.Records),
		BySubtype:     BySubtype(ws.Records),
		Trend:         ByExam(ws),
	}
}

// FormatDuration renders seconds as m:ss.
func FormatDuration(sec float64) string {
	s := roundHalfUp(math.Max(0, sec))
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
