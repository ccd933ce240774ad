package ingest

import (
	"regexp"
	"sort"
	"strings"
)

// Canonical field names.
const (
	FieldExamNumber          = "exam_number"
	FieldSection             = "section"
	FieldQuestion            = "question"
	FieldSubtype             = "subtype"
	FieldDifficulty          = "difficulty"
	FieldTotalTimeSeconds    = "total_time_seconds"
	FieldQuestionScore       = "question_score"
	FieldFlagged             = "flagged"
	FieldExperimentalSection = "experimental_section"
	FieldExamDate            = "exam_date"
	FieldScaledScore         = "scaled_score"
	FieldSectionType         = "section_type"
)

type headerRule struct {
	pattern   *regexp.Regexp
	canonical string
}

// headerRules is checked in order; the first match wins.
var headerRules = []headerRule{
	{regexp.MustCompile(`^(examnumber|examno|exam)$`), FieldExamNumber},
	{regexp.MustCompile(`^(section|sectionid|sectionnumber)$`), FieldSection},
	{regexp.MustCompile(`^(question|q|questionnumber)$`), FieldQuestion},
	{regexp.MustCompile(`^(subtype|type|questiontype|subcategory)$`), FieldSubtype},
	{regexp.MustCompile(`^(difficulty|level)$`), FieldDifficulty},
	{regexp.MustCompile(`^(totaltime|totaltimeinseconds|totaltimeseconds|totaltimesecond|totalseconds|timeinseconds)$`), FieldTotalTimeSeconds},
	{regexp.MustCompile(`^(questionscore|score|correct)$`), FieldQuestionScore},
	{regexp.MustCompile(`^(flag|flagged)$`), FieldFlagged},
	{regexp.MustCompile(`^(experimental|experimentalsection)$`), FieldExperimentalSection},
	{regexp.MustCompile(`^(examdate|date)$`), FieldExamDate},
	{regexp.MustCompile(`^(scaledscore)$`), FieldScaledScore},
	{regexp.MustCompile(`^(sectiontype|sectype)$`), FieldSectionType},
}

var headerStrip = regexp.MustCompile(`[\s_]+`)

// NormalizeKey lowercases a header and strips whitespace and underscores.
func NormalizeKey(header string) string {
	return headerStrip.ReplaceAllString(strings.ToLower(header), "")
}

// CanonicalHeader maps a raw header to its canonical field name, or returns
// it unchanged when no rule applies.
func CanonicalHeader(header string) string {
	key := NormalizeKey(header)
	for _, r := range headerRules {
		if r.pattern.MatchString(key) {
			return r.canonical
		}
	}
	return header
}

// NormalizeHeaders rekeys a record by canonical field names. Unknown
// headers pass through. Raw headers are applied in sorted order, so when
// two of them map to the same canonical name the lexically last one wins.
func NormalizeHeaders(rec Record) Record {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(Record, len(rec))
	for _, k := range keys {
		out[CanonicalHeader(k)] = rec[k]
	}
	return out
}
