package ingest

import (
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pavelanni/lsattracker/internal/model"
)

var nonNumeric = regexp.MustCompile(`[^0-9.\-]`)

// Number strips everything but digits, '.' and '-' and parses the rest.
// ok is false for empty input or anything that does not parse.
func Number(v string) (float64, bool) {
	s := nonNumeric.ReplaceAllString(v, "")
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// NumberOr is Number with a fallback.
func NumberOr(v string, def float64) float64 {
	if n, ok := Number(v); ok {
		return n
	}
	return def
}

// OptionalNumber is Number with nil as the fallback.
func OptionalNumber(v string) *float64 {
	if n, ok := Number(v); ok {
		return &n
	}
	return nil
}

// IntOr parses v as a whole number, truncating any fraction.
func IntOr(v string, def int) int {
	if n, ok := Number(v); ok {
		return int(n)
	}
	return def
}

// OptionalInt is IntOr with nil as the fallback.
func OptionalInt(v string) *int {
	if n, ok := Number(v); ok {
		i := int(n)
		return &i
	}
	return nil
}

// Bool reports whether v is one of true, 1, yes, y (case-insensitive).
func Bool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}

// Score coerces a question score cell to 0 or 1.
func Score(v string) int {
	if NumberOr(v, 0) != 0 || Bool(v) {
		return 1
	}
	return 0
}

// InferSectionType classifies a subtype against the fixed reference lists.
// Every input maps to exactly one section type.
func InferSectionType(subtype string) model.SectionType {
	switch {
	case subtype == "":
		return model.SectionUnknown
	case slices.Contains(model.LogicalReasoningSubtypes, subtype):
		return model.SectionLogicalReasoning
	case slices.Contains(model.ReadingComprehensionSubtypes, subtype):
		return model.SectionReadingComprehension
	default:
		return model.SectionUnknown
	}
}

// ParseSectionType accepts a stored section type label, falling back to
// inference from the subtype when the label is blank or unrecognised.
func ParseSectionType(label, subtype string) model.SectionType {
	for _, st := range model.SectionTypes {
		if strings.EqualFold(strings.TrimSpace(label), string(st)) {
			return st
		}
	}
	return InferSectionType(subtype)
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseDate parses s as a calendar date. The time of day is dropped.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
