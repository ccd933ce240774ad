package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	appI18n "github.com/pavelanni/lsattracker/internal/i18n"
	"github.com/pavelanni/lsattracker/internal/model"
)

// filterQuery mirrors model.FilterSpec as it arrives on the query string.
// Multi-valued dimensions use repeated parameters, since subtype labels
// contain commas.
type filterQuery struct {
	ExamNumbers  []string `json:"exam" validate:"dive,required,max=64"`
	Sections     []string `json:"section" validate:"dive,number"`
	SectionTypes []string `json:"section_type" validate:"dive,oneof='Logical Reasoning' 'Reading Comprehension' Unknown"`
	Subtypes     []string `json:"subtype" validate:"dive,required"`
	Flags        []string `json:"flag" validate:"dive,oneof=flagged not_flagged"`
	DateFrom     string   `json:"from" validate:"omitempty,datetime=2006-01-02"`
	DateTo       string   `json:"to" validate:"omitempty,datetime=2006-01-02"`
}

func parseFilterQuery(q url.Values) filterQuery {
	return filterQuery{
		ExamNumbers:  trimmed(q["exam"]),
		Sections:     trimmed(q["section"]),
		SectionTypes: trimmed(q["section_type"]),
		Subtypes:     trimmed(q["subtype"]),
		Flags:        trimmed(q["flag"]),
		DateFrom:     strings.TrimSpace(q.Get("from")),
		DateTo:       strings.TrimSpace(q.Get("to")),
	}
}

func (fq filterQuery) filter() model.FilterSpec {
	f := model.FilterSpec{
		ExamNumbers: fq.ExamNumbers,
		Subtypes:    fq.Subtypes,
		DateFrom:    fq.DateFrom,
		DateTo:      fq.DateTo,
	}
	for _, s := range fq.Sections {
		n, _ := strconv.Atoi(s)
		f.Sections = append(f.Sections, n)
	}
	for _, st := range fq.SectionTypes {
		f.SectionTypes = append(f.SectionTypes, model.SectionType(st))
	}
	for _, fl := range fq.Flags {
		f.Flags = append(f.Flags, model.FlagState(fl))
	}
	return f
}

// filterFromRequest parses and validates the filter. On failure it writes a
// 400 response and returns false.
func (h *Handler) filterFromRequest(w http.ResponseWriter, r *http.Request) (model.FilterSpec, bool) {
	fq := parseFilterQuery(r.URL.Query())
	if err := h.validate.Struct(fq); err != nil {
		h.writeDetail(w, r, http.StatusBadRequest,
			appI18n.Td(r.Context(), "ErrInvalidFilter", map[string]any{"Reason": validationReason(err)}))
		return model.FilterSpec{}, false
	}
	return fq.filter(), true
}

func trimmed(vals []string) []string {
	var out []string
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
