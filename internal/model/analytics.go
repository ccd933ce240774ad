package model

// FlagState selects flagged or unflagged questions.
type FlagState string

const (
	FlagFlagged    FlagState = "flagged"
	FlagNotFlagged FlagState = "not_flagged"
)

// FilterSpec is the compound filter applied to the joined records.
// Empty slices and empty dates mean no restriction on that dimension.
type FilterSpec struct {
	ExamNumbers  []string      `json:"exam_numbers,omitempty"`
	Sections     []int         `json:"sections,omitempty"`
	SectionTypes []SectionType `json:"section_types,omitempty"`
	Subtypes     []string      `json:"subtypes,omitempty"`
	Flags        []FlagState   `json:"flags,omitempty"`
	DateFrom     string        `json:"date_from,omitempty"` // YYYY-MM-DD, inclusive
	DateTo       string        `json:"date_to,omitempty"`   // YYYY-MM-DD, inclusive
}

// WorkingSet is the joined, filtered view used as aggregation input.
type WorkingSet struct {
	Records []JoinedRecord `json:"records"`
	Metas   []ExamMeta     `json:"metas"`
}

// SectionTypeStat is accuracy for one section type.
type SectionTypeStat struct {
	SectionType SectionType `json:"section_type"`
	Attempted   int         `json:"attempted"`
	Correct     int         `json:"correct"`
	Accuracy    int         `json:"accuracy"`
}

// SubtypeStat is accuracy and pacing for one subtype bucket.
type SubtypeStat struct {
	Subtype     string      `json:"subtype"`
	SectionType SectionType `json:"section_type"`
	Attempted   int         `json:"attempted"`
	Correct     int         `json:"correct"`
	Accuracy    int         `json:"accuracy"`
	AvgSec      int         `json:"avg_sec"`
}

// ExamTrend is one point of the per-exam trend series.
type ExamTrend struct {
	ExamNumber  string   `json:"exam_number"`
	ExamDate    string   `json:"exam_date"`
	ScaledScore *float64 `json:"scaled_score"`
	Attempted   int      `json:"attempted"`
	Correct     int      `json:"correct"`
	Accuracy    int      `json:"accuracy"`
}

// KPIs are headline numbers over a working set.
type KPIs struct {
	Attempted int      `json:"attempted"`
	Correct   int      `json:"correct"`
	Accuracy  float64  `json:"accuracy"`
	AvgSec    float64  `json:"avg_sec"`
	Flagged   int      `json:"flagged"`
	ScaledAvg *float64 `json:"scaled_avg"`
}

// Summary bundles every aggregate view of a working set.
type Summary struct {
	KPIs          KPIs              `json:"kpis"`
	BySectionType []SectionTypeStat `json:"by_section_type"`
	BySubtype     []SubtypeStat     `json:"by_subtype"`
	Trend         []ExamTrend       `json:"trend"`
}
