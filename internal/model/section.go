package model

// SectionType is the coarse category derived from a subtype label.
type SectionType string

const (
	SectionLogicalReasoning     SectionType = "Logical Reasoning"
	SectionReadingComprehension SectionType = "Reading Comprehension"
	SectionUnknown              SectionType = "Unknown"
)

// SectionTypes lists every section type in reporting order.
var SectionTypes = []SectionType{
	SectionLogicalReasoning,
	SectionReadingComprehension,
	SectionUnknown,
}

// LogicalReasoningSubtypes are the fixed Logical Reasoning categories.
var LogicalReasoningSubtypes = []string{
	"Assumptions",
	"Strengthen or Weaken",
	"Conclusions and Disputes",
	"Flaws",
	"Deductions and Inference",
	"Matching Structure and Principles",
	"Matching Flaws",
	"Explain or Resolve",
	"Techniques, Roles, and Principles",
}

// ReadingComprehensionSubtypes are the fixed Reading Comprehension categories.
var ReadingComprehensionSubtypes = []string{
	"Humanities passages",
	"Law passages",
	"Social science passages",
	"Science passages",
}

// OtherSubtype is the bucket for rows without a subtype.
const OtherSubtype = "(Other)"
