package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/lsattracker/internal/model"
)

const transformerRows = `exam_number,Section,Question,Subtype,Difficulty,total_time_seconds,question_score,Flagged,experimental_section
101,1,1,Flaws,3,75,1,False,False
101,1,2,Assumptions,,70s,0,True,False
101,2,1,Law passages,Level 4,90,1,no,yes
,3,1,Flaws,2,60,1,,
`

const transformerMeta = `exam_number,exam_date,scaled_score
101,2024-02-10,
`

func TestParseRows(t *testing.T) {
	rows := ParseRows(transformerRows, Options{})
	require.Len(t, rows, 3, "row without exam number is dropped")

	first := rows[0]
	assert.Equal(t, "101", first.ExamNumber)
	assert.Equal(t, 1, first.Section)
	assert.Equal(t, 1, first.Question)
	assert.Equal(t, "Flaws", first.Subtype)
	require.NotNil(t, first.Difficulty)
	assert.Equal(t, 3, *first.Difficulty)
	assert.Equal(t, 75.0, first.TotalTimeSeconds)
	assert.Equal(t, 1, first.QuestionScore)
	assert.False(t, first.Flagged)
	assert.Equal(t, model.SectionLogicalReasoning, first.SectionType)

	second := rows[1]
	assert.Nil(t, second.Difficulty)
	assert.Equal(t, 70.0, second.TotalTimeSeconds)
	assert.True(t, second.Flagged)
	assert.Equal(t, 0, second.QuestionScore)

	third := rows[2]
	assert.Equal(t, model.SectionReadingComprehension, third.SectionType)
	assert.True(t, third.ExperimentalSection)
	require.NotNil(t, third.Difficulty)
	assert.Equal(t, 4, *third.Difficulty)
}

func TestParseRowsTimeFallbackAndClamp(t *testing.T) {
	rows := ParseRows("exam,section,q,seconds\n7,1,1,42\n7,1,2,-5\n", Options{})
	require.Len(t, rows, 2)
	assert.Equal(t, 42.0, rows[0].TotalTimeSeconds)
	assert.Equal(t, 0.0, rows[1].TotalTimeSeconds)
}

func TestParseRowsOverride(t *testing.T) {
	rows := ParseRows(transformerRows, Options{ExamNumber: " 55 "})
	require.Len(t, rows, 4)
	for _, r := range rows {
		assert.Equal(t, "55", r.ExamNumber)
	}
}

func TestParseMetaBlankScaledScoreIsNil(t *testing.T) {
	metas := ParseMeta(transformerMeta, Options{})
	require.Len(t, metas, 1)
	assert.Equal(t, "101", metas[0].ExamNumber)
	assert.Equal(t, "2024-02-10", metas[0].ExamDate)
	assert.Nil(t, metas[0].ScaledScore)

	metas = ParseMeta("Exam,Date,Scaled Score\n9,,171\n", Options{ExamDate: "2024-05-01"})
	require.Len(t, metas, 1)
	assert.Equal(t, "2024-05-01", metas[0].ExamDate)
	require.NotNil(t, metas[0].ScaledScore)
	assert.Equal(t, 171.0, *metas[0].ScaledScore)
}

func TestParseBatchEmpty(t *testing.T) {
	b := ParseBatch("", "", Options{})
	assert.Empty(t, b.Rows)
	assert.Empty(t, b.Metas)
}
