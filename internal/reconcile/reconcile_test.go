package reconcile

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/lsattracker/internal/model"
)

func row(exam string, section, question, score int) model.QuestionRecord {
	return model.QuestionRecord{
		ExamNumber:    exam,
		Section:       section,
		Question:      question,
		Subtype:       "Flaws",
		QuestionScore: score,
		SectionType:   model.SectionLogicalReasoning,
	}
}

func assertUniqueRows(t *testing.T, rows []model.QuestionRecord) {
	t.Helper()
	seen := map[RowKey]bool{}
	for _, r := range rows {
		k := KeyOfRow(r)
		require.False(t, seen[k], "duplicate key %+v", k)
		seen[k] = true
	}
}

func TestRowsIntoEmpty(t *testing.T) {
	got := Rows(nil, []model.QuestionRecord{row("1", 1, 1, 1)})
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].QuestionScore)
}

func TestRowsReplaceNotDuplicate(t *testing.T) {
	var batchA, batchB []model.QuestionRecord
	for q := 1; q <= 5; q++ {
		batchA = append(batchA, row("1", 1, q, boolToInt(q <= 3)))
		batchB = append(batchB, row("1", 1, q, boolToInt(q > 3)))
	}

	got := Rows(Rows(nil, batchA), batchB)
	require.Len(t, got, 5)
	assertUniqueRows(t, got)
	for i, r := range got {
		assert.Equal(t, batchB[i].QuestionScore, r.QuestionScore, "question %d", r.Question)
	}
}

func TestRowsIdempotent(t *testing.T) {
	existing := []model.QuestionRecord{row("1", 1, 1, 0), row("1", 1, 2, 1), row("2", 1, 1, 1)}
	incoming := []model.QuestionRecord{row("1", 1, 2, 0), row("3", 2, 4, 1), row("3", 2, 4, 0)}

	once := Rows(existing, incoming)
	twice := Rows(once, incoming)
	assert.Equal(t, once, twice)
	assertUniqueRows(t, twice)
}

func TestRowsLaterIncomingWins(t *testing.T) {
	got := Rows(nil, []model.QuestionRecord{row("1", 1, 1, 0), row("1", 1, 1, 1)})
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].QuestionScore)
}

func TestRowsFullReplaceClearsOptionalFields(t *testing.T) {
	d := 4
	first := row("1", 1, 1, 1)
	first.Difficulty = &d
	second := row("1", 1, 1, 1)

	got := Rows([]model.QuestionRecord{first}, []model.QuestionRecord{second})
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Difficulty)
}

func TestRowsKeysDoNotCollide(t *testing.T) {
	// Naive "exam|section|question" concatenation would make these collide.
	got := Rows(nil, []model.QuestionRecord{
		row("1", 2, 10, 1),
		row("12", 1, 0, 1),
		row("1|2", 10, 0, 1),
	})
	assert.Len(t, got, 3)
}

func TestRowsDoesNotMutateInputs(t *testing.T) {
	existing := []model.QuestionRecord{row("1", 1, 1, 0)}
	_ = Rows(existing, []model.QuestionRecord{row("1", 1, 1, 1)})
	assert.Equal(t, 0, existing[0].QuestionScore)
}

func TestRowsDeterministicOrder(t *testing.T) {
	existing := []model.QuestionRecord{row("2", 1, 1, 0), row("1", 1, 1, 0)}
	incoming := []model.QuestionRecord{row("3", 1, 1, 0), row("2", 1, 1, 1)}
	got := Rows(existing, incoming)
	var keys []string
	for _, r := range got {
		keys = append(keys, fmt.Sprintf("%s/%d/%d", r.ExamNumber, r.Section, r.Question))
	}
	assert.Equal(t, []string{"2/1/1", "1/1/1", "3/1/1"}, keys)
	assert.Equal(t, 1, got[0].QuestionScore)
}

func TestMetas(t *testing.T) {
	s1, s2 := 160.0, 168.0
	existing := []model.ExamMeta{{ExamNumber: "1", ExamDate: "2024-01-01", ScaledScore: &s1}}
	incoming := []model.ExamMeta{
		{ExamNumber: "1", ExamDate: "2024-01-02", ScaledScore: &s2},
		{ExamNumber: "2", ExamDate: ""},
	}

	got := Metas(existing, incoming)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-01-02", got[0].ExamDate)
	assert.Equal(t, 168.0, *got[0].ScaledScore)
	assert.Equal(t, got, Metas(got, incoming))
}

func TestBatchCollapsesDuplicates(t *testing.T) {
	b := Batch(model.Batch{
		Rows:  []model.QuestionRecord{row("1", 1, 1, 0), row("1", 1, 1, 1)},
		Metas: []model.ExamMeta{{ExamNumber: "1"}, {ExamNumber: "1", ExamDate: "2024-03-01"}},
	})
	require.Len(t, b.Rows, 1)
	require.Len(t, b.Metas, 1)
	assert.Equal(t, 1, b.Rows[0].QuestionScore)
	assert.Equal(t, "2024-03-01", b.Metas[0].ExamDate)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
