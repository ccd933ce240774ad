package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/lsattracker/internal/analytics"
	"github.com/pavelanni/lsattracker/internal/model"
)

// Sheet names of the workbook.
const (
	SheetQuestions = "Questions"
	SheetSubtypes  = "By Subtype"
	SheetTrend     = "Trend"
)

// WriteXLSX writes a workbook with the records of ws, the subtype
// breakdown, and the per-exam trend.
func WriteXLSX(w io.Writer, ws model.WorkingSet) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetQuestions); err != nil {
		return err
	}
	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	rows := [][]any{header}
	for _, r := range ws.Records {
		rows = append(rows, []any{
			r.ExamNumber, r.Section, r.Question, string(r.SectionType), r.Subtype,
			cellInt(r.Difficulty), r.TotalTimeSeconds, r.QuestionScore,
			r.Flagged, r.ExperimentalSection, r.ExamDate, cellFloat(r.ScaledScore),
		})
	}
	if err := writeRows(f, SheetQuestions, rows); err != nil {
		return err
	}

	rows = [][]any{{"subtype", "section_type", "attempted", "correct", "accuracy", "avg_sec", "avg_time"}}
	for _, s := range analytics.BySubtype(ws.Records) {
		rows = append(rows, []any{
			s.Subtype, string(s.SectionType), s.Attempted, s.Correct, s.Accuracy, s.AvgSec,
			analytics.FormatDuration(float64(s.AvgSec)),
		})
	}
	if err := addSheet(f, SheetSubtypes, rows); err != nil {
		return err
	}

	rows = [][]any{{"exam_number", "exam_date", "scaled_score", "attempted", "correct", "accuracy"}}
	for _, e := range analytics.ByExam(ws) {
		rows = append(rows, []any{
			e.ExamNumber, e.ExamDate, cellFloat(e.ScaledScore), e.Attempted, e.Correct, e.Accuracy,
		})
	}
	if err := addSheet(f, SheetTrend, rows); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func addSheet(f *excelize.File, name string, rows [][]any) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %q: %w", name, err)
	}
	return writeRows(f, name, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("sheet %q row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func cellInt(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}

func cellFloat(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}
