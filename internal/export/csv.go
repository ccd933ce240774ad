// Package export writes a filtered working set to CSV or XLSX.
package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pavelanni/lsattracker/internal/model"
)

// Columns is the CSV header, in order.
var Columns = []string{
	"exam_number",
	"section",
	"question",
	"section_type",
	"subtype",
	"difficulty",
	"total_time_seconds",
	"question_score",
	"flagged",
	"experimental_section",
	"exam_date",
	"scaled_score",
}

// WriteCSV writes one line per record under the Columns header. Absent
// optional values are written as empty fields.
func WriteCSV(w io.Writer, records []model.JoinedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(csvRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(r model.JoinedRecord) []string {
	return []string{
		r.ExamNumber,
		strconv.Itoa(r.Section),
		strconv.Itoa(r.Question),
		string(r.SectionType),
		r.Subtype,
		optionalInt(r.Difficulty),
		formatFloat(r.TotalTimeSeconds),
		strconv.Itoa(r.QuestionScore),
		strconv.FormatBool(r.Flagged),
		strconv.FormatBool(r.ExperimentalSection),
		r.ExamDate,
		optionalFloat(r.ScaledScore),
	}
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
