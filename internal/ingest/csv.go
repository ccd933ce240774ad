// Package ingest turns transformer CSV payloads into typed records.
package ingest

import "strings"

// Record maps a header name to its trimmed cell value.
type Record map[string]string

// Table is a parsed CSV document. Header keeps the column order of the
// first row; Records are keyed by those header names.
type Table struct {
	Header  []string
	Records []Record
}

// ParseCSV parses delimited text into records keyed by the header row.
// It never fails: malformed quoting is consumed best-effort.
func ParseCSV(text string) []Record {
	return ParseCSVTable(text).Records
}

// ParseCSVTable is ParseCSV that also returns the header order.
func ParseCSVTable(text string) Table {
	rows := tokenize(text)
	if len(rows) == 0 {
		return Table{Records: []Record{}}
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(Record, len(header))
		for i, h := range header {
			v := ""
			if i < len(row) {
				v = strings.TrimSpace(row[i])
			}
			rec[h] = v
		}
		records = append(records, rec)
	}
	return Table{Header: header, Records: records}
}

// tokenize splits text into rows of raw fields. Quoted fields may contain
// commas and line breaks; "" inside quotes is an escaped quote. Any run of
// \r and \n outside quotes ends the row, so blank lines (including leading
// ones) never yield rows.
func tokenize(text string) [][]string {
	var (
		rows     [][]string
		row      []string
		field    strings.Builder
		inQuotes bool
	)

	pushField := func() {
		row = append(row, field.String())
		field.Reset()
	}
	pushRow := func() {
		rows = append(rows, row)
		row = nil
	}

	for i := 0; i < len(text); {
		c := text[i]
		if inQuotes {
			if c == '"' {
				if i+1 < len(text) && text[i+1] == '"' {
					field.WriteByte('"')
					i += 2
					continue
				}
				inQuotes = false
				i++
				continue
			}
			field.WriteByte(c)
			i++
			continue
		}

		switch c {
		case '"':
			inQuotes = true
			i++
		case ',':
			pushField()
			i++
		case '\n', '\r':
			pushField()
			if len(row) == 1 && row[0] == "" {
				row = nil
			} else {
				pushRow()
			}
			for i < len(text) && (text[i] == '\n' || text[i] == '\r') {
				i++
			}
		default:
			field.WriteByte(c)
			i++
		}
	}

	// A dangling final row of one empty field is the artifact of a trailing
	// line break, not data.
	pushField()
	if len(row) > 1 || (len(row) == 1 && row[0] != "") {
		pushRow()
	}
	return rows
}
