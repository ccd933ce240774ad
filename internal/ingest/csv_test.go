package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Record
	}{
		{"empty input", "", []Record{}},
		{"header only", "a,b\n", []Record{}},
		{"quoted comma", "a,b\n1,\"x,y\"\n", []Record{{"a": "1", "b": "x,y"}}},
		{"escaped quote", "a,b\n1,\"say \"\"hi\"\"\"\n", []Record{{"a": "1", "b": `say "hi"`}}},
		{"embedded newline", "a,b\n1,\"line1\nline2\"\n", []Record{{"a": "1", "b": "line1\nline2"}}},
		{"crlf", "a,b\r\n1,2\r\n3,4\r\n", []Record{{"a": "1", "b": "2"}, {"a": "3", "b": "4"}}},
		{"bare cr", "a,b\r1,2\r3,4", []Record{{"a": "1", "b": "2"}, {"a": "3", "b": "4"}}},
		{"blank lines collapse", "a,b\n\n\n1,2\n\r\n3,4\n\n", []Record{{"a": "1", "b": "2"}, {"a": "3", "b": "4"}}},
		{"leading blank lines", "\n\na,b\n1,2", []Record{{"a": "1", "b": "2"}}},
		{"trimmed values and headers", " a , b \n 1 , 2 \n", []Record{{"a": "1", "b": "2"}}},
		{"missing cells", "a,b,c\n1\n", []Record{{"a": "1", "b": "", "c": ""}}},
		{"extra cells ignored", "a\n1,2,3\n", []Record{{"a": "1"}}},
		{"unterminated quote", "a,b\n1,\"open", []Record{{"a": "1", "b": "open"}}},
		{"no trailing newline", "a\nx", []Record{{"a": "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCSV(tt.in)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCSVTableKeepsHeaderOrder(t *testing.T) {
	table := ParseCSVTable("z,a,m\n1,2,3\n")
	assert.Equal(t, []string{"z", "a", "m"}, table.Header)
	require.Len(t, table.Records, 1)
	assert.Equal(t, "2", table.Records[0]["a"])
}

func TestParseCSVDuplicateHeaderRightmostWins(t *testing.T) {
	got := ParseCSV("a,a\n1,2\n")
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0]["a"])
}
