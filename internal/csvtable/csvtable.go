// Package csvtable is a lenient CSV reader for portal exports.
//
// Exports from the portals are not always well formed (unbalanced quotes,
// ragged rows, trailing blank lines), so unlike encoding/csv this never fails
// on malformed input, it recovers whatever fields it can.
package csvtable

import (
	"errors"
	"strings"
)

// ErrEmpty is returned by Require when a table has no header row.
var ErrEmpty = errors.New("csv table is empty")

// Table is an immutable parsed CSV document.
type Table struct {
	Headers []string            `json:"headers"`
	Rows    []map[string]string `json:"rows"`
}

// Require returns ErrEmpty if the table has no headers.
func (t Table) Require() error {
	if len(t.Headers) == 0 {
		return ErrEmpty
	}
	return nil
}

// Column returns every row's value for the given header in row order.
func (t Table) Column(header string) []string {
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[header]
	}
	return out
}

// ParseLine splits a single line on commas, see ParseLineDelim.
func ParseLine(text string) []string {
	return ParseLineDelim(text, ',')
}

// ParseLineDelim splits a single line on delim. A double quote toggles the
// in-quotes state and is dropped, delimiters inside quotes are kept as part of
// the field, every field is trimmed of surrounding whitespace.
func ParseLineDelim(text string, delim rune) []string {
	fields := []string{}

	var current strings.Builder
	inQuotes := false
	for _, c := range text {
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == delim && !inQuotes:
			fields = append(fields, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(c)
		}
	}
	fields = append(fields, strings.TrimSpace(current.String()))

	return fields
}

// Parse reads a comma separated document, see ParseDelim.
func Parse(text string) Table {
	return ParseDelim(text, ',')
}

// ParseDelim reads a document separated by delim. The first non-blank line is
// the header, rows shorter than the header are padded with empty strings,
// rows longer than the header are truncated and rows with only empty fields
// are skipped.
func ParseDelim(text string, delim rune) Table {
	lines := Lines(text)
	if len(lines) == 0 {
		return Table{Headers: []string{}, Rows: []map[string]string{}}
	}

	headers := ParseLineDelim(lines[0], delim)
	rows := make([]map[string]string, 0, len(lines)-1)

	for _, line := range lines[1:] {
		values := ParseLineDelim(line, delim)

		empty := true
		for _, v := range values {
			if v != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}

		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(values) {
				row[h] = values[i]
				continue
			}
			row[h] = ""
		}
		rows = append(rows, row)
	}

	return Table{Headers: headers, Rows: rows}
}

// Lines splits text on newlines, tolerating CRLF, and drops blank lines.
func Lines(text string) []string {
	out := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

var candidateDelimiters = []rune{';', '\t', ','}

// DetectDelimiter guesses the delimiter of a document by looking at its first
// line, semicolons win over tabs which win over commas. Spreadsheet exports
// in pt-BR use semicolons since commas are the decimal separator.
func DetectDelimiter(text string) rune {
	lines := Lines(text)
	if len(lines) == 0 {
		return ','
	}
	for _, d := range candidateDelimiters {
		if strings.ContainsRune(lines[0], d) {
			return d
		}
	}
	return ','
}

// Grid parses every line of a document into raw fields without treating any
// line as a header, blank lines are kept as empty rows so line indices match
// the spreadsheet.
func Grid(text string, delim rune) [][]string {
	raw := strings.Split(text, "\n")
	if len(raw) > 0 && strings.TrimSpace(raw[len(raw)-1]) == "" {
		raw = raw[:len(raw)-1]
	}

	out := make([][]string, len(raw))
	for i, line := range raw {
		out[i] = ParseLineDelim(strings.TrimSuffix(line, "\r"), delim)
	}
	return out
}
