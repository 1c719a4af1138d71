// Package tablescrape extracts records and active/inactive tallies from the
// data tables portals render.
package tablescrape

import (
	"errors"
	"fmt"
	"strings"

	"portalwatch-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// ErrTableNotFound is returned when no candidate table is in the document.
var ErrTableNotFound = errors.New("table not found")

// TableSelectors are tried in order, the last resort is any table that has
// at least one body row.
var TableSelectors = []string{
	"#mydatatable",
	"table[datatable]",
	"table.dataTable",
}

// actionColumn marks edit/delete columns that carry no data.
const actionColumn = "edit-delete-table-th"

// Status is the state a cell value maps to.
type Status int

const (
	StatusUnknown Status = iota
	StatusActive
	StatusInactive
)

// StatusOf matches value exactly against the status vocabulary, ignoring case
// and surrounding whitespace.
func StatusOf(value string) Status {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "ativo", "active":
		return StatusActive
	case "inativo", "inactive":
		return StatusInactive
	}
	return StatusUnknown
}

// Tally counts the first status value found in each row, values are scanned
// in the order of keys.
func Tally(rows []map[string]string, keys []string) (active, inactive int) {
	for _, row := range rows {
		for _, k := range keys {
			status := StatusOf(row[k])
			if status == StatusActive {
				active++
				break
			}
			if status == StatusInactive {
				inactive++
				break
			}
		}
	}
	return active, inactive
}

// Result is what a table yielded.
type Result struct {
	Headers  []string            `json:"headers"`
	Data     []map[string]string `json:"data"`
	Total    int                 `json:"total"`
	Ativos   int                 `json:"ativos"`
	Inativos int                 `json:"inativos"`
}

// FindTable returns the first table matched by TableSelectors, or the first
// table with a body row.
func FindTable(doc *goquery.Document) (*goquery.Selection, error) {
	for _, selector := range TableSelectors {
		table := doc.Find(selector).First()
		if table.Length() > 0 {
			return table, nil
		}
	}
	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		if table.Find("tbody tr").Length() > 0 {
			found = table
			return false
		}
		return true
	})
	if found == nil {
		return nil, ErrTableNotFound
	}
	return found, nil
}

// Extract reads the table of the document.
//
// Statuses are first tallied from columns whose header contains "status",
// when that finds nothing every value of every row is scanned instead.
func Extract(doc *goquery.Document) (Result, error) {
	table, err := FindTable(doc)
	if err != nil {
		return Result{}, err
	}

	headers := []string{}
	table.Find("thead tr").First().Find("th").Each(func(_ int, th *goquery.Selection) {
		text := htmlutil.SelectionText(th)
		if text == "" || th.HasClass(actionColumn) {
			return
		}
		headers = append(headers, text)
	})

	result := Result{Data: []map[string]string{}}
	keys := append([]string(nil), headers...)
	seen := map[string]bool{}
	for _, h := range headers {
		seen[h] = true
	}

	rows := table.Find("tbody tr")
	result.Total = rows.Length()
	rows.Each(func(_ int, tr *goquery.Selection) {
		row := map[string]string{}
		index := 0
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			if td.HasClass(actionColumn) {
				return
			}
			header := fmt.Sprintf("Column%d", index+1)
			if index < len(headers) {
				header = headers[index]
			} else if !seen[header] {
				seen[header] = true
				keys = append(keys, header)
			}
			value := htmlutil.SelectionText(td)
			row[header] = value

			if strings.Contains(strings.ToLower(header), "status") {
				switch StatusOf(value) {
				case StatusActive:
					result.Ativos++
				case StatusInactive:
					result.Inativos++
				}
			}
			index++
		})
		if len(row) > 0 {
			result.Data = append(result.Data, row)
		}
	})

	if result.Total > 0 && result.Ativos == 0 && result.Inativos == 0 {
		result.Ativos, result.Inativos = Tally(result.Data, keys)
	}
	if result.Total == 0 {
		result.Total = len(result.Data)
	}
	result.Headers = keys
	return result, nil
}
