package sheets

import (
	"regexp"
	"strings"

	"portalwatch-backend/internal/csvtable"
	"portalwatch-backend/internal/money"
	"portalwatch-backend/internal/reconcile"
	"portalwatch-backend/lib/textutil"
)

// Months are the month names looked up in column A, accents folded.
var Months = []string{
	"JANEIRO", "FEVEREIRO", "MARCO", "ABRIL", "MAIO", "JUNHO",
	"JULHO", "AGOSTO", "SETEMBRO", "OUTUBRO", "NOVEMBRO", "DEZEMBRO",
}

const (
	colA = 0
	colB = 1
	colC = 2
	colD = 3
	colE = 4
	colH = 7
)

// window is an inclusive range of rows relative to the month row.
type window struct {
	from, to int
}

var (
	upaRows      = window{-1, 1}
	receivedRows = window{-2, 2}
	dateRows     = window{-2, 2}
	statusRows   = window{-2, 1}
	nfRows       = window{-2, 2}
)

func cell(grid [][]string, row, col int) string {
	if row < 0 || row >= len(grid) || col >= len(grid[row]) {
		return ""
	}
	return strings.TrimSpace(grid[row][col])
}

func collect(grid [][]string, at int, w window, col int) []reconcile.Cell {
	var out []reconcile.Cell
	for row := at + w.from; row <= at+w.to; row++ {
		value := cell(grid, row, col)
		if value == "" {
			continue
		}
		out = append(out, reconcile.Cell{Line: row + 1, Value: value})
	}
	return out
}

// monthOf returns the month named in the cell, "" when there is none.
func monthOf(value string) string {
	folded := strings.ToUpper(textutil.FoldAccents(value))
	for _, month := range Months {
		if strings.Contains(folded, month) {
			return month
		}
	}
	return ""
}

// Ledgers finds every month named in column A and gathers the values around
// it. A month named on several rows accumulates into a single ledger, in the
// order the months first appear.
func Ledgers(grid [][]string) []reconcile.Ledger {
	var order []string
	byMonth := map[string]*reconcile.Ledger{}

	for i := range grid {
		month := monthOf(cell(grid, i, colA))
		if month == "" {
			continue
		}
		ledger, ok := byMonth[month]
		if !ok {
			ledger = &reconcile.Ledger{Month: month}
			byMonth[month] = ledger
			order = append(order, month)
		}

		for _, upa := range collect(grid, i, upaRows, colB) {
			if !contains(ledger.UPAs, upa.Value) {
				ledger.UPAs = append(ledger.UPAs, upa.Value)
			}
		}
		ledger.Received = append(ledger.Received, collect(grid, i, receivedRows, colD)...)
		ledger.Dates = append(ledger.Dates, collect(grid, i, dateRows, colE)...)
		ledger.Statuses = append(ledger.Statuses, collect(grid, i, statusRows, colH)...)
		ledger.NFValues = append(ledger.NFValues, collect(grid, i, nfRows, colC)...)
	}

	out := make([]reconcile.Ledger, 0, len(order))
	for _, month := range order {
		out = append(out, *byMonth[month])
	}
	return out
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// Summary is the hand maintained "VIVA RIO EM ABERTO" block some versions of
// the spreadsheet carry, values are kept as they are written.
type Summary struct {
	Found    bool   `json:"vivaRioEmAberto"`
	Setembro string `json:"setembro,omitempty"`
	Outubro  string `json:"outubro,omitempty"`
	Novembro string `json:"novembro,omitempty"`
	Total    string `json:"total,omitempty"`
}

// Negative reports which of the summary values are written as negatives.
func (s Summary) Negative() map[string]bool {
	return map[string]bool{
		"setembro": money.IsNegative(s.Setembro),
		"outubro":  money.IsNegative(s.Outubro),
		"novembro": money.IsNegative(s.Novembro),
		"total":    money.IsNegative(s.Total),
	}
}

func (s Summary) empty() bool {
	return s.Setembro == "" && s.Outubro == "" && s.Novembro == "" && s.Total == ""
}

// summaryRow is where the block starts in the known layout (row 33).
const summaryRow = 32

var numberRegex = regexp.MustCompile(`[\d.,]+`)

func (s *Summary) set(label, value string) {
	switch label {
	case "SETEMBRO":
		s.Setembro = value
	case "OUTUBRO":
		s.Outubro = value
	case "NOVEMBRO":
		s.Novembro = value
	case "TOTAL":
		s.Total = value
	}
}

func (s *Summary) get(label string) string {
	switch label {
	case "SETEMBRO":
		return s.Setembro
	case "OUTUBRO":
		return s.Outubro
	case "NOVEMBRO":
		return s.Novembro
	}
	return s.Total
}

var summaryLabels = []string{"SETEMBRO", "OUTUBRO", "NOVEMBRO", "TOTAL"}

// ExtractSummary reads the summary block at its known position and falls
// back to searching for it anywhere in the sheet.
func ExtractSummary(grid [][]string) Summary {
	var s Summary

	upper := func(row, col int) string {
		return strings.ToUpper(textutil.FoldAccents(cell(grid, row, col)))
	}

	if strings.Contains(upper(summaryRow, colA), "VIVA RIO") {
		s.Found = true
	}
	for offset, label := range summaryLabels {
		row := summaryRow + 1 + offset
		if strings.Contains(upper(row, colA), label) {
			s.set(label, cell(grid, row, colB))
		}
	}
	if !s.empty() {
		return s
	}

	at := -1
	for i, row := range grid {
		text := strings.ToUpper(textutil.FoldAccents(strings.Join(row, " ")))
		if strings.Contains(text, "VIVA RIO") {
			at = i
			break
		}
	}
	if at < 0 {
		return s
	}
	s.Found = true

	// labels are either column headers in the first rows or row labels
	// in the lines following the block title
	for i := 0; i < min(10, len(grid)); i++ {
		for j := range grid[i] {
			header := upper(i, j)
			for _, label := range summaryLabels {
				value := cell(grid, at, j)
				if s.get(label) == "" && strings.Contains(header, label) && numberRegex.MatchString(value) {
					s.set(label, value)
				}
			}
		}
	}
	for i := at; i < min(at+5, len(grid)); i++ {
		text := strings.ToUpper(textutil.FoldAccents(strings.Join(grid[i], " ")))
		for _, label := range summaryLabels {
			if s.get(label) != "" || !strings.Contains(text, label) {
				continue
			}
			for j := range grid[i] {
				value := cell(grid, i, j)
				if numberRegex.MatchString(value) {
					s.set(label, value)
					break
				}
			}
		}
	}
	return s
}

// Extraction is everything read from one CSV export.
type Extraction struct {
	Ledgers []reconcile.Ledger `json:"meses"`
	Summary Summary            `json:"resumo"`
}

// Extract parses a CSV export, detecting its delimiter.
func Extract(text string) (Extraction, error) {
	grid := csvtable.Grid(text, csvtable.DetectDelimiter(text))
	if len(grid) == 0 {
		return Extraction{}, csvtable.ErrEmpty
	}
	return Extraction{
		Ledgers: Ledgers(grid),
		Summary: ExtractSummary(grid),
	}, nil
}
