// Package reconcile derives the amount outstanding per month from the loosely
// structured rows of the financial spreadsheet.
package reconcile

import (
	"strings"

	"portalwatch-backend/internal/csvtable"
	"portalwatch-backend/internal/money"
	"portalwatch-backend/lib/textutil"

	"github.com/shopspring/decimal"
)

// Cell is a spreadsheet value along with the line it came from.
type Cell struct {
	Line  int    `json:"linha"`
	Value string `json:"valor"`
}

// Ledger is the set of column values found under one month section.
type Ledger struct {
	Month    string   `json:"mes"`
	Received []Cell   `json:"valoresRecebidos"`
	Dates    []Cell   `json:"datas"`
	Statuses []Cell   `json:"situacoes"`
	NFValues []Cell   `json:"valoresNF"`
	UPAs     []string `json:"upas"`
}

// Source tags where a contribution's amount was taken from.
type Source string

const (
	FromStatus   Source = "status"
	FromReceived Source = "received"
)

// Contribution is a single pending amount counted towards a month.
type Contribution struct {
	Received Cell            `json:"recebido"`
	Status   Cell            `json:"situacao"`
	Amount   decimal.Decimal `json:"valor"`
	Source   Source          `json:"origem"`
}

// MonthResult is the outcome of reconciling a single month.
type MonthResult struct {
	Month string `json:"mes"`
	// Value is zero when nothing is outstanding, otherwise it is the
	// negated sum of every contribution.
	Value decimal.Decimal `json:"valor"`
	Pairs int             `json:"pares"`
	// Unpaired counts the entries of the longer list left without a partner,
	// anything but zero means the columns may be misaligned.
	Unpaired      int            `json:"naoPareados"`
	Contributions []Contribution `json:"contribuicoes"`
}

// Result is the outcome of reconciling every month.
type Result struct {
	Months []MonthResult   `json:"meses"`
	Total  decimal.Decimal `json:"total"`
}

// Values returns the signed value of each month keyed by its lowercase name,
// plus a "total" key.
func (r Result) Values() map[string]float64 {
	out := make(map[string]float64, len(r.Months)+1)
	for _, m := range r.Months {
		out[strings.ToLower(m.Month)] = m.Value.InexactFloat64()
	}
	out["total"] = r.Total.InexactFloat64()
	return out
}

// residueTokens are header texts that leak into data columns when a month
// section repeats its header row. "SITUAO" is what "SITUAÇÃO" becomes when
// the export mangles its encoding.
var residueTokens = []string{
	"SITUAO",
	"SITUACAO",
	"VALORRECEBIDO",
	"VALORRECEDIDO",
	"VALORNF",
	"DATA",
	"UPAS",
	"UPA",
}

// IsResidue reports whether value is blank or a leaked header.
func IsResidue(value string) bool {
	if strings.TrimSpace(value) == "" {
		return true
	}
	return textutil.MatchToken(value, residueTokens)
}

// FilterResidue drops blank and leaked header cells, preserving order.
func FilterResidue(cells []Cell) []Cell {
	out := make([]Cell, 0, len(cells))
	for _, c := range cells {
		if IsResidue(c.Value) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func isSettled(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), "OK")
}

// ReconcileMonth pairs the received amounts and statuses of a ledger.
//
// Both lists are filtered independently, then the Kth surviving received
// amount is paired with the Kth surviving status. A status that is itself a
// positive amount overrides the received amount. Any other status other than
// "OK" marks the received amount as pending.
func ReconcileMonth(l Ledger) MonthResult {
	received := FilterResidue(l.Received)
	statuses := FilterResidue(l.Statuses)

	pairs := min(len(received), len(statuses))
	result := MonthResult{
		Month:         l.Month,
		Value:         decimal.Zero,
		Pairs:         pairs,
		Unpaired:      max(len(received), len(statuses)) - pairs,
		Contributions: []Contribution{},
	}

	sum := decimal.Zero
	for i := 0; i < pairs; i++ {
		r := received[i]
		s := statuses[i]

		if override := money.Parse(s.Value); override.IsPositive() {
			result.Contributions = append(result.Contributions, Contribution{
				Received: r,
				Status:   s,
				Amount:   override,
				Source:   FromStatus,
			})
			sum = sum.Add(override)
			continue
		}

		if isSettled(s.Value) {
			continue
		}

		amount := money.Parse(r.Value)
		if !amount.IsPositive() {
			continue
		}
		result.Contributions = append(result.Contributions, Contribution{
			Received: r,
			Status:   s,
			Amount:   amount,
			Source:   FromReceived,
		})
		sum = sum.Add(amount)
	}

	if sum.IsPositive() {
		result.Value = sum.Neg()
	}
	return result
}

// Reconcile reconciles every ledger in order and sums the signed monthly values.
func Reconcile(ledgers []Ledger) Result {
	result := Result{
		Months: make([]MonthResult, 0, len(ledgers)),
		Total:  decimal.Zero,
	}
	for _, l := range ledgers {
		m := ReconcileMonth(l)
		result.Months = append(result.Months, m)
		result.Total = result.Total.Add(m.Value)
	}
	return result
}

type column int

const (
	columnNone column = iota
	columnUPA
	columnNF
	columnReceived
	columnDate
	columnStatus
)

func classifyHeader(header string) column {
	stripped, folded := textutil.Tokens(header)
	for _, form := range []string{stripped, folded} {
		switch {
		case strings.HasPrefix(form, "UPA"):
			return columnUPA
		case strings.HasPrefix(form, "VALORNF"):
			return columnNF
		case strings.HasPrefix(form, "VALORREC"):
			return columnReceived
		case strings.HasPrefix(form, "DATA"):
			return columnDate
		case strings.HasPrefix(form, "SITUA"), strings.HasPrefix(form, "STATUS"):
			return columnStatus
		}
	}
	return columnNone
}

// LedgerFromTable builds a ledger out of a table whose headers name the
// columns (UPAS, VALOR NF, Valor Recebido, Data, Situação), each row
// contributes to every list it has a column for. Lines are 1-based and count
// the header.
func LedgerFromTable(month string, t csvtable.Table) Ledger {
	l := Ledger{Month: month}

	for i, row := range t.Rows {
		line := i + 2
		for _, h := range t.Headers {
			value := row[h]
			switch classifyHeader(h) {
			case columnUPA:
				if strings.TrimSpace(value) != "" {
					l.UPAs = append(l.UPAs, value)
				}
			case columnNF:
				l.NFValues = append(l.NFValues, Cell{Line: line, Value: value})
			case columnReceived:
				l.Received = append(l.Received, Cell{Line: line, Value: value})
			case columnDate:
				l.Dates = append(l.Dates, Cell{Line: line, Value: value})
			case columnStatus:
				l.Statuses = append(l.Statuses, Cell{Line: line, Value: value})
			}
		}
	}

	return l
}
