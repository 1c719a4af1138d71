// Package money parses and formats Brazilian-locale monetary strings
// ("R$ 1.234,56": `.` separates thousands, `,` separates decimals).
package money

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var numericPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)`)

func clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "R$", "")
	s = strings.Join(strings.Fields(s), "")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.Replace(s, ",", ".", 1)
	return s
}

// Parse converts a locale formatted amount into a decimal.
//
// Everything that does not start with a number after cleanup parses as zero,
// trailing garbage after the number is ignored ("10,50 pendente" is 10.50).
func Parse(s string) decimal.Decimal {
	match := numericPrefix.FindString(clean(s))
	if match == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(match)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// IsMoney reports whether s parses to a strictly positive amount.
func IsMoney(s string) bool {
	return Parse(s).IsPositive()
}

// IsNegative reports whether a spreadsheet cell shows a negative amount, this
// includes accounting notation where negative values are wrapped in parentheses.
func IsNegative(s string) bool {
	cleaned := clean(strings.ReplaceAll(strings.ReplaceAll(s, "R$", ""), "$", ""))
	if cleaned == "" {
		return false
	}
	if strings.HasPrefix(cleaned, "-") || strings.HasPrefix(cleaned, "(") {
		return true
	}
	return Parse(cleaned).IsNegative()
}

// Format renders d with two decimal places using `.` for thousands and `,` for decimals.
func Format(d decimal.Decimal) string {
	neg := d.IsNegative()
	fixed := d.Abs().StringFixed(2)

	intPart, fracPart, _ := strings.Cut(fixed, ".")

	var grouped strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(c)
	}

	out := grouped.String() + "," + fracPart
	if neg {
		return "-" + out
	}
	return out
}

// FormatBRL is Format with the currency symbol in front.
func FormatBRL(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-R$ " + Format(d.Abs())
	}
	return "R$ " + Format(d)
}
