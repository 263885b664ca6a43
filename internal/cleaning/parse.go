package cleaning

import (
	"strconv"
	"strings"
	"time"
)

// datetimeLayouts is the ordered list of accepted timestamp formats.
// Day-first layouts come before the US month-first ones, so an
// ambiguous value like 05/06/2024 reads as 5 June.
var datetimeLayouts = []string{
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"2006-01-02",
	"02/01/2006",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// ParseDateTime tries each accepted layout in order; first match wins.
// Returns false for empty or unparseable values.
func ParseDateTime(value string) (time.Time, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// currencyTokens are stripped before numeric parsing. Order matters:
// "VNĐ" must go before "đ".
var currencyTokens = []string{"VNĐ", "đ", "$"}

// CleanNumeric parses a numeric cell, tolerating currency symbols and
// both comma conventions. A single comma group with at most two
// trailing digits is treated as a decimal separator ("1.234,56" →
// 1234.56); otherwise commas are thousands separators ("34,359,000" →
// 34359000). Unparseable values degrade to 0, never an error.
func CleanNumeric(value string) float64 {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0
	}

	for _, tok := range currencyTokens {
		v = strings.ReplaceAll(v, tok, "")
	}
	v = strings.TrimSpace(v)

	if strings.Contains(v, ",") {
		parts := strings.Split(v, ",")
		if len(parts) == 2 && len(parts[1]) <= 2 {
			// Decimal comma; any dots left of it are thousands marks
			v = strings.ReplaceAll(parts[0], ".", "") + "." + parts[1]
		} else {
			v = strings.ReplaceAll(v, ",", "")
		}
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// CleanInt applies float coercion then truncates to integer.
func CleanInt(value string) int64 {
	return int64(CleanNumeric(value))
}

// CleanString normalizes a text cell; the literal "nan" token from
// upstream exports collapses to empty.
func CleanString(value string) string {
	v := strings.TrimSpace(value)
	if strings.EqualFold(v, "nan") {
		return ""
	}
	return v
}
