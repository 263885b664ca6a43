// Package cleaning normalizes heterogeneous retail POS exports into
// the canonical schema: column-name resolution, type coercion,
// intra-file duplicate elimination, missing-value imputation, derived
// business fields, and a validation report.
package cleaning

import (
	"crypto/md5"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Engine runs the cleaning pipeline over one file at a time. The zero
// value is not usable; construct with NewEngine.
type Engine struct {
	now func() time.Time
}

// NewEngine returns a cleaning engine using the wall clock for
// datetime imputation.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// CleanFile loads, cleans, and validates one CSV file.
func (e *Engine) CleanFile(path string) (*Table, *Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return e.Clean(data, filepath.Base(path))
}

// Clean runs the full pipeline over raw file bytes. Cell-level
// problems degrade to default values; only an unreadable file fails.
func (e *Engine) Clean(data []byte, name string) (*Table, *Report, error) {
	text, encoding := DecodeText(data)

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return &Table{}, &Report{NullCounts: map[string]int{}, NegativeValues: map[string]int{}, Outliers: map[string]int{}}, nil
		}
		return nil, nil, fmt.Errorf("failed to read header of %s: %w", name, err)
	}

	columns := make([]string, len(header))
	table := &Table{}
	for i, raw := range header {
		columns[i] = CanonicalColumn(raw)
		table.addColumn(columns[i])
	}

	// Defaulted-cell counts per column (missing or unparseable), and
	// how many cells carried a real parsed value. The latter decides
	// whether derived fields recompute a column wholesale.
	nullCounts := make(map[string]int)
	valueCounts := make(map[string]int)

	rowCount := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed line: degrade, don't abort the file
			continue
		}
		rowCount++

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			raw := ""
			if i < len(record) {
				raw = record[i]
			}
			val, ok := coerceCell(col, raw)
			row[col] = val
			if ok {
				valueCounts[col]++
			} else {
				nullCounts[col]++
			}
		}
		table.Rows = append(table.Rows, row)
	}

	log.Printf("[cleaning] Loaded %d rows from %s (encoding: %s)", rowCount, name, encoding)

	removed := e.removeDuplicates(table)
	e.fillMissing(table, valueCounts)
	e.deriveFields(table, valueCounts)

	report := e.validate(table)
	report.NullCounts = nullCounts
	report.DuplicatesRemoved = removed

	log.Printf("[cleaning] Cleaned %s: %d rows, %d duplicates removed", name, len(table.Rows), removed)
	return table, report, nil
}

// coerceCell converts one raw cell according to the canonical schema.
// The boolean reports whether the cell carried a usable value; false
// means the cell will be defaulted.
func coerceCell(col, raw string) (any, bool) {
	switch columnTypes[col] {
	case TypeDatetime:
		if t, ok := ParseDateTime(raw); ok {
			return t, true
		}
		return nil, false
	case TypeFloat:
		if CleanString(raw) == "" {
			return nil, false
		}
		if !looksNumeric(raw) {
			// Unparseable text degrades to 0, never an error
			return 0.0, false
		}
		return CleanNumeric(raw), true
	case TypeInt:
		if CleanString(raw) == "" {
			return nil, false
		}
		if !looksNumeric(raw) {
			return int64(0), false
		}
		return CleanInt(raw), true
	default:
		s := CleanString(raw)
		if s == "" {
			return nil, false
		}
		return s, true
	}
}

// looksNumeric reports whether the cell contains at least one digit
// after currency stripping, i.e. CleanNumeric has something to parse.
func looksNumeric(raw string) bool {
	v := strings.TrimSpace(raw)
	for _, tok := range currencyTokens {
		v = strings.ReplaceAll(v, tok, "")
	}
	v = strings.ReplaceAll(v, ",", "")
	v = strings.TrimSpace(v)
	if _, err := strconv.ParseFloat(v, 64); err != nil {
		return false
	}
	return true
}

// removeDuplicates drops rows whose identity fingerprint was already
// seen, keeping the first occurrence, and returns the count removed.
func (e *Engine) removeDuplicates(t *Table) int {
	seen := make(map[string]bool, len(t.Rows))
	kept := t.Rows[:0]
	removed := 0

	for _, row := range t.Rows {
		fp := Fingerprint(row)
		if seen[fp] {
			removed++
			continue
		}
		seen[fp] = true
		kept = append(kept, row)
	}
	t.Rows = kept
	return removed
}

// Fingerprint digests the identity tuple of a row (transaction id,
// item id, transaction timestamp, quantity) for intra-file duplicate
// detection.
func Fingerprint(row map[string]any) string {
	parts := make([]string, 0, len(fingerprintFields))
	for _, f := range fingerprintFields {
		if _, ok := row[f]; ok {
			parts = append(parts, cellString(f, row[f]))
		}
	}
	joined := strings.Join(parts, "|")
	return fmt.Sprintf("%x", md5.Sum([]byte(joined)))
}

// fillMissing imputes every nil cell in a schema column, so the
// canonical invariant holds: no field is absent after cleaning.
func (e *Engine) fillMissing(t *Table, valueCounts map[string]int) {
	medians := make(map[string]float64)

	for _, col := range t.Columns {
		typ, inSchema := columnTypes[col]
		if !inSchema {
			typ = TypeString
		}

		var def any
		switch typ {
		case TypeFloat:
			if zeroFillFloats[col] || valueCounts[col] == 0 {
				def = 0.0
			} else {
				m, ok := medians[col]
				if !ok {
					m = columnMedian(t, col)
					medians[col] = m
				}
				def = m
			}
		case TypeInt:
			def = int64(0)
		case TypeDatetime:
			def = e.now()
		default:
			if lit, ok := stringDefaults[col]; ok {
				def = lit
			} else {
				def = ""
			}
		}

		for _, row := range t.Rows {
			if row[col] == nil {
				row[col] = def
			}
		}
	}
}

func columnMedian(t *Table, col string) float64 {
	vals := make([]float64, 0, len(t.Rows))
	for _, row := range t.Rows {
		if f, ok := row[col].(float64); ok {
			vals = append(vals, f)
		}
	}
	if len(vals) == 0 {
		return 0
	}
	return quantile(vals, 0.5)
}

// cellString renders a typed cell for fingerprints, duplicate keys,
// and CSV output. The date-grain ngay column prints without a clock.
func cellString(col string, v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		if col == "ngay" {
			return val.Format("2006-01-02")
		}
		return val.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%v", val)
	}
}
