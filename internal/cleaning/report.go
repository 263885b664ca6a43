package cleaning

import "sort"

// Report holds per-run cleaning statistics. It is produced once per
// file and consumed by the caller for logging and notification; it is
// not persisted as authoritative state.
type Report struct {
	TotalRows         int            `json:"total_rows"`
	DuplicatesRemoved int            `json:"duplicates_removed"`
	NullCounts        map[string]int `json:"null_counts"`
	Duplicates        int            `json:"duplicates"`
	NegativeValues    map[string]int `json:"negative_values"`
	Outliers          map[string]int `json:"outliers"`
}

// validate builds the report over the cleaned table. The duplicate
// count here uses full-row equality across every canonical column,
// deliberately distinct from the identity-tuple fingerprint used for
// removal.
func (e *Engine) validate(t *Table) *Report {
	report := &Report{
		TotalRows:      len(t.Rows),
		NegativeValues: make(map[string]int),
		Outliers:       make(map[string]int),
	}

	seen := make(map[string]bool, len(t.Rows))
	for _, row := range t.Rows {
		key := rowKey(t, row)
		if seen[key] {
			report.Duplicates++
		}
		seen[key] = true
	}

	for _, col := range t.Columns {
		negatives := 0
		numeric := false
		for _, row := range t.Rows {
			switch v := row[col].(type) {
			case float64:
				numeric = true
				if v < 0 {
					negatives++
				}
			case int64:
				numeric = true
				if v < 0 {
					negatives++
				}
			}
		}
		if numeric && negatives > 0 {
			report.NegativeValues[col] = negatives
		}
	}

	for _, col := range outlierColumns {
		if !t.HasColumn(col) {
			continue
		}
		report.Outliers[col] = countOutliers(t, col)
	}

	return report
}

// countOutliers applies Tukey's rule: values outside
// [Q1 - 1.5*IQR, Q3 + 1.5*IQR] count as outliers.
func countOutliers(t *Table, col string) int {
	vals := make([]float64, 0, len(t.Rows))
	for _, row := range t.Rows {
		switch v := row[col].(type) {
		case float64:
			vals = append(vals, v)
		case int64:
			vals = append(vals, float64(v))
		}
	}
	if len(vals) == 0 {
		return 0
	}

	q1 := quantile(vals, 0.25)
	q3 := quantile(vals, 0.75)
	iqr := q3 - q1
	lo, hi := q1-1.5*iqr, q3+1.5*iqr

	count := 0
	for _, v := range vals {
		if v < lo || v > hi {
			count++
		}
	}
	return count
}

// quantile computes the q-th quantile with linear interpolation
// between closest ranks. The input slice is sorted in place.
func quantile(vals []float64, q float64) float64 {
	sort.Float64s(vals)
	if len(vals) == 1 {
		return vals[0]
	}
	pos := q * float64(len(vals)-1)
	lo := int(pos)
	frac := pos - float64(lo)
	if lo+1 >= len(vals) {
		return vals[len(vals)-1]
	}
	return vals[lo]*(1-frac) + vals[lo+1]*frac
}
