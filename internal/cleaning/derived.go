package cleaning

import (
	"strings"
	"time"
)

// deriveFields computes the derived business columns. A target column
// is recomputed wholesale when it is absent from the source or carried
// no usable values at all; otherwise the source data wins.
func (e *Engine) deriveFields(t *Table, valueCounts map[string]int) {
	needs := func(col string) bool {
		return !t.HasColumn(col) || valueCounts[col] == 0
	}

	// Profit per unit = price - cost
	if needs("loi_nhuan_sp") {
		t.addColumn("loi_nhuan_sp")
		haveParts := t.HasColumn("gia_ban_sp") && t.HasColumn("gia_von_sp")
		for _, row := range t.Rows {
			if haveParts {
				row["loi_nhuan_sp"] = Float(row, "gia_ban_sp") - Float(row, "gia_von_sp")
			} else {
				row["loi_nhuan_sp"] = 0.0
			}
		}
	}

	// Total item profit = profit per unit x quantity
	if needs("tong_loi_nhuan_hang_hoa") {
		t.addColumn("tong_loi_nhuan_hang_hoa")
		haveQty := t.HasColumn("sl")
		for _, row := range t.Rows {
			if haveQty {
				row["tong_loi_nhuan_hang_hoa"] = Float(row, "loi_nhuan_sp") * float64(Int(row, "sl"))
			} else {
				row["tong_loi_nhuan_hang_hoa"] = Float(row, "loi_nhuan_sp")
			}
		}
	}

	// Gross profit at transaction grain = revenue - cost of goods,
	// with cascading fallbacks across the available aggregate columns
	if needs("loi_nhuan_gop_theo_giao_dich") {
		t.addColumn("loi_nhuan_gop_theo_giao_dich")
		var revCol, cogsCol string
		switch {
		case t.HasColumn("doanh_thu_theo_giao_dich") && t.HasColumn("tong_gia_von_theo_giao_dich"):
			revCol, cogsCol = "doanh_thu_theo_giao_dich", "tong_gia_von_theo_giao_dich"
		case t.HasColumn("doanh_thu") && t.HasColumn("tong_gia_von"):
			revCol, cogsCol = "doanh_thu", "tong_gia_von"
		}
		for _, row := range t.Rows {
			if revCol != "" {
				row["loi_nhuan_gop_theo_giao_dich"] = Float(row, revCol) - Float(row, cogsCol)
			} else {
				row["loi_nhuan_gop_theo_giao_dich"] = 0.0
			}
		}
	}

	// Profit margin (%), guarded against division by zero
	t.addColumn("ty_suat_loi_nhuan")
	havePrice := t.HasColumn("gia_ban_sp")
	for _, row := range t.Rows {
		margin := 0.0
		if havePrice {
			if price := Float(row, "gia_ban_sp"); price > 0 {
				margin = Float(row, "loi_nhuan_sp") / price * 100
			}
		}
		row["ty_suat_loi_nhuan"] = margin
	}

	// Three-level category decomposition
	t.addColumn("cap_1")
	t.addColumn("cap_2")
	t.addColumn("cap_3")
	haveCategory := t.HasColumn("nhom_hang_3_cap")
	for _, row := range t.Rows {
		c1, c2, c3 := "", "", ""
		if haveCategory {
			c1, c2, c3 = SplitCategory(String(row, "nhom_hang_3_cap"))
		}
		row["cap_1"], row["cap_2"], row["cap_3"] = c1, c2, c3
	}

	// Calendar fields from the primary timestamp
	if t.HasColumn("thoi_gian") {
		for _, c := range []string{"ngay", "thang", "nam", "tuan", "thu_trong_tuan"} {
			t.addColumn(c)
		}
		for _, row := range t.Rows {
			ts := Time(row, "thoi_gian")
			row["ngay"] = time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
			row["thang"] = ts.Format("2006-01")
			row["nam"] = int64(ts.Year())
			_, week := ts.ISOWeek()
			row["tuan"] = int64(week)
			row["thu_trong_tuan"] = ts.Weekday().String()
		}
	}

	// Hour prefers the transaction-level timestamp over the
	// period-level one when both exist
	hourSource := ""
	if t.HasColumn("thoi_gian_theo_giao_dich") {
		hourSource = "thoi_gian_theo_giao_dich"
	} else if t.HasColumn("thoi_gian") {
		hourSource = "thoi_gian"
	}
	if hourSource != "" {
		t.addColumn("gio")
		for _, row := range t.Rows {
			row["gio"] = int64(Time(row, hourSource).Hour())
		}
	}
}

// SplitCategory decomposes a "Level1 > Level2 > Level3" category
// string into up to three trimmed levels. A value with no delimiter
// becomes level 1 verbatim.
func SplitCategory(value string) (string, string, string) {
	if !strings.Contains(value, ">") {
		return value, "", ""
	}
	parts := strings.Split(value, ">")
	levels := [3]string{}
	for i := 0; i < len(parts) && i < 3; i++ {
		levels[i] = strings.TrimSpace(parts[i])
	}
	return levels[0], levels[1], levels[2]
}

// rowKey renders the full canonical row for whole-row duplicate
// counting, independent of the identity-tuple fingerprint.
func rowKey(t *Table, row map[string]any) string {
	parts := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		parts[i] = cellString(col, row[col])
	}
	return strings.Join(parts, "\x1f")
}
