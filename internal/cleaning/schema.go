package cleaning

import "time"

// FieldType is the semantic type of a canonical column.
type FieldType string

const (
	TypeDatetime FieldType = "datetime"
	TypeFloat    FieldType = "float"
	TypeInt      FieldType = "int"
	TypeString   FieldType = "string"
)

// columnTypes is the fixed canonical schema: canonical column name to
// semantic type. Columns not listed here pass through as strings.
var columnTypes = map[string]FieldType{
	"thoi_gian":                     TypeDatetime,
	"tong_tien_hang_theo_thoi_gian": TypeFloat,
	"giam_gia_theo_thoi_gian":       TypeFloat,
	"doanh_thu_theo_thoi_gian":      TypeFloat,
	"tong_gia_von_theo_thoi_gian":   TypeFloat,
	"loi_nhuan_gop_theo_thoi_gian":  TypeFloat,
	"ma_giao_dich":                  TypeString,
	"chi_nhanh":                     TypeString,
	"thoi_gian_theo_giao_dich":      TypeDatetime,
	"tong_tien_hang_theo_giao_dich": TypeFloat,
	"giam_gia_theo_giao_dich":       TypeFloat,
	"doanh_thu_theo_giao_dich":      TypeFloat,
	"tong_gia_von_theo_giao_dich":   TypeFloat,
	"loi_nhuan_gop_theo_giao_dich":  TypeFloat,
	"ma_hang":                       TypeString,
	"ma_vach":                       TypeString,
	"ten_hang":                      TypeString,
	"thuong_hieu":                   TypeString,
	"nhom_hang_3_cap":               TypeString,
	"tong_tien_hang":                TypeFloat,
	"giam_gia":                      TypeFloat,
	"doanh_thu":                     TypeFloat,
	"tong_gia_von":                  TypeFloat,
	"loi_nhuan_gop":                 TypeFloat,
	"sl":                            TypeInt,
	"gia_ban_sp":                    TypeFloat,
	"gia_von_sp":                    TypeFloat,
	"loi_nhuan_sp":                  TypeFloat,
	"tong_loi_nhuan_hang_hoa":       TypeFloat,
}

// stringDefaults holds column-specific imputation literals for string
// columns; anything else defaults to "".
var stringDefaults = map[string]string{
	"chi_nhanh":   "Unknown",
	"thuong_hieu": "No Brand",
}

// zeroFillFloats are unit-price-like columns imputed with 0 instead of
// the column median.
var zeroFillFloats = map[string]bool{
	"gia_ban_sp": true,
	"gia_von_sp": true,
}

// fingerprintFields is the identity tuple for intra-file duplicate
// elimination.
var fingerprintFields = []string{"ma_giao_dich", "ma_hang", "thoi_gian_theo_giao_dich", "sl"}

// outlierColumns are checked with Tukey's IQR rule in the validation
// report.
var outlierColumns = []string{"gia_ban_sp", "gia_von_sp", "sl"}

// Table is a canonical in-memory table: an ordered column list plus
// rows mapping canonical column name to a typed value. Cell values are
// time.Time, float64, int64, or string; nil marks a missing value
// prior to imputation. After cleaning, no cell in a schema column is
// nil.
type Table struct {
	Columns []string
	Rows    []map[string]any
}

// HasColumn reports whether the table carries the named column.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// addColumn appends a column to the ordering if not already present.
func (t *Table) addColumn(name string) {
	if !t.HasColumn(name) {
		t.Columns = append(t.Columns, name)
	}
}

// String returns the cell as a string, "" for nil or non-strings.
func String(row map[string]any, col string) string {
	if v, ok := row[col].(string); ok {
		return v
	}
	return ""
}

// Float returns the cell as a float64, converting int cells, 0 otherwise.
func Float(row map[string]any, col string) float64 {
	switch v := row[col].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Int returns the cell as an int64, truncating float cells, 0 otherwise.
func Int(row map[string]any, col string) int64 {
	switch v := row[col].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Time returns the cell as a time.Time, zero value otherwise.
func Time(row map[string]any, col string) time.Time {
	if v, ok := row[col].(time.Time); ok {
		return v
	}
	return time.Time{}
}
