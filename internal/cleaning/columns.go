package cleaning

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// columnAliases maps raw POS export headers to canonical snake_case
// names. The exports come in two flavors, with and without spaces
// inside the Vietnamese labels, so both spellings are listed where
// they differ.
var columnAliases = map[string]string{
	// Thời gian
	"Thờigian":                  "thoi_gian",
	"Thờigian(theothờigian)":    "thoi_gian",
	"Thờigian (theo thờigian)":  "thoi_gian",
	"Thờigian(theogiao dịch)":   "thoi_gian_theo_giao_dich",
	"Thờigian (theo giao dịch)": "thoi_gian_theo_giao_dich",

	// Tổng tiền hàng
	"Tổngtiềnhàng(theothờigian)":      "tong_tien_hang_theo_thoi_gian",
	"Tổng tiền hàng (theo thờigian)":  "tong_tien_hang_theo_thoi_gian",
	"Tổngtiềnhàng(theogiao dịch)":     "tong_tien_hang_theo_giao_dich",
	"Tổng tiền hàng (theo giao dịch)": "tong_tien_hang_theo_giao_dich",

	// Giảm giá
	"Giảmgiá(theothờigian)":     "giam_gia_theo_thoi_gian",
	"Giảm giá (theo thờigian)":  "giam_gia_theo_thoi_gian",
	"Giảmgiá(theogiao dịch)":    "giam_gia_theo_giao_dich",
	"Giảm giá (theo giao dịch)": "giam_gia_theo_giao_dich",

	// Doanh thu
	"Doanhthu(theothờigian)":     "doanh_thu_theo_thoi_gian",
	"Doanh thu (theo thờigian)":  "doanh_thu_theo_thoi_gian",
	"Doanhthu(theogiao dịch)":    "doanh_thu_theo_giao_dich",
	"Doanh thu (theo giao dịch)": "doanh_thu_theo_giao_dich",

	// Tổng giá vốn
	"Tổnggiávốn(theothờigian)":      "tong_gia_von_theo_thoi_gian",
	"Tổng giá vốn (theo thờigian)":  "tong_gia_von_theo_thoi_gian",
	"Tổnggiávốn(theogiao dịch)":     "tong_gia_von_theo_giao_dich",
	"Tổng giá vốn (theo giao dịch)": "tong_gia_von_theo_giao_dich",

	// Lợi nhuận gộp
	"Lợinhậngộp(theothờigian)":       "loi_nhuan_gop_theo_thoi_gian",
	"Lợi nhuận gộp (theo thờigian)":  "loi_nhuan_gop_theo_thoi_gian",
	"Lợinhậngộp(theogiao dịch)":      "loi_nhuan_gop_theo_giao_dich",
	"Lợi nhuận gộp (theo giao dịch)": "loi_nhuan_gop_theo_giao_dich",

	// Mã giao dịch, Chi nhánh
	"Mãgiao dịch":  "ma_giao_dich",
	"Mã giao dịch": "ma_giao_dich",
	"Chinhánh":     "chi_nhanh",
	"Chi nhánh":    "chi_nhanh",

	// Mã hàng, Mã vạch
	"Mãhàng":  "ma_hang",
	"Mã hàng": "ma_hang",
	"Mãvạch":  "ma_vach",
	"Mã vạch": "ma_vach",

	// Tên hàng, Thương hiệu
	"Tênhàng":     "ten_hang",
	"Tên hàng":    "ten_hang",
	"Thươnghiệu":  "thuong_hieu",
	"Thương hiệu": "thuong_hieu",

	// Nhóm hàng
	"Nhómhàng(3Cấp)":   "nhom_hang_3_cap",
	"Nhóm hàng(3 Cấp)": "nhom_hang_3_cap",

	// Số lượng, giá, lợi nhuận
	"SL":                      "sl",
	"Giábán/SP":               "gia_ban_sp",
	"Giá bán/SP":              "gia_ban_sp",
	"Giávốn/SP":               "gia_von_sp",
	"Giá vốn/SP":              "gia_von_sp",
	"Lợinhuận/SP":             "loi_nhuan_sp",
	"Lợi nhuận/SP":            "loi_nhuan_sp",
	"Tổnglợinhuậnhàng hóa":    "tong_loi_nhuan_hang_hoa",
	"Tổng lợi nhuận hàng hóa": "tong_loi_nhuan_hang_hoa",
}

// spacelessAliases indexes the alias table by the fully de-spaced form
// of each raw header, so a header with extra embedded spaces and its
// no-space variant converge on the same canonical name.
var spacelessAliases = func() map[string]string {
	m := make(map[string]string, len(columnAliases))
	for raw, canonical := range columnAliases {
		m[stripSpaces(raw)] = canonical
	}
	return m
}()

func stripSpaces(s string) string {
	s = strings.ReplaceAll(s, " ", "")
	return strings.ReplaceAll(s, "\t", "")
}

// CanonicalColumn resolves a raw header to its canonical name:
// exact match after trimming, then match with all internal whitespace
// removed, then the transliteration fallback. Every column survives
// normalization, known or not.
func CanonicalColumn(raw string) string {
	header := strings.TrimSpace(raw)

	if canonical, ok := columnAliases[header]; ok {
		return canonical
	}
	if canonical, ok := spacelessAliases[stripSpaces(header)]; ok {
		return canonical
	}
	return transliterateColumn(header)
}

// transliterateColumn converts an unmapped header into a usable
// snake_case column name: diacritics stripped, punctuation dropped,
// lower-cased, spaces replaced with underscores.
func transliterateColumn(header string) string {
	s := stripDiacritics(header)

	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == ' ' {
			b.WriteRune(r)
		}
	}
	s = strings.TrimSpace(b.String())
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, " ", "_")
}

var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// stripDiacritics removes combining marks and maps the Vietnamese đ/Đ,
// which survives NFD decomposition, to plain d/D.
func stripDiacritics(s string) string {
	out, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		out = s
	}
	out = strings.ReplaceAll(out, "đ", "d")
	return strings.ReplaceAll(out, "Đ", "D")
}
