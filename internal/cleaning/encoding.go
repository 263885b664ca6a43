package cleaning

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeAttempt is one entry in the ordered list of candidate text
// encodings. decode returns an error when the bytes are not valid in
// that encoding.
type decodeAttempt struct {
	name   string
	decode func([]byte) (string, error)
}

var decodeAttempts = []decodeAttempt{
	{"utf-8", decodeUTF8},
	{"utf-8-sig", decodeUTF8SIG},
	{"utf-16", decodeUTF16},
	{"cp1252", decodeCP1252},
}

// DecodeText tries the candidate encodings in order and returns the
// first successful decoding along with the encoding name. If every
// attempt fails it falls back to UTF-8 with invalid-byte substitution
// rather than failing the file outright.
func DecodeText(data []byte) (text, encoding string) {
	for _, attempt := range decodeAttempts {
		if s, err := attempt.decode(data); err == nil {
			return s, attempt.name
		}
	}
	return strings.ToValidUTF8(string(data), "�"), "utf-8-replace"
}

func decodeUTF8(data []byte) (string, error) {
	if bytes.HasPrefix(data, utf8BOM) {
		return "", fmt.Errorf("utf-8 BOM present")
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("invalid utf-8")
	}
	return string(data), nil
}

func decodeUTF8SIG(data []byte) (string, error) {
	if !bytes.HasPrefix(data, utf8BOM) {
		return "", fmt.Errorf("no utf-8 BOM")
	}
	rest := data[len(utf8BOM):]
	if !utf8.Valid(rest) {
		return "", fmt.Errorf("invalid utf-8 after BOM")
	}
	return string(rest), nil
}

func decodeUTF16(data []byte) (string, error) {
	if len(data) < 2 {
		return "", fmt.Errorf("too short for utf-16")
	}
	le := data[0] == 0xFF && data[1] == 0xFE
	be := data[0] == 0xFE && data[1] == 0xFF
	if !le && !be {
		return "", fmt.Errorf("no utf-16 BOM")
	}

	dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	out, err := dec.Bytes(data)
	if err != nil {
		return "", fmt.Errorf("utf-16 decode: %w", err)
	}
	return string(out), nil
}

// cp1252Undefined are the byte values Windows-1252 leaves unassigned;
// their presence means the data is not cp1252 text.
var cp1252Undefined = map[byte]bool{0x81: true, 0x8D: true, 0x8F: true, 0x90: true, 0x9D: true}

func decodeCP1252(data []byte) (string, error) {
	for _, b := range data {
		if cp1252Undefined[b] {
			return "", fmt.Errorf("byte %#x undefined in cp1252", b)
		}
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("cp1252 decode: %w", err)
	}
	return string(out), nil
}
