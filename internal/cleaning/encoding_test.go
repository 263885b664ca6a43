package cleaning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/encoding/unicode"
)

func TestDecodeTextUTF8(t *testing.T) {
	text, enc := DecodeText([]byte("ma_hang,sl\nSP01,2\n"))
	assert.Equal(t, "utf-8", enc)
	assert.Equal(t, "ma_hang,sl\nSP01,2\n", text)
}

func TestDecodeTextUTF8BOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("ma_hang\nSP01\n")...)
	text, enc := DecodeText(data)
	assert.Equal(t, "utf-8-sig", enc)
	assert.Equal(t, "ma_hang\nSP01\n", text)
}

func TestDecodeTextUTF16(t *testing.T) {
	encoder := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	data, err := encoder.Bytes([]byte("ma_hang,sl\nSP01,2\n"))
	assert.NoError(t, err)

	text, enc := DecodeText(data)
	assert.Equal(t, "utf-16", enc)
	assert.Equal(t, "ma_hang,sl\nSP01,2\n", text)
}

func TestDecodeTextCP1252(t *testing.T) {
	// "café" with 0xE9 for é is invalid UTF-8 but valid cp1252
	data := []byte{'c', 'a', 'f', 0xE9}
	text, enc := DecodeText(data)
	assert.Equal(t, "cp1252", enc)
	assert.Equal(t, "café", text)
}

func TestDecodeTextFallbackSubstitution(t *testing.T) {
	// 0x81 is invalid UTF-8 and unassigned in cp1252: every strict
	// attempt fails and the lossy fallback kicks in
	data := []byte{'o', 'k', 0x81, '!'}
	text, enc := DecodeText(data)
	assert.Equal(t, "utf-8-replace", enc)
	assert.Contains(t, text, "ok")
	assert.Contains(t, text, "�")
}
