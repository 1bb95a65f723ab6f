package extract

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// decodeText converts plain text bytes to a UTF-8 string and names the detected encoding.
// A BOM wins; otherwise valid UTF-8 is used as-is and anything else is read as Windows-1252,
// which maps every byte and so never fails.
func decodeText(content []byte) (string, string) {
	switch {
	case bytes.HasPrefix(content, bomUTF8):
		return string(content[len(bomUTF8):]), "utf-8-bom"
	case bytes.HasPrefix(content, bomUTF16LE):
		if s, err := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder().Bytes(content); err == nil {
			return string(s), "utf-16le"
		}
	case bytes.HasPrefix(content, bomUTF16BE):
		if s, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(content); err == nil {
			return string(s), "utf-16be"
		}
	}
	if utf8.Valid(content) {
		return string(content), "utf-8"
	}
	if s, err := charmap.Windows1252.NewDecoder().Bytes(content); err == nil {
		return string(s), "windows-1252"
	}
	return string(bytes.ToValidUTF8(content, []byte("\uFFFD"))), "utf-8"
}
