package raw

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

var utf16BOM = []byte{0xFE, 0xFF}

// pdfDocHigh maps PDFDocEncoding bytes 0x80-0x9F, which differ from Latin-1.
var pdfDocHigh = [32]rune{
	'•', '†', '‡', '…', '—', '–', 'ƒ', '⁄',
	'‹', '›', '−', '‰', '„', '“', '”', '‘',
	'’', '‚', '™', 'ﬁ', 'ﬂ', 'Ł', 'Œ', 'Š',
	'Ÿ', 'Ž', 'ı', 'ł', 'œ', 'š', 'ž', '�',
}

// DecodeText interprets the bytes of a PDF text string: UTF-16BE when it
// starts with a byte order mark, PDFDocEncoding otherwise.
func DecodeText(b []byte) string {
	if bytes.HasPrefix(b, utf16BOM) {
		dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		out, err := dec.Bytes(b)
		if err == nil {
			return string(out)
		}
	}
	var sb strings.Builder
	for _, c := range b {
		switch {
		case c >= 0x80 && c <= 0x9F:
			sb.WriteRune(pdfDocHigh[c-0x80])
		default:
			sb.WriteRune(rune(c))
		}
	}
	return sb.String()
}

// EncodeText returns s as PDF text string bytes. Printable ASCII is kept as
// is; anything else is written as UTF-16BE with a byte order mark.
func EncodeText(s string) []byte {
	ascii := true
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 0x80 || (c < 0x20 && c != '\n' && c != '\r' && c != '\t') {
			ascii = false
			break
		}
	}
	if ascii {
		return []byte(s)
	}
	enc := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()
	out, err := enc.Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}

// TextString builds a literal string holding s as a PDF text string.
func TextString(s string) StringObj { return Str(EncodeText(s)) }
