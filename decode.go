package serialterm

import (
	"strings"
	"unicode/utf8"
)

const replacementChar = "\uFFFD"

// DecodeLossy converts b to a string, replacing each maximal invalid
// subsequence with U+FFFD. Valid UTF-8 is returned unchanged.
//
// Each call stands alone: a multi-byte character split across two serial
// reads shows up as replacement characters.
func DecodeLossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b) + len(replacementChar))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r != utf8.RuneError || size > 1 {
			sb.Write(b[:size])
			b = b[size:]
			continue
		}
		sb.WriteString(replacementChar)
		b = b[invalidPrefix(b):]
	}
	return sb.String()
}

// invalidPrefix returns how many bytes of b, which starts with an invalid
// sequence, belong to its maximal subpart: a lead byte followed by the
// continuation bytes that could still have completed it.
func invalidPrefix(b []byte) int {
	lo, hi := byte(0x80), byte(0xBF)
	var need int
	switch lead := b[0]; {
	case lead >= 0xC2 && lead <= 0xDF:
		need = 1
	case lead == 0xE0:
		need, lo = 2, 0xA0
	case lead == 0xED:
		need, hi = 2, 0x9F
	case lead >= 0xE1 && lead <= 0xEF:
		need = 2
	case lead == 0xF0:
		need, lo = 3, 0x90
	case lead >= 0xF1 && lead <= 0xF3:
		need = 3
	case lead == 0xF4:
		need, hi = 3, 0x8F
	default:
		return 1
	}
	n := 1
	for n <= need && n < len(b) {
		if c := b[n]; c < lo || c > hi {
			break
		}
		lo, hi = 0x80, 0xBF
		n++
	}
	return n
}
