// Package analysis recovers string literals referenced by instructions so
// their text can be shown next to the disassembly.
package analysis

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"patchdiff/internal/binimg"
)

// MinStringLen is the shortest run of bytes accepted as a string literal.
const MinStringLen = 4

// MaxStringLen bounds how far ReadCString scans for a terminator.
const MaxStringLen = 256

// EscapeUnprintable returns a string where printable Unicode runes are preserved.
// Control and unprintable runes are escaped as \uXXXX. Invalid UTF-8 is escaped as \xXX.
func EscapeUnprintable(b []byte) string {
	var sb strings.Builder
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		switch {
		case r == utf8.RuneError && size == 1:
			fmt.Fprintf(&sb, "\\x%02X", b[0])
		case unicode.IsPrint(r):
			sb.WriteRune(r)
		default:
			fmt.Fprintf(&sb, "\\u%04X", r)
		}
		b = b[size:]
	}
	return sb.String()
}

// ReadCString reads a NUL-terminated string at va from a non-executable
// segment. It fails when the bytes do not look like text: too short, no
// terminator within maxLen, or mostly control characters.
func ReadCString(im *binimg.Image, va uint64, maxLen int) (string, bool) {
	seg, ok := im.SegmentAt(va)
	if !ok || seg.Exec {
		return "", false
	}
	data := im.SegmentBytes(seg)
	start := va - seg.Vaddr
	if start >= uint64(len(data)) {
		return "", false
	}
	data = data[start:]
	if len(data) > maxLen {
		data = data[:maxLen]
	}

	n := -1
	for i, b := range data {
		if b == 0 {
			n = i
			break
		}
	}
	if n < MinStringLen {
		return "", false
	}
	raw := data[:n]
	if !textual(raw) {
		return "", false
	}
	return EscapeUnprintable(raw), true
}

// textual reports whether raw is valid UTF-8 with at most one control
// character per eight runes. Tabs and line breaks count as text.
func textual(raw []byte) bool {
	if !utf8.Valid(raw) {
		return false
	}
	runes, ctrl := 0, 0
	for _, r := range string(raw) {
		runes++
		if r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if !unicode.IsPrint(r) {
			ctrl++
		}
	}
	return ctrl*8 <= runes
}

// Annotate returns text with a comment quoting the first string literal
// found at one of refs. text is returned unchanged when none is found.
func Annotate(im *binimg.Image, text string, refs []uint64) string {
	for _, ref := range refs {
		if s, ok := ReadCString(im, ref, MaxStringLen); ok {
			return fmt.Sprintf("%s ; \"%s\"", text, s)
		}
	}
	return text
}
