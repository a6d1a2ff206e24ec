package chat

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// Framer splits a byte stream into '\n'-terminated lines. Bytes after the
// last delimiter are kept until a later chunk completes them.
type Framer struct {
	buf     []byte
	scanned int // leading bytes of buf already known to hold no '\n'
}

// Feed appends chunk and returns every line it completes.
func (f *Framer) Feed(chunk []byte) []string {
	f.Append(chunk)
	return f.Lines()
}

func (f *Framer) Append(chunk []byte) {
	f.buf = append(f.buf, chunk...)
}

// Lines removes and returns the complete lines buffered so far, without
// their delimiter. Each invalid UTF-8 sequence becomes one U+FFFD.
func (f *Framer) Lines() []string {
	var lines []string
	start, from := 0, f.scanned
	for {
		i := bytes.IndexByte(f.buf[from:], '\n')
		if i < 0 {
			break
		}
		end := from + i
		lines = append(lines, lossyString(f.buf[start:end]))
		start = end + 1
		from = start
	}
	if start > 0 {
		f.buf = f.buf[:copy(f.buf, f.buf[start:])]
	}
	f.scanned = len(f.buf)
	return lines
}

func (f *Framer) Pending() int { return len(f.buf) }

func lossyString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b) + 2*utf8.UTFMax)
	for len(b) > 0 {
		r, n := utf8.DecodeRune(b)
		if r == utf8.RuneError && n == 1 {
			sb.WriteRune(utf8.RuneError)
			b = b[invalidPrefix(b):]
			continue
		}
		sb.Write(b[:n])
		b = b[n:]
	}
	return sb.String()
}

// invalidPrefix returns the length of the broken sequence at the head of b:
// its lead byte plus the continuation bytes that were still acceptable
// after it. A stray byte counts alone.
func invalidPrefix(b []byte) int {
	need := 0
	lo, hi := byte(0x80), byte(0xBF)
	switch c := b[0]; {
	case c >= 0xC2 && c <= 0xDF:
		need = 1
	case c == 0xE0:
		need, lo = 2, 0xA0
	case c == 0xED:
		need, hi = 2, 0x9F
	case c >= 0xE1 && c <= 0xEF:
		need = 2
	case c == 0xF0:
		need, lo = 3, 0x90
	case c >= 0xF1 && c <= 0xF3:
		need = 3
	case c == 0xF4:
		need, hi = 3, 0x8F
	default:
		return 1
	}
	n := 1
	for n <= need && n < len(b) && b[n] >= lo && b[n] <= hi {
		n++
		lo, hi = 0x80, 0xBF
	}
	return n
}
