// Package linebuf accumulates data read from an IRC connection and segments
// it into CRLF-terminated lines.
//
// Bytes which do not (yet) form a complete line stay buffered until the rest
// of the line arrives, no matter how the data was fragmented on the wire.
package linebuf

import (
	"bytes"
	"strings"
)

var crlf = []byte("\r\n")

// Buffer is not safe for concurrent use.
type Buffer struct {
	data []byte
}

// Write appends p to the buffer. It never returns an error.
func (b *Buffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// WriteString is like Write, but for strings.
func (b *Buffer) WriteString(s string) (int, error) {
	b.data = append(b.data, s...)
	return len(s), nil
}

// Lines returns all complete lines (without their CRLF terminator) in arrival
// order. The buffer is not modified.
func (b *Buffer) Lines() []string {
	var lines []string
	rest := b.data
	for {
		idx := bytes.Index(rest, crlf)
		if idx == -1 {
			return lines
		}
		lines = append(lines, string(rest[:idx]))
		rest = rest[idx+len(crlf):]
	}
}

// Partial returns the trailing bytes which are not terminated by CRLF yet.
func (b *Buffer) Partial() string {
	idx := bytes.LastIndex(b.data, crlf)
	if idx == -1 {
		return string(b.data)
	}
	return string(b.data[idx+len(crlf):])
}

// Len returns the number of buffered bytes, including partial lines.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Take removes and returns the first complete line for which match returns
// true. All other lines, including a trailing partial line, stay in the
// buffer in their original order.
func (b *Buffer) Take(match func(line string) bool) (string, bool) {
	start := 0
	for {
		idx := bytes.Index(b.data[start:], crlf)
		if idx == -1 {
			return "", false
		}
		end := start + idx
		line := string(b.data[start:end])
		if match(line) {
			b.data = append(b.data[:start], b.data[end+len(crlf):]...)
			return line, true
		}
		start = end + len(crlf)
	}
}

// Reset discards all buffered data.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

// String returns the buffered data verbatim.
func (b *Buffer) String() string {
	return string(b.data)
}

// Token returns code padded with one space on each side, which is the token
// that MatchToken looks for.
func Token(code string) string {
	return " " + code + " "
}

// MatchToken returns a match function for Take which accepts lines containing
// the space-padded code, e.g. " 311 ". The padding keeps "1" from matching
// "311", but a message body containing the padded token still matches.
func MatchToken(code string) func(string) bool {
	token := Token(code)
	return func(line string) bool {
		return strings.Contains(line, token)
	}
}
