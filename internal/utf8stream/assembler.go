// Package utf8stream turns a stream of raw token pieces into text that is
// always well-formed UTF-8, holding back bytes of a character split across
// tokens until the rest arrives.
package utf8stream

import "unicode/utf8"

// Class describes the state of the pending buffer.
type Class int

const (
	Empty Class = iota
	Complete
	PartialTail
	Invalid
)

func (c Class) String() string {
	switch c {
	case Empty:
		return "empty"
	case Complete:
		return "complete"
	case PartialTail:
		return "partial-tail"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Classify reports whether b is valid UTF-8, valid except for an unfinished
// final sequence, or invalid.
func Classify(b []byte) Class {
	if len(b) == 0 {
		return Empty
	}
	if utf8.Valid(b) {
		return Complete
	}
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		// FullRune is true for malformed sequences, so false here means b[i:]
		// is a well-formed prefix still waiting for continuation bytes.
		if !utf8.FullRune(b[i:]) && utf8.Valid(b[:i]) {
			return PartialTail
		}
		break
	}
	return Invalid
}

// Assembler buffers pieces and releases the whole buffer only once it is
// complete UTF-8. Partial and invalid buffers are held for the next Append.
type Assembler struct {
	buf []byte
}

// Append adds p and returns the buffered text if it is now releasable.
func (a *Assembler) Append(p []byte) (string, bool) {
	a.buf = append(a.buf, p...)
	if Classify(a.buf) != Complete {
		return "", false
	}
	s := string(a.buf)
	a.buf = a.buf[:0]
	return s, true
}

// Drain drops trailing bytes until the buffer is valid UTF-8 and returns
// what remains, leaving the assembler empty.
func (a *Assembler) Drain() string {
	b := a.buf
	for len(b) > 0 && !utf8.Valid(b) {
		b = b[:len(b)-1]
	}
	s := string(b)
	a.buf = a.buf[:0]
	return s
}

// Pending returns the number of held bytes.
func (a *Assembler) Pending() int { return len(a.buf) }

func (a *Assembler) Reset() { a.buf = a.buf[:0] }
