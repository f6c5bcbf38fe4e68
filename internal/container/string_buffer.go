package container

import "strings"

// StringBuffer is a trivial growable byte-string builder, used where
// the spec calls for a caller-owned scratch buffer rather than Go's
// strings.Builder directly (so callers outside this package don't take
// a dependency on the standard type's reset semantics).
type StringBuffer struct {
	b strings.Builder
}

// WriteString appends s to the buffer.
func (s *StringBuffer) WriteString(str string) {
	s.b.WriteString(str)
}

// WriteByte appends a single byte.
func (s *StringBuffer) WriteByte(b byte) {
	_ = s.b.WriteByte(b)
}

// String returns the accumulated content.
func (s *StringBuffer) String() string {
	return s.b.String()
}

// Len returns the number of bytes written so far.
func (s *StringBuffer) Len() int {
	return s.b.Len()
}

// Reset empties the buffer for reuse.
func (s *StringBuffer) Reset() {
	s.b.Reset()
}
