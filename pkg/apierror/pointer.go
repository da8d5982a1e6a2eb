package apierror

import (
	"strconv"
	"strings"
)

// Pointer is a JSON-Pointer-like location inside a request document.
// Segments are either strings (object keys) or ints (array indexes).
type Pointer []any

// NewPointer creates a pointer from the given segments
func NewPointer(segments ...any) Pointer {
	p := make(Pointer, 0, len(segments))
	return p.Append(segments...)
}

// Append returns a new pointer with the segments added to the end.
// The receiver is never modified, so pointers can be shared between branches.
func (p Pointer) Append(segments ...any) Pointer {
	out := make(Pointer, len(p), len(p)+len(segments))
	copy(out, p)
	for _, segment := range segments {
		switch s := segment.(type) {
		case string, int:
			out = append(out, s)
		case Pointer:
			out = append(out, s...)
		default:
			panic("apierror: pointer segments must be string or int")
		}
	}
	return out
}

// String renders the pointer as "/data/attributes/title".
// The empty pointer renders as "" (the whole document).
func (p Pointer) String() string {
	var b strings.Builder
	for _, segment := range p {
		b.WriteByte('/')
		switch s := segment.(type) {
		case int:
			b.WriteString(strconv.Itoa(s))
		case string:
			b.WriteString(escapeToken(s))
		}
	}
	return b.String()
}

// escapeToken escapes special characters per RFC 6901
func escapeToken(token string) string {
	// Order matters: escape ~ before /
	token = strings.ReplaceAll(token, "~", "~0")
	token = strings.ReplaceAll(token, "/", "~1")
	return token
}
