package formats

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported is wrapped by every *UnsupportedFormatError.
	ErrUnsupported = errors.New("unsupported format")

	// ErrDecode is wrapped by every *DecodeError.
	ErrDecode = errors.New("decode failed")

	// ErrInvalidUTF8 is returned by StrictUTF8Reader on malformed input.
	ErrInvalidUTF8 = errors.New("encoding error: invalid UTF-8")

	// ErrSheetNotFound is returned when a requested worksheet does not exist.
	ErrSheetNotFound = errors.New("sheet not found")
)

// UnsupportedFormatError reports a format that is unknown or whose adapter
// cannot serve the requested direction in this build. It is recoverable.
type UnsupportedFormatError struct {
	Format Format
	Op     string // "import" or "export"
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	name := string(e.Format)
	if name == "" {
		name = "(none)"
	}
	return fmt.Sprintf("unsupported format %q for %s: %s", name, e.Op, e.Reason)
}

func (e *UnsupportedFormatError) Unwrap() error { return ErrUnsupported }

// DecodeError reports unreadable source bytes.
type DecodeError struct {
	Format Format
	Line   int // 1-based; 0 when unknown
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("decode %s: line %d: %v", e.Format, e.Line, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Format, e.Err)
}

// Unwrap exposes both ErrDecode and the underlying cause to errors.Is.
func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

func decodeError(f Format, line int, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &DecodeError{Format: f, Line: line, Err: err}
}
