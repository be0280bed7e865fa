package formats

// streaming.go provides the byte-level readers the delimited-text adapter
// stacks in front of encoding/csv:
//
//   - NewBOMReader: strips a UTF-8 BOM and transcodes UTF-16 input that
//     announces itself with a BOM
//   - StrictUTF8Reader: fails with ErrInvalidUTF8 on malformed input
//   - CountingReader: tracks bytes consumed for import summaries
//
// NewTextReader applies the first two in the correct order.

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF16LE = []byte{0xFF, 0xFE}
)

// NewBOMReader inspects the first bytes of r. A UTF-8 BOM is dropped; a
// UTF-16 BOM switches to a UTF-16 decoder so the rest of the pipeline
// always sees UTF-8. Input without a BOM passes through unchanged.
func NewBOMReader(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	head, _ := br.Peek(3)

	switch {
	case bytes.HasPrefix(head, bomUTF8):
		br.Discard(len(bomUTF8))
		return br
	case bytes.HasPrefix(head, bomUTF16BE):
		return transform.NewReader(br, unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder())
	case bytes.HasPrefix(head, bomUTF16LE):
		return transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	default:
		return br
	}
}

// StrictUTF8Reader passes UTF-8 through unchanged and returns ErrInvalidUTF8
// at the first malformed sequence. Multi-byte sequences split across reads
// are carried over so only genuinely invalid input fails.
type StrictUTF8Reader struct {
	reader io.Reader

	// Leftover bytes from the previous read that may start a multi-byte rune
	pending []byte
	err     error
}

// NewStrictUTF8Reader wraps r.
func NewStrictUTF8Reader(r io.Reader) *StrictUTF8Reader {
	return &StrictUTF8Reader{
		reader:  r,
		pending: make([]byte, 0, utf8.UTFMax),
	}
}

// Read implements io.Reader.
func (s *StrictUTF8Reader) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if len(p) == 0 {
		return 0, nil
	}

	offset := copy(p, s.pending)
	if offset < len(s.pending) {
		s.pending = append(s.pending[:0], s.pending[offset:]...)
		return offset, nil
	}
	s.pending = s.pending[:0]

	n, err := s.reader.Read(p[offset:])
	n += offset
	data := p[:n]

	if err == nil {
		if trailing := incompleteTrailingBytes(data); trailing > 0 {
			s.pending = append(s.pending, data[n-trailing:]...)
			data = data[:n-trailing]
		}
	}

	if isAllASCII(data) || utf8.Valid(data) {
		return len(data), err
	}

	valid := validPrefix(data)
	s.err = ErrInvalidUTF8
	return valid, s.err
}

// isAllASCII returns true if all bytes are ASCII (< 128).
func isAllASCII(data []byte) bool {
	for _, b := range data {
		if b >= 0x80 {
			return false
		}
	}
	return true
}

// validPrefix returns the length of the longest valid UTF-8 prefix.
func validPrefix(data []byte) int {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(data)
}

// incompleteTrailingBytes returns the number of bytes at the end of data
// that could be the start of an incomplete multi-byte UTF-8 sequence.
func incompleteTrailingBytes(data []byte) int {
	for i := 1; i <= 3 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b >= 0xC0 {
			if i < runeLen(b) {
				return i
			}
			return 0
		}
		// Continuation byte (10xxxxxx) - keep looking for the lead byte
		if b&0xC0 != 0x80 {
			return 0
		}
	}
	return 0
}

// runeLen returns the expected length of a UTF-8 sequence starting with b.
func runeLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xC0:
		return 0
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	default:
		return 4
	}
}

// NewTextReader prepares raw delimited-text bytes for parsing.
func NewTextReader(r io.Reader) io.Reader {
	return NewStrictUTF8Reader(NewBOMReader(r))
}

// CountingReader wraps an io.Reader to track bytes read.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // If known (0 if unknown)
}

// NewCountingReader creates a counting reader with optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{
		reader: r,
		Total:  total,
	}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(r.BytesRead * 100 / r.Total)
}
