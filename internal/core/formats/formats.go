// Package formats provides the spreadsheet adapters used by the import and
// export pipelines.
//
// Every adapter registers itself at init time and advertises whether it can
// read, write, or neither in the current build. Callers go through Reader and
// Writer, which return an *UnsupportedFormatError instead of dispatching to an
// adapter that is missing or compiled out.
package formats

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Format identifies a tabular file format.
type Format string

const (
	CSV  Format = "csv"
	XLSX Format = "xlsx"
	XLS  Format = "xls"
)

// ParseFormat normalizes a user supplied format name ("CSV", ".xlsx").
func ParseFormat(s string) Format {
	return Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "."))
}

// FromFilename derives the format from a file extension.
// Returns an empty Format when the name has no extension.
func FromFilename(name string) Format {
	return ParseFormat(filepath.Ext(name))
}

// Row is one row of raw cell values. A cell is nil (empty), string, bool,
// float64 or time.Time depending on what the source format can express.
type Row []any

// ReadOptions controls sheet selection for workbook formats.
type ReadOptions struct {
	// Sheet selects a worksheet by name, or by zero-based index when the
	// value is numeric and no sheet carries that name. Empty means first.
	Sheet string
}

// WriteOptions tunes streaming writers.
type WriteOptions struct {
	// FlushEvery flushes buffered output every N data rows (CSV only).
	FlushEvery int
}

// RowIterator walks data rows without materializing the whole sheet.
type RowIterator interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// RowSource produces output rows lazily by calling emit once per row.
type RowSource func(emit func(row []string) error) error

// Reader decodes a source into its header row and a row iterator.
// An empty or headerless source yields nil headers and an empty iterator.
type Reader interface {
	Read(ctx context.Context, r io.Reader, opts ReadOptions) ([]string, RowIterator, error)
}

// Writer encodes headers followed by the rows produced by src.
type Writer interface {
	Write(ctx context.Context, w io.Writer, headers []string, src RowSource, opts WriteOptions) error
}

// Adapter describes a registered format and what it can do in this build.
type Adapter struct {
	Format      Format
	Extension   string
	ContentType string
	Reader      Reader
	Writer      Writer

	// Unavailable is non-empty when the adapter is registered but its
	// backing library is not compiled in.
	Unavailable string
}

// CanRead reports whether the adapter can decode files in this build.
func (a Adapter) CanRead() bool { return a.Unavailable == "" && a.Reader != nil }

// CanWrite reports whether the adapter can encode files in this build.
func (a Adapter) CanWrite() bool { return a.Unavailable == "" && a.Writer != nil }

var (
	registry   = make(map[Format]Adapter)
	registryMu sync.RWMutex
)

// Register adds an adapter to the registry.
// Panics if the format is already registered.
func Register(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[a.Format]; exists {
		panic(fmt.Sprintf("format already registered: %s", a.Format))
	}
	registry[a.Format] = a
}

// Lookup returns the adapter for a format.
func Lookup(f Format) (Adapter, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	a, ok := registry[f]
	return a, ok
}

// All returns every registered adapter sorted by format name.
func All() []Adapter {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Adapter, 0, len(registry))
	for _, a := range registry {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Format < result[j].Format })
	return result
}

// ReaderFor returns the adapter for f if it can read in this build.
func ReaderFor(f Format) (Adapter, error) {
	a, ok := Lookup(f)
	if !ok {
		return Adapter{}, &UnsupportedFormatError{Format: f, Op: "import", Reason: "unknown format"}
	}
	if !a.CanRead() {
		reason := a.Unavailable
		if reason == "" {
			reason = "format is write-only"
		}
		return Adapter{}, &UnsupportedFormatError{Format: f, Op: "import", Reason: reason}
	}
	return a, nil
}

// WriterFor returns the adapter for f if it can write in this build.
func WriterFor(f Format) (Adapter, error) {
	a, ok := Lookup(f)
	if !ok {
		return Adapter{}, &UnsupportedFormatError{Format: f, Op: "export", Reason: "unknown format"}
	}
	if !a.CanWrite() {
		reason := a.Unavailable
		if reason == "" {
			reason = "format is read-only"
		}
		return Adapter{}, &UnsupportedFormatError{Format: f, Op: "export", Reason: reason}
	}
	return a, nil
}

// emptyIterator is returned for sources without data rows.
type emptyIterator struct{}

func (emptyIterator) Next() bool   { return false }
func (emptyIterator) Row() Row     { return nil }
func (emptyIterator) Err() error   { return nil }
func (emptyIterator) Close() error { return nil }

// normalizeHeaders trims each header cell and drops trailing empty headers.
// Returns nil when no header carries a name.
func normalizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	last := -1
	for i, h := range raw {
		headers[i] = strings.TrimSpace(h)
		if headers[i] != "" {
			last = i
		}
	}
	if last < 0 {
		return nil
	}
	return headers[:last+1]
}
