package formats

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/http"
)

const csvContentType = "text/csv; charset=utf-8"

func init() {
	Register(Adapter{
		Format:      CSV,
		Extension:   "csv",
		ContentType: csvContentType,
		Reader:      csvAdapter{},
		Writer:      csvAdapter{},
	})
}

// csvAdapter reads and writes comma-delimited text with standard quoting.
type csvAdapter struct{}

func (csvAdapter) Read(ctx context.Context, r io.Reader, _ ReadOptions) ([]string, RowIterator, error) {
	cr := csv.NewReader(&quoteGuard{r: NewTextReader(r), line: 1})
	cr.FieldsPerRecord = -1 // ragged rows are padded by the consumer
	cr.LazyQuotes = true    // 12" Skillet is a title, not a syntax error

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, emptyIterator{}, nil
	}
	if err != nil {
		return nil, nil, decodeError(CSV, 1, err)
	}

	headers := normalizeHeaders(header)
	if headers == nil {
		return nil, emptyIterator{}, nil
	}
	return headers, &csvIterator{ctx: ctx, reader: cr}, nil
}

type quoteState int

const (
	fieldStart quoteState = iota
	inUnquoted
	inQuoted
	quoteInQuoted
)

// quoteGuard tracks quoting the way a lazy csv.Reader does and fails a
// quoted field still open at end of input, which LazyQuotes alone would
// accept by swallowing the rest of the file into one field.
type quoteGuard struct {
	r        io.Reader
	state    quoteState
	line     int
	openLine int
	err      error
}

func (g *quoteGuard) Read(p []byte) (int, error) {
	if g.err != nil {
		return 0, g.err
	}
	n, err := g.r.Read(p)
	for _, b := range p[:n] {
		g.step(b)
	}
	if err == io.EOF && g.state == inQuoted {
		g.err = &csv.ParseError{StartLine: g.openLine, Line: g.line, Err: csv.ErrQuote}
		return n, g.err
	}
	return n, err
}

func (g *quoteGuard) step(b byte) {
	switch g.state {
	case fieldStart:
		switch b {
		case '"':
			g.state, g.openLine = inQuoted, g.line
		case ',', '\n':
		default:
			g.state = inUnquoted
		}
	case inUnquoted:
		if b == ',' || b == '\n' {
			g.state = fieldStart
		}
	case inQuoted:
		if b == '"' {
			g.state = quoteInQuoted
		}
	case quoteInQuoted:
		switch b {
		case '"':
			g.state = inQuoted
		case ',', '\n':
			g.state = fieldStart
		case '\r':
			g.state = inUnquoted
		default:
			// A lazy reader keeps the stray quote and the field stays open
			g.state = inQuoted
		}
	}
	if b == '\n' {
		g.line++
	}
}

type csvIterator struct {
	ctx    context.Context
	reader *csv.Reader
	row    Row
	err    error
}

func (it *csvIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}

	record, err := it.reader.Read()
	if errors.Is(err, io.EOF) {
		return false
	}
	if err != nil {
		line := 0
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			line = pe.Line
		}
		it.err = decodeError(CSV, line, err)
		return false
	}

	row := make(Row, len(record))
	for i, v := range record {
		row[i] = v
	}
	it.row = row
	return true
}

func (it *csvIterator) Row() Row     { return it.row }
func (it *csvIterator) Err() error   { return it.err }
func (it *csvIterator) Close() error { return nil }

func (csvAdapter) Write(ctx context.Context, w io.Writer, headers []string, src RowSource, opts WriteOptions) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return err
	}

	rowCount := 0
	err := src(func(row []string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := cw.Write(row); err != nil {
			return err
		}

		rowCount++
		if opts.FlushEvery > 0 && rowCount%opts.FlushEvery == 0 {
			cw.Flush()
			if err := cw.Error(); err != nil {
				return err
			}
			// Push the chunk to the client when writing an HTTP response
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}
