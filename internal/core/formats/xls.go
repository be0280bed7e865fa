//go:build !noxls

package formats

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
)

func init() {
	Register(Adapter{
		Format:      XLS,
		Extension:   "xls",
		ContentType: "application/vnd.ms-excel",
		Reader:      xlsAdapter{},
	})
}

// xlsAdapter reads legacy BIFF8 workbooks. It is read-only.
//
// Cells keep their stored type: numbers in a date format become
// time.Time in the workbook's 1900 or 1904 date system, BOOLERR cells
// become bool, and formulas yield their cached result.
type xlsAdapter struct{}

func (xlsAdapter) Read(ctx context.Context, r io.Reader, opts ReadOptions) ([]string, RowIterator, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		// The compound file format needs random access
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, nil, decodeError(XLS, 0, err)
		}
		rs = bytes.NewReader(data)
	}

	wb, err := openBIFF(rs)
	if err != nil {
		return nil, nil, decodeError(XLS, 0, err)
	}

	sheet, err := selectXLSSheet(wb.sheets, opts.Sheet)
	if err != nil {
		return nil, nil, err
	}
	cells, err := wb.readSheet(sheet)
	if err != nil {
		return nil, nil, decodeError(XLS, 0, err)
	}
	if cells.last < 0 {
		return nil, emptyIterator{}, nil
	}

	raw := cells.rows[0]
	header := make([]string, len(raw))
	for i, v := range raw {
		if v != nil {
			header[i] = fmt.Sprint(v)
		}
	}
	headers := normalizeHeaders(header)
	if headers == nil {
		return nil, emptyIterator{}, nil
	}
	return headers, &xlsIterator{ctx: ctx, cells: cells, next: 1}, nil
}

// selectXLSSheet resolves a selector the same way selectSheet does for
// XLSX: name first, then zero-based index.
func selectXLSSheet(sheets []biffSheet, selector string) (biffSheet, error) {
	if len(sheets) == 0 {
		return biffSheet{}, fmt.Errorf("%w: workbook has no sheets", ErrSheetNotFound)
	}
	if selector == "" {
		return sheets[0], nil
	}
	for _, s := range sheets {
		if s.name == selector {
			return s, nil
		}
	}
	if idx, err := strconv.Atoi(selector); err == nil && idx >= 0 && idx < len(sheets) {
		return sheets[idx], nil
	}
	return biffSheet{}, fmt.Errorf("%w: %q", ErrSheetNotFound, selector)
}

type xlsIterator struct {
	ctx   context.Context
	cells *biffCells
	next  int
	row   Row
	err   error
}

func (it *xlsIterator) Next() bool {
	if it.err != nil || it.next > it.cells.last {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}
	// Rows without cell records come back empty, keeping line numbers aligned
	it.row = it.cells.rows[it.next]
	if it.row == nil {
		it.row = Row{}
	}
	it.next++
	return true
}

func (it *xlsIterator) Row() Row     { return it.row }
func (it *xlsIterator) Err() error   { return it.err }
func (it *xlsIterator) Close() error { return nil }
