package formats

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet written by the XLSX exporter.
const SheetName = "Products"

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func init() {
	Register(Adapter{
		Format:      XLSX,
		Extension:   "xlsx",
		ContentType: xlsxContentType,
		Reader:      xlsxAdapter{},
		Writer:      xlsxAdapter{},
	})
}

type xlsxAdapter struct{}

func (xlsxAdapter) Read(ctx context.Context, r io.Reader, opts ReadOptions) ([]string, RowIterator, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, decodeError(XLSX, 0, err)
	}

	sheet, err := selectSheet(f.GetSheetList(), opts.Sheet)
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, nil, decodeError(XLSX, 0, err)
	}

	it := &xlsxIterator{ctx: ctx, file: f, rows: rows, sheet: sheet, dateStyles: make(map[int]bool)}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		it.date1904 = *props.Date1904
	}
	if !rows.Next() {
		err := rows.Error()
		it.Close()
		if err != nil {
			return nil, nil, decodeError(XLSX, 1, err)
		}
		return nil, emptyIterator{}, nil
	}

	header, err := rows.Columns()
	if err != nil {
		it.Close()
		return nil, nil, decodeError(XLSX, 1, err)
	}

	headers := normalizeHeaders(header)
	if headers == nil {
		it.Close()
		return nil, emptyIterator{}, nil
	}
	it.line = 1
	return headers, it, nil
}

// selectSheet resolves a sheet selector against the workbook's sheet list.
// A name match wins over an index interpretation.
func selectSheet(sheets []string, selector string) (string, error) {
	if len(sheets) == 0 {
		return "", fmt.Errorf("%w: workbook has no sheets", ErrSheetNotFound)
	}
	if selector == "" {
		return sheets[0], nil
	}
	for _, name := range sheets {
		if name == selector {
			return name, nil
		}
	}
	if idx, err := strconv.Atoi(selector); err == nil && idx >= 0 && idx < len(sheets) {
		return sheets[idx], nil
	}
	return "", fmt.Errorf("%w: %q", ErrSheetNotFound, selector)
}

type xlsxIterator struct {
	ctx        context.Context
	file       *excelize.File
	rows       *excelize.Rows
	sheet      string
	date1904   bool
	dateStyles map[int]bool // style index -> number format is a date
	row        Row
	line       int // sheet row number; Rows.Next yields every row in order
	err        error
}

func (it *xlsxIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}
	if !it.rows.Next() {
		if err := it.rows.Error(); err != nil {
			it.err = decodeError(XLSX, it.line+1, err)
		}
		return false
	}
	it.line++

	// Raw values skip number formatting, so prices stay numbers and dates
	// stay serials until typed below
	cols, err := it.rows.Columns(excelize.Options{RawCellValue: true})
	if err != nil {
		it.err = decodeError(XLSX, it.line, err)
		return false
	}

	// Blank cells come back as "" and read as missing, like an empty XML cell
	row := make(Row, len(cols))
	for i, v := range cols {
		if v == "" {
			continue
		}
		cell, err := it.typedCell(i+1, v)
		if err != nil {
			it.err = decodeError(XLSX, it.line, err)
			return false
		}
		row[i] = cell
	}
	it.row = row
	return true
}

// typedCell restores the stored type of a raw cell value. Only values that
// parse as numbers can be booleans, dates or numbers, so text cells never
// pay for the type and style lookups.
func (it *xlsxIterator) typedCell(col int, raw string) (any, error) {
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		if isISODate(raw) {
			return it.isoDateCell(col, raw)
		}
		return raw, nil
	}

	name, err := excelize.CoordinatesToCellName(col, it.line)
	if err != nil {
		return nil, err
	}
	typ, err := it.file.GetCellType(it.sheet, name)
	if err != nil {
		return nil, err
	}

	switch typ {
	case excelize.CellTypeBool:
		return raw == "1", nil
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		isDate, err := it.isDateStyle(name)
		if err != nil {
			return nil, err
		}
		if isDate {
			if t, err := excelize.ExcelDateToTime(n, it.date1904); err == nil {
				return t, nil
			}
		}
		return excelNumber(n), nil
	default:
		// Shared, inline and formula strings that happen to look numeric
		return raw, nil
	}
}

// isoDateCell handles cells stored with t="d", which carry an ISO 8601
// value instead of a serial number.
func (it *xlsxIterator) isoDateCell(col int, raw string) (any, error) {
	name, err := excelize.CoordinatesToCellName(col, it.line)
	if err != nil {
		return nil, err
	}
	typ, err := it.file.GetCellType(it.sheet, name)
	if err != nil {
		return nil, err
	}
	if typ != excelize.CellTypeDate {
		return raw, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return raw, nil
}

func isISODate(s string) bool {
	return len(s) >= 10 && s[4] == '-' && s[7] == '-'
}

// isDateStyle reports whether the cell's number format is a date format.
// Results are cached per style index.
func (it *xlsxIterator) isDateStyle(cell string) (bool, error) {
	idx, err := it.file.GetCellStyle(it.sheet, cell)
	if err != nil {
		return false, err
	}
	if isDate, ok := it.dateStyles[idx]; ok {
		return isDate, nil
	}

	isDate := false
	// A workbook without a cellXfs table has no number formats at all
	if style, err := it.file.GetStyle(idx); err == nil {
		code := ""
		if style.CustomNumFmt != nil {
			code = *style.CustomNumFmt
		}
		isDate = isDateFormat(style.NumFmt, code)
	}
	it.dateStyles[idx] = isDate
	return isDate, nil
}

func (it *xlsxIterator) Row() Row   { return it.row }
func (it *xlsxIterator) Err() error { return it.err }

func (it *xlsxIterator) Close() error {
	rerr := it.rows.Close()
	ferr := it.file.Close()
	if rerr != nil {
		return rerr
	}
	return ferr
}

func (xlsxAdapter) Write(ctx context.Context, w io.Writer, headers []string, src RowSource, _ WriteOptions) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}

	rowNum := 1
	writeRow := func(values []string) error {
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		cells := make([]interface{}, len(values))
		for i, v := range values {
			cells[i] = v
		}
		rowNum++
		return sw.SetRow(cell, cells)
	}

	if err := writeRow(headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	err = src(func(row []string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return writeRow(row)
	})
	if err != nil {
		return err
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
