//go:build !noxls

package formats

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf16"

	"github.com/extrame/ole2"
	"github.com/xuri/excelize/v2"
)

// BIFF8 record identifiers.
const (
	recFormula    = 0x0006
	recEOF        = 0x000A
	recDateMode   = 0x0022
	recFilePass   = 0x002F
	recContinue   = 0x003C
	recBoundSheet = 0x0085
	recMulRK      = 0x00BD
	recXF         = 0x00E0
	recSST        = 0x00FC
	recLabelSST   = 0x00FD
	recNumber     = 0x0203
	recLabel      = 0x0204
	recBoolErr    = 0x0205
	recString     = 0x0207
	recRK         = 0x027E
	recFormat     = 0x041E
	recBOF        = 0x0809
)

const (
	biff8Version   = 0x0600
	maxBIFFColumns = 256
	maxSSTPrealloc = 1 << 16
)

var le = binary.LittleEndian

// biffErrorText maps BOOLERR and formula error codes to their cell text.
var biffErrorText = map[byte]string{
	0x00: "#NULL!",
	0x07: "#DIV/0!",
	0x0F: "#VALUE!",
	0x17: "#REF!",
	0x1D: "#NAME?",
	0x24: "#NUM!",
	0x2A: "#N/A",
}

type biffRecord struct {
	id   uint16
	data []byte
}

// biffStream walks the records of an in-memory workbook stream.
type biffStream struct {
	data []byte
	pos  int
}

// next returns the following record. ok is false at the end of the stream.
func (s *biffStream) next() (rec biffRecord, ok bool, err error) {
	if s.pos+4 > len(s.data) {
		return biffRecord{}, false, nil
	}
	id := le.Uint16(s.data[s.pos:])
	size := int(le.Uint16(s.data[s.pos+2:]))
	start := s.pos + 4
	if start+size > len(s.data) {
		return biffRecord{}, false, fmt.Errorf("record 0x%04X at offset %d is truncated", id, s.pos)
	}
	s.pos = start + size
	return biffRecord{id: id, data: s.data[start : start+size]}, true, nil
}

func (s *biffStream) peek() uint16 {
	if s.pos+4 > len(s.data) {
		return 0
	}
	return le.Uint16(s.data[s.pos:])
}

// biffWorkbook holds the workbook globals needed to type cell values.
type biffWorkbook struct {
	data      []byte
	date1904  bool
	sst       []string
	xfFormats []uint16 // XF index to number format index
	formats   map[uint16]string
	sheets    []biffSheet
}

type biffSheet struct {
	name   string
	offset int
}

// openBIFF reads the Workbook stream out of the compound document and
// decodes its globals. Only BIFF8 (Excel 97 and later) is supported.
func openBIFF(rs io.ReadSeeker) (wb *biffWorkbook, err error) {
	// The container reader indexes sector tables without bounds checks.
	defer func() {
		if r := recover(); r != nil {
			wb, err = nil, fmt.Errorf("corrupt compound document: %v", r)
		}
	}()

	doc, err := ole2.Open(rs, "utf-8")
	if err != nil {
		return nil, err
	}
	dir, err := doc.ListDir()
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var book, root *ole2.File
	for _, f := range dir {
		switch f.Name() {
		case "Workbook":
			book = f
		case "Book":
			if book == nil {
				book = f
			}
		case "Root Entry":
			root = f
		}
	}
	if book == nil || root == nil {
		return nil, errors.New("no workbook stream")
	}

	data, err := io.ReadAll(io.LimitReader(doc.OpenFile(book, root), int64(book.Size)))
	if err != nil {
		return nil, fmt.Errorf("read workbook stream: %w", err)
	}

	wb = &biffWorkbook{data: data, formats: make(map[uint16]string)}
	if err := wb.parseGlobals(); err != nil {
		return nil, err
	}
	return wb, nil
}

func (wb *biffWorkbook) parseGlobals() error {
	s := &biffStream{data: wb.data}
	if err := expectBOF(s); err != nil {
		return err
	}

	for {
		rec, ok, err := s.next()
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("workbook globals end without EOF record")
		}

		d := rec.data
		switch rec.id {
		case recEOF:
			return nil
		case recFilePass:
			return errors.New("workbook is password protected")
		case recDateMode:
			wb.date1904 = len(d) >= 2 && le.Uint16(d) == 1
		case recXF:
			var format uint16
			if len(d) >= 4 {
				format = le.Uint16(d[2:])
			}
			wb.xfFormats = append(wb.xfFormats, format)
		case recFormat:
			if len(d) < 2 {
				continue
			}
			code, err := newBIFFStrings(d[2:]).unicode16()
			if err != nil {
				return fmt.Errorf("FORMAT record: %w", err)
			}
			wb.formats[le.Uint16(d)] = code
		case recSST:
			chunks := [][]byte{d}
			for s.peek() == recContinue {
				cont, _, err := s.next()
				if err != nil {
					return err
				}
				chunks = append(chunks, cont.data)
			}
			if err := wb.readSST(chunks); err != nil {
				return fmt.Errorf("shared strings: %w", err)
			}
		case recBoundSheet:
			if len(d) < 8 {
				continue
			}
			name, err := newBIFFStrings(d[6:]).unicode8()
			if err != nil {
				return fmt.Errorf("sheet name: %w", err)
			}
			wb.sheets = append(wb.sheets, biffSheet{name: name, offset: int(le.Uint32(d))})
		}
	}
}

func expectBOF(s *biffStream) error {
	rec, ok, err := s.next()
	if err != nil {
		return err
	}
	if !ok || rec.id != recBOF || len(rec.data) < 4 {
		return errors.New("missing BOF record")
	}
	if v := le.Uint16(rec.data); v != biff8Version {
		return fmt.Errorf("BIFF version 0x%04X is not supported, save the file as Excel 97-2003 or newer", v)
	}
	return nil
}

func (wb *biffWorkbook) readSST(chunks [][]byte) error {
	r := &biffStrings{chunks: chunks}
	head, err := r.bytes(8)
	if err != nil {
		return err
	}
	unique := int(le.Uint32(head[4:]))
	wb.sst = make([]string, 0, min(unique, maxSSTPrealloc))
	for i := 0; i < unique; i++ {
		str, err := r.unicode16()
		if err != nil {
			return fmt.Errorf("string %d: %w", i, err)
		}
		wb.sst = append(wb.sst, str)
	}
	return nil
}

// number types a numeric cell through its XF: date formats become
// timestamps in the workbook's date system.
func (wb *biffWorkbook) number(xf uint16, v float64) any {
	if int(xf) < len(wb.xfFormats) {
		id := wb.xfFormats[xf]
		if isDateFormat(int(id), wb.formats[id]) {
			if t, err := excelize.ExcelDateToTime(v, wb.date1904); err == nil {
				return t
			}
		}
	}
	return excelNumber(v)
}

// biffCells is one decoded worksheet, rows keyed by zero-based index.
type biffCells struct {
	rows map[int]Row
	last int // highest row index holding a value; -1 when empty
}

func (c *biffCells) set(row, col int, v any) {
	if col >= maxBIFFColumns {
		return
	}
	if s, ok := v.(string); ok && s == "" {
		return
	}
	r := c.rows[row]
	if col >= len(r) {
		r = append(r, make(Row, col+1-len(r))...)
	}
	r[col] = v
	c.rows[row] = r
	if row > c.last {
		c.last = row
	}
}

// readSheet decodes the cell records of one worksheet substream.
func (wb *biffWorkbook) readSheet(sh biffSheet) (*biffCells, error) {
	if sh.offset < 0 || sh.offset >= len(wb.data) {
		return nil, fmt.Errorf("sheet %q: offset %d outside the workbook stream", sh.name, sh.offset)
	}
	s := &biffStream{data: wb.data, pos: sh.offset}
	if err := expectBOF(s); err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sh.name, err)
	}

	cells := &biffCells{rows: make(map[int]Row), last: -1}
	pendingRow, pendingCol := -1, -1

	for {
		rec, ok, err := s.next()
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sh.name, err)
		}
		if !ok || rec.id == recEOF {
			return cells, nil
		}

		d := rec.data
		if rec.id == recString {
			// STRING carries no cell reference; it belongs to the preceding formula
			if pendingRow >= 0 {
				str, err := newBIFFStrings(d).unicode16()
				if err != nil {
					return nil, fmt.Errorf("sheet %q: formula result at row %d: %w", sh.name, pendingRow+1, err)
				}
				cells.set(pendingRow, pendingCol, str)
				pendingRow, pendingCol = -1, -1
			}
			continue
		}
		if len(d) < 6 {
			continue
		}
		row, col, xf := int(le.Uint16(d)), int(le.Uint16(d[2:])), le.Uint16(d[4:])

		switch rec.id {
		case recNumber:
			if len(d) >= 14 {
				cells.set(row, col, wb.number(xf, math.Float64frombits(le.Uint64(d[6:]))))
			}
		case recRK:
			if len(d) >= 10 {
				cells.set(row, col, wb.number(xf, rkValue(le.Uint32(d[6:]))))
			}
		case recMulRK:
			for i, off := 0, 4; off+6 <= len(d)-2; i, off = i+1, off+6 {
				cells.set(row, col+i, wb.number(le.Uint16(d[off:]), rkValue(le.Uint32(d[off+2:]))))
			}
		case recLabelSST:
			if len(d) >= 10 {
				if idx := int(le.Uint32(d[6:])); idx < len(wb.sst) {
					cells.set(row, col, wb.sst[idx])
				}
			}
		case recLabel:
			str, err := newBIFFStrings(d[6:]).unicode16()
			if err != nil {
				return nil, fmt.Errorf("sheet %q: LABEL at row %d: %w", sh.name, row+1, err)
			}
			cells.set(row, col, str)
		case recBoolErr:
			if len(d) >= 8 {
				cells.set(row, col, boolErrValue(d[6], d[7] != 0))
			}
		case recFormula:
			if len(d) < 14 {
				continue
			}
			res := d[6:14]
			if res[6] != 0xFF || res[7] != 0xFF {
				cells.set(row, col, wb.number(xf, math.Float64frombits(le.Uint64(res))))
				continue
			}
			switch res[0] {
			case 0:
				pendingRow, pendingCol = row, col
			case 1:
				cells.set(row, col, res[2] != 0)
			case 2:
				cells.set(row, col, boolErrValue(res[2], true))
			}
		}
	}
}

func boolErrValue(v byte, isErr bool) any {
	if !isErr {
		return v != 0
	}
	if text, ok := biffErrorText[v]; ok {
		return text
	}
	return fmt.Sprintf("#ERR%d", v)
}

// rkValue decodes the compressed RK number encoding.
func rkValue(rk uint32) float64 {
	var v float64
	if rk&0x02 != 0 {
		v = float64(int32(rk) >> 2)
	} else {
		v = math.Float64frombits(uint64(rk&0xFFFFFFFC) << 32)
	}
	if rk&0x01 != 0 {
		v /= 100
	}
	return v
}

// biffStrings reads XLUnicodeString values from a record and its CONTINUE
// records.
type biffStrings struct {
	chunks [][]byte
	chunk  int
	pos    int
}

func newBIFFStrings(data []byte) *biffStrings {
	return &biffStrings{chunks: [][]byte{data}}
}

func (r *biffStrings) bytes(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for n > 0 {
		if r.chunk >= len(r.chunks) {
			return nil, io.ErrUnexpectedEOF
		}
		cur := r.chunks[r.chunk][r.pos:]
		if len(cur) == 0 {
			r.chunk, r.pos = r.chunk+1, 0
			continue
		}
		k := min(n, len(cur))
		out = append(out, cur[:k]...)
		r.pos += k
		n -= k
	}
	return out, nil
}

// unicode16 reads a string with a two-byte character count.
func (r *biffStrings) unicode16() (string, error) {
	b, err := r.bytes(2)
	if err != nil {
		return "", err
	}
	return r.unicodeBody(int(le.Uint16(b)))
}

// unicode8 reads a string with a one-byte character count.
func (r *biffStrings) unicode8() (string, error) {
	b, err := r.bytes(1)
	if err != nil {
		return "", err
	}
	return r.unicodeBody(int(b[0]))
}

func (r *biffStrings) unicodeBody(cch int) (string, error) {
	b, err := r.bytes(1)
	if err != nil {
		return "", err
	}
	flags := b[0]

	var runs, ext int
	if flags&0x08 != 0 {
		if b, err = r.bytes(2); err != nil {
			return "", err
		}
		runs = int(le.Uint16(b))
	}
	if flags&0x04 != 0 {
		if b, err = r.bytes(4); err != nil {
			return "", err
		}
		ext = int(le.Uint32(b))
	}

	str, err := r.chars(cch, flags&0x01 != 0)
	if err != nil {
		return "", err
	}
	if _, err := r.bytes(runs*4 + ext); err != nil {
		return "", err
	}
	return str, nil
}

// chars reads cch characters. A string split across records restarts
// with a fresh option byte that may switch between 8 and 16 bit storage.
func (r *biffStrings) chars(cch int, wide bool) (string, error) {
	units := make([]uint16, 0, cch)
	for len(units) < cch {
		if r.chunk >= len(r.chunks) {
			return "", io.ErrUnexpectedEOF
		}
		cur := r.chunks[r.chunk][r.pos:]
		if len(cur) == 0 {
			r.chunk, r.pos = r.chunk+1, 0
			if r.chunk >= len(r.chunks) || len(r.chunks[r.chunk]) == 0 {
				return "", io.ErrUnexpectedEOF
			}
			wide = r.chunks[r.chunk][0]&0x01 != 0
			r.pos = 1
			continue
		}
		if wide {
			for len(cur) >= 2 && len(units) < cch {
				units = append(units, le.Uint16(cur))
				cur = cur[2:]
				r.pos += 2
			}
			if len(cur) == 1 && len(units) < cch {
				return "", errors.New("UTF-16 character split across records")
			}
			continue
		}
		for len(cur) > 0 && len(units) < cch {
			units = append(units, uint16(cur[0]))
			cur = cur[1:]
			r.pos++
		}
	}
	return string(utf16.Decode(units)), nil
}
