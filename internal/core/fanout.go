package core

import (
	"math"
	"strconv"
	"strings"

	"github.com/JonMunkholm/shopsheet/internal/core/formats"
)

// Cells renders the scalar export row of rec in header order. Headers that
// do not map to a field are left empty.
func (s *Schema) Cells(headers []string, rec Record) []string {
	row := make([]string, len(headers))
	for i, h := range headers {
		f, ok := s.byColumn[h]
		if !ok {
			continue
		}
		row[i] = ValueToCell(h, rec.Value(f))
	}
	return row
}

// FanOut expands one scalar row into the rows that carry its images.
// The first row keeps every column; continuation rows repeat only the
// handle. Each row takes the i-th product and variant image, and the
// image position column, when present, is set to i+1.
func FanOut(headers []string, row []string) [][]string {
	handleIdx := indexOf(headers, ColumnHandle)
	productIdx := indexOf(headers, ColumnProductImageURL)
	variantIdx := indexOf(headers, ColumnVariantImageURL)
	positionIdx := indexOf(headers, ColumnImagePosition)

	var products, variants []string
	if productIdx >= 0 {
		products = SplitImageValues(row[productIdx])
	}
	if variantIdx >= 0 {
		variants = SplitImageValues(row[variantIdx])
	}

	n := max(len(products), len(variants))
	if n == 0 {
		return [][]string{row}
	}

	rows := make([][]string, n)
	for i := range n {
		var out []string
		if i == 0 {
			out = append([]string(nil), row...)
		} else {
			out = make([]string, len(headers))
			if handleIdx >= 0 {
				out[handleIdx] = row[handleIdx]
			}
		}

		if productIdx >= 0 {
			out[productIdx] = nth(products, i)
		}
		if variantIdx >= 0 {
			out[variantIdx] = nth(variants, i)
		}
		if positionIdx >= 0 {
			out[positionIdx] = strconv.Itoa(i + 1)
		}
		rows[i] = out
	}
	return rows
}

func indexOf(headers []string, name string) int {
	for i, h := range headers {
		if h == name {
			return i
		}
	}
	return -1
}

func nth(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}

// imageColumns locates the source columns fan-in reads. An index of -1
// means the column is missing.
type imageColumns struct {
	sku      int
	product  int
	variant  int
	position int
	alt      int
}

// locateImageColumns reports whether the headers carry a SKU column and
// at least one image column.
func locateImageColumns(headers []string) (imageColumns, bool) {
	trimmed := make([]string, len(headers))
	for i, h := range headers {
		trimmed[i] = strings.TrimSpace(h)
	}

	c := imageColumns{
		sku:      indexOf(trimmed, ColumnSKU),
		product:  indexOf(trimmed, ColumnProductImageURL),
		variant:  indexOf(trimmed, ColumnVariantImageURL),
		position: indexOf(trimmed, ColumnImagePosition),
		alt:      indexOf(trimmed, ColumnImageAltText),
	}
	if c.sku < 0 {
		return c, false
	}
	return c, c.product >= 0 || c.variant >= 0 || c.position >= 0 || c.alt >= 0
}

func cellText(row formats.Row, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	v, _ := CellToValue(row[idx])
	return v
}

// attachment extracts the image entry of one source row. It returns false
// when the row has no SKU or no image data. An unparsable position is
// dropped rather than rejected.
func (c imageColumns) attachment(row formats.Row) (Attachment, bool) {
	a := Attachment{SKU: cellText(row, c.sku)}
	if a.SKU == "" {
		return a, false
	}

	a.ProductImageURL = cellText(row, c.product)
	a.VariantImageURL = cellText(row, c.variant)
	a.AltText = cellText(row, c.alt)
	// Positions are 1-based and stored as a 32-bit integer
	if raw := cellText(row, c.position); raw != "" {
		if pos, err := strconv.Atoi(raw); err == nil && pos >= 1 && pos <= math.MaxInt32 {
			a.Position = &pos
		}
	}

	if a.ProductImageURL == "" && a.VariantImageURL == "" && a.AltText == "" && a.Position == nil {
		return a, false
	}
	return a, true
}

// fanIn collects attachments across an import and links them to records
// once every row has been read.
type fanIn struct {
	cols    imageColumns
	pending []Attachment
	skus    map[string]struct{}
}

func newFanIn(headers []string) *fanIn {
	cols, ok := locateImageColumns(headers)
	if !ok {
		return nil
	}
	return &fanIn{cols: cols, skus: make(map[string]struct{})}
}

func (f *fanIn) add(row formats.Row) {
	if f == nil {
		return
	}
	a, ok := f.cols.attachment(row)
	if !ok {
		return
	}
	f.pending = append(f.pending, a)
	f.skus[a.SKU] = struct{}{}
}

// resolve keeps the attachments whose SKU belongs to an existing record.
func (f *fanIn) resolve(known map[string]int64) []Attachment {
	if f == nil {
		return nil
	}
	kept := make([]Attachment, 0, len(f.pending))
	for _, a := range f.pending {
		if _, ok := known[a.SKU]; ok {
			kept = append(kept, a)
		}
	}
	return kept
}

func (f *fanIn) skuList() []string {
	if f == nil {
		return nil
	}
	list := make([]string, 0, len(f.skus))
	for sku := range f.skus {
		list = append(list, sku)
	}
	return list
}
