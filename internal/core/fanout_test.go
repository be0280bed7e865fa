package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/shopsheet/internal/core/formats"
)

var fanHeaders = []string{"Title", ColumnHandle, ColumnSKU, ColumnImagePosition, ColumnProductImageURL, ColumnVariantImageURL}

func TestFanOut_NoImages(t *testing.T) {
	row := []string{"Chest", "chest", "ST-1", "", "", ""}
	rows := FanOut(fanHeaders, row)
	require.Len(t, rows, 1)
	assert.Equal(t, row, rows[0])
}

func TestFanOut_TwoProductImages(t *testing.T) {
	row := []string{"Chest", "chest", "ST-1", "", "a.jpg,b.jpg", ""}
	rows := FanOut(fanHeaders, row)

	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Chest", "chest", "ST-1", "1", "a.jpg", ""}, rows[0])
	assert.Equal(t, []string{"", "chest", "", "2", "b.jpg", ""}, rows[1])
}

func TestFanOut_UnevenLists(t *testing.T) {
	row := []string{"Chest", "chest", "ST-1", "9", "a.jpg", "v1.jpg\nv2.jpg\nv3.jpg"}
	rows := FanOut(fanHeaders, row)

	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Chest", "chest", "ST-1", "1", "a.jpg", "v1.jpg"}, rows[0])
	assert.Equal(t, []string{"", "chest", "", "2", "", "v2.jpg"}, rows[1])
	assert.Equal(t, []string{"", "chest", "", "3", "", "v3.jpg"}, rows[2])
}

func TestFanOut_RowCountProperty(t *testing.T) {
	images := []string{"", "a", "a,b", "a\nb,c", "a,,b\n\n", " , "}
	for _, product := range images {
		for _, variant := range images {
			row := []string{"T", "h", "S", "", product, variant}
			k := max(len(SplitImageValues(product)), len(SplitImageValues(variant)))

			rows := FanOut(fanHeaders, row)
			require.Len(t, rows, max(k, 1), "product=%q variant=%q", product, variant)
			assert.Equal(t, "T", rows[0][0])
			assert.Equal(t, "S", rows[0][2])
			for _, r := range rows[1:] {
				assert.Equal(t, "", r[0], "scalar columns are blank on continuation rows")
				assert.Equal(t, "h", r[1], "handle repeats on continuation rows")
				assert.Equal(t, "", r[2])
			}
		}
	}
}

func TestFanOut_WithoutPositionOrHandleColumns(t *testing.T) {
	headers := []string{"Title", ColumnProductImageURL}
	rows := FanOut(headers, []string{"Chest", "a.jpg,b.jpg"})
	assert.Equal(t, [][]string{{"Chest", "a.jpg"}, {"", "b.jpg"}}, rows)
}

func TestSchemaCells(t *testing.T) {
	s := NewSchema("")
	rec := NewRecord()
	rec.Set(FieldTitle, "Chest")
	rec.Set(FieldContinueSelling, "false")
	rec.Set(FieldWeightUnit, "KG")
	rec.Vendor = &Vendor{ID: 1, Name: "Acme"}

	headers := []string{"Title", "Vendor", ColumnContinueSelling, ColumnWeightUnit, "Not a column", "Barcode"}
	assert.Equal(t, []string{"Chest", "Acme", "deny", "kg", "", ""}, s.Cells(headers, rec))
}

func TestLocateImageColumns(t *testing.T) {
	_, ok := locateImageColumns([]string{"Title", ColumnProductImageURL})
	assert.False(t, ok, "SKU column is required")

	_, ok = locateImageColumns([]string{"Title", ColumnSKU})
	assert.False(t, ok, "an image column is required")

	cols, ok := locateImageColumns([]string{" SKU ", ColumnImageAltText})
	require.True(t, ok)
	assert.Equal(t, 0, cols.sku)
	assert.Equal(t, 1, cols.alt)
	assert.Equal(t, -1, cols.product)
}

func TestImageColumns_Attachment(t *testing.T) {
	cols, ok := locateImageColumns([]string{ColumnSKU, ColumnProductImageURL, ColumnImagePosition, ColumnImageAltText})
	require.True(t, ok)

	a, ok := cols.attachment(formats.Row{"ST-1", "a.jpg", float64(2), "Front"})
	require.True(t, ok)
	require.NotNil(t, a.Position)
	assert.Equal(t, 2, *a.Position)
	assert.Equal(t, "Front", a.AltText)

	a, ok = cols.attachment(formats.Row{"ST-1", "a.jpg", "first"})
	require.True(t, ok)
	assert.Nil(t, a.Position, "unparsable position is dropped")

	for _, raw := range []string{"0", "-3", "2147483648", "99999999999"} {
		a, ok = cols.attachment(formats.Row{"ST-1", "a.jpg", raw})
		require.True(t, ok)
		assert.Nil(t, a.Position, "position %s is out of range", raw)
	}

	a, ok = cols.attachment(formats.Row{"ST-1", "a.jpg", "2147483647"})
	require.True(t, ok)
	require.NotNil(t, a.Position)
	assert.Equal(t, math.MaxInt32, *a.Position)

	_, ok = cols.attachment(formats.Row{"ST-1", "", "", ""})
	assert.False(t, ok, "no image data")

	_, ok = cols.attachment(formats.Row{"", "a.jpg"})
	assert.False(t, ok, "no SKU")

	_, ok = cols.attachment(formats.Row{"ST-1"})
	assert.False(t, ok, "short rows carry no image data")
}
