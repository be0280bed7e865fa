package formats

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func readAll(t *testing.T, it RowIterator) []Row {
	t.Helper()
	defer it.Close()

	var rows []Row
	for it.Next() {
		rows = append(rows, it.Row())
	}
	require.NoError(t, it.Err())
	return rows
}

func sliceSource(rows [][]string) RowSource {
	return func(emit func([]string) error) error {
		for _, r := range rows {
			if err := emit(r); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"csv", CSV},
		{" XLSX ", XLSX},
		{".xls", XLS},
		{"", Format("")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseFormat(tt.in), "ParseFormat(%q)", tt.in)
	}

	assert.Equal(t, XLSX, FromFilename("Products Export.XLSX"))
	assert.Equal(t, CSV, FromFilename("/tmp/rows.csv"))
	assert.Equal(t, Format(""), FromFilename("README"))
}

func TestRegistry_BuiltinAdapters(t *testing.T) {
	csvA, ok := Lookup(CSV)
	require.True(t, ok)
	assert.True(t, csvA.CanRead())
	assert.True(t, csvA.CanWrite())
	assert.Equal(t, "text/csv; charset=utf-8", csvA.ContentType)

	xlsxA, ok := Lookup(XLSX)
	require.True(t, ok)
	assert.True(t, xlsxA.CanWrite())
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", xlsxA.ContentType)

	xlsA, ok := Lookup(XLS)
	require.True(t, ok)
	assert.False(t, xlsA.CanWrite(), "legacy XLS is read-only")

	all := All()
	require.Len(t, all, 3)
	assert.Equal(t, CSV, all[0].Format)
}

func TestRegister_DuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		Register(Adapter{Format: CSV})
	})
}

func TestReaderFor_Unsupported(t *testing.T) {
	_, err := ReaderFor(Format("ods"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupported))

	var ufe *UnsupportedFormatError
	require.True(t, errors.As(err, &ufe))
	assert.Equal(t, "import", ufe.Op)

	_, err = WriterFor(XLS)
	assert.True(t, errors.Is(err, ErrUnsupported), "XLS export must report unsupported")
}

func TestCSVRead(t *testing.T) {
	input := "\xEF\xBB\xBF Title ,SKU,Price\n" +
		"\"STAVROS Chest, Gray\",ST-1,10\n" +
		"Lamp,LA-1\n"

	a, err := ReaderFor(CSV)
	require.NoError(t, err)

	headers, it, err := a.Reader.Read(context.Background(), strings.NewReader(input), ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Title", "SKU", "Price"}, headers)

	rows := readAll(t, it)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{"STAVROS Chest, Gray", "ST-1", "10"}, rows[0])
	assert.Equal(t, Row{"Lamp", "LA-1"}, rows[1], "ragged rows are passed through")
}

func TestCSVRead_EmptyAndHeaderOnly(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantHeaders []string
	}{
		{"empty", "", nil},
		{"blank header", " , ,\n", nil},
		{"header only", "Title,SKU\n", []string{"Title", "SKU"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers, it, err := csvAdapter{}.Read(context.Background(), strings.NewReader(tt.input), ReadOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantHeaders, headers)
			assert.Empty(t, readAll(t, it))
		})
	}
}

func TestCSVRead_InvalidUTF8(t *testing.T) {
	input := "Title,SKU\nok,1\nbad\xff,2\n"

	_, it, err := csvAdapter{}.Read(context.Background(), strings.NewReader(input), ReadOptions{})
	require.NoError(t, err)

	for it.Next() {
	}
	err = it.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
	assert.True(t, errors.Is(err, ErrInvalidUTF8))
}

func TestCSVRead_BareQuoteIsLiteral(t *testing.T) {
	input := "Title,SKU\n12\" Skillet,SK-1\n\"Lamp \"Deluxe\" edition\",LA-1\n"

	_, it, err := csvAdapter{}.Read(context.Background(), strings.NewReader(input), ReadOptions{})
	require.NoError(t, err)

	rows := readAll(t, it)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{`12" Skillet`, "SK-1"}, rows[0])
	assert.Equal(t, Row{`Lamp "Deluxe" edition`, "LA-1"}, rows[1])
}

func TestCSVRead_BadQuoting(t *testing.T) {
	input := "Title,SKU\nok,1\n\"unterminated,1\nmore,2\n"

	_, it, err := csvAdapter{}.Read(context.Background(), strings.NewReader(input), ReadOptions{})
	require.NoError(t, err)
	for it.Next() {
	}

	var de *DecodeError
	require.True(t, errors.As(it.Err(), &de))
	assert.Equal(t, CSV, de.Format)
	assert.ErrorIs(t, it.Err(), csv.ErrQuote)
}

func TestCSVWrite(t *testing.T) {
	var buf bytes.Buffer
	err := csvAdapter{}.Write(context.Background(), &buf,
		[]string{"Title", "Tags"},
		sliceSource([][]string{{"Chest", "a, b"}, {"Lamp", ""}}),
		WriteOptions{FlushEvery: 1},
	)
	require.NoError(t, err)
	assert.Equal(t, "Title,Tags\nChest,\"a, b\"\nLamp,\n", buf.String())
}

func TestCSVWrite_SourceErrorStops(t *testing.T) {
	boom := errors.New("store went away")
	err := csvAdapter{}.Write(context.Background(), &bytes.Buffer{}, []string{"Title"},
		func(emit func([]string) error) error { return boom },
		WriteOptions{},
	)
	assert.ErrorIs(t, err, boom)
}

func TestXLSXWriteThenRead(t *testing.T) {
	var buf bytes.Buffer
	headers := []string{"Title", "SKU", "Charge tax"}
	err := xlsxAdapter{}.Write(context.Background(), &buf, headers,
		sliceSource([][]string{
			{"Chest", "ST-1", "TRUE"},
			{"", "ST-2", ""},
		}),
		WriteOptions{},
	)
	require.NoError(t, err)

	// The exported workbook carries a single sheet named Products
	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []string{SheetName}, f.GetSheetList())
	f.Close()

	gotHeaders, it, err := xlsxAdapter{}.Read(context.Background(), bytes.NewReader(buf.Bytes()), ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, headers, gotHeaders)

	rows := readAll(t, it)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{"Chest", "ST-1", "TRUE"}, rows[0])
	assert.Equal(t, Row{nil, "ST-2"}, rows[1], "empty cells read as missing")
}

func TestXLSXRead_TypedCells(t *testing.T) {
	uploaded := time.Date(2023, 3, 4, 5, 6, 7, 0, time.UTC)
	day := time.Date(2023, 3, 4, 0, 0, 0, 0, time.UTC)

	for _, date1904 := range []bool{false, true} {
		t.Run(fmt.Sprintf("date1904=%t", date1904), func(t *testing.T) {
			f := excelize.NewFile()
			defer f.Close()
			require.NoError(t, f.SetWorkbookProps(&excelize.WorkbookPropsOptions{Date1904: &date1904}))

			sheet := f.GetSheetName(0)
			require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{
				"Title", "Upload time", "Tags", "Price", "Published", "Barcode", "Weight", "Released",
			}))
			require.NoError(t, f.SetCellValue(sheet, "A2", "Oak Chest"))
			require.NoError(t, f.SetCellValue(sheet, "B2", uploaded))
			require.NoError(t, f.SetCellValue(sheet, "C2", day))
			require.NoError(t, f.SetCellValue(sheet, "D2", 19.99))
			require.NoError(t, f.SetCellValue(sheet, "E2", true))
			require.NoError(t, f.SetCellStr(sheet, "F2", "0042"))
			require.NoError(t, f.SetCellValue(sheet, "G2", 0.1+0.2))
			require.NoError(t, f.SetCellValue(sheet, "H2", day))

			currency := `"$"#,##0.00`
			priceStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &currency})
			require.NoError(t, err)
			require.NoError(t, f.SetCellStyle(sheet, "D2", "D2", priceStyle))

			isoDate := "yyyy-mm-dd"
			dateStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &isoDate})
			require.NoError(t, err)
			require.NoError(t, f.SetCellStyle(sheet, "H2", "H2", dateStyle))

			var buf bytes.Buffer
			_, err = f.WriteTo(&buf)
			require.NoError(t, err)

			_, it, err := xlsxAdapter{}.Read(context.Background(), bytes.NewReader(buf.Bytes()), ReadOptions{})
			require.NoError(t, err)
			rows := readAll(t, it)
			require.Len(t, rows, 1)

			assert.Equal(t, Row{"Oak Chest", uploaded, day, 19.99, true, "0042", 0.3, day}, rows[0])
		})
	}
}

func TestXLSXRead_SheetSelection(t *testing.T) {
	f := excelize.NewFile()
	_, err := f.NewSheet("Second")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "First header"))
	require.NoError(t, f.SetCellValue("Second", "A1", "Second header"))

	var buf bytes.Buffer
	_, err = f.WriteTo(&buf)
	require.NoError(t, err)
	f.Close()

	tests := []struct {
		selector string
		want     string
		wantErr  bool
	}{
		{"", "First header", false},
		{"Second", "Second header", false},
		{"1", "Second header", false},
		{"Missing", "", true},
	}

	for _, tt := range tests {
		t.Run("sheet="+tt.selector, func(t *testing.T) {
			headers, it, err := xlsxAdapter{}.Read(context.Background(), bytes.NewReader(buf.Bytes()), ReadOptions{Sheet: tt.selector})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSheetNotFound)
				return
			}
			require.NoError(t, err)
			defer it.Close()
			assert.Equal(t, []string{tt.want}, headers)
		})
	}
}

func TestXLSXRead_NotAWorkbook(t *testing.T) {
	_, _, err := xlsxAdapter{}.Read(context.Background(), strings.NewReader("Title,SKU\n"), ReadOptions{})
	assert.ErrorIs(t, err, ErrDecode)
}
