package core_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/shopsheet/internal/core"
	"github.com/JonMunkholm/shopsheet/internal/core/formats"
	"github.com/JonMunkholm/shopsheet/internal/store/memory"
)

func newService(t *testing.T, opts core.Options) (*core.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return core.NewService(store, opts), store
}

func importCSV(t *testing.T, svc *core.Service, content string) (int, error) {
	t.Helper()
	return svc.Import(context.Background(), strings.NewReader(content), formats.CSV, "")
}

func field(rec core.Record, id core.FieldID) string {
	v, _ := rec.Get(id)
	return v
}

func TestImport_TitleAndHandle(t *testing.T) {
	svc, store := newService(t, core.Options{})

	n, err := importCSV(t, svc, "Title,SKU,URL handle\n\"STAVROS Chest, Gray\",ST-1,\n")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "STAVROS Chest", field(records[0], core.FieldTitle))
	assert.Equal(t, "stavros-chest", field(records[0], core.FieldURLHandle))
	assert.False(t, records[0].UploadedAt.IsZero(), "upload time is stamped")
}

func TestImport_KeepsExplicitHandleAndUploadTime(t *testing.T) {
	svc, store := newService(t, core.Options{})

	_, err := importCSV(t, svc, "Title,URL handle,Upload time\nChest,my-chest,2024-05-01T09:30:00\n")
	require.NoError(t, err)

	rec := store.Records()[0]
	assert.Equal(t, "my-chest", field(rec, core.FieldURLHandle))
	assert.True(t, time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC).Equal(rec.UploadedAt))
}

func TestImport_VendorGetOrCreate(t *testing.T) {
	svc, store := newService(t, core.Options{})

	n, err := importCSV(t, svc, "SKU,Vendor\nA,Acme\nB,Acme\nC,Globex\n")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	vendors := store.Vendors()
	require.Len(t, vendors, 2)
	assert.Equal(t, "Acme", vendors[0].Name)
	assert.Equal(t, 2, store.Calls().GetOrCreateVendor, "each vendor resolved once per import")

	// A second import reuses the existing vendor
	_, err = importCSV(t, svc, "SKU,Vendor\nD,Acme\n")
	require.NoError(t, err)
	assert.Len(t, store.Vendors(), 2)

	records := store.Records()
	require.Len(t, records, 4)
	assert.Equal(t, records[0].Vendor.ID, records[3].Vendor.ID)
}

func TestImport_EmptySourcesTouchNothing(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"blank header", " , \n"},
		{"header only", "Title,SKU\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newService(t, core.Options{})

			n, err := importCSV(t, svc, tt.content)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
			assert.Zero(t, store.Calls().Total(), "no store interaction")
		})
	}
}

func TestImport_SkipsRowsWithoutFields(t *testing.T) {
	svc, store := newService(t, core.Options{})

	res, err := svc.ImportFile(context.Background(),
		strings.NewReader("Title,Mystery\nChest,x\n,y\n  ,\n"),
		core.ImportRequest{Format: formats.CSV},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 2, res.Skipped)
	assert.NotEmpty(t, res.RunID)
	assert.Len(t, store.Records(), 1)
}

func TestImport_BlankCellsStayUnset(t *testing.T) {
	svc, store := newService(t, core.Options{})

	_, err := importCSV(t, svc, "Title,SKU,Barcode\nOne,,\nTwo,,\n")
	require.NoError(t, err, "blank SKUs are NULL and never collide")

	for _, rec := range store.Records() {
		_, ok := rec.Get(core.FieldSKU)
		assert.False(t, ok)
	}
}

func TestImport_Batches(t *testing.T) {
	svc, store := newService(t, core.Options{BatchSize: 2})

	var progress []core.ImportProgress
	res, err := svc.ImportFile(context.Background(),
		strings.NewReader("SKU\nA\nB\nC\nD\nE\n"),
		core.ImportRequest{Format: formats.CSV, OnProgress: func(p core.ImportProgress) {
			progress = append(progress, p)
		}},
	)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Created)

	calls := store.Calls()
	assert.Equal(t, 1, calls.Begin, "one transaction per import")
	assert.Equal(t, 3, calls.CreateRecords)
	assert.Equal(t, 1, calls.Commit)

	require.Len(t, progress, 3)
	assert.Equal(t, 5, progress[2].Created)
}

func TestImport_StoreFailureRollsBack(t *testing.T) {
	svc, store := newService(t, core.Options{BatchSize: 1})
	boom := errors.New("connection reset by peer")
	store.FailCreateRecords = boom

	_, err := importCSV(t, svc, "SKU,Vendor\nA,Acme\n")
	require.ErrorIs(t, err, boom)

	assert.Empty(t, store.Records())
	assert.Empty(t, store.Vendors(), "vendor created in the failed import is rolled back")
	assert.Equal(t, 1, store.Calls().Rollback)
	assert.Zero(t, store.Calls().Commit)
}

func TestImport_DuplicateSKUAbortsEverything(t *testing.T) {
	svc, store := newService(t, core.Options{BatchSize: 1})

	_, err := importCSV(t, svc, "SKU\nA\nB\nA\n")
	require.ErrorIs(t, err, memory.ErrDuplicateSKU)
	assert.Equal(t, "DB001", core.MapError(err).Code)
	assert.Empty(t, store.Records(), "earlier batches are not committed")
}

func TestImport_DecodeFailureCommitsNothing(t *testing.T) {
	svc, store := newService(t, core.Options{BatchSize: 1})

	_, err := importCSV(t, svc, "SKU\nA\nB\nbad\xff\n")
	require.Error(t, err)
	assert.ErrorIs(t, err, formats.ErrDecode)
	assert.Empty(t, store.Records())
	assert.Zero(t, store.Calls().Commit)
}

func TestImport_UnsupportedFormat(t *testing.T) {
	svc, store := newService(t, core.Options{})

	_, err := svc.Import(context.Background(), strings.NewReader("x"), formats.Format("ods"), "")
	var ufe *formats.UnsupportedFormatError
	require.ErrorAs(t, err, &ufe)
	assert.Zero(t, store.Calls().Total())
}

func TestImport_SEOColumns(t *testing.T) {
	svc, store := newService(t, core.Options{})

	_, err := importCSV(t, svc, "Title,SEO title,SEO description\nChest,Best chest,Nice\n")
	require.NoError(t, err)

	rec := store.Records()[0]
	assert.Equal(t, "Best chest", field(rec, core.FieldID("seo_title")))
	assert.Equal(t, "Nice", field(rec, core.FieldID("seo_description")))
}

func TestImport_XLSXTypedCells(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Title", "Upload time", "Tags", "Price", "Published on online store"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{
		"Chest",
		time.Date(2023, 3, 4, 5, 6, 7, 0, time.UTC),
		time.Date(2023, 3, 4, 0, 0, 0, 0, time.UTC),
		19.5,
		true,
	}))
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)

	svc, store := newService(t, core.Options{})
	_, err = svc.Import(context.Background(), bytes.NewReader(buf.Bytes()), formats.XLSX, "")
	require.NoError(t, err)

	rec := store.Records()[0]
	assert.True(t, time.Date(2023, 3, 4, 5, 6, 7, 0, time.UTC).Equal(rec.UploadedAt), "got %v", rec.UploadedAt)
	assert.Equal(t, "2023-03-04T00:00:00", field(rec, core.FieldTags))
	assert.Equal(t, "19.5", field(rec, core.FieldPrice))
	assert.Equal(t, "TRUE", field(rec, core.FieldPublished))
}

func TestImport_XLSTypedCells(t *testing.T) {
	for _, name := range []string{"typed_cells.xls", "typed_cells_1904.xls"} {
		t.Run(name, func(t *testing.T) {
			data, err := os.ReadFile(filepath.Join("formats", "testdata", name))
			require.NoError(t, err)

			svc, store := newService(t, core.Options{})
			n, err := svc.Import(context.Background(), bytes.NewReader(data), formats.XLS, "")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			rec := store.Records()[0]
			assert.Equal(t, "Oak Chest", field(rec, core.FieldTitle))
			assert.Equal(t, "ST-1", field(rec, core.FieldSKU))
			assert.Equal(t, "19.99", field(rec, core.FieldPrice))
			assert.Equal(t, "TRUE", field(rec, core.FieldPublished))
			assert.True(t, time.Date(2023, 3, 4, 5, 6, 7, 0, time.UTC).Equal(rec.UploadedAt), "got %v", rec.UploadedAt)
			assert.Equal(t, "2023-03-04T00:00:00", field(rec, core.FieldTags))
			assert.Equal(t, "42", field(rec, core.FieldID("inventory_quantity")))
			assert.Equal(t, "Acme", rec.Vendor.Name)
		})
	}
}

func TestImport_FanIn(t *testing.T) {
	svc, store := newService(t, core.Options{BatchSize: 2})

	content := "SKU,Title,Product image URL,Image position,Image alt text\n" +
		"ST-1,Chest,a.jpg,1,Front\n" +
		"ST-2,Lamp,b.jpg,two,\n" +
		"ST-3,Rug,,,\n" +
		",Orphan,c.jpg,1,\n"
	res, err := svc.ImportFile(context.Background(), strings.NewReader(content), core.ImportRequest{Format: formats.CSV})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Created)
	assert.Equal(t, 2, res.Attachments)
	assert.Equal(t, 1, store.Calls().CreateAttachments, "attachments are created in one call")

	attachments := store.Attachments()
	require.Len(t, attachments, 2)
	assert.Equal(t, "ST-1", attachments[0].SKU)
	assert.Equal(t, "Front", attachments[0].AltText)
	require.NotNil(t, attachments[0].Position)
	assert.Equal(t, 1, *attachments[0].Position)
	assert.Equal(t, "ST-2", attachments[1].SKU)
	assert.Nil(t, attachments[1].Position, "invalid position is dropped")
}

func TestImport_NoFanInWithoutSKUColumn(t *testing.T) {
	svc, store := newService(t, core.Options{})

	_, err := importCSV(t, svc, "Title,Product image URL\nChest,a.jpg\n")
	require.NoError(t, err)
	assert.Empty(t, store.Attachments())
	assert.Zero(t, store.Calls().CreateAttachments)
}

func TestImport_BusyLimiter(t *testing.T) {
	svc, _ := newService(t, core.Options{MaxConcurrent: 1, MaxWait: 50 * time.Millisecond})

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := svc.Import(context.Background(), pr, formats.CSV, "")
		done <- err
	}()

	// Wait for the first import to hold the slot while it blocks on the pipe
	require.Eventually(t, func() bool { return svc.LimiterStatus().Active == 1 }, time.Second, 5*time.Millisecond)

	_, err := importCSV(t, svc, "SKU\nA\n")
	assert.ErrorIs(t, err, core.ErrTooManyImports)

	pw.Write([]byte("SKU\nB\n"))
	pw.Close()
	require.NoError(t, <-done)
	require.NoError(t, svc.WaitForImports(context.Background()))
}

func seedProducts(t *testing.T, store *memory.Store) {
	t.Helper()

	chest := core.NewRecord()
	chest.Set(core.FieldTitle, "STAVROS Chest")
	chest.Set(core.FieldSKU, "ST-1")
	chest.Set(core.FieldPrice, "120")
	chest.Set(core.FieldProductImageURL, "a.jpg,b.jpg")
	chest.Set(core.FieldContinueSelling, "TRUE")
	chest.Set(core.FieldWeightUnit, "stone")
	chest.Vendor = &core.Vendor{Name: "Acme"}
	chest.UploadedAt = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	lamp := core.NewRecord()
	lamp.Set(core.FieldTitle, "Lamp")
	lamp.Set(core.FieldSKU, "LA-1")
	lamp.Set(core.FieldPrice, "15")

	require.NoError(t, store.Seed(chest, lamp))
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows
}

func column(t *testing.T, headers []string, name string) int {
	t.Helper()
	for i, h := range headers {
		if h == name {
			return i
		}
	}
	t.Fatalf("column %q not found", name)
	return -1
}

func TestExport_CSVFanOut(t *testing.T) {
	svc, store := newService(t, core.Options{})
	seedProducts(t, store)

	var buf bytes.Buffer
	res, err := svc.Export(context.Background(), &buf, formats.CSV, core.RecordFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 3, res.Rows)

	rows := readCSV(t, buf.Bytes())
	require.Len(t, rows, 4)
	headers := rows[0]
	assert.Equal(t, svc.Schema().Headers(), headers)

	title := column(t, headers, "Title")
	handle := column(t, headers, core.ColumnHandle)
	image := column(t, headers, core.ColumnProductImageURL)
	position := column(t, headers, core.ColumnImagePosition)
	vendor := column(t, headers, "Vendor")

	first, second, lamp := rows[1], rows[2], rows[3]
	assert.Equal(t, "STAVROS Chest", first[title])
	assert.Equal(t, "stavros-chest", first[handle])
	assert.Equal(t, "Acme", first[vendor])
	assert.Equal(t, "a.jpg", first[image])
	assert.Equal(t, "1", first[position])
	assert.Equal(t, "continue", first[column(t, headers, core.ColumnContinueSelling)])
	assert.Equal(t, "", first[column(t, headers, core.ColumnWeightUnit)], "invalid unit exports blank")
	assert.Equal(t, "2024-05-01T09:30:00", first[column(t, headers, "Upload time")])

	for i, cell := range second {
		switch i {
		case handle:
			assert.Equal(t, "stavros-chest", cell)
		case image:
			assert.Equal(t, "b.jpg", cell)
		case position:
			assert.Equal(t, "2", cell)
		default:
			assert.Empty(t, cell, "continuation row column %q", headers[i])
		}
	}

	assert.Equal(t, "Lamp", lamp[title])
	assert.Equal(t, "", lamp[position])
}

func TestExport_Filtered(t *testing.T) {
	svc, store := newService(t, core.Options{})
	seedProducts(t, store)

	price, ok := svc.Schema().ParseColumnFilter("Price", "lt:100")
	require.True(t, ok)

	var buf bytes.Buffer
	res, err := svc.Export(context.Background(), &buf, formats.CSV, core.RecordFilter{Filters: []core.ColumnFilter{price}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Records)

	rows := readCSV(t, buf.Bytes())
	require.Len(t, rows, 2)
	assert.Equal(t, "Lamp", rows[1][column(t, rows[0], "Title")])
}

func TestExport_XLSXRoundTrip(t *testing.T) {
	svc, store := newService(t, core.Options{})
	seedProducts(t, store)

	var buf bytes.Buffer
	_, err := svc.Export(context.Background(), &buf, formats.XLSX, core.RecordFilter{})
	require.NoError(t, err)

	target, targetStore := newService(t, core.Options{})
	n, err := target.Import(context.Background(), bytes.NewReader(buf.Bytes()), formats.XLSX, "")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "continuation rows come back as handle-only records")

	records := targetStore.Records()
	assert.Equal(t, "STAVROS Chest", field(records[0], core.FieldTitle))
	assert.Equal(t, "Acme", records[0].Vendor.Name)
	assert.Equal(t, "stavros-chest", field(records[1], core.FieldURLHandle))
	assert.Equal(t, "b.jpg", field(records[1], core.FieldProductImageURL))
}

func TestExport_HeaderRoundTrip(t *testing.T) {
	svc, store := newService(t, core.Options{})
	seedProducts(t, store)

	var buf bytes.Buffer
	_, err := svc.Export(context.Background(), &buf, formats.CSV, core.RecordFilter{})
	require.NoError(t, err)

	exported := readCSV(t, buf.Bytes())[0]
	specs, mapped := svc.Schema().MapHeaders(exported)
	for i, h := range exported {
		require.True(t, mapped[i], "exported header %q does not map back", h)
		col, _ := svc.Schema().ColumnFor(specs[i].ID)
		assert.Equal(t, h, col)
	}
}

func TestExport_UnsupportedFormat(t *testing.T) {
	svc, store := newService(t, core.Options{})

	_, err := svc.Export(context.Background(), io.Discard, formats.XLS, core.RecordFilter{})
	assert.ErrorIs(t, err, formats.ErrUnsupported)
	assert.Zero(t, store.Calls().Total())

	_, err = svc.PrepareExport(formats.XLS)
	assert.ErrorIs(t, err, formats.ErrUnsupported)
}

func TestExport_StreamErrorSurfaces(t *testing.T) {
	svc, store := newService(t, core.Options{})
	seedProducts(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Export(ctx, io.Discard, formats.CSV, core.RecordFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrepareExport(t *testing.T) {
	svc, _ := newService(t, core.Options{FilenamePrefix: "product_upload_rows"})

	file, err := svc.PrepareExport(formats.XLSX)
	require.NoError(t, err)
	assert.Regexp(t, `^product_upload_rows_\d{8}_\d{6}\.xlsx$`, file.Filename)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", file.ContentType)

	now := time.Date(2024, 12, 31, 23, 59, 58, 0, time.UTC)
	assert.Equal(t, "shopify_products_20241231_235958.csv", core.ExportFilename(core.DefaultExportPrefix, "csv", now))
}

func TestPurge(t *testing.T) {
	tests := []struct {
		name        string
		records     int
		chunkSize   int
		wantBatches int
	}{
		{"empty store", 0, 500, 0},
		{"remainder only", 3, 500, 1},
		{"exact multiple", 4, 2, 2},
		{"full chunks plus remainder", 5, 2, 3},
		{"chunk size below one", 3, 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newService(t, core.Options{})
			for i := 0; i < tt.records; i++ {
				require.NoError(t, store.Seed(core.NewRecord()))
			}

			res, err := svc.Purge(context.Background(), tt.chunkSize)
			require.NoError(t, err)
			assert.Equal(t, int64(tt.records), res.Deleted)
			assert.Equal(t, tt.wantBatches, res.Batches)
			assert.Empty(t, store.Records())
		})
	}
}
