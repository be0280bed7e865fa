package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_DerivedHeaders(t *testing.T) {
	s := NewSchema("")
	headers := s.Headers()

	assert.False(t, s.FromTemplate())
	require.Len(t, headers, len(ProductFields)-1, "identifier is skipped")
	assert.Equal(t, "Upload time", headers[0], "label fallback for fields without a column")
	assert.Equal(t, "Title", headers[1])
	assert.NotContains(t, headers, "ID")
}

// marketplaceHeaders is the product sheet header row in declaration order.
var marketplaceHeaders = []string{
	"Upload time", "Title", "URL handle", "Description", "Vendor",
	"Product category", "Type", "Tags", "Published on online store", "Status",
	"SKU", "Barcode",
	"Option1 name", "Option1 value", "Option2 name", "Option2 value",
	"Option3 name", "Option3 value",
	"Price", "Price / International", "Compare-at price",
	"Compare-at price / International", "Cost per item", "Charge tax", "Tax code",
	"Unit price total measure", "Unit price total measure unit",
	"Unit price base measure", "Unit price base measure unit",
	"Inventory tracker", "Inventory quantity", "Continue selling when out of stock",
	"Weight value (grams)", "Weight unit for display", "Requires shipping",
	"Fulfillment service", "Product image URL", "Image position", "Image alt text",
	"Variant image URL", "Gift card", "SEO title", "SEO description",
	"Google Shopping / Google product category", "Google Shopping / Gender",
	"Google Shopping / Age group", "Google Shopping / MPN",
	"Google Shopping / AdWords Grouping", "Google Shopping / AdWords labels",
	"Google Shopping / Condition", "Google Shopping / Custom product",
	"Google Shopping / Custom label 0", "Google Shopping / Custom label 1",
	"Google Shopping / Custom label 2", "Google Shopping / Custom label 3",
	"Google Shopping / Custom label 4",
}

func TestSchema_DerivedHeadersMatchMarketplace(t *testing.T) {
	assert.Equal(t, marketplaceHeaders, NewSchema("").DerivedHeaders())
}

func TestSchema_SEOColumnsMapOnImport(t *testing.T) {
	s := NewSchema("")
	specs, mapped := s.MapHeaders([]string{"SEO title", "SEO description"})

	require.Equal(t, []bool{true, true}, mapped)
	assert.Equal(t, FieldID("seo_title"), specs[0].ID)
	assert.Equal(t, FieldID("seo_description"), specs[1].ID)
}

func TestSchema_TemplateIsAuthoritative(t *testing.T) {
	path := filepath.Join(t.TempDir(), TemplateFileName)
	content := "\xEF\xBB\xBFSKU,Title,Custom column,URL handle\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s := NewSchema(path)
	assert.Equal(t, []string{"SKU", "Title", "Custom column", "URL handle"}, s.Headers())
	assert.True(t, s.FromTemplate())

	// Cached after the first read
	require.NoError(t, os.Remove(path))
	assert.Equal(t, "SKU", s.Headers()[0])
}

func TestSchema_MissingTemplateFallsBack(t *testing.T) {
	s := NewSchema(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Equal(t, s.DerivedHeaders(), s.Headers())
}

func TestSchema_HeaderRoundTrip(t *testing.T) {
	s := NewSchema("")
	headers := s.Headers()

	specs, mapped := s.MapHeaders(headers)
	for i, h := range headers {
		require.True(t, mapped[i], "header %q must map back to a field", h)
		col, ok := s.ColumnFor(specs[i].ID)
		require.True(t, ok)
		assert.Equal(t, h, col)
	}
}

func TestSchema_MapHeadersIgnoresUnknown(t *testing.T) {
	s := NewSchema("")
	specs, mapped := s.MapHeaders([]string{" Title ", "Mystery", "ID"})

	assert.Equal(t, []bool{true, false, false}, mapped)
	assert.Equal(t, FieldTitle, specs[0].ID)
}

func TestSchema_FieldColumnsAreUnique(t *testing.T) {
	seen := make(map[string]FieldID)
	for _, f := range ProductFields {
		h := f.Header()
		if prev, dup := seen[h]; dup {
			t.Fatalf("column %q bound to both %s and %s", h, prev, f.ID)
		}
		seen[h] = f.ID
	}
}

func TestFindTemplate(t *testing.T) {
	dir := t.TempDir()
	explicit := filepath.Join(dir, "custom.csv")
	require.NoError(t, os.WriteFile(explicit, []byte("SKU\n"), 0o644))

	assert.Equal(t, explicit, FindTemplate(explicit))
	assert.Equal(t, "", FindTemplate(filepath.Join(dir, "nope.csv")))
}

func TestParseColumnFilter(t *testing.T) {
	s := NewSchema("")

	f, ok := s.ParseColumnFilter("Price", "gte:10")
	require.True(t, ok)
	assert.Equal(t, FieldPrice, f.Field)
	assert.Equal(t, OpGreaterEq, f.Operator)

	_, ok = s.ParseColumnFilter("Title", "gte:10")
	assert.False(t, ok, "ordering operators do not apply to text")

	_, ok = s.ParseColumnFilter("Mystery", "eq:1")
	assert.False(t, ok)

	_, ok = s.ParseColumnFilter("Title", "contains:")
	assert.False(t, ok, "empty value")

	_, ok = s.ParseColumnFilter("Title", "chest")
	assert.False(t, ok, "missing operator")
}

func TestRecordFilter_Matches(t *testing.T) {
	s := NewSchema("")
	rec := NewRecord()
	rec.ID = 7
	rec.Set(FieldTitle, "STAVROS Chest")
	rec.Set(FieldPrice, "19.50")
	rec.Set(FieldStatus, "active")
	rec.Vendor = &Vendor{ID: 1, Name: "Acme"}

	filter := func(col, expr string) ColumnFilter {
		f, ok := s.ParseColumnFilter(col, expr)
		require.True(t, ok, "%s %s", col, expr)
		return f
	}

	tests := []struct {
		name   string
		filter RecordFilter
		want   bool
	}{
		{"zero filter", RecordFilter{}, true},
		{"search title", RecordFilter{Search: "stavros"}, true},
		{"search vendor", RecordFilter{Search: "acm"}, true},
		{"search miss", RecordFilter{Search: "lamp"}, false},
		{"numeric gte", RecordFilter{Filters: []ColumnFilter{filter("Price", "gte:10")}}, true},
		{"numeric lt", RecordFilter{Filters: []ColumnFilter{filter("Price", "lt:10")}}, false},
		{"enum in", RecordFilter{Filters: []ColumnFilter{filter("Status", "in:draft, active")}}, true},
		{"starts", RecordFilter{Filters: []ColumnFilter{filter("Title", "starts:stav")}}, true},
		{"vendor equals", RecordFilter{Filters: []ColumnFilter{filter("Vendor", "eq:Acme")}}, true},
		{"unset field", RecordFilter{Filters: []ColumnFilter{filter("Barcode", "contains:1")}}, false},
		{"ids", RecordFilter{IDs: []int64{1, 7}}, true},
		{"ids miss", RecordFilter{IDs: []int64{1}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(rec))
		})
	}
}
