package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/JonMunkholm/shopsheet/internal/core/formats"
)

// TemplateFileName is the canonical header template looked up next to the
// working directory when no explicit path is configured.
const TemplateFileName = "product_upload_template.csv"

const (
	FieldRecordID                  FieldID = "id"
	FieldUploadedAt                FieldID = "uploaded_at"
	FieldTitle                     FieldID = "title"
	FieldURLHandle                 FieldID = "url_handle"
	FieldDescription               FieldID = "description"
	FieldVendor                    FieldID = "vendor"
	FieldProductCategory           FieldID = "product_category"
	FieldProductType               FieldID = "type"
	FieldTags                      FieldID = "tags"
	FieldPublished                 FieldID = "published_on_online_store"
	FieldStatus                    FieldID = "status"
	FieldSKU                       FieldID = "sku"
	FieldBarcode                   FieldID = "barcode"
	FieldPrice                     FieldID = "price"
	FieldContinueSelling           FieldID = "continue_selling_when_out_of_stock"
	FieldWeightUnit                FieldID = "weight_unit_for_display"
	FieldUnitPriceTotalMeasureUnit FieldID = "unit_price_total_measure_unit"
	FieldUnitPriceBaseMeasureUnit  FieldID = "unit_price_base_measure_unit"
	FieldProductImageURL           FieldID = "product_image_url"
	FieldImagePosition             FieldID = "image_position"
	FieldImageAltText              FieldID = "image_alt_text"
	FieldVariantImageURL           FieldID = "variant_image_url"
)

// External column names the fan-out and fan-in steps address directly.
const (
	ColumnHandle           = "URL handle"
	ColumnSKU              = "SKU"
	ColumnProductImageURL  = "Product image URL"
	ColumnVariantImageURL  = "Variant image URL"
	ColumnImagePosition    = "Image position"
	ColumnImageAltText     = "Image alt text"
	ColumnContinueSelling  = "Continue selling when out of stock"
	ColumnWeightUnit       = "Weight unit for display"
	ColumnTotalMeasureUnit = "Unit price total measure unit"
	ColumnBaseMeasureUnit  = "Unit price base measure unit"
)

// col declares a field whose external column doubles as its label.
func col(id FieldID, column string, ft FieldType) FieldSpec {
	return FieldSpec{ID: id, Column: column, Label: column, Type: ft}
}

// ProductFields is the static schema table in declaration order.
var ProductFields = []FieldSpec{
	{ID: FieldRecordID, Label: "ID", Type: FieldIdentifier},
	{ID: FieldUploadedAt, Label: "Upload time", Type: FieldTimestamp},
	col(FieldTitle, "Title", FieldText),
	col(FieldURLHandle, ColumnHandle, FieldText),
	col(FieldDescription, "Description", FieldText),
	col(FieldVendor, "Vendor", FieldReference),
	col(FieldProductCategory, "Product category", FieldText),
	col(FieldProductType, "Type", FieldText),
	col(FieldTags, "Tags", FieldText),
	col(FieldPublished, "Published on online store", FieldEnum),
	col(FieldStatus, "Status", FieldEnum),
	col(FieldSKU, ColumnSKU, FieldText),
	col(FieldBarcode, "Barcode", FieldText),
	col("option1_name", "Option1 name", FieldText),
	col("option1_value", "Option1 value", FieldText),
	col("option2_name", "Option2 name", FieldText),
	col("option2_value", "Option2 value", FieldText),
	col("option3_name", "Option3 name", FieldText),
	col("option3_value", "Option3 value", FieldText),
	col(FieldPrice, "Price", FieldNumeric),
	col("price_international", "Price / International", FieldNumeric),
	col("compare_at_price", "Compare-at price", FieldNumeric),
	col("compare_at_price_international", "Compare-at price / International", FieldNumeric),
	col("cost_per_item", "Cost per item", FieldNumeric),
	col("charge_tax", "Charge tax", FieldEnum),
	col("tax_code", "Tax code", FieldText),
	col("unit_price_total_measure", "Unit price total measure", FieldNumeric),
	{ID: FieldUnitPriceTotalMeasureUnit, Column: ColumnTotalMeasureUnit, Label: ColumnTotalMeasureUnit, Type: FieldEnum, Rule: RuleMeasureUnit},
	col("unit_price_base_measure", "Unit price base measure", FieldNumeric),
	{ID: FieldUnitPriceBaseMeasureUnit, Column: ColumnBaseMeasureUnit, Label: ColumnBaseMeasureUnit, Type: FieldEnum, Rule: RuleMeasureUnit},
	col("inventory_tracker", "Inventory tracker", FieldText),
	col("inventory_quantity", "Inventory quantity", FieldNumeric),
	{ID: FieldContinueSelling, Column: ColumnContinueSelling, Label: ColumnContinueSelling, Type: FieldEnum, Rule: RuleContinueSelling},
	col("weight_value_grams", "Weight value (grams)", FieldNumeric),
	{ID: FieldWeightUnit, Column: ColumnWeightUnit, Label: ColumnWeightUnit, Type: FieldEnum, Rule: RuleWeightUnit},
	col("requires_shipping", "Requires shipping", FieldEnum),
	col("fulfillment_service", "Fulfillment service", FieldText),
	col(FieldProductImageURL, ColumnProductImageURL, FieldURL),
	col(FieldImagePosition, ColumnImagePosition, FieldNumeric),
	col(FieldImageAltText, ColumnImageAltText, FieldText),
	col(FieldVariantImageURL, ColumnVariantImageURL, FieldURL),
	col("gift_card", "Gift card", FieldEnum),
	col("seo_title", "SEO title", FieldText),
	col("seo_description", "SEO description", FieldText),
	col("google_shopping_google_product_category", "Google Shopping / Google product category", FieldText),
	col("google_shopping_gender", "Google Shopping / Gender", FieldEnum),
	col("google_shopping_age_group", "Google Shopping / Age group", FieldEnum),
	col("google_shopping_mpn", "Google Shopping / MPN", FieldText),
	col("google_shopping_adwords_grouping", "Google Shopping / AdWords Grouping", FieldText),
	col("google_shopping_adwords_labels", "Google Shopping / AdWords labels", FieldText),
	col("google_shopping_condition", "Google Shopping / Condition", FieldEnum),
	col("google_shopping_custom_product", "Google Shopping / Custom product", FieldEnum),
	col("google_shopping_custom_label_0", "Google Shopping / Custom label 0", FieldText),
	col("google_shopping_custom_label_1", "Google Shopping / Custom label 1", FieldText),
	col("google_shopping_custom_label_2", "Google Shopping / Custom label 2", FieldText),
	col("google_shopping_custom_label_3", "Google Shopping / Custom label 3", FieldText),
	col("google_shopping_custom_label_4", "Google Shopping / Custom label 4", FieldText),
}

// TextFields returns the fields stored as plain text columns, in
// declaration order. Identifier, timestamp and reference are excluded.
func TextFields() []FieldSpec {
	var result []FieldSpec
	for _, f := range ProductFields {
		switch f.Type {
		case FieldIdentifier, FieldTimestamp, FieldReference:
			continue
		}
		result = append(result, f)
	}
	return result
}

// Schema resolves the ordered header list and the column/field mapping.
// The canonical template, when present, is read once and cached.
type Schema struct {
	fields   []FieldSpec
	byColumn map[string]FieldSpec
	byField  map[FieldID]FieldSpec

	templatePath string
	once         sync.Once
	template     []string
}

// NewSchema builds a resolver over ProductFields. templatePath may be empty,
// in which case derived headers are used.
func NewSchema(templatePath string) *Schema {
	s := &Schema{
		fields:       ProductFields,
		byColumn:     make(map[string]FieldSpec, len(ProductFields)),
		byField:      make(map[FieldID]FieldSpec, len(ProductFields)),
		templatePath: templatePath,
	}
	for _, f := range ProductFields {
		s.byField[f.ID] = f
		if f.Type == FieldIdentifier {
			continue
		}
		s.byColumn[f.Header()] = f
	}
	return s
}

// FindTemplate returns the first existing candidate among the explicit path,
// the working directory and its parent. Returns "" when none exists.
func FindTemplate(explicit string) string {
	candidates := []string{TemplateFileName, "../" + TemplateFileName}
	if explicit != "" {
		candidates = []string{explicit}
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
			return c
		}
	}
	return ""
}

// Fields returns the schema table in declaration order.
func (s *Schema) Fields() []FieldSpec {
	return s.fields
}

// Headers returns the canonical header order: the template's first row if
// a template is configured and readable, the derived order otherwise.
func (s *Schema) Headers() []string {
	s.once.Do(s.loadTemplate)
	if s.template != nil {
		return append([]string(nil), s.template...)
	}
	return s.DerivedHeaders()
}

// FromTemplate reports whether Headers comes from the canonical template.
func (s *Schema) FromTemplate() bool {
	s.once.Do(s.loadTemplate)
	return s.template != nil
}

// DerivedHeaders returns headers in declaration order, skipping the
// identifier.
func (s *Schema) DerivedHeaders() []string {
	headers := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		if f.Type == FieldIdentifier {
			continue
		}
		headers = append(headers, f.Header())
	}
	return headers
}

// FieldForColumn maps an external column to its field.
func (s *Schema) FieldForColumn(column string) (FieldSpec, bool) {
	f, ok := s.byColumn[column]
	return f, ok
}

// Field looks up a field by id.
func (s *Schema) Field(id FieldID) (FieldSpec, bool) {
	f, ok := s.byField[id]
	return f, ok
}

// ColumnFor returns the external column of a field.
func (s *Schema) ColumnFor(id FieldID) (string, bool) {
	f, ok := s.byField[id]
	if !ok || f.Type == FieldIdentifier {
		return "", false
	}
	return f.Header(), true
}

// MapHeaders resolves each header position to a field. Unmapped positions
// are reported as false and are ignored on import.
func (s *Schema) MapHeaders(headers []string) ([]FieldSpec, []bool) {
	specs := make([]FieldSpec, len(headers))
	mapped := make([]bool, len(headers))
	for i, h := range headers {
		specs[i], mapped[i] = s.byColumn[strings.TrimSpace(h)]
	}
	return specs, mapped
}

func (s *Schema) loadTemplate() {
	if s.templatePath == "" {
		return
	}

	headers, err := readTemplate(s.templatePath)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("header template not found, deriving headers", "path", s.templatePath)
		return
	}
	if err != nil {
		slog.Warn("ignoring unreadable header template",
			"path", s.templatePath,
			"error", err,
		)
		return
	}
	if len(headers) == 0 {
		slog.Warn("ignoring empty header template", "path", s.templatePath)
		return
	}

	slog.Debug("using header template", "path", s.templatePath, "columns", len(headers))
	s.template = headers
}

// readTemplate returns the raw first row of a CSV template.
func readTemplate(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer f.Close()

	a, err := formats.ReaderFor(formats.CSV)
	if err != nil {
		return nil, err
	}
	headers, rows, err := a.Reader.Read(context.Background(), f, formats.ReadOptions{})
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	rows.Close()
	return headers, nil
}
