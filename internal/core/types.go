package core

import (
	"time"

	"github.com/JonMunkholm/shopsheet/internal/core/formats"
)

// FieldID identifies a Record field. It doubles as the storage column name.
type FieldID string

// FieldType is the semantic type of a field. All values are stored as text;
// the type drives search and filter behavior.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldNumeric
	FieldURL
	FieldReference
	FieldTimestamp
	FieldIdentifier
)

// ExportRule selects per-column coercion when writing cells.
type ExportRule int

const (
	RulePlain ExportRule = iota
	RuleContinueSelling
	RuleWeightUnit
	RuleMeasureUnit
)

// FieldSpec binds one Record field to its external column.
type FieldSpec struct {
	ID     FieldID
	Column string // External column name; empty falls back to Label
	Label  string // Human-readable name
	Type   FieldType
	Rule   ExportRule
}

// Header returns the external column name for the field.
func (f FieldSpec) Header() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Label
}

// Searchable reports whether free-text search covers the field.
func (f FieldSpec) Searchable() bool {
	switch f.ID {
	case FieldTitle, FieldURLHandle, FieldTags, FieldSKU, FieldBarcode, FieldVendor:
		return true
	}
	return false
}

// Vendor is the reference entity resolved by name during import.
type Vendor struct {
	ID   int64
	Name string
}

// Record is one product listing row.
type Record struct {
	ID         int64
	UploadedAt time.Time // zero means unset
	Vendor     *Vendor

	// Fields holds text values keyed by field. A missing key is NULL.
	Fields map[FieldID]string
}

// NewRecord returns an empty record ready for Set.
func NewRecord() Record {
	return Record{Fields: make(map[FieldID]string)}
}

// Get returns a text field and whether it is set.
func (r Record) Get(id FieldID) (string, bool) {
	v, ok := r.Fields[id]
	return v, ok
}

// Set assigns a text field.
func (r *Record) Set(id FieldID, v string) {
	if r.Fields == nil {
		r.Fields = make(map[FieldID]string)
	}
	r.Fields[id] = v
}

// Clear removes a text field, making it NULL.
func (r *Record) Clear(id FieldID) {
	delete(r.Fields, id)
}

// Value returns the native value behind a field for export: nil when unset,
// time.Time for the upload timestamp, the vendor name for the reference,
// and the stored string otherwise.
func (r Record) Value(f FieldSpec) any {
	switch f.Type {
	case FieldIdentifier:
		if r.ID == 0 {
			return nil
		}
		return r.ID
	case FieldTimestamp:
		if r.UploadedAt.IsZero() {
			return nil
		}
		return r.UploadedAt
	case FieldReference:
		if r.Vendor == nil {
			return nil
		}
		return r.Vendor.Name
	}
	if v, ok := r.Fields[f.ID]; ok {
		return v
	}
	return nil
}

// Normalize applies the persistence invariants: the title is cut at its
// first comma and dropped when blank, and a missing handle is derived from
// the title. Stores call it before every insert.
func (r *Record) Normalize() {
	if title, ok := r.Fields[FieldTitle]; ok {
		if normalized, ok := NormalizeTitle(title); ok {
			r.Fields[FieldTitle] = normalized
		} else {
			delete(r.Fields, FieldTitle)
		}
	}

	handle := r.Fields[FieldURLHandle]
	if title, ok := r.Fields[FieldTitle]; ok && handle == "" {
		if derived := DeriveHandle(title); derived != "" {
			r.Fields[FieldURLHandle] = derived
		}
	}
}

// Attachment is an image entry linked to a Record through its SKU.
type Attachment struct {
	ID              int64
	SKU             string
	ProductImageURL string
	VariantImageURL string
	AltText         string
	Position        *int
}

// ImportRequest describes one import call.
type ImportRequest struct {
	Format formats.Format
	Sheet  string // name or zero-based index; empty selects the first sheet
	Size   int64  // source size in bytes when known
	Source string // file name for logs

	// OnProgress, when set, is called after every persisted batch.
	OnProgress func(ImportProgress)
}

// ImportProgress reports how far a running import has read.
type ImportProgress struct {
	RunID     string
	Rows      int
	Created   int
	BytesRead int64
	Percent   int // 0 when the source size is unknown
}

// ImportResult summarizes a finished import.
type ImportResult struct {
	RunID       string
	Format      formats.Format
	Source      string
	Created     int
	Attachments int
	Skipped     int // rows that produced no field
	BytesRead   int64
	Duration    time.Duration
}

// ExportResult summarizes a finished export.
type ExportResult struct {
	Format   formats.Format
	Records  int
	Rows     int // rows written after fan-out, excluding the header
	Duration time.Duration
}

// PurgeResult summarizes a chunked delete.
type PurgeResult struct {
	Deleted int64
	Batches int
}

// FilterOperator represents a comparison operator for column filters.
type FilterOperator string

const (
	OpContains   FilterOperator = "contains"
	OpEquals     FilterOperator = "eq"
	OpStartsWith FilterOperator = "starts"
	OpEndsWith   FilterOperator = "ends"
	OpGreaterEq  FilterOperator = "gte"
	OpLessEq     FilterOperator = "lte"
	OpGreater    FilterOperator = "gt"
	OpLess       FilterOperator = "lt"
	OpIn         FilterOperator = "in"
)

// ColumnFilter represents a single filter condition on a field.
type ColumnFilter struct {
	Column   string         // External column name
	Field    FieldID        // Resolved field
	Type     FieldType      // Field type for comparison semantics
	Operator FilterOperator // Comparison operator
	Value    string         // Filter value (comma-separated for OpIn)
}

// RecordFilter selects the records an export streams. The zero value
// selects everything. Conditions combine with AND.
type RecordFilter struct {
	Search  string
	Filters []ColumnFilter
	IDs     []int64
}

// IsZero reports whether the filter selects every record.
func (f RecordFilter) IsZero() bool {
	return f.Search == "" && len(f.Filters) == 0 && len(f.IDs) == 0
}
