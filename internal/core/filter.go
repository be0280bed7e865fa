package core

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// ParseColumnFilter parses one "op:value" expression for column, as sent
// in filter[Column]=op:value query parameters. It returns false for an
// unknown column, a malformed expression, an empty value, or an operator
// the field type does not support.
func (s *Schema) ParseColumnFilter(column, expr string) (ColumnFilter, bool) {
	f, ok := s.FieldForColumn(strings.TrimSpace(column))
	if !ok {
		return ColumnFilter{}, false
	}

	opText, value, found := strings.Cut(expr, ":")
	if !found || value == "" {
		return ColumnFilter{}, false
	}

	op := FilterOperator(opText)
	if !isValidOperator(op, f.Type) {
		return ColumnFilter{}, false
	}

	return ColumnFilter{
		Column:   f.Header(),
		Field:    f.ID,
		Type:     f.Type,
		Operator: op,
		Value:    value,
	}, true
}

// isValidOperator checks if an operator is valid for a given field type.
func isValidOperator(op FilterOperator, ft FieldType) bool {
	switch ft {
	case FieldText, FieldURL, FieldReference:
		switch op {
		case OpContains, OpEquals, OpStartsWith, OpEndsWith:
			return true
		}
	case FieldEnum:
		switch op {
		case OpEquals, OpIn:
			return true
		}
	case FieldNumeric, FieldTimestamp:
		switch op {
		case OpEquals, OpGreaterEq, OpLessEq, OpGreater, OpLess:
			return true
		}
	}
	return false
}

// Matches evaluates the filter against rec in memory. Text comparison is
// case-insensitive like ILIKE. Stores that can push the filter down to a
// query do so instead.
func (f RecordFilter) Matches(rec Record) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, rec.ID) {
		return false
	}
	if f.Search != "" && !matchesSearch(rec, f.Search) {
		return false
	}
	for _, cf := range f.Filters {
		if !cf.matches(rec) {
			return false
		}
	}
	return true
}

func matchesSearch(rec Record, query string) bool {
	needle := strings.ToLower(query)
	for _, spec := range ProductFields {
		if !spec.Searchable() {
			continue
		}
		v, ok := rec.Value(spec).(string)
		if ok && strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

func (cf ColumnFilter) matches(rec Record) bool {
	switch cf.Type {
	case FieldTimestamp:
		if rec.UploadedAt.IsZero() {
			return false
		}
		want, ok := ParseTimestamp(cf.Value)
		if !ok {
			return false
		}
		return compareTime(cf.Operator, rec.UploadedAt, want)
	}

	var value string
	if cf.Type == FieldReference {
		if rec.Vendor == nil {
			return false
		}
		value = rec.Vendor.Name
	} else {
		v, ok := rec.Get(cf.Field)
		if !ok {
			return false
		}
		value = v
	}

	if cf.Type == FieldNumeric {
		n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return false
		}
		return compareOrdered(cf.Operator, n, cf.Value)
	}

	got := strings.ToLower(value)
	want := strings.ToLower(cf.Value)
	switch cf.Operator {
	case OpContains:
		return strings.Contains(got, want)
	case OpEquals:
		return value == cf.Value
	case OpStartsWith:
		return strings.HasPrefix(got, want)
	case OpEndsWith:
		return strings.HasSuffix(got, want)
	case OpIn:
		for _, candidate := range strings.Split(cf.Value, ",") {
			if value == strings.TrimSpace(candidate) {
				return true
			}
		}
	}
	return false
}

func compareOrdered(op FilterOperator, got float64, raw string) bool {
	want, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return false
	}
	switch op {
	case OpEquals:
		return got == want
	case OpGreaterEq:
		return got >= want
	case OpLessEq:
		return got <= want
	case OpGreater:
		return got > want
	case OpLess:
		return got < want
	}
	return false
}

func compareTime(op FilterOperator, got, want time.Time) bool {
	switch op {
	case OpEquals:
		return got.Equal(want)
	case OpGreaterEq:
		return !got.Before(want)
	case OpLessEq:
		return !got.After(want)
	case OpGreater:
		return got.After(want)
	case OpLess:
		return got.Before(want)
	}
	return false
}
