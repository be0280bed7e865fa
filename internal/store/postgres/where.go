package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/shopsheet/internal/core"
)

// Table aliases used by the record query.
const (
	recordAlias = "r"
	vendorAlias = "v"
)

// numericPattern guards text-to-number casts so malformed cells never fail
// the whole query; they compare as NULL instead.
const numericPattern = `'^\s*[-+]?[0-9]+(\.[0-9]+)?\s*$'`

// WhereBuilder accumulates AND-ed conditions with positional arguments.
type WhereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
}

// NewWhereBuilder returns an empty builder whose first placeholder is $1.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{argIndex: 1}
}

// Add appends "column = $n". Empty values are skipped.
func (wb *WhereBuilder) Add(column, value string) {
	if value == "" {
		return
	}
	wb.conditions = append(wb.conditions, fmt.Sprintf("%s = $%d", column, wb.argIndex))
	wb.args = append(wb.args, value)
	wb.argIndex++
}

// AddIDs restricts the result to the given record IDs.
func (wb *WhereBuilder) AddIDs(ids []int64) {
	if len(ids) == 0 {
		return
	}
	wb.conditions = append(wb.conditions, fmt.Sprintf("%s = ANY($%d)", qualified(recordAlias, "id"), wb.argIndex))
	wb.args = append(wb.args, ids)
	wb.argIndex++
}

// AddSearch ORs a case-insensitive substring match over every searchable
// field. All columns share one argument.
func (wb *WhereBuilder) AddSearch(query string, specs []core.FieldSpec) {
	if query == "" {
		return
	}

	var parts []string
	for _, spec := range specs {
		if !spec.Searchable() {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s ILIKE $%d", columnRef(spec), wb.argIndex))
	}
	if len(parts) == 0 {
		return
	}

	wb.conditions = append(wb.conditions, "("+strings.Join(parts, " OR ")+")")
	wb.args = append(wb.args, "%"+query+"%")
	wb.argIndex++
}

// AddFilters appends one condition per column filter.
func (wb *WhereBuilder) AddFilters(filters []core.ColumnFilter) {
	for _, f := range filters {
		clause, args, next := buildSingleFilter(f, wb.argIndex)
		if clause == "" {
			continue
		}
		wb.conditions = append(wb.conditions, clause)
		wb.args = append(wb.args, args...)
		wb.argIndex = next
	}
}

// Build returns " WHERE ..." and its arguments, or "" and nil when no
// condition was added.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// NextArgIndex returns the next free placeholder number.
func (wb *WhereBuilder) NextArgIndex() int {
	return wb.argIndex
}

// buildSingleFilter renders one filter starting at placeholder argIdx. It
// returns the clause, its arguments and the next free placeholder.
func buildSingleFilter(f core.ColumnFilter, argIdx int) (string, []any, int) {
	spec := core.FieldSpec{ID: f.Field, Type: f.Type}
	col := columnRef(spec)

	switch f.Type {
	case core.FieldNumeric:
		want, err := strconv.ParseFloat(strings.TrimSpace(f.Value), 64)
		if err != nil {
			return "FALSE", nil, argIdx
		}
		expr := fmt.Sprintf("(CASE WHEN %s ~ %s THEN %s::float8 END)", col, numericPattern, col)
		return comparison(expr, f.Operator, argIdx, want)

	case core.FieldTimestamp:
		want, ok := core.ParseTimestamp(f.Value)
		if !ok {
			return "FALSE", nil, argIdx
		}
		return comparison(col, f.Operator, argIdx, want)
	}

	switch f.Operator {
	case core.OpContains:
		return fmt.Sprintf("%s ILIKE $%d", col, argIdx),
			[]any{"%" + f.Value + "%"}, argIdx + 1

	case core.OpEquals:
		return fmt.Sprintf("%s = $%d", col, argIdx),
			[]any{f.Value}, argIdx + 1

	case core.OpStartsWith:
		return fmt.Sprintf("%s ILIKE $%d", col, argIdx),
			[]any{f.Value + "%"}, argIdx + 1

	case core.OpEndsWith:
		return fmt.Sprintf("%s ILIKE $%d", col, argIdx),
			[]any{"%" + f.Value}, argIdx + 1

	case core.OpIn:
		values := strings.Split(f.Value, ",")
		placeholders := make([]string, len(values))
		filterArgs := make([]any, len(values))
		for i, v := range values {
			placeholders[i] = fmt.Sprintf("$%d", argIdx+i)
			filterArgs[i] = strings.TrimSpace(v)
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")),
			filterArgs, argIdx + len(values)
	}

	return "", nil, argIdx
}

func comparison(expr string, op core.FilterOperator, argIdx int, arg any) (string, []any, int) {
	var sym string
	switch op {
	case core.OpEquals:
		sym = "="
	case core.OpGreaterEq:
		sym = ">="
	case core.OpLessEq:
		sym = "<="
	case core.OpGreater:
		sym = ">"
	case core.OpLess:
		sym = "<"
	default:
		return "", nil, argIdx
	}
	return fmt.Sprintf("%s %s $%d", expr, sym, argIdx), []any{arg}, argIdx + 1
}

// columnRef returns the qualified column holding a field's value in the
// record query.
func columnRef(spec core.FieldSpec) string {
	switch spec.Type {
	case core.FieldReference:
		return qualified(vendorAlias, "name")
	case core.FieldIdentifier:
		return qualified(recordAlias, "id")
	case core.FieldTimestamp:
		return qualified(recordAlias, string(core.FieldUploadedAt))
	}
	return qualified(recordAlias, string(spec.ID))
}

func qualified(alias, column string) string {
	return alias + "." + quoteIdentifier(column)
}

// quoteIdentifier quotes a SQL identifier to prevent injection.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
