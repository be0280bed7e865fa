package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// maxHandleLength bounds derived URL handles.
const maxHandleLength = 255

var weightUnits = map[string]bool{"g": true, "kg": true, "lb": true, "oz": true}

var measureUnits = map[string]bool{
	"ml": true, "cl": true, "l": true, "cm3": true, "m3": true,
	"fl oz": true, "oz": true, "cup": true, "pt": true, "qt": true, "gal": true,
	"mm": true, "cm": true, "m": true, "in": true, "ft": true, "yd": true,
	"g": true, "kg": true, "lb": true,
}

// falseTokens are the stored spellings treated as false by the
// continue-selling column.
var falseTokens = map[string]bool{
	"": true, "false": true, "no": true, "n": true, "f": true, "0": true, "deny": true,
}

// columnRules maps external column names to their export rule.
var columnRules = func() map[string]ExportRule {
	m := make(map[string]ExportRule)
	for _, f := range ProductFields {
		if f.Rule != RulePlain {
			m[f.Header()] = f.Rule
		}
	}
	return m
}()

// ValueToCell converts a native value to its exported cell text for the
// given column. It never fails: invalid enumerations become "".
func ValueToCell(column string, value any) string {
	if value == nil {
		return ""
	}

	switch columnRules[column] {
	case RuleContinueSelling:
		if truthy(value) {
			return "continue"
		}
		return "deny"
	case RuleWeightUnit:
		return allowListed(value, weightUnits)
	case RuleMeasureUnit:
		return allowListed(value, measureUnits)
	}

	switch v := value.(type) {
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return v
	case time.Time:
		return FormatTimestamp(v)
	default:
		return fmt.Sprint(v)
	}
}

func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return !falseTokens[strings.ToLower(strings.TrimSpace(v))]
	default:
		return !falseTokens[strings.ToLower(fmt.Sprint(v))]
	}
}

func allowListed(value any, allowed map[string]bool) string {
	v := strings.ToLower(strings.TrimSpace(fmt.Sprint(value)))
	if allowed[v] {
		return v
	}
	return ""
}

// CellToValue converts a raw source cell to field text. The second result
// is false when the cell is absent (nil).
func CellToValue(cell any) (string, bool) {
	switch v := cell.(type) {
	case nil:
		return "", false
	case bool:
		if v {
			return "TRUE", true
		}
		return "FALSE", true
	case time.Time:
		return FormatTimestamp(v), true
	case string:
		return strings.TrimSpace(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return strings.TrimSpace(fmt.Sprint(v)), true
	}
}

// FormatTimestamp renders t as ISO-8601 without zone, adding microseconds
// only when non-zero.
func FormatTimestamp(t time.Time) string {
	if t.Nanosecond()/1000 != 0 {
		return t.Format("2006-01-02T15:04:05.000000")
	}
	return t.Format("2006-01-02T15:04:05")
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp accepts the timestamp spellings FormatTimestamp and common
// spreadsheet exports produce. Zone-less values are taken as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeTitle trims the title and keeps the part before the first
// comma. The second result is false when nothing remains.
func NormalizeTitle(title string) (string, bool) {
	cleaned := strings.TrimSpace(title)
	if head, _, found := strings.Cut(cleaned, ","); found {
		cleaned = strings.TrimSpace(head)
	}
	return cleaned, cleaned != ""
}

var (
	slugStrip    = regexp.MustCompile(`[^\w\s-]`)
	slugCollapse = regexp.MustCompile(`[-\s]+`)
)

// Slugify converts s to a lowercase ASCII slug: accents are decomposed and
// dropped, punctuation removed, and runs of spaces or hyphens collapsed to
// a single hyphen.
func Slugify(s string) string {
	decomposed := norm.NFKD.String(s)

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
		}
	}

	slug := slugStrip.ReplaceAllString(strings.ToLower(b.String()), "")
	slug = slugCollapse.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-_")
}

// DeriveHandle builds a URL handle from a title.
func DeriveHandle(title string) string {
	slug := Slugify(title)
	if len(slug) > maxHandleLength {
		slug = slug[:maxHandleLength]
	}
	return slug
}

// SplitImageValues splits a stored image field on newlines and commas,
// trimming entries and dropping empty ones.
func SplitImageValues(value string) []string {
	cleaned := strings.ReplaceAll(value, "\r\n", "\n")
	cleaned = strings.ReplaceAll(cleaned, "\r", "\n")

	var parts []string
	for _, line := range strings.Split(cleaned, "\n") {
		for _, piece := range strings.Split(line, ",") {
			if item := strings.TrimSpace(piece); item != "" {
				parts = append(parts, item)
			}
		}
	}
	return parts
}
