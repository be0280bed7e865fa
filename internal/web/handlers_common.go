package web

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/JonMunkholm/shopsheet/internal/core"
)

// parseIntParam parses a positive integer from the query string or form,
// falling back to defaultVal.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.FormValue(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// parseRecordFilter reads search and column filters from the query string.
// Column filters use either filter[Column]=op:value or filter_Column=op:value.
// Unknown columns and invalid expressions are ignored.
func parseRecordFilter(r *http.Request, schema *core.Schema) core.RecordFilter {
	query := r.URL.Query()
	filter := core.RecordFilter{Search: strings.TrimSpace(query.Get("search"))}

	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	// Stable placeholder numbering in the generated SQL
	sort.Strings(keys)

	for _, key := range keys {
		column, ok := filterColumn(key)
		if !ok {
			continue
		}
		for _, expr := range query[key] {
			if cf, ok := schema.ParseColumnFilter(column, expr); ok {
				filter.Filters = append(filter.Filters, cf)
			}
		}
	}

	for _, raw := range strings.Split(query.Get("ids"), ",") {
		if id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			filter.IDs = append(filter.IDs, id)
		}
	}

	return filter
}

func filterColumn(key string) (string, bool) {
	if inner, ok := strings.CutPrefix(key, "filter["); ok {
		if column, ok := strings.CutSuffix(inner, "]"); ok && column != "" {
			return column, true
		}
		return "", false
	}
	if column, ok := strings.CutPrefix(key, "filter_"); ok && column != "" {
		return column, true
	}
	return "", false
}

// ImportResponse is the JSON body of a finished import.
type ImportResponse struct {
	RunID       string `json:"run_id"`
	Format      string `json:"format"`
	Source      string `json:"source"`
	Created     int    `json:"created"`
	Attachments int    `json:"attachments"`
	Skipped     int    `json:"skipped"`
	BytesRead   int64  `json:"bytes_read"`
	Duration    string `json:"duration"`
}

func toImportResponse(result *core.ImportResult) ImportResponse {
	return ImportResponse{
		RunID:       result.RunID,
		Format:      string(result.Format),
		Source:      result.Source,
		Created:     result.Created,
		Attachments: result.Attachments,
		Skipped:     result.Skipped,
		BytesRead:   result.BytesRead,
		Duration:    result.Duration.String(),
	}
}

// PurgeResponse is the JSON body of a finished purge.
type PurgeResponse struct {
	Deleted int64 `json:"deleted"`
	Batches int   `json:"batches"`
}

// FormatInfo describes one registered adapter.
type FormatInfo struct {
	Format      string `json:"format"`
	Import      bool   `json:"import"`
	Export      bool   `json:"export"`
	ContentType string `json:"content_type,omitempty"`
	Unavailable string `json:"unavailable,omitempty"`
}
