package web

import (
	"encoding/csv"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/shopsheet/internal/core/formats"
	"github.com/JonMunkholm/shopsheet/internal/logging"
)

// handleExport streams the filtered records as a CSV or XLSX download.
//
// Query parameters:
//   - format: csv (default) or xlsx
//   - search: case-insensitive substring over the searchable columns
//   - filter[Column]=op:value: column filters, AND-ed
//   - ids: comma-separated record IDs
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := formats.ParseFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = formats.CSV
	}

	file, err := s.service.PrepareExport(format)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	filter := parseRecordFilter(r, s.service.Schema())

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, file.Filename))
	w.Header().Set("Cache-Control", "no-store")

	tw := &trackingWriter{ResponseWriter: w}
	if _, err := s.service.Export(r.Context(), tw, format, filter); err != nil {
		if !tw.wrote {
			s.respondError(w, r, err, statusFor(err))
			return
		}
		// Headers are gone; abort so the client sees a truncated
		// transfer instead of a silently short file.
		logging.FromContext(r.Context()).Error("export aborted mid-stream",
			"error", err,
			"bytes", tw.n,
		)
		panic(http.ErrAbortHandler)
	}
}

// trackingWriter records whether any body bytes reached the client.
type trackingWriter struct {
	http.ResponseWriter
	wrote bool
	n     int64
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.wrote = true
	n, err := t.ResponseWriter.Write(p)
	t.n += int64(n)
	return n, err
}

func (t *trackingWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// handleDownloadTemplate returns a header-only CSV in canonical order.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="product_upload_template.csv"`)

	csvWriter := csv.NewWriter(w)
	csvWriter.Write(s.service.Schema().Headers())
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		logging.FromContext(r.Context()).Warn("write template", "error", err)
	}
}

// handleListFormats lists the registered adapters and what each can do in
// this build.
func (s *Server) handleListFormats(w http.ResponseWriter, r *http.Request) {
	var result []FormatInfo
	for _, a := range formats.All() {
		result = append(result, FormatInfo{
			Format:      string(a.Format),
			Import:      a.CanRead(),
			Export:      a.CanWrite(),
			ContentType: a.ContentType,
			Unavailable: a.Unavailable,
		})
	}
	writeJSON(w, r, http.StatusOK, result)
}
