package web

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/shopsheet/internal/core"
	"github.com/JonMunkholm/shopsheet/internal/core/formats"
	"github.com/JonMunkholm/shopsheet/internal/web/templates"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// handleImport runs one synchronous import from a multipart upload.
//
// Form fields:
//   - file: the spreadsheet (required)
//   - format: csv, xlsx or xls; derived from the file name when empty
//   - sheet: worksheet name or zero-based index for workbooks
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, fmt.Errorf("file too large: %w", err), http.StatusRequestEntityTooLarge)
			return
		}
		s.respondError(w, r, fmt.Errorf("no file provided: invalid form: %w", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, fmt.Errorf("no file provided: %w", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	format := formats.ParseFormat(r.FormValue("format"))
	if format == "" {
		format = formats.FromFilename(header.Filename)
	}

	result, err := s.service.ImportFile(r.Context(), file, core.ImportRequest{
		Format: format,
		Sheet:  r.FormValue("sheet"),
		Size:   header.Size,
		Source: header.Filename,
	})
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	if wantsHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		templates.ImportResult(templates.ImportSummary{
			Source:      result.Source,
			Format:      string(result.Format),
			Created:     result.Created,
			Attachments: result.Attachments,
			Skipped:     result.Skipped,
			Duration:    result.Duration.Round(time.Millisecond).String(),
		}).Render(r.Context(), w)
		return
	}

	writeJSON(w, r, http.StatusOK, toImportResponse(result))
}

// handleImportStatus reports the import limiter state, for monitoring and
// for clients that want to check capacity before uploading.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.LimiterStatus())
}
