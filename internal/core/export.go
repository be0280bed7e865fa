package core

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/JonMunkholm/shopsheet/internal/core/formats"
	"github.com/JonMunkholm/shopsheet/internal/logging"
)

// ExportFile describes the download an export produces.
type ExportFile struct {
	Filename    string
	ContentType string
}

// PrepareExport validates format for export and names the output file.
// Callers use it to set response headers before streaming.
func (s *Service) PrepareExport(format formats.Format) (ExportFile, error) {
	adapter, err := formats.WriterFor(format)
	if err != nil {
		return ExportFile{}, err
	}
	return ExportFile{
		Filename:    ExportFilename(s.opts.FilenamePrefix, adapter.Extension, s.now()),
		ContentType: adapter.ContentType,
	}, nil
}

// ExportFilename returns "<prefix>_<YYYYMMDD_HHMMSS>.<ext>".
func ExportFilename(prefix, ext string, now time.Time) string {
	return fmt.Sprintf("%s_%s.%s", prefix, now.Format("20060102_150405"), ext)
}

// Export streams every record selected by filter to w. Headers are
// resolved once; each record passes through the codec and the image
// fan-out before reaching the writer. A failure after the first byte has
// been written leaves w truncated; HTTP callers must abort the response.
func (s *Service) Export(ctx context.Context, w io.Writer, format formats.Format, filter RecordFilter) (*ExportResult, error) {
	adapter, err := formats.WriterFor(format)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	headers := s.schema.Headers()
	result := &ExportResult{Format: format}
	logger := logging.WithFields(ctx, "format", format)

	src := func(emit func([]string) error) error {
		return s.store.StreamRecords(ctx, filter, func(rec Record) error {
			result.Records++
			for _, row := range FanOut(headers, s.schema.Cells(headers, rec)) {
				if err := emit(row); err != nil {
					return err
				}
				result.Rows++
			}
			return nil
		})
	}

	opts := formats.WriteOptions{FlushEvery: s.opts.FlushEvery}
	if err := adapter.Writer.Write(ctx, w, headers, src, opts); err != nil {
		logger.Error("export failed", "records", result.Records, "error", err)
		return nil, fmt.Errorf("export %s: %w", format, err)
	}

	result.Duration = time.Since(start)
	logger.Info("export completed",
		"records", result.Records,
		"rows", result.Rows,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}
