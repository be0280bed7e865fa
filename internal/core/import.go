package core

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/shopsheet/internal/core/formats"
	"github.com/JonMunkholm/shopsheet/internal/logging"
)

// Import reads source in the given format and persists every row as a new
// record in one transaction. It returns the number of records created.
func (s *Service) Import(ctx context.Context, source io.Reader, format formats.Format, sheet string) (int, error) {
	res, err := s.ImportFile(ctx, source, ImportRequest{Format: format, Sheet: sheet})
	if err != nil {
		return 0, err
	}
	return res.Created, nil
}

// ImportFile runs one import and returns its summary.
//
// Records are streamed to the store in batches of Options.BatchSize inside
// a single transaction, which is only opened once the first record is
// ready. An empty or headerless source returns a zero result without
// touching the store. Any read or store error rolls the transaction back.
func (s *Service) ImportFile(ctx context.Context, source io.Reader, req ImportRequest) (*ImportResult, error) {
	adapter, err := formats.ReaderFor(req.Format)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	if s.opts.ImportTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ImportTimeout)
		defer cancel()
	}

	runID := uuid.NewString()
	ctx = logging.ContextWithRunID(ctx, runID)
	logger := logging.WithFields(ctx, "format", req.Format, "source", req.Source)
	start := time.Now()

	counter := formats.NewCountingReader(source, req.Size)
	headers, rows, err := adapter.Reader.Read(ctx, counter, formats.ReadOptions{Sheet: req.Sheet})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := &ImportResult{RunID: runID, Format: req.Format, Source: req.Source}
	if len(headers) == 0 {
		logger.Info("import skipped: no header row")
		return result, nil
	}

	run := newImportRun(s, headers, req, result, counter)
	defer run.rollback(ctx)

	if err := run.consume(ctx, rows); err != nil {
		logger.Warn("import aborted", "rows", run.rows, "error", err)
		return nil, err
	}
	if err := run.finish(ctx); err != nil {
		logger.Warn("import aborted", "rows", run.rows, "error", err)
		return nil, err
	}

	result.BytesRead = counter.BytesRead
	result.Duration = time.Since(start)
	logger.Info("import completed",
		"rows", run.rows,
		"created", result.Created,
		"attachments", result.Attachments,
		"skipped", result.Skipped,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// importRun holds the state of one ImportFile call.
type importRun struct {
	svc     *Service
	req     ImportRequest
	result  *ImportResult
	counter *formats.CountingReader

	specs  []FieldSpec
	mapped []bool
	images *fanIn

	tx      Tx
	vendors map[string]*Vendor
	batch   []Record
	rows    int
	now     time.Time
}

func newImportRun(s *Service, headers []string, req ImportRequest, result *ImportResult, counter *formats.CountingReader) *importRun {
	specs, mapped := s.schema.MapHeaders(headers)
	return &importRun{
		svc:     s,
		req:     req,
		result:  result,
		counter: counter,
		specs:   specs,
		mapped:  mapped,
		images:  newFanIn(headers),
		vendors: make(map[string]*Vendor),
		batch:   make([]Record, 0, s.opts.BatchSize),
		now:     s.now(),
	}
}

func (r *importRun) begin(ctx context.Context) error {
	if r.tx != nil {
		return nil
	}
	tx, err := r.svc.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	r.tx = tx
	return nil
}

func (r *importRun) rollback(ctx context.Context) {
	if r.tx == nil {
		return
	}
	if err := r.tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		logging.FromContext(ctx).Error("rollback failed", "error", err)
	}
}

func (r *importRun) consume(ctx context.Context, rows formats.RowIterator) error {
	for rows.Next() {
		row := rows.Row()
		r.rows++

		rec, ok, err := r.buildRecord(ctx, row)
		if err != nil {
			return fmt.Errorf("row %d: %w", r.rows, err)
		}
		r.images.add(row)

		if !ok {
			r.result.Skipped++
			continue
		}
		r.batch = append(r.batch, rec)
		if len(r.batch) >= r.svc.opts.BatchSize {
			if err := r.flush(ctx); err != nil {
				return err
			}
		}
	}
	return rows.Err()
}

// buildRecord converts one source row. ok is false when no mapped cell
// carried a value.
func (r *importRun) buildRecord(ctx context.Context, row formats.Row) (Record, bool, error) {
	rec := NewRecord()
	populated := false

	for i, cell := range row {
		if i >= len(r.specs) || !r.mapped[i] {
			continue
		}
		value, present := CellToValue(cell)
		if !present || value == "" {
			continue
		}

		f := r.specs[i]
		switch f.Type {
		case FieldTimestamp:
			if t, ok := ParseTimestamp(value); ok {
				rec.UploadedAt = t
				populated = true
			}
		case FieldReference:
			v, err := r.vendor(ctx, value)
			if err != nil {
				return rec, false, err
			}
			rec.Vendor = v
			populated = true
		default:
			if f.ID == FieldTitle {
				if value, present = NormalizeTitle(value); !present {
					continue
				}
			}
			rec.Set(f.ID, value)
			populated = true
		}
	}

	if !populated {
		return rec, false, nil
	}
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = r.now
	}
	rec.Normalize()
	return rec, true, nil
}

// vendor resolves name once per import.
func (r *importRun) vendor(ctx context.Context, name string) (*Vendor, error) {
	if v, ok := r.vendors[name]; ok {
		return v, nil
	}
	if err := r.begin(ctx); err != nil {
		return nil, err
	}
	v, err := r.tx.GetOrCreateVendor(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolve vendor %q: %w", name, err)
	}
	r.vendors[name] = &v
	return &v, nil
}

func (r *importRun) flush(ctx context.Context) error {
	if len(r.batch) == 0 {
		return nil
	}
	if err := r.begin(ctx); err != nil {
		return err
	}

	n, err := r.tx.CreateRecords(ctx, r.batch)
	if err != nil {
		return fmt.Errorf("create records: %w", err)
	}
	r.result.Created += n
	r.batch = r.batch[:0]

	logging.FromContext(ctx).Debug("batch persisted", "created", r.result.Created, "rows", r.rows)
	if r.req.OnProgress != nil {
		r.req.OnProgress(ImportProgress{
			RunID:     r.result.RunID,
			Rows:      r.rows,
			Created:   r.result.Created,
			BytesRead: r.counter.BytesRead,
			Percent:   r.counter.Progress(),
		})
	}
	return nil
}

// finish persists the last batch, links attachments and commits.
func (r *importRun) finish(ctx context.Context) error {
	if err := r.flush(ctx); err != nil {
		return err
	}

	if skus := r.images.skuList(); len(skus) > 0 {
		if err := r.begin(ctx); err != nil {
			return err
		}
		known, err := r.tx.RecordsBySKU(ctx, skus)
		if err != nil {
			return fmt.Errorf("resolve skus: %w", err)
		}
		if attachments := r.images.resolve(known); len(attachments) > 0 {
			n, err := r.tx.CreateAttachments(ctx, attachments)
			if err != nil {
				return fmt.Errorf("create attachments: %w", err)
			}
			r.result.Attachments = n
		}
	}

	if r.tx == nil {
		return nil
	}
	if err := r.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}
