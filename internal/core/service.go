package core

import (
	"context"
	"time"
)

// Defaults for Options fields left at zero.
const (
	DefaultBatchSize      = 1000
	DefaultFlushEvery     = 1000
	DefaultPurgeChunkSize = 500
	DefaultExportPrefix   = "shopify_products"
)

// Options tunes a Service.
type Options struct {
	// TemplatePath is the canonical header template; empty derives headers
	// from the schema table.
	TemplatePath string

	BatchSize      int           // records per CreateRecords call
	MaxConcurrent  int           // imports allowed at once
	MaxWait        time.Duration // wait for an import slot
	ImportTimeout  time.Duration // zero means no timeout
	FilenamePrefix string        // export filename prefix
	FlushEvery     int           // CSV export flush interval in rows
	PurgeChunkSize int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		BatchSize:      DefaultBatchSize,
		MaxConcurrent:  DefaultMaxConcurrentImports,
		MaxWait:        DefaultMaxImportWait,
		FilenamePrefix: DefaultExportPrefix,
		FlushEvery:     DefaultFlushEvery,
		PurgeChunkSize: DefaultPurgeChunkSize,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.FilenamePrefix == "" {
		o.FilenamePrefix = d.FilenamePrefix
	}
	if o.FlushEvery <= 0 {
		o.FlushEvery = d.FlushEvery
	}
	if o.PurgeChunkSize <= 0 {
		o.PurgeChunkSize = d.PurgeChunkSize
	}
	return o
}

// Service runs the import, export and purge pipelines against a Store.
// It has no transport dependencies; the web server and the CLI share it.
type Service struct {
	store   Store
	schema  *Schema
	limiter *ImportLimiter
	opts    Options

	now func() time.Time
}

// NewService wires a Service over store.
func NewService(store Store, opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{
		store:   store,
		schema:  NewSchema(opts.TemplatePath),
		limiter: NewImportLimiter(opts.MaxConcurrent, opts.MaxWait),
		opts:    opts,
		now:     time.Now,
	}
}

// Schema returns the header resolver the service uses.
func (s *Service) Schema() *Schema {
	return s.schema
}

// Options returns the effective options after defaults.
func (s *Service) Options() Options {
	return s.opts
}

// LimiterStatus reports import slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until running imports finish or ctx ends.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
