package core

import (
	"context"
	"errors"
)

// ErrTxDone is returned by Tx methods called after Commit or Rollback.
var ErrTxDone = errors.New("transaction already committed or rolled back")

// Store is the persistence port the pipelines depend on. Implementations
// live under internal/store.
type Store interface {
	// Begin opens the transaction an import runs in.
	Begin(ctx context.Context) (Tx, error)

	// StreamRecords calls fn for each record matching filter in ascending
	// ID order, with its vendor resolved. Returning an error from fn stops
	// the iteration and is passed through.
	StreamRecords(ctx context.Context, filter RecordFilter, fn func(Record) error) error

	// ChunkBoundary returns the ID of the size-th record with ID > after.
	// ok is false when fewer than size records remain.
	ChunkBoundary(ctx context.Context, after int64, size int) (boundary int64, ok bool, err error)

	// DeleteRange deletes records with after < ID <= through.
	DeleteRange(ctx context.Context, after, through int64) (int64, error)

	// DeleteAfter deletes every record with ID > after.
	DeleteAfter(ctx context.Context, after int64) (int64, error)
}

// VendorResolver is the get-or-create-by-name collaborator used while
// building records.
type VendorResolver interface {
	GetOrCreateVendor(ctx context.Context, name string) (Vendor, error)
}

// Tx groups the writes of one import. Nothing is visible to other readers
// until Commit. Rollback after Commit is a no-op.
type Tx interface {
	VendorResolver

	// CreateRecords inserts records in one batch and returns how many were
	// created. Records are normalized before insert.
	CreateRecords(ctx context.Context, records []Record) (int, error)

	// RecordsBySKU maps each known SKU to its record ID, including records
	// created earlier in this transaction.
	RecordsBySKU(ctx context.Context, skus []string) (map[string]int64, error)

	// CreateAttachments inserts attachments in one batch.
	CreateAttachments(ctx context.Context, attachments []Attachment) (int, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
