// Package postgres implements the core store ports on PostgreSQL using pgx.
package postgres

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"strings"
	"text/template"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/shopsheet/internal/config"
	"github.com/JonMunkholm/shopsheet/internal/core"
)

const (
	recordTable     = "product_upload_rows"
	vendorTable     = "vendors"
	attachmentTable = "product_images"
)

//go:embed schema.sql
var schemaSQL string

var schemaTemplate = template.Must(template.New("schema").Parse(schemaSQL))

// Connect opens a connection pool sized from cfg and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	return pool, nil
}

// SchemaDDL renders the table definitions. Text fields become nullable TEXT
// columns named after their field ID.
func SchemaDDL() (string, error) {
	var columns []string
	for _, f := range core.TextFields() {
		if f.ID == core.FieldSKU {
			continue
		}
		columns = append(columns, quoteIdentifier(string(f.ID)))
	}

	var buf bytes.Buffer
	if err := schemaTemplate.Execute(&buf, columns); err != nil {
		return "", fmt.Errorf("render schema: %w", err)
	}
	return buf.String(), nil
}

// Migrate creates the tables when they do not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	ddl, err := SchemaDDL()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Store implements core.Store over a pgx pool.
type Store struct {
	pool *pgxpool.Pool

	textColumns []string // quoted, in TextFields order
	textFields  []core.FieldID
}

// New wraps pool.
func New(pool *pgxpool.Pool) *Store {
	s := &Store{pool: pool}
	for _, f := range core.TextFields() {
		s.textFields = append(s.textFields, f.ID)
		s.textColumns = append(s.textColumns, quoteIdentifier(string(f.ID)))
	}
	return s
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Begin opens an import transaction.
func (s *Store) Begin(ctx context.Context) (core.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &pgTx{tx: tx, store: s}, nil
}

// StreamRecords runs one filtered query and hands rows to fn as they
// arrive.
func (s *Store) StreamRecords(ctx context.Context, filter core.RecordFilter, fn func(core.Record) error) error {
	wb := NewWhereBuilder()
	wb.AddIDs(filter.IDs)
	wb.AddSearch(filter.Search, core.ProductFields)
	wb.AddFilters(filter.Filters)
	whereClause, queryArgs := wb.Build()

	selectCols := make([]string, 0, len(s.textColumns)+4)
	selectCols = append(selectCols,
		qualified(recordAlias, "id"),
		qualified(recordAlias, "uploaded_at"),
		qualified(recordAlias, "vendor_id"),
		qualified(vendorAlias, "name"),
	)
	for _, c := range s.textColumns {
		selectCols = append(selectCols, recordAlias+"."+c)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s %s LEFT JOIN %s %s ON %s = %s%s ORDER BY %s ASC",
		strings.Join(selectCols, ", "),
		recordTable, recordAlias,
		vendorTable, vendorAlias,
		qualified(vendorAlias, "id"), qualified(recordAlias, "vendor_id"),
		whereClause,
		qualified(recordAlias, "id"),
	)

	rows, err := s.pool.Query(ctx, query, queryArgs...)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var (
		uploadedAt pgtype.Timestamptz
		vendorID   pgtype.Int8
		vendorName pgtype.Text
	)
	texts := make([]pgtype.Text, len(s.textFields))
	dest := make([]any, 0, len(texts)+4)

	for rows.Next() {
		// Client went away
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rec := core.NewRecord()
		dest = append(dest[:0], &rec.ID, &uploadedAt, &vendorID, &vendorName)
		for i := range texts {
			dest = append(dest, &texts[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan record: %w", err)
		}

		if uploadedAt.Valid {
			rec.UploadedAt = uploadedAt.Time
		}
		if vendorID.Valid {
			rec.Vendor = &core.Vendor{ID: vendorID.Int64, Name: vendorName.String}
		}
		for i, t := range texts {
			if t.Valid {
				rec.Set(s.textFields[i], t.String)
			}
		}

		if err := fn(rec); err != nil {
			return err
		}
	}

	return rows.Err()
}

// ChunkBoundary returns the ID of the size-th record after after.
func (s *Store) ChunkBoundary(ctx context.Context, after int64, size int) (int64, bool, error) {
	if size < 1 {
		size = 1
	}
	query := fmt.Sprintf("SELECT id FROM %s WHERE id > $1 ORDER BY id OFFSET $2 LIMIT 1", recordTable)

	var boundary int64
	err := s.pool.QueryRow(ctx, query, after, size-1).Scan(&boundary)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find chunk boundary: %w", err)
	}
	return boundary, true, nil
}

// DeleteRange deletes records with after < id <= through.
func (s *Store) DeleteRange(ctx context.Context, after, through int64) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE id > $1 AND id <= $2", recordTable)
	tag, err := s.pool.Exec(ctx, query, after, through)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAfter deletes every record with id > after.
func (s *Store) DeleteAfter(ctx context.Context, after int64) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE id > $1", recordTable)
	tag, err := s.pool.Exec(ctx, query, after)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// pgTx is one import transaction.
type pgTx struct {
	tx    pgx.Tx
	store *Store
}

func (t *pgTx) GetOrCreateVendor(ctx context.Context, name string) (core.Vendor, error) {
	query := fmt.Sprintf(
		"INSERT INTO %s (name) VALUES ($1) ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id, name",
		vendorTable,
	)

	var v core.Vendor
	if err := t.tx.QueryRow(ctx, query, name).Scan(&v.ID, &v.Name); err != nil {
		return core.Vendor{}, fmt.Errorf("get or create vendor %q: %w", name, txErr(err))
	}
	return v, nil
}

// CreateRecords bulk-loads records with COPY.
func (t *pgTx) CreateRecords(ctx context.Context, records []core.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	columns := make([]string, 0, len(t.store.textFields)+2)
	columns = append(columns, "uploaded_at", "vendor_id")
	for _, id := range t.store.textFields {
		columns = append(columns, string(id))
	}

	rows := make([][]any, len(records))
	for i := range records {
		rec := records[i]
		rec.Fields = maps.Clone(rec.Fields)
		rec.Normalize()

		row := make([]any, 0, len(columns))
		if rec.UploadedAt.IsZero() {
			row = append(row, nil)
		} else {
			row = append(row, rec.UploadedAt)
		}
		if rec.Vendor == nil {
			row = append(row, nil)
		} else {
			row = append(row, rec.Vendor.ID)
		}
		for _, id := range t.store.textFields {
			if v, ok := rec.Get(id); ok {
				row = append(row, v)
			} else {
				row = append(row, nil)
			}
		}
		rows[i] = row
	}

	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{recordTable}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy records: %w", txErr(err))
	}
	return int(n), nil
}

func (t *pgTx) RecordsBySKU(ctx context.Context, skus []string) (map[string]int64, error) {
	result := make(map[string]int64, len(skus))
	if len(skus) == 0 {
		return result, nil
	}

	query := fmt.Sprintf("SELECT sku, id FROM %s WHERE sku = ANY($1)", recordTable)
	rows, err := t.tx.Query(ctx, query, skus)
	if err != nil {
		return nil, fmt.Errorf("look up SKUs: %w", txErr(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			sku string
			id  int64
		)
		if err := rows.Scan(&sku, &id); err != nil {
			return nil, fmt.Errorf("scan SKU: %w", err)
		}
		result[sku] = id
	}
	return result, rows.Err()
}

// CreateAttachments bulk-loads image rows with COPY.
func (t *pgTx) CreateAttachments(ctx context.Context, attachments []core.Attachment) (int, error) {
	if len(attachments) == 0 {
		return 0, nil
	}

	columns := []string{"product_sku", "product_image_url", "variant_image_url", "image_position", "image_alt_text"}
	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{attachmentTable}, columns,
		pgx.CopyFromSlice(len(attachments), func(i int) ([]any, error) {
			a := attachments[i]
			var position any
			if a.Position != nil {
				position = int32(*a.Position)
			}
			return []any{a.SKU, nullable(a.ProductImageURL), nullable(a.VariantImageURL), position, nullable(a.AltText)}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy attachments: %w", txErr(err))
	}
	return int(n), nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", txErr(err))
	}
	return nil
}

// Rollback is a no-op once the transaction has been committed.
func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func txErr(err error) error {
	if errors.Is(err, pgx.ErrTxClosed) {
		return core.ErrTxDone
	}
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
