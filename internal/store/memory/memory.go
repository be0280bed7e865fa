// Package memory implements core.Store in process memory.
//
// It backs dry-run imports and the pipeline tests. Transactions stage their
// writes and apply them on Commit, and SKU uniqueness is enforced the same
// way the PostgreSQL schema enforces it.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/shopsheet/internal/core"
)

// ErrDuplicateSKU mirrors the unique violation PostgreSQL reports.
var ErrDuplicateSKU = errors.New(`duplicate key value violates unique constraint "product_upload_rows_sku_key"`)

// Calls counts store operations so tests can assert on store interaction.
type Calls struct {
	Begin             int
	CreateRecords     int
	CreateAttachments int
	GetOrCreateVendor int
	Commit            int
	Rollback          int
}

// Total returns the number of recorded calls.
func (c Calls) Total() int {
	return c.Begin + c.CreateRecords + c.CreateAttachments + c.GetOrCreateVendor + c.Commit + c.Rollback
}

// Store keeps records, vendors and attachments in maps guarded by one
// mutex.
type Store struct {
	mu sync.Mutex

	records     map[int64]core.Record
	vendors     map[string]core.Vendor
	attachments []core.Attachment
	nextID      int64
	nextVendor  int64
	nextAttach  int64
	calls       Calls

	// FailCreateRecords, when set, is returned by every CreateRecords call.
	FailCreateRecords error
}

var _ core.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		records: make(map[int64]core.Record),
		vendors: make(map[string]core.Vendor),
	}
}

// Calls returns a snapshot of the call counters.
func (s *Store) Calls() Calls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Records returns committed records in ID order.
func (s *Store) Records() []core.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// Vendors returns committed vendors sorted by name.
func (s *Store) Vendors() []core.Vendor {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.Vendor, 0, len(s.vendors))
	for _, v := range s.vendors {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Attachments returns committed attachments in insertion order.
func (s *Store) Attachments() []core.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Attachment(nil), s.attachments...)
}

// Seed inserts records directly, bypassing transactions. Records are
// normalized like any other insert.
func (s *Store) Seed(records ...core.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if sku, ok := rec.Get(core.FieldSKU); ok && s.skuTakenLocked(sku, nil) {
			return fmt.Errorf("seed %q: %w", sku, ErrDuplicateSKU)
		}
		if rec.Vendor != nil {
			v, ok := s.vendors[rec.Vendor.Name]
			if !ok {
				s.nextVendor++
				v = core.Vendor{ID: s.nextVendor, Name: rec.Vendor.Name}
				s.vendors[v.Name] = v
			}
			rec.Vendor = &v
		}
		s.insertLocked(cloneRecord(rec))
	}
	return nil
}

func (s *Store) insertLocked(rec core.Record) core.Record {
	s.nextID++
	rec.ID = s.nextID
	rec.Normalize()
	s.records[rec.ID] = rec
	return rec
}

func (s *Store) sortedLocked() []core.Record {
	out := make([]core.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) skuTakenLocked(sku string, staged []core.Record) bool {
	for _, r := range s.records {
		if v, ok := r.Get(core.FieldSKU); ok && v == sku {
			return true
		}
	}
	for _, r := range staged {
		if v, ok := r.Get(core.FieldSKU); ok && v == sku {
			return true
		}
	}
	return false
}

// StreamRecords implements core.Store.
func (s *Store) StreamRecords(ctx context.Context, filter core.RecordFilter, fn func(core.Record) error) error {
	s.mu.Lock()
	snapshot := s.sortedLocked()
	s.mu.Unlock()

	for _, rec := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !filter.Matches(rec) {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// ChunkBoundary implements core.Store.
func (s *Store) ChunkBoundary(_ context.Context, after int64, size int) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := 0
	for _, r := range s.sortedLocked() {
		if r.ID <= after {
			continue
		}
		seen++
		if seen == size {
			return r.ID, true, nil
		}
	}
	return 0, false, nil
}

// DeleteRange implements core.Store.
func (s *Store) DeleteRange(_ context.Context, after, through int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(func(id int64) bool { return id > after && id <= through }), nil
}

// DeleteAfter implements core.Store.
func (s *Store) DeleteAfter(_ context.Context, after int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(func(id int64) bool { return id > after }), nil
}

// deleteLocked removes matching records and cascades to their attachments.
func (s *Store) deleteLocked(match func(int64) bool) int64 {
	gone := make(map[string]bool)
	var n int64
	for id, r := range s.records {
		if !match(id) {
			continue
		}
		if sku, ok := r.Get(core.FieldSKU); ok {
			gone[sku] = true
		}
		delete(s.records, id)
		n++
	}

	kept := s.attachments[:0]
	for _, a := range s.attachments {
		if !gone[a.SKU] {
			kept = append(kept, a)
		}
	}
	s.attachments = kept
	return n
}

// Begin implements core.Store.
func (s *Store) Begin(ctx context.Context) (core.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls.Begin++
	s.mu.Unlock()
	return &tx{store: s, vendors: make(map[string]core.Vendor)}, nil
}

// tx stages writes until Commit. Vendor IDs are assigned on creation so
// staged records can reference them; record IDs are assigned on Commit.
type tx struct {
	store *Store
	done  bool

	records     []core.Record
	vendors     map[string]core.Vendor
	attachments []core.Attachment
}

func (t *tx) GetOrCreateVendor(ctx context.Context, name string) (core.Vendor, error) {
	if err := t.check(ctx); err != nil {
		return core.Vendor{}, err
	}
	name = strings.TrimSpace(name)

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.GetOrCreateVendor++

	if v, ok := s.vendors[name]; ok {
		return v, nil
	}
	if v, ok := t.vendors[name]; ok {
		return v, nil
	}
	s.nextVendor++
	v := core.Vendor{ID: s.nextVendor, Name: name}
	t.vendors[name] = v
	return v, nil
}

func (t *tx) CreateRecords(ctx context.Context, records []core.Record) (int, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.CreateRecords++

	if s.FailCreateRecords != nil {
		return 0, s.FailCreateRecords
	}
	for _, rec := range records {
		if sku, ok := rec.Get(core.FieldSKU); ok && s.skuTakenLocked(sku, t.records) {
			return 0, fmt.Errorf("insert %q: %w", sku, ErrDuplicateSKU)
		}
		rec = cloneRecord(rec)
		rec.Normalize()
		t.records = append(t.records, rec)
	}
	return len(records), nil
}

func (t *tx) RecordsBySKU(ctx context.Context, skus []string) (map[string]int64, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(skus))
	for _, sku := range skus {
		want[sku] = true
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	found := make(map[string]int64)
	for _, r := range s.records {
		if sku, ok := r.Get(core.FieldSKU); ok && want[sku] {
			found[sku] = r.ID
		}
	}
	// Staged records have no ID yet; a negative placeholder marks them.
	for i, r := range t.records {
		if sku, ok := r.Get(core.FieldSKU); ok && want[sku] {
			found[sku] = -int64(i + 1)
		}
	}
	return found, nil
}

func (t *tx) CreateAttachments(ctx context.Context, attachments []core.Attachment) (int, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.CreateAttachments++

	t.attachments = append(t.attachments, attachments...)
	return len(attachments), nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.Commit++

	for name, v := range t.vendors {
		s.vendors[name] = v
	}
	for _, rec := range t.records {
		s.insertLocked(rec)
	}
	for _, a := range t.attachments {
		s.nextAttach++
		a.ID = s.nextAttach
		s.attachments = append(s.attachments, a)
	}
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	s.calls.Rollback++
	s.mu.Unlock()
	return nil
}

func (t *tx) check(ctx context.Context) error {
	if t.done {
		return core.ErrTxDone
	}
	return ctx.Err()
}

func cloneRecord(rec core.Record) core.Record {
	rec.Fields = maps.Clone(rec.Fields)
	if rec.Fields == nil {
		rec.Fields = make(map[core.FieldID]string)
	}
	if rec.Vendor != nil {
		v := *rec.Vendor
		rec.Vendor = &v
	}
	return rec
}
