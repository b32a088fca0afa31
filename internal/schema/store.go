package schema

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatbi/chatbi/internal/observability"
)

// Warehouse is the slice of the warehouse driver the store depends on.
type Warehouse interface {
	FetchSchema(ctx context.Context) ([]Table, error)
	UpdateTableComment(ctx context.Context, table, comment string) error
	UpdateColumnComment(ctx context.Context, table, column, comment string) error
}

// FetchError wraps a failed metadata read. Callers may retry.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("schema fetch failed: %v", e.Err) }

func (e *FetchError) Unwrap() error { return e.Err }

// WriteError wraps a failed comment write. The cached snapshot is left
// unmodified, so callers see pre-write state until the next refresh.
type WriteError struct {
	Table  string
	Column string
	Err    error
}

func (e *WriteError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("metadata write failed for %s.%s: %v", e.Table, e.Column, e.Err)
	}
	return fmt.Sprintf("metadata write failed for %s: %v", e.Table, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

type cacheEntry struct {
	snapshot  *Snapshot
	fetchedAt time.Time
	dirty     bool
}

// Store caches warehouse metadata behind an atomically swapped entry.
// Readers never block on writers: they observe either the previous or the
// replacement snapshot in full. Comment updates write through to the
// warehouse and refresh synchronously, so an edit is visible on the very
// next read without any caller-side invalidation.
type Store struct {
	warehouse Warehouse
	database  string
	ttl       time.Duration
	now       func() time.Time

	entry atomic.Pointer[cacheEntry]
	// writeMu serializes comment writes; refreshMu orders fetch+swap pairs so
	// a slow re-fetch can never overwrite a newer snapshot.
	writeMu   sync.Mutex
	refreshMu sync.Mutex
}

type StoreConfig struct {
	Database string
	TTL      time.Duration
	Now      func() time.Time
}

func NewStore(warehouse Warehouse, cfg StoreConfig) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		warehouse: warehouse,
		database:  cfg.Database,
		ttl:       ttl,
		now:       now,
	}
}

// GetSchema returns the cached snapshot when it is fresh and clean, and
// re-fetches otherwise. Within the TTL and with no intervening write the
// same snapshot pointer is returned.
func (s *Store) GetSchema(ctx context.Context, forceRefresh bool) (*Snapshot, error) {
	if !forceRefresh {
		if entry := s.entry.Load(); entry != nil && !entry.dirty && s.now().Sub(entry.fetchedAt) < s.ttl {
			return entry.snapshot, nil
		}
	}
	return s.refresh(ctx)
}

// UpdateTableComment writes the comment to the warehouse, then refreshes the
// cache before returning. A write failure leaves the cache untouched.
func (s *Store) UpdateTableComment(ctx context.Context, table, comment string) (*Snapshot, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.warehouse.UpdateTableComment(ctx, table, comment); err != nil {
		return nil, &WriteError{Table: table, Err: err}
	}
	s.Invalidate()
	return s.refresh(ctx)
}

// UpdateColumnComment is the column-level counterpart of UpdateTableComment.
func (s *Store) UpdateColumnComment(ctx context.Context, table, column, comment string) (*Snapshot, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.warehouse.UpdateColumnComment(ctx, table, column, comment); err != nil {
		return nil, &WriteError{Table: table, Column: column, Err: err}
	}
	s.Invalidate()
	return s.refresh(ctx)
}

// Invalidate marks the cached entry dirty so the next read re-fetches.
func (s *Store) Invalidate() {
	for {
		entry := s.entry.Load()
		if entry == nil || entry.dirty {
			return
		}
		replacement := &cacheEntry{snapshot: entry.snapshot, fetchedAt: entry.fetchedAt, dirty: true}
		if s.entry.CompareAndSwap(entry, replacement) {
			return
		}
	}
}

func (s *Store) refresh(ctx context.Context) (*Snapshot, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	tables, err := s.warehouse.FetchSchema(ctx)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	snapshot := NewSnapshot(s.database, s.now(), tables)
	s.entry.Store(&cacheEntry{snapshot: snapshot, fetchedAt: snapshot.FetchedAt()})
	observability.IncrementSchemaRefresh()
	return snapshot, nil
}
