// Package memory provides an in-memory sync store for tests and
// single-process development setups. Data does not survive a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	syncserver "github.com/c0deZ3R0/go-sync-server"
	"github.com/c0deZ3R0/go-sync-server/cursor"
)

// Store keeps all records in process memory, keyed by user and hashed key.
// Transactions serialize through the store mutex, which is held from Begin
// until Commit or Rollback: one push batch at a time, like a database would
// give us with row locks.
type Store struct {
	mu      sync.Mutex
	records map[string]map[string]*syncserver.SyncRecord
	closed  bool
}

var _ syncserver.SyncStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		records: make(map[string]map[string]*syncserver.SyncRecord),
	}
}

// FindByKeys returns the records stored under the given hashed keys,
// tombstones included.
func (s *Store) FindByKeys(ctx context.Context, userID string, hashedKeys []string) ([]syncserver.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var out []syncserver.SyncRecord
	for _, hk := range hashedKeys {
		if rec, ok := s.records[userID][hk]; ok {
			out = append(out, *rec.Clone())
		}
	}
	sortRecords(out)
	return out, nil
}

// FindByUpdatedAt returns one page of records strictly after q.Cursor in
// (updatedAt, key) order.
func (s *Store) FindByUpdatedAt(ctx context.Context, userID string, q syncserver.PullQuery) (syncserver.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return syncserver.Page{}, fmt.Errorf("store is closed")
	}

	limit := syncserver.ClampLimit(q.Limit)
	var matched []syncserver.SyncRecord
	for _, rec := range s.records[userID] {
		pos := cursor.TimeKey{UpdatedAt: rec.UpdatedAt, Key: rec.Key}
		if q.Cursor.Compare(pos) < 0 {
			matched = append(matched, *rec.Clone())
		}
	}
	sortRecords(matched)

	page := syncserver.Page{Next: q.Cursor}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	page.Records = matched
	page.HasMore = len(matched) == limit
	if len(matched) > 0 {
		last := matched[len(matched)-1]
		page.Next = cursor.TimeKey{UpdatedAt: last.UpdatedAt, Key: last.Key}
	}
	return page, nil
}

// FindAffectedAndConcurrent returns the records for the given hashed keys
// plus every other record updated after baseline.
func (s *Store) FindAffectedAndConcurrent(ctx context.Context, userID string, hashedKeys []string, baseline time.Time) (syncserver.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return syncserver.Page{}, fmt.Errorf("store is closed")
	}

	keySet := make(map[string]struct{}, len(hashedKeys))
	for _, hk := range hashedKeys {
		keySet[hk] = struct{}{}
	}

	var matched []syncserver.SyncRecord
	for hk, rec := range s.records[userID] {
		_, named := keySet[hk]
		if named || rec.UpdatedAt.After(baseline) {
			matched = append(matched, *rec.Clone())
		}
	}
	sortRecords(matched)

	page := syncserver.Page{Records: matched}
	if len(matched) > 0 {
		last := matched[len(matched)-1]
		page.Next = cursor.TimeKey{UpdatedAt: last.UpdatedAt, Key: last.Key}
	}
	return page, nil
}

// Begin opens a transaction. The store mutex is held until the transaction
// finishes, so batches never interleave.
func (s *Store) Begin(ctx context.Context) (syncserver.StoreTx, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("store is closed")
	}
	return &memTx{store: s, staged: make(map[string]map[string]*syncserver.SyncRecord)}, nil
}

// Close discards all records.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = nil
	return nil
}

// memTx stages writes and applies them on Commit. Reads see staged writes
// first, so multiple operations for the same key within one batch compose.
type memTx struct {
	store  *Store
	staged map[string]map[string]*syncserver.SyncRecord
	done   bool
}

func (t *memTx) Get(ctx context.Context, userID, hashedKey string) (*syncserver.SyncRecord, error) {
	if t.done {
		return nil, fmt.Errorf("transaction is finished")
	}
	if rec, ok := t.staged[userID][hashedKey]; ok {
		return rec.Clone(), nil
	}
	if rec, ok := t.store.records[userID][hashedKey]; ok {
		return rec.Clone(), nil
	}
	return nil, nil
}

func (t *memTx) Insert(ctx context.Context, userID string, rec *syncserver.SyncRecord) error {
	if t.done {
		return fmt.Errorf("transaction is finished")
	}
	cp := rec.Clone()
	cp.ID = uuid.New().String()
	t.stage(userID, cp)
	return nil
}

func (t *memTx) Update(ctx context.Context, userID string, rec *syncserver.SyncRecord) error {
	if t.done {
		return fmt.Errorf("transaction is finished")
	}
	t.stage(userID, rec.Clone())
	return nil
}

func (t *memTx) stage(userID string, rec *syncserver.SyncRecord) {
	if t.staged[userID] == nil {
		t.staged[userID] = make(map[string]*syncserver.SyncRecord)
	}
	t.staged[userID][rec.HashedKey] = rec
}

func (t *memTx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction is finished")
	}
	t.done = true
	for userID, recs := range t.staged {
		if t.store.records[userID] == nil {
			t.store.records[userID] = make(map[string]*syncserver.SyncRecord)
		}
		for hk, rec := range recs {
			t.store.records[userID][hk] = rec
		}
	}
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.staged = nil
	t.store.mu.Unlock()
	return nil
}

func sortRecords(recs []syncserver.SyncRecord) {
	sort.Slice(recs, func(i, j int) bool {
		a := cursor.TimeKey{UpdatedAt: recs[i].UpdatedAt, Key: recs[i].Key}
		b := cursor.TimeKey{UpdatedAt: recs[j].UpdatedAt, Key: recs[j].Key}
		return a.Compare(b) < 0
	})
}
