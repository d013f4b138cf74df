package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	syncserver "github.com/c0deZ3R0/go-sync-server"
	"github.com/c0deZ3R0/go-sync-server/cursor"
)

func newTestStore(t *testing.T) *SQLiteSyncStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync_test.db")
	store, err := NewWithDataSource(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustInsert(t *testing.T, store *SQLiteSyncStore, userID string, rec *syncserver.SyncRecord) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer tx.Rollback()
	if err := tx.Insert(ctx, userID, rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
}

func record(key string, updatedAt time.Time) *syncserver.SyncRecord {
	return &syncserver.SyncRecord{
		Key:       key,
		HashedKey: syncserver.HashKey(key),
		Entity:    "note",
		Data:      json.RawMessage(`{"k":"` + key + `"}`),
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func TestTxGetInsertUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer tx.Rollback()

	got, err := tx.Get(ctx, "alice", syncserver.HashKey("note-1"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Fatal("Get() on an empty store returned a record")
	}

	rec := record("note-1", ts)
	if err := tx.Insert(ctx, "alice", rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if rec.ID == "" {
		t.Fatal("Insert() did not assign an ID")
	}

	// The same transaction must see its own write.
	got, err = tx.Get(ctx, "alice", rec.HashedKey)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.Key != "note-1" {
		t.Fatalf("Get() after Insert = %+v", got)
	}

	deleted := ts.Add(time.Minute)
	got.DeletedAt = &deleted
	got.UpdatedAt = deleted
	if err := tx.Update(ctx, "alice", got); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	records, err := store.FindByKeys(ctx, "alice", []string{rec.HashedKey})
	if err != nil {
		t.Fatalf("FindByKeys() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("FindByKeys() returned %d records, want 1", len(records))
	}
	if records[0].DeletedAt == nil || !records[0].DeletedAt.Equal(deleted) {
		t.Fatalf("tombstone not persisted: %+v", records[0])
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	rec := record("note-1", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	if err := tx.Insert(ctx, "alice", rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	records, err := store.FindByKeys(ctx, "alice", []string{rec.HashedKey})
	if err != nil {
		t.Fatalf("FindByKeys() error = %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("rolled back insert is visible: %+v", records)
	}
}

func TestRollbackAfterCommitIsNoOp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := tx.Insert(ctx, "alice", record("note-1", time.Now().UTC())); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() after Commit returned %v, want nil", err)
	}
}

func TestFindByUpdatedAtPaginatesThroughTies(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// All records share one timestamp; only the key half of the cursor can
	// separate the pages. More records than the smallest page size forces at
	// least one page boundary to land inside the tie.
	var keys []string
	for i := 0; i < syncserver.MinPullLimit+5; i++ {
		keys = append(keys, fmt.Sprintf("note-%03d", i))
	}
	for _, key := range keys {
		mustInsert(t, store, "alice", record(key, ts))
	}

	var got []string
	var cur cursor.TimeKey
	for {
		page, err := store.FindByUpdatedAt(ctx, "alice", syncserver.PullQuery{Cursor: cur, Limit: syncserver.MinPullLimit})
		if err != nil {
			t.Fatalf("FindByUpdatedAt() error = %v", err)
		}
		for _, rec := range page.Records {
			got = append(got, rec.Key)
		}
		if !page.HasMore {
			break
		}
		cur = page.Next
	}

	if len(got) != len(keys) {
		t.Fatalf("paginated pull returned %d records, want %d", len(got), len(keys))
	}
	for i, key := range keys {
		if got[i] != key {
			t.Fatalf("records out of order: got %v", got)
		}
	}
}

func TestFindByUpdatedAtExcludesCursorPosition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mustInsert(t, store, "alice", record("a", ts))
	mustInsert(t, store, "alice", record("b", ts))

	page, err := store.FindByUpdatedAt(ctx, "alice", syncserver.PullQuery{
		Cursor: cursor.TimeKey{UpdatedAt: ts, Key: "a"},
	})
	if err != nil {
		t.Fatalf("FindByUpdatedAt() error = %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].Key != "b" {
		t.Fatalf("cursor boundary leaked: %+v", page.Records)
	}
}

func TestFindAffectedAndConcurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mustInsert(t, store, "alice", record("pushed", ts))
	mustInsert(t, store, "alice", record("concurrent", ts.Add(time.Minute)))
	mustInsert(t, store, "alice", record("old", ts.Add(-time.Hour)))

	page, err := store.FindAffectedAndConcurrent(ctx, "alice",
		[]string{syncserver.HashKey("pushed")}, ts.Add(30*time.Second))
	if err != nil {
		t.Fatalf("FindAffectedAndConcurrent() error = %v", err)
	}

	keys := make(map[string]bool)
	for _, rec := range page.Records {
		keys[rec.Key] = true
	}
	if !keys["pushed"] || !keys["concurrent"] || keys["old"] {
		t.Fatalf("wrong record set: %v", keys)
	}
}

func TestUserIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mustInsert(t, store, "alice", record("note-1", ts))

	page, err := store.FindByUpdatedAt(ctx, "bob", syncserver.PullQuery{})
	if err != nil {
		t.Fatalf("FindByUpdatedAt() error = %v", err)
	}
	if len(page.Records) != 0 {
		t.Fatalf("bob can see alice's records: %+v", page.Records)
	}

	records, err := store.FindByKeys(ctx, "bob", []string{syncserver.HashKey("note-1")})
	if err != nil {
		t.Fatalf("FindByKeys() error = %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("FindByKeys leaked across users: %+v", records)
	}
}

func TestClosedStore(t *testing.T) {
	store := newTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := store.Begin(context.Background()); err != ErrStoreClosed {
		t.Fatalf("Begin() after Close = %v, want ErrStoreClosed", err)
	}
	if _, err := store.FindByUpdatedAt(context.Background(), "alice", syncserver.PullQuery{}); err != ErrStoreClosed {
		t.Fatalf("FindByUpdatedAt() after Close = %v, want ErrStoreClosed", err)
	}
}
