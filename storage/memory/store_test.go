package memory

import (
	"context"
	"testing"
	"time"

	syncserver "github.com/c0deZ3R0/go-sync-server"
	"github.com/c0deZ3R0/go-sync-server/cursor"
)

func record(key string, updatedAt time.Time) *syncserver.SyncRecord {
	return &syncserver.SyncRecord{
		Key:       key,
		HashedKey: syncserver.HashKey(key),
		Entity:    "note",
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func TestTxSeesItsOwnWrites(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer tx.Rollback()

	rec := record("note-1", ts)
	if err := tx.Insert(ctx, "alice", rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := tx.Get(ctx, "alice", rec.HashedKey)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() did not see the staged insert")
	}
	if got.ID == "" {
		t.Fatal("Insert() did not assign an ID")
	}
}

func TestRollbackDiscardsStagedWrites(t *testing.T) {
	store := New()
	defer store.Close()
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

func TestReturnedRecordsAreCopies(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tx, _ := store.Begin(ctx)
	rec := record("note-1", ts)
	if err := tx.Insert(ctx, "alice", rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	records, err := store.FindByKeys(ctx, "alice", []string{rec.HashedKey})
	if err != nil {
		t.Fatalf("FindByKeys() error = %v", err)
	}
	records[0].Entity = "mutated"

	again, _ := store.FindByKeys(ctx, "alice", []string{rec.HashedKey})
	if again[0].Entity != "note" {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestFindByUpdatedAtOrdersByTimeThenKey(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tx, _ := store.Begin(ctx)
	for _, key := range []string{"b", "a", "c"} {
		if err := tx.Insert(ctx, "alice", record(key, ts)); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	if err := tx.Insert(ctx, "alice", record("z", ts.Add(-time.Minute))); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	page, err := store.FindByUpdatedAt(ctx, "alice", syncserver.PullQuery{})
	if err != nil {
		t.Fatalf("FindByUpdatedAt() error = %v", err)
	}

	want := []string{"z", "a", "b", "c"}
	if len(page.Records) != len(want) {
		t.Fatalf("got %d records, want %d", len(page.Records), len(want))
	}
	for i, key := range want {
		if page.Records[i].Key != key {
			t.Fatalf("order = %v at %d, want %v", page.Records[i].Key, i, key)
		}
	}
	wantNext := cursor.TimeKey{UpdatedAt: ts, Key: "c"}
	if page.Next.Compare(wantNext) != 0 {
		t.Fatalf("Next = %v, want %v", page.Next, wantNext)
	}
}
