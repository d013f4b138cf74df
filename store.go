package syncserver

import (
	"context"
	"time"

	"github.com/c0deZ3R0/go-sync-server/cursor"
)

// Pull and push limits. A pull page is clamped to [MinPullLimit, MaxPullLimit]
// and defaults to MaxPullLimit; a push batch larger than MaxPushBatch is
// rejected wholesale before any write.
const (
	MinPullLimit     = 25
	MaxPullLimit     = 100
	DefaultPullLimit = MaxPullLimit
	MaxPushBatch     = 50
)

// ClampLimit normalizes a caller-supplied page limit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPullLimit
	case limit < MinPullLimit:
		return MinPullLimit
	case limit > MaxPullLimit:
		return MaxPullLimit
	default:
		return limit
	}
}

// PullQuery selects one incremental page of a user's records. A zero Cursor
// means "from the beginning".
type PullQuery struct {
	Cursor cursor.TimeKey
	Limit  int
}

// Page is one result page plus the cursor to resume from. Next echoes the
// query cursor when the page is empty, so callers can always persist it.
type Page struct {
	Records []SyncRecord
	HasMore bool
	Next    cursor.TimeKey
}

// SyncStore is the durable keyed storage for sync records. Every operation
// is scoped by userID; no query can observe another user's records.
// Result ordering is always (updatedAt, key) ascending.
type SyncStore interface {
	// FindByKeys returns the records whose hashed key is in hashedKeys,
	// tombstones included.
	FindByKeys(ctx context.Context, userID string, hashedKeys []string) ([]SyncRecord, error)

	// FindByUpdatedAt returns one incremental page strictly after q.Cursor.
	// The limit is clamped; HasMore is true when the page is full.
	// Tombstones are included so peers observe deletions.
	FindByUpdatedAt(ctx context.Context, userID string, q PullQuery) (Page, error)

	// FindAffectedAndConcurrent returns, in one round trip, the records for
	// the named hashed keys plus any other record updated after baseline:
	// the authoritative post-merge state a pushing client needs, including
	// concurrent changes made by its user's other devices.
	FindAffectedAndConcurrent(ctx context.Context, userID string, hashedKeys []string, baseline time.Time) (Page, error)

	// Begin opens a transaction for one push batch. All accepted writes of
	// the batch commit together or not at all.
	Begin(ctx context.Context) (StoreTx, error)

	Close() error
}

// StoreTx is one atomic unit of record mutation. The reconciliation engine
// reads and classifies through the same transaction that writes, so the
// conflict decision and its application cannot be split by a concurrent
// batch.
//
// Rollback after Commit must be a no-op, so `defer tx.Rollback()` is safe.
type StoreTx interface {
	// Get returns the record with the given hashed key, tombstone or not,
	// or (nil, nil) when no such record exists.
	Get(ctx context.Context, userID, hashedKey string) (*SyncRecord, error)

	// Insert writes a brand-new record. The store assigns rec.ID.
	Insert(ctx context.Context, userID string, rec *SyncRecord) error

	// Update rewrites the record identified by rec.Key.
	Update(ctx context.Context, userID string, rec *SyncRecord) error

	Commit() error
	Rollback() error
}
