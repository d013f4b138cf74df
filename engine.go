package syncserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	syncErrors "github.com/c0deZ3R0/go-sync-server/errors"
	"github.com/c0deZ3R0/go-sync-server/logging"
)

// PushRequest is one batch of client operations. Baseline, when set, is the
// client's last known sync point; the response then also covers records
// changed after it by the user's other devices.
type PushRequest struct {
	ClientID   string
	Baseline   *time.Time
	Operations []Operation
}

// Engine reconciles pushed operation batches against the sync store using
// last-write-wins conflict resolution. Classification happens inside the
// same transaction that writes, so a concurrent batch for the same key
// cannot slip between the read and the decision.
type Engine struct {
	store  SyncStore
	logger *logging.Logger
}

// NewEngine creates a reconciliation engine over the given store.
func NewEngine(store SyncStore, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:  store,
		logger: logger.WithComponent(logging.Component("engine")),
	}
}

// Push validates, classifies, and applies one batch atomically, then returns
// the authoritative post-merge state for the batch's keys plus any records
// concurrently changed after the batch baseline.
//
// Losing operations are not errors: they are silently ignored, and the
// caller learns the server's state from the returned page. A failed
// transaction aborts the whole batch; retrying the identical batch is safe
// because losers are simply re-ignored.
func (e *Engine) Push(ctx context.Context, userID string, req PushRequest) (Page, error) {
	if err := validatePush(userID, req); err != nil {
		return Page{}, syncErrors.NewValidationError(syncErrors.OpPush, err)
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return Page{}, syncErrors.NewStorageError(syncErrors.OpPush, err)
	}
	defer tx.Rollback()

	touched := make([]string, 0, len(req.Operations))
	seen := make(map[string]struct{}, len(req.Operations))
	applied := 0
	for _, op := range req.Operations {
		hashed := HashKey(op.Key)
		if _, dup := seen[hashed]; !dup {
			seen[hashed] = struct{}{}
			touched = append(touched, hashed)
		}

		existing, err := tx.Get(ctx, userID, hashed)
		if err != nil {
			return Page{}, syncErrors.NewStorageError(syncErrors.OpPush, err)
		}

		rec, v, err := classify(op, existing)
		if err != nil {
			return Page{}, syncErrors.NewValidationError(syncErrors.OpPush, err)
		}
		switch v {
		case verdictIgnore:
			continue
		case verdictInsert:
			err = tx.Insert(ctx, userID, rec)
		case verdictWrite:
			err = tx.Update(ctx, userID, rec)
		}
		if err != nil {
			return Page{}, syncErrors.NewStorageError(syncErrors.OpPush, err)
		}
		applied++
	}

	if err := tx.Commit(); err != nil {
		return Page{}, syncErrors.NewStorageError(syncErrors.OpPush, err)
	}

	e.logger.DebugContext(ctx, "push batch reconciled",
		slog.String("client_id", req.ClientID),
		slog.Int("operations", len(req.Operations)),
		slog.Int("applied", applied),
	)

	page, err := e.store.FindAffectedAndConcurrent(ctx, userID, touched, batchBaseline(req))
	if err != nil {
		return Page{}, syncErrors.NewStorageError(syncErrors.OpPush, err)
	}
	return page, nil
}

func validatePush(userID string, req PushRequest) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if req.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if len(req.Operations) == 0 {
		return fmt.Errorf("push batch is empty")
	}
	if len(req.Operations) > MaxPushBatch {
		return fmt.Errorf("push batch has %d operations, maximum is %d", len(req.Operations), MaxPushBatch)
	}
	for i := range req.Operations {
		if err := req.Operations[i].Validate(); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return nil
}

// verdict is the outcome of classifying one operation.
type verdict int

const (
	verdictIgnore verdict = iota
	verdictInsert
	verdictWrite
)

// classify applies the last-write-wins rules for one operation against the
// record currently stored under the same key, if any. It returns the record
// to write (for insert and write verdicts) or nil for ignore.
//
// Ties keep the server state: an operation whose timestamp equals the
// stored one is ignored, which is what makes a replayed batch apply zero
// writes the second time.
func classify(op Operation, existing *SyncRecord) (*SyncRecord, verdict, error) {
	switch op.Type {
	case OpCreate:
		if existing == nil {
			return newRecord(op), verdictInsert, nil
		}
		if existing.Deleted() {
			if op.Timestamp.After(*existing.DeletedAt) {
				// revival: the create postdates the tombstone
				return applyUpdate(op, existing), verdictWrite, nil
			}
			return nil, verdictIgnore, nil
		}
		if op.Timestamp.After(existing.UpdatedAt) {
			// replayed create for a live record; newest wins
			return applyUpdate(op, existing), verdictWrite, nil
		}
		return nil, verdictIgnore, nil

	case OpUpdate:
		if existing == nil {
			return newRecord(op), verdictInsert, nil
		}
		if !op.Timestamp.After(existing.UpdatedAt) {
			return nil, verdictIgnore, nil
		}
		if existing.Deleted() && existing.DeletedAt.After(op.Timestamp) {
			// key was deleted after this update happened
			return nil, verdictIgnore, nil
		}
		return applyUpdate(op, existing), verdictWrite, nil

	case OpDelete:
		if existing == nil {
			return nil, verdictIgnore, nil
		}
		if existing.Deleted() && !op.Timestamp.After(*existing.DeletedAt) {
			return nil, verdictIgnore, nil
		}
		return applyDelete(op, existing), verdictWrite, nil

	default:
		return nil, verdictIgnore, fmt.Errorf("unknown operation type: %q", op.Type)
	}
}

func newRecord(op Operation) *SyncRecord {
	ts := op.Timestamp
	return &SyncRecord{
		Key:       op.Key,
		HashedKey: HashKey(op.Key),
		Entity:    op.Entity,
		OrgID:     op.OrgID,
		Data:      op.Data,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

// applyUpdate folds an accepted create/update into the existing record,
// clearing any tombstone. UpdatedAt never regresses.
func applyUpdate(op Operation, existing *SyncRecord) *SyncRecord {
	rec := existing.Clone()
	if op.Entity != "" {
		rec.Entity = op.Entity
	}
	if op.OrgID != nil {
		rec.OrgID = op.OrgID
	}
	if op.Data != nil {
		rec.Data = op.Data
	}
	rec.UpdatedAt = laterOf(op.Timestamp, existing.UpdatedAt)
	rec.DeletedAt = nil
	return rec
}

// applyDelete marks the record as a tombstone, clearing nothing else.
func applyDelete(op Operation, existing *SyncRecord) *SyncRecord {
	rec := existing.Clone()
	ts := op.Timestamp
	rec.DeletedAt = &ts
	rec.UpdatedAt = laterOf(ts, existing.UpdatedAt)
	return rec
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// batchBaseline is the cutoff for "concurrently changed" records in the
// push response: the client-supplied baseline when present, otherwise the
// earliest timestamp in the batch.
func batchBaseline(req PushRequest) time.Time {
	if req.Baseline != nil {
		return req.Baseline.UTC()
	}
	min := req.Operations[0].Timestamp
	for _, op := range req.Operations[1:] {
		if op.Timestamp.Before(min) {
			min = op.Timestamp
		}
	}
	return min
}
