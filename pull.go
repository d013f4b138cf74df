package syncserver

import (
	"context"
	"fmt"
	"log/slog"

	syncErrors "github.com/c0deZ3R0/go-sync-server/errors"
	"github.com/c0deZ3R0/go-sync-server/logging"
)

// Puller serves incremental, cursor-paginated reads of a user's records.
// Repeatedly pulling with the returned cursor until HasMore is false yields
// the complete, non-overlapping record set.
type Puller struct {
	store  SyncStore
	logger *logging.Logger
}

// NewPuller creates a pull service over the given store.
func NewPuller(store SyncStore, logger *logging.Logger) *Puller {
	if logger == nil {
		logger = logging.Default()
	}
	return &Puller{
		store:  store,
		logger: logger.WithComponent(logging.Component("pull")),
	}
}

// Pull returns one page of records strictly after q.Cursor. The limit is
// clamped to the allowed range before the store is queried.
func (p *Puller) Pull(ctx context.Context, userID string, q PullQuery) (Page, error) {
	if userID == "" {
		return Page{}, syncErrors.NewValidationError(syncErrors.OpPull, fmt.Errorf("user id is required"))
	}
	q.Limit = ClampLimit(q.Limit)

	page, err := p.store.FindByUpdatedAt(ctx, userID, q)
	if err != nil {
		return Page{}, syncErrors.NewStorageError(syncErrors.OpPull, err)
	}

	p.logger.DebugContext(ctx, "pull page served",
		slog.Int("records", len(page.Records)),
		slog.Bool("has_more", page.HasMore),
		slog.String("cursor", q.Cursor.String()),
	)
	return page, nil
}
