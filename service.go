package syncserver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	syncErrors "github.com/c0deZ3R0/go-sync-server/errors"
	"github.com/c0deZ3R0/go-sync-server/fanout"
	"github.com/c0deZ3R0/go-sync-server/logging"
)

// Service ties the reconciliation engine, the pull service, and the change
// fanout together. A committed push is published on the bus; every process
// subscribed to the bus forwards the event to its local connection registry,
// which notifies the user's other live connections so they re-pull.
type Service struct {
	store    SyncStore
	engine   *Engine
	puller   *Puller
	bus      fanout.Bus
	registry *fanout.Registry
	logger   *logging.Logger

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewService wires a store and a fanout bus into a ready-to-serve sync
// service. Call Start to begin receiving cross-process change events.
func NewService(store SyncStore, bus fanout.Bus, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:    store,
		engine:   NewEngine(store, logger),
		puller:   NewPuller(store, logger),
		bus:      bus,
		registry: fanout.NewRegistry(logger),
		logger:   logger.WithComponent(logging.Component("service")),
	}
}

// Start subscribes the local connection registry to the change bus. Events
// published by any process (this one included) are delivered to every live
// connection of the affected user except the originator.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return syncErrors.New(syncErrors.OpSubscribe, fmt.Errorf("service is closed"))
	}
	if s.started {
		return syncErrors.New(syncErrors.OpSubscribe, fmt.Errorf("service already started"))
	}

	err := s.bus.Subscribe(ctx, func(ev fanout.ChangeEvent) {
		s.registry.Deliver(ev.UserID, fanout.Notification{ChangedKeys: ev.ChangedKeys}, ev.OriginClientID)
	})
	if err != nil {
		return syncErrors.NewWithComponent(syncErrors.OpSubscribe, "fanout", err)
	}
	s.started = true
	return nil
}

// Push reconciles one batch and, on success, publishes the affected keys on
// the bus. Publish failures are logged, never surfaced to the pusher: the
// batch is already durable and peers recover via their next pull.
func (s *Service) Push(ctx context.Context, userID string, req PushRequest) (Page, error) {
	page, err := s.engine.Push(ctx, userID, req)
	if err != nil {
		return Page{}, err
	}

	ev := fanout.ChangeEvent{
		UserID:         userID,
		OriginClientID: req.ClientID,
		ChangedKeys:    operationKeys(req.Operations),
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.LogError(ctx, err, "change publish failed",
			slog.String("client_id", req.ClientID),
			slog.Int("keys", len(ev.ChangedKeys)),
		)
	}
	return page, nil
}

// Pull serves one incremental page for the user.
func (s *Service) Pull(ctx context.Context, userID string, q PullQuery) (Page, error) {
	return s.puller.Pull(ctx, userID, q)
}

// Subscribe registers a live connection for the user and returns its
// notification channel plus a cancel func the transport must call when the
// underlying connection closes.
func (s *Service) Subscribe(userID, clientID string) (<-chan fanout.Notification, func(), error) {
	if userID == "" || clientID == "" {
		return nil, nil, syncErrors.NewValidationError(syncErrors.OpSubscribe, fmt.Errorf("user id and client id are required"))
	}
	ch, cancel := s.registry.Subscribe(userID, clientID)
	return ch, cancel, nil
}

// Close shuts down the bus and the store.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.bus.Close(); err != nil {
		errs = append(errs, syncErrors.NewWithComponent(syncErrors.OpClose, "fanout", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, syncErrors.NewWithComponent(syncErrors.OpClose, "store", err))
	}
	if len(errs) > 0 {
		return syncErrors.New(syncErrors.OpClose, fmt.Errorf("multiple close errors: %v", errs))
	}
	return nil
}

// operationKeys collects the distinct record keys of a batch, preserving
// submission order.
func operationKeys(ops []Operation) []string {
	keys := make([]string, 0, len(ops))
	seen := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		if _, ok := seen[op.Key]; ok {
			continue
		}
		seen[op.Key] = struct{}{}
		keys = append(keys, op.Key)
	}
	return keys
}
