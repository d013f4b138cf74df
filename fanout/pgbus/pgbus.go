// Package pgbus implements the fanout bus on PostgreSQL LISTEN/NOTIFY, so
// multiple server processes sharing one database also share change events
// without extra infrastructure.
package pgbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/c0deZ3R0/go-sync-server/fanout"
	"github.com/c0deZ3R0/go-sync-server/logging"
)

// channel is the NOTIFY channel all sync processes share. Postgres fans each
// notification out to every listening connection, which gives the broadcast
// semantics the bus contract requires.
const channel = "sync_changes"

// Config holds pgbus configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string, also used for
	// the dedicated LISTEN connection.
	ConnectionString string

	// ReconnectInterval is the minimum backoff between reconnect attempts
	// of the LISTEN connection.
	ReconnectInterval time.Duration

	// NotificationTimeout is the maximum backoff between reconnect attempts.
	NotificationTimeout time.Duration

	// PingInterval is how often the idle LISTEN connection is pinged to
	// detect silent drops.
	PingInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = 5 * time.Second
	}
	if c.NotificationTimeout == 0 {
		c.NotificationTimeout = 30 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 90 * time.Second
	}
}

// Bus publishes change events with pg_notify and receives them on a
// dedicated pq.Listener connection.
type Bus struct {
	db       *sql.DB
	ownsDB   bool
	listener *pq.Listener
	logger   *logging.Logger

	mu       sync.RWMutex
	handlers []fanout.Handler

	closed int32 // atomic
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ fanout.Bus = (*Bus)(nil)

// New creates a Postgres-backed bus. It opens its own database handle for
// publishing; use NewWithDB to share one with a store.
func New(config *Config, logger *logging.Logger) (*Bus, error) {
	if config == nil || config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string cannot be empty")
	}
	db, err := sql.Open("postgres", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	b, err := newBus(db, config, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	b.ownsDB = true
	return b, nil
}

// NewWithDB creates a Postgres-backed bus that publishes through an existing
// database handle. The handle is not closed by Close.
func NewWithDB(db *sql.DB, config *Config, logger *logging.Logger) (*Bus, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle cannot be nil")
	}
	if config == nil || config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string cannot be empty")
	}
	return newBus(db, config, logger)
}

func newBus(db *sql.DB, config *Config, logger *logging.Logger) (*Bus, error) {
	config.setDefaults()
	if logger == nil {
		logger = logging.Default()
	}

	b := &Bus{
		db:     db,
		logger: logger.WithComponent(logging.Component("pgbus")),
		done:   make(chan struct{}),
	}
	b.listener = pq.NewListener(
		config.ConnectionString,
		config.ReconnectInterval,
		config.NotificationTimeout,
		b.listenerEvent,
	)
	if err := b.listener.Listen(channel); err != nil {
		b.listener.Close()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", channel, err)
	}

	b.wg.Add(1)
	go b.receiveLoop(config.PingInterval)
	return b, nil
}

func (b *Bus) listenerEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		b.logger.Info("connected to postgres for listen/notify")
	case pq.ListenerEventDisconnected:
		b.logger.Warn("disconnected from postgres", slog.Any("error", err))
	case pq.ListenerEventReconnected:
		// pq re-issues LISTEN for registered channels on reconnect.
		b.logger.Info("reconnected to postgres")
	case pq.ListenerEventConnectionAttemptFailed:
		b.logger.Warn("postgres connection attempt failed", slog.Any("error", err))
	}
}

// Publish broadcasts the event via pg_notify. The payload is the JSON-encoded
// event; Postgres limits notification payloads to 8000 bytes, which key lists
// stay well under because batches are bounded.
func (b *Bus) Publish(ctx context.Context, ev fanout.ChangeEvent) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return fmt.Errorf("bus is closed")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, string(payload)); err != nil {
		return fmt.Errorf("failed to notify: %w", err)
	}
	return nil
}

// Subscribe registers a handler for all future events.
func (b *Bus) Subscribe(ctx context.Context, h fanout.Handler) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return fmt.Errorf("bus is closed")
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
	return nil
}

// receiveLoop drains the listener until Close.
func (b *Bus) receiveLoop(pingInterval time.Duration) {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case n := <-b.listener.Notify:
			// A nil notification signals a reconnect; events sent while
			// disconnected are lost, which the pull path tolerates.
			if n != nil {
				b.dispatch(n.Extra)
			}
		case <-time.After(pingInterval):
			go func() {
				if err := b.listener.Ping(); err != nil {
					b.logger.Warn("listener ping failed", slog.Any("error", err))
				}
			}()
		}
	}
}

func (b *Bus) dispatch(payload string) {
	var ev fanout.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		b.logger.Warn("discarding malformed notification payload", slog.Any("error", err))
		return
	}

	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Close stops the receive loop and closes the listener. The publish handle
// is closed only if this bus opened it.
func (b *Bus) Close() error {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return nil
	}
	close(b.done)
	b.wg.Wait()

	err := b.listener.Close()
	if b.ownsDB {
		if dbErr := b.db.Close(); err == nil {
			err = dbErr
		}
	}
	return err
}
