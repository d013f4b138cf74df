// Package kafkabus implements the fanout bus on a Kafka topic for
// deployments that already run Kafka and want change events to survive
// broker restarts.
//
// Each process consumes with its own unique group ID, so every process
// receives every event: the topic is used as a broadcast channel, not a work
// queue.
package kafkabus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/c0deZ3R0/go-sync-server/fanout"
	"github.com/c0deZ3R0/go-sync-server/logging"
)

// Config holds kafkabus configuration.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string

	// Topic is the change event topic. It should exist before the server
	// starts; auto-creation depends on broker configuration.
	Topic string

	// BatchTimeout bounds how long the writer buffers before flushing.
	BatchTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Topic == "" {
		c.Topic = "sync-changes"
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 50 * time.Millisecond
	}
}

// Bus publishes change events to a Kafka topic and consumes them with a
// per-process consumer group.
type Bus struct {
	writer *kafka.Writer
	reader *kafka.Reader
	logger *logging.Logger

	mu       sync.RWMutex
	handlers []fanout.Handler

	closed int32 // atomic
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ fanout.Bus = (*Bus)(nil)

// New creates a Kafka-backed bus and starts consuming immediately, from the
// end of the topic: a freshly started process cares about new changes only.
func New(config *Config, logger *logging.Logger) (*Bus, error) {
	if config == nil || len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	config.setDefaults()
	if logger == nil {
		logger = logging.Default()
	}

	b := &Bus{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(config.Brokers...),
			Topic:        config.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: config.BatchTimeout,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     config.Brokers,
			Topic:       config.Topic,
			GroupID:     "sync-server-" + uuid.New().String(),
			StartOffset: kafka.LastOffset,
		}),
		logger: logger.WithComponent(logging.Component("kafkabus")),
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go b.receiveLoop(ctx)
	return b, nil
}

// Publish writes the event to the topic, keyed by user so one user's events
// stay ordered within a partition.
func (b *Bus) Publish(ctx context.Context, ev fanout.ChangeEvent) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return fmt.Errorf("bus is closed")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}
	err = b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to write change event: %w", err)
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

func (b *Bus) receiveLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		msg, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			b.logger.Warn("kafka read failed", slog.Any("error", err))
			continue
		}

		var ev fanout.ChangeEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			b.logger.Warn("discarding malformed change message", slog.Any("error", err))
			continue
		}

		b.mu.RLock()
		handlers := b.handlers
		b.mu.RUnlock()
		for _, h := range handlers {
			h(ev)
		}
	}
}

// Close stops the consumer and flushes the writer.
func (b *Bus) Close() error {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return nil
	}
	b.cancel()

	var errs []error
	if err := b.reader.Close(); err != nil {
		errs = append(errs, err)
	}
	b.wg.Wait()
	if err := b.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
