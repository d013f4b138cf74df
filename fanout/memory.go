package fanout

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBus is an in-process Bus for single-process deployments and tests.
// Publish invokes every subscribed handler synchronously.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

// Compile-time interface check.
var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Publish delivers the event to all handlers registered so far.
func (b *MemoryBus) Publish(ctx context.Context, ev ChangeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	for _, h := range b.handlers {
		h(ev)
	}
	return nil
}

// Subscribe registers a handler for future events.
func (b *MemoryBus) Subscribe(ctx context.Context, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	b.handlers = append(b.handlers, h)
	return nil
}

// Close drops all handlers. Further publishes and subscribes fail.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = nil
	return nil
}
