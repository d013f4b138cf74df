// Package fanout distributes change notifications from committed pushes to
// the live connections of the affected user. A Bus carries events between
// processes; each process's Registry delivers them to its local connections.
package fanout

import "context"

// ChangeEvent is published on the bus after a push batch commits. It names
// the changed keys but never carries record data; receivers pull the
// authoritative state themselves.
type ChangeEvent struct {
	UserID         string   `json:"userId"`
	OriginClientID string   `json:"originClientId,omitempty"`
	ChangedKeys    []string `json:"changedKeys"`
}

// Notification is what a subscribed connection receives. It is a hint to
// pull, not a data carrier.
type Notification struct {
	ChangedKeys []string `json:"changedKeys"`
}

// Handler consumes change events from a bus subscription.
type Handler func(ev ChangeEvent)

// Bus is the cross-process broadcast channel for change events. Every
// subscribed process receives every published event, the publishing process
// included. Delivery is best-effort: a lost event costs latency, not
// correctness, because clients reconcile on their next pull.
type Bus interface {
	// Publish broadcasts one event to all subscribed processes.
	Publish(ctx context.Context, ev ChangeEvent) error

	// Subscribe registers the handler for all future events. The handler is
	// invoked from the bus's receive goroutine and must not block.
	Subscribe(ctx context.Context, h Handler) error

	Close() error
}
