package fanout

import (
	"log/slog"
	"sync"

	"github.com/c0deZ3R0/go-sync-server/logging"
)

// subscriberBuffer is the channel depth per live connection. A connection
// that falls further behind than this starts dropping notifications; the
// client catches up on its next pull.
const subscriberBuffer = 8

// Registry tracks the live connections of this process, keyed by user and
// client. Deliver fans a notification out to every connection of the user
// except the one that caused it.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]map[string]chan Notification
	logger *logging.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		users:  make(map[string]map[string]chan Notification),
		logger: logger.WithComponent(logging.Component("registry")),
	}
}

// Subscribe registers a connection and returns its notification channel plus
// a cancel func. A second subscription with the same clientID replaces the
// first; the replaced channel is closed. Cancel is idempotent and removes
// all registry state for the connection.
func (r *Registry) Subscribe(userID, clientID string) (<-chan Notification, func()) {
	ch := make(chan Notification, subscriberBuffer)

	r.mu.Lock()
	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[string]chan Notification)
		r.users[userID] = conns
	}
	if old, ok := conns[clientID]; ok {
		close(old)
	}
	conns[clientID] = ch
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			conns, ok := r.users[userID]
			if !ok {
				return
			}
			// The slot may already hold a replacement subscription.
			if conns[clientID] == ch {
				delete(conns, clientID)
				close(ch)
				if len(conns) == 0 {
					delete(r.users, userID)
				}
			}
		})
	}
	return ch, cancel
}

// Deliver sends the notification to every live connection of the user except
// exceptClientID. Sends never block: a full channel means the connection is
// not keeping up, and the notification is dropped for it.
func (r *Registry) Deliver(userID string, n Notification, exceptClientID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for clientID, ch := range r.users[userID] {
		if clientID == exceptClientID {
			continue
		}
		select {
		case ch <- n:
		default:
			r.logger.Warn("notification dropped for slow connection",
				slog.String("client_id", clientID),
			)
		}
	}
}

// Connections reports the number of live connections for the user.
func (r *Registry) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}
