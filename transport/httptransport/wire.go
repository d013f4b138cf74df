package httptransport

import (
	"time"

	syncserver "github.com/c0deZ3R0/go-sync-server"
	"github.com/c0deZ3R0/go-sync-server/cursor"
)

// pushEnvelope is the request body of POST /sync/push. The optional
// updatedAt is the client's last known sync point; the response then also
// covers records other devices changed after it.
type pushEnvelope struct {
	ClientID   string                 `json:"clientId"`
	Baseline   *time.Time             `json:"updatedAt,omitempty"`
	Operations []syncserver.Operation `json:"operations"`
}

// pageEnvelope is the response body of both push and pull: the records, a
// continuation flag, and the flattened resume cursor.
type pageEnvelope struct {
	Records []syncserver.SyncRecord `json:"records"`
	HasMore bool                    `json:"hasMore"`

	// Resume cursor; both fields are null when the store is empty and the
	// client pulled from the beginning.
	UpdatedAt *time.Time `json:"updatedAt"`
	LastKey   *string    `json:"lastKey"`
}

func toPageEnvelope(page syncserver.Page) pageEnvelope {
	wire := cursor.MarshalWire(page.Next)
	env := pageEnvelope{
		Records:   page.Records,
		HasMore:   page.HasMore,
		UpdatedAt: wire.UpdatedAt,
		LastKey:   wire.LastKey,
	}
	if env.Records == nil {
		env.Records = []syncserver.SyncRecord{}
	}
	return env
}
