// Package syncserver implements multi-device synchronization of per-user
// key/value records: a reconciliation engine that merges client-pushed
// mutations using last-write-wins timestamps (including tombstones and
// revival), cursor-paginated incremental pulls, and change fanout that
// notifies a user's other live connections across server processes.
package syncserver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// SyncRecord is a user-owned, versioned key/value item tracked for
// multi-device synchronization. Data is an opaque payload whose schema is
// owned by the caller; the server never inspects it.
//
// A non-nil DeletedAt marks the record as a tombstone. Tombstones keep
// their row (and payload metadata) so that a deletion stays distinguishable
// from plain absence when later operations for the same key are merged.
type SyncRecord struct {
	// ID is the server-assigned row identity. It never leaves the server;
	// clients address records by Key only.
	ID string `json:"-"`

	// Key is the client-generated identifier, unique per user.
	Key string `json:"key"`

	// HashedKey is the deterministic derivation of Key kept for
	// backward-compatible lookups by an older client generation.
	HashedKey string `json:"hashedKey"`

	// Entity names the logical record type ("note", "contact", ...).
	Entity string `json:"entity"`

	// OrgID is an optional context tag supplied by the caller.
	OrgID *string `json:"orgId"`

	Data json.RawMessage `json:"data"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt"`
}

// Deleted reports whether the record is a tombstone.
func (r *SyncRecord) Deleted() bool { return r.DeletedAt != nil }

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate shared state through a returned record.
func (r *SyncRecord) Clone() *SyncRecord {
	cp := *r
	if r.OrgID != nil {
		v := *r.OrgID
		cp.OrgID = &v
	}
	if r.DeletedAt != nil {
		v := *r.DeletedAt
		cp.DeletedAt = &v
	}
	if r.Data != nil {
		cp.Data = append(json.RawMessage(nil), r.Data...)
	}
	return &cp
}

// HashKey derives the backward-compatible hashed form of a record key.
// The hash is computed server-side on every write and stored alongside the
// raw key so lookups by either form resolve to the same row.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
