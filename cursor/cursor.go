// Package cursor defines the compound pull cursor used to resume an
// incremental pull. The cursor pairs the last seen update timestamp with the
// last seen record key; the same pair drives both the store query predicate
// and the value handed back to clients, so page boundaries stay stable even
// when many records share a timestamp.
package cursor

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Maximum allowed size for a wire cursor payload.
const maxWireSize = 8 * 1024 // 8 KB

// TimeKey is the compound pull cursor: records strictly after
// (UpdatedAt, Key) in lexicographic order belong to the next page.
type TimeKey struct {
	UpdatedAt time.Time
	Key       string
}

// Compare orders two cursors: UpdatedAt ascending, with Key breaking
// timestamp ties. Returns -1, 0, or 1.
func (c TimeKey) Compare(other TimeKey) int {
	if c.UpdatedAt.Before(other.UpdatedAt) {
		return -1
	}
	if c.UpdatedAt.After(other.UpdatedAt) {
		return 1
	}
	switch {
	case c.Key < other.Key:
		return -1
	case c.Key > other.Key:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether the cursor is the "from the beginning" marker.
func (c TimeKey) IsZero() bool {
	return c.UpdatedAt.IsZero() && c.Key == ""
}

// String renders the cursor for logs.
func (c TimeKey) String() string {
	if c.IsZero() {
		return "<zero>"
	}
	return fmt.Sprintf("%s/%s", c.UpdatedAt.UTC().Format(time.RFC3339Nano), c.Key)
}

// Wire is the JSON form of a cursor as it appears in pull envelopes:
// a nullable timestamp plus a nullable opaque key.
type Wire struct {
	UpdatedAt *time.Time `json:"updatedAt"`
	LastKey   *string    `json:"lastKey"`
}

// MarshalWire converts a cursor to its wire form. A zero cursor marshals to
// null fields, which clients treat as "pull from the beginning".
func MarshalWire(c TimeKey) Wire {
	if c.IsZero() {
		return Wire{}
	}
	ts := c.UpdatedAt.UTC()
	w := Wire{UpdatedAt: &ts}
	if c.Key != "" {
		key := c.Key
		w.LastKey = &key
	}
	return w
}

// UnmarshalWire parses the wire form back into a cursor.
func UnmarshalWire(w Wire) TimeKey {
	var c TimeKey
	if w.UpdatedAt != nil {
		c.UpdatedAt = w.UpdatedAt.UTC()
	}
	if w.LastKey != nil {
		c.Key = *w.LastKey
	}
	return c
}

// Parse builds a cursor from the flat query parameters clients send
// (an RFC3339 timestamp and an opaque last key, both optional). A last key
// without a timestamp is rejected: the pair is only meaningful together.
func Parse(updatedAt, lastKey string) (TimeKey, error) {
	var c TimeKey
	if updatedAt == "" {
		if lastKey != "" {
			return c, errors.New("lastKey supplied without updatedAt")
		}
		return c, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return c, fmt.Errorf("invalid updatedAt cursor %q: %w", updatedAt, err)
	}
	c.UpdatedAt = ts.UTC()
	c.Key = lastKey
	return c, nil
}

// ValidateWire rejects oversized or malformed raw cursor payloads before any
// parsing work happens.
func ValidateWire(raw []byte) error {
	if len(raw) > maxWireSize {
		return fmt.Errorf("cursor payload too large: %d bytes", len(raw))
	}
	if !json.Valid(raw) {
		return errors.New("cursor payload is not valid JSON")
	}
	return nil
}
