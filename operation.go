package syncserver

import (
	"encoding/json"
	"fmt"
	"time"
)

// OpType discriminates the three mutation variants a client may push.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Operation is one client-submitted mutation. The wire form carries the
// client clock reading in a field named after the variant (createdAt for
// creates, updatedAt for updates, deletedAt for deletes); decoding folds
// whichever is present into Timestamp so the engine can match exhaustively
// on Type without per-variant field juggling.
type Operation struct {
	Type   OpType
	Key    string
	Entity string
	OrgID  *string
	Data   json.RawMessage

	// Timestamp is the client clock reading appropriate to Type.
	Timestamp time.Time
}

// wireOperation is the JSON shape clients submit.
type wireOperation struct {
	Type      OpType          `json:"type"`
	Key       string          `json:"key"`
	Entity    string          `json:"entity,omitempty"`
	OrgID     *string         `json:"orgId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt *time.Time      `json:"createdAt,omitempty"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
	DeletedAt *time.Time      `json:"deletedAt,omitempty"`
}

func (o *Operation) UnmarshalJSON(data []byte) error {
	var w wireOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	o.Type = w.Type
	o.Key = w.Key
	o.Entity = w.Entity
	o.OrgID = w.OrgID
	o.Data = w.Data

	var ts *time.Time
	switch w.Type {
	case OpCreate:
		ts = w.CreatedAt
	case OpUpdate:
		ts = w.UpdatedAt
	case OpDelete:
		ts = w.DeletedAt
	default:
		return fmt.Errorf("unknown operation type: %q", w.Type)
	}
	if ts == nil {
		return fmt.Errorf("operation %q for key %q is missing its timestamp", w.Type, w.Key)
	}
	o.Timestamp = ts.UTC()
	return nil
}

func (o Operation) MarshalJSON() ([]byte, error) {
	w := wireOperation{
		Type:   o.Type,
		Key:    o.Key,
		Entity: o.Entity,
		OrgID:  o.OrgID,
		Data:   o.Data,
	}
	ts := o.Timestamp
	switch o.Type {
	case OpCreate:
		w.CreatedAt = &ts
	case OpUpdate:
		w.UpdatedAt = &ts
	case OpDelete:
		w.DeletedAt = &ts
	default:
		return nil, fmt.Errorf("unknown operation type: %q", o.Type)
	}
	return json.Marshal(w)
}

// Validate checks the invariants that hold for every variant.
func (o *Operation) Validate() error {
	switch o.Type {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("unknown operation type: %q", o.Type)
	}
	if o.Key == "" {
		return fmt.Errorf("operation %q is missing a key", o.Type)
	}
	if o.Timestamp.IsZero() {
		return fmt.Errorf("operation %q for key %q has a zero timestamp", o.Type, o.Key)
	}
	return nil
}
