package syncserver

import (
	"encoding/json"
	"testing"
	"time"
)

var (
	t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
	t2 = t0.Add(2 * time.Minute)
)

func live(updatedAt time.Time) *SyncRecord {
	return &SyncRecord{
		Key:       "note-1",
		HashedKey: HashKey("note-1"),
		Entity:    "note",
		Data:      json.RawMessage(`{"v":1}`),
		CreatedAt: t0,
		UpdatedAt: updatedAt,
	}
}

func tombstone(updatedAt, deletedAt time.Time) *SyncRecord {
	rec := live(updatedAt)
	rec.DeletedAt = &deletedAt
	return rec
}

func op(typ OpType, ts time.Time) Operation {
	return Operation{
		Type:      typ,
		Key:       "note-1",
		Entity:    "note",
		Data:      json.RawMessage(`{"v":2}`),
		Timestamp: ts,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		op       Operation
		existing *SyncRecord
		want     verdict
	}{
		{
			name: "create into empty slot inserts",
			op:   op(OpCreate, t1),
			want: verdictInsert,
		},
		{
			name:     "newer create over live record wins",
			op:       op(OpCreate, t2),
			existing: live(t1),
			want:     verdictWrite,
		},
		{
			name:     "older create over live record is ignored",
			op:       op(OpCreate, t0),
			existing: live(t1),
			want:     verdictIgnore,
		},
		{
			name:     "create equal to stored timestamp is ignored",
			op:       op(OpCreate, t1),
			existing: live(t1),
			want:     verdictIgnore,
		},
		{
			name:     "create after tombstone revives",
			op:       op(OpCreate, t2),
			existing: tombstone(t1, t1),
			want:     verdictWrite,
		},
		{
			name:     "create before tombstone is ignored",
			op:       op(OpCreate, t0),
			existing: tombstone(t1, t1),
			want:     verdictIgnore,
		},
		{
			name: "update with no record inserts",
			op:   op(OpUpdate, t1),
			want: verdictInsert,
		},
		{
			name:     "newer update wins",
			op:       op(OpUpdate, t2),
			existing: live(t1),
			want:     verdictWrite,
		},
		{
			name:     "stale update is ignored",
			op:       op(OpUpdate, t0),
			existing: live(t1),
			want:     verdictIgnore,
		},
		{
			name:     "update older than tombstone is ignored",
			op:       op(OpUpdate, t1),
			existing: tombstone(t0, t2),
			want:     verdictIgnore,
		},
		{
			name: "delete with no record is ignored",
			op:   op(OpDelete, t1),
			want: verdictIgnore,
		},
		{
			name:     "delete over live record writes a tombstone",
			op:       op(OpDelete, t2),
			existing: live(t1),
			want:     verdictWrite,
		},
		{
			name:     "replayed delete is ignored",
			op:       op(OpDelete, t1),
			existing: tombstone(t1, t1),
			want:     verdictIgnore,
		},
		{
			name:     "newer delete advances the tombstone",
			op:       op(OpDelete, t2),
			existing: tombstone(t1, t1),
			want:     verdictWrite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, got, err := classify(tt.op, tt.existing)
			if err != nil {
				t.Fatalf("classify() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("classify() verdict = %v, want %v", got, tt.want)
			}
			if got == verdictIgnore {
				if rec != nil {
					t.Fatalf("classify() returned a record for an ignored operation")
				}
				return
			}
			if rec == nil {
				t.Fatalf("classify() returned no record for verdict %v", got)
			}
			if tt.op.Type == OpDelete {
				if rec.DeletedAt == nil || !rec.DeletedAt.Equal(tt.op.Timestamp) {
					t.Fatalf("delete verdict did not set DeletedAt to the operation timestamp")
				}
			} else if rec.DeletedAt != nil {
				t.Fatalf("accepted %s left a tombstone in place", tt.op.Type)
			}
		})
	}
}

func TestClassifyRevivalClearsTombstone(t *testing.T) {
	existing := tombstone(t1, t1)
	rec, v, err := classify(op(OpCreate, t2), existing)
	if err != nil {
		t.Fatalf("classify() error = %v", err)
	}
	if v != verdictWrite {
		t.Fatalf("verdict = %v, want write", v)
	}
	if rec.DeletedAt != nil {
		t.Fatal("revival did not clear DeletedAt")
	}
	if !rec.UpdatedAt.Equal(t2) {
		t.Fatalf("UpdatedAt = %v, want %v", rec.UpdatedAt, t2)
	}
	if !rec.CreatedAt.Equal(existing.CreatedAt) {
		t.Fatal("revival must keep the original CreatedAt")
	}
}

func TestClassifyUpdatedAtNeverRegresses(t *testing.T) {
	// A delete whose timestamp is older than the stored UpdatedAt still wins
	// against a live record, but must not move UpdatedAt backwards or the
	// tombstone could land behind a cursor that already passed.
	existing := live(t2)
	rec, v, err := classify(op(OpDelete, t1), existing)
	if err != nil {
		t.Fatalf("classify() error = %v", err)
	}
	if v != verdictWrite {
		t.Fatalf("verdict = %v, want write", v)
	}
	if !rec.UpdatedAt.Equal(t2) {
		t.Fatalf("UpdatedAt regressed to %v", rec.UpdatedAt)
	}
	if rec.DeletedAt == nil || !rec.DeletedAt.Equal(t1) {
		t.Fatalf("DeletedAt = %v, want %v", rec.DeletedAt, t1)
	}
}

func TestBatchBaseline(t *testing.T) {
	ops := []Operation{op(OpCreate, t2), op(OpUpdate, t0), op(OpDelete, t1)}

	got := batchBaseline(PushRequest{Operations: ops})
	if !got.Equal(t0) {
		t.Fatalf("batchBaseline() = %v, want earliest op timestamp %v", got, t0)
	}

	explicit := t1
	got = batchBaseline(PushRequest{Baseline: &explicit, Operations: ops})
	if !got.Equal(t1) {
		t.Fatalf("batchBaseline() = %v, want explicit baseline %v", got, t1)
	}
}

func TestValidatePush(t *testing.T) {
	valid := []Operation{op(OpCreate, t1)}

	if err := validatePush("", PushRequest{ClientID: "c", Operations: valid}); err == nil {
		t.Fatal("expected error for missing user id")
	}
	if err := validatePush("u", PushRequest{Operations: valid}); err == nil {
		t.Fatal("expected error for missing client id")
	}
	if err := validatePush("u", PushRequest{ClientID: "c"}); err == nil {
		t.Fatal("expected error for empty batch")
	}

	big := make([]Operation, MaxPushBatch+1)
	for i := range big {
		big[i] = op(OpCreate, t1)
	}
	if err := validatePush("u", PushRequest{ClientID: "c", Operations: big}); err == nil {
		t.Fatal("expected error for oversized batch")
	}

	if err := validatePush("u", PushRequest{ClientID: "c", Operations: valid}); err != nil {
		t.Fatalf("validatePush() unexpected error = %v", err)
	}
}
