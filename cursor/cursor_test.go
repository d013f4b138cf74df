package cursor

import (
	"testing"
	"time"
)

var ts = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b TimeKey
		want int
	}{
		{
			name: "equal",
			a:    TimeKey{UpdatedAt: ts, Key: "k"},
			b:    TimeKey{UpdatedAt: ts, Key: "k"},
			want: 0,
		},
		{
			name: "earlier timestamp sorts first",
			a:    TimeKey{UpdatedAt: ts, Key: "z"},
			b:    TimeKey{UpdatedAt: ts.Add(time.Second), Key: "a"},
			want: -1,
		},
		{
			name: "key breaks timestamp ties",
			a:    TimeKey{UpdatedAt: ts, Key: "a"},
			b:    TimeKey{UpdatedAt: ts, Key: "b"},
			want: -1,
		},
		{
			name: "later timestamp sorts last",
			a:    TimeKey{UpdatedAt: ts.Add(time.Second)},
			b:    TimeKey{UpdatedAt: ts},
			want: 1,
		},
		{
			name: "zero cursor precedes everything",
			a:    TimeKey{},
			b:    TimeKey{UpdatedAt: ts},
			want: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare() = %d, want %d", got, tt.want)
			}
			if got := tt.b.Compare(tt.a); got != -tt.want {
				t.Errorf("reverse Compare() = %d, want %d", got, -tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		updatedAt string
		lastKey   string
		want      TimeKey
		wantErr   bool
	}{
		{
			name: "both empty yields zero cursor",
			want: TimeKey{},
		},
		{
			name:      "timestamp only",
			updatedAt: "2025-06-01T12:00:00Z",
			want:      TimeKey{UpdatedAt: ts},
		},
		{
			name:      "timestamp and key",
			updatedAt: "2025-06-01T12:00:00Z",
			lastKey:   "note-7",
			want:      TimeKey{UpdatedAt: ts, Key: "note-7"},
		},
		{
			name:    "key without timestamp is rejected",
			lastKey: "note-7",
			wantErr: true,
		},
		{
			name:      "garbage timestamp is rejected",
			updatedAt: "yesterday",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.updatedAt, tt.lastKey)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Compare(tt.want) != 0 {
				t.Errorf("Parse() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWireRoundTrip(t *testing.T) {
	c := TimeKey{UpdatedAt: ts, Key: "note-7"}
	got := UnmarshalWire(MarshalWire(c))
	if got.Compare(c) != 0 {
		t.Errorf("round trip = %v, want %v", got, c)
	}
}

func TestZeroCursorMarshalsToNullFields(t *testing.T) {
	w := MarshalWire(TimeKey{})
	if w.UpdatedAt != nil || w.LastKey != nil {
		t.Errorf("zero cursor marshaled to %+v, want null fields", w)
	}
	if !UnmarshalWire(w).IsZero() {
		t.Error("null wire fields did not unmarshal to the zero cursor")
	}
}

func TestValidateWire(t *testing.T) {
	if err := ValidateWire([]byte(`{"updatedAt":null,"lastKey":null}`)); err != nil {
		t.Errorf("ValidateWire() rejected a valid payload: %v", err)
	}
	if err := ValidateWire([]byte(`{"updatedAt":`)); err == nil {
		t.Error("ValidateWire() accepted truncated JSON")
	}
	big := make([]byte, maxWireSize+1)
	for i := range big {
		big[i] = 'a'
	}
	if err := ValidateWire(big); err == nil {
		t.Error("ValidateWire() accepted an oversized payload")
	}
}
