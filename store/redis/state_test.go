package redis

import (
	"errors"
	"testing"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/state"
)

func TestDecodeEntry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		vals    []any
		wantRev uint64
		wantErr error
		anyErr  bool
	}{
		{"found", []any{`{"status":"PROCESSING","batchId":"b1","agentId":"a1","total":3}`, "7"}, 7, nil, false},
		{"missing", []any{nil, nil}, 0, broadcast.ErrNotFound, true},
		{"bad revision", []any{`{}`, "x"}, 0, nil, true},
		{"bad json", []any{`{`, "1"}, 0, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := decodeEntry("a1.b1", tt.vals)
			if tt.anyErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeEntry: %v", err)
			}
			if got.Revision != tt.wantRev {
				t.Errorf("revision = %d, want %d", got.Revision, tt.wantRev)
			}
			if got.Value.Status != state.StatusProcessing || got.Value.Total != 3 {
				t.Errorf("value = %+v", got.Value)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()
	if got := stateKey(state.Key("a1", "b1")); got != "broadcast:state:a1.b1" {
		t.Errorf("stateKey = %q", got)
	}
	if got := agentIndexKey("a1"); got != "broadcast:agent:a1" {
		t.Errorf("agentIndexKey = %q", got)
	}
}
