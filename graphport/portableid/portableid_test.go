package portableid

import (
	"errors"
	"testing"

	"github.com/arthur-debert/graphport/types"
)

func TestHashIsDeterministic(t *testing.T) {
	first := Hash("node", "5")
	for i := 0; i < 3; i++ {
		if got := Hash("node", "5"); got != first {
			t.Fatalf("Hash changed between calls: %s != %s", got, first)
		}
	}
	if len(first) != Length {
		t.Errorf("len = %d, want %d", len(first), Length)
	}
	// Archives produced by earlier versions depend on this exact value.
	if first != "e9b7e91bf8d8a042eff348a1f9dbb7d0" {
		t.Errorf("Hash(node, 5) = %s", first)
	}
}

func TestHashSeparatesTypeAndID(t *testing.T) {
	tests := []struct {
		name string
		a, b [2]string
	}{
		{"different type", [2]string{"node", "5"}, [2]string{"file", "5"}},
		{"different id", [2]string{"node", "5"}, [2]string{"node", "6"}},
		{"shifted separator", [2]string{"node:1", "2"}, [2]string{"node", "1:2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Hash(tt.a[0], tt.a[1]) == Hash(tt.b[0], tt.b[1]) {
				t.Errorf("expected different identifiers for %v and %v", tt.a, tt.b)
			}
		})
	}
}

func TestRegistryDetectsCollisions(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Hash("node", "5"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Hash("node", "5"); err != nil {
		t.Fatalf("rehashing the same entity must succeed: %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	// Force a collision by planting another owner for the identifier.
	r.issued[Hash("file", "9")] = types.NodeRef{Type: "node", ID: "other"}
	_, err := r.Hash("file", "9")
	if !errors.Is(err, types.ErrHashCollision) {
		t.Errorf("expected ErrHashCollision, got %v", err)
	}
}
