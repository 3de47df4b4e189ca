package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_UniqueAndSortable(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]struct{}, 100)
	var prev string
	for i := 0; i < 100; i++ {
		id := gen()
		if len(id) != 36 {
			t.Fatalf("unexpected UUID length %d in %q", len(id), id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ID at iteration %d: %q", i, id)
		}
		seen[id] = struct{}{}
		if prev != "" && id < prev {
			t.Fatalf("IDs not time-sortable: %q < %q", id, prev)
		}
		prev = id
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("post_", UUIDv7())
	id := gen()
	if !strings.HasPrefix(id, "post_") {
		t.Fatalf("expected prefix 'post_', got %q", id)
	}
	if len(id) != len("post_")+36 {
		t.Fatalf("unexpected length %d for %q", len(id), id)
	}
}

func TestSequence_Deterministic(t *testing.T) {
	gen := Sequence("att_")
	for i, want := range []string{"att_0", "att_1", "att_2"} {
		if got := gen(); got != want {
			t.Fatalf("call %d: got %q, want %q", i, got, want)
		}
	}
}

func TestDefault_IsUUID(t *testing.T) {
	id := New()
	if len(id) != 36 || strings.Count(id, "-") != 4 {
		t.Fatalf("New did not produce a UUID: %q", id)
	}
}
