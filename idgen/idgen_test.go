package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	if len(id) != 36 || len(strings.Split(id, "-")) != 5 {
		t.Fatalf("not a UUID: %q", id)
	}
	if id[14] != '7' {
		t.Fatalf("version nibble = %c, want 7", id[14])
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for range 100 {
		id := gen()
		if id <= prev {
			t.Fatalf("not increasing: %s <= %s", id, prev)
		}
		prev = id
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("run_", UUIDv7())()
	if !strings.HasPrefix(id, "run_") || len(id) != 40 {
		t.Fatalf("got %q", id)
	}
}
