package id

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewIsUUIDAndUnique(t *testing.T) {
	a, b := New(), New()
	for _, v := range []string{a, b} {
		parsed, err := uuid.Parse(v)
		if err != nil {
			t.Fatalf("parse %q: %v", v, err)
		}
		if parsed.Version() != 4 {
			t.Fatalf("expected version 4, got %d", parsed.Version())
		}
	}
	if a == b {
		t.Fatal("expected distinct ids")
	}
}
