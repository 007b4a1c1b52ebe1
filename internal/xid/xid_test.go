package xid

import (
	"strings"
	"testing"
)

func TestNewCarriesPrefixAndIsUnique(t *testing.T) {
	a := New("audit")
	b := New("audit")
	if a == b {
		t.Fatalf("expected unique ids, got %q twice", a)
	}
	raw, ok := strings.CutPrefix(a, "audit-")
	if !ok {
		t.Fatalf("expected %q to start with audit-", a)
	}
	if len(raw) != 32 || strings.Contains(raw, "-") {
		t.Fatalf("expected 32 hex characters after the prefix, got %q", raw)
	}
	if got := New(""); len(got) != 32 {
		t.Fatalf("expected bare id without prefix, got %q", got)
	}
}
