package relayserver

import (
	"testing"
	"time"
)

func TestRegistryTouchAndRemove(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.Touch("alice")
	r.Touch("bob")
	r.Touch("alice")
	got := r.Online()
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("unexpected online set: %v", got)
	}
	r.Remove("alice")
	got = r.Online()
	if len(got) != 1 || got[0] != "bob" {
		t.Fatalf("expected only bob, got %v", got)
	}
}

func TestRegistryExpiresStaleEntries(t *testing.T) {
	r := NewRegistry(10 * time.Millisecond)
	r.Touch("alice")
	time.Sleep(20 * time.Millisecond)
	if got := r.Online(); len(got) != 0 {
		t.Fatalf("expected expiry, got %v", got)
	}
}

func TestRegistryZeroExpiryNeverPrunes(t *testing.T) {
	r := NewRegistry(0)
	r.Touch("alice")
	if got := r.Online(); len(got) != 1 {
		t.Fatalf("expected alice retained, got %v", got)
	}
}
