package delivery

import (
	"path/filepath"
	"testing"
)

func TestLoadStableIDPersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity", "stable_id")
	first, err := LoadStableID(path)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if first == "" {
		t.Fatal("empty stable id")
	}
	second, err := LoadStableID(path)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if second != first {
		t.Fatalf("stable id changed across loads: %q vs %q", first, second)
	}
}

func TestIdentityMapLearnAndResolve(t *testing.T) {
	m := NewIdentityMap()
	if !m.Learn("alice", "A1") {
		t.Fatal("first learn should report a change")
	}
	if m.Learn("alice", "A1") {
		t.Fatal("repeat learn should not report a change")
	}
	if id, ok := m.Resolve("alice"); !ok || id != "A1" {
		t.Fatalf("resolve failed: %q %v", id, ok)
	}
	if _, ok := m.Resolve("bob"); ok {
		t.Fatal("resolved an unknown session")
	}
	m.Learn("bob", "B1")
	if m.LastLearned() != "B1" {
		t.Fatalf("last learned = %q", m.LastLearned())
	}
	if session, ok := m.SessionFor("A1"); !ok || session != "alice" {
		t.Fatalf("reverse lookup failed: %q %v", session, ok)
	}
}

func TestIdentityMapClearOnTeardown(t *testing.T) {
	m := NewIdentityMap()
	m.Learn("alice", "A1")
	m.Clear()
	if _, ok := m.Resolve("alice"); ok {
		t.Fatal("mapping survived session teardown")
	}
	if m.LastLearned() != "" {
		t.Fatal("last learned survived session teardown")
	}
}

func TestIdentityMapSessionReuseOverwrites(t *testing.T) {
	// A session name reappearing may be a different physical device.
	m := NewIdentityMap()
	m.Learn("alice", "A1")
	if !m.Learn("alice", "A2") {
		t.Fatal("relearn with new id should report a change")
	}
	if id, _ := m.Resolve("alice"); id != "A2" {
		t.Fatalf("stale mapping kept: %q", id)
	}
}
