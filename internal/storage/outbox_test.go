package storage

import (
	"path/filepath"
	"testing"
	"time"

	"dual-chat/internal/message"
)

func openTestOutbox(t *testing.T) *OutboxStore {
	t.Helper()
	store, err := OpenOutbox(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestInsertDedupsOnSenderAndLocalID(t *testing.T) {
	store := openTestOutbox(t)
	msg := message.New("A1", "B1", "hi")
	if err := store.Insert(msg); err != nil {
		t.Fatalf("insert: %v", err)
	}
	retry := msg
	retry.Text = "hi (retried)"
	if err := store.Insert(retry); err != nil {
		t.Fatalf("retry insert: %v", err)
	}
	rows, err := store.FetchAll()
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after duplicate insert, got %d", len(rows))
	}
	if rows[0].Text != "hi" {
		t.Fatalf("duplicate insert overwrote original: %q", rows[0].Text)
	}
}

func TestFetchAllNewestFirst(t *testing.T) {
	store := openTestOutbox(t)
	base := time.Now()
	for i, text := range []string{"first", "second", "third"} {
		msg := message.New("A1", "B1", text)
		msg.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := store.Insert(msg); err != nil {
			t.Fatalf("insert %q: %v", text, err)
		}
	}
	rows, err := store.FetchAll()
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].Text != "third" || rows[2].Text != "first" {
		t.Fatalf("rows not newest-first: %q %q %q", rows[0].Text, rows[1].Text, rows[2].Text)
	}
}

func TestDeleteByID(t *testing.T) {
	store := openTestOutbox(t)
	keep := message.New("A1", "B1", "keep")
	drop := message.New("A1", "B1", "drop")
	for _, msg := range []message.Message{keep, drop} {
		if err := store.Insert(msg); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := store.DeleteByID(drop.LocalID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Deleting an absent id is not an error.
	if err := store.DeleteByID(drop.LocalID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	rows, _ := store.FetchAll()
	if len(rows) != 1 || rows[0].LocalID != keep.LocalID {
		t.Fatalf("unexpected rows after delete: %+v", rows)
	}
}

func TestUpdateRewritesReceiverWithoutDuplicating(t *testing.T) {
	store := openTestOutbox(t)
	msg := message.New("A1", "", "hi")
	if err := store.Insert(msg); err != nil {
		t.Fatalf("insert: %v", err)
	}
	msg.ReceiverID = "B1"
	if err := store.Update(msg); err != nil {
		t.Fatalf("update: %v", err)
	}
	rows, _ := store.FetchAll()
	if len(rows) != 1 {
		t.Fatalf("update duplicated row: %d rows", len(rows))
	}
	if rows[0].ReceiverID != "B1" {
		t.Fatalf("receiver not rewritten: %q", rows[0].ReceiverID)
	}
}

func TestClearAllAndLen(t *testing.T) {
	store := openTestOutbox(t)
	for i := 0; i < 3; i++ {
		if err := store.Insert(message.New("A1", "B1", "x")); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if n, _ := store.Len(); n != 3 {
		t.Fatalf("expected 3 queued, got %d", n)
	}
	if err := store.ClearAll(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, _ := store.Len(); n != 0 {
		t.Fatalf("expected empty store, got %d", n)
	}
}

func TestNilStoreIsSafe(t *testing.T) {
	var store *OutboxStore
	if err := store.Insert(message.New("A1", "B1", "hi")); err != ErrUnavailable {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if rows, err := store.FetchAll(); err != nil || rows != nil {
		t.Fatalf("nil fetch should be empty: %v %v", rows, err)
	}
}
