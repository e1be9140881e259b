package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"dual-chat/internal/message"
)

const inboxBucket = "inbox"

// ErrUnavailable reports a persistence backend that never opened or has been
// closed. Callers log it and continue in memory.
var ErrUnavailable = errors.New("storage: backend unavailable")

// InboxStore persists received chat so the backlog survives restarts. Only
// messages whose sender resolved to a stable id are appended; history is never
// attributed to "unknown".
type InboxStore struct {
	db *bbolt.DB
}

// OpenInbox opens (or creates) the inbox db at path.
func OpenInbox(path string) (*InboxStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(inboxBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &InboxStore{db: db}, nil
}

func (s *InboxStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append stores a received message keyed by arrival time.
func (s *InboxStore) Append(msg message.Message) error {
	if s == nil || s.db == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(inboxBucket))
		key := []byte(fmt.Sprintf("%020d-%s", msg.CreatedAt.UnixNano(), msg.LocalID))
		return bucket.Put(key, data)
	})
}

// Recent returns up to limit messages, newest first.
func (s *InboxStore) Recent(limit int) ([]message.Message, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		return nil, nil
	}
	var out []message.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(inboxBucket))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil && limit > 0; k, v = cursor.Prev() {
			var msg message.Message
			if err := json.Unmarshal(v, &msg); err == nil {
				out = append(out, msg)
			}
			limit--
		}
		return nil
	})
	return out, err
}
