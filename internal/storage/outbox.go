package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"dual-chat/internal/message"
)

const outboxBucket = "outbox"

// OutboxStore is the durable table of outbound messages awaiting delivery
// confirmation. Rows are keyed by (senderId, localId) so retried sends of the
// same logical message never duplicate. All methods are nil-receiver safe so a
// peer can keep running when the backing db failed to open.
type OutboxStore struct {
	db *bbolt.DB
}

// OpenOutbox opens (or creates) the outbox db at path.
func OpenOutbox(path string) (*OutboxStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(outboxBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &OutboxStore{db: db}, nil
}

func (s *OutboxStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert queues a message. Inserting an already-present (senderId, localId)
// pair is a no-op.
func (s *OutboxStore) Insert(msg message.Message) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(outboxBucket))
		key := []byte(msg.DedupKey())
		if bucket.Get(key) != nil {
			return nil
		}
		return bucket.Put(key, data)
	})
}

// Update rewrites a queued row in place, used when replay resolves a
// previously unknown receiver. The key is unchanged so no duplicate appears.
func (s *OutboxStore) Update(msg message.Message) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(outboxBucket)).Put([]byte(msg.DedupKey()), data)
	})
}

// FetchAll returns a snapshot of the queue, newest first. Callers iterate the
// snapshot while mutating the store underneath.
func (s *OutboxStore) FetchAll() ([]message.Message, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var out []message.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(outboxBucket))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, v []byte) error {
			var msg message.Message
			if err := json.Unmarshal(v, &msg); err == nil {
				out = append(out, msg)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteByID removes the row carrying localID, if present.
func (s *OutboxStore) DeleteByID(localID string) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	if localID == "" {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(outboxBucket))
		var victims [][]byte
		err := bucket.ForEach(func(k, _ []byte) error {
			if strings.HasSuffix(string(k), "|"+localID) {
				key := make([]byte, len(k))
				copy(key, k)
				victims = append(victims, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range victims {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearAll drops every queued message.
func (s *OutboxStore) ClearAll() error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(outboxBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(outboxBucket))
		return err
	})
}

// Len reports the number of queued rows.
func (s *OutboxStore) Len() (int, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		if bucket := tx.Bucket([]byte(outboxBucket)); bucket != nil {
			count = bucket.Stats().KeyN
		}
		return nil
	})
	return count, err
}
