// Package kvstore is the bbolt-backed implementation of the substrate's
// metadata key-value store (api.KVClient).
//
// bbolt is chosen because it is:
//   - Pure Go (no CGO, no external process)
//   - ACID — checkpointed segment metadata is always consistent after a crash
//   - Single file inside the data directory
//   - Well-maintained (used by etcd in production)
//
// A remote substrate provides its own KVClient; this one backs the local
// substrate and the test suite. Segment metadata blobs (pkg/segmeta) are
// its primary payload.
package kvstore

import (
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/snehjoshi/estream/pkg/api"
	"github.com/snehjoshi/estream/pkg/future"
)

var bucketKV = []byte("kv") // bucket name inside bbolt

// Store implements api.KVClient on a single bbolt bucket.
// All methods are safe for concurrent use; bbolt serialises writers.
type Store struct {
	db *bbolt.DB
}

// Ensure Store satisfies the contract at compile time.
var _ api.KVClient = (*Store)(nil)

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	opts := &bbolt.Options{Timeout: 0} // non-blocking open
	db, err := bbolt.Open(path, 0o640, opts)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kvstore: init bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// PutKV upserts every entry in one transaction.
func (s *Store) PutKV(kvs []api.KeyValue) *future.Future[api.Void] {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketKV)
		for _, kv := range kvs {
			if err := b.Put([]byte(kv.Key), kv.Value); err != nil {
				return fmt.Errorf("put %q: %w", kv.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return future.Failed[api.Void](fmt.Errorf("kvstore: %w", err))
	}
	return future.Completed(api.Void{})
}

// GetKV returns one KeyValue per requested key, in request order.
// Missing keys come back with a nil Value.
func (s *Store) GetKV(keys []string) *future.Future[[]api.KeyValue] {
	out := make([]api.KeyValue, len(keys))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketKV)
		for i, key := range keys {
			out[i] = api.KeyValue{Key: key}
			if v := b.Get([]byte(key)); v != nil {
				// bbolt's value is only valid inside the transaction.
				val := make([]byte, len(v))
				copy(val, v)
				out[i].Value = val
			}
		}
		return nil
	})
	if err != nil {
		return future.Failed[[]api.KeyValue](fmt.Errorf("kvstore: get: %w", err))
	}
	return future.Completed(out)
}

// DelKV removes the given keys. Missing keys are ignored.
func (s *Store) DelKV(keys []string) *future.Future[api.Void] {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketKV)
		for _, key := range keys {
			if err := b.Delete([]byte(key)); err != nil {
				return fmt.Errorf("delete %q: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return future.Failed[api.Void](fmt.Errorf("kvstore: %w", err))
	}
	return future.Completed(api.Void{})
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}
