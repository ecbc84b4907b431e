// Package sledkv adapts go.etcd.io/bbolt, an embedded ordered key-value
// store, to the engine.Engine contract — this module's equivalent of
// wrapping Rust's sled.
package sledkv

import (
	"time"

	"go.etcd.io/bbolt"

	"github.com/gtarraga/kvs/internal/engine"
	"github.com/gtarraga/kvs/internal/engine/kvserr"
)

var bucketName = []byte("kvs")

// shared is the reference-counted-by-pointer state behind every clone,
// matching kvs.Store's Clone shape: cloning copies a pointer, never the
// database handle.
type shared struct {
	db *bbolt.DB
}

// Store adapts a single bbolt database file to engine.Engine.
type Store struct {
	s *shared
}

var _ engine.Engine = (*Store)(nil)

// Open opens (creating if necessary) a bbolt database at path and
// ensures the single bucket this adapter uses exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, kvserr.Wrap(kvserr.IoError, "open sled database", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, kvserr.Wrap(kvserr.IoError, "create sled bucket", err)
	}

	return &Store{s: &shared{db: db}}, nil
}

// Clone returns a handle sharing this Store's database. Cheap: bbolt
// itself serializes writers internally via its own transaction lock,
// which is what backs the engine contract's concurrency guarantee here.
func (st *Store) Clone() engine.Engine {
	return &Store{s: st.s}
}

func (st *Store) Close() error {
	if err := st.s.db.Close(); err != nil {
		return kvserr.Wrap(kvserr.IoError, "close sled database", err)
	}
	return nil
}

// Set inserts key/value in an Update transaction, which bbolt commits
// (and syncs, absent NoSync) synchronously before returning — matching
// "flush on every mutation".
func (st *Store) Set(key, value string) error {
	err := st.s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return kvserr.Wrap(kvserr.IoError, "sled set", err)
	}
	return nil
}

// Get fetches key in a View transaction, copying the returned slice
// before the transaction ends — bbolt's byte slices are only valid
// within their transaction.
func (st *Store) Get(key string) (string, bool, error) {
	var value []byte
	err := st.s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return nil
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return "", false, kvserr.Wrap(kvserr.IoError, "sled get", err)
	}
	if value == nil {
		return "", false, nil
	}
	return string(value), true, nil
}

// Remove deletes key, returning kvserr.NotFound if it was absent —
// matching the log-structured engine's remove semantics exactly, per
// the spec's explicit resolution of this adapter's source ambiguity.
func (st *Store) Remove(key string) error {
	err := st.s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b.Get([]byte(key)) == nil {
			return kvserr.New(kvserr.NotFound, "key not found")
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return err
	}
	return nil
}
