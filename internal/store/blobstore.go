package store

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/auriora/uploadengine/pkg/errors"
	"github.com/auriora/uploadengine/pkg/logging"
)

// blobIndexEntry is the secondary-index record kept alongside each blob,
// mirroring the teacher's LoopbackCache LRU entry but keyed on the fields
// spec.md §6 names: filename, filesize, createdAt.
type blobIndexEntry struct {
	Filename  string    `json:"filename"`
	Filesize  int64     `json:"filesize"`
	CreatedAt time.Time `json:"createdAt"`
}

// BlobStore is a durable key->binary store for file handles that must
// survive process restart (spec.md §4.1). It is backed by a bbolt database,
// opened lazily and memoized so concurrent callers await the same pending
// open.
type BlobStore struct {
	handle *dbHandle
}

// NewBlobStore returns a BlobStore backed by the bbolt database at path.
// The database file is not opened until the first operation.
func NewBlobStore(path string) *BlobStore {
	return &BlobStore{handle: newDBHandle(path)}
}

// Put writes or overwrites the blob under key, recording filename/filesize
// for later pruning. Fails only on a backend/quota error.
func (s *BlobStore) Put(key string, blob []byte, filename string, filesize int64) error {
	db, err := s.handle.open()
	if err != nil {
		return err
	}

	idx := blobIndexEntry{Filename: filename, Filesize: filesize, CreatedAt: time.Now().UTC()}
	idxBytes, err := json.Marshal(idx)
	if err != nil {
		return errors.Wrap(err, "encoding blob index entry")
	}

	return db.Update(func(tx *bolt.Tx) error {
		blobs, err := tx.CreateBucketIfNotExists(bucketBlobs)
		if err != nil {
			return err
		}
		if err := blobs.Put([]byte(key), blob); err != nil {
			return err
		}
		index, err := tx.CreateBucketIfNotExists(bucketBlobIndex)
		if err != nil {
			return err
		}
		return index.Put([]byte(key), idxBytes)
	})
}

// Get returns the blob stored under key. ok is false if absent (the "null
// sentinel" of spec.md §4.1).
func (s *BlobStore) Get(key string) (blob []byte, ok bool, err error) {
	db, err := s.handle.open()
	if err != nil {
		return nil, false, err
	}

	err = db.View(func(tx *bolt.Tx) error {
		blobs := tx.Bucket(bucketBlobs)
		if blobs == nil {
			return nil
		}
		v := blobs.Get([]byte(key))
		if v == nil {
			return nil
		}
		blob = make([]byte, len(v))
		copy(blob, v)
		ok = true
		return nil
	})
	return blob, ok, err
}

// Delete removes the blob and its index entry. Idempotent.
func (s *BlobStore) Delete(key string) error {
	db, err := s.handle.open()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		if blobs := tx.Bucket(bucketBlobs); blobs != nil {
			if err := blobs.Delete([]byte(key)); err != nil {
				return err
			}
		}
		if index := tx.Bucket(bucketBlobIndex); index != nil {
			if err := index.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear wipes all blobs and their index entries. Idempotent.
func (s *BlobStore) Clear() error {
	db, err := s.handle.open()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBlobs, bucketBlobIndex} {
			if tx.Bucket(bucket) != nil {
				if err := tx.DeleteBucket(bucket); err != nil {
					return err
				}
			}
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}

// PruneOlderThan removes blobs whose index entry predates now-days.
func (s *BlobStore) PruneOlderThan(days int) error {
	db, err := s.handle.open()
	if err != nil {
		return err
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	return db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketBlobIndex)
		if index == nil {
			return nil
		}
		blobs, err := tx.CreateBucketIfNotExists(bucketBlobs)
		if err != nil {
			return err
		}

		var staleKeys [][]byte
		err = index.ForEach(func(k, v []byte) error {
			var entry blobIndexEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				logging.Warn().Err(err).Str("key", string(k)).Msg("dropping unreadable blob index entry during prune")
				staleKeys = append(staleKeys, append([]byte(nil), k...))
				return nil
			}
			if entry.CreatedAt.Before(cutoff) {
				staleKeys = append(staleKeys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range staleKeys {
			if err := blobs.Delete(k); err != nil {
				return err
			}
			if err := index.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the underlying bbolt database handle.
func (s *BlobStore) Close() error {
	return s.handle.close()
}
