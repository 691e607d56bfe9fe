// Package store provides the engine's durable persistence: a keyed binary
// BlobStore for file handles and a MetaStore for UploadRecords, each
// backed by its own bbolt database via dbHandle.
package store

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/singleflight"

	"github.com/auriora/uploadengine/pkg/errors"
	"github.com/auriora/uploadengine/pkg/logging"
)

var (
	bucketBlobs     = []byte("blobs")
	bucketBlobIndex = []byte("blobindex")
	bucketUploads   = []byte("uploads")
	bucketMeta      = []byte("meta")
)

const metaKeyVersion = "version"

// dbHandle lazily opens (or reuses) the bbolt database at path. Concurrent
// callers racing to open the same path await the same pending open via a
// singleflight.Group, satisfying spec.md §4.1's "concurrent callers await
// the same pending open".
type dbHandle struct {
	mu    sync.Mutex
	path  string
	db    *bolt.DB
	group singleflight.Group
}

func newDBHandle(path string) *dbHandle {
	return &dbHandle{path: path}
}

func (h *dbHandle) open() (*bolt.DB, error) {
	h.mu.Lock()
	if h.db != nil {
		db := h.db
		h.mu.Unlock()
		return db, nil
	}
	h.mu.Unlock()

	v, err, _ := h.group.Do("open", func() (interface{}, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.db != nil {
			return h.db, nil
		}
		if dir := filepath.Dir(h.path); dir != "." {
			if mkErr := os.MkdirAll(dir, 0700); mkErr != nil {
				return nil, errors.Wrap(mkErr, "creating store directory")
			}
		}
		db, openErr := bolt.Open(h.path, 0600, &bolt.Options{Timeout: 5 * time.Second})
		if openErr != nil {
			return nil, errors.Wrap(openErr, "opening bbolt database")
		}
		h.db = db
		logging.Info().Str("path", h.path).Msg("opened persistence database")
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*bolt.DB), nil
}

func (h *dbHandle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}
