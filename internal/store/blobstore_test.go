package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobs.db")
	bs := NewBlobStore(path)
	defer bs.Close()

	require.NoError(t, bs.Put("upload-1", []byte("hello world"), "a.txt", 11))

	blob, ok, err := bs.Get("upload-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello world"), blob)

	require.NoError(t, bs.Delete("upload-1"))
	_, ok, err = bs.Get("upload-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBlobStoreGetMissingReturnsNullSentinel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobs.db")
	bs := NewBlobStore(path)
	defer bs.Close()

	blob, ok, err := bs.Get("does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, blob)
}

func TestBlobStoreDeleteIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobs.db")
	bs := NewBlobStore(path)
	defer bs.Close()

	assert.NoError(t, bs.Delete("never-existed"))
	assert.NoError(t, bs.Delete("never-existed"))
}

func TestBlobStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobs.db")
	bs := NewBlobStore(path)
	defer bs.Close()

	require.NoError(t, bs.Put("a", []byte("1"), "a", 1))
	require.NoError(t, bs.Put("b", []byte("2"), "b", 1))
	require.NoError(t, bs.Clear())

	_, okA, _ := bs.Get("a")
	_, okB, _ := bs.Get("b")
	assert.False(t, okA)
	assert.False(t, okB)
}

func TestBlobStorePruneOlderThan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobs.db")
	bs := NewBlobStore(path)
	defer bs.Close()

	require.NoError(t, bs.Put("fresh", []byte("x"), "fresh.txt", 1))
	require.NoError(t, bs.PruneOlderThan(30))

	_, ok, err := bs.Get("fresh")
	require.NoError(t, err)
	assert.True(t, ok, "a blob created moments ago must survive a 30-day prune")
}

func TestBlobStoreConcurrentOpenReturnsSameDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobs.db")
	bs := NewBlobStore(path)
	defer bs.Close()

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(n int) {
			done <- bs.Put("k", []byte("v"), "f", 1)
		}(i)
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}

	blob, ok, err := bs.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), blob)
}
