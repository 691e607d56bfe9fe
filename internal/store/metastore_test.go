package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetaStore(t *testing.T) *MetaStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meta.db")
	ms := NewMetaStore(path)
	t.Cleanup(func() { _ = ms.Close() })
	return ms
}

func TestMetaStoreAddAndGetUpload(t *testing.T) {
	ms := newTestMetaStore(t)
	record := NewUploadRecord("temp_1", "a.bin", "application/octet-stream", 12*1024*1024, DefaultChunkSize)

	require.NoError(t, ms.Add(record))

	got, ok := ms.GetUpload("temp_1")
	require.True(t, ok)
	assert.Equal(t, "a.bin", got.Filename)
	assert.Equal(t, 3, got.TotalChunks)
}

func TestMetaStoreUpdateProgressRecomputesAuthoritatively(t *testing.T) {
	ms := newTestMetaStore(t)
	record := NewUploadRecord("u1", "a.bin", "application/octet-stream", 12*1024*1024, DefaultChunkSize)
	require.NoError(t, ms.Add(record))

	require.NoError(t, ms.UpdateProgress("u1", []int{0, 1}))

	got, _ := ms.GetUpload("u1")
	assert.Equal(t, int64(10*1024*1024), got.UploadedBytes)
	assert.InDelta(t, 83.33, got.Progress, 0.1)
}

func TestMetaStoreRemoveDeletesRecord(t *testing.T) {
	ms := newTestMetaStore(t)
	record := NewUploadRecord("u1", "a.bin", "text/plain", 10, DefaultChunkSize)
	require.NoError(t, ms.Add(record))
	require.NoError(t, ms.Remove("u1"))

	_, ok := ms.GetUpload("u1")
	assert.False(t, ok)
}

func TestMetaStoreGetActiveUploadsExcludesTerminal(t *testing.T) {
	ms := newTestMetaStore(t)
	active := NewUploadRecord("u1", "a.bin", "text/plain", 10, DefaultChunkSize)
	active.Status = StatusUploading
	done := NewUploadRecord("u2", "b.bin", "text/plain", 10, DefaultChunkSize)
	done.Status = StatusCompleted

	require.NoError(t, ms.Add(active))
	require.NoError(t, ms.Add(done))

	got := ms.GetActiveUploads()
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UploadID)
}

func TestMetaStoreClearStaleUploadsRemovesFailedAndCanceled(t *testing.T) {
	ms := newTestMetaStore(t)

	failed := NewUploadRecord("u1", "a.bin", "text/plain", 10, DefaultChunkSize)
	failed.Status = StatusFailed
	canceled := NewUploadRecord("u2", "a.bin", "text/plain", 10, DefaultChunkSize)
	canceled.Status = StatusCanceled
	completed := NewUploadRecord("u3", "a.bin", "text/plain", 10, DefaultChunkSize)
	completed.Status = StatusCompleted
	active := NewUploadRecord("u4", "a.bin", "text/plain", 10, DefaultChunkSize)
	active.Status = StatusPending

	for _, r := range []*UploadRecord{failed, canceled, completed, active} {
		require.NoError(t, ms.Add(r))
	}

	require.NoError(t, ms.ClearStaleUploads("a.bin", 10))

	_, ok1 := ms.GetUpload("u1")
	_, ok2 := ms.GetUpload("u2")
	_, ok3 := ms.GetUpload("u3")
	_, ok4 := ms.GetUpload("u4")
	assert.False(t, ok1)
	assert.False(t, ok2)
	assert.True(t, ok3, "COMPLETED records under 24h old are not stale")
	assert.True(t, ok4, "PENDING records under 24h old are not stale")
}

func TestMetaStoreClearStaleUploadsRemovesOldRecordsRegardlessOfStatus(t *testing.T) {
	ms := newTestMetaStore(t)
	old := NewUploadRecord("u1", "a.bin", "text/plain", 10, DefaultChunkSize)
	old.Status = StatusPending
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, ms.Add(old))

	require.NoError(t, ms.ClearStaleUploads("a.bin", 10))

	_, ok := ms.GetUpload("u1")
	assert.False(t, ok)
}

func TestMetaStoreRehydrateRestoresRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")
	ms1 := NewMetaStore(path)
	record := NewUploadRecord("u1", "a.bin", "text/plain", 10, DefaultChunkSize)
	require.NoError(t, ms1.Add(record))
	require.NoError(t, ms1.Close())

	ms2 := NewMetaStore(path)
	defer ms2.Close()
	require.NoError(t, ms2.Rehydrate())

	got, ok := ms2.GetUpload("u1")
	require.True(t, ok)
	assert.Equal(t, "a.bin", got.Filename)
}

func TestMetaStoreResumingGuardIsExclusive(t *testing.T) {
	ms := newTestMetaStore(t)

	require.True(t, ms.TryBeginResuming())
	assert.False(t, ms.TryBeginResuming(), "a second acquire must fail while the first is held")

	ms.EndResuming()
	assert.True(t, ms.TryBeginResuming(), "releasing must allow a new acquire")
}

func TestMetaStoreSubscribeReceivesChangeEvents(t *testing.T) {
	ms := newTestMetaStore(t)
	ch, unsubscribe := ms.Subscribe()
	defer unsubscribe()

	record := NewUploadRecord("u1", "a.bin", "text/plain", 10, DefaultChunkSize)
	require.NoError(t, ms.Add(record))

	select {
	case ev := <-ch:
		assert.Equal(t, "u1", ev.UploadID)
		require.NotNil(t, ev.Record)
	case <-time.After(time.Second):
		t.Fatal("expected a change event after Add")
	}
}
