package upload

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auriora/uploadengine/internal/store"
)

func newTestFacade(t *testing.T, chunkSize int) (*Facade, *fakeServer) {
	t.Helper()
	engine, meta, _, srv := newTestEngine(t, chunkSize)
	supervisor := NewSupervisor(meta, engine, true, time.Second)
	return NewFacade(meta, engine, supervisor), srv
}

func TestFacadeAddUploadRejectsInvalidInput(t *testing.T) {
	facade, _ := newTestFacade(t, 4)

	_, err := facade.AddUpload(context.Background(), "", "text/plain", []byte("data"))
	require.Error(t, err)

	_, err = facade.AddUpload(context.Background(), "a.bin", "text/plain", nil)
	require.Error(t, err)
}

func TestFacadeFullLifecycle(t *testing.T) {
	facade, srv := newTestFacade(t, 4)

	id, err := facade.AddUpload(context.Background(), "lifecycle.bin", "application/octet-stream", []byte("01234567"))
	require.NoError(t, err)

	require.NoError(t, facade.StartUpload(context.Background(), id))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := facade.GetUpload(id); ok && r.Status == store.StatusCompleted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	record, ok := facade.GetUpload(id)
	require.True(t, ok)
	assert.Equal(t, store.StatusCompleted, record.Status)
	assert.True(t, srv.completed[id])
}

func TestFacadeRejectsOperationsOnEmptyID(t *testing.T) {
	facade, _ := newTestFacade(t, 4)

	assert.Error(t, facade.StartUpload(context.Background(), ""))
	assert.Error(t, facade.PauseUpload(context.Background(), ""))
}

func TestFacadeRejectsRoundTripOperationsOnTempID(t *testing.T) {
	facade, _ := newTestFacade(t, 4)
	tempID := "temp_neverAcknowledged"

	assert.Error(t, facade.PauseUpload(context.Background(), tempID))
	assert.Error(t, facade.ResumeUpload(context.Background(), tempID))
	assert.Error(t, facade.CancelUpload(context.Background(), tempID))
	assert.Error(t, facade.RemoveUpload(context.Background(), tempID))
}

func TestFacadeSetConnectivityTogglesUIState(t *testing.T) {
	facade, _ := newTestFacade(t, 4)

	facade.SetConnectivity(context.Background(), false)
	assert.True(t, facade.UIState().IsOffline)

	facade.SetConnectivity(context.Background(), true)
	assert.False(t, facade.UIState().IsOffline)
}

func TestFacadeSubscribeReceivesEvents(t *testing.T) {
	facade, _ := newTestFacade(t, 4)
	ch, unsubscribe := facade.Subscribe()
	defer unsubscribe()

	_, err := facade.AddUpload(context.Background(), filepath.Base("watch.bin"), "text/plain", []byte("0123"))
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.NotEmpty(t, ev.UploadID)
	case <-time.After(time.Second):
		t.Fatal("expected a change event")
	}
}
