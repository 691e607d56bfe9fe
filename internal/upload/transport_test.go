package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auriora/uploadengine/pkg/errors"
	"github.com/auriora/uploadengine/pkg/retry"
)

// roundTripFunc lets a test install a one-off HTTPClient without a live
// server, the same mock-transport seam pkg/graph's tests use.
type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, body any) *http.Response {
	data, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}

func noRetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = 0
	return cfg
}

func newTestTransport(t *testing.T, handler roundTripFunc) *TransportClient {
	t.Helper()
	tc := NewTransportClient("http://upload.test/api/uploads", time.Second, time.Second, noRetryConfig())
	tc.SetHTTPClient(handler)
	return tc
}

func TestTransportInitiateDecodesResponse(t *testing.T) {
	tc := newTestTransport(t, func(req *http.Request) (*http.Response, error) {
		assert.True(t, strings.HasSuffix(req.URL.Path, "/initiate"))
		assert.Equal(t, http.MethodPost, req.Method)
		return jsonResponse(http.StatusOK, InitiateResponse{UploadID: "srv_1", ChunkSize: 1024, TotalChunks: 4}), nil
	})

	resp, err := tc.Initiate(context.Background(), "a.bin", "application/octet-stream", 4096)
	require.NoError(t, err)
	assert.Equal(t, "srv_1", resp.UploadID)
	assert.Equal(t, 4, resp.TotalChunks)
}

func TestTransportUploadChunkSendsMultipartFields(t *testing.T) {
	var gotChunkIndex, gotTotal string
	var gotBytes []byte

	tc := newTestTransport(t, func(req *http.Request) (*http.Response, error) {
		require.NoError(t, req.ParseMultipartForm(1<<20))
		gotChunkIndex = req.FormValue("chunkIndex")
		gotTotal = req.FormValue("totalChunks")
		file, _, err := req.FormFile("chunk")
		require.NoError(t, err)
		gotBytes, _ = io.ReadAll(file)
		return jsonResponse(http.StatusOK, map[string]string{"status": "ok"}), nil
	})

	err := tc.UploadChunk(context.Background(), "srv_1", 2, 4, []byte("chunk-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "2", gotChunkIndex)
	assert.Equal(t, "4", gotTotal)
	assert.Equal(t, []byte("chunk-bytes"), gotBytes)
}

func TestTransportStatusDecodesUploadedChunks(t *testing.T) {
	tc := newTestTransport(t, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodGet, req.Method)
		return jsonResponse(http.StatusOK, StatusResponse{Status: "uploading", UploadedChunks: []int{0, 1, 2}}), nil
	})

	resp, err := tc.Status(context.Background(), "srv_1")
	require.NoError(t, err)
	assert.Equal(t, "uploading", resp.Status)
	assert.Equal(t, []int{0, 1, 2}, resp.UploadedChunks)
}

func TestTransportNonOKStatusProducesTypedError(t *testing.T) {
	tc := newTestTransport(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, map[string]string{"error": "not found"}), nil
	})

	_, err := tc.Status(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestTransportCompletePauseResumeCancelPostCorrectPaths(t *testing.T) {
	var gotPath, gotMethod string
	tc := newTestTransport(t, func(req *http.Request) (*http.Response, error) {
		gotPath = req.URL.Path
		gotMethod = req.Method
		return jsonResponse(http.StatusOK, map[string]string{"status": "ok"}), nil
	})

	require.NoError(t, tc.Complete(context.Background(), "id1"))
	assert.True(t, strings.HasSuffix(gotPath, "/id1/complete"))
	assert.Equal(t, http.MethodPost, gotMethod)

	require.NoError(t, tc.Pause(context.Background(), "id1"))
	assert.True(t, strings.HasSuffix(gotPath, "/id1/pause"))

	require.NoError(t, tc.Resume(context.Background(), "id1"))
	assert.True(t, strings.HasSuffix(gotPath, "/id1/resume"))

	require.NoError(t, tc.Cancel(context.Background(), "id1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.True(t, strings.HasSuffix(gotPath, "/id1"))
}
