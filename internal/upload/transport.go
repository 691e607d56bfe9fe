package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/auriora/uploadengine/pkg/errors"
	"github.com/auriora/uploadengine/pkg/logging"
	"github.com/auriora/uploadengine/pkg/retry"
)

// HTTPClient is the seam TransportClient calls through, matching the
// teacher's SetHTTPClient/getSharedHTTPClient pattern in pkg/graph so tests
// can install a mock transport without a live server.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// InitiateResponse is the server's reply to POST /initiate (spec.md §4.4).
type InitiateResponse struct {
	UploadID    string `json:"uploadId"`
	S3Key       string `json:"s3Key,omitempty"`
	ChunkSize   int    `json:"chunkSize,omitempty"`
	TotalChunks int    `json:"totalChunks,omitempty"`
}

// StatusResponse is the server's reply to GET /{id}/status (spec.md §6).
type StatusResponse struct {
	Status         string `json:"status"`
	UploadedChunks []int  `json:"uploadedChunks"`
}

// TransportClient is the thin HTTP boundary to the upload backend
// (spec.md §4.4), grounded on pkg/graph's Request/executeRequest wrapper:
// every call goes through retry.DoWithResult, typed errors are constructed from the
// response status, and the underlying *http.Client can be swapped for a
// mock in tests.
type TransportClient struct {
	baseURL        string
	client         HTTPClient
	requestTimeout time.Duration
	chunkTimeout   time.Duration
	retryConfig    retry.Config
}

// NewTransportClient returns a TransportClient pointed at baseURL (default
// http://localhost:4000/api/uploads per spec.md §4.4). The shared client
// carries no Timeout of its own: http.Client.Timeout bounds a request
// regardless of context, which would silently cap every per-call
// context.WithTimeout (chunkTimeout included) at whichever is shorter.
// Each call site's own context deadline (requestTimeout or chunkTimeout)
// is the sole timeout authority.
func NewTransportClient(baseURL string, requestTimeout, chunkTimeout time.Duration, retryConfig retry.Config) *TransportClient {
	return &TransportClient{
		baseURL:        baseURL,
		client:         &http.Client{},
		requestTimeout: requestTimeout,
		chunkTimeout:   chunkTimeout,
		retryConfig:    retryConfig,
	}
}

// SetHTTPClient installs a custom HTTP client, the same mock-transport seam
// as pkg/graph.SetHTTPClient.
func (t *TransportClient) SetHTTPClient(client HTTPClient) {
	t.client = client
}

func (t *TransportClient) do(ctx context.Context, req *http.Request) ([]byte, error) {
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := t.client.Do(req.WithContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewNetworkError("upload request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}

	if resp.StatusCode >= 300 {
		msg := fmt.Sprintf("upload server returned HTTP %d", resp.StatusCode)
		return nil, errors.NewErrorForStatusCode(resp.StatusCode, msg, nil)
	}

	return body, nil
}

// withRetry wraps op per spec.md §4.3: runs op, retries on a retryable
// error with full-jitter backoff, else returns the error immediately.
func (t *TransportClient) withRetry(ctx context.Context, op func() ([]byte, error)) ([]byte, error) {
	return retry.DoWithResult(ctx, op, t.retryConfig)
}

// Initiate registers a new upload with the server (POST /initiate).
func (t *TransportClient) Initiate(ctx context.Context, filename, filetype string, filesize int64) (*InitiateResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()

	payload, err := json.Marshal(struct {
		Filename string `json:"filename"`
		Filetype string `json:"filetype"`
		Filesize int64  `json:"filesize"`
	}{filename, filetype, filesize})
	if err != nil {
		return nil, errors.Wrap(err, "encoding initiate request")
	}

	body, err := t.withRetry(ctx, func() ([]byte, error) {
		req, err := http.NewRequest(http.MethodPost, t.baseURL+"/initiate", bytes.NewReader(payload))
		if err != nil {
			return nil, errors.Wrap(err, "building initiate request")
		}
		req.Header.Set("Content-Type", "application/json")
		return t.do(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	var out InitiateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(err, "decoding initiate response")
	}
	return &out, nil
}

// UploadChunk posts one chunk as a multipart body with fields chunk,
// chunkIndex, totalChunks (spec.md §4.4), grounded on
// other_examples/perkeep's multipart.Writer chunk framing.
func (t *TransportClient) UploadChunk(ctx context.Context, id string, idx, total int, blob []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.chunkTimeout)
	defer cancel()

	_, err := t.withRetry(ctx, func() ([]byte, error) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)

		if err := writer.WriteField("chunkIndex", strconv.Itoa(idx)); err != nil {
			return nil, errors.Wrap(err, "writing chunkIndex field")
		}
		if err := writer.WriteField("totalChunks", strconv.Itoa(total)); err != nil {
			return nil, errors.Wrap(err, "writing totalChunks field")
		}
		part, err := writer.CreateFormFile("chunk", fmt.Sprintf("chunk-%d", idx))
		if err != nil {
			return nil, errors.Wrap(err, "creating chunk form part")
		}
		if _, err := part.Write(blob); err != nil {
			return nil, errors.Wrap(err, "writing chunk bytes")
		}
		if err := writer.Close(); err != nil {
			return nil, errors.Wrap(err, "closing multipart writer")
		}

		req, err := http.NewRequest(http.MethodPost, t.baseURL+"/"+id+"/chunk", &buf)
		if err != nil {
			return nil, errors.Wrap(err, "building chunk request")
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return t.do(ctx, req)
	})
	return err
}

// Complete posts POST /{id}/complete.
func (t *TransportClient) Complete(ctx context.Context, id string) error {
	return t.simplePost(ctx, "/"+id+"/complete")
}

// Pause posts POST /{id}/pause (best-effort; caller tolerates failure).
func (t *TransportClient) Pause(ctx context.Context, id string) error {
	return t.simplePost(ctx, "/"+id+"/pause")
}

// Resume posts POST /{id}/resume.
func (t *TransportClient) Resume(ctx context.Context, id string) error {
	return t.simplePost(ctx, "/"+id+"/resume")
}

func (t *TransportClient) simplePost(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()

	_, err := t.withRetry(ctx, func() ([]byte, error) {
		req, err := http.NewRequest(http.MethodPost, t.baseURL+path, nil)
		if err != nil {
			return nil, errors.Wrap(err, "building request")
		}
		return t.do(ctx, req)
	})
	return err
}

// Status fetches GET /{id}/status, the sole authority permitted to shrink
// uploadedChunks (spec.md §5).
func (t *TransportClient) Status(ctx context.Context, id string) (*StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()

	body, err := t.withRetry(ctx, func() ([]byte, error) {
		req, err := http.NewRequest(http.MethodGet, t.baseURL+"/"+id+"/status", nil)
		if err != nil {
			return nil, errors.Wrap(err, "building status request")
		}
		return t.do(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	var out StatusResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(err, "decoding status response")
	}
	return &out, nil
}

// Cancel sends DELETE /{id}.
func (t *TransportClient) Cancel(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()

	_, err := t.withRetry(ctx, func() ([]byte, error) {
		req, err := http.NewRequest(http.MethodDelete, t.baseURL+"/"+id, nil)
		if err != nil {
			return nil, errors.Wrap(err, "building cancel request")
		}
		return t.do(ctx, req)
	})
	if err != nil {
		logging.Warn().Err(err).Str("uploadId", id).Msg("server-side cancel failed; local state removed regardless")
	}
	return err
}
