// Package upload implements the per-upload state machine and chunk loop
// (UploadEngine), the process-wide orchestration (Supervisor), and the
// stable API surface (Facade) described by the resumable upload engine
// specification.
package upload

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/xid"

	"github.com/auriora/uploadengine/internal/store"
	"github.com/auriora/uploadengine/pkg/errors"
	"github.com/auriora/uploadengine/pkg/logging"
)

// Engine is the per-upload state machine and chunk loop (spec.md §4.5). It
// consumes MetaStore, BlobStore, and a TransportClient, mirroring the
// teacher's UploadSession/UploadManager split but collapsed into one type
// since this port has no FUSE inode layer sitting above it.
type Engine struct {
	meta      *store.MetaStore
	blobs     *store.BlobStore
	transport *TransportClient

	loopsMu sync.Mutex
	loops   map[string]context.CancelFunc // uploadId -> running chunk loop canceler

	// Admission control bounding concurrent chunk loops to MaxConcurrentUploads,
	// grounded on the teacher's UploadManager highPriorityQueue/lowPriorityQueue:
	// a slot that frees up is handed directly to a waiting high-priority
	// request before any low-priority one, so user-initiated uploads (start,
	// reconnect-resume) are never starved by a large batch of background
	// auto-resumes queued at startup.
	admitMu  sync.Mutex
	capacity int
	active   int
	highWait []chan struct{}
	lowWait  []chan struct{}
}

// NewEngine builds an Engine. maxConcurrent bounds how many chunk loops may
// run at once (SPEC_FULL.md's supplemented MaxConcurrentUploads, grounded
// on the teacher's maxUploadsInFlight).
func NewEngine(meta *store.MetaStore, blobs *store.BlobStore, transport *TransportClient, maxConcurrent int) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Engine{
		meta:      meta,
		blobs:     blobs,
		transport: transport,
		loops:     make(map[string]context.CancelFunc),
		capacity:  maxConcurrent,
	}
}

// acquire blocks until a chunk-loop slot is available or ctx is done,
// returning false in the latter case. High-priority callers are admitted
// ahead of any low-priority waiter once a slot exists.
func (e *Engine) acquire(ctx context.Context, highPriority bool) bool {
	e.admitMu.Lock()
	if e.active < e.capacity && (highPriority || len(e.highWait) == 0) {
		e.active++
		e.admitMu.Unlock()
		return true
	}
	ch := make(chan struct{})
	if highPriority {
		e.highWait = append(e.highWait, ch)
	} else {
		e.lowWait = append(e.lowWait, ch)
	}
	e.admitMu.Unlock()

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

// release hands the freed slot to the next high-priority waiter, then the
// next low-priority waiter, decrementing active only when no one is
// waiting (a direct hand-off transfers slot ownership, it doesn't free it).
func (e *Engine) release() {
	e.admitMu.Lock()
	defer e.admitMu.Unlock()
	if len(e.highWait) > 0 {
		ch := e.highWait[0]
		e.highWait = e.highWait[1:]
		close(ch)
		return
	}
	if len(e.lowWait) > 0 {
		ch := e.lowWait[0]
		e.lowWait = e.lowWait[1:]
		close(ch)
		return
	}
	e.active--
}

// AddUpload registers a new file with the engine: INITIATING with a
// temp_<id> placeholder, then PENDING once the server acknowledges
// initiate. On initiate failure the temp record is removed and no record
// persists (spec.md §4.5 addUpload).
func (e *Engine) AddUpload(ctx context.Context, filename, filetype string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.NewValidationError("file size must be greater than zero", nil)
	}

	tempID := "temp_" + xid.New().String()
	record := store.NewUploadRecord(tempID, filename, filetype, int64(len(data)), 0)
	if err := e.meta.Add(record); err != nil {
		return "", err
	}

	resp, err := e.transport.Initiate(ctx, filename, filetype, int64(len(data)))
	if err != nil {
		_ = e.meta.Remove(tempID)
		return "", errors.Wrap(err, "initiate failed")
	}

	_ = e.meta.Remove(tempID)

	chunkSize := record.ChunkSize
	if resp.ChunkSize > 0 {
		chunkSize = resp.ChunkSize
	}
	final := store.NewUploadRecord(resp.UploadID, filename, filetype, int64(len(data)), chunkSize)
	final.Status = store.StatusPending
	final.S3Key = resp.S3Key
	if resp.TotalChunks > 0 {
		final.TotalChunks = resp.TotalChunks
	}

	if err := e.blobs.Put(resp.UploadID, data, filename, int64(len(data))); err != nil {
		logging.Error().Err(err).Str("uploadId", resp.UploadID).Msg("failed to persist blob; upload will need re-selection on reload")
	}

	if err := e.meta.Add(final); err != nil {
		return "", err
	}
	return resp.UploadID, nil
}

// StartUpload transitions a PENDING or PAUSED upload to UPLOADING and runs
// its chunk loop (spec.md §4.5 startUpload). It does not block past
// transition; the chunk loop runs in its own goroutine. Explicit calls are
// always high priority.
func (e *Engine) StartUpload(ctx context.Context, id string) error {
	return e.startUpload(ctx, id, true)
}

func (e *Engine) startUpload(ctx context.Context, id string, highPriority bool) error {
	record, ok := e.meta.GetUpload(id)
	if !ok {
		return errors.NewNotFoundError("upload not found", nil)
	}
	if record.Status.IsTerminal() {
		return errors.NewOperationError("upload is already in a terminal state", nil)
	}

	if e.meta.UI().IsOffline {
		_, _, err := e.meta.Update(id, func(r *store.UploadRecord) {
			r.Status = store.StatusPaused
			r.RecordError("offline")
		})
		return err
	}

	blob, available := e.ensureFileAvailable(id)
	if !available {
		return errors.NewOperationError("file unavailable; reselect via UI", nil)
	}

	if _, _, err := e.meta.Update(id, func(r *store.UploadRecord) {
		r.Status = store.StatusUploading
	}); err != nil {
		return err
	}

	e.runChunkLoop(id, blob, highPriority)
	return nil
}

// PauseUpload notifies the server (best-effort) and transitions to PAUSED
// (spec.md §4.5 pauseUpload).
func (e *Engine) PauseUpload(ctx context.Context, id string) error {
	if err := e.transport.Pause(ctx, id); err != nil {
		logging.Warn().Err(err).Str("uploadId", id).Msg("pause notification to server failed; pausing locally regardless")
	}
	return e.meta.SetStatus(id, store.StatusPaused)
}

// ResumeUpload is like StartUpload but also notifies the server, guarded by
// MetaStore's process-wide isResuming lock so concurrent resume triggers
// (user click, focus event, online handler) collapse into one attempt
// (spec.md §5). Treated as high priority: a user or reconnect-triggered
// resume should not wait behind a batch of background auto-resumes.
func (e *Engine) ResumeUpload(ctx context.Context, id string) error {
	return e.resumeUpload(ctx, id, true)
}

// ResumeUploadBackground is ResumeUpload for the low-priority case: the
// Supervisor's on-load fan-out over every rehydrated active upload, which
// should yield slots to any concurrently arriving user-initiated request
// (spec.md §4.6, the teacher's lowPriorityQueue).
func (e *Engine) ResumeUploadBackground(ctx context.Context, id string) error {
	return e.resumeUpload(ctx, id, false)
}

func (e *Engine) resumeUpload(ctx context.Context, id string, highPriority bool) error {
	if !e.meta.TryBeginResuming() {
		return nil
	}
	defer e.meta.EndResuming()

	if err := e.transport.Resume(ctx, id); err != nil {
		logging.Warn().Err(err).Str("uploadId", id).Msg("resume notification to server failed; resuming locally regardless")
	}
	return e.startUpload(ctx, id, highPriority)
}

// CancelUpload deletes server-side then local state; local removal happens
// even if the server call fails (spec.md §4.5 cancelUpload).
func (e *Engine) CancelUpload(ctx context.Context, id string) error {
	e.stopLoop(id)
	serverErr := e.transport.Cancel(ctx, id)
	if err := e.meta.Remove(id); err != nil {
		return err
	}
	_ = e.blobs.Delete(id)
	return serverErr
}

// RemoveUpload deletes the local record, and best-effort deletes
// server-side unless the record is already COMPLETED or is a temp_ id
// never acknowledged by the server (spec.md §4.5 removeUpload).
func (e *Engine) RemoveUpload(ctx context.Context, id string) error {
	e.stopLoop(id)
	record, ok := e.meta.GetUpload(id)

	if ok && record.Status != store.StatusCompleted && !isTempID(id) {
		if err := e.transport.Cancel(ctx, id); err != nil {
			logging.Warn().Err(err).Str("uploadId", id).Msg("server-side remove failed; local removal proceeds regardless")
		}
	}

	if err := e.meta.Remove(id); err != nil {
		return err
	}
	return e.blobs.Delete(id)
}

func isTempID(id string) bool {
	return len(id) >= 5 && id[:5] == "temp_"
}

// ensureFileAvailable implements spec.md §4.5.1: prefer the blob already in
// BlobStore; if absent, pause with needsFile=true.
func (e *Engine) ensureFileAvailable(id string) ([]byte, bool) {
	blob, ok, err := e.blobs.Get(id)
	if err != nil {
		logging.Error().Err(err).Str("uploadId", id).Msg("blob store read failed")
	}
	if ok && len(blob) > 0 {
		_, _, _ = e.meta.Update(id, func(r *store.UploadRecord) {
			r.NeedsFile = false
			r.ClearError()
		})
		return blob, true
	}

	_, _, _ = e.meta.Update(id, func(r *store.UploadRecord) {
		r.NeedsFile = true
		r.Status = store.StatusPaused
		r.RecordError("file unavailable; please reselect the file")
	})
	return nil, false
}

func (e *Engine) stopLoop(id string) {
	e.loopsMu.Lock()
	cancel, ok := e.loops[id]
	if ok {
		delete(e.loops, id)
	}
	e.loopsMu.Unlock()
	if ok {
		cancel()
	}
}

// runChunkLoop starts uploadChunks(id) in its own goroutine, enforcing at
// most one chunk loop per uploadId (spec.md §3 invariant 5) and the engine-
// wide concurrency cap.
func (e *Engine) runChunkLoop(id string, blob []byte, highPriority bool) {
	e.loopsMu.Lock()
	if _, running := e.loops[id]; running {
		e.loopsMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.loops[id] = cancel
	e.loopsMu.Unlock()

	go func() {
		defer func() {
			e.loopsMu.Lock()
			delete(e.loops, id)
			e.loopsMu.Unlock()
		}()

		if !e.acquire(ctx, highPriority) {
			return
		}
		defer e.release()

		e.uploadChunks(ctx, id, blob)
	}()
}

// uploadChunks is the chunk loop (spec.md §4.5 "Chunk loop").
func (e *Engine) uploadChunks(ctx context.Context, id string, blob []byte) {
	e.refreshStatus(ctx, id)

	record, ok := e.meta.GetUpload(id)
	if !ok || record.Status != store.StatusUploading {
		return
	}

	for idx := 0; idx < record.TotalChunks; idx++ {
		if e.meta.UI().IsOffline {
			_, _, _ = e.meta.Update(id, func(r *store.UploadRecord) {
				r.Status = store.StatusPaused
				r.RecordError("Network offline. Upload paused.")
			})
			return
		}

		current, ok := e.meta.GetUpload(id)
		if !ok || current.Status != store.StatusUploading {
			return
		}
		if current.HasChunk(idx) {
			continue
		}

		if !e.uploadChunk(ctx, id, idx, current.TotalChunks, blob) {
			return
		}
	}

	if err := e.transport.Complete(ctx, id); err != nil {
		_, _, _ = e.meta.Update(id, func(r *store.UploadRecord) {
			r.Status = store.StatusFailed
			r.RecordError(err.Error())
		})
		return
	}

	_, _, _ = e.meta.Update(id, func(r *store.UploadRecord) {
		r.Status = store.StatusCompleted
		r.ClearError()
	})
}

// uploadChunk implements spec.md §4.5's uploadChunk(id, idx).
func (e *Engine) uploadChunk(ctx context.Context, id string, idx, total int, blob []byte) bool {
	current, ok := e.meta.GetUpload(id)
	if !ok {
		return false
	}

	start := int64(idx) * int64(current.ChunkSize)
	end := start + int64(current.ChunkSize)
	if end > int64(len(blob)) {
		end = int64(len(blob))
	}
	if start >= int64(len(blob)) {
		logging.Error().Str("uploadId", id).Int("chunkIndex", idx).Msg("chunk offset exceeds blob length")
		_, _, _ = e.meta.Update(id, func(r *store.UploadRecord) {
			r.Status = store.StatusPaused
			r.RecordError(fmt.Sprintf("chunk %d out of range", idx))
		})
		return false
	}

	if err := e.transport.UploadChunk(ctx, id, idx, total, blob[start:end]); err != nil {
		e.recordChunkFailure(id, err)
		return false
	}

	_, _, _ = e.meta.Update(id, func(r *store.UploadRecord) {
		r.MarkChunkUploaded(idx)
		r.RecoveryAttempts = 0
	})
	return true
}

// recoveryRestartThreshold and recoveryGiveUpThreshold stage the bounded
// retry-then-recover behavior (SPEC_FULL.md's supplemented feature,
// grounded on the teacher's uploadErrored three-way branch): a handful of
// failures just pause and preserve progress, repeated failures force a
// full restart from chunk zero in case the preserved chunk set itself is
// the problem, and persistent failure past that gives up rather than
// looping forever.
const (
	recoveryRestartThreshold = 3
	recoveryGiveUpThreshold  = 5
)

// recordChunkFailure implements the degrade-from-resume-to-restart-to-give-up
// ladder: RecoveryAttempts counts consecutive failures since the last chunk
// that actually succeeded (reset to 0 in uploadChunk's success path).
func (e *Engine) recordChunkFailure(id string, cause error) {
	_, _, _ = e.meta.Update(id, func(r *store.UploadRecord) {
		r.RecoveryAttempts++
		switch {
		case r.RecoveryAttempts > recoveryGiveUpThreshold:
			r.Status = store.StatusFailed
			r.RecordError(fmt.Sprintf("exceeded maximum recovery attempts: %v", cause))
		case r.RecoveryAttempts > recoveryRestartThreshold:
			r.SetUploadedChunks(nil)
			r.Status = store.StatusPaused
			r.RecordError(fmt.Sprintf("repeated chunk failures, restarting from the first chunk: %v", cause))
		default:
			r.Status = store.StatusPaused
			r.RecordError(cause.Error())
		}
	})
}

// Reconcile exposes refreshStatus for callers outside the chunk loop (the
// Supervisor's focus listener, spec.md §4.6).
func (e *Engine) Reconcile(ctx context.Context, id string) {
	e.refreshStatus(ctx, id)
}

// CancelAllLoops cancels every running chunk loop's context, used by
// Supervisor.Shutdown once its grace period elapses.
func (e *Engine) CancelAllLoops() {
	e.loopsMu.Lock()
	defer e.loopsMu.Unlock()
	for id, cancel := range e.loops {
		cancel()
		delete(e.loops, id)
	}
}

// refreshStatus implements spec.md §4.5's refreshStatus(id): server truth
// overwrites local progress; failure is non-fatal.
func (e *Engine) refreshStatus(ctx context.Context, id string) {
	resp, err := e.transport.Status(ctx, id)
	if err != nil {
		logging.Warn().Err(err).Str("uploadId", id).Msg("refreshStatus failed; continuing with local state")
		return
	}

	logging.Debug().Str("uploadId", id).Str("status", resp.Status).
		Ints("uploadedChunks", resp.UploadedChunks).Msg("refreshStatus received server truth")

	_, _, _ = e.meta.Update(id, func(r *store.UploadRecord) {
		r.SetUploadedChunks(resp.UploadedChunks)
		switch resp.Status {
		case "completed":
			r.Status = store.StatusCompleted
		case "paused":
			r.Status = store.StatusPaused
		}
	})
}
