package upload

import (
	"context"
	"sync"
	"time"

	"github.com/auriora/uploadengine/internal/store"
	"github.com/auriora/uploadengine/pkg/logging"
)

// Supervisor is the process-wide orchestration layer sitting above Engine:
// rehydrate-and-resume on startup, offline/online and focus reactivity, and
// graceful shutdown (spec.md §4.6), grounded on internal/fs/upload_manager.go's
// UploadManager (its priority queue and offline/online dbus listeners).
type Supervisor struct {
	meta   *store.MetaStore
	engine *Engine

	autoResumeOnReload bool
	shutdownTimeout    time.Duration

	wg sync.WaitGroup
}

// NewSupervisor builds a Supervisor. autoResumeOnReload mirrors spec.md §6's
// default-true flag; shutdownTimeout bounds Shutdown's wait for in-flight
// chunk loops.
func NewSupervisor(meta *store.MetaStore, engine *Engine, autoResumeOnReload bool, shutdownTimeout time.Duration) *Supervisor {
	return &Supervisor{
		meta:               meta,
		engine:             engine,
		autoResumeOnReload: autoResumeOnReload,
		shutdownTimeout:    shutdownTimeout,
	}
}

// Start rehydrates MetaStore from disk and, if autoResumeOnReload is set,
// kicks off resumeUpload for every non-terminal record found (spec.md §4.6
// "on load: rehydrate, then auto-resume active uploads").
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.meta.Rehydrate(); err != nil {
		return err
	}
	return s.initAfterRehydrate(ctx)
}

func (s *Supervisor) initAfterRehydrate(ctx context.Context) error {
	if !s.autoResumeOnReload {
		return nil
	}
	for _, record := range s.meta.GetActiveUploads() {
		s.spawnResume(ctx, record.UploadID, false)
	}
	return nil
}

// spawnResume runs engine.ResumeUpload(Background) in its own goroutine,
// tracked by s.wg so Shutdown can wait for it. highPriority distinguishes a
// user/reconnect-triggered resume (spec.md §6) from the startup fan-out
// over every rehydrated record, which should not starve it of a slot.
func (s *Supervisor) spawnResume(ctx context.Context, id string, highPriority bool) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		if highPriority {
			err = s.engine.ResumeUpload(ctx, id)
		} else {
			err = s.engine.ResumeUploadBackground(ctx, id)
		}
		if err != nil {
			logging.Warn().Err(err).Str("uploadId", id).Msg("auto-resume failed")
		}
	}()
}

// SetConnectivity mirrors the browser's online/offline events (spec.md §6
// "Environment inputs"). Going offline immediately pauses every UPLOADING
// record with lastError="offline" rather than waiting for its chunk loop to
// notice (spec.md §4.6 step 1); coming back online starts a resume for
// every PAUSED record, whatever paused it.
func (s *Supervisor) SetConnectivity(ctx context.Context, online bool) {
	wasOffline := s.meta.UI().IsOffline
	s.meta.SetOffline(!online)

	if !online {
		for _, record := range s.meta.GetActiveUploads() {
			if record.Status == store.StatusUploading {
				_, _, _ = s.meta.Update(record.UploadID, func(r *store.UploadRecord) {
					r.Status = store.StatusPaused
					r.RecordError("offline")
				})
			}
		}
		return
	}

	if !wasOffline {
		return
	}

	for _, record := range s.meta.GetActiveUploads() {
		if record.Status == store.StatusPaused {
			s.spawnResume(ctx, record.UploadID, true)
		}
	}
}

// OnFocus mirrors the source's visibilitychange/focus listener: it
// re-checks server truth for every active upload. It does not resume any
// upload; a record stays in whatever status the reconcile leaves it.
func (s *Supervisor) OnFocus(ctx context.Context) {
	for _, record := range s.meta.GetActiveUploads() {
		s.engine.Reconcile(ctx, record.UploadID)
	}
}

// Shutdown waits up to shutdownTimeout for the resume goroutines started by
// spawnResume to return; if they return in time it returns without touching
// chunk loops, which it does not track. On timeout or when ctx is done it
// cancels every running chunk loop and returns. It does not close MetaStore or
// BlobStore; callers own those lifecycles (grounded on
// internal/fs/upload_manager.go's Stop, which separates "stop accepting new
// work" from "close the database").
func (s *Supervisor) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(s.shutdownTimeout):
		logging.Warn().Msg("graceful shutdown timed out; canceling remaining chunk loops")
	case <-ctx.Done():
		logging.Warn().Msg("shutdown context canceled; canceling remaining chunk loops")
	}
	s.engine.CancelAllLoops()
}
