package upload

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/auriora/uploadengine/internal/store"
	"github.com/auriora/uploadengine/pkg/errors"
)

// validate is a package-level *validator.Validate, the same singleton
// pattern cs3org-reva's sciencemesh service uses for request validation.
var validate = validator.New()

// addUploadRequest validates AddUpload's inputs (spec.md §8 boundary:
// filesize must be > 0; filename must be non-empty).
type addUploadRequest struct {
	Filename string `validate:"required"`
	Filetype string `validate:"required"`
	Size     int    `validate:"gt=0"`
}

// Facade is the stable, narrow API surface spec.md §9 describes: addUpload,
// startUpload, pauseUpload, resumeUpload, cancelUpload, removeUpload,
// getUploads/getUpload, UI-state accessors, and subscribe. It owns input
// validation so Engine's methods can assume well-formed arguments.
type Facade struct {
	meta       *store.MetaStore
	engine     *Engine
	supervisor *Supervisor
}

// NewFacade wires a Facade around an already-constructed Engine and
// Supervisor.
func NewFacade(meta *store.MetaStore, engine *Engine, supervisor *Supervisor) *Facade {
	return &Facade{meta: meta, engine: engine, supervisor: supervisor}
}

// Start rehydrates state and, per config, auto-resumes active uploads
// (spec.md §4.6). Call once at process startup.
func (f *Facade) Start(ctx context.Context) error {
	return f.supervisor.Start(ctx)
}

// Shutdown stops the Supervisor; see Supervisor.Shutdown for what it waits
// for and what it cancels.
func (f *Facade) Shutdown(ctx context.Context) {
	f.supervisor.Shutdown(ctx)
}

// AddUpload validates and registers a new file (spec.md §4.5 addUpload).
func (f *Facade) AddUpload(ctx context.Context, filename, filetype string, data []byte) (string, error) {
	req := addUploadRequest{Filename: filename, Filetype: filetype, Size: len(data)}
	if err := validate.Struct(req); err != nil {
		return "", errors.NewValidationError(err.Error(), err)
	}
	return f.engine.AddUpload(ctx, filename, filetype, data)
}

// StartUpload starts the chunk loop for any non-terminal upload. Unlike
// ResumeUpload it sends no resume notification to the server.
func (f *Facade) StartUpload(ctx context.Context, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	return f.engine.StartUpload(ctx, id)
}

// PauseUpload pauses an in-progress upload.
func (f *Facade) PauseUpload(ctx context.Context, id string) error {
	if err := requireAcknowledgedID(id); err != nil {
		return err
	}
	return f.engine.PauseUpload(ctx, id)
}

// ResumeUpload resumes a previously paused upload, guarded against
// concurrent resume triggers (spec.md §5).
func (f *Facade) ResumeUpload(ctx context.Context, id string) error {
	if err := requireAcknowledgedID(id); err != nil {
		return err
	}
	return f.engine.ResumeUpload(ctx, id)
}

// CancelUpload cancels server-side and removes local state.
func (f *Facade) CancelUpload(ctx context.Context, id string) error {
	if err := requireAcknowledgedID(id); err != nil {
		return err
	}
	return f.engine.CancelUpload(ctx, id)
}

// RemoveUpload removes an upload record without necessarily canceling an
// in-progress server-side upload first (spec.md §4.5 removeUpload).
func (f *Facade) RemoveUpload(ctx context.Context, id string) error {
	if err := requireAcknowledgedID(id); err != nil {
		return err
	}
	return f.engine.RemoveUpload(ctx, id)
}

// GetUpload returns a snapshot of one record.
func (f *Facade) GetUpload(id string) (*store.UploadRecord, bool) {
	return f.meta.GetUpload(id)
}

// GetUploads returns a snapshot of every record.
func (f *Facade) GetUploads() []*store.UploadRecord {
	return f.meta.GetUploads()
}

// UIState returns the current ephemeral UI-state bag (spec.md §3).
func (f *Facade) UIState() store.UIState {
	return f.meta.UI()
}

// SetDragOver updates the drag-over UI flag.
func (f *Facade) SetDragOver(over bool) {
	f.meta.SetDragOver(over)
}

// SetConnectivity reports an online/offline transition (spec.md §6
// "Environment inputs").
func (f *Facade) SetConnectivity(ctx context.Context, online bool) {
	f.supervisor.SetConnectivity(ctx, online)
}

// OnFocus reports a window-focus/visibility-change event (spec.md §4.6).
func (f *Facade) OnFocus(ctx context.Context) {
	f.supervisor.OnFocus(ctx)
}

// Subscribe registers for change notifications on every record mutation
// (spec.md §9 "narrow observer interface").
func (f *Facade) Subscribe() (<-chan store.ChangeEvent, func()) {
	return f.meta.Subscribe()
}

// ClearStaleUploads removes FAILED/CANCELED or >24h-old records matching
// filename+filesize, called before re-adding a file with the same identity
// (spec.md §4.2).
func (f *Facade) ClearStaleUploads(filename string, filesize int64) error {
	return f.meta.ClearStaleUploads(filename, filesize)
}

func requireID(id string) error {
	if id == "" {
		return errors.NewValidationError("uploadId must not be empty", nil)
	}
	return nil
}

// requireAcknowledgedID guards operations that round-trip to the server
// (pause/resume/cancel/remove): a temp_ id was never acknowledged by
// initiate, so the server has nothing to pause, resume, cancel, or remove
// (spec.md §4.7).
func requireAcknowledgedID(id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	if isTempID(id) {
		return errors.NewValidationError("uploadId has not been acknowledged by the server yet", nil)
	}
	return nil
}
