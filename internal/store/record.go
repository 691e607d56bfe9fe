package store

import (
	"sort"
	"time"
)

// Status is the upload lifecycle state (spec.md §4.5).
type Status string

const (
	StatusInitiating Status = "INITIATING"
	StatusPending    Status = "PENDING"
	StatusUploading  Status = "UPLOADING"
	StatusPaused     Status = "PAUSED"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCanceled   Status = "CANCELED"
)

// IsTerminal reports whether s is one of the terminal states: no further
// chunk transmission occurs for a record in one of these.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// DefaultChunkSize is the default chunk size in bytes (5 MiB), used unless
// the server overrides it at initiate.
const DefaultChunkSize = 5 * 1024 * 1024

// UploadRecord is the engine's per-file state container, keyed by UploadID
// (spec.md §3). The zero value is not valid; use NewUploadRecord.
type UploadRecord struct {
	UploadID       string `json:"uploadId"`
	Filename       string `json:"filename"`
	Filetype       string `json:"filetype"`
	Filesize       int64  `json:"filesize"`
	ChunkSize      int    `json:"chunkSize"`
	TotalChunks    int    `json:"totalChunks"`
	UploadedChunks []int  `json:"uploadedChunks"`
	UploadedBytes  int64  `json:"uploadedBytes"`
	Progress       float64 `json:"progress"`
	Status         Status `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	LastError      string     `json:"lastError,omitempty"`
	LastErrorAt    *time.Time `json:"lastErrorAt,omitempty"`
	NeedsFile      bool       `json:"needsFile"`
	S3Key          string     `json:"s3Key,omitempty"`

	// RecoveryAttempts counts consecutive chunk-loop failures since the
	// last successfully uploaded chunk. UploadEngine uses it to degrade
	// from "resume from last good chunk" to "restart from chunk zero" to
	// "give up and surface an error" (SPEC_FULL.md's bounded
	// retry-then-recover supplement, grounded on the teacher's
	// uploadErrored CanResume/restart/cancel staging).
	RecoveryAttempts int `json:"recoveryAttempts"`
}

// NewUploadRecord builds an INITIATING record under the given id, with
// totalChunks derived from filesize and chunkSize. AddUpload calls it with a
// temp_ id before initiate and again with the server's id afterwards.
func NewUploadRecord(tempID, filename, filetype string, filesize int64, chunkSize int) *UploadRecord {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &UploadRecord{
		UploadID:       tempID,
		Filename:       filename,
		Filetype:       filetype,
		Filesize:       filesize,
		ChunkSize:      chunkSize,
		TotalChunks:    totalChunksFor(filesize, chunkSize),
		UploadedChunks: []int{},
		Status:         StatusInitiating,
		CreatedAt:      time.Now().UTC(),
	}
}

func totalChunksFor(filesize int64, chunkSize int) int {
	if filesize <= 0 {
		return 0
	}
	n := filesize / int64(chunkSize)
	if filesize%int64(chunkSize) != 0 {
		n++
	}
	if n == 0 {
		n = 1
	}
	return int(n)
}

// chunkBytes returns the byte length of chunk i given chunkSize/filesize,
// honoring the shorter last chunk (spec.md §8).
func chunkBytes(i, chunkSize int, filesize int64) int64 {
	remaining := filesize - int64(i)*int64(chunkSize)
	if remaining < int64(chunkSize) {
		return remaining
	}
	return int64(chunkSize)
}

// MarkChunkUploaded inserts idx into UploadedChunks, keeping the slice a
// strictly increasing canonical set (spec.md §3 invariant 1), and
// recomputes UploadedBytes/Progress.
func (r *UploadRecord) MarkChunkUploaded(idx int) {
	if r.hasChunk(idx) {
		return
	}
	r.UploadedChunks = append(r.UploadedChunks, idx)
	sort.Ints(r.UploadedChunks)
	r.recompute()
}

func (r *UploadRecord) hasChunk(idx int) bool {
	i := sort.SearchInts(r.UploadedChunks, idx)
	return i < len(r.UploadedChunks) && r.UploadedChunks[i] == idx
}

// HasChunk reports whether idx has already been acknowledged.
func (r *UploadRecord) HasChunk(idx int) bool {
	return r.hasChunk(idx)
}

// SetUploadedChunks overwrites the chunk set authoritatively (used by
// refreshStatus/reconcileFromServer, the sole authority that may shrink the
// set per spec.md §5) and recomputes derived fields.
func (r *UploadRecord) SetUploadedChunks(chunks []int) {
	cp := append([]int(nil), chunks...)
	sort.Ints(cp)
	r.UploadedChunks = cp
	r.recompute()
}

func (r *UploadRecord) recompute() {
	var bytes int64
	for _, i := range r.UploadedChunks {
		bytes += chunkBytes(i, r.ChunkSize, r.Filesize)
	}
	r.UploadedBytes = bytes
	if r.Filesize <= 0 {
		r.Progress = 0
		return
	}
	progress := 100 * float64(bytes) / float64(r.Filesize)
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	r.Progress = progress
}

// IsComplete reports whether every chunk has been acknowledged.
func (r *UploadRecord) IsComplete() bool {
	return len(r.UploadedChunks) == r.TotalChunks
}

// RecordError sets LastError/LastErrorAt to now, the per-record error
// surface the UI consumes across reloads (spec.md §6).
func (r *UploadRecord) RecordError(message string) {
	r.LastError = message
	now := time.Now().UTC()
	r.LastErrorAt = &now
}

// ClearError clears the per-record error surface.
func (r *UploadRecord) ClearError() {
	r.LastError = ""
	r.LastErrorAt = nil
}

// Clone returns a deep copy so callers can safely read a snapshot outside
// MetaStore's lock.
func (r *UploadRecord) Clone() *UploadRecord {
	cp := *r
	cp.UploadedChunks = append([]int(nil), r.UploadedChunks...)
	if r.LastErrorAt != nil {
		t := *r.LastErrorAt
		cp.LastErrorAt = &t
	}
	return &cp
}
