package store

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/imdario/mergo"
	bolt "go.etcd.io/bbolt"

	"github.com/auriora/uploadengine/pkg/errors"
	"github.com/auriora/uploadengine/pkg/logging"
)

// currentSchemaVersion is the MetaStore projection schema version
// (spec.md §6: "currently 5").
const currentSchemaVersion = 5

// UIState is the ephemeral, never-persisted namespace rebuilt on load
// (spec.md §3 "UI state").
type UIState struct {
	IsLoading  bool
	Error      string
	IsOffline  bool
	IsResuming bool
	DragOver   bool
}

// MetaStore is the authoritative in-memory view of all UploadRecords,
// keyed by uploadId, plus the UI-state bag. A persistence middleware writes
// a filtered projection to bbolt after every mutation (spec.md §4.2).
type MetaStore struct {
	handle *dbHandle

	mu      sync.RWMutex
	records map[string]*UploadRecord
	ui      UIState

	resumeMu sync.Mutex
	resuming bool

	changes *broadcaster
}

// NewMetaStore returns a MetaStore backed by the bbolt database at path.
func NewMetaStore(path string) *MetaStore {
	return &MetaStore{
		handle:  newDBHandle(path),
		records: make(map[string]*UploadRecord),
		changes: newBroadcaster(),
	}
}

// Subscribe registers for change notifications. Call the returned function
// to unsubscribe.
func (m *MetaStore) Subscribe() (<-chan ChangeEvent, func()) {
	return m.changes.Subscribe()
}

// Rehydrate loads all persisted records from bbolt into memory, migrating
// each one forward to the current schema. Called once at Supervisor
// startup (spec.md §4.6 step 2).
func (m *MetaStore) Rehydrate() error {
	db, err := m.handle.open()
	if err != nil {
		return err
	}

	loaded := make(map[string]*UploadRecord)
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUploads)
		if b == nil {
			return nil
		}
		return b.ForEach(func(key, val []byte) error {
			record, migrated, migrateErr := migrateRecord(val)
			if migrateErr != nil {
				logging.Error().Err(migrateErr).Str("uploadId", string(key)).
					Msg("dropping unrecoverable upload record during rehydrate")
				return nil
			}
			loaded[string(key)] = record
			if migrated {
				logging.Info().Str("uploadId", string(key)).Msg("migrated upload record to current schema")
			}
			return nil
		})
	})
	if err != nil {
		return errors.Wrap(err, "rehydrating meta store")
	}

	m.mu.Lock()
	m.records = loaded
	m.mu.Unlock()

	return m.writeVersion()
}

func (m *MetaStore) writeVersion() error {
	db, err := m.handle.open()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		return b.Put([]byte(metaKeyVersion), []byte(strconv.Itoa(currentSchemaVersion)))
	})
}

// migrateRecord decodes a persisted projection and reshapes it to the
// current schema, the same technique cmd/common/config.go's
// mergeWithDefaults uses for config: decode whatever shape is on disk, then
// mergo.Merge it over a defaults template so new fields introduced by later
// schema versions (e.g. the historic v<4 "needsFile=false" addition) are
// filled in rather than left as Go zero values that might not be the
// intended default.
func migrateRecord(raw []byte) (record *UploadRecord, migrated bool, err error) {
	var decoded UploadRecord
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, false, errors.Wrap(err, "decoding persisted upload record")
	}

	defaults := UploadRecord{
		ChunkSize:      DefaultChunkSize,
		UploadedChunks: []int{},
		NeedsFile:      false,
	}
	before := decoded
	if err := mergo.Merge(&decoded, defaults); err != nil {
		return nil, false, errors.Wrap(err, "merging upload record defaults")
	}
	if decoded.UploadedChunks == nil {
		decoded.UploadedChunks = []int{}
	}
	decoded.recompute()

	migrated = before.ChunkSize != decoded.ChunkSize || before.UploadedChunks == nil
	return &decoded, migrated, nil
}

// persist writes record's projection to bbolt and broadcasts a change
// event. The projection strips nothing extra here since UploadRecord
// already excludes the file binary and UI guards (spec.md §3).
func (m *MetaStore) persist(record *UploadRecord) error {
	db, err := m.handle.open()
	if err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "encoding upload record")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketUploads)
		if err != nil {
			return err
		}
		return b.Put([]byte(record.UploadID), data)
	}); err != nil {
		logging.Error().Err(err).Str("uploadId", record.UploadID).Msg("failed to persist upload record; continuing in-memory")
	}
	m.changes.publish(ChangeEvent{UploadID: record.UploadID, Record: record.Clone()})
	return nil
}

func (m *MetaStore) deletePersisted(id string) error {
	db, err := m.handle.open()
	if err != nil {
		return err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUploads)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(id))
	}); err != nil {
		logging.Error().Err(err).Str("uploadId", id).Msg("failed to delete persisted upload record")
	}
	m.changes.publish(ChangeEvent{UploadID: id, Record: nil})
	return nil
}

// Add registers a new record and persists it.
func (m *MetaStore) Add(record *UploadRecord) error {
	m.mu.Lock()
	m.records[record.UploadID] = record
	m.mu.Unlock()
	return m.persist(record)
}

// Update applies patch to the record under id and persists the result.
// Returns the updated record, or ok=false if id is unknown.
func (m *MetaStore) Update(id string, patch func(*UploadRecord)) (record *UploadRecord, ok bool, err error) {
	m.mu.Lock()
	r, exists := m.records[id]
	if !exists {
		m.mu.Unlock()
		return nil, false, nil
	}
	patch(r)
	m.mu.Unlock()

	if err := m.persist(r); err != nil {
		return r, true, err
	}
	return r, true, nil
}

// Remove deletes the record under id, in memory and on disk.
func (m *MetaStore) Remove(id string) error {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
	return m.deletePersisted(id)
}

// SetStatus transitions the record under id to status.
func (m *MetaStore) SetStatus(id string, status Status) error {
	_, _, err := m.Update(id, func(r *UploadRecord) { r.Status = status })
	return err
}

// UpdateProgress overwrites the uploaded-chunk set and recomputes
// uploadedBytes/progress authoritatively; callers never set those fields
// directly (spec.md §4.2).
func (m *MetaStore) UpdateProgress(id string, chunkSet []int) error {
	_, _, err := m.Update(id, func(r *UploadRecord) { r.SetUploadedChunks(chunkSet) })
	return err
}

// GetUpload returns a snapshot of the record under id.
func (m *MetaStore) GetUpload(id string) (*UploadRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// GetUploads returns a snapshot of every record.
func (m *MetaStore) GetUploads() []*UploadRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*UploadRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	return out
}

// GetActiveUploads returns every non-terminal record.
func (m *MetaStore) GetActiveUploads() []*UploadRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*UploadRecord, 0, len(m.records))
	for _, r := range m.records {
		if !r.Status.IsTerminal() {
			out = append(out, r.Clone())
		}
	}
	return out
}

// ClearStaleUploads removes records matching filename+filesize that are
// either older than 24h or in {FAILED, CANCELED}. COMPLETED is not in that
// status set, so a COMPLETED record of the same filename+size is removed
// only once it is older than 24h, like any other record.
func (m *MetaStore) ClearStaleUploads(filename string, filesize int64) error {
	const staleAfter = 24 * time.Hour
	now := time.Now().UTC()

	m.mu.Lock()
	var stale []string
	for id, r := range m.records {
		if r.Filename != filename || r.Filesize != filesize {
			continue
		}
		if r.Status == StatusFailed || r.Status == StatusCanceled || now.Sub(r.CreatedAt) > staleAfter {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(m.records, id)
	}
	m.mu.Unlock()

	for _, id := range stale {
		if err := m.deletePersisted(id); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll removes every record, in memory and on disk.
func (m *MetaStore) ClearAll() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.records = make(map[string]*UploadRecord)
	m.mu.Unlock()

	db, err := m.handle.open()
	if err != nil {
		return err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketUploads) != nil {
			if err := tx.DeleteBucket(bucketUploads); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucketIfNotExists(bucketUploads)
		return err
	}); err != nil {
		return errors.Wrap(err, "clearing upload records")
	}

	for _, id := range ids {
		m.changes.publish(ChangeEvent{UploadID: id, Record: nil})
	}
	return nil
}

// --- UI state (spec.md §3 "UI state"; never persisted) ---

// SetLoading sets the UI loading flag.
func (m *MetaStore) SetLoading(loading bool) {
	m.mu.Lock()
	m.ui.IsLoading = loading
	m.mu.Unlock()
}

// SetError sets the UI-level error message.
func (m *MetaStore) SetError(msg string) {
	m.mu.Lock()
	m.ui.Error = msg
	m.mu.Unlock()
}

// SetOffline sets the UI offline flag.
func (m *MetaStore) SetOffline(offline bool) {
	m.mu.Lock()
	m.ui.IsOffline = offline
	m.mu.Unlock()
}

// SetDragOver sets the UI drag-over flag.
func (m *MetaStore) SetDragOver(over bool) {
	m.mu.Lock()
	m.ui.DragOver = over
	m.mu.Unlock()
}

// UI returns a snapshot of the UI-state bag.
func (m *MetaStore) UI() UIState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ui
}

// TryBeginResuming acquires the process-wide isResuming guard (spec.md §5),
// preventing concurrent resumeUpload calls from user clicks, focus events,
// and the online handler. Returns false if already held.
func (m *MetaStore) TryBeginResuming() bool {
	m.resumeMu.Lock()
	defer m.resumeMu.Unlock()
	if m.resuming {
		return false
	}
	m.resuming = true
	m.mu.Lock()
	m.ui.IsResuming = true
	m.mu.Unlock()
	return true
}

// EndResuming releases the isResuming guard. Safe to call on every
// resumeUpload exit path (success or failure).
func (m *MetaStore) EndResuming() {
	m.resumeMu.Lock()
	m.resuming = false
	m.resumeMu.Unlock()
	m.mu.Lock()
	m.ui.IsResuming = false
	m.mu.Unlock()
}

// Close releases the underlying bbolt database handle and closes all
// change-event subscriptions.
func (m *MetaStore) Close() error {
	m.changes.closeAll()
	return m.handle.close()
}
