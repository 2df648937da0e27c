// runstate.go — In-memory live state for the publish run and the in-flight
// chunked upload. Both trackers are process-wide singletons with a defined
// lifecycle: created at startup, reset on restart, never persisted. They are
// injected into the components that own them so tests can assert transitions
// without a running server.
package staging

import (
	"sync"
	"time"
)

// RunSnapshotItem is the display subset of a staging item captured when a
// run starts.
type RunSnapshotItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Filename string `json:"filename"`
}

// RunState is a point-in-time copy of the run tracker's state.
type RunState struct {
	IsRunning     bool              `json:"isRunning"`
	StartedAt     time.Time         `json:"startedAt"`
	TotalItems    int               `json:"totalItems"`
	Processed     int               `json:"processed"`
	Failed        int               `json:"failed"`
	CurrentItemID string            `json:"currentItemId,omitempty"`
	Items         []RunSnapshotItem `json:"items"`
}

// RunTracker guards the single-flight invariant: at most one drain run per
// process. TryStart performs its check-and-set under one mutex with no
// intervening I/O, so there is no race window.
type RunTracker struct {
	mu    sync.Mutex
	state RunState
}

// NewRunTracker returns an idle tracker.
func NewRunTracker() *RunTracker {
	return &RunTracker{}
}

// TryStart atomically claims the run slot. Returns false — and changes
// nothing — when a run is already active. On success it resets counters,
// records the start time and stores the candidate snapshot.
func (t *RunTracker) TryStart(items []RunSnapshotItem) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.IsRunning {
		return false
	}
	t.state = RunState{
		IsRunning:  true,
		StartedAt:  time.Now().UTC(),
		TotalItems: len(items),
		Items:      append([]RunSnapshotItem(nil), items...),
	}
	return true
}

// SetCurrent records the item the run is working on.
func (t *RunTracker) SetCurrent(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.CurrentItemID = id
}

// Progress updates the processed/failed counters.
func (t *RunTracker) Progress(processed, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Processed = processed
	t.state.Failed = failed
}

// End releases the run slot. Counters and the snapshot are preserved for
// display until the next run starts.
func (t *RunTracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.IsRunning = false
	t.state.CurrentItemID = ""
}

// State returns a copy of the current state for polling clients.
func (t *RunTracker) State() RunState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.state
	out.Items = append([]RunSnapshotItem(nil), t.state.Items...)
	return out
}

// UploadPhase is the coarse phase of the in-flight chunked upload.
type UploadPhase string

const (
	UploadPhaseIdle      UploadPhase = ""
	UploadPhaseUploading UploadPhase = "uploading" // chunks arriving
	UploadPhaseWriting   UploadPhase = "writing"   // assembled file streaming to the ledger
	UploadPhaseDone      UploadPhase = "done"
	UploadPhaseError     UploadPhase = "error"
)

// UploadState is a point-in-time copy of the upload tracker's state.
// A single global slot: a new upload overwrites the previous one. Concurrent
// multi-upload display was never a requirement; sessions themselves are
// per-upload-id and unaffected.
type UploadState struct {
	UploadID        string      `json:"uploadId"`
	Phase           UploadPhase `json:"phase"`
	TotalChunks     int         `json:"totalChunks"`
	ChunksReceived  int         `json:"chunksReceived"`
	SendProgress    int         `json:"sendProgressPercent"`
	WriteProgress   int         `json:"dbWriteProgressPercent"`
	ResultStagingID string      `json:"resultStagingId,omitempty"`
	ErrorMessage    string      `json:"errorMessage,omitempty"`
}

// UploadTracker holds the single UploadState slot.
type UploadTracker struct {
	mu    sync.Mutex
	state UploadState
}

// NewUploadTracker returns an idle tracker.
func NewUploadTracker() *UploadTracker {
	return &UploadTracker{}
}

// Begin claims the slot for uploadID, overwriting whatever was there.
func (t *UploadTracker) Begin(uploadID string, totalChunks int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = UploadState{
		UploadID:    uploadID,
		Phase:       UploadPhaseUploading,
		TotalChunks: totalChunks,
	}
}

// Chunk records one received chunk and refreshes the send percentage.
func (t *UploadTracker) Chunk(uploadID string, received int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.UploadID != uploadID {
		return
	}
	t.state.ChunksReceived = received
	if t.state.TotalChunks > 0 {
		t.state.SendProgress = received * 100 / t.state.TotalChunks
	}
}

// Writing flips the phase to writing and records ledger write progress.
// percent < 0 is the size-unknown sentinel and leaves the last value alone.
func (t *UploadTracker) Writing(uploadID string, percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.UploadID != uploadID {
		return
	}
	t.state.Phase = UploadPhaseWriting
	if percent >= 0 {
		t.state.WriteProgress = percent
	}
}

// Done marks the upload complete with the resulting staging item id.
func (t *UploadTracker) Done(uploadID, stagingID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.UploadID != uploadID {
		return
	}
	t.state.Phase = UploadPhaseDone
	t.state.WriteProgress = 100
	t.state.ResultStagingID = stagingID
}

// Fail marks the upload failed with a message.
func (t *UploadTracker) Fail(uploadID, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.UploadID != uploadID {
		return
	}
	t.state.Phase = UploadPhaseError
	t.state.ErrorMessage = msg
}

// Reset clears the slot entirely (purge).
func (t *UploadTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = UploadState{}
}

// State returns a copy for polling clients.
func (t *UploadTracker) State() UploadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
