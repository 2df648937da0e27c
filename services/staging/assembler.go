// assembler.go — Chunk Assembler: reassembles client-side chunked uploads
// into a single temp artifact, then hands the artifact to the ledger.
//
// Sessions live in memory only. Chunks append to one open file per upload id
// rather than landing as N part-files, so completion is a single rename-free
// stream into the ledger and disk usage never doubles. The cost is an
// in-order requirement: a chunk whose predecessors are missing is rejected
// with the missing indexes instead of being parked. Clients already send
// chunks serially, and an explicit error beats a session that waits forever.
package staging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ChunkMeta is the metadata carried on chunk 0.
type ChunkMeta struct {
	Filename    string
	ContentType string
	CatalogID   string
	Title       string
	PosterPath  string
	TotalChunks int
}

// ChunkResult echoes the position of the accepted chunk, plus the staging
// item when this chunk completed the upload.
type ChunkResult struct {
	ChunkIndex  int   `json:"chunkIndex"`
	TotalChunks int   `json:"totalChunks"`
	Complete    bool  `json:"complete"`
	Item        *Item `json:"item,omitempty"`
}

type session struct {
	meta     ChunkMeta
	path     string
	file     *os.File
	next     int // next expected chunk index
	received map[int]bool
	created  time.Time
}

// streamCreator is the slice of the ledger the assembler needs. Narrow so
// assembler tests run without a database.
type streamCreator interface {
	CreateFromStream(ctx context.Context, p CreateParams, r io.Reader, progress func(percent int)) (*Item, error)
}

// Assembler owns all in-flight chunked uploads.
type Assembler struct {
	ledger  streamCreator
	uploads *UploadTracker
	tempDir string
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewAssembler builds an assembler writing artifacts under tempDir.
func NewAssembler(ledger streamCreator, uploads *UploadTracker, tempDir string, log *slog.Logger) *Assembler {
	return &Assembler{
		ledger:   ledger,
		uploads:  uploads,
		tempDir:  tempDir,
		log:      log,
		sessions: make(map[string]*session),
	}
}

// Accept processes one chunk. meta is required on chunk 0 and ignored
// otherwise. A duplicate of an already-received chunk is acknowledged
// without writing (the client retried a request whose response was lost).
// When the final chunk lands the artifact is streamed into the ledger and
// the session is torn down whatever the outcome.
func (a *Assembler) Accept(ctx context.Context, uploadID string, index int, meta *ChunkMeta, chunk io.Reader) (*ChunkResult, error) {
	a.mu.Lock()
	s, ok := a.sessions[uploadID]

	if index == 0 {
		if ok {
			// Duplicate chunk 0: same ack-without-writing as any other
			// already-received index. The session keeps its chunks.
			res := &ChunkResult{ChunkIndex: 0, TotalChunks: s.meta.TotalChunks}
			a.mu.Unlock()
			return res, nil
		}
		if meta == nil || meta.TotalChunks <= 0 {
			a.mu.Unlock()
			return nil, fmt.Errorf("staging: chunk 0 requires upload metadata")
		}
		if !MimeAllowed(meta.ContentType) {
			a.mu.Unlock()
			return nil, ErrInvalidMime
		}
		ns, err := a.openSessionLocked(uploadID, *meta)
		if err != nil {
			a.mu.Unlock()
			return nil, err
		}
		s = ns
		a.uploads.Begin(uploadID, meta.TotalChunks)
	} else {
		if !ok {
			a.mu.Unlock()
			return nil, ErrNoSession
		}
		if index >= s.meta.TotalChunks {
			a.mu.Unlock()
			return nil, fmt.Errorf("staging: chunk index %d out of range (total %d)", index, s.meta.TotalChunks)
		}
		if s.received[index] {
			res := &ChunkResult{ChunkIndex: index, TotalChunks: s.meta.TotalChunks}
			a.mu.Unlock()
			return res, nil
		}
		if index != s.next {
			missing := a.missingBeforeLocked(s, index)
			a.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrChunkGap, strings.Join(missing, ","))
		}
	}
	a.mu.Unlock()

	// The append itself runs outside the map lock; sessions are per-upload
	// and one client sends serially, so the file is not contended.
	if _, err := io.Copy(s.file, chunk); err != nil {
		a.abort(uploadID, s)
		a.uploads.Fail(uploadID, "chunk write failed")
		return nil, fmt.Errorf("append chunk %d: %w", index, err)
	}

	a.mu.Lock()
	s.received[index] = true
	s.next = index + 1
	received := s.next
	complete := received == s.meta.TotalChunks
	if complete {
		delete(a.sessions, uploadID)
	}
	a.mu.Unlock()

	a.uploads.Chunk(uploadID, received)

	res := &ChunkResult{ChunkIndex: index, TotalChunks: s.meta.TotalChunks}
	if !complete {
		return res, nil
	}

	item, err := a.finish(ctx, uploadID, s)
	if err != nil {
		return nil, err
	}
	res.Complete = true
	res.Item = item
	return res, nil
}

// finish streams the assembled artifact into the ledger and removes it.
func (a *Assembler) finish(ctx context.Context, uploadID string, s *session) (*Item, error) {
	defer func() {
		s.file.Close()
		os.Remove(s.path)
	}()

	if err := s.file.Sync(); err != nil {
		a.uploads.Fail(uploadID, "artifact sync failed")
		return nil, fmt.Errorf("sync artifact: %w", err)
	}
	fi, err := s.file.Stat()
	if err != nil {
		a.uploads.Fail(uploadID, "artifact stat failed")
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		a.uploads.Fail(uploadID, "artifact seek failed")
		return nil, fmt.Errorf("rewind artifact: %w", err)
	}

	a.uploads.Writing(uploadID, 0)
	item, err := a.ledger.CreateFromStream(ctx, CreateParams{
		Filename:    s.meta.Filename,
		ContentType: s.meta.ContentType,
		CatalogID:   s.meta.CatalogID,
		Title:       s.meta.Title,
		PosterPath:  s.meta.PosterPath,
		Size:        fi.Size(),
	}, s.file, func(pct int) {
		a.uploads.Writing(uploadID, pct)
	})
	if err != nil {
		a.uploads.Fail(uploadID, err.Error())
		return nil, err
	}

	a.uploads.Done(uploadID, item.ID)
	a.log.Info("chunked upload assembled",
		"upload_id", uploadID, "staging_id", item.ID, "size", item.Size)
	return item, nil
}

// Purge aborts every in-flight session, deletes their artifacts and sweeps
// tempDir for orphaned artifacts from earlier crashes. Returns the number of
// sessions aborted.
func (a *Assembler) Purge() int {
	a.mu.Lock()
	n := len(a.sessions)
	for id, s := range a.sessions {
		a.teardownLocked(id, s)
	}
	a.mu.Unlock()

	a.uploads.Reset()

	matches, err := filepath.Glob(filepath.Join(a.tempDir, artifactPrefix+"*"))
	if err == nil {
		for _, m := range matches {
			if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
				a.log.Warn("orphaned artifact not removed", "path", m, "error", err)
			}
		}
	}
	return n
}

// ActiveSessions reports the number of in-flight uploads.
func (a *Assembler) ActiveSessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

const artifactPrefix = "streamhaven-intake-"

func (a *Assembler) openSessionLocked(uploadID string, meta ChunkMeta) (*session, error) {
	path := filepath.Join(a.tempDir, artifactPrefix+sanitizeID(uploadID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create assembly artifact: %w", err)
	}
	s := &session{
		meta:     meta,
		path:     path,
		file:     f,
		received: make(map[int]bool),
		created:  time.Now().UTC(),
	}
	a.sessions[uploadID] = s
	return s, nil
}

func (a *Assembler) teardownLocked(uploadID string, s *session) {
	delete(a.sessions, uploadID)
	s.file.Close()
	os.Remove(s.path)
}

func (a *Assembler) abort(uploadID string, s *session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.sessions[uploadID]; ok && cur == s {
		a.teardownLocked(uploadID, s)
	}
}

func (a *Assembler) missingBeforeLocked(s *session, index int) []string {
	var out []string
	for i := 0; i < index; i++ {
		if !s.received[i] {
			out = append(out, fmt.Sprintf("%d", i))
		}
	}
	return out
}

// sanitizeID keeps artifact names shell and filesystem safe.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}
