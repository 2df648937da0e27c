// fakes_test.go — In-memory collaborators shared by the staging tests.
package staging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/adrian-purnama/streamhaven-be/internal/blobstore"
	"github.com/adrian-purnama/streamhaven-be/services/staging/internal/vidhost"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBlobStore is an in-memory BlobStore.
type fakeBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	types map[string]string

	putErr error
	getErr error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{
		blobs: make(map[string][]byte),
		types: make(map[string]string),
	}
}

func (f *fakeBlobStore) Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	if f.putErr != nil {
		return 0, f.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = b
	f.types[key] = contentType
	return int64(len(b)), nil
}

func (f *fakeBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blobs[key]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBlobStore) Stat(ctx context.Context, key string) (string, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blobs[key]
	if !ok {
		return "", 0, blobstore.ErrNotFound
	}
	return f.types[key], int64(len(b)), nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, key)
	delete(f.types, key)
	return nil
}

// fakeHost is a scriptable VideoHost.
type fakeHost struct {
	mu        sync.Mutex
	quota     vidhost.QuotaInfo
	quotaErr  error
	uploadErr error
	statusErr error
	ready     map[string]bool
	uploads   []string // paths seen by Upload
	nextSlug  int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		quota: vidhost.QuotaInfo{
			StorageLeftBytes: 1 << 40,
			DailyLeftBytes:   1 << 40,
			UploadSlotsLeft:  100,
		},
		ready: make(map[string]bool),
	}
}

func (f *fakeHost) AccountInfo(ctx context.Context) (vidhost.QuotaInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quota, f.quotaErr
}

func (f *fakeHost) Upload(ctx context.Context, path, filename, contentType string, size int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("upload source missing: %w", err)
	}
	f.uploads = append(f.uploads, path)
	f.nextSlug++
	return fmt.Sprintf("slug-%d", f.nextSlug), nil
}

func (f *fakeHost) SlugStatus(ctx context.Context, slug string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return false, f.statusErr
	}
	return f.ready[slug], nil
}

// memLedger implements serverLedger, itemLedger and processQueue over a map.
type memLedger struct {
	mu      sync.Mutex
	items   map[string]*Item
	content map[string][]byte
	order   []string

	createErr error
	openErr   error
}

func newMemLedger() *memLedger {
	return &memLedger{
		items:   make(map[string]*Item),
		content: make(map[string][]byte),
	}
}

func (m *memLedger) CreateFromStream(ctx context.Context, p CreateParams, r io.Reader, progress func(int)) (*Item, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	if !MimeAllowed(p.ContentType) {
		return nil, ErrInvalidMime
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if progress != nil {
		progress(100)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	it := &Item{
		ID:          id,
		Filename:    p.Filename,
		Size:        int64(len(b)),
		ContentType: p.ContentType,
		CatalogID:   p.CatalogID,
		Title:       p.Title,
		PosterPath:  p.PosterPath,
		Status:      StatusPending,
	}
	m.items[id] = it
	m.content[id] = b
	m.order = append(m.order, id)
	return it, nil
}

func (m *memLedger) OpenRead(ctx context.Context, id string) (io.ReadCloser, string, string, error) {
	if m.openErr != nil {
		return nil, "", "", m.openErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, "", "", ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(m.content[id])), it.ContentType, it.Filename, nil
}

func (m *memLedger) Update(ctx context.Context, id string, p UpdateParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != nil {
		it.Status = *p.Status
	}
	if p.ErrorMessage != nil {
		it.ErrorMessage = *p.ErrorMessage
	}
	if p.ExternalSlug != nil {
		it.ExternalSlug = *p.ExternalSlug
	}
	return nil
}

func (m *memLedger) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	delete(m.content, id)
	return nil
}

// soleItem returns the only staged item, failing unless exactly one exists.
func (m *memLedger) soleItem(t *testing.T) *Item {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.items, 1)
	for _, it := range m.items {
		return it
	}
	return nil
}

func (m *memLedger) List(ctx context.Context, p ListParams) ([]Item, int, error) {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 100
	}
	if p.Skip < 0 {
		p.Skip = 0
	}
	statuses := p.Statuses
	if len(statuses) == 0 {
		statuses = ProcessableStatuses()
	}
	want := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Item
	for i := len(m.order) - 1; i >= 0; i-- { // newest first
		it, ok := m.items[m.order[i]]
		if !ok || !want[it.Status] {
			continue
		}
		matched = append(matched, *it)
	}
	total := len(matched)
	if p.Skip >= total {
		return nil, total, nil
	}
	matched = matched[p.Skip:]
	if len(matched) > p.Limit {
		matched = matched[:p.Limit]
	}
	return matched, total, nil
}

func (m *memLedger) DeleteAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.items)
	m.items = make(map[string]*Item)
	m.content = make(map[string][]byte)
	m.order = nil
	return n, nil
}

func (m *memLedger) ResetStaleUploading(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, it := range m.items {
		if it.Status == StatusUploading {
			it.Status = StatusPending
			n++
		}
	}
	return n, nil
}

func (m *memLedger) ListProcessable(ctx context.Context, limit int) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Item
	for _, id := range m.order {
		it, ok := m.items[id]
		if !ok || !it.Status.IsProcessable() {
			continue
		}
		out = append(out, *it)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// memPublished implements recordCreator and publishedStore.
type memPublished struct {
	mu        sync.Mutex
	records   []PublishedRecord
	createErr error
}

func (m *memPublished) Create(ctx context.Context, rec *PublishedRecord) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *memPublished) List(ctx context.Context, limit, skip int) ([]PublishedRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := len(m.records)
	out := make([]PublishedRecord, 0, total)
	for i := total - 1; i >= 0; i-- { // newest first
		out = append(out, m.records[i])
	}
	if skip > len(out) {
		skip = len(out)
	}
	out = out[skip:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memPublished) SyncReadiness(ctx context.Context, host SlugChecker, log *slog.Logger) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var checked, flipped int
	for i := range m.records {
		if m.records[i].Readiness == ReadinessReady {
			continue
		}
		checked++
		ready, err := host.SlugStatus(ctx, m.records[i].Slug)
		if err != nil || !ready {
			continue
		}
		m.records[i].Readiness = ReadinessReady
		flipped++
	}
	return checked, flipped, nil
}

// fakeRateStore records rate-limit counter operations.
type fakeRateStore struct {
	mu      sync.Mutex
	counts  map[string]int64
	deleted []string
}

func newFakeRateStore() *fakeRateStore {
	return &fakeRateStore{counts: make(map[string]int64)}
}

func (f *fakeRateStore) Incr(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeRateStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (f *fakeRateStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return 0, nil
}

func (f *fakeRateStore) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, keys...)
	for _, k := range keys {
		delete(f.counts, k)
	}
	return nil
}

var errBoom = errors.New("boom")
