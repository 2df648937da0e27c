package staging

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrian-purnama/streamhaven-be/internal/testutil"
)

func newTestPublished(t *testing.T) *PublishedRepo {
	t.Helper()
	db := testutil.MustOpenDB(t)
	t.Cleanup(func() { db.Close() })
	testutil.TruncateStaging(t, db)
	return NewPublishedRepo(db)
}

func publishRecord(t *testing.T, repo *PublishedRepo, title, slug, readiness string) *PublishedRecord {
	t.Helper()
	rec := &PublishedRecord{
		ID:        uuid.New().String(),
		Title:     title,
		Slug:      slug,
		Readiness: readiness,
		Filename:  title + ".mp4",
		Size:      100,
	}
	require.NoError(t, repo.Create(context.Background(), rec))
	return rec
}

func TestPublishedCreateAndGet(t *testing.T) {
	repo := newTestPublished(t)
	rec := publishRecord(t, repo, "movie", "slug-a", ReadinessNotReady)

	got, err := repo.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "movie", got.Title)
	assert.Equal(t, "slug-a", got.Slug)
	assert.Equal(t, ReadinessNotReady, got.Readiness)

	_, err = repo.Get(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPublishedListNewestFirst(t *testing.T) {
	repo := newTestPublished(t)
	publishRecord(t, repo, "old", "slug-1", ReadinessReady)
	latest := publishRecord(t, repo, "new", "slug-2", ReadinessReady)

	recs, total, err := repo.List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, recs, 2)
	assert.Equal(t, latest.ID, recs[0].ID)
}

func TestPublishedSyncReadiness(t *testing.T) {
	repo := newTestPublished(t)
	pending := publishRecord(t, repo, "pending", "slug-p", ReadinessNotReady)
	still := publishRecord(t, repo, "still", "slug-s", ReadinessNotReady)
	publishRecord(t, repo, "done", "slug-d", ReadinessReady)

	host := newFakeHost()
	host.ready["slug-p"] = true

	checked, flipped, err := repo.SyncReadiness(context.Background(), host, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, checked, "ready records are not re-polled")
	assert.Equal(t, 1, flipped)

	got, err := repo.Get(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, ReadinessReady, got.Readiness)

	got, err = repo.Get(context.Background(), still.ID)
	require.NoError(t, err)
	assert.Equal(t, ReadinessNotReady, got.Readiness)
}
