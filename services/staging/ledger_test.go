package staging

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrian-purnama/streamhaven-be/internal/testutil"
)

// These tests need Postgres; they skip when none is reachable.

func newTestLedger(t *testing.T) (*Ledger, *fakeBlobStore) {
	t.Helper()
	db := testutil.MustOpenDB(t)
	t.Cleanup(func() { db.Close() })
	testutil.TruncateStaging(t, db)

	blobs := newFakeBlobStore()
	return NewLedger(db, blobs, 1<<20), blobs
}

func mustStage(t *testing.T, l *Ledger, title, content string) *Item {
	t.Helper()
	item, err := l.CreateFromStream(context.Background(), CreateParams{
		Filename:    title + ".mp4",
		ContentType: "video/mp4",
		Title:       title,
		Size:        int64(len(content)),
	}, strings.NewReader(content), nil)
	require.NoError(t, err)
	return item
}

func TestLedgerCreateFromStream(t *testing.T) {
	l, blobs := newTestLedger(t)

	var percents []int
	item, err := l.CreateFromStream(context.Background(), CreateParams{
		Filename:    "movie.mp4",
		ContentType: "video/mp4",
		Title:       "Movie",
		CatalogID:   "cat-1",
		Size:        10,
	}, strings.NewReader("0123456789"), func(p int) { percents = append(percents, p) })
	require.NoError(t, err)

	assert.Equal(t, StatusPending, item.Status)
	assert.Equal(t, int64(10), item.Size)
	assert.Equal(t, "cat-1", item.CatalogID)
	assert.Equal(t, []byte("0123456789"), blobs.blobs[item.BlobKey])
	require.NotEmpty(t, percents)
	assert.Equal(t, 100, percents[len(percents)-1])
}

func TestLedgerCreateRejectsBadMime(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.CreateFromStream(context.Background(), CreateParams{
		Filename:    "doc.pdf",
		ContentType: "application/pdf",
		Title:       "doc",
		Size:        3,
	}, strings.NewReader("pdf"), nil)
	assert.ErrorIs(t, err, ErrInvalidMime)
}

func TestLedgerCreateEnforcesCeilingOnUnknownSize(t *testing.T) {
	l, blobs := newTestLedger(t)

	// Declared size unknown; the stream itself is over the 1 MiB ceiling.
	big := strings.NewReader(strings.Repeat("v", 1<<20+1))
	_, err := l.CreateFromStream(context.Background(), CreateParams{
		Filename:    "big.mp4",
		ContentType: "video/mp4",
		Title:       "big",
		Size:        -1,
	}, big, nil)
	require.ErrorIs(t, err, ErrTooLarge)

	assert.Empty(t, blobs.blobs, "oversize intake must not leave a blob behind")
	_, total, err := l.List(context.Background(), ListParams{})
	require.NoError(t, err)
	assert.Zero(t, total, "oversize intake must not leave a row behind")
}

func TestLedgerCreateCleansUpOnBlobFailure(t *testing.T) {
	l, blobs := newTestLedger(t)
	blobs.putErr = errBoom

	_, err := l.CreateFromStream(context.Background(), CreateParams{
		Filename:    "movie.mp4",
		ContentType: "video/mp4",
		Title:       "movie",
		Size:        3,
	}, strings.NewReader("abc"), nil)
	require.Error(t, err)

	_, total, err := l.List(context.Background(), ListParams{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestLedgerListNewestFirstWithTotal(t *testing.T) {
	l, _ := newTestLedger(t)

	mustStage(t, l, "first", "aaa")
	mustStage(t, l, "second", "bbb")
	third := mustStage(t, l, "third", "ccc")

	items, total, err := l.List(context.Background(), ListParams{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, third.ID, items[0].ID, "listing is newest first")
}

func TestLedgerListFiltersByStatus(t *testing.T) {
	l, _ := newTestLedger(t)

	a := mustStage(t, l, "a", "aaa")
	mustStage(t, l, "b", "bbb")

	failed := StatusDailyFail
	require.NoError(t, l.Update(context.Background(), a.ID, UpdateParams{Status: &failed}))

	items, total, err := l.List(context.Background(), ListParams{Statuses: []Status{StatusDailyFail}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0].ID)
}

func TestLedgerListHidesWritingAndUploading(t *testing.T) {
	l, _ := newTestLedger(t)

	a := mustStage(t, l, "a", "aaa")
	uploading := StatusUploading
	require.NoError(t, l.Update(context.Background(), a.ID, UpdateParams{Status: &uploading}))

	_, total, err := l.List(context.Background(), ListParams{})
	require.NoError(t, err)
	assert.Zero(t, total, "uploading rows never show in the default listing")
}

func TestLedgerListProcessableOldestFirst(t *testing.T) {
	l, _ := newTestLedger(t)

	first := mustStage(t, l, "first", "aaa")
	second := mustStage(t, l, "second", "bbb")

	items, err := l.ListProcessable(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID, "runs drain in intake order")
	assert.Equal(t, second.ID, items[1].ID)
}

func TestLedgerUpdatePartial(t *testing.T) {
	l, _ := newTestLedger(t)
	item := mustStage(t, l, "movie", "abc")

	msg := "host said no"
	st := StatusError
	require.NoError(t, l.Update(context.Background(), item.ID, UpdateParams{
		Status:       &st,
		ErrorMessage: &msg,
	}))

	got, err := l.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, msg, got.ErrorMessage)
	assert.Equal(t, "movie", got.Title, "untouched fields survive a partial update")

	assert.ErrorIs(t, l.Update(context.Background(), "3b6f0a42-0000-0000-0000-000000000000", UpdateParams{Status: &st}), ErrNotFound)
}

func TestLedgerDeleteIdempotent(t *testing.T) {
	l, blobs := newTestLedger(t)
	item := mustStage(t, l, "movie", "abc")

	require.NoError(t, l.Delete(context.Background(), item.ID))
	assert.Empty(t, blobs.blobs)

	// Second delete of the same id still succeeds.
	require.NoError(t, l.Delete(context.Background(), item.ID))

	_, err := l.Get(context.Background(), item.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedgerOpenRead(t *testing.T) {
	l, blobs := newTestLedger(t)
	item := mustStage(t, l, "movie", "abcdef")

	rc, contentType, filename, err := l.OpenRead(context.Background(), item.ID)
	require.NoError(t, err)
	defer rc.Close()

	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(b))
	assert.Equal(t, "video/mp4", contentType)
	assert.Equal(t, "movie.mp4", filename)

	// Row present but blob gone: same not-found contract.
	delete(blobs.blobs, item.BlobKey)
	_, _, _, err = l.OpenRead(context.Background(), item.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedgerDeleteAll(t *testing.T) {
	l, blobs := newTestLedger(t)
	mustStage(t, l, "a", "aaa")
	mustStage(t, l, "b", "bbb")

	n, err := l.DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, blobs.blobs)
}

func TestLedgerResetStaleUploading(t *testing.T) {
	l, _ := newTestLedger(t)

	a := mustStage(t, l, "a", "aaa")
	b := mustStage(t, l, "b", "bbb")
	uploading := StatusUploading
	require.NoError(t, l.Update(context.Background(), a.ID, UpdateParams{Status: &uploading}))

	n, err := l.ResetStaleUploading(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := l.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	got, err = l.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}
