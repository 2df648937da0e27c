// ledger.go — Staging Ledger: the durable record of files awaiting publish.
// Each item is one row in staging_items plus one object in the blob store,
// keyed by blob_key. The ledger owns both halves; callers never touch the
// blob store directly.
package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// BlobStore is the slice of the blob store the ledger consumes. Satisfied by
// *blobstore.Store; tests supply an in-memory fake.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (contentType string, size int64, err error)
	Delete(ctx context.Context, key string) error
}

// Item is one staged file.
type Item struct {
	ID           string    `json:"id"`
	BlobKey      string    `json:"-"`
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"contentType"`
	CatalogID    string    `json:"catalogId,omitempty"`
	Title        string    `json:"title"`
	PosterPath   string    `json:"posterPath,omitempty"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	ExternalSlug string    `json:"externalSlug,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CreateParams carries the metadata side of an intake.
type CreateParams struct {
	Filename    string
	ContentType string
	CatalogID   string
	Title       string
	PosterPath  string
	// Size is the declared byte length, or <0 when unknown (chunked intake
	// streams the assembled artifact without re-stating a length).
	Size int64
}

// UpdateParams is a partial update; nil fields are left untouched.
type UpdateParams struct {
	Status       *Status
	ErrorMessage *string
	ExternalSlug *string
	Title        *string
	PosterPath   *string
}

// ListParams filters and pages a listing.
type ListParams struct {
	Statuses []Status // empty = any status except writing/uploading
	Limit    int      // clamped to [1,100]
	Skip     int      // clamped to >=0
}

// Ledger is the staging item repository.
type Ledger struct {
	db      *sql.DB
	blobs   BlobStore
	maxSize int64
}

// NewLedger builds a ledger over db and blobs. maxSize caps accepted files.
func NewLedger(db *sql.DB, blobs BlobStore, maxSize int64) *Ledger {
	return &Ledger{db: db, blobs: blobs, maxSize: maxSize}
}

const itemColumns = `id, blob_key, filename, size, content_type,
	COALESCE(catalog_id, ''), title, COALESCE(poster_path, ''), status,
	COALESCE(error_message, ''), COALESCE(external_slug, ''), created_at, updated_at`

// CreateFromStream validates the intake, streams r into the blob store and
// inserts the row. The row is written first in status writing so a crash
// mid-stream leaves a visible stub rather than an orphaned blob; on success
// the row flips to pending with the measured size. progress, when non-nil,
// receives a percentage (0-100) as bytes flow, or -1 repeatedly when the
// declared size is unknown.
func (l *Ledger) CreateFromStream(ctx context.Context, p CreateParams, r io.Reader, progress func(percent int)) (*Item, error) {
	if !MimeAllowed(p.ContentType) {
		return nil, ErrInvalidMime
	}
	if p.Size > l.maxSize {
		return nil, ErrTooLarge
	}

	id := uuid.New().String()
	blobKey := "staging/" + id
	now := time.Now().UTC()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO staging_items (id, blob_key, filename, size, content_type,
			catalog_id, title, poster_path, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10, $10)`,
		id, blobKey, p.Filename, max64(p.Size, 0), p.ContentType,
		p.CatalogID, p.Title, p.PosterPath, StatusWriting, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert staging item: %w", err)
	}

	counted := r
	if progress != nil {
		counted = &progressReader{r: r, total: p.Size, report: progress}
	}
	if l.maxSize > 0 {
		counted = io.LimitReader(counted, l.maxSize+1)
	}

	written, err := l.blobs.Put(ctx, blobKey, p.ContentType, counted)
	if err == nil && written > l.maxSize {
		err = ErrTooLarge
	}
	if err != nil {
		// Best effort: remove both halves of the failed intake.
		_ = l.blobs.Delete(ctx, blobKey)
		_, _ = l.db.ExecContext(ctx, `DELETE FROM staging_items WHERE id = $1`, id)
		if errors.Is(err, ErrTooLarge) {
			return nil, ErrTooLarge
		}
		return nil, fmt.Errorf("write staging blob: %w", err)
	}

	_, err = l.db.ExecContext(ctx,
		`UPDATE staging_items SET status = $1, size = $2, updated_at = $3 WHERE id = $4`,
		StatusPending, written, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("finalize staging item: %w", err)
	}
	if progress != nil {
		progress(100)
	}

	return l.Get(ctx, id)
}

// Get returns one item by id, including writing/uploading rows. Returns
// ErrNotFound when the row does not exist.
func (l *Ledger) Get(ctx context.Context, id string) (*Item, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM staging_items WHERE id = $1`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

// List returns items newest-first plus the total matching count. Rows in
// writing or uploading are excluded unless explicitly requested.
func (l *Ledger) List(ctx context.Context, p ListParams) ([]Item, int, error) {
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
	set := make([]string, len(statuses))
	for i, s := range statuses {
		set[i] = string(s)
	}

	var total int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM staging_items WHERE status = ANY($1)`, pq.Array(set),
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count staging items: %w", err)
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM staging_items
		 WHERE status = ANY($1)
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, pq.Array(set), p.Limit, p.Skip)
	if err != nil {
		return nil, 0, fmt.Errorf("list staging items: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0, p.Limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *item)
	}
	return items, total, rows.Err()
}

// ListProcessable returns up to limit drainable items, oldest first, so a
// run works in intake order.
func (l *Ledger) ListProcessable(ctx context.Context, limit int) ([]Item, error) {
	set := make([]string, 0, 5)
	for _, s := range ProcessableStatuses() {
		set = append(set, string(s))
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM staging_items
		 WHERE status = ANY($1)
		 ORDER BY created_at ASC
		 LIMIT $2`, pq.Array(set), limit)
	if err != nil {
		return nil, fmt.Errorf("list processable items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// Update applies a partial update. Unknown ids return ErrNotFound.
func (l *Ledger) Update(ctx context.Context, id string, p UpdateParams) error {
	if p.Status != nil && !p.Status.Valid() &&
		*p.Status != StatusReady && *p.Status != StatusNotReady {
		return fmt.Errorf("staging: invalid status %q", *p.Status)
	}

	res, err := l.db.ExecContext(ctx,
		`UPDATE staging_items SET
			status        = COALESCE($2, status),
			error_message = COALESCE($3, error_message),
			external_slug = COALESCE($4, external_slug),
			title         = COALESCE($5, title),
			poster_path   = COALESCE($6, poster_path),
			updated_at    = $7
		 WHERE id = $1`,
		id, statusArg(p.Status), p.ErrorMessage, p.ExternalSlug,
		p.Title, p.PosterPath, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update staging item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the row and its blob. Idempotent: a missing row and a
// missing blob both succeed, and the blob delete happens even when the row
// is already gone.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	var blobKey string
	err := l.db.QueryRowContext(ctx,
		`SELECT blob_key FROM staging_items WHERE id = $1`, id).Scan(&blobKey)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Row already gone; the blob key is derivable, so still sweep it.
		return l.blobs.Delete(ctx, "staging/"+id)
	case err != nil:
		return fmt.Errorf("load staging item: %w", err)
	}

	if err := l.blobs.Delete(ctx, blobKey); err != nil {
		return fmt.Errorf("delete staging blob: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, `DELETE FROM staging_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete staging item: %w", err)
	}
	return nil
}

// DeleteAll removes every staging row and blob. Used by purge.
func (l *Ledger) DeleteAll(ctx context.Context) (int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, blob_key FROM staging_items`)
	if err != nil {
		return 0, fmt.Errorf("list staging items: %w", err)
	}
	defer rows.Close()

	type pair struct{ id, key string }
	var all []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.id, &p.key); err != nil {
			return 0, err
		}
		all = append(all, p)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	deleted := 0
	for _, p := range all {
		if err := l.blobs.Delete(ctx, p.key); err != nil {
			return deleted, fmt.Errorf("delete staging blob %s: %w", p.key, err)
		}
		if _, err := l.db.ExecContext(ctx, `DELETE FROM staging_items WHERE id = $1`, p.id); err != nil {
			return deleted, fmt.Errorf("delete staging item %s: %w", p.id, err)
		}
		deleted++
	}
	return deleted, nil
}

// OpenRead returns the item's blob stream plus its content type and filename.
// Either a missing row or a missing blob yields ErrNotFound.
func (l *Ledger) OpenRead(ctx context.Context, id string) (rc io.ReadCloser, contentType, filename string, err error) {
	item, err := l.Get(ctx, id)
	if err != nil {
		return nil, "", "", err
	}
	rc, err = l.blobs.Get(ctx, item.BlobKey)
	if err != nil {
		// The row exists but the object is gone: surface the same not-found
		// the caller already handles, not a storage internals error.
		return nil, "", "", ErrNotFound
	}
	return rc, item.ContentType, item.Filename, nil
}

// ResetStaleUploading returns uploading rows to pending. Uploading is owned
// by a live run; after a crash the owner is gone and the rows are stranded.
// Operator-triggered via the reconcile endpoint.
func (l *Ledger) ResetStaleUploading(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE staging_items SET status = $1, updated_at = $2 WHERE status = $3`,
		StatusPending, time.Now().UTC(), StatusUploading)
	if err != nil {
		return 0, fmt.Errorf("reset uploading items: %w", err)
	}
	return res.RowsAffected()
}

// ─── helpers ───────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (*Item, error) {
	var it Item
	err := r.Scan(&it.ID, &it.BlobKey, &it.Filename, &it.Size, &it.ContentType,
		&it.CatalogID, &it.Title, &it.PosterPath, &it.Status,
		&it.ErrorMessage, &it.ExternalSlug, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func statusArg(s *Status) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// progressReader reports percent complete as bytes pass through, or -1 when
// the total is unknown.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(percent int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total <= 0 {
		p.report(-1)
		return n, err
	}
	pct := int(p.read * 100 / p.total)
	if pct > 100 {
		pct = 100
	}
	if pct != p.last {
		p.last = pct
		p.report(pct)
	}
	return n, err
}
