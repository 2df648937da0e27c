// published.go — PublishedRecord repository and out-of-band readiness sync.
// A published record is what remains after a staging item is successfully
// handed to the video host: catalog metadata plus the host's slug.
package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Readiness values for a published record. The host transcodes after upload;
// a record starts not_ready and flips once the slug reports ready.
const (
	ReadinessReady    = "ready"
	ReadinessNotReady = "not_ready"
)

// PublishedRecord is one successfully published video.
type PublishedRecord struct {
	ID         string    `json:"id"`
	CatalogID  string    `json:"catalogId,omitempty"`
	Title      string    `json:"title"`
	PosterPath string    `json:"posterPath,omitempty"`
	Slug       string    `json:"slug"`
	Readiness  string    `json:"readiness"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// PublishedRepo persists published records.
type PublishedRepo struct {
	db *sql.DB
}

// NewPublishedRepo builds the repository.
func NewPublishedRepo(db *sql.DB) *PublishedRepo {
	return &PublishedRepo{db: db}
}

const publishedColumns = `id, COALESCE(catalog_id, ''), title,
	COALESCE(poster_path, ''), slug, readiness, filename, size,
	created_at, updated_at`

// Create inserts a record for a freshly published item.
func (r *PublishedRepo) Create(ctx context.Context, rec *PublishedRecord) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO published_records
			(id, catalog_id, title, poster_path, slug, readiness, filename, size, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $9)`,
		rec.ID, rec.CatalogID, rec.Title, rec.PosterPath, rec.Slug,
		rec.Readiness, rec.Filename, rec.Size, now)
	if err != nil {
		return fmt.Errorf("insert published record: %w", err)
	}
	rec.CreatedAt, rec.UpdatedAt = now, now
	return nil
}

// Get returns one record by id.
func (r *PublishedRepo) Get(ctx context.Context, id string) (*PublishedRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+publishedColumns+` FROM published_records WHERE id = $1`, id)
	rec, err := scanPublished(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// List returns records newest-first with the total count.
func (r *PublishedRepo) List(ctx context.Context, limit, skip int) ([]PublishedRecord, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if skip < 0 {
		skip = 0
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM published_records`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count published records: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+publishedColumns+` FROM published_records
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, skip)
	if err != nil {
		return nil, 0, fmt.Errorf("list published records: %w", err)
	}
	defer rows.Close()

	recs := make([]PublishedRecord, 0, limit)
	for rows.Next() {
		rec, err := scanPublished(rows)
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, *rec)
	}
	return recs, total, rows.Err()
}

// listNotReady returns every record still awaiting transcode.
func (r *PublishedRepo) listNotReady(ctx context.Context) ([]PublishedRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+publishedColumns+` FROM published_records
		 WHERE readiness = $1 ORDER BY created_at ASC`, ReadinessNotReady)
	if err != nil {
		return nil, fmt.Errorf("list not-ready records: %w", err)
	}
	defer rows.Close()

	var recs []PublishedRecord
	for rows.Next() {
		rec, err := scanPublished(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// markReady flips one record to ready.
func (r *PublishedRepo) markReady(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE published_records SET readiness = $1, updated_at = $2 WHERE id = $3`,
		ReadinessReady, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark record ready: %w", err)
	}
	return nil
}

// SyncReadiness polls the host for every not_ready record and flips those
// that finished transcoding. Per-record failures are logged and skipped so
// one bad slug never blocks the rest. Returns checked and flipped counts.
func (r *PublishedRepo) SyncReadiness(ctx context.Context, host SlugChecker, log *slog.Logger) (checked, flipped int, err error) {
	recs, err := r.listNotReady(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, rec := range recs {
		checked++
		ready, err := host.SlugStatus(ctx, rec.Slug)
		if err != nil {
			log.Warn("readiness check failed", "slug", rec.Slug, "error", err)
			continue
		}
		if !ready {
			continue
		}
		if err := r.markReady(ctx, rec.ID); err != nil {
			log.Warn("readiness update failed", "id", rec.ID, "error", err)
			continue
		}
		flipped++
	}
	return checked, flipped, nil
}

// SlugChecker is the slice of the video host readiness sync needs.
type SlugChecker interface {
	SlugStatus(ctx context.Context, slug string) (bool, error)
}

func scanPublished(r rowScanner) (*PublishedRecord, error) {
	var rec PublishedRecord
	err := r.Scan(&rec.ID, &rec.CatalogID, &rec.Title, &rec.PosterPath,
		&rec.Slug, &rec.Readiness, &rec.Filename, &rec.Size,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
