// pipeline.go — Publish Pipeline: moves one staging item to the video host.
//
// Per item: fetch account quota, evaluate the three exhaustion kinds,
// materialize the blob to a private temp file (the host requires an exact
// Content-Length), upload, record the published result, delete the staging
// row and blob. Every failure is classified into a staging status here; the
// controller loop only ever sees an outcome, never a raw error.
package staging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/adrian-purnama/streamhaven-be/internal/metrics"
	"github.com/adrian-purnama/streamhaven-be/pkg/telemetry"
	"github.com/adrian-purnama/streamhaven-be/services/staging/internal/vidhost"
)

// VideoHost is the slice of the host client the pipeline consumes.
// Satisfied by *vidhost.Client; tests supply a fake.
type VideoHost interface {
	AccountInfo(ctx context.Context) (vidhost.QuotaInfo, error)
	Upload(ctx context.Context, path, filename, contentType string, size int64) (string, error)
	SlugStatus(ctx context.Context, slug string) (bool, error)
}

// Outcome classifies one item's trip through the pipeline.
type Outcome int

const (
	// OutcomePublished: uploaded, recorded, staging row deleted.
	OutcomePublished Outcome = iota
	// OutcomeFailed: this item failed; the run continues with the next one.
	OutcomeFailed
	// OutcomeQuotaStop: the account cannot take this upload; the item was
	// marked with the exhaustion kind and the run must stop.
	OutcomeQuotaStop
)

// itemLedger is the slice of the ledger the pipeline needs.
type itemLedger interface {
	OpenRead(ctx context.Context, id string) (rc io.ReadCloser, contentType, filename string, err error)
	Update(ctx context.Context, id string, p UpdateParams) error
	Delete(ctx context.Context, id string) error
}

// recordCreator is the slice of the published repo the pipeline needs.
type recordCreator interface {
	Create(ctx context.Context, rec *PublishedRecord) error
}

// Pipeline publishes staging items.
type Pipeline struct {
	ledger    itemLedger
	published recordCreator
	host      VideoHost
	tempDir   string
	log       *slog.Logger
}

// NewPipeline wires the pipeline's collaborators.
func NewPipeline(ledger itemLedger, published recordCreator, host VideoHost, tempDir string, log *slog.Logger) *Pipeline {
	return &Pipeline{
		ledger:    ledger,
		published: published,
		host:      host,
		tempDir:   tempDir,
		log:       log,
	}
}

// PublishOne runs the pipeline for item. The returned Outcome is the whole
// contract; errors are absorbed into item status updates.
func (p *Pipeline) PublishOne(ctx context.Context, item *Item) Outcome {
	start := time.Now()
	outcome := p.publishOne(ctx, item)
	metrics.PublishItemDuration.Observe(time.Since(start).Seconds())

	switch outcome {
	case OutcomePublished:
		metrics.PublishItems.WithLabelValues("published").Inc()
	case OutcomeFailed:
		metrics.PublishItems.WithLabelValues("failed").Inc()
	case OutcomeQuotaStop:
		metrics.PublishItems.WithLabelValues("quota_stopped").Inc()
	}
	return outcome
}

func (p *Pipeline) publishOne(ctx context.Context, item *Item) Outcome {
	quota, err := p.host.AccountInfo(ctx)
	if err != nil {
		p.failItem(ctx, item, fmt.Sprintf("account quota fetch failed: %v", err))
		return OutcomeFailed
	}

	if status, exhausted := evalQuota(quota, item.Size); exhausted {
		p.log.Warn("quota exhausted, stopping run",
			"staging_id", item.ID, "status", status,
			"storage_left", quota.StorageLeftBytes,
			"daily_left", quota.DailyLeftBytes,
			"slots_left", quota.UploadSlotsLeft)
		p.setStatus(ctx, item, status, "")
		return OutcomeQuotaStop
	}

	p.setStatus(ctx, item, StatusUploading, "")

	rc, _, _, err := p.ledger.OpenRead(ctx, item.ID)
	if err != nil {
		// A missing blob is this item's problem, not the account's.
		p.failItem(ctx, item, fmt.Sprintf("staging blob unreadable: %v", err))
		return OutcomeFailed
	}

	tmpPath, size, err := p.materialize(rc, item.ID)
	rc.Close()
	if err != nil {
		p.failItem(ctx, item, fmt.Sprintf("temp file write failed: %v", err))
		return OutcomeFailed
	}
	// The temp file is removed on every path out of here.
	defer os.Remove(tmpPath)

	slug, err := p.host.Upload(ctx, tmpPath, item.Filename, item.ContentType, size)
	if err != nil {
		telemetry.CaptureError(err, map[string]string{
			"operation":  "publish.upload",
			"staging_id": item.ID,
		})
		p.failItem(ctx, item, fmt.Sprintf("host upload failed: %v", err))
		return OutcomeFailed
	}

	readiness := ReadinessNotReady
	ready, err := p.host.SlugStatus(ctx, slug)
	if err != nil {
		// The upload itself succeeded, so record not_ready and let the
		// readiness sync flip it later instead of re-uploading the file.
		telemetry.CaptureError(err, map[string]string{
			"operation":  "publish.slug_status",
			"staging_id": item.ID,
			"slug":       slug,
		})
		p.log.Warn("slug readiness check failed, recording not_ready",
			"staging_id", item.ID, "slug", slug, "error", err)
	} else if ready {
		readiness = ReadinessReady
	}

	// Mirror the final state onto the row before it goes away.
	mirror := StatusNotReady
	if readiness == ReadinessReady {
		mirror = StatusReady
	}
	p.setStatus(ctx, item, mirror, "")
	_ = p.ledger.Update(ctx, item.ID, UpdateParams{ExternalSlug: &slug})

	rec := &PublishedRecord{
		ID:         uuid.New().String(),
		CatalogID:  item.CatalogID,
		Title:      item.Title,
		PosterPath: item.PosterPath,
		Slug:       slug,
		Readiness:  readiness,
		Filename:   item.Filename,
		Size:       item.Size,
	}
	if err := p.published.Create(ctx, rec); err != nil {
		// Uploaded but unrecorded: keep the staging row so the operator can
		// see it. The slug is already on the row for manual recovery.
		telemetry.CaptureError(err, map[string]string{
			"operation": "publish.record",
			"slug":      slug,
		})
		p.failItem(ctx, item, fmt.Sprintf("published record insert failed (slug %s): %v", slug, err))
		return OutcomeFailed
	}

	if err := p.ledger.Delete(ctx, item.ID); err != nil {
		// The publish itself succeeded; log and move on rather than failing
		// a done item. Purge will sweep the leftover.
		p.log.Error("staging cleanup failed after publish",
			"staging_id", item.ID, "slug", slug, "error", err)
	}

	p.log.Info("item published",
		"staging_id", item.ID, "slug", slug, "size", size, "readiness", readiness)
	return OutcomePublished
}

// evalQuota maps the three exhaustion kinds onto their staging statuses.
// Checked in a fixed order so an account failing several checks reports the
// same kind every run.
func evalQuota(q vidhost.QuotaInfo, size int64) (Status, bool) {
	switch {
	case q.StorageLeftBytes < size:
		return StatusStorageFail, true
	case q.DailyLeftBytes < size:
		return StatusDailyFail, true
	case q.UploadSlotsLeft < 1:
		return StatusMaxUploadFail, true
	}
	return "", false
}

// materialize streams rc into a fresh private temp file and returns its path
// and exact size.
func (p *Pipeline) materialize(rc io.Reader, itemID string) (string, int64, error) {
	f, err := os.CreateTemp(p.tempDir, "streamhaven-publish-"+sanitizeID(itemID)+"-*")
	if err != nil {
		return "", 0, err
	}
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", 0, err
	}

	size, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", 0, err
	}
	return filepath.Clean(f.Name()), size, nil
}

func (p *Pipeline) failItem(ctx context.Context, item *Item, msg string) {
	p.log.Warn("publish failed", "staging_id", item.ID, "reason", msg)
	p.setStatus(ctx, item, StatusError, msg)
}

func (p *Pipeline) setStatus(ctx context.Context, item *Item, s Status, errMsg string) {
	params := UpdateParams{Status: &s}
	if errMsg != "" {
		params.ErrorMessage = &errMsg
	}
	if err := p.ledger.Update(ctx, item.ID, params); err != nil {
		p.log.Error("status update failed",
			"staging_id", item.ID, "status", s, "error", err)
	}
	item.Status = s
}
