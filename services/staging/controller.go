// controller.go — Run Controller: the single-flight drain of the staging
// queue. One run per process at a time, items strictly sequential, quota
// exhaustion stops the run, any other failure moves to the next item.
package staging

import (
	"context"
	"log/slog"

	"github.com/adrian-purnama/streamhaven-be/internal/metrics"
)

// RunSummary is the result of one drain run.
type RunSummary struct {
	Processed    int      `json:"processed"`
	Failed       int      `json:"failed"`
	QuotaStopped bool     `json:"quotaStopped"`
	State        RunState `json:"state"`
}

// processQueue is the slice of the ledger the controller needs.
type processQueue interface {
	ListProcessable(ctx context.Context, limit int) ([]Item, error)
}

// publisher is the slice of the pipeline the controller needs.
type publisher interface {
	PublishOne(ctx context.Context, item *Item) Outcome
}

// Controller triggers and supervises drain runs.
type Controller struct {
	ledger     processQueue
	pipeline   publisher
	runs       *RunTracker
	batchLimit int
	log        *slog.Logger
}

// NewController wires the controller.
func NewController(ledger processQueue, pipeline publisher, runs *RunTracker, batchLimit int, log *slog.Logger) *Controller {
	return &Controller{
		ledger:     ledger,
		pipeline:   pipeline,
		runs:       runs,
		batchLimit: batchLimit,
		log:        log,
	}
}

// Drain runs one publish pass over the processable queue. Returns
// ErrRunActive without touching anything when a run already holds the slot.
// The slot is always released, a panicking pipeline included.
func (c *Controller) Drain(ctx context.Context) (*RunSummary, error) {
	items, err := c.ledger.ListProcessable(ctx, c.batchLimit)
	if err != nil {
		return nil, err
	}

	snapshot := make([]RunSnapshotItem, len(items))
	for i, it := range items {
		snapshot[i] = RunSnapshotItem{ID: it.ID, Title: it.Title, Filename: it.Filename}
	}

	if !c.runs.TryStart(snapshot) {
		return nil, ErrRunActive
	}
	defer c.runs.End()

	c.log.Info("publish run started", "items", len(items))

	summary := &RunSummary{}
	for i := range items {
		item := &items[i]
		c.runs.SetCurrent(item.ID)

		switch c.pipeline.PublishOne(ctx, item) {
		case OutcomePublished:
			summary.Processed++
		case OutcomeFailed:
			summary.Failed++
		case OutcomeQuotaStop:
			summary.QuotaStopped = true
		}
		c.runs.Progress(summary.Processed, summary.Failed)

		if summary.QuotaStopped {
			break
		}
	}

	result := "completed"
	if summary.QuotaStopped {
		result = "quota_stopped"
	}
	metrics.PublishRuns.WithLabelValues(result).Inc()

	c.log.Info("publish run finished",
		"processed", summary.Processed,
		"failed", summary.Failed,
		"quota_stopped", summary.QuotaStopped)

	summary.State = c.runs.State()
	// End has not run yet; the summary reflects the finished run.
	summary.State.IsRunning = false
	summary.State.CurrentItemID = ""
	return summary, nil
}
