package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"

	"github.com/aluiziolira/go-auction-ingest/models"
)

// ErrRunClosed is returned when a tracker is completed or failed twice.
var ErrRunClosed = eris.New("pipeline: run already closed")

// RunStore persists ingestion runs.
type RunStore interface {
	StartRun(ctx context.Context, source string, startedAt time.Time) (*models.IngestionRun, error)
	FinishRun(ctx context.Context, run *models.IngestionRun) error
}

// Tracker owns the lifecycle of one ingestion run. Counters are safe for
// concurrent use; the run row is written on start and once on close.
type Tracker struct {
	store RunStore
	run   *models.IngestionRun
	now   func() time.Time

	totalFound atomic.Int64
	totalSet   atomic.Bool
	newItems   atomic.Int64
	updated    atomic.Int64
	discarded  atomic.Int64
	errors     atomic.Int64
	pages      atomic.Int64

	closed atomic.Bool
}

// StartTracker opens a running run row for source.
func StartTracker(ctx context.Context, store RunStore, source string, now func() time.Time) (*Tracker, error) {
	if now == nil {
		now = time.Now
	}
	run, err := store.StartRun(ctx, source, now())
	if err != nil {
		return nil, err
	}
	return &Tracker{store: store, run: run, now: now}, nil
}

// RunID returns the persisted run id.
func (t *Tracker) RunID() int64 { return t.run.ID }

// SetTotalFound records the number of candidate bundles extracted for the
// run. Only the first call has an effect; it reports whether it did.
func (t *Tracker) SetTotalFound(n int) bool {
	if !t.totalSet.CompareAndSwap(false, true) {
		return false
	}
	t.totalFound.Store(int64(n))
	return true
}

func (t *Tracker) IncNew()       { t.newItems.Add(1) }
func (t *Tracker) IncUpdated()   { t.updated.Add(1) }
func (t *Tracker) IncDiscarded() { t.discarded.Add(1) }
func (t *Tracker) IncError()     { t.errors.Add(1) }
func (t *Tracker) IncPage()      { t.pages.Add(1) }

// Counters returns a snapshot of the aggregate counters.
func (t *Tracker) Counters() models.RunCounters {
	return models.RunCounters{
		TotalFound:     int(t.totalFound.Load()),
		NewItems:       int(t.newItems.Load()),
		UpdatedItems:   int(t.updated.Load()),
		DiscardedItems: int(t.discarded.Load()),
		ErrorCount:     int(t.errors.Load()),
		PagesFetched:   int(t.pages.Load()),
	}
}

// Complete closes the run as completed.
func (t *Tracker) Complete(ctx context.Context) (*models.IngestionRun, error) {
	return t.close(ctx, models.RunCompleted, nil)
}

// Fail closes the run as failed with cause's message.
func (t *Tracker) Fail(ctx context.Context, cause error) (*models.IngestionRun, error) {
	return t.close(ctx, models.RunFailed, cause)
}

func (t *Tracker) close(ctx context.Context, status models.RunStatus, cause error) (*models.IngestionRun, error) {
	if !t.closed.CompareAndSwap(false, true) {
		return nil, eris.Wrapf(ErrRunClosed, "run %d", t.run.ID)
	}

	finished := t.now()
	c := t.Counters()
	run := *t.run
	run.Status = status
	run.TotalFound = c.TotalFound
	run.NewItems = c.NewItems
	run.UpdatedItems = c.UpdatedItems
	run.DiscardedItems = c.DiscardedItems
	run.ErrorCount = c.ErrorCount
	run.PagesFetched = c.PagesFetched
	run.FinishedAt = &finished
	run.ExecutionTime = finished.Sub(run.StartedAt)
	if cause != nil {
		msg := cause.Error()
		run.ErrorMessage = &msg
	}

	if err := t.store.FinishRun(ctx, &run); err != nil {
		return &run, err
	}
	t.run = &run
	return &run, nil
}
