// Package pipeline drives ingestion runs: it pages a source, extracts and
// normalizes candidates, submits them to the store and tracks the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-auction-ingest/config"
	"github.com/aluiziolira/go-auction-ingest/extractor"
	"github.com/aluiziolira/go-auction-ingest/metrics"
	"github.com/aluiziolira/go-auction-ingest/models"
	"github.com/aluiziolira/go-auction-ingest/parser"
	"github.com/aluiziolira/go-auction-ingest/scraper"
	"github.com/aluiziolira/go-auction-ingest/store"
)

// ErrRunInProgress is returned when another run holds the source lease.
var ErrRunInProgress = eris.New("pipeline: run already in progress")

// ErrLeaseLost fails a run whose lease was taken over by another owner.
var ErrLeaseLost = eris.New("pipeline: lease lost to another owner")

// Store is the persistence the orchestrator writes to.
type Store interface {
	RunStore
	Upsert(ctx context.Context, rec *models.PropertyRecord) (store.Outcome, error)
}

// Orchestrator runs ingestion for one source at a time per call. Calls for
// different sources may run concurrently.
type Orchestrator struct {
	store   Store
	leaser  Leaser
	cfg     config.PipelineConfig
	metrics *metrics.Metrics
	now     func() time.Time
	sleep   func(time.Duration)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics attaches run and candidate metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleep overrides the pacing delay implementation.
func WithSleep(sleep func(time.Duration)) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// New builds an orchestrator.
func New(st Store, leaser Leaser, cfg config.PipelineConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  st,
		leaser: leaser,
		cfg:    cfg,
		now:    time.Now,
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewExtractor builds the extractor for a configured source.
func NewExtractor(src config.SourceConfig, minAddressLength int) *extractor.Extractor {
	opts := []extractor.Option{
		extractor.WithSelectors(src.Selectors...),
		extractor.WithMinAddressLength(minAddressLength),
		extractor.WithDelimiter(src.Delimiter),
	}
	if len(src.Columns) > 0 {
		columns := make(map[models.Field]int, len(src.Columns))
		for field, idx := range src.Columns {
			columns[models.Field(field)] = idx
		}
		opts = append(opts, extractor.WithColumns(columns))
	}
	if len(src.ItemPaths) > 0 {
		if src.Format == "xml" {
			opts = append(opts, extractor.WithItemPaths(nil, src.ItemPaths))
		} else {
			opts = append(opts, extractor.WithItemPaths(src.ItemPaths, nil))
		}
	}
	return extractor.New(opts...)
}

// RunSource builds the adapter and extractor for cfg and runs it.
func (o *Orchestrator) RunSource(ctx context.Context, cfg config.SourceConfig, opts ...scraper.Option) (*models.IngestionRun, error) {
	opts = append([]scraper.Option{scraper.WithMetrics(o.metrics)}, opts...)
	src, err := scraper.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, src, NewExtractor(cfg, o.cfg.MinAddressLength), o.limits(cfg))
}

type pageLimits struct {
	maxPages int
	delay    time.Duration
}

// limits applies a source's page overrides to the shared settings.
func (o *Orchestrator) limits(src config.SourceConfig) pageLimits {
	l := pageLimits{maxPages: o.cfg.MaxPages, delay: o.cfg.PageDelay}
	if src.MaxPages > 0 {
		l.maxPages = src.MaxPages
	}
	if src.PageDelay > 0 {
		l.delay = src.PageDelay
	}
	return l
}

// Run executes one ingestion run for src. The source is closed and the
// lease released on every return path. A failed run is returned together
// with the error that failed it.
func (o *Orchestrator) Run(ctx context.Context, src scraper.Source, ex *extractor.Extractor) (*models.IngestionRun, error) {
	return o.run(ctx, src, ex, o.limits(config.SourceConfig{}))
}

func (o *Orchestrator) run(ctx context.Context, src scraper.Source, ex *extractor.Extractor, lim pageLimits) (*models.IngestionRun, error) {
	defer src.Close() //nolint:errcheck

	name := src.Name()
	logger := zap.L().With(zap.String("component", "pipeline"), zap.String("source", name))

	lease, err := o.leaser.AcquireLease(ctx, name, o.cfg.LeaseTTL)
	if errors.Is(err, store.ErrLeaseHeld) {
		o.metrics.RunSkipped(name)
		logger.Info("run skipped, source already running")
		return nil, eris.Wrapf(ErrRunInProgress, "source %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: %s: acquire lease", name)
	}
	keeper := &leaseKeeper{leaser: o.leaser, lease: lease, ttl: o.cfg.LeaseTTL, now: o.now}
	defer func() {
		if err := o.leaser.ReleaseLease(context.WithoutCancel(ctx), keeper.lease); err != nil {
			logger.Warn("lease release failed", zap.Error(err))
		}
	}()

	tracker, err := StartTracker(ctx, o.store, name, o.now)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: %s: start run", name)
	}
	logger = logger.With(zap.Int64("run_id", tracker.RunID()))
	o.metrics.RunStarted()

	if d, ok := src.(interface{ Degraded() bool }); ok && d.Degraded() {
		logger.Warn("source degraded, ingesting fallback dataset")
	}

	var snap *SnapshotWriter
	if o.cfg.SnapshotOnEmpty {
		snap = NewSnapshotWriter(o.cfg.SnapshotDir, name, tracker.RunID())
	}
	defer func() {
		if err := snap.Close(); err != nil {
			logger.Warn("snapshot close failed", zap.Error(err))
		}
	}()

	found, runErr := o.pages(ctx, src, ex, lim, keeper, tracker, snap, logger)
	tracker.SetTotalFound(found)

	closeCtx := context.WithoutCancel(ctx)
	var run *models.IngestionRun
	var closeErr error
	if runErr != nil {
		run, closeErr = tracker.Fail(closeCtx, runErr)
	} else {
		run, closeErr = tracker.Complete(closeCtx)
	}
	o.metrics.RunFinished(name, string(run.Status), run.ExecutionTime)

	fields := []zap.Field{
		zap.String("status", string(run.Status)),
		zap.Int("pages", run.PagesFetched),
		zap.Int("found", run.TotalFound),
		zap.Int("new", run.NewItems),
		zap.Int("updated", run.UpdatedItems),
		zap.Int("discarded", run.DiscardedItems),
		zap.Int("errors", run.ErrorCount),
		zap.Duration("elapsed", run.ExecutionTime),
	}
	if runErr != nil {
		logger.Error("run failed", append(fields, zap.Error(runErr))...)
	} else {
		logger.Info("run completed", fields...)
	}

	if closeErr != nil {
		return run, eris.Wrapf(closeErr, "pipeline: %s: close run", name)
	}
	return run, runErr
}

// pages fetches until end of stream, the page cap, a fetch failure, a lost
// lease or cancellation. It returns the number of candidates extracted.
func (o *Orchestrator) pages(ctx context.Context, src scraper.Source, ex *extractor.Extractor, lim pageLimits, keeper *leaseKeeper, tr *Tracker, snap *SnapshotWriter, logger *zap.Logger) (found int, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = eris.New(fmt.Sprintf("pipeline: panic: %v", r))
		}
	}()

	for cursor := 0; ; cursor++ {
		if lim.maxPages > 0 && cursor >= lim.maxPages {
			logger.Warn("page cap reached", zap.Int("max_pages", lim.maxPages))
			return found, nil
		}
		if err := ctx.Err(); err != nil {
			return found, eris.Wrapf(err, "pipeline: cancelled before page %d", cursor)
		}
		if cursor > 0 && lim.delay > 0 {
			o.sleep(lim.delay)
		}
		if err := keeper.keep(ctx); errors.Is(err, ErrLeaseLost) {
			return found, err
		} else if err != nil {
			logger.Warn("lease renewal failed", zap.Int("page", cursor), zap.Error(err))
		}

		doc, err := src.Fetch(ctx, cursor)
		if errors.Is(err, scraper.ErrEndOfStream) {
			return found, nil
		}
		if err != nil {
			return found, err
		}
		tr.IncPage()

		result := ex.Extract(doc)
		found += len(result.Candidates)
		logger.Debug("page extracted",
			zap.Int("page", cursor),
			zap.String("strategy", result.Strategy),
			zap.Int("rows", result.Rows),
			zap.Int("candidates", len(result.Candidates)),
			zap.Int("noise", result.Discarded),
			zap.Bool("layout_mismatch", doc.LayoutMismatch),
		)
		if len(result.Candidates) == 0 {
			if err := snap.Write(doc); err != nil {
				logger.Warn("snapshot write failed", zap.Error(err))
			}
		}

		for _, c := range result.Candidates {
			o.submit(ctx, src.Name(), c, tr, logger)
		}
	}
}

// submit normalizes and upserts one candidate. Failures are counted, never
// returned. The upsert ignores cancellation once started.
func (o *Orchestrator) submit(ctx context.Context, source string, c *models.Candidate, tr *Tracker, logger *zap.Logger) {
	rec, quality := parser.Normalize(c, source, o.now())
	if err := parser.ValidateRecord(rec); err != nil {
		tr.IncDiscarded()
		o.metrics.IncCandidate(source, "discarded")
		logger.Debug("candidate discarded", zap.Int("row", c.RowIndex), zap.Error(err))
		return
	}
	if quality.Degraded() {
		fields := make([]string, 0, len(quality.LowConfidence))
		for _, f := range quality.LowConfidence {
			fields = append(fields, string(f))
		}
		logger.Debug("low confidence fields", zap.String("case_number", rec.CaseNumber), zap.Strings("fields", fields))
	}

	outcome, err := o.store.Upsert(context.WithoutCancel(ctx), rec)
	switch {
	case errors.Is(err, store.ErrMissingIdentity):
		tr.IncDiscarded()
		o.metrics.IncCandidate(source, "discarded")
	case err != nil:
		tr.IncError()
		o.metrics.IncCandidate(source, "error")
		logger.Warn("upsert failed",
			zap.String("case_number", rec.CaseNumber),
			zap.String("item_number", rec.ItemNumber),
			zap.Error(err),
		)
	case outcome == store.OutcomeInserted:
		tr.IncNew()
		o.metrics.IncCandidate(source, outcome.String())
	default:
		tr.IncUpdated()
		o.metrics.IncCandidate(source, outcome.String())
	}
}
