package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-auction-ingest/config"
	"github.com/aluiziolira/go-auction-ingest/metrics"
	"github.com/aluiziolira/go-auction-ingest/models"
	"github.com/aluiziolira/go-auction-ingest/parser"
	"github.com/aluiziolira/go-auction-ingest/pipeline"
	"github.com/aluiziolira/go-auction-ingest/scraper"
)

var (
	runAll         bool
	runDate        string
	runConcurrency int
	runMigrate     bool
)

var runCmd = &cobra.Command{
	Use:   "run [source...]",
	Short: "Run ingestion for one or more sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sources, err := selectSources(cfg, args, runAll)
		if err != nil {
			return err
		}

		var opts []scraper.Option
		if runDate != "" {
			target, err := time.ParseInLocation("2006-01-02", runDate, parser.KST)
			if err != nil {
				return eris.Wrapf(err, "parse --date %q", runDate)
			}
			opts = append(opts, scraper.WithTargetDate(target))
		}

		st, err := initStore(ctx, runMigrate)
		if err != nil {
			return err
		}
		defer st.Close()

		m := metrics.New()
		if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
			stopOps := startOpsServer(cfg.Metrics.Addr, opsRouter(st, m))
			defer stopOps()
		}

		orch := pipeline.New(st, leaserFor(st), cfg.Pipeline, pipeline.WithMetrics(m))

		var (
			mu      sync.Mutex
			results []runResult
		)
		g := new(errgroup.Group)
		if runConcurrency > 0 {
			g.SetLimit(runConcurrency)
		}
		for _, src := range sources {
			src := src
			g.Go(func() error {
				run, err := orch.RunSource(ctx, src, opts...)
				mu.Lock()
				results = append(results, runResult{source: src.Name, run: run, err: err})
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		formatRunResults(os.Stdout, results)
		return summarizeResults(results)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runAll, "all", false, "run every configured source")
	runCmd.Flags().StringVar(&runDate, "date", "", "target auction date (YYYY-MM-DD, KST); defaults to today")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "max sources run at once (0 = all)")
	runCmd.Flags().BoolVar(&runMigrate, "migrate", false, "apply the database schema before running")
	rootCmd.AddCommand(runCmd)
}

type runResult struct {
	source string
	run    *models.IngestionRun
	err    error
}

// selectSources resolves the named sources, or all of them with --all.
func selectSources(c *config.Config, names []string, all bool) ([]config.SourceConfig, error) {
	if all {
		if len(names) > 0 {
			return nil, eris.New("use either --all or source names, not both")
		}
		if len(c.Sources) == 0 {
			return nil, eris.New("no sources configured")
		}
		return c.Sources, nil
	}
	if len(names) == 0 {
		return nil, eris.Errorf("no source given; configured sources: %v", c.SourceNames())
	}

	out := make([]config.SourceConfig, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		src, ok := c.Source(name)
		if !ok {
			return nil, eris.Errorf("unknown source %q; configured sources: %v", name, c.SourceNames())
		}
		out = append(out, src)
	}
	return out, nil
}

// summarizeResults returns an error when any source failed. Sources skipped
// because another run holds their lease are not failures.
func summarizeResults(results []runResult) error {
	var failed []string
	for _, r := range results {
		switch {
		case r.err == nil:
		case errors.Is(r.err, pipeline.ErrRunInProgress):
			zap.L().Info("source skipped", zap.String("source", r.source))
		default:
			zap.L().Error("source failed", zap.String("source", r.source), zap.Error(r.err))
			failed = append(failed, r.source)
		}
	}
	if len(failed) > 0 {
		return eris.Errorf("%d of %d sources failed: %v", len(failed), len(results), failed)
	}
	return nil
}

func formatRunResults(out io.Writer, results []runResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tRUN\tSTATUS\tPAGES\tFOUND\tNEW\tUPDATED\tDISCARDED\tERRORS\tDURATION")
	for _, r := range results {
		if r.run == nil {
			status := "error"
			if errors.Is(r.err, pipeline.ErrRunInProgress) {
				status = "skipped"
			}
			_, _ = fmt.Fprintf(w, "%s\t-\t%s\t-\t-\t-\t-\t-\t-\t-\n", r.source, status)
			continue
		}
		run := r.run
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.source, run.ID, run.Status, run.PagesFetched, run.TotalFound,
			run.NewItems, run.UpdatedItems, run.DiscardedItems, run.ErrorCount,
			run.ExecutionTime.Round(time.Millisecond))
	}
	_ = w.Flush()
}
