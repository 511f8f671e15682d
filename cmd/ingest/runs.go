package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-auction-ingest/models"
	"github.com/aluiziolira/go-auction-ingest/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect ingestion run history",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingestion runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, false)
		if err != nil {
			return err
		}
		defer st.Close()

		source, _ := cmd.Flags().GetString("source")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			SourceSite: source,
			Status:     models.RunStatus(status),
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "invalid run id %q", args[0])
		}

		st, err := initStore(ctx, false)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.GetRun(ctx, id)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	runsListCmd.Flags().String("source", "", "filter by source name")
	runsListCmd.Flags().String("status", "", "filter by status (running, completed, failed)")
	runsListCmd.Flags().Int("limit", 20, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func formatRunsList(out io.Writer, runs []*models.IngestionRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tSTARTED\tDURATION\tFOUND\tNEW\tUPDATED\tERRORS")
	for _, r := range runs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = r.ExecutionTime.Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.ID, r.SourceSite, r.Status, r.StartedAt.Format(time.RFC3339), dur,
			r.TotalFound, r.NewItems, r.UpdatedItems, r.ErrorCount)
	}
	_ = w.Flush()
}
