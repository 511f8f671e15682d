package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-auction-ingest/models"
	"github.com/aluiziolira/go-auction-ingest/parser"
	"github.com/aluiziolira/go-auction-ingest/pipeline"
	"github.com/aluiziolira/go-auction-ingest/store"
)

var propertiesCmd = &cobra.Command{
	Use:     "properties",
	Aliases: []string{"props"},
	Short:   "Query and export stored listings",
}

// -- properties list --

var propertiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored listings ordered by auction date",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := propertyFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx, false)
		if err != nil {
			return err
		}
		defer st.Close()

		recs, err := st.ListProperties(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "properties list")
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No properties found.")
			return nil
		}

		formatPropertiesList(os.Stdout, recs)
		return nil
	},
}

// -- properties show --

var propertiesShowCmd = &cobra.Command{
	Use:   "show <case-number>",
	Short: "Show one listing as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		source, _ := cmd.Flags().GetString("source")
		item, _ := cmd.Flags().GetString("item")
		if source == "" {
			return eris.New("--source is required")
		}

		st, err := initStore(ctx, false)
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := st.GetProperty(ctx, models.IdentityKey{
			CaseNumber: parser.NormalizeCaseNumber(args[0]),
			ItemNumber: item,
			SourceSite: source,
		})
		if err != nil {
			return eris.Wrap(err, "properties show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(rec)
	},
}

// -- properties export --

var propertiesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored listings to CSV and/or JSONL",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := propertyFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		if format == "" {
			format = cfg.Export.Format
		}
		if output == "" {
			output = cfg.Export.Output
		}

		st, err := initStore(ctx, false)
		if err != nil {
			return err
		}
		defer st.Close()

		recs, err := st.ListProperties(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "properties export")
		}

		w, err := pipeline.NewExporter(format, output)
		if err != nil {
			return err
		}
		if err := w.Write(recs); err != nil {
			w.Close() //nolint:errcheck
			return eris.Wrap(err, "write export")
		}
		if err := w.Close(); err != nil {
			return eris.Wrap(err, "close export")
		}
		if err := w.Validate(); err != nil {
			zap.L().Warn("export is empty", zap.Error(err))
		}

		zap.L().Info("export complete",
			zap.String("format", format),
			zap.String("output", output),
			zap.Int("records", len(recs)),
		)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{propertiesListCmd, propertiesExportCmd} {
		c.Flags().String("source", "", "filter by source name")
		c.Flags().String("status", "", "filter by status (active, sold, failed, cancelled)")
		c.Flags().String("from", "", "earliest auction date (YYYY-MM-DD)")
		c.Flags().String("to", "", "latest auction date (YYYY-MM-DD)")
	}
	propertiesListCmd.Flags().Int("limit", 50, "max number of listings to display")
	propertiesExportCmd.Flags().Int("limit", 0, "max number of listings to export (0 = all)")
	propertiesExportCmd.Flags().String("format", "", "csv, jsonl or both (default from config)")
	propertiesExportCmd.Flags().String("output", "", "output path (default from config)")

	propertiesShowCmd.Flags().String("source", "", "source name (required)")
	propertiesShowCmd.Flags().String("item", models.DefaultItemNumber, "item number within the case")

	propertiesCmd.AddCommand(propertiesListCmd)
	propertiesCmd.AddCommand(propertiesShowCmd)
	propertiesCmd.AddCommand(propertiesExportCmd)
	rootCmd.AddCommand(propertiesCmd)
}

func propertyFilterFromFlags(cmd *cobra.Command) (store.PropertyFilter, error) {
	flags := cmd.Flags()
	source, _ := flags.GetString("source")
	status, _ := flags.GetString("status")
	from, _ := flags.GetString("from")
	to, _ := flags.GetString("to")
	limit, _ := flags.GetInt("limit")

	f := store.PropertyFilter{SourceSite: source, Status: models.Status(status), Limit: limit}
	var err error
	if f.From, err = parseDateFlag("from", from); err != nil {
		return f, err
	}
	if f.To, err = parseDateFlag("to", to); err != nil {
		return f, err
	}
	return f, nil
}

func parseDateFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", value, parser.KST)
	if err != nil {
		return nil, eris.Wrapf(err, "parse --%s %q", name, value)
	}
	return &t, nil
}

func formatPropertiesList(out io.Writer, recs []*models.PropertyRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CASE\tITEM\tSOURCE\tCOURT\tTYPE\tAPPRAISAL\tMINIMUM\tDISCOUNT\tAUCTION\tSTATUS\tADDRESS")
	for _, r := range recs {
		date := "-"
		if r.AuctionDate != nil {
			date = r.AuctionDate.Format("2006-01-02")
			if r.AuctionDateEstimated {
				date += "*"
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%.1f%%\t%s\t%s\t%s\n",
			r.CaseNumber, r.ItemNumber, r.SourceSite, r.CourtName, r.PropertyType,
			r.AppraisalValue, r.MinimumSalePrice, r.DiscountRate(), date, r.CurrentStatus, r.Address)
	}
	_ = w.Flush()
}
