package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-auction-ingest/config"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		formatSources(os.Stdout, cfg.Sources, os.LookupEnv)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := initStore(cmd.Context(), true)
		if err != nil {
			return err
		}
		st.Close()
		fmt.Fprintln(os.Stderr, "Schema up to date.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(migrateCmd)
}

func formatSources(out io.Writer, sources []config.SourceConfig, lookupEnv func(string) (string, bool)) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tKIND\tTARGET\tMAX_PAGES\tNOTE")
	for _, s := range sources {
		target := s.BaseURL
		if s.Kind == config.KindManual {
			target = "inline"
			if s.Text == "" {
				target = s.File
			}
		}
		note := ""
		if s.CredentialEnv != "" {
			if v, ok := lookupEnv(s.CredentialEnv); !ok || v == "" {
				note = s.CredentialEnv + " unset, fallback dataset"
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.Name, s.Kind, target, s.MaxPages, note)
	}
	_ = w.Flush()
}
