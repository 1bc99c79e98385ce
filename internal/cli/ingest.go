package cli

import (
	"github.com/spf13/cobra"

	"fundrate-tracker/internal/app"
)

var ingestDryRun bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the extract, transform and load pipeline once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Ingest(cmd.Context(), app.IngestOptions{DryRun: ingestDryRun})
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "Fetch and transform without writing to storage")
}
