package app

import (
	"context"
	"fmt"
	"text/tabwriter"

	"fundrate-tracker/internal/pipeline"
	"fundrate-tracker/internal/storage"
)

// Ingest performs a single pipeline run. A dry run stops after the transform
// stage and prints what would be loaded.
func (a *App) Ingest(ctx context.Context, opts IngestOptions) error {
	if opts.DryRun {
		a.Logger.Warn().Msg("ingest dry-run: nothing will be written to storage")
		f, err := a.newFetcher()
		if err != nil {
			return err
		}
		p := pipeline.New(f, nil, pipeline.Options{Series: a.Config.Provider.Function}, a.Logger)
		records, report, err := p.Preview(ctx)
		if err != nil {
			return err
		}
		a.Logger.Info().Str("run_id", report.ID).
			Int("extracted", report.Extracted).
			Int("transformed", report.Transformed).
			Msg("dry-run complete")
		return a.printRecords(records, "no records parsed from provider payload")
	}

	c, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	report, err := c.pipeline.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "run %s: extracted=%d transformed=%d loaded=%d skipped=%d took=%s\n",
		report.ID, report.Extracted, report.Transformed, report.Loaded, report.Skipped, report.Duration())
	return nil
}

func (a *App) printRecords(records []storage.RateRecord, empty string) error {
	if len(records) == 0 {
		fmt.Fprintln(a.Out, empty)
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tRate%\tChange")
	for _, r := range records {
		change := "-"
		if r.RateChange != nil {
			change = r.RateChange.StringFixed(2)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", r.DateKey(), r.Rate.StringFixed(2), change)
	}
	return writer.Flush()
}
