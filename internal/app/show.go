package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"fundrate-tracker/internal/analytics"
	"fundrate-tracker/internal/storage"
)

// Show prints the most recent stored rates, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListRecentRates(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return a.printRecords(records, "no rates stored")
}

// Summary prints the aggregate statistics served by /api/analytics/summary.
func (a *App) Summary(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := a.newEngine(store).Summary(ctx)
	if errors.Is(err, analytics.ErrNoData) {
		fmt.Fprintln(a.Out, "no rates stored")
		return nil
	}
	if err != nil {
		return err
	}
	return a.printSummary(summary)
}

func (a *App) printSummary(s *analytics.Summary) error {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Latest\t%s (%s)\n", s.LatestRate.StringFixed(2), s.LatestDate.Format(storage.DateLayout))
	fmt.Fprintf(writer, "Min / Max\t%s / %s\n", s.MinRate.StringFixed(2), s.MaxRate.StringFixed(2))
	fmt.Fprintf(writer, "Average\t%s\n", s.AvgRate.StringFixed(4))
	fmt.Fprintf(writer, "MA 30\t%s\n", formatOptional(s.MovingAverages.MA30))
	fmt.Fprintf(writer, "MA 90\t%s\n", formatOptional(s.MovingAverages.MA90))
	fmt.Fprintf(writer, "MA 365\t%s\n", formatOptional(s.MovingAverages.MA365))
	vol := "n/a"
	if s.Volatility30d != nil {
		vol = fmt.Sprintf("%.4f", *s.Volatility30d)
	}
	fmt.Fprintf(writer, "Volatility\t%s\n", vol)
	fmt.Fprintf(writer, "Records\t%d\n", s.TotalRecords)
	return writer.Flush()
}

func formatOptional(d *decimal.Decimal) string {
	if d == nil {
		return "n/a"
	}
	return d.StringFixed(4)
}
