package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"fundrate-tracker/internal/storage"
)

// Export renders stored rates as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.From != nil && opts.To != nil && opts.From.After(*opts.To) {
		return errors.New("from must not be after to")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListRates(ctx, opts.From, opts.To)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no rates found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting rates")

	if opts.CSVPath != "" {
		if err := writeRatesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRatesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRecords(records []storage.RateRecord, limit int) []storage.RateRecord {
	if limit <= 0 || len(records) <= limit {
		return records
	}
	if limit == 1 {
		return records[len(records)-1:]
	}

	result := make([]storage.RateRecord, 0, limit)
	step := float64(len(records)-1) / float64(limit-1)
	for i := 0; i < limit; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeRatesCSV(path string, records []storage.RateRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"date", "rate", "rate_change"}); err != nil {
		return err
	}

	for _, r := range records {
		change := ""
		if r.RateChange != nil {
			change = r.RateChange.String()
		}
		if err := writer.Write([]string{r.DateKey(), r.Rate.String(), change}); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRatesPNG(path string, records []storage.RateRecord) error {
	if len(records) < 2 {
		return errors.New("at least two rates are required to draw a chart")
	}
	rates := ratesOf(records)
	if !varies(rates) {
		return errors.New("rates are constant over the export window; nothing to chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	changes := make([]float64, len(records))

	for i, r := range records {
		x[i] = r.Date
		if r.RateChange != nil {
			changes[i] = r.RateChange.InexactFloat64()
		}
	}

	formatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Rate (%)",
			ValueFormatter: formatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Change (pp)",
			ValueFormatter: formatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Federal Funds Rate",
				XValues: x,
				YValues: rates,
			},
		},
	}
	// go-chart rejects a zero-height axis range
	if varies(changes) {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    "Change",
			XValues: x,
			YValues: changes,
			YAxis:   chart.YAxisSecondary,
		})
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ratesOf(records []storage.RateRecord) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.Rate.InexactFloat64()
	}
	return out
}

func varies(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return true
		}
	}
	return false
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
