package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fundrate-tracker/internal/config"
	"fundrate-tracker/internal/storage"
)

const providerPayload = `{
	"name": "Effective Federal Funds Rate",
	"interval": "monthly",
	"unit": "percent",
	"data": [
		{"date": "2024-03-01", "value": "5.33"},
		{"date": "2024-02-01", "value": "5.25"},
		{"date": "2024-01-01", "value": "5.00"}
	]
}`

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(providerPayload))
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver:      config.DriverSQLite,
			DSN:         filepath.Join(t.TempDir(), "rates.db"),
			AutoMigrate: true,
		},
		Provider: config.ProviderConfig{
			BaseURL:        srv.URL,
			APIKey:         "demo",
			Function:       "FEDERAL_FUNDS_RATE",
			Interval:       "monthly",
			RequestTimeout: 5 * time.Second,
		},
		Scheduler: config.SchedulerConfig{Interval: time.Hour},
		Analytics: config.AnalyticsConfig{VolatilityWindowDays: 30},
		Export:    config.ExportConfig{MaxDataPoints: 100},
	}

	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func TestIngestThenShowAndSummary(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()

	if err := a.Ingest(ctx, IngestOptions{}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !strings.Contains(out.String(), "loaded=3") {
		t.Fatalf("ingest output %q", out.String())
	}

	out.Reset()
	if err := a.Ingest(ctx, IngestOptions{}); err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !strings.Contains(out.String(), "loaded=0 skipped=3") {
		t.Fatalf("second ingest output %q", out.String())
	}

	out.Reset()
	if err := a.Show(ctx, ShowOptions{Limit: 2}); err != nil {
		t.Fatalf("show: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "2024-03-01") || !strings.HasPrefix(lines[2], "2024-02-01") {
		t.Fatalf("show output %q", out.String())
	}

	out.Reset()
	if err := a.Summary(ctx); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !strings.Contains(out.String(), "5.33 (2024-03-01)") || !hasRow(out.String(), "Records", "3") {
		t.Fatalf("summary output %q", out.String())
	}
}

// hasRow reports whether a line of tabular output has exactly the given fields.
func hasRow(output string, fields ...string) bool {
	for _, line := range strings.Split(output, "\n") {
		got := strings.Fields(line)
		if strings.Join(got, "|") == strings.Join(fields, "|") {
			return true
		}
	}
	return false
}

func TestIngestDryRunWritesNothing(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()

	if err := a.Ingest(ctx, IngestOptions{DryRun: true}); err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !hasRow(out.String(), "2024-02-01", "5.25", "0.25") {
		t.Fatalf("dry run output %q", out.String())
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if n, err := store.CountRates(ctx); err != nil || n != 0 {
		t.Fatalf("dry run stored %d rows (%v)", n, err)
	}
}

func TestSummaryEmptyStore(t *testing.T) {
	a, out := newTestApp(t)
	if err := a.Summary(context.Background()); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if strings.TrimSpace(out.String()) != "no rates stored" {
		t.Fatalf("summary output %q", out.String())
	}
}

func TestExportCSV(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	if err := a.Ingest(ctx, IngestOptions{}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	path := filepath.Join(t.TempDir(), "out", "rates.csv")
	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if err := a.Export(ctx, ExportOptions{CSVPath: path, From: &from}); err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d csv rows, want header + 2", len(rows))
	}
	if rows[1][0] != "2024-02-01" || rows[2][0] != "2024-03-01" || rows[2][2] == "" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestExportRequiresTarget(t *testing.T) {
	a, _ := newTestApp(t)
	if err := a.Export(context.Background(), ExportOptions{}); err == nil {
		t.Fatal("expected error without --csv or --png")
	}
}

func TestDownsampleRecords(t *testing.T) {
	records := make([]storage.RateRecord, 10)
	for i := range records {
		records[i] = storage.RateRecord{
			Date: time.Date(2024, time.Month(i+1), 1, 0, 0, 0, 0, time.UTC),
			Rate: decimal.NewFromInt(int64(i)),
		}
	}

	got := downsampleRecords(records, 4)
	if len(got) != 4 {
		t.Fatalf("got %d records, want 4", len(got))
	}
	if !got[0].Date.Equal(records[0].Date) || !got[3].Date.Equal(records[9].Date) {
		t.Fatal("downsampling must keep both endpoints")
	}
	if len(downsampleRecords(records, 20)) != 10 {
		t.Fatal("short series must be returned unchanged")
	}
}

func TestSimulateAlertPrintsWithoutChannel(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()

	err := a.SimulateAlert(ctx, decimal.RequireFromString("5.33"), decimal.RequireFromString("5.08"))
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(out.String(), "Change: -0.25 pp (down)") {
		t.Fatalf("simulate output %q", out.String())
	}

	if err := a.SimulateAlert(ctx, decimal.NewFromInt(5), decimal.NewFromInt(5)); err == nil {
		t.Fatal("zero change must be rejected")
	}
}

func TestReadOnlyCommandsNeedNoProviderKey(t *testing.T) {
	a, out := newTestApp(t)
	a.Config.Provider.APIKey = ""
	ctx := context.Background()

	if err := a.Show(ctx, ShowOptions{Limit: 5}); err != nil {
		t.Fatalf("show without api key: %v", err)
	}
	if strings.TrimSpace(out.String()) != "no rates stored" {
		t.Fatalf("show output %q", out.String())
	}
	if err := a.Migrate(ctx); err != nil {
		t.Fatalf("migrate without api key: %v", err)
	}

	for _, dryRun := range []bool{false, true} {
		err := a.Ingest(ctx, IngestOptions{DryRun: dryRun})
		if err == nil || !strings.Contains(err.Error(), "provider.api_key") {
			t.Fatalf("ingest (dry-run=%v) error = %v, want api_key error", dryRun, err)
		}
	}
}
