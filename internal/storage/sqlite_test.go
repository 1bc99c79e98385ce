package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "rates.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return store
}

func day(s string) time.Time {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func rec(date, rate string, change ...string) RateRecord {
	r := RateRecord{Date: day(date), Rate: decimal.RequireFromString(rate)}
	if len(change) > 0 {
		c := decimal.RequireFromString(change[0])
		r.RateChange = &c
	}
	return r
}

func TestInsertMissingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	batch := []RateRecord{
		rec("2024-01-01", "5.00"),
		rec("2024-02-01", "5.25", "0.25"),
		rec("2024-03-01", "5.50", "0.25"),
	}

	first, err := store.InsertMissing(ctx, batch, InsertOptions{})
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if len(first.Inserted) != 3 || first.Skipped != 0 {
		t.Fatalf("first insert = %d inserted/%d skipped, want 3/0", len(first.Inserted), first.Skipped)
	}

	before, err := store.ListRates(ctx, nil, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	second, err := store.InsertMissing(ctx, batch, InsertOptions{})
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if len(second.Inserted) != 0 || second.Skipped != 3 {
		t.Fatalf("second insert = %d inserted/%d skipped, want 0/3", len(second.Inserted), second.Skipped)
	}

	after, err := store.ListRates(ctx, nil, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("count changed: %d -> %d", len(before), len(after))
	}
	for i := range after {
		if !after[i].Rate.Equal(before[i].Rate) || !after[i].UpdatedAt.Equal(before[i].UpdatedAt) {
			t.Fatalf("record %s changed on re-insert", after[i].DateKey())
		}
	}
}

func TestInsertMissingNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.InsertMissing(ctx, []RateRecord{rec("2024-01-01", "5.00")}, InsertOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := store.InsertMissing(ctx, []RateRecord{
		rec("2024-01-01", "9.99"),
		rec("2024-02-01", "5.25", "-4.74"),
	}, InsertOptions{})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(res.Inserted) != 1 || res.Skipped != 1 {
		t.Fatalf("got %d inserted/%d skipped, want 1/1", len(res.Inserted), res.Skipped)
	}

	records, err := store.ListRates(ctx, nil, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := records[0].Rate.StringFixed(2); got != "5.00" {
		t.Fatalf("existing rate overwritten: %s", got)
	}
	if records[0].RateChange != nil {
		t.Fatalf("existing rate_change overwritten: %s", records[0].RateChange)
	}
	if got := records[1].RateChange.StringFixed(2); got != "-4.74" {
		t.Fatalf("batch-local rate_change = %s, want -4.74", got)
	}
}

func TestInsertMissingRejectsUnorderedBatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.InsertMissing(ctx, []RateRecord{
		rec("2024-02-01", "5.25"),
		rec("2024-01-01", "5.00"),
	}, InsertOptions{})
	if !errors.Is(err, ErrUnordered) {
		t.Fatalf("expected ErrUnordered, got %v", err)
	}
	if !IsPermanent(err) {
		t.Fatal("unordered batch should be permanent")
	}

	count, err := store.CountRates(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected batch left %d rows", count)
	}
}

func TestInsertMissingRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// fail the second row of the batch after the first has been written
	if _, err := store.db.ExecContext(ctx, `CREATE TRIGGER reject_feb BEFORE INSERT ON federal_funds_rates
        WHEN NEW.date = '2024-02-01'
        BEGIN SELECT RAISE(ABORT, 'rejected'); END;`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	_, err := store.InsertMissing(ctx, []RateRecord{rec("2024-01-01", "5.00"), rec("2024-02-01", "5.25", "0.25")}, InsertOptions{})
	if err == nil {
		t.Fatal("trigger should fail the batch")
	}
	if !IsPermanent(err) {
		t.Fatalf("trigger abort should classify as constraint violation: %v", err)
	}

	count, err := store.CountRates(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("failed batch left %d rows", count)
	}
}

func TestInsertMissingAnchorsToStoredPredecessor(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.InsertMissing(ctx, []RateRecord{rec("2024-01-01", "5.00"), rec("2024-02-01", "5.25", "0.25")}, InsertOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := store.InsertMissing(ctx, []RateRecord{rec("2024-03-01", "5.50")}, InsertOptions{AnchorToStored: true})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(res.Inserted) != 1 || res.Inserted[0].RateChange == nil {
		t.Fatalf("anchored insert missing rate_change: %+v", res)
	}
	if got := res.Inserted[0].RateChange.StringFixed(2); got != "0.25" {
		t.Fatalf("anchored rate_change = %s, want 0.25", got)
	}

	plain, err := store.InsertMissing(ctx, []RateRecord{rec("2024-04-01", "5.75")}, InsertOptions{})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if plain.Inserted[0].RateChange != nil {
		t.Fatal("batch-local mode must leave the first rate_change empty")
	}
}

func TestConcurrentOverlappingInserts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	batches := [][]RateRecord{
		{rec("2024-01-01", "5.00"), rec("2024-02-01", "5.25", "0.25")},
		{rec("2024-02-01", "5.25"), rec("2024-03-01", "5.50", "0.25")},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(batches))
	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []RateRecord) {
			defer wg.Done()
			_, errs[i] = store.InsertMissing(ctx, batch, InsertOptions{})
		}(i, batch)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("batch %d failed: %v", i, err)
		}
	}

	records, err := store.ListRates(ctx, nil, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("stored %d records, want 3", len(records))
	}
	seen := make(map[string]bool)
	for _, r := range records {
		if seen[r.DateKey()] {
			t.Fatalf("duplicate date %s", r.DateKey())
		}
		seen[r.DateKey()] = true
	}
}

func TestReadQueries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	latest, err := store.LatestRate(ctx)
	if err != nil || latest != nil {
		t.Fatalf("empty store latest = %v, %v; want nil, nil", latest, err)
	}

	if _, err := store.InsertMissing(ctx, []RateRecord{
		rec("2024-01-01", "5.00"),
		rec("2024-02-01", "5.25", "0.25"),
		rec("2024-03-01", "5.50", "0.25"),
	}, InsertOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	latest, err = store.LatestRate(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.DateKey() != "2024-03-01" {
		t.Fatalf("latest = %s, want 2024-03-01", latest.DateKey())
	}

	from, to := day("2024-02-01"), day("2024-03-01")
	window, err := store.ListRates(ctx, &from, &to)
	if err != nil {
		t.Fatalf("list window: %v", err)
	}
	if len(window) != 2 || window[0].DateKey() != "2024-02-01" {
		t.Fatalf("window = %+v", window)
	}

	openEnd, err := store.ListRates(ctx, nil, &from)
	if err != nil {
		t.Fatalf("list open start: %v", err)
	}
	if len(openEnd) != 2 {
		t.Fatalf("open-start window has %d records, want 2", len(openEnd))
	}

	recent, err := store.ListRecentRates(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].DateKey() != "2024-03-01" || recent[1].DateKey() != "2024-02-01" {
		t.Fatalf("recent = %+v", recent)
	}

	count, err := store.CountRates(ctx)
	if err != nil || count != 3 {
		t.Fatalf("count = %d, %v; want 3", count, err)
	}
}

func TestNilStoreNotConfigured(t *testing.T) {
	var store *SQLiteStore
	if _, err := store.CountRates(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	var pg *Store
	if err := pg.Ping(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestInsertMissingCountsLostRaceAsSkipped(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	stamp := time.Now().UTC().Format(sqliteTimestampLayout)
	store.afterSnapshot = func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqliteInsertRateSQL, "2024-02-01", "9.99", nil, stamp, stamp)
		return err
	}

	res, err := store.InsertMissing(ctx, []RateRecord{
		rec("2024-01-01", "5.00"),
		rec("2024-02-01", "5.25", "0.25"),
	}, InsertOptions{})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(res.Inserted) != 1 || res.Skipped != 1 {
		t.Fatalf("insert = %d inserted/%d skipped, want 1/1", len(res.Inserted), res.Skipped)
	}
	if res.Inserted[0].DateKey() != "2024-01-01" {
		t.Fatalf("inserted %s, want 2024-01-01", res.Inserted[0].DateKey())
	}

	stored, err := store.ListRates(ctx, nil, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 2 || stored[1].Rate.StringFixed(2) != "9.99" {
		t.Fatalf("earlier writer's row must survive, got %+v", stored)
	}
}

func TestIsPermanentPostgresCodes(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"23505", true},  // unique_violation
		{"22003", true},  // numeric_value_out_of_range
		{"40001", false}, // serialization_failure
		{"08006", false}, // connection_failure
	}

	for _, tc := range cases {
		err := fmt.Errorf("insert rate: %w", &pgconn.PgError{Code: tc.code})
		if got := IsPermanent(err); got != tc.want {
			t.Errorf("IsPermanent(%s) = %v, want %v", tc.code, got, tc.want)
		}
	}
	if IsPermanent(errors.New("connection reset")) {
		t.Error("plain errors are transient")
	}
}
