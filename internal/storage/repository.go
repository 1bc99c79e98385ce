package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	createRatesTableSQL = `CREATE TABLE IF NOT EXISTS federal_funds_rates (
        id          BIGSERIAL PRIMARY KEY,
        date        DATE NOT NULL UNIQUE,
        rate        NUMERIC(5,2) NOT NULL,
        rate_change NUMERIC(5,2),
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	insertRateSQL = `INSERT INTO federal_funds_rates (
        date,
        rate,
        rate_change,
        created_at,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (date) DO NOTHING;`

	existingDatesSQL = `SELECT date
    FROM federal_funds_rates
    WHERE date >= $1
      AND date <= $2;`

	predecessorSQL = `SELECT
        date,
        rate::text,
        rate_change::text,
        created_at,
        updated_at
    FROM federal_funds_rates
    WHERE date < $1
    ORDER BY date DESC
    LIMIT 1;`

	latestRateSQL = `SELECT
        date,
        rate::text,
        rate_change::text,
        created_at,
        updated_at
    FROM federal_funds_rates
    ORDER BY date DESC
    LIMIT 1;`

	listRatesSQL = `SELECT
        date,
        rate::text,
        rate_change::text,
        created_at,
        updated_at
    FROM federal_funds_rates
    WHERE ($1::date IS NULL OR date >= $1::date)
      AND ($2::date IS NULL OR date <= $2::date)
    ORDER BY date;`

	listRecentRatesSQL = `SELECT
        date,
        rate::text,
        rate_change::text,
        created_at,
        updated_at
    FROM federal_funds_rates
    ORDER BY date DESC
    LIMIT $1;`

	countRatesSQL = `SELECT COUNT(*) FROM federal_funds_rates;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store is the PostgreSQL rate store.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies the connection is healthy.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// EnsureSchema creates the rates table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createRatesTableSQL); err != nil {
		return fmt.Errorf("create rates table: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock also ends when the connection closes
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertMissing inserts the records whose dates are not stored yet, all in
// one transaction. Existing dates are left untouched.
func (s *Store) InsertMissing(ctx context.Context, records []RateRecord, opts InsertOptions) (InsertResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return InsertResult{}, err
	}
	if len(records) == 0 {
		return InsertResult{}, nil
	}
	if err := checkAscending(records); err != nil {
		return InsertResult{}, err
	}
	batch := append([]RateRecord(nil), records...)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return InsertResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		// no-op once committed
		_ = tx.Rollback(context.Background())
	}()

	if opts.AnchorToStored && batch[0].RateChange == nil {
		prev, err := scanOptionalRate(tx.QueryRow(ctx, predecessorSQL, batch[0].Date))
		if err != nil {
			return InsertResult{}, fmt.Errorf("load predecessor: %w", err)
		}
		anchorFirst(batch, prev)
	}

	existing, err := s.existingDates(ctx, tx, batch[0].Date, batch[len(batch)-1].Date)
	if err != nil {
		return InsertResult{}, err
	}

	now := s.now().UTC()
	result := InsertResult{Inserted: make([]RateRecord, 0, len(batch))}
	for _, record := range batch {
		if _, ok := existing[record.DateKey()]; ok {
			result.Skipped++
			continue
		}

		var change interface{}
		if record.RateChange != nil {
			change = record.RateChange.StringFixed(RatePlaces)
		}

		tag, execErr := tx.Exec(ctx, insertRateSQL,
			record.Date,
			record.Rate.StringFixed(RatePlaces),
			change,
			now,
			now,
		)
		if execErr != nil {
			return InsertResult{}, fmt.Errorf("insert rate %s: %w", record.DateKey(), execErr)
		}
		if tag.RowsAffected() == 0 {
			// a concurrent run committed this date first
			result.Skipped++
			continue
		}

		record.CreatedAt = now
		record.UpdatedAt = now
		result.Inserted = append(result.Inserted, record)
	}

	if err := tx.Commit(ctx); err != nil {
		return InsertResult{}, fmt.Errorf("commit rates: %w", err)
	}
	return result, nil
}

func (s *Store) existingDates(ctx context.Context, tx pgx.Tx, from, to time.Time) (map[string]struct{}, error) {
	rows, err := tx.Query(ctx, existingDatesSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("query existing dates: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var date time.Time
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("scan existing date: %w", err)
		}
		existing[date.Format(DateLayout)] = struct{}{}
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return existing, nil
}

// LatestRate returns the record with the maximum date, or nil when empty.
func (s *Store) LatestRate(ctx context.Context) (*RateRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	record, err := scanOptionalRate(pool.QueryRow(ctx, latestRateSQL))
	if err != nil {
		return nil, fmt.Errorf("latest rate: %w", err)
	}
	return record, nil
}

// ListRates lists records within an inclusive date window, ascending.
func (s *Store) ListRates(ctx context.Context, from, to *time.Time) ([]RateRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRatesSQL, optionalDate(from), optionalDate(to))
	if queryErr != nil {
		return nil, fmt.Errorf("list rates: %w", queryErr)
	}
	return collectRates(rows)
}

// ListRecentRates lists the most recent records ordered by descending date.
func (s *Store) ListRecentRates(ctx context.Context, limit int) ([]RateRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRatesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent rates: %w", queryErr)
	}
	return collectRates(rows)
}

// CountRates counts stored records.
func (s *Store) CountRates(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRatesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count rates: %w", scanErr)
	}
	return count, nil
}

// IsPermanent reports whether err is a data or constraint violation that a
// retry cannot fix.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrUnordered) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23":
			return true
		}
	}
	return isSQLiteConstraint(err)
}

func optionalDate(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return TruncateDate(*t)
}

func collectRates(rows pgx.Rows) ([]RateRecord, error) {
	defer rows.Close()

	records := make([]RateRecord, 0)
	for rows.Next() {
		record, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanOptionalRate(row pgx.Row) (*RateRecord, error) {
	record, err := scanRate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func scanRate(row pgx.Row) (RateRecord, error) {
	var (
		date      time.Time
		rateStr   string
		changeStr *string
		createdAt time.Time
		updatedAt time.Time
	)

	if err := row.Scan(&date, &rateStr, &changeStr, &createdAt, &updatedAt); err != nil {
		return RateRecord{}, err
	}

	return buildRecord(date, rateStr, changeStr, createdAt, updatedAt)
}

func buildRecord(date time.Time, rateStr string, changeStr *string, createdAt, updatedAt time.Time) (RateRecord, error) {
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return RateRecord{}, fmt.Errorf("parse rate: %w", err)
	}

	record := RateRecord{
		Date:      TruncateDate(date),
		Rate:      rate,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}

	if changeStr != nil {
		change, err := decimal.NewFromString(*changeStr)
		if err != nil {
			return RateRecord{}, fmt.Errorf("parse rate change: %w", err)
		}
		record.RateChange = &change
	}

	return record, nil
}

var _ RateStore = (*Store)(nil)
var _ AdvisoryLocker = (*Store)(nil)
