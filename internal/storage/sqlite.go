package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	sqliteCreateRatesTableSQL = `CREATE TABLE IF NOT EXISTS federal_funds_rates (
        id          INTEGER PRIMARY KEY AUTOINCREMENT,
        date        TEXT NOT NULL UNIQUE,
        rate        TEXT NOT NULL,
        rate_change TEXT,
        created_at  TEXT NOT NULL,
        updated_at  TEXT NOT NULL
    );`

	sqliteInsertRateSQL = `INSERT INTO federal_funds_rates (
        date, rate, rate_change, created_at, updated_at
    ) VALUES (?, ?, ?, ?, ?)
    ON CONFLICT (date) DO NOTHING;`

	sqliteExistingDatesSQL = `SELECT date FROM federal_funds_rates WHERE date >= ? AND date <= ?;`

	sqliteSelectColumns = `SELECT date, rate, rate_change, created_at, updated_at FROM federal_funds_rates`

	sqlitePredecessorSQL  = sqliteSelectColumns + ` WHERE date < ? ORDER BY date DESC LIMIT 1;`
	sqliteLatestRateSQL   = sqliteSelectColumns + ` ORDER BY date DESC LIMIT 1;`
	sqliteListRatesSQL    = sqliteSelectColumns + ` WHERE (?1 IS NULL OR date >= ?1) AND (?2 IS NULL OR date <= ?2) ORDER BY date;`
	sqliteListRecentSQL   = sqliteSelectColumns + ` ORDER BY date DESC LIMIT ?;`
	sqliteCountRatesSQL   = `SELECT COUNT(*) FROM federal_funds_rates;`
	sqliteTimestampLayout = time.RFC3339Nano
)

// SQLiteStore is an embedded rate store for local runs and tests.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
	// afterSnapshot runs between the existing-dates read and the inserts.
	afterSnapshot func(ctx context.Context, tx *sql.Tx) error
}

// NewSQLiteStore opens (or creates) the database at dsn.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer; one connection serialises transactions.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// EnsureSchema creates the rates table when missing.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, sqliteCreateRatesTableSQL); err != nil {
		return fmt.Errorf("create rates table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// InsertMissing inserts the records whose dates are not stored yet, all in
// one transaction. Existing dates are left untouched.
func (s *SQLiteStore) InsertMissing(ctx context.Context, records []RateRecord, opts InsertOptions) (InsertResult, error) {
	db, err := s.getDB()
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

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return InsertResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if opts.AnchorToStored && batch[0].RateChange == nil {
		prev, err := scanOptionalSQLiteRate(tx.QueryRowContext(ctx, sqlitePredecessorSQL, batch[0].DateKey()))
		if err != nil {
			return InsertResult{}, fmt.Errorf("load predecessor: %w", err)
		}
		anchorFirst(batch, prev)
	}

	existing, err := sqliteExistingDates(ctx, tx, batch[0].DateKey(), batch[len(batch)-1].DateKey())
	if err != nil {
		return InsertResult{}, err
	}
	if s.afterSnapshot != nil {
		if err := s.afterSnapshot(ctx, tx); err != nil {
			return InsertResult{}, err
		}
	}

	now := s.now().UTC()
	stamp := now.Format(sqliteTimestampLayout)
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

		res, execErr := tx.ExecContext(ctx, sqliteInsertRateSQL,
			record.DateKey(),
			record.Rate.StringFixed(RatePlaces),
			change,
			stamp,
			stamp,
		)
		if execErr != nil {
			return InsertResult{}, fmt.Errorf("insert rate %s: %w", record.DateKey(), execErr)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return InsertResult{}, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// committed by another writer after the snapshot
			result.Skipped++
			continue
		}

		record.CreatedAt = now
		record.UpdatedAt = now
		result.Inserted = append(result.Inserted, record)
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("commit rates: %w", err)
	}
	return result, nil
}

func sqliteExistingDates(ctx context.Context, tx *sql.Tx, from, to string) (map[string]struct{}, error) {
	rows, err := tx.QueryContext(ctx, sqliteExistingDatesSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("query existing dates: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("scan existing date: %w", err)
		}
		existing[date] = struct{}{}
	}
	return existing, rows.Err()
}

// LatestRate returns the record with the maximum date, or nil when empty.
func (s *SQLiteStore) LatestRate(ctx context.Context) (*RateRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	record, err := scanOptionalSQLiteRate(db.QueryRowContext(ctx, sqliteLatestRateSQL))
	if err != nil {
		return nil, fmt.Errorf("latest rate: %w", err)
	}
	return record, nil
}

// ListRates lists records within an inclusive date window, ascending.
func (s *SQLiteStore) ListRates(ctx context.Context, from, to *time.Time) ([]RateRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, sqliteListRatesSQL, optionalDateKey(from), optionalDateKey(to))
	if err != nil {
		return nil, fmt.Errorf("list rates: %w", err)
	}
	return collectSQLiteRates(rows)
}

// ListRecentRates lists the most recent records ordered by descending date.
func (s *SQLiteStore) ListRecentRates(ctx context.Context, limit int) ([]RateRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, sqliteListRecentSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent rates: %w", err)
	}
	return collectSQLiteRates(rows)
}

// CountRates counts stored records.
func (s *SQLiteStore) CountRates(ctx context.Context) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := db.QueryRowContext(ctx, sqliteCountRatesSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rates: %w", err)
	}
	return count, nil
}

func optionalDateKey(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return TruncateDate(*t).Format(DateLayout)
}

func isSQLiteConstraint(err error) bool {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func collectSQLiteRates(rows *sql.Rows) ([]RateRecord, error) {
	defer rows.Close()

	records := make([]RateRecord, 0)
	for rows.Next() {
		record, err := scanSQLiteRate(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanOptionalSQLiteRate(row rowScanner) (*RateRecord, error) {
	record, err := scanSQLiteRate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func scanSQLiteRate(row rowScanner) (RateRecord, error) {
	var (
		dateStr    string
		rateStr    string
		changeStr  sql.NullString
		createdStr string
		updatedStr string
	)
	if err := row.Scan(&dateStr, &rateStr, &changeStr, &createdStr, &updatedStr); err != nil {
		return RateRecord{}, err
	}

	date, err := time.Parse(DateLayout, dateStr)
	if err != nil {
		return RateRecord{}, fmt.Errorf("parse date: %w", err)
	}
	createdAt, err := time.Parse(sqliteTimestampLayout, createdStr)
	if err != nil {
		return RateRecord{}, fmt.Errorf("parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(sqliteTimestampLayout, updatedStr)
	if err != nil {
		return RateRecord{}, fmt.Errorf("parse updated_at: %w", err)
	}

	var change *string
	if changeStr.Valid {
		change = &changeStr.String
	}
	return buildRecord(date, rateStr, change, createdAt, updatedAt)
}

var _ RateStore = (*SQLiteStore)(nil)
