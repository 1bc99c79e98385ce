package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"fundrate-tracker/internal/storage"
)

// ErrNoData is returned when the store holds no records yet.
var ErrNoData = errors.New("analytics: no rate data available")

// DefaultVolatilityWindowDays applies when the engine is built with a
// non-positive window.
const DefaultVolatilityWindowDays = 30

const (
	DirectionUp   = "up"
	DirectionDown = "down"
	DirectionFlat = "flat"
)

// MovingAverages holds the trailing means; a window is nil until enough
// records exist.
type MovingAverages struct {
	MA30  *decimal.Decimal `json:"ma_30"`
	MA90  *decimal.Decimal `json:"ma_90"`
	MA365 *decimal.Decimal `json:"ma_365"`
}

// Summary is computed per query and never stored.
type Summary struct {
	LatestRate     decimal.Decimal
	LatestDate     time.Time
	MinRate        decimal.Decimal
	MaxRate        decimal.Decimal
	AvgRate        decimal.Decimal
	MovingAverages MovingAverages
	Volatility30d  *float64
	TotalRecords   int
}

// ChangeEvent is a stored record whose rate moved.
type ChangeEvent struct {
	Date      time.Time
	Rate      decimal.Decimal
	Change    decimal.Decimal
	Direction string
}

// Engine derives statistics from persisted records.
type Engine struct {
	reader     storage.RateReader
	windowDays int
	now        func() time.Time
	logger     zerolog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for the volatility window.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithVolatilityWindow sets the window Summary uses for volatility.
func WithVolatilityWindow(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.windowDays = days
		}
	}
}

// New builds an Engine over reader.
func New(reader storage.RateReader, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		reader:     reader,
		windowDays: DefaultVolatilityWindowDays,
		now:        time.Now,
		logger:     logger.With().Str("component", "analytics").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Latest returns the most recent record.
func (e *Engine) Latest(ctx context.Context) (*storage.RateRecord, error) {
	record, err := e.reader.LatestRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest rate: %w", err)
	}
	if record == nil {
		return nil, ErrNoData
	}
	return record, nil
}

// Historical returns records within the inclusive bounds, newest first.
func (e *Engine) Historical(ctx context.Context, start, end *time.Time) ([]storage.RateRecord, error) {
	records, err := e.reader.ListRates(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("historical rates: %w", err)
	}
	reverse(records)
	return records, nil
}

// MovingAverages computes the 30/90/365-record trailing means.
func (e *Engine) MovingAverages(ctx context.Context) (MovingAverages, error) {
	records, err := e.reader.ListRates(ctx, nil, nil)
	if err != nil {
		return MovingAverages{}, fmt.Errorf("moving averages: %w", err)
	}
	return movingAverages(records), nil
}

func movingAverages(records []storage.RateRecord) MovingAverages {
	return MovingAverages{
		MA30:  meanOfLast(records, MovingAverageWindows[0]),
		MA90:  meanOfLast(records, MovingAverageWindows[1]),
		MA365: meanOfLast(records, MovingAverageWindows[2]),
	}
}

// Volatility is the sample standard deviation of rates dated within the last
// windowDays days, inclusive of today. It is nil below two observations.
func (e *Engine) Volatility(ctx context.Context, windowDays int) (*float64, error) {
	records, err := e.volatilityWindow(ctx, windowDays)
	if err != nil {
		return nil, err
	}
	return sampleStdDev(records), nil
}

func (e *Engine) volatilityWindow(ctx context.Context, windowDays int) ([]storage.RateRecord, error) {
	if windowDays < 0 {
		return nil, fmt.Errorf("volatility window must not be negative: %d", windowDays)
	}
	today := storage.TruncateDate(e.now().UTC())
	from := today.AddDate(0, 0, -windowDays)
	records, err := e.reader.ListRates(ctx, &from, &today)
	if err != nil {
		return nil, fmt.Errorf("volatility window: %w", err)
	}
	return records, nil
}

// Summary aggregates the full series. It returns ErrNoData when empty.
func (e *Engine) Summary(ctx context.Context) (*Summary, error) {
	var series, window []storage.RateRecord

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		records, err := e.reader.ListRates(gctx, nil, nil)
		if err != nil {
			return fmt.Errorf("summary series: %w", err)
		}
		series = records
		return nil
	})
	g.Go(func() error {
		records, err := e.volatilityWindow(gctx, e.windowDays)
		if err != nil {
			return err
		}
		window = records
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(series) == 0 {
		return nil, ErrNoData
	}

	latest := series[len(series)-1]
	lo, hi, avg := extremes(series)
	summary := &Summary{
		LatestRate:     latest.Rate,
		LatestDate:     latest.Date,
		MinRate:        lo,
		MaxRate:        hi,
		AvgRate:        avg,
		MovingAverages: movingAverages(series),
		Volatility30d:  sampleStdDev(window),
		TotalRecords:   len(series),
	}

	e.logger.Debug().
		Int("records", summary.TotalRecords).
		Str("latest", summary.LatestRate.StringFixed(storage.RatePlaces)).
		Msg("summary computed")

	return summary, nil
}

// ChangeEvents lists records with a non-zero rate change, newest first.
func (e *Engine) ChangeEvents(ctx context.Context, start, end *time.Time) ([]ChangeEvent, error) {
	records, err := e.reader.ListRates(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("change events: %w", err)
	}

	events := make([]ChangeEvent, 0)
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.RateChange == nil || r.RateChange.IsZero() {
			continue
		}
		events = append(events, ChangeEvent{
			Date:      r.Date,
			Rate:      r.Rate,
			Change:    *r.RateChange,
			Direction: ClassifyChange(*r.RateChange),
		})
	}
	return events, nil
}

func reverse(records []storage.RateRecord) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}
