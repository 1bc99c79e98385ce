package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fundrate-tracker/internal/alerting"
	"fundrate-tracker/internal/analytics"
	"fundrate-tracker/internal/cache"
	"fundrate-tracker/internal/events"
	"fundrate-tracker/internal/fetcher"
	"fundrate-tracker/internal/loader"
	"fundrate-tracker/internal/metrics"
	"fundrate-tracker/internal/storage"
	"fundrate-tracker/internal/transform"
)

// State is the lifecycle position of a run.
type State string

const (
	StateIdle         State = "idle"
	StateExtracting   State = "extracting"
	StateTransforming State = "transforming"
	StateLoading      State = "loading"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
)

// RunReport describes one pipeline execution.
type RunReport struct {
	ID          string    `json:"run_id"`
	State       State     `json:"state"`
	FailedStage Stage     `json:"failed_stage,omitempty"`
	Extracted   int       `json:"extracted"`
	Transformed int       `json:"transformed"`
	Loaded      int       `json:"loaded"`
	Skipped     int       `json:"skipped"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Err         string    `json:"error,omitempty"`

	Inserted []storage.RateRecord `json:"-"`
}

// Duration is the wall time of the run.
func (r RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Options carries the optional collaborators. Nil fields are skipped.
type Options struct {
	Series    string
	Publisher events.Publisher
	Notifier  alerting.Notifier
	Cache     cache.Cache
	Metrics   *metrics.Recorder
	Locker    storage.AdvisoryLocker
	LockKey   int64
}

// Pipeline drives Extract -> Transform -> Load.
type Pipeline struct {
	fetcher fetcher.SeriesFetcher
	loader  *loader.Loader
	opts    Options
	logger  zerolog.Logger

	mu    sync.Mutex
	state State
	last  *RunReport
}

// New constructs a Pipeline.
func New(f fetcher.SeriesFetcher, l *loader.Loader, opts Options, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		fetcher: f,
		loader:  l,
		opts:    opts,
		logger:  logger.With().Str("component", "pipeline").Logger(),
		state:   StateIdle,
	}
}

// State returns the state of the most recent run.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastReport returns a copy of the most recent finished run, if any.
func (p *Pipeline) LastReport() (RunReport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return RunReport{}, false
	}
	return *p.last, true
}

func (p *Pipeline) enter(report *RunReport, state State) {
	report.State = state
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

// Run executes one extraction, transformation and load. A failed run has
// written nothing.
func (p *Pipeline) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{ID: uuid.NewString(), State: StateIdle, StartedAt: time.Now().UTC()}
	logger := p.logger.With().Str("run_id", report.ID).Logger()

	records, err := p.extractAndTransform(ctx, &report)
	if err == nil {
		err = p.load(ctx, &report, records)
	}
	p.finish(&report, err)

	if err != nil {
		logger.Error().Err(err).
			Str("stage", string(report.FailedStage)).
			Bool("retryable", IsRetryable(err)).
			Msg("pipeline run failed")
		return report, err
	}

	logger.Info().
		Int("extracted", report.Extracted).
		Int("transformed", report.Transformed).
		Int("loaded", report.Loaded).
		Int("skipped", report.Skipped).
		Dur("took", report.Duration()).
		Msg("pipeline run succeeded")

	p.afterSuccess(ctx, logger, report)
	return report, nil
}

// Preview runs extraction and transformation only.
func (p *Pipeline) Preview(ctx context.Context) ([]storage.RateRecord, RunReport, error) {
	report := RunReport{ID: uuid.NewString(), State: StateIdle, StartedAt: time.Now().UTC()}
	records, err := p.extractAndTransform(ctx, &report)
	p.finish(&report, err)
	return records, report, err
}

func (p *Pipeline) extractAndTransform(ctx context.Context, report *RunReport) ([]storage.RateRecord, error) {
	if p.fetcher == nil {
		return nil, &StageError{Stage: StageExtract, Err: fetcher.ConfigError("fetcher not configured")}
	}

	p.enter(report, StateExtracting)
	raw, err := p.fetcher.FetchSeries(ctx)
	if err != nil {
		return nil, &StageError{Stage: StageExtract, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &StageError{Stage: StageExtract, Err: fetcher.TransportError(err)}
	}

	p.enter(report, StateTransforming)
	points, err := transform.Decode(raw)
	if err != nil {
		return nil, &StageError{Stage: StageTransform, Err: err}
	}
	report.Extracted = len(points)

	records, err := transform.TransformPoints(points)
	if err != nil {
		return nil, &StageError{Stage: StageTransform, Err: err}
	}
	report.Transformed = len(records)
	return records, nil
}

func (p *Pipeline) load(ctx context.Context, report *RunReport, records []storage.RateRecord) error {
	p.enter(report, StateLoading)
	res, err := p.loader.Load(ctx, records)
	if err != nil {
		return &StageError{Stage: StageLoad, Err: err}
	}
	report.Loaded = len(res.Inserted)
	report.Skipped = res.Skipped
	report.Inserted = res.Inserted
	return nil
}

func (p *Pipeline) finish(report *RunReport, err error) {
	report.FinishedAt = time.Now().UTC()
	if err != nil {
		report.FailedStage = FailedStage(err)
		report.Err = err.Error()
		p.enter(report, StateFailed)
	} else {
		p.enter(report, StateSucceeded)
	}

	p.opts.Metrics.RecordRun(string(report.FailedStage), report.Duration())

	p.mu.Lock()
	last := *report
	p.last = &last
	p.mu.Unlock()
}

// afterSuccess fans out side effects. Failures are logged and never change
// the run's outcome.
func (p *Pipeline) afterSuccess(ctx context.Context, logger zerolog.Logger, report RunReport) {
	p.opts.Metrics.RecordLoad(report.Loaded, report.Skipped)
	if len(report.Inserted) == 0 {
		return
	}

	latest := report.Inserted[len(report.Inserted)-1]
	p.opts.Metrics.RecordLatestRate(latest.Rate.InexactFloat64())

	if p.opts.Cache != nil {
		if err := p.opts.Cache.Delete(ctx, cache.SummaryKey); err != nil {
			logger.Warn().Err(err).Msg("failed to invalidate summary cache")
		}
	}

	if p.opts.Publisher != nil {
		evs := make([]events.RecordEvent, 0, len(report.Inserted))
		for _, r := range report.Inserted {
			evs = append(evs, events.NewRecordEvent(report.ID, r))
		}
		if err := p.opts.Publisher.Publish(ctx, evs); err != nil {
			logger.Error().Err(err).Int("records", len(evs)).Msg("failed to publish record events")
		}
	}

	if p.opts.Notifier != nil {
		for _, note := range changeNotifications(report, p.opts.Series) {
			if err := p.opts.Notifier.Notify(ctx, note); err != nil {
				logger.Error().Err(err).Time("date", note.Date).Msg("failed to dispatch alert")
			}
		}
	}
}

func changeNotifications(report RunReport, series string) []alerting.Notification {
	notes := make([]alerting.Notification, 0)
	for _, r := range report.Inserted {
		if r.RateChange == nil || r.RateChange.IsZero() {
			continue
		}
		notes = append(notes, alerting.Notification{
			Date:         r.Date,
			Series:       series,
			PreviousRate: r.Rate.Sub(*r.RateChange),
			Rate:         r.Rate,
			Change:       *r.RateChange,
			Direction:    analytics.ClassifyChange(*r.RateChange),
			RunID:        report.ID,
		})
	}
	return notes
}

// RunScheduled is the scheduler entry point. With a lock key configured only
// one replica runs per tick.
func (p *Pipeline) RunScheduled(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := p.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		p.logger.Debug().Time("tick", tick).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	_, err = p.Run(ctx)
	return err
}

func (p *Pipeline) acquireLock(ctx context.Context) (func(), bool, error) {
	if p.opts.LockKey == 0 || p.opts.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := p.opts.Locker.TryAdvisoryLock(ctx, p.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
