package loader

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"fundrate-tracker/internal/storage"
)

// LoadError reports a failed persistence transaction. Nothing from the batch
// was written.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load failed: %v", e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Retryable is false for constraint and data violations.
func (e *LoadError) Retryable() bool {
	return !storage.IsPermanent(e.Err)
}

// Options control how batches are persisted.
type Options struct {
	AnchorRateChange bool
}

// Result summarises one Load call.
type Result struct {
	Candidates int
	Inserted   []storage.RateRecord
	Skipped    int
}

// Loader persists transformed batches through a RateWriter.
type Loader struct {
	writer storage.RateWriter
	opts   Options
	logger zerolog.Logger
}

// New builds a Loader.
func New(writer storage.RateWriter, opts Options, logger zerolog.Logger) *Loader {
	return &Loader{
		writer: writer,
		opts:   opts,
		logger: logger.With().Str("component", "loader").Logger(),
	}
}

// Load inserts the records whose dates are not stored yet. The batch must be
// strictly ascending by date.
func (l *Loader) Load(ctx context.Context, records []storage.RateRecord) (Result, error) {
	result := Result{Candidates: len(records)}
	if len(records) == 0 {
		return result, nil
	}
	if l == nil || l.writer == nil {
		return result, &LoadError{Err: storage.ErrNotConfigured}
	}

	res, err := l.writer.InsertMissing(ctx, records, storage.InsertOptions{AnchorToStored: l.opts.AnchorRateChange})
	if err != nil {
		return result, &LoadError{Err: err}
	}

	result.Inserted = res.Inserted
	result.Skipped = res.Skipped

	l.logger.Info().
		Int("candidates", result.Candidates).
		Int("inserted", len(result.Inserted)).
		Int("skipped", result.Skipped).
		Msg("batch loaded")

	return result, nil
}
