package events

import (
	"context"
	"time"

	"fundrate-tracker/internal/storage"
)

// RecordEvent announces one newly stored rate record.
type RecordEvent struct {
	RunID      string    `json:"run_id"`
	Date       string    `json:"date"`
	Rate       string    `json:"rate"`
	RateChange *string   `json:"rate_change"`
	InsertedAt time.Time `json:"inserted_at"`
}

// NewRecordEvent renders a stored record for publication.
func NewRecordEvent(runID string, r storage.RateRecord) RecordEvent {
	ev := RecordEvent{
		RunID:      runID,
		Date:       r.DateKey(),
		Rate:       r.Rate.StringFixed(storage.RatePlaces),
		InsertedAt: r.CreatedAt,
	}
	if r.RateChange != nil {
		change := r.RateChange.StringFixed(storage.RatePlaces)
		ev.RateChange = &change
	}
	return ev
}

// Publisher fans newly inserted records out to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, events []RecordEvent) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, []RecordEvent) error { return nil }
func (Nop) Close() error                                  { return nil }

var _ Publisher = Nop{}
