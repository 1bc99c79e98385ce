package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RatePlaces is the fixed number of fractional digits stored for rates.
const RatePlaces = 2

// DateLayout is the calendar-date wire format shared by the provider and the API.
const DateLayout = "2006-01-02"

// RateRecord is one dated observation of the tracked policy rate.
type RateRecord struct {
	Date       time.Time
	Rate       decimal.Decimal
	RateChange *decimal.Decimal
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DateKey renders the record's natural key.
func (r RateRecord) DateKey() string {
	return r.Date.Format(DateLayout)
}

// TruncateDate normalises t to a UTC calendar date.
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// InsertOptions tune InsertMissing.
type InsertOptions struct {
	// AnchorToStored fills the first record's missing RateChange from the
	// latest stored record dated before it.
	AnchorToStored bool
}

// InsertResult reports the outcome of one InsertMissing transaction.
type InsertResult struct {
	Inserted []RateRecord
	Skipped  int
}
