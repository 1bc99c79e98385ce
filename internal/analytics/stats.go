package analytics

import (
	"math"

	"github.com/shopspring/decimal"

	"fundrate-tracker/internal/storage"
)

// MovingAverageWindows are the supported window lengths, in records.
var MovingAverageWindows = []int{30, 90, 365}

// meanOfLast returns the exact mean of the last w rates, or nil when fewer
// than w records exist. records must be ascending.
func meanOfLast(records []storage.RateRecord, w int) *decimal.Decimal {
	if w <= 0 || len(records) < w {
		return nil
	}
	sum := decimal.Zero
	for _, r := range records[len(records)-w:] {
		sum = sum.Add(r.Rate)
	}
	mean := sum.Div(decimal.NewFromInt(int64(w)))
	return &mean
}

// sampleStdDev is the n-1 standard deviation; nil below two observations.
func sampleStdDev(records []storage.RateRecord) *float64 {
	n := len(records)
	if n < 2 {
		return nil
	}

	values := make([]float64, n)
	var sum float64
	for i, r := range records {
		values[i] = r.Rate.InexactFloat64()
		sum += values[i]
	}
	mean := sum / float64(n)

	var squares float64
	for _, v := range values {
		d := v - mean
		squares += d * d
	}
	std := math.Sqrt(squares / float64(n-1))
	return &std
}

func extremes(records []storage.RateRecord) (lo, hi, avg decimal.Decimal) {
	if len(records) == 0 {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}
	lo, hi = records[0].Rate, records[0].Rate
	sum := decimal.Zero
	for _, r := range records {
		if r.Rate.LessThan(lo) {
			lo = r.Rate
		}
		if r.Rate.GreaterThan(hi) {
			hi = r.Rate
		}
		sum = sum.Add(r.Rate)
	}
	avg = sum.Div(decimal.NewFromInt(int64(len(records))))
	return lo, hi, avg
}

// ClassifyChange labels a rate move as up, down or flat.
func ClassifyChange(d decimal.Decimal) string {
	switch d.Sign() {
	case 1:
		return DirectionUp
	case -1:
		return DirectionDown
	default:
		return DirectionFlat
	}
}
