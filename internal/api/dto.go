package api

import (
	"time"

	"github.com/shopspring/decimal"

	"fundrate-tracker/internal/analytics"
	"fundrate-tracker/internal/storage"
)

// Decimals leave the service as JSON numbers; absent values are null.

type rateResponse struct {
	Date       string    `json:"date"`
	Rate       float64   `json:"rate"`
	RateChange *float64  `json:"rate_change"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type historicalResponse struct {
	Count int            `json:"count"`
	Data  []rateResponse `json:"data"`
}

type movingAveragesResponse struct {
	MA30  *float64 `json:"ma_30"`
	MA90  *float64 `json:"ma_90"`
	MA365 *float64 `json:"ma_365"`
}

type summaryResponse struct {
	LatestRate     float64                `json:"latest_rate"`
	LatestDate     string                 `json:"latest_date"`
	MinRate        float64                `json:"min_rate"`
	MaxRate        float64                `json:"max_rate"`
	AvgRate        float64                `json:"avg_rate"`
	MovingAverages movingAveragesResponse `json:"moving_averages"`
	Volatility30d  *float64               `json:"volatility_30d"`
	TotalRecords   int                    `json:"total_records"`
}

type volatilityResponse struct {
	Days       int      `json:"days"`
	Volatility *float64 `json:"volatility"`
}

type changeResponse struct {
	Date      string  `json:"date"`
	Rate      float64 `json:"rate"`
	Change    float64 `json:"change"`
	Direction string  `json:"direction"`
}

type changesResponse struct {
	Count   int              `json:"count"`
	Changes []changeResponse `json:"changes"`
}

func toFloat(d decimal.Decimal) float64 {
	return d.Round(4).InexactFloat64()
}

func toFloatPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	v := toFloat(*d)
	return &v
}

func newRateResponse(r storage.RateRecord) rateResponse {
	return rateResponse{
		Date:       r.DateKey(),
		Rate:       toFloat(r.Rate),
		RateChange: toFloatPtr(r.RateChange),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func newMovingAveragesResponse(m analytics.MovingAverages) movingAveragesResponse {
	return movingAveragesResponse{
		MA30:  toFloatPtr(m.MA30),
		MA90:  toFloatPtr(m.MA90),
		MA365: toFloatPtr(m.MA365),
	}
}

func newSummaryResponse(s *analytics.Summary) summaryResponse {
	return summaryResponse{
		LatestRate:     toFloat(s.LatestRate),
		LatestDate:     s.LatestDate.Format(storage.DateLayout),
		MinRate:        toFloat(s.MinRate),
		MaxRate:        toFloat(s.MaxRate),
		AvgRate:        toFloat(s.AvgRate),
		MovingAverages: newMovingAveragesResponse(s.MovingAverages),
		Volatility30d:  s.Volatility30d,
		TotalRecords:   s.TotalRecords,
	}
}

func newChangeResponse(ev analytics.ChangeEvent) changeResponse {
	return changeResponse{
		Date:      ev.Date.Format(storage.DateLayout),
		Rate:      toFloat(ev.Rate),
		Change:    toFloat(ev.Change),
		Direction: ev.Direction,
	}
}
