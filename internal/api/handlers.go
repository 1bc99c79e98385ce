package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"fundrate-tracker/internal/analytics"
	"fundrate-tracker/internal/cache"
	"fundrate-tracker/internal/pipeline"
	"fundrate-tracker/internal/storage"
	"fundrate-tracker/internal/version"
)

// Analytics is the read side served by the API.
type Analytics interface {
	Latest(ctx context.Context) (*storage.RateRecord, error)
	Historical(ctx context.Context, start, end *time.Time) ([]storage.RateRecord, error)
	MovingAverages(ctx context.Context) (analytics.MovingAverages, error)
	Volatility(ctx context.Context, windowDays int) (*float64, error)
	Summary(ctx context.Context) (*analytics.Summary, error)
	ChangeEvents(ctx context.Context, start, end *time.Time) ([]analytics.ChangeEvent, error)
}

// Runner triggers ingestion.
type Runner interface {
	Run(ctx context.Context) (pipeline.RunReport, error)
	LastReport() (pipeline.RunReport, bool)
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type dateRangeQuery struct {
	StartDate string `query:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `query:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

func (q dateRangeQuery) bounds() (*time.Time, *time.Time, error) {
	return dateBounds(q.StartDate, q.EndDate)
}

func dateBounds(startDate, endDate string) (*time.Time, *time.Time, error) {
	start, err := parseDateParam("start_date", startDate)
	if err != nil {
		return nil, nil, err
	}
	end, err := parseDateParam("end_date", endDate)
	if err != nil {
		return nil, nil, err
	}
	if start != nil && end != nil && start.After(*end) {
		return nil, nil, badRequestError("start_date must not be after end_date")
	}
	return start, end, nil
}

type historicalQuery struct {
	StartDate string `query:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `query:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Limit     int    `query:"limit" default:"100" validate:"min=1,max=1000"`
}

type volatilityQuery struct {
	Days int `query:"days" default:"30" validate:"min=1,max=3650"`
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"service": version.Name,
		"version": version.Version,
		"status":  "running",
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	body := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	status := http.StatusOK

	if s.db != nil {
		if err := s.db.Ping(c.Request().Context()); err != nil {
			s.logger.Warn().Err(err).Msg("health check database ping failed")
			body["status"] = "degraded"
			body["database"] = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			body["database"] = "ok"
		}
	}
	if s.runner != nil {
		if last, ok := s.runner.LastReport(); ok {
			body["last_run"] = last
		}
	}
	return c.JSON(status, body)
}

func (s *Server) handleLatest(c echo.Context) error {
	record, err := s.analytics.Latest(c.Request().Context())
	if err != nil {
		return analyticsError(err)
	}
	return c.JSON(http.StatusOK, newRateResponse(*record))
}

func (s *Server) handleHistorical(c echo.Context) error {
	var q historicalQuery
	if err := bindQuery(c, &q); err != nil {
		return err
	}
	start, end, err := dateBounds(q.StartDate, q.EndDate)
	if err != nil {
		return err
	}

	records, err := s.analytics.Historical(c.Request().Context(), start, end)
	if err != nil {
		return internalError(err)
	}
	if len(records) > q.Limit {
		records = records[:q.Limit]
	}

	resp := historicalResponse{Count: len(records), Data: make([]rateResponse, 0, len(records))}
	for _, r := range records {
		resp.Data = append(resp.Data, newRateResponse(r))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleChanges(c echo.Context) error {
	var q dateRangeQuery
	if err := bindQuery(c, &q); err != nil {
		return err
	}
	start, end, err := q.bounds()
	if err != nil {
		return err
	}

	evs, err := s.analytics.ChangeEvents(c.Request().Context(), start, end)
	if err != nil {
		return internalError(err)
	}
	resp := changesResponse{Count: len(evs), Changes: make([]changeResponse, 0, len(evs))}
	for _, ev := range evs {
		resp.Changes = append(resp.Changes, newChangeResponse(ev))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSummary(c echo.Context) error {
	ctx := c.Request().Context()

	if s.cache != nil {
		if b, err := s.cache.Get(ctx, cache.SummaryKey); err == nil {
			s.metrics.RecordCacheLookup(true)
			return c.JSONBlob(http.StatusOK, b)
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn().Err(err).Msg("summary cache read failed")
		}
		s.metrics.RecordCacheLookup(false)
	}

	summary, err := s.analytics.Summary(ctx)
	if err != nil {
		return analyticsError(err)
	}

	b, err := json.Marshal(newSummaryResponse(summary))
	if err != nil {
		return internalError(err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.SummaryKey, b, s.cacheTTL); err != nil {
			s.logger.Warn().Err(err).Msg("summary cache write failed")
		}
	}
	return c.JSONBlob(http.StatusOK, b)
}

func (s *Server) handleMovingAverages(c echo.Context) error {
	mas, err := s.analytics.MovingAverages(c.Request().Context())
	if err != nil {
		return internalError(err)
	}
	return c.JSON(http.StatusOK, newMovingAveragesResponse(mas))
}

func (s *Server) handleVolatility(c echo.Context) error {
	var q volatilityQuery
	if err := bindQuery(c, &q); err != nil {
		return err
	}
	vol, err := s.analytics.Volatility(c.Request().Context(), q.Days)
	if err != nil {
		return internalError(err)
	}
	return c.JSON(http.StatusOK, volatilityResponse{Days: q.Days, Volatility: vol})
}

func (s *Server) handleTrigger(c echo.Context) error {
	if s.runner == nil {
		return newAppError("ERR_UNAVAILABLE", "pipeline not configured", http.StatusServiceUnavailable)
	}

	report, err := s.runner.Run(c.Request().Context())
	if err != nil {
		status := http.StatusInternalServerError
		switch pipeline.FailedStage(err) {
		case pipeline.StageExtract:
			status = http.StatusBadGateway
		case pipeline.StageTransform:
			status = http.StatusUnprocessableEntity
		}
		return newAppError("ERR_PIPELINE_"+strings.ToUpper(string(report.FailedStage)), err.Error(), status).
			WithError(err).
			WithDetails(report)
	}
	return c.JSON(http.StatusOK, report)
}

func analyticsError(err error) error {
	if errors.Is(err, analytics.ErrNoData) {
		return notFoundError("no rate data available")
	}
	return internalError(err)
}
