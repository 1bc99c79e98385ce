package api

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"fundrate-tracker/internal/metrics"
)

// recoverMiddleware turns panics into 500 responses.
func recoverMiddleware(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					panicErr, ok := r.(error)
					if !ok {
						panicErr = fmt.Errorf("%v", r)
					}
					logger.Error().Err(panicErr).Bytes("stack", debug.Stack()).Msg("panic recovered")
					err = internalError(panicErr)
				}
			}()
			return next(c)
		}
	}
}

// requestLogging logs each request and records its metrics under the route
// template to keep label cardinality low.
func requestLogging(logger zerolog.Logger, recorder *metrics.Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			took := time.Since(start)

			recorder.RecordRequest(route, req.Method, status, took)

			evt := logger.Debug()
			if status >= http.StatusInternalServerError {
				evt = logger.Warn()
			}
			evt.Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("route", route).
				Int("status", status).
				Dur("took", took).
				Msg("http request")
			return nil
		}
	}
}
