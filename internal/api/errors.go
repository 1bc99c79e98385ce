package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// AppError is an error with an HTTP status and a stable code.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Details interface{}            `json:"details,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithError wraps an underlying error.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// WithDetails attaches a response payload next to the message.
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

func newAppError(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func notFoundError(message string) *AppError {
	return newAppError("ERR_NOT_FOUND", message, http.StatusNotFound)
}

func badRequestError(message string) *AppError {
	return newAppError("ERR_BAD_REQUEST", message, http.StatusBadRequest)
}

func internalError(err error) *AppError {
	return newAppError("ERR_INTERNAL", "Something went wrong", http.StatusInternalServerError).WithError(err)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Errors  interface{} `json:"errors"`
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var appErr *AppError
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
	case errors.As(err, &httpErr):
		appErr = newAppError("ERR_HTTP", fmt.Sprintf("%v", httpErr.Message), httpErr.Code)
	default:
		appErr = internalError(err)
	}

	if appErr.Status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).
			Str("route", c.Path()).
			Int("status", appErr.Status).
			Msg("request failed")
	}

	body := errorBody{
		Status:  appErr.Status,
		Message: http.StatusText(appErr.Status),
		Errors:  []*AppError{appErr},
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(appErr.Status)
		return
	}
	_ = c.JSON(appErr.Status, body)
}
