package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"fundrate-tracker/internal/storage"
)

var validate = validator.New()

// ValidationError describes one rejected field.
type ValidationError struct {
	Code    string                 `json:"code"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// bindQuery binds request parameters into req, applies defaults, then validates.
func bindQuery(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return validationFailure(err)
	}
	if err := defaults.Set(req); err != nil {
		return validationFailure(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return validationFailure(err)
	}
	return nil
}

func validationFailure(err error) *AppError {
	appErr := newAppError("ERR_VALIDATION", "invalid request parameters", http.StatusBadRequest).WithError(err)

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		errs := make([]ValidationError, 0, len(validationErrors))
		for _, e := range validationErrors {
			errs = append(errs, ValidationError{
				Code:    "ERR_" + strings.ToUpper(e.Tag()),
				Field:   e.Field(),
				Message: fieldMessage(e),
				Params:  fieldParams(e),
			})
		}
		return appErr.WithDetails(errs)
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return appErr.WithDetails([]ValidationError{{Code: "ERR_UNKNOWN", Message: fmt.Sprintf("%v", he.Message)}})
	}
	return appErr.WithDetails([]ValidationError{{Code: "ERR_UNKNOWN", Message: err.Error()}})
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "min", "gte":
		if fe.Type().Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		if fe.Type().Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "datetime":
		return fmt.Sprintf("%s must be a date formatted YYYY-MM-DD", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

func fieldParams(fe validator.FieldError) map[string]interface{} {
	params := make(map[string]interface{})
	switch fe.Tag() {
	case "min", "gte":
		params["min"] = fe.Param()
	case "max", "lte":
		params["max"] = fe.Param()
	case "datetime":
		params["layout"] = fe.Param()
	}
	return params
}

// parseDateParam turns an already validated YYYY-MM-DD value into a bound.
func parseDateParam(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(storage.DateLayout, value)
	if err != nil {
		return nil, badRequestError(fmt.Sprintf("%s must be YYYY-MM-DD", name)).WithError(err)
	}
	return &t, nil
}
