package fetcher

import "fmt"

// ExtractionError reports a failed provider request.
type ExtractionError struct {
	// Reason is a short machine-friendly cause, e.g. "transport" or "status".
	Reason     string
	StatusCode int
	Message    string
	Err        error
	retryable  bool
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extraction failed (%s)", e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt may succeed.
func (e *ExtractionError) Retryable() bool {
	return e.retryable
}

// TransportError wraps a failure to complete the provider exchange,
// including cancellation. It is retryable.
func TransportError(err error) *ExtractionError {
	return transportError(err)
}

// ConfigError reports a fetcher that cannot issue requests at all.
func ConfigError(message string) *ExtractionError {
	return payloadError("config", message, nil, false)
}

func transportError(err error) *ExtractionError {
	return &ExtractionError{Reason: "transport", Err: err, retryable: true}
}

func statusError(status int, message string) *ExtractionError {
	return &ExtractionError{
		Reason:     "status",
		StatusCode: status,
		Message:    message,
		retryable:  status >= 500 || status == 429,
	}
}

func payloadError(reason, message string, err error, retryable bool) *ExtractionError {
	return &ExtractionError{Reason: reason, Message: message, Err: err, retryable: retryable}
}
