package transform

import "fmt"

// TransformationError reports a payload whose shape cannot be interpreted.
// Individual unparseable values are dropped instead.
type TransformationError struct {
	// Index is the offending element, or -1 when the payload itself is bad.
	Index int
	Msg   string
	Err   error
}

func (e *TransformationError) Error() string {
	msg := "transformation failed"
	if e.Index >= 0 {
		msg += fmt.Sprintf(" at element %d", e.Index)
	}
	msg += ": " + e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransformationError) Unwrap() error {
	return e.Err
}

// Retryable is always false: the same payload fails the same way.
func (e *TransformationError) Retryable() bool {
	return false
}
