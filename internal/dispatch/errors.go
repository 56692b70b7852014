package dispatch

import (
	"errors"
	"fmt"
)

var ErrInvalidDate = errors.New("invalid date")

// InputError rejects a request before any work starts.
type InputError struct {
	Field  string
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return e.Err }
