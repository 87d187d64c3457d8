package command

import (
	"errors"
	"fmt"
)

// ErrInvalidParameter is matched by every validation failure of this package.
var ErrInvalidParameter = errors.New("invalid command parameter")

// InvalidParameterError names the offending field and the value it was given.
type InvalidParameterError struct {
	Command string
	Field   string
	Value   any
	Reason  string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("%s: %s=%v: %s", e.Command, e.Field, e.Value, e.Reason)
}

func (e *InvalidParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

func invalid(cmd, field string, value any, reason string) error {
	return &InvalidParameterError{Command: cmd, Field: field, Value: value, Reason: reason}
}
