package reminder

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrFormat          = errors.New("format error")
)

// ArgumentError reports a caller contract violation for one named parameter.
type ArgumentError struct {
	Param  string
	Reason string
	Err    error // optional cause
}

func (e *ArgumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid argument %s: %s: %v", e.Param, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid argument %s: %s", e.Param, e.Reason)
}

func (e *ArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

func (e *ArgumentError) Unwrap() error { return e.Err }

// InvalidArgument builds an *ArgumentError.
func InvalidArgument(param, reason string) error {
	return &ArgumentError{Param: param, Reason: reason}
}

// FormatError reports input that does not match a strict textual grammar.
type FormatError struct {
	Input    string
	Expected string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid format %q: expected %s", e.Input, e.Expected)
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// ParamOf returns the failing parameter name of an *ArgumentError, or "".
func ParamOf(err error) string {
	var ae *ArgumentError
	if errors.As(err, &ae) {
		return ae.Param
	}
	return ""
}
