package notifier

import (
	"errors"
	"time"
)

var (
	ErrStopped   = errors.New("notifier stopped")
	ErrQueueFull = errors.New("notifier queue full")
)

// sendError annotates a sink error with the retry decision.
type sendError struct {
	err       error
	permanent bool
	wait      time.Duration
}

func (e *sendError) Error() string { return e.err.Error() }
func (e *sendError) Unwrap() error { return e.err }

// NoRetry marks a send error as permanent; the worker gives up at once.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &sendError{err: err, permanent: true}
}

// RetryAfter asks the worker to wait at least d before the next attempt,
// as with a chat API flood-wait.
func RetryAfter(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	return &sendError{err: err, wait: max(d, 0)}
}

func IsNoRetry(err error) bool {
	var se *sendError
	return errors.As(err, &se) && se.permanent
}

// retryHint reports the wait requested through RetryAfter.
func retryHint(err error) (time.Duration, bool) {
	var se *sendError
	if errors.As(err, &se) && !se.permanent && se.wait > 0 {
		return se.wait, true
	}
	return 0, false
}
