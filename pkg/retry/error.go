package retry

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// AfterError signals that an attempt failed but may succeed once the carried
// delay has passed. Any other error returned by a unit of work is final.
type AfterError struct {
	delaySeconds int64
	msg          string
	err          error
}

// NewAfterError returns a retryable failure without further context.
// Negative delays are clamped to zero.
func NewAfterError(delaySeconds int64) *AfterError {
	return &AfterError{delaySeconds: clampDelay(delaySeconds)}
}

// NewAfterErrorf returns a retryable failure with a formatted message.
func NewAfterErrorf(delaySeconds int64, format string, args ...any) *AfterError {
	return &AfterError{delaySeconds: clampDelay(delaySeconds), msg: fmt.Sprintf(format, args...)}
}

// WrapAfter returns a retryable failure caused by err.
func WrapAfter(delaySeconds int64, err error) *AfterError {
	return &AfterError{delaySeconds: clampDelay(delaySeconds), err: err}
}

// DelaySeconds returns the wait demanded before the next attempt.
func (e *AfterError) DelaySeconds() int64 { return e.delaySeconds }

// Delay returns DelaySeconds as a time.Duration, saturating at the largest
// representable duration.
func (e *AfterError) Delay() time.Duration {
	return secondsToDuration(e.delaySeconds)
}

func (e *AfterError) Error() string {
	s := "retry after " + strconv.FormatInt(e.delaySeconds, 10) + "s"
	switch {
	case e.msg != "" && e.err != nil:
		return e.msg + ": " + e.err.Error() + " (" + s + ")"
	case e.msg != "":
		return e.msg + " (" + s + ")"
	case e.err != nil:
		return e.err.Error() + " (" + s + ")"
	default:
		return s
	}
}

func (e *AfterError) Unwrap() error { return e.err }

// AsAfter reports whether err carries an AfterError in its chain.
func AsAfter(err error) (*AfterError, bool) {
	var ae *AfterError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// InterruptedError is returned when the context ends while waiting between
// attempts. Remaining attempts are abandoned.
type InterruptedError struct {
	Attempts int
	Err      error
}

func (e *InterruptedError) Error() string {
	return "retry: wait interrupted after " + strconv.Itoa(e.Attempts) + " attempts: " + e.Err.Error()
}

func (e *InterruptedError) Unwrap() error { return e.Err }

func clampDelay(d int64) int64 {
	if d < 0 {
		return 0
	}
	return d
}
