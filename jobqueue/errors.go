package jobqueue

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQueueClosed is returned by Enqueue once the queue has been closed.
	ErrQueueClosed = errors.New("jobqueue: queue closed")
	// ErrQueueFull is returned by TryEnqueue when the lane of the group has no room.
	ErrQueueFull = errors.New("jobqueue: queue full")
)

type RetryError struct {
	After time.Duration
	Err   error
}

func (e RetryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("retry after %s", e.After)
	}
	return fmt.Sprintf("retry after %s: %v", e.After, e.Err)
}
func (e RetryError) Unwrap() error { return e.Err }

// RetryAfter wraps an error as retryable after the given delay.
func RetryAfter(err error, after time.Duration) error {
	return RetryError{After: after, Err: err}
}

type PermanentError struct{ Err error }

func (e PermanentError) Error() string {
	if e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}
func (e PermanentError) Unwrap() error { return e.Err }

// Permanent marks an error as non-retryable, the job is dropped as dead.
func Permanent(err error) error { return PermanentError{Err: err} }
