package app

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownResource = errors.New("unknown resource")
	ErrNotFound        = errors.New("not found")
	ErrSearchDisabled  = errors.New("search is not enabled")
)

// ValidationError means the request was malformed, incomplete or did not
// satisfy the schema of the resource.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

type InvalidIDError struct {
	Label string
	Raw   string
}

func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("Invalid %s ID format: %s", e.Label, e.Raw)
}

type NotFoundError struct {
	Label string
	ID    int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %d not found", e.Label, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
