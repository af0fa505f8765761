package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownField is returned for operations naming an unregistered field.
	ErrUnknownField = errors.New("unknown field")
	// ErrClosed is returned once the propagator has been closed.
	ErrClosed = errors.New("propagator closed")
	// ErrStale is returned by Commit when edits arrived after the snapshot the
	// writes were computed from.
	ErrStale = errors.New("stale commit")
)

// DuplicateFieldError is returned when a field id is registered twice.
type DuplicateFieldError struct {
	ID string
}

func (e *DuplicateFieldError) Error() string {
	return fmt.Sprintf("field %q already registered", e.ID)
}
