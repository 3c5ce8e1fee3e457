package models

import (
	"errors"
	"fmt"
)

// ErrAttachmentNotSatisfied is returned when a relation is read before a
// loader attached it. It always indicates a missing eager load in the caller.
var ErrAttachmentNotSatisfied = errors.New("attachment not satisfied")

// attachable holds a value that is populated out-of-band by a loader.
type attachable[T any] struct {
	value    T
	attached bool
}

func (a *attachable[T]) set(v T) {
	a.value = v
	a.attached = true
}

func (a *attachable[T]) get(name string) (T, error) {
	if !a.attached {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrAttachmentNotSatisfied, name)
	}
	return a.value, nil
}
