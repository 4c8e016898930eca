package store

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks failures to reach the database at all.
var ErrUnavailable = errors.New("store unavailable")

// ErrEmptyBatch is returned for a submission without records.
var ErrEmptyBatch = errors.New("batch has no records")

// PersistenceError reports a failed store operation. Nothing of the
// operation was committed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

func unavailable(op string, err error) error {
	return &PersistenceError{Op: op, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
}
