package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation targets a program id that
	// does not reference a live program.
	ErrNotFound = errors.New("program not found")
	// ErrInvalidArgument is returned for unknown metric names, unknown
	// sampling strategies, and invalid store configuration.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrStorage wraps failures of the underlying persistence backend.
	ErrStorage = errors.New("storage failure")
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
