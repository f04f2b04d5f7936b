package storage

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("storage: not found")

	// ErrConflict is returned when a write violates a unique constraint.
	ErrConflict = errors.New("storage: conflict")

	// ErrUnavailable covers every other database failure: connection loss,
	// timeouts, closed pools.
	ErrUnavailable = errors.New("storage: unavailable")
)

// translate maps gorm errors into this package's errors so callers never
// see gorm types.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
