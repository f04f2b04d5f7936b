package idgen

import (
	"github.com/google/uuid"
)

// NewUUID returns a time-ordered UUIDv7 string.
func NewUUID() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
