package session

import (
	"errors"
	"fmt"

	"github.com/charleshuang3/authsession/internal/models"
	"github.com/charleshuang3/authsession/internal/storage"
)

var (
	// ErrInvalidCredentials never tells whether the user or the password was
	// wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenRevoked       = errors.New("token revoked")
	// ErrTokenNotFound is also returned for tokens that were never issued.
	ErrTokenNotFound   = errors.New("token not found")
	ErrTokenInvalid    = errors.New("token invalid")
	ErrTooManySessions = errors.New("too many sessions")
	// ErrTransientStore says nothing about the token, the caller should retry.
	ErrTransientStore = errors.New("session store temporarily unavailable")
)

// TooManySessionsError lists the active sessions so the user can pick which
// to revoke.
type TooManySessionsError struct {
	Max      int
	Sessions []models.RefreshToken
}

func (e *TooManySessionsError) Error() string {
	return fmt.Sprintf("too many sessions: %d active, max %d", len(e.Sessions), e.Max)
}

func (e *TooManySessionsError) Is(target error) bool {
	return target == ErrTooManySessions
}

// classify keeps the taxonomy errors and turns every other failure, such as
// store timeouts or lock backend outages, into ErrTransientStore.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenRevoked),
		errors.Is(err, ErrTokenNotFound),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTooManySessions),
		errors.Is(err, ErrTransientStore):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return ErrTokenNotFound
	default:
		return fmt.Errorf("%w: %v", ErrTransientStore, err)
	}
}
