package session

import (
	"fmt"
	"time"

	"github.com/charleshuang3/authsession/internal/models"
)

// State of a refresh token. Expired is computed from ExpiresAt, never stored.
type State string

const (
	StateActive  State = "active"
	StateRevoked State = "revoked"
	StateExpired State = "expired"
)

func StateOf(rt *models.RefreshToken, now time.Time) State {
	switch {
	case rt.Revoked:
		return StateRevoked
	case rt.IsExpired(now):
		return StateExpired
	default:
		return StateActive
	}
}

type EventKind int

const (
	// EventRotate revokes an active token in favour of its successor.
	EventRotate EventKind = iota
	// EventRevoke revokes a token that is not revoked yet. Expired tokens may
	// still be revoked.
	EventRevoke
)

type Event struct {
	Kind EventKind

	// ReplacedByID is the successor id for EventRotate.
	ReplacedByID int64
}

// Transition computes the next snapshot of rt for ev. rt is a value and is
// never modified; the caller persists the result.
func Transition(rt models.RefreshToken, ev Event, now time.Time) (models.RefreshToken, error) {
	state := StateOf(&rt, now)

	switch ev.Kind {
	case EventRotate:
		if err := validateState(state); err != nil {
			return rt, err
		}
	case EventRevoke:
		if state == StateRevoked {
			return rt, ErrTokenRevoked
		}
	default:
		return rt, fmt.Errorf("session: unknown event %d", ev.Kind)
	}

	revokedAt := now.UTC()
	next := rt
	next.Revoked = true
	next.RevokedAt = &revokedAt
	if ev.Kind == EventRotate {
		id := ev.ReplacedByID
		next.ReplacedByID = &id
	}
	return next, nil
}

// validateState checks revoked before expired: a token that is both reports
// revocation.
func validateState(s State) error {
	switch s {
	case StateRevoked:
		return ErrTokenRevoked
	case StateExpired:
		return ErrTokenExpired
	}
	return nil
}
