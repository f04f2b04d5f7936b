package session

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/charleshuang3/authsession/internal/gormw"
	"github.com/charleshuang3/authsession/internal/models"
	"github.com/charleshuang3/authsession/internal/storage"
)

// Limiter caps concurrent sessions per user.
type Limiter struct {
	policy string
	clock  clockwork.Clock
}

func NewLimiter(policy string, clock clockwork.Clock) *Limiter {
	if policy == "" {
		policy = PolicyEvictOldest
	}
	return &Limiter{policy: policy, clock: clock}
}

// EnsureCapacity makes room for one more session of userID. It must run in
// the transaction that inserts the new session, with the user locked. With
// the evict_oldest policy it returns the evicted tokens; with reject it
// returns a *TooManySessionsError when the user is at the limit.
// maxSessions <= 0 means unlimited.
func (l *Limiter) EnsureCapacity(ctx context.Context, tx *gormw.DB, userID int64, maxSessions int) ([]models.RefreshToken, error) {
	if maxSessions <= 0 {
		return nil, nil
	}

	now := l.clock.Now()
	active, err := storage.ListActiveRefreshTokens(tx.WithContext(ctx), userID, now)
	if err != nil {
		return nil, err
	}
	if len(active) < maxSessions {
		return nil, nil
	}

	if l.policy == PolicyReject {
		return nil, &TooManySessionsError{Max: maxSessions, Sessions: active}
	}

	// oldest first, so evict from the head.
	excess := len(active) - maxSessions + 1
	evicted := make([]models.RefreshToken, 0, excess)
	for _, rt := range active[:excess] {
		next, err := Transition(rt, Event{Kind: EventRevoke}, now)
		if err != nil {
			return nil, err
		}
		if err := persistRevocation(ctx, tx, next); err != nil {
			return nil, err
		}
		evicted = append(evicted, next)
	}
	return evicted, nil
}

// persistRevocation stores a revoked snapshot produced by Transition. It
// fails with ErrTokenRevoked when another writer revoked the row first.
func persistRevocation(ctx context.Context, tx *gormw.DB, next models.RefreshToken) error {
	revokedAt := time.Time{}
	if next.RevokedAt != nil {
		revokedAt = *next.RevokedAt
	}
	ok, err := storage.RevokeRefreshToken(tx.WithContext(ctx), next.ID, revokedAt, next.ReplacedByID)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := storage.GetRefreshTokenByID(tx.WithContext(ctx), next.ID); err != nil {
			return err
		}
		return ErrTokenRevoked
	}
	return nil
}
