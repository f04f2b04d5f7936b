package session

import (
	"time"

	"github.com/charleshuang3/authsession/internal/models"
)

// CalculateAccessTokenExpiry returns now + lifetimeMinutes.
func (s *Service) CalculateAccessTokenExpiry(lifetimeMinutes int) time.Time {
	return s.clock.Now().Add(time.Duration(lifetimeMinutes) * time.Minute)
}

// CalculateRefreshTokenExpiry returns now + lifetimeDays, days being 24h.
func (s *Service) CalculateRefreshTokenExpiry(lifetimeDays int) time.Time {
	return s.clock.Now().Add(time.Duration(lifetimeDays) * 24 * time.Hour)
}

// NeedsRefresh reports whether a token issued at issuedAt expires strictly
// before now + threshold. With threshold 0 it equals IsExpired.
func (s *Service) NeedsRefresh(issuedAt time.Time, lifetimeMinutes, thresholdMinutes int) bool {
	expiresAt := issuedAt.Add(time.Duration(lifetimeMinutes) * time.Minute)
	lookAhead := s.clock.Now().Add(time.Duration(thresholdMinutes) * time.Minute)
	return expiresAt.Before(lookAhead)
}

// IsExpired reports now > expiresAt.
func (s *Service) IsExpired(expiresAt time.Time) bool {
	return s.clock.Now().After(expiresAt)
}

// ValidateRefreshToken accepts only an active token. A nil record is
// ErrTokenNotFound.
func (s *Service) ValidateRefreshToken(rt *models.RefreshToken) error {
	if rt == nil {
		return ErrTokenNotFound
	}
	return validateState(StateOf(rt, s.clock.Now()))
}
