package session

import (
	"fmt"
	"time"
)

const (
	// PolicyEvictOldest revokes the oldest active sessions to make room.
	PolicyEvictOldest = "evict_oldest"
	// PolicyReject refuses the new session with ErrTooManySessions.
	PolicyReject = "reject"
)

type Config struct {
	AccessTokenLifetimeMinutes int `yaml:"access_token_lifetime_minutes"`
	RefreshTokenLifetimeDays   int `yaml:"refresh_token_lifetime_days"`

	// RefreshThresholdMinutes is how long before expiry an access token
	// needs refresh. Unset means 5; 0 means only once expired.
	RefreshThresholdMinutes *int `yaml:"refresh_threshold_minutes"`

	// MaxSessions is the active session limit per user. 0 means 5, a
	// negative value means unlimited.
	MaxSessions         int    `yaml:"max_sessions"`
	SessionLimitPolicy  string `yaml:"session_limit_policy"`
	StoreTimeoutSeconds int    `yaml:"store_timeout_seconds"`

	// RevokeAllOnReplay logs the user out everywhere when a rotated refresh
	// token is presented again.
	RevokeAllOnReplay bool `yaml:"revoke_all_on_replay"`
}

func (c *Config) applyDefaults() {
	if c.AccessTokenLifetimeMinutes <= 0 {
		c.AccessTokenLifetimeMinutes = 15
	}
	if c.RefreshTokenLifetimeDays <= 0 {
		c.RefreshTokenLifetimeDays = 7
	}
	if c.RefreshThresholdMinutes == nil {
		threshold := 5
		c.RefreshThresholdMinutes = &threshold
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = 5
	}
	if c.SessionLimitPolicy == "" {
		c.SessionLimitPolicy = PolicyEvictOldest
	}
	if c.StoreTimeoutSeconds <= 0 {
		c.StoreTimeoutSeconds = 5
	}
}

func (c *Config) Validate() error {
	c.applyDefaults()

	if c.SessionLimitPolicy != PolicyEvictOldest && c.SessionLimitPolicy != PolicyReject {
		return fmt.Errorf("session: unknown session_limit_policy %q", c.SessionLimitPolicy)
	}
	threshold := *c.RefreshThresholdMinutes
	if threshold < 0 || threshold >= c.AccessTokenLifetimeMinutes {
		return fmt.Errorf("session: refresh_threshold_minutes (%d) must be in [0,%d)",
			threshold, c.AccessTokenLifetimeMinutes)
	}
	return nil
}

func (c *Config) AccessTokenLifetime() time.Duration {
	return time.Duration(c.AccessTokenLifetimeMinutes) * time.Minute
}

func (c *Config) RefreshThreshold() int {
	return *c.RefreshThresholdMinutes
}

func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}
