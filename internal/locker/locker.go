// Package locker serializes work per key, in process or across instances
// through Redis.
package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	logger = log.With().Str("component", "locker").Logger()

	// ErrUnavailable is returned when the lock backend cannot be reached.
	ErrUnavailable = errors.New("locker: backend unavailable")
)

const (
	BackendLocal = "local"
	BackendRedis = "redis"
)

// Locker grants exclusive access to a key. The returned unlock func must be
// called exactly once; extra calls are no-ops.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type Config struct {
	// Backend is "local" (default) or "redis".
	Backend string `yaml:"backend"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`

	// TTLSeconds caps how long a crashed holder can keep a redis lock.
	TTLSeconds int `yaml:"ttl_seconds"`

	// RetryIntervalMillis is the poll interval while waiting on a redis lock.
	RetryIntervalMillis int `yaml:"retry_interval_millis"`
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendLocal
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "authsession:lock:"
	}
	if c.TTLSeconds <= 0 {
		c.TTLSeconds = 10
	}
	if c.RetryIntervalMillis <= 0 {
		c.RetryIntervalMillis = 20
	}
}

func (c *Config) Validate() error {
	c.applyDefaults()

	switch c.Backend {
	case BackendLocal:
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("locker: redis_addr is required for redis backend")
		}
	default:
		return fmt.Errorf("locker: unknown backend %q", c.Backend)
	}
	return nil
}

// New builds the configured Locker. The returned close func releases backend
// connections.
func New(cfg *Config) (Locker, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	if cfg.Backend == BackendLocal {
		return NewLocal(), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	l := NewRedis(client, cfg.KeyPrefix,
		time.Duration(cfg.TTLSeconds)*time.Second,
		time.Duration(cfg.RetryIntervalMillis)*time.Millisecond)

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Using redis locker")
	return l, client.Close, nil
}
