// Package sweeper deletes refresh tokens past the retention window.
package sweeper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/charleshuang3/authsession/internal/gormw"
	"github.com/charleshuang3/authsession/internal/storage"
)

var (
	logger = log.With().Str("component", "sweeper").Logger()
)

const (
	defaultRetentionDays  = 30
	defaultSchedule       = "0 2 * * *" // 2am daily
	defaultTimeoutSeconds = 60
)

type Config struct {
	// RetentionDays keeps every token, revoked or not, for this long after
	// creation.
	RetentionDays int    `yaml:"retention_days"`
	Schedule      string `yaml:"schedule"`

	TimeoutSeconds int `yaml:"timeout_seconds"`
}

func (c *Config) applyDefaults() {
	if c.RetentionDays <= 0 {
		c.RetentionDays = defaultRetentionDays
	}
	if c.Schedule == "" {
		c.Schedule = defaultSchedule
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = defaultTimeoutSeconds
	}
}

func (c *Config) Validate() error {
	c.applyDefaults()
	// five cron fields, or six with seconds.
	if n := len(strings.Fields(c.Schedule)); n != 5 && n != 6 {
		return fmt.Errorf("sweeper: invalid schedule %q", c.Schedule)
	}
	return nil
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

type Sweeper struct {
	cfg   *Config
	db    *gormw.DB
	clock clockwork.Clock
}

func New(cfg *Config, db *gormw.DB, clock clockwork.Clock) (*Sweeper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{cfg: cfg, db: db, clock: clock}, nil
}

// Retention is the configured retention.
func (s *Sweeper) Retention() time.Duration {
	return s.cfg.Retention()
}

// Sweep deletes tokens created before now - retention and returns how many
// were removed.
func (s *Sweeper) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.clock.Now().Add(-retention)
	return storage.DeleteRefreshTokensCreatedBefore(s.db.WithContext(ctx), cutoff)
}

// Run is one scheduled tick. Errors are logged, the next tick retries.
func (s *Sweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	logger.Info().Int("retention_days", s.cfg.RetentionDays).Msg("Sweeping refresh tokens")
	n, err := s.Sweep(ctx, s.cfg.Retention())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to sweep refresh tokens, will retry on next tick")
		return
	}
	logger.Info().Int64("deleted", n).Msg("Swept refresh tokens")
}

// Register adds the sweep job to scheduler. Refresh tokens stay in the
// database forever without it.
func (s *Sweeper) Register(scheduler gocron.Scheduler) (gocron.Job, error) {
	return scheduler.NewJob(
		gocron.CronJob(s.cfg.Schedule, len(strings.Fields(s.cfg.Schedule)) == 6),
		gocron.NewTask(s.Run),
		gocron.WithName("refresh-token-sweeper"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
}
