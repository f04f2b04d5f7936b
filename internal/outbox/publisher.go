package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/charleshuang3/authsession/internal/gormw"
	"github.com/charleshuang3/authsession/internal/storage"
)

var (
	logger = log.With().Str("component", "outbox").Logger()
)

const (
	SinkLog   = "log"
	SinkRedis = "redis"
)

type Config struct {
	// Enabled turns on event writes and the publisher job.
	Enabled bool `yaml:"enabled"`

	// Sink is "log" (default) or "redis".
	Sink string `yaml:"sink"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	StreamPrefix  string `yaml:"stream_prefix"`
	StreamMaxLen  int64  `yaml:"stream_max_len"`

	IntervalSeconds int `yaml:"interval_seconds"`
	BatchSize       int `yaml:"batch_size"`
	MaxRetries      int `yaml:"max_retries"`
	TimeoutSeconds  int `yaml:"timeout_seconds"`
}

func (c *Config) applyDefaults() {
	if c.Sink == "" {
		c.Sink = SinkLog
	}
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
}

func (c *Config) Validate() error {
	c.applyDefaults()

	switch c.Sink {
	case SinkLog:
	case SinkRedis:
		if c.RedisAddr == "" {
			return errors.New("outbox: redis_addr is required for redis sink")
		}
	default:
		return fmt.Errorf("outbox: unknown sink %q", c.Sink)
	}
	return nil
}

// NewSink builds the configured Sink. The returned close func releases
// backend connections.
func NewSink(cfg *Config) (Sink, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	if cfg.Sink == SinkLog {
		return LogSink{}, func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	logger.Info().Str("addr", cfg.RedisAddr).Msg("Publishing user events to redis streams")
	return NewRedisSink(client, cfg.StreamPrefix, cfg.StreamMaxLen), client.Close, nil
}

type Publisher struct {
	cfg   *Config
	db    *gormw.DB
	sink  Sink
	clock clockwork.Clock
}

func NewPublisher(cfg *Config, db *gormw.DB, sink Sink, clock clockwork.Clock) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Publisher{cfg: cfg, db: db, sink: sink, clock: clock}, nil
}

// PublishPending sends one batch of NEW events in creation order. A failed
// event is retried on later calls until it has failed MaxRetries times.
func (p *Publisher) PublishPending(ctx context.Context) (sent, failed int, err error) {
	db := p.db.WithContext(ctx)

	events, err := storage.ListPendingOutboxEvents(db, p.cfg.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, e := range events {
		if err := p.sink.Publish(ctx, e.Topic, e.Key, []byte(e.Payload)); err != nil {
			failed++
			gaveUp, ferr := storage.RecordOutboxFailure(db, e.ID, p.cfg.MaxRetries, err.Error())
			if ferr != nil {
				return sent, failed, ferr
			}
			ev := logger.Warn()
			if gaveUp {
				ev = logger.Error()
			}
			ev.Err(err).Uint("event_id", e.ID).Str("topic", e.Topic).Bool("gave_up", gaveUp).Msg("Failed to publish user event")
			continue
		}

		if _, err := storage.MarkOutboxEventSent(db, e.ID, p.clock.Now()); err != nil {
			// published but not marked, it goes out again next tick.
			return sent, failed, err
		}
		sent++
	}
	return sent, failed, nil
}

// Run is one scheduled tick.
func (p *Publisher) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(p.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	sent, failed, err := p.PublishPending(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to publish user events, will retry on next tick")
		return
	}
	if sent > 0 || failed > 0 {
		logger.Info().Int("sent", sent).Int("failed", failed).Msg("Published user events")
	}
}

func (p *Publisher) Register(scheduler gocron.Scheduler) (gocron.Job, error) {
	return scheduler.NewJob(
		gocron.DurationJob(time.Duration(p.cfg.IntervalSeconds)*time.Second),
		gocron.NewTask(p.Run),
		gocron.WithName("outbox-publisher"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
}
