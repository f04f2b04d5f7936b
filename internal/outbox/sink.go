package outbox

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Sink delivers one event. Publish must be safe to repeat, the publisher
// retries after a failure and may resend after a crash.
type Sink interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// RedisSink appends events to one redis stream per topic.
type RedisSink struct {
	client redis.UniversalClient
	prefix string
	maxLen int64
}

func NewRedisSink(client redis.UniversalClient, prefix string, maxLen int64) *RedisSink {
	return &RedisSink{client: client, prefix: prefix, maxLen: maxLen}
}

func (s *RedisSink) Publish(ctx context.Context, topic, key string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: s.prefix + topic,
		Values: map[string]any{
			"key":     key,
			"payload": payload,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	return s.client.XAdd(ctx, args).Err()
}

// LogSink writes events to the log. For development without a broker.
type LogSink struct{}

func (LogSink) Publish(_ context.Context, topic, key string, payload []byte) error {
	logger.Info().Str("topic", topic).Str("key", key).RawJSON("payload", payload).Msg("Published user event")
	return nil
}
