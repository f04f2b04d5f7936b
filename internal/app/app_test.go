package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlog "gorm.io/gorm/logger"

	"github.com/charleshuang3/authsession/internal/config"
	"github.com/charleshuang3/authsession/internal/gormw"
	"github.com/charleshuang3/authsession/internal/locker"
	"github.com/charleshuang3/authsession/internal/outbox"
	"github.com/charleshuang3/authsession/internal/tokens"
	"github.com/charleshuang3/authsession/internal/users"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:    8080,
		GinMode: "test",
		DB:      gormw.Config{LogLevel: gormlog.Silent},
		Token:   tokens.Config{Secret: "0123456789abcdef0123456789abcdef"},
		Users:   users.Config{BcryptCost: 4},
	}
}

func TestNew_EndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Lock = locker.Config{Backend: locker.BackendRedis, RedisAddr: mr.Addr()}
	cfg.Outbox = outbox.Config{Enabled: true, Sink: outbox.SinkRedis, RedisAddr: mr.Addr()}
	require.NoError(t, cfg.Validate())

	a, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx := context.Background()
	_, err = a.Users.Register(ctx, "alice", "alice@example.com", "Passw0rd!")
	require.NoError(t, err)

	pair, err := a.Sessions.Login(ctx, "alice", "Passw0rd!")
	require.NoError(t, err)

	next, err := a.Sessions.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.SessionID, next.SessionID)

	require.NotNil(t, a.Outbox)
	sent, failed, err := a.Outbox.PublishPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent, "register and login")
	assert.Equal(t, 0, failed)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	n, err := client.XLen(ctx, outbox.TopicUserLogin).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNew_OutboxDisabledByDefault(t *testing.T) {
	a, err := New(testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Nil(t, a.Outbox)
}

func TestNew_InvalidSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Token.Secret = "short"

	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	a, err := New(testConfig(), nil)
	require.NoError(t, err)

	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
