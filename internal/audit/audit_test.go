package audit

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlog "gorm.io/gorm/logger"

	"github.com/charleshuang3/authsession/internal/gormw"
	"github.com/charleshuang3/authsession/internal/models"
	"github.com/charleshuang3/authsession/internal/outbox"
	"github.com/charleshuang3/authsession/internal/storage"
)

func TestRecorder(t *testing.T) {
	db, err := gormw.Open(&gormw.Config{LogLevel: gormlog.Silent})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	r := NewRecorder(db, clock)
	ctx := context.Background()

	r.Record(ctx, 1, EventLoginSuccess, true, "")
	clock.Advance(time.Minute)
	r.Record(ctx, 1, EventRefreshReplay, false, "token 9")
	r.Record(ctx, 2, EventLogout, true, "")

	list, err := r.Recent(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, EventRefreshReplay, list[0].EventType)
	assert.False(t, list[0].Success)
	assert.Equal(t, "token 9", list[0].Detail)
	assert.True(t, clock.Now().Equal(list[0].CreatedAt))
	assert.Equal(t, EventLoginSuccess, list[1].EventType)
}

func TestRecorder_NilAndFailuresAreSilent(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() { r.Record(context.Background(), 1, EventLogout, true, "") })

	db, err := gormw.Open(&gormw.Config{LogLevel: gormlog.Silent})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	r = NewRecorder(db, nil)
	assert.NotPanics(t, func() { r.Record(context.Background(), 1, EventLogout, true, "") })
}

func TestRecorder_WithOutbox(t *testing.T) {
	db, err := gormw.Open(&gormw.Config{LogLevel: gormlog.Silent})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	plain := NewRecorder(db, nil)
	plain.Record(ctx, 1, EventLoginSuccess, true, "")

	r := NewRecorder(db, nil).WithOutbox()
	r.Record(ctx, 7, EventRegister, true, "")
	r.Record(ctx, 7, EventLoginSuccess, true, "")
	r.Record(ctx, 7, EventTokenRefresh, true, "session 3")
	r.Record(ctx, 7, EventAccountLocked, false, "locked")
	r.Record(ctx, 7, EventLogout, true, "1 sessions revoked")

	events, err := storage.ListPendingOutboxEvents(db, 10)
	require.NoError(t, err)

	var topics []string
	for _, e := range events {
		assert.Equal(t, "7", e.Key)
		assert.Equal(t, models.OutboxStatusNew, e.Status)
		topics = append(topics, e.Topic)
	}
	assert.Equal(t, []string{
		outbox.TopicUserCreated,
		outbox.TopicUserLogin,
		outbox.TopicUserLocked,
		outbox.TopicUserLogout,
	}, topics, "refreshes are not published, the recorder without outbox writes none")

	list, err := r.Recent(ctx, 7, 10)
	require.NoError(t, err)
	assert.Len(t, list, 5)
}
