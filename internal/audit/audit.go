// Package audit persists security relevant events.
package audit

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/charleshuang3/authsession/internal/gormw"
	"github.com/charleshuang3/authsession/internal/models"
	"github.com/charleshuang3/authsession/internal/outbox"
	"github.com/charleshuang3/authsession/internal/storage"
)

var (
	logger = log.With().Str("component", "audit").Logger()
)

const (
	EventLoginSuccess    = "login_success"
	EventLoginFailure    = "login_failure"
	EventAccountLocked   = "account_locked"
	EventLogout          = "logout"
	EventTokenRefresh    = "token_refresh"
	EventRefreshReplay   = "refresh_replay"
	EventSessionEvicted  = "session_evicted"
	EventSessionsRevoked = "sessions_revoked"
	EventRegister        = "register"
)

const writeTimeout = 5 * time.Second

// Recorder writes audit events. A nil Recorder drops every event.
type Recorder struct {
	db    *gormw.DB
	clock clockwork.Clock

	// publish also writes an outbox row for events that have a topic.
	publish bool
}

func NewRecorder(db *gormw.DB, clock clockwork.Clock) *Recorder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Recorder{db: db, clock: clock}
}

// WithOutbox makes Record queue user events for the outbox publisher, in the
// same transaction as the audit row.
func (r *Recorder) WithOutbox() *Recorder {
	r.publish = true
	return r
}

// Record stores one event. Failures are logged and never returned, an audit
// outage must not fail the request. It must not be called inside a
// transaction.
func (r *Recorder) Record(ctx context.Context, userID int64, event string, success bool, detail string) {
	if r == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	now := r.clock.Now().UTC()
	entry := &models.AuditLog{
		CreatedAt: now,
		UserID:    userID,
		EventType: event,
		Success:   success,
		Detail:    detail,
	}

	var (
		queued *models.OutboxEvent
		err    error
	)
	if r.publish {
		queued, _, err = outbox.NewEvent(event, userID, detail, now)
		if err != nil {
			logger.Error().Err(err).Int64("user_id", userID).Str("event", event).Msg("Failed to encode user event")
		}
	}

	if queued == nil {
		err = storage.AddAuditLog(r.db.WithContext(ctx), entry)
	} else {
		err = r.db.Transaction(ctx, func(tx *gormw.DB) error {
			if err := storage.AddAuditLog(tx, entry); err != nil {
				return err
			}
			return storage.AddOutboxEvent(tx, queued)
		})
	}
	if err != nil {
		logger.Error().Err(err).Int64("user_id", userID).Str("event", event).Msg("Failed to write audit log")
	}
}

// Recent returns the latest events of the user, newest first.
func (r *Recorder) Recent(ctx context.Context, userID int64, limit int) ([]models.AuditLog, error) {
	return storage.ListAuditLogs(r.db.WithContext(ctx), userID, limit)
}
