// Package outbox publishes user events written by the audit recorder to a
// broker, at least once and in creation order.
package outbox

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/charleshuang3/authsession/internal/models"
)

const (
	TopicUserCreated = "auth.user.created.v1"
	TopicUserLogin   = "auth.user.login.v1"
	TopicUserLogout  = "auth.user.logout.v1"
	TopicUserLocked  = "auth.user.locked.v1"
)

// topics maps audit event types to the topic their user event goes to.
// Audit events not listed here are not published.
var topics = map[string]string{
	"register":       TopicUserCreated,
	"login_success":  TopicUserLogin,
	"logout":         TopicUserLogout,
	"account_locked": TopicUserLocked,
}

// Payload is the JSON body of every published user event.
type Payload struct {
	EventType  string    `json:"event_type"`
	UserID     string    `json:"user_id"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent builds the outbox row for an audit event. ok is false when the
// event type is not published.
func NewEvent(eventType string, userID int64, detail string, now time.Time) (event *models.OutboxEvent, ok bool, err error) {
	topic, ok := topics[eventType]
	if !ok {
		return nil, false, nil
	}

	key := strconv.FormatInt(userID, 10)
	body, err := json.Marshal(&Payload{
		EventType:  eventType,
		UserID:     key,
		Detail:     detail,
		OccurredAt: now.UTC(),
	})
	if err != nil {
		return nil, false, err
	}

	return &models.OutboxEvent{
		CreatedAt: now.UTC(),
		Status:    models.OutboxStatusNew,
		EventType: eventType,
		Topic:     topic,
		Key:       key,
		Payload:   string(body),
	}, true, nil
}
