package models

import "time"

const (
	OutboxStatusNew    = "NEW"
	OutboxStatusSent   = "SENT"
	OutboxStatusFailed = "FAILED"
)

// OutboxEvent is a user event waiting to be published to a broker. It is
// written next to the audit row so the two never disagree.
type OutboxEvent struct {
	ID         uint      `gorm:"primarykey"`
	CreatedAt  time.Time `gorm:"index:idx_outbox_status_created,priority:2;not null"`
	Status     string    `gorm:"size:16;index:idx_outbox_status_created,priority:1;not null"`
	EventType  string    `gorm:"size:64;not null"`
	Topic      string    `gorm:"size:128;not null"`
	Key        string    `gorm:"size:64;not null"` // partition key, the user id
	Payload    string    `gorm:"type:text;not null"`
	RetryCount int       `gorm:"not null;default:0"`
	SentAt     *time.Time
	LastError  string
}
