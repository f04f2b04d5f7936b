package models

import "time"

type AuditLog struct {
	ID        uint      `gorm:"primarykey"`
	CreatedAt time.Time `gorm:"index"`
	UserID    int64     `gorm:"index"`
	EventType string    `gorm:"index"`
	Success   bool
	Detail    string
}
