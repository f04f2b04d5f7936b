package models

import "time"

// RefreshToken is one issued refresh credential. Only the hash of the raw
// token is stored.
type RefreshToken struct {
	ID        int64     `gorm:"primarykey;autoIncrement:false"`
	UserID    int64     `gorm:"index;not null"` // with index, easy to find all sessions of a user
	TokenHash string    `gorm:"size:64;uniqueIndex;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	Revoked   bool      `gorm:"not null;default:false"`
	RevokedAt *time.Time
	CreatedAt time.Time `gorm:"index;not null"`
	CreatedBy string

	// ReplacedByID points to the token minted when this one was rotated.
	ReplacedByID *int64
}

// IsExpired reports whether the token is past its expiry at now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
