package models

import (
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID             int64 `gorm:"primarykey;autoIncrement:false"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Username       string `gorm:"uniqueIndex"`
	Email          string `gorm:"uniqueIndex"`
	HashedPassword string
	Roles          string // multi-roles splitted by " "

	FailedLoginAttempts int
	LockedUntil         *time.Time
}

func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password)) == nil
}

// Subject is the user identifier carried in access tokens.
func (u *User) Subject() string {
	return strconv.FormatInt(u.ID, 10)
}

func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}
