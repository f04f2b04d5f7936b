package storage

import (
	"time"

	"gorm.io/gorm"

	"github.com/charleshuang3/authsession/internal/gormw"
	"github.com/charleshuang3/authsession/internal/models"
)

func GetUserByUsernameOrEmail(db *gormw.DB, identifier string) (*models.User, error) {
	user := &models.User{}
	if err := db.Where("username = ? OR email = ?", identifier, identifier).First(user).Error; err != nil {
		return nil, translate(err)
	}
	return user, nil
}

func GetUserByID(db *gormw.DB, id int64) (*models.User, error) {
	user := &models.User{}
	if err := db.Where("id = ?", id).First(user).Error; err != nil {
		return nil, translate(err)
	}
	return user, nil
}

func CreateUser(db *gormw.DB, user *models.User) error {
	return translate(db.Create(user).Error)
}

// RecordLoginFailure counts one failed login in the database and locks the
// account for lockout once maxAttempts is reached. The counter starts over
// when the account gets locked.
//
// lockedUntil is set when this call locked the account. alreadyLocked is true
// when the account was locked at now and nothing was counted.
func RecordLoginFailure(db *gormw.DB, userID int64, now time.Time, maxAttempts int, lockout time.Duration) (lockedUntil *time.Time, alreadyLocked bool, err error) {
	now = now.UTC()
	err = db.Transaction(db.Statement.Context, func(tx *gormw.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND (locked_until IS NULL OR locked_until <= ?)", userID, now).
			Update("failed_login_attempts", gorm.Expr("failed_login_attempts + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if _, err := GetUserByID(tx, userID); err != nil {
				return err
			}
			alreadyLocked = true
			return nil
		}

		user := &models.User{}
		if err := tx.Select("failed_login_attempts").Where("id = ?", userID).First(user).Error; err != nil {
			return err
		}
		if user.FailedLoginAttempts < maxAttempts {
			return nil
		}

		until := now.Add(lockout)
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]any{
			"failed_login_attempts": 0,
			"locked_until":          until,
		}).Error; err != nil {
			return err
		}
		lockedUntil = &until
		return nil
	})
	if err != nil {
		return nil, false, translate(err)
	}
	return lockedUntil, alreadyLocked, nil
}

func ResetLoginFailures(db *gormw.DB, userID int64) error {
	return translate(db.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]any{
		"failed_login_attempts": 0,
		"locked_until":          nil,
	}).Error)
}
