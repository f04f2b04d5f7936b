package storage

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/charleshuang3/authsession/internal/gormw"
	"github.com/charleshuang3/authsession/internal/models"
)

var (
	logger = log.With().Str("component", "storage").Logger()
)

func AddRefreshToken(db *gormw.DB, refreshToken *models.RefreshToken) error {
	return translate(db.Create(refreshToken).Error)
}

func GetRefreshTokenByHash(db *gormw.DB, hash string) (*models.RefreshToken, error) {
	o := &models.RefreshToken{}
	if err := db.Where("token_hash = ?", hash).First(o).Error; err != nil {
		return nil, translate(err)
	}
	return o, nil
}

func GetRefreshTokenByID(db *gormw.DB, id int64) (*models.RefreshToken, error) {
	o := &models.RefreshToken{}
	if err := db.Where("id = ?", id).First(o).Error; err != nil {
		return nil, translate(err)
	}
	return o, nil
}

func RefreshTokenExistsByHash(db *gormw.DB, hash string) (bool, error) {
	var n int64
	if err := db.Model(&models.RefreshToken{}).Where("token_hash = ?", hash).Count(&n).Error; err != nil {
		return false, translate(err)
	}
	return n > 0, nil
}

// ListActiveRefreshTokens returns the user's non-revoked, unexpired tokens,
// oldest first.
func ListActiveRefreshTokens(db *gormw.DB, userID int64, now time.Time) ([]models.RefreshToken, error) {
	var list []models.RefreshToken
	err := db.Where("user_id = ? AND revoked = ? AND expires_at > ?", userID, false, now.UTC()).
		Order("created_at ASC").
		Order("id ASC").
		Find(&list).Error
	if err != nil {
		return nil, translate(err)
	}
	return list, nil
}

func CountActiveRefreshTokens(db *gormw.DB, userID int64, now time.Time) (int64, error) {
	var n int64
	err := db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked = ? AND expires_at > ?", userID, false, now.UTC()).
		Count(&n).Error
	if err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// RevokeRefreshToken flips revoked from false to true. It reports false when
// the row was already revoked or does not exist, so of several concurrent
// callers exactly one sees true.
func RevokeRefreshToken(db *gormw.DB, id int64, now time.Time, replacedByID *int64) (bool, error) {
	updates := map[string]any{
		"revoked":    true,
		"revoked_at": now.UTC(),
	}
	if replacedByID != nil {
		updates["replaced_by_id"] = *replacedByID
	}

	res := db.Model(&models.RefreshToken{}).
		Where("id = ? AND revoked = ?", id, false).
		Updates(updates)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RevokeAllRefreshTokens revokes every non-revoked token of the user and
// returns how many rows changed.
func RevokeAllRefreshTokens(db *gormw.DB, userID int64, now time.Time) (int64, error) {
	res := db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Updates(map[string]any{
			"revoked":    true,
			"revoked_at": now.UTC(),
		})
	if res.Error != nil {
		return 0, translate(res.Error)
	}
	return res.RowsAffected, nil
}

// RevokeRefreshTokens revokes the given tokens of the user. Ids that belong
// to another user are left alone.
func RevokeRefreshTokens(db *gormw.DB, userID int64, ids []int64, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res := db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND id IN ? AND revoked = ?", userID, ids, false).
		Updates(map[string]any{
			"revoked":    true,
			"revoked_at": now.UTC(),
		})
	if res.Error != nil {
		return 0, translate(res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteRefreshTokensCreatedBefore removes every token created before cutoff,
// revoked or not.
func DeleteRefreshTokensCreatedBefore(db *gormw.DB, cutoff time.Time) (int64, error) {
	res := db.Where("created_at < ?", cutoff.UTC()).Delete(&models.RefreshToken{})
	if res.Error != nil {
		return 0, translate(res.Error)
	}
	if res.RowsAffected > 0 {
		logger.Debug().Int64("rows", res.RowsAffected).Time("cutoff", cutoff).Msg("Deleted refresh tokens")
	}
	return res.RowsAffected, nil
}
