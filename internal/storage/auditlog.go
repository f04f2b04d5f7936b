package storage

import (
	"github.com/charleshuang3/authsession/internal/gormw"
	"github.com/charleshuang3/authsession/internal/models"
)

func AddAuditLog(db *gormw.DB, entry *models.AuditLog) error {
	return translate(db.Create(entry).Error)
}

// ListAuditLogs returns the user's most recent events first.
func ListAuditLogs(db *gormw.DB, userID int64, limit int) ([]models.AuditLog, error) {
	var list []models.AuditLog
	err := db.Where("user_id = ?", userID).Order("id DESC").Limit(limit).Find(&list).Error
	if err != nil {
		return nil, translate(err)
	}
	return list, nil
}
