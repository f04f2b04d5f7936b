package storage

import (
	"time"

	"gorm.io/gorm"

	"github.com/charleshuang3/authsession/internal/gormw"
	"github.com/charleshuang3/authsession/internal/models"
)

func AddOutboxEvent(db *gormw.DB, event *models.OutboxEvent) error {
	if event.Status == "" {
		event.Status = models.OutboxStatusNew
	}
	return translate(db.Create(event).Error)
}

// ListPendingOutboxEvents returns up to limit NEW events, oldest first.
func ListPendingOutboxEvents(db *gormw.DB, limit int) ([]models.OutboxEvent, error) {
	var list []models.OutboxEvent
	err := db.Where("status = ?", models.OutboxStatusNew).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, translate(err)
	}
	return list, nil
}

func GetOutboxEvent(db *gormw.DB, id uint) (*models.OutboxEvent, error) {
	event := &models.OutboxEvent{}
	if err := db.Where("id = ?", id).First(event).Error; err != nil {
		return nil, translate(err)
	}
	return event, nil
}

// MarkOutboxEventSent moves a NEW event to SENT. It reports false when the
// event was no longer NEW.
func MarkOutboxEventSent(db *gormw.DB, id uint, now time.Time) (bool, error) {
	now = now.UTC()
	res := db.Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", id, models.OutboxStatusNew).
		Updates(map[string]any{
			"status":     models.OutboxStatusSent,
			"sent_at":    now,
			"last_error": "",
		})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RecordOutboxFailure counts one failed publish. The event turns FAILED once
// it has failed maxRetries times and is not picked up again.
func RecordOutboxFailure(db *gormw.DB, id uint, maxRetries int, reason string) (failed bool, err error) {
	err = db.Transaction(db.Statement.Context, func(tx *gormw.DB) error {
		res := tx.Model(&models.OutboxEvent{}).
			Where("id = ? AND status = ?", id, models.OutboxStatusNew).
			Updates(map[string]any{
				"retry_count": gorm.Expr("retry_count + 1"),
				"last_error":  reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		event := &models.OutboxEvent{}
		if err := tx.Select("retry_count").Where("id = ?", id).First(event).Error; err != nil {
			return err
		}
		if event.RetryCount < maxRetries {
			return nil
		}

		failed = true
		return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).
			Update("status", models.OutboxStatusFailed).Error
	})
	if err != nil {
		return false, translate(err)
	}
	return failed, nil
}

// CountOutboxEvents returns how many events are in status.
func CountOutboxEvents(db *gormw.DB, status string) (int64, error) {
	var n int64
	err := db.Model(&models.OutboxEvent{}).Where("status = ?", status).Count(&n).Error
	return n, translate(err)
}
