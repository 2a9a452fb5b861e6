package services

import (
	"fmt"

	"quest-progress-engine/models"

	"github.com/jonboulle/clockwork"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NotificationService owns the outbox table. Intents are written in the credit transaction
// and handed to the broker later by workers.NotificationDispatcher.
type NotificationService struct {
	DB    *gorm.DB
	Clock clockwork.Clock
}

func NewNotificationService(db *gorm.DB, clock clockwork.Clock) *NotificationService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &NotificationService{DB: db, Clock: clock}
}

func (s *NotificationService) Enqueue(tx *gorm.DB, userID string, kind models.NotificationKind, title, body string, payload map[string]any) error {
	if !kind.Valid() {
		return fmt.Errorf("enqueue notification: unknown kind %q", kind)
	}
	intent := models.NotificationIntent{
		UserID:    userID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		Payload:   datatypes.JSONMap(payload),
		CreatedAt: s.Clock.Now(),
	}
	if err := tx.Create(&intent).Error; err != nil {
		return fmt.Errorf("enqueue %s notification: %w", kind, err)
	}
	return nil
}

// Pending returns undispatched intents oldest first, skipping ones that failed maxAttempts times.
func (s *NotificationService) Pending(limit, maxAttempts int) ([]models.NotificationIntent, error) {
	if limit < 1 {
		limit = 100
	}
	var intents []models.NotificationIntent
	err := s.DB.Where("dispatched_at IS NULL AND attempts < ?", maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&intents).Error
	return intents, err
}

func (s *NotificationService) MarkDispatched(id string) error {
	now := s.Clock.Now()
	return s.DB.Model(&models.NotificationIntent{}).
		Where("id = ? AND dispatched_at IS NULL", id).
		Updates(map[string]interface{}{
			"dispatched_at": &now,
			"attempts":      gorm.Expr("attempts + 1"),
			"last_error":    "",
		}).Error
}

func (s *NotificationService) MarkFailed(id string, cause error) error {
	return s.DB.Model(&models.NotificationIntent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": cause.Error(),
		}).Error
}
