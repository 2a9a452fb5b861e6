package services

import (
	"fmt"

	"quest-progress-engine/models"

	"github.com/jonboulle/clockwork"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ActivityEntry is what callers hand to the recorder
type ActivityEntry struct {
	UserID       string
	Type         models.ActivityType
	Description  string
	XPDelta      int64
	LevelBefore  *int
	LevelAfter   *int
	RankBefore   *string
	RankAfter    *string
	ChallengeID  *string
	CompletionID *string
	Metadata     map[string]any
}

// ActivityRecorder appends audit rows inside the caller's transaction. It never updates.
type ActivityRecorder struct {
	Clock clockwork.Clock
}

func NewActivityRecorder(clock clockwork.Clock) *ActivityRecorder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ActivityRecorder{Clock: clock}
}

func (r *ActivityRecorder) Record(tx *gorm.DB, e ActivityEntry) (*models.ActivityLog, error) {
	if !e.Type.Valid() {
		return nil, fmt.Errorf("record activity: unknown type %q", e.Type)
	}
	row := models.ActivityLog{
		UserID:       e.UserID,
		ActivityType: e.Type,
		Description:  e.Description,
		XPDelta:      e.XPDelta,
		LevelBefore:  e.LevelBefore,
		LevelAfter:   e.LevelAfter,
		RankBefore:   e.RankBefore,
		RankAfter:    e.RankAfter,
		ChallengeID:  e.ChallengeID,
		CompletionID: e.CompletionID,
		CreatedAt:    r.Clock.Now(),
	}
	if len(e.Metadata) > 0 {
		row.Metadata = datatypes.JSONMap(e.Metadata)
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("record activity %s: %w", e.Type, err)
	}
	return &row, nil
}

// Recent returns the user's newest entries first
func (r *ActivityRecorder) Recent(db *gorm.DB, userID string, limit int) ([]models.ActivityLog, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	var logs []models.ActivityLog
	err := db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

func intRef(v int) *int { return &v }

func strRef(v string) *string { return &v }
