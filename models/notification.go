package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type NotificationKind string

const (
	NotifyLevelUp            NotificationKind = "level_up"
	NotifyRankUp             NotificationKind = "rank_up"
	NotifyRankDown           NotificationKind = "rank_down"
	NotifyStreakMilestone    NotificationKind = "streak_milestone"
	NotifyStreakBroken       NotificationKind = "streak_broken"
	NotifyVerificationResult NotificationKind = "verification_result"
	NotifyChallengeCompleted NotificationKind = "challenge_completed"
	NotifyBadgeEarned        NotificationKind = "badge_earned"
)

func (k NotificationKind) Valid() bool {
	switch k {
	case NotifyLevelUp, NotifyRankUp, NotifyRankDown,
		NotifyStreakMilestone, NotifyStreakBroken,
		NotifyVerificationResult, NotifyChallengeCompleted, NotifyBadgeEarned:
		return true
	}
	return false
}

// NotificationIntent is an outbox row. The engine only writes it; the dispatcher
// hands it to the broker and stamps DispatchedAt.
type NotificationIntent struct {
	ID           string            `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string            `gorm:"index;not null" json:"user_id"`
	Kind         NotificationKind  `gorm:"type:varchar(32);not null" json:"kind"`
	Title        string            `gorm:"not null" json:"title"`
	Body         string            `gorm:"type:text" json:"body"`
	Payload      datatypes.JSONMap `json:"payload,omitempty"`
	Attempts     int               `gorm:"not null;default:0" json:"attempts"`
	LastError    string            `gorm:"type:text" json:"last_error,omitempty"`
	DispatchedAt *time.Time        `gorm:"index" json:"dispatched_at,omitempty"`
	CreatedAt    time.Time         `gorm:"not null" json:"created_at"`
}

func (n *NotificationIntent) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
