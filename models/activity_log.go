package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ActivityType tags every audit row. Keep ParseActivityType in sync when adding one.
type ActivityType string

const (
	ActivityTaskCompleted          ActivityType = "task_completed"
	ActivityTaskUncompleted        ActivityType = "task_uncompleted"
	ActivityHabitCompleted         ActivityType = "habit_completed"
	ActivityHabitUncompleted       ActivityType = "habit_uncompleted"
	ActivityLevelUp                ActivityType = "level_up"
	ActivityLevelDown              ActivityType = "level_down"
	ActivityRankUp                 ActivityType = "rank_up"
	ActivityRankDown               ActivityType = "rank_down"
	ActivityStreakMilestone        ActivityType = "streak_milestone"
	ActivityStreakBroken           ActivityType = "streak_broken"
	ActivityChallengeJoined        ActivityType = "challenge_joined"
	ActivityChallengeLeft          ActivityType = "challenge_left"
	ActivityChallengeTaskSubmitted ActivityType = "challenge_task_submitted"
	ActivityChallengeTaskApproved  ActivityType = "challenge_task_approved"
	ActivityChallengeTaskRejected  ActivityType = "challenge_task_rejected"
	ActivityChallengeTaskFailed    ActivityType = "challenge_task_failed"
	ActivityChallengeCompleted     ActivityType = "challenge_completed"
	ActivityBadgeEarned            ActivityType = "badge_earned"
)

func ParseActivityType(s string) (ActivityType, error) {
	switch t := ActivityType(s); t {
	case ActivityTaskCompleted, ActivityTaskUncompleted,
		ActivityHabitCompleted, ActivityHabitUncompleted,
		ActivityLevelUp, ActivityLevelDown,
		ActivityRankUp, ActivityRankDown,
		ActivityStreakMilestone, ActivityStreakBroken,
		ActivityChallengeJoined, ActivityChallengeLeft,
		ActivityChallengeTaskSubmitted, ActivityChallengeTaskApproved,
		ActivityChallengeTaskRejected, ActivityChallengeTaskFailed,
		ActivityChallengeCompleted, ActivityBadgeEarned:
		return t, nil
	}
	return "", fmt.Errorf("unknown activity type %q", s)
}

func (t ActivityType) Valid() bool {
	_, err := ParseActivityType(string(t))
	return err == nil
}

// ActivityLog is append-only. Nothing updates or deletes these rows.
type ActivityLog struct {
	ID           string       `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string       `gorm:"index:idx_activity_user_time,priority:1;not null" json:"user_id"`
	ActivityType ActivityType `gorm:"type:varchar(32);not null;index" json:"activity_type"`
	Description  string       `gorm:"type:text" json:"description"`
	XPDelta      int64        `gorm:"not null;default:0" json:"xp_delta"`

	LevelBefore *int    `json:"level_before,omitempty"`
	LevelAfter  *int    `json:"level_after,omitempty"`
	RankBefore  *string `gorm:"type:varchar(16)" json:"rank_before,omitempty"`
	RankAfter   *string `gorm:"type:varchar(16)" json:"rank_after,omitempty"`

	// optional pointers back to the source row
	ChallengeID  *string `gorm:"type:uuid;index" json:"challenge_id,omitempty"`
	CompletionID *string `gorm:"type:uuid" json:"completion_id,omitempty"`

	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"index:idx_activity_user_time,priority:2;not null" json:"created_at"`
}

func (a *ActivityLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
