package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BadgeType: static config, seeded from BadgeTriggers
type BadgeType struct {
	ID          string            `gorm:"primaryKey;type:uuid" json:"id"`
	Code        string            `gorm:"uniqueIndex;not null" json:"code"` // e.g., "STREAK_7", "RANK_S"
	Name        string            `gorm:"not null" json:"name"`
	Description string            `json:"description"`
	Rarity      string            `gorm:"type:varchar(16);default:'common'" json:"rarity"` // common, rare, epic, legendary
	Threshold   datatypes.JSONMap `json:"threshold"`                                       // e.g., {"streak_days": 7}
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

func (b *BadgeType) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// UserBadge: awarded instance, one per (user, badge)
type UserBadge struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string    `gorm:"not null;uniqueIndex:idx_user_badge,priority:1" json:"user_id"`
	BadgeTypeID string    `gorm:"type:uuid;not null;uniqueIndex:idx_user_badge,priority:2" json:"badge_type_id"`
	BadgeCode   string    `gorm:"type:varchar(32);not null" json:"badge_code"`
	AwardedAt   time.Time `gorm:"not null" json:"awarded_at"`
}

func (b *UserBadge) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// BadgeTriggers are keyed on Character fields; every key must be met.
var BadgeTriggers = []BadgeType{
	{
		Code:        "FIRST_QUEST",
		Name:        "First Steps",
		Description: "Completed your first task",
		Rarity:      "common",
		Threshold:   datatypes.JSONMap{"tasks_completed": 1},
	},
	{
		Code:        "STREAK_7",
		Name:        "Week Warrior",
		Description: "Kept a 7 day streak",
		Rarity:      "common",
		Threshold:   datatypes.JSONMap{"longest_streak": 7},
	},
	{
		Code:        "STREAK_30",
		Name:        "Unbroken",
		Description: "Kept a 30 day streak",
		Rarity:      "rare",
		Threshold:   datatypes.JSONMap{"longest_streak": 30},
	},
	{
		Code:        "HABIT_100",
		Name:        "Creature of Habit",
		Description: "Logged 100 habit completions",
		Rarity:      "rare",
		Threshold:   datatypes.JSONMap{"habits_completed": 100},
	},
	{
		Code:        "CHALLENGER",
		Name:        "Challenger",
		Description: "Finished a group challenge",
		Rarity:      "epic",
		Threshold:   datatypes.JSONMap{"challenges_completed": 1},
	},
	{
		Code:        "LEVEL_50",
		Name:        "Halfway There",
		Description: "Reached Level 50 (A-Rank!)",
		Rarity:      "epic",
		Threshold:   datatypes.JSONMap{"level": 50},
	},
}
