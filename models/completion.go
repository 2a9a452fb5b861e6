package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Task is a one-off to-do owned by a user
type Task struct {
	ID          string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string     `gorm:"index;not null" json:"user_id"`
	Title       string     `gorm:"not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Difficulty  string     `gorm:"type:varchar(16);default:'normal'" json:"difficulty"`
	XPReward    int64      `gorm:"not null" json:"xp_reward"`
	IsCompleted bool       `gorm:"not null;default:false" json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Timestamps
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// Habit is a repeatable daily activity; credited at most once per calendar day
type Habit struct {
	ID                string  `gorm:"primaryKey;type:uuid" json:"id"`
	UserID            string  `gorm:"index;not null" json:"user_id"`
	Title             string  `gorm:"not null" json:"title"`
	Description       string  `gorm:"type:text" json:"description"`
	XPReward          int64   `gorm:"not null" json:"xp_reward"`
	CurrentStreak     int     `gorm:"not null;default:0" json:"current_streak"`
	LongestStreak     int     `gorm:"not null;default:0" json:"longest_streak"`
	LastCompletedDate *string `gorm:"type:varchar(10)" json:"last_completed_date,omitempty"`
	TotalCompletions  int64   `gorm:"not null;default:0" json:"total_completions"`
	Timestamps
}

func (h *Habit) BeforeCreate(tx *gorm.DB) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	return nil
}

// StreakSnapshot is the streak state captured right before a completion was credited.
// Reversal restores it verbatim instead of decrementing.
type StreakSnapshot struct {
	StreakDays     int     `json:"streak_days"`
	LongestStreak  int     `json:"longest_streak"`
	LastActiveDate *string `json:"last_active_date,omitempty" gorm:"type:varchar(10)"`
	LastStreakDate *string `json:"last_streak_date,omitempty" gorm:"type:varchar(10)"`
}

// TaskCompletion is the immutable fact of a task being completed
type TaskCompletion struct {
	ID           string            `gorm:"primaryKey;type:uuid" json:"id"`
	TaskID       string            `gorm:"type:uuid;uniqueIndex;not null" json:"task_id"`
	UserID       string            `gorm:"index;not null" json:"user_id"`
	XPEarned     int64             `gorm:"not null" json:"xp_earned"`
	ActivityDate string            `gorm:"type:varchar(10);index;not null" json:"activity_date"`
	CompletedAt  time.Time         `gorm:"not null" json:"completed_at"`
	TaskSnapshot datatypes.JSONMap `json:"task_snapshot"`
	StreakBefore StreakSnapshot    `gorm:"embedded;embeddedPrefix:before_" json:"streak_before"`
	StreakAfter  StreakSnapshot    `gorm:"embedded;embeddedPrefix:after_" json:"streak_after"`
	CreatedAt    time.Time         `json:"created_at" gorm:"autoCreateTime"`
}

func (c *TaskCompletion) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// HabitCompletion is unique per (habit, date)
type HabitCompletion struct {
	ID            string            `gorm:"primaryKey;type:uuid" json:"id"`
	HabitID       string            `gorm:"type:uuid;not null;uniqueIndex:idx_habit_day,priority:1" json:"habit_id"`
	CompletedDate string            `gorm:"type:varchar(10);not null;uniqueIndex:idx_habit_day,priority:2" json:"completed_date"`
	UserID        string            `gorm:"index;not null" json:"user_id"`
	XPEarned      int64             `gorm:"not null" json:"xp_earned"`
	CompletedAt   time.Time         `gorm:"not null" json:"completed_at"`
	HabitSnapshot datatypes.JSONMap `json:"habit_snapshot"`
	StreakBefore  StreakSnapshot    `gorm:"embedded;embeddedPrefix:before_" json:"streak_before"`
	StreakAfter   StreakSnapshot    `gorm:"embedded;embeddedPrefix:after_" json:"streak_after"`

	// habit's own streak before this completion
	HabitStreakBefore   int       `gorm:"not null;default:0" json:"habit_streak_before"`
	HabitLongestBefore  int       `gorm:"not null;default:0" json:"habit_longest_before"`
	HabitLastDateBefore *string   `gorm:"type:varchar(10)" json:"habit_last_date_before,omitempty"`
	CreatedAt           time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (c *HabitCompletion) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
