package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Character tracks gamified progression for each user (denormalized for performance)
type Character struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"uniqueIndex;not null" json:"user_id"` // links to profile service

	// Core progression
	Level         int    `json:"level" gorm:"not null;default:1"`
	CurrentXP     int64  `json:"current_xp" gorm:"not null;default:0"`
	TotalXP       int64  `json:"total_xp" gorm:"not null;default:0;index"`
	XPToNextLevel int64  `json:"xp_to_next_level" gorm:"not null"`
	RankID        string `json:"rank_id" gorm:"type:uuid;not null;index"`
	Rank          *Rank  `json:"rank,omitempty" gorm:"foreignKey:RankID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`

	// Streaks (dates are calendar days, "2006-01-02")
	StreakDays     int     `json:"streak_days" gorm:"not null;default:0"`
	LongestStreak  int     `json:"longest_streak" gorm:"not null;default:0"`
	LastActiveDate *string `json:"last_active_date,omitempty" gorm:"type:varchar(10)"`
	LastStreakDate *string `json:"last_streak_date,omitempty" gorm:"type:varchar(10)"`

	// Lifetime counters
	TasksCompleted          int64 `json:"tasks_completed" gorm:"not null;default:0"`
	HabitsCompleted         int64 `json:"habits_completed" gorm:"not null;default:0"`
	ChallengeTasksCompleted int64 `json:"challenge_tasks_completed" gorm:"not null;default:0"`
	ChallengesCompleted     int64 `json:"challenges_completed" gorm:"not null;default:0"`

	// Milestones
	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`
	LastRankUpAt  *time.Time `json:"last_rank_up_at,omitempty"`

	Timestamps
}

func (c *Character) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Rank is an ordered tier spanning a level range. Seeded once, never edited.
type Rank struct {
	ID         string    `gorm:"primaryKey;type:uuid" json:"id"`
	Code       string    `gorm:"uniqueIndex;not null;type:varchar(16)" json:"code"` // e.g., "E", "S"
	Name       string    `gorm:"not null" json:"name"`                              // "E-Rank"
	OrderIndex int       `gorm:"uniqueIndex;not null" json:"order_index"`
	MinLevel   int       `gorm:"not null" json:"min_level"`
	MaxLevel   *int      `json:"max_level,omitempty"` // nil = unbounded (top rank)
	Color      string    `gorm:"type:varchar(16)" json:"color,omitempty"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (r *Rank) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Contains reports whether level falls inside [MinLevel, MaxLevel].
func (r Rank) Contains(level int) bool {
	if level < r.MinLevel {
		return false
	}
	return r.MaxLevel == nil || level <= *r.MaxLevel
}

func intPtr(v int) *int { return &v }

// DefaultRanks are seeded at startup (E → S)
var DefaultRanks = []Rank{
	{Code: "E", Name: "E-Rank", OrderIndex: 1, MinLevel: 1, MaxLevel: intPtr(9), Color: "#9e9e9e"},
	{Code: "D", Name: "D-Rank", OrderIndex: 2, MinLevel: 10, MaxLevel: intPtr(19), Color: "#8bc34a"},
	{Code: "C", Name: "C-Rank", OrderIndex: 3, MinLevel: 20, MaxLevel: intPtr(34), Color: "#03a9f4"},
	{Code: "B", Name: "B-Rank", OrderIndex: 4, MinLevel: 35, MaxLevel: intPtr(49), Color: "#673ab7"},
	{Code: "A", Name: "A-Rank", OrderIndex: 5, MinLevel: 50, MaxLevel: intPtr(74), Color: "#ff9800"},
	{Code: "S", Name: "S-Rank", OrderIndex: 6, MinLevel: 75, MaxLevel: nil, Color: "#f44336"},
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
