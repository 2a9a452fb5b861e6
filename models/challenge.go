package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GoalType decides the unit a participant's progress is measured in
type GoalType string

const (
	GoalTypeTaskCount GoalType = "task_count"
	GoalTypeTotalXP   GoalType = "total_xp"
)

func (g GoalType) Valid() bool {
	switch g {
	case GoalTypeTaskCount, GoalTypeTotalXP:
		return true
	}
	return false
}

// ChallengeStatus is the lifecycle of a group challenge
type ChallengeStatus string

const (
	ChallengeStatusDraft     ChallengeStatus = "draft"
	ChallengeStatusActive    ChallengeStatus = "active"
	ChallengeStatusCompleted ChallengeStatus = "completed"
	ChallengeStatusCancelled ChallengeStatus = "cancelled"
)

// ParticipantStatus: active → completed | dropped_out | disqualified
type ParticipantStatus string

const (
	ParticipantStatusActive       ParticipantStatus = "active"
	ParticipantStatusCompleted    ParticipantStatus = "completed"
	ParticipantStatusDroppedOut   ParticipantStatus = "dropped_out"
	ParticipantStatusDisqualified ParticipantStatus = "disqualified"
)

// Ranked reports whether the participant takes a place on the challenge leaderboard.
func (s ParticipantStatus) Ranked() bool {
	return s == ParticipantStatusActive || s == ParticipantStatusCompleted
}

// VerificationType is how a challenge task's proof gets checked
type VerificationType string

const (
	VerificationTypeNone   VerificationType = "none"
	VerificationTypeManual VerificationType = "manual"
	VerificationTypeAI     VerificationType = "ai"
)

func ParseVerificationType(s string) (VerificationType, error) {
	switch v := VerificationType(s); v {
	case VerificationTypeNone, VerificationTypeManual, VerificationTypeAI:
		return v, nil
	}
	return "", fmt.Errorf("unknown verification type %q", s)
}

// CompletionStatus of a ChallengeTaskCompletion. approved, rejected and failed are terminal.
type CompletionStatus string

const (
	CompletionStatusPending  CompletionStatus = "pending"
	CompletionStatusApproved CompletionStatus = "approved"
	CompletionStatusRejected CompletionStatus = "rejected"
	CompletionStatusFailed   CompletionStatus = "failed"
)

func (s CompletionStatus) Terminal() bool {
	switch s {
	case CompletionStatusApproved, CompletionStatusRejected, CompletionStatusFailed:
		return true
	}
	return false
}

// GroupChallenge is a time-boxed goal shared by its participants
type GroupChallenge struct {
	ID              string          `gorm:"primaryKey;type:uuid" json:"id"`
	Slug            string          `gorm:"uniqueIndex;not null" json:"slug"`
	Title           string          `gorm:"not null" json:"title"`
	Description     string          `gorm:"type:text" json:"description"`
	CreatorID       string          `gorm:"index;not null" json:"creator_id"`
	GoalType        GoalType        `gorm:"type:varchar(16);not null" json:"goal_type"`
	GoalTarget      int64           `gorm:"not null" json:"goal_target"`
	Status          ChallengeStatus `gorm:"type:varchar(16);not null;default:'active'" json:"status"`
	StartDate       time.Time       `gorm:"not null" json:"start_date"`
	EndDate         time.Time       `gorm:"not null" json:"end_date"`
	MaxParticipants int             `gorm:"default:0" json:"max_participants"` // 0 = unlimited

	Tasks        []ChallengeTask        `json:"tasks,omitempty" gorm:"foreignKey:ChallengeID"`
	Participants []ChallengeParticipant `json:"participants,omitempty" gorm:"foreignKey:ChallengeID"`

	Timestamps
}

func (c *GroupChallenge) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// ChallengeTask is a sub-task participants complete to progress
type ChallengeTask struct {
	ID               string           `gorm:"primaryKey;type:uuid" json:"id"`
	ChallengeID      string           `gorm:"type:uuid;index;not null" json:"challenge_id"`
	Title            string           `gorm:"not null" json:"title"`
	Description      string           `gorm:"type:text" json:"description"`
	XPReward         int64            `gorm:"not null" json:"xp_reward"`
	Points           int64            `gorm:"not null;default:0" json:"points"`
	RequiresProof    bool             `gorm:"not null;default:false" json:"requires_proof"`
	VerificationType VerificationType `gorm:"type:varchar(16);not null;default:'none'" json:"verification_type"`
	IsRepeatable     bool             `gorm:"not null;default:false" json:"is_repeatable"`
	MaxCompletions   int              `gorm:"not null;default:1" json:"max_completions"`
	SortOrder        int              `gorm:"column:sort_order;default:0" json:"sort_order"`
	CreatedAt        time.Time        `json:"created_at" gorm:"autoCreateTime"`
}

func (t *ChallengeTask) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// ChallengeParticipant is unique per (challenge, user)
type ChallengeParticipant struct {
	ID                  string            `gorm:"primaryKey;type:uuid" json:"id"`
	ChallengeID         string            `gorm:"type:uuid;not null;uniqueIndex:idx_challenge_user,priority:1" json:"challenge_id"`
	UserID              string            `gorm:"not null;uniqueIndex:idx_challenge_user,priority:2" json:"user_id"`
	CurrentProgress     int64             `gorm:"not null;default:0" json:"current_progress"`
	TotalPoints         int64             `gorm:"not null;default:0" json:"total_points"`
	TotalXPEarned       int64             `gorm:"not null;default:0" json:"total_xp_earned"`
	CompletedTasksCount int64             `gorm:"not null;default:0" json:"completed_tasks_count"`
	Rank                int               `gorm:"not null;default:0" json:"rank"` // 0 = unranked
	StreakDays          int               `gorm:"not null;default:0" json:"streak_days"`
	LongestStreak       int               `gorm:"not null;default:0" json:"longest_streak"`
	LastActivityDate    *string           `gorm:"type:varchar(10)" json:"last_activity_date,omitempty"`
	Status              ParticipantStatus `gorm:"type:varchar(16);not null;default:'active'" json:"status"`
	JoinedAt            time.Time         `gorm:"not null" json:"joined_at"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt           time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}

func (p *ChallengeParticipant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// ChallengeProgress is the daily ledger row for one participant
type ChallengeProgress struct {
	ID                 string    `gorm:"primaryKey;type:uuid" json:"id"`
	ParticipantID      string    `gorm:"type:uuid;not null;uniqueIndex:idx_participant_day,priority:1" json:"participant_id"`
	ProgressDate       string    `gorm:"type:varchar(10);not null;uniqueIndex:idx_participant_day,priority:2" json:"progress_date"`
	TasksCompleted     int64     `gorm:"not null;default:0" json:"tasks_completed"`
	PointsEarned       int64     `gorm:"not null;default:0" json:"points_earned"`
	XPEarned           int64     `gorm:"not null;default:0" json:"xp_earned"`
	ProgressDelta      int64     `gorm:"not null;default:0" json:"progress_delta"`
	CumulativeProgress int64     `gorm:"not null;default:0" json:"cumulative_progress"`
	CreatedAt          time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt          time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (p *ChallengeProgress) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// ChallengeTaskCompletion is one submission attempt; VerificationWorkflow moves it forward.
type ChallengeTaskCompletion struct {
	ID               string           `gorm:"primaryKey;type:uuid" json:"id"`
	ChallengeID      string           `gorm:"type:uuid;index;not null" json:"challenge_id"`
	ChallengeTaskID  string           `gorm:"type:uuid;not null;uniqueIndex:idx_task_attempt,priority:1" json:"challenge_task_id"`
	ParticipantID    string           `gorm:"type:uuid;not null;uniqueIndex:idx_task_attempt,priority:2" json:"participant_id"`
	CompletionNumber int              `gorm:"not null;uniqueIndex:idx_task_attempt,priority:3" json:"completion_number"`
	UserID           string           `gorm:"index;not null" json:"user_id"`
	Status           CompletionStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	VerificationType VerificationType `gorm:"type:varchar(16);not null" json:"verification_type"`

	ProofText     string `gorm:"type:text" json:"proof_text,omitempty"`
	ProofImageURL string `gorm:"type:text" json:"proof_image_url,omitempty"`
	ProofImageKey string `gorm:"type:text" json:"-"`

	AIAnalysis   datatypes.JSONMap `json:"ai_analysis,omitempty"`
	TaskSnapshot datatypes.JSONMap `json:"task_snapshot"`

	XPEarned     int64 `gorm:"not null;default:0" json:"xp_earned"`
	PointsEarned int64 `gorm:"not null;default:0" json:"points_earned"`

	VerifiedBy        *string    `json:"verified_by,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	VerificationNotes string     `gorm:"type:text" json:"verification_notes,omitempty"`
	RejectionReason   string     `gorm:"type:text" json:"rejection_reason,omitempty"`
	CreditedAt        *time.Time `json:"credited_at,omitempty"`
	ActivityDate      *string    `gorm:"type:varchar(10);index" json:"activity_date,omitempty"` // set when credited

	SubmittedAt time.Time `gorm:"not null" json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (c *ChallengeTaskCompletion) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
