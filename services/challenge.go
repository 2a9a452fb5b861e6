package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"quest-progress-engine/models"
	"quest-progress-engine/utils"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChallengeService covers the challenge lifecycle around the verification engine
type ChallengeService struct {
	DB          *gorm.DB
	Opts        EngineOptions
	Activity    *ActivityRecorder
	Aggregator  *ChallengeProgressAggregator
	Leaderboard *LeaderboardService
}

type NewChallengeInput struct {
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	GoalType        models.GoalType `json:"goal_type"`
	GoalTarget      int64           `json:"goal_target"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         time.Time       `json:"end_date"`
	MaxParticipants int             `json:"max_participants"`
}

func (s *ChallengeService) CreateChallenge(creatorID string, in NewChallengeInput) (*models.GroupChallenge, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	if !in.GoalType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGoalType, in.GoalType)
	}
	if in.GoalTarget <= 0 {
		return nil, ErrInvalidGoalTarget
	}
	if in.StartDate.IsZero() {
		in.StartDate = s.Opts.now()
	}
	if !in.EndDate.After(in.StartDate) {
		return nil, ErrInvalidDateRange
	}
	if in.MaxParticipants < 0 {
		in.MaxParticipants = 0
	}

	ch := models.GroupChallenge{
		Slug:            slug.Make(title) + "-" + uuid.NewString()[:8],
		Title:           title,
		Description:     in.Description,
		CreatorID:       creatorID,
		GoalType:        in.GoalType,
		GoalTarget:      in.GoalTarget,
		Status:          models.ChallengeStatusActive,
		StartDate:       in.StartDate,
		EndDate:         in.EndDate,
		MaxParticipants: in.MaxParticipants,
	}
	if err := s.DB.Create(&ch).Error; err != nil {
		return nil, err
	}
	utils.Logger.Info("challenge created", zap.String("challenge_id", ch.ID), zap.String("slug", ch.Slug))
	return &ch, nil
}

type NewChallengeTaskInput struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	XPReward         int64  `json:"xp_reward"`
	Points           int64  `json:"points"`
	RequiresProof    bool   `json:"requires_proof"`
	VerificationType string `json:"verification_type"`
	IsRepeatable     bool   `json:"is_repeatable"`
	MaxCompletions   int    `json:"max_completions"`
	SortOrder        int    `json:"sort_order"`
}

// AddChallengeTask validates rewards and the verification setup before inserting.
func (s *ChallengeService) AddChallengeTask(actorID string, admin bool, challengeID string, in NewChallengeTaskInput) (*models.ChallengeTask, error) {
	ch, err := s.GetChallenge(challengeID)
	if err != nil {
		return nil, err
	}
	if !admin && ch.CreatorID != actorID {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, ErrTitleRequired
	}
	if err := s.Opts.validateXPReward(in.XPReward); err != nil {
		return nil, err
	}
	if in.Points < 0 {
		return nil, ErrInvalidPoints
	}

	vt := models.VerificationTypeNone
	if in.VerificationType != "" {
		if vt, err = models.ParseVerificationType(in.VerificationType); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownVerificationType, err)
		}
	}
	if in.RequiresProof && vt == models.VerificationTypeNone {
		return nil, fmt.Errorf("%w: proof-required tasks need manual or ai verification", ErrUnknownVerificationType)
	}
	if !in.RequiresProof {
		vt = models.VerificationTypeNone
	}

	maxCompletions := 1
	if in.IsRepeatable {
		if in.MaxCompletions < 1 {
			return nil, ErrInvalidMaxCompletions
		}
		maxCompletions = in.MaxCompletions
	}

	task := models.ChallengeTask{
		ChallengeID:      ch.ID,
		Title:            strings.TrimSpace(in.Title),
		Description:      in.Description,
		XPReward:         in.XPReward,
		Points:           in.Points,
		RequiresProof:    in.RequiresProof,
		VerificationType: vt,
		IsRepeatable:     in.IsRepeatable,
		MaxCompletions:   maxCompletions,
		SortOrder:        in.SortOrder,
	}
	if err := s.DB.Create(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *ChallengeService) GetChallenge(id string) (*models.GroupChallenge, error) {
	var ch models.GroupChallenge
	err := s.DB.Preload("Tasks", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order ASC")
	}).Where("id = ?", id).First(&ch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ch, nil
}

// JoinChallenge adds the user as an active participant. Unique per (challenge, user).
func (s *ChallengeService) JoinChallenge(userID, challengeID string) (*models.ChallengeParticipant, error) {
	var part models.ChallengeParticipant
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var ch models.GroupChallenge
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", challengeID).First(&ch).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		now := s.Opts.now()
		if ch.Status != models.ChallengeStatusActive || now.After(ch.EndDate) {
			return ErrChallengeNotActive
		}

		var existing int64
		if err := tx.Model(&models.ChallengeParticipant{}).
			Where("challenge_id = ? AND user_id = ?", ch.ID, userID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyJoined
		}
		if ch.MaxParticipants > 0 {
			var count int64
			if err := tx.Model(&models.ChallengeParticipant{}).
				Where("challenge_id = ?", ch.ID).Count(&count).Error; err != nil {
				return err
			}
			if count >= int64(ch.MaxParticipants) {
				return ErrChallengeFull
			}
		}

		part = models.ChallengeParticipant{
			ChallengeID: ch.ID,
			UserID:      userID,
			Status:      models.ParticipantStatusActive,
			JoinedAt:    now,
		}
		if err := tx.Create(&part).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyJoined
			}
			return err
		}
		if _, err := s.Activity.Record(tx, ActivityEntry{
			UserID:      userID,
			Type:        models.ActivityChallengeJoined,
			Description: fmt.Sprintf("Joined %s", ch.Title),
			ChallengeID: &ch.ID,
		}); err != nil {
			return err
		}
		return s.Leaderboard.RecomputeChallengeRanks(tx, ch.ID)
	})
	if err != nil {
		return nil, err
	}
	return s.participant(part.ID)
}

// LeaveChallenge marks the caller dropped_out; they leave the ranking.
func (s *ChallengeService) LeaveChallenge(userID, challengeID string) (*models.ChallengeParticipant, error) {
	return s.removeParticipant(challengeID, userID, models.ParticipantStatusDroppedOut, "left the challenge")
}

// Disqualify is for the challenge creator or an admin.
func (s *ChallengeService) Disqualify(reviewer Reviewer, challengeID, userID, reason string) (*models.ChallengeParticipant, error) {
	ch, err := s.GetChallenge(challengeID)
	if err != nil {
		return nil, err
	}
	if !reviewer.Admin && ch.CreatorID != reviewer.UserID {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(reason) == "" {
		reason = "disqualified"
	}
	return s.removeParticipant(challengeID, userID, models.ParticipantStatusDisqualified, reason)
}

func (s *ChallengeService) removeParticipant(challengeID, userID string, status models.ParticipantStatus, reason string) (*models.ChallengeParticipant, error) {
	var id string
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var part models.ChallengeParticipant
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("challenge_id = ? AND user_id = ?", challengeID, userID).
			First(&part).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotParticipant
			}
			return err
		}
		if !part.Status.Ranked() {
			return ErrParticipantInactive
		}
		id = part.ID
		if err := tx.Model(&part).Updates(map[string]interface{}{
			"status": status,
			"rank":   0,
		}).Error; err != nil {
			return err
		}
		if err := s.voidPendingCompletions(tx, &part); err != nil {
			return err
		}
		if _, err := s.Activity.Record(tx, ActivityEntry{
			UserID:      userID,
			Type:        models.ActivityChallengeLeft,
			Description: reason,
			ChallengeID: &challengeID,
			Metadata:    map[string]any{"status": string(status)},
		}); err != nil {
			return err
		}
		return s.Leaderboard.RecomputeChallengeRanks(tx, challengeID)
	})
	if err != nil {
		return nil, err
	}
	return s.participant(id)
}

// voidPendingCompletions rejects whatever the participant still has awaiting review.
func (s *ChallengeService) voidPendingCompletions(tx *gorm.DB, part *models.ChallengeParticipant) error {
	var pending []models.ChallengeTaskCompletion
	if err := tx.Where("participant_id = ? AND status = ?", part.ID, models.CompletionStatusPending).
		Find(&pending).Error; err != nil {
		return err
	}
	now := s.Opts.now()
	for i := range pending {
		c := &pending[i]
		if err := tx.Model(c).Updates(map[string]interface{}{
			"status":           models.CompletionStatusRejected,
			"verified_at":      &now,
			"rejection_reason": reasonParticipantGone,
		}).Error; err != nil {
			return err
		}
		if _, err := s.Activity.Record(tx, ActivityEntry{
			UserID:       c.UserID,
			Type:         models.ActivityChallengeTaskRejected,
			Description:  reasonParticipantGone,
			ChallengeID:  &c.ChallengeID,
			CompletionID: &c.ID,
			Metadata:     map[string]any{"completion_number": c.CompletionNumber},
		}); err != nil {
			return err
		}
	}
	return nil
}

// ProgressHistory returns the user's daily ledger in the challenge
func (s *ChallengeService) ProgressHistory(challengeID, userID string) ([]models.ChallengeProgress, error) {
	var part models.ChallengeParticipant
	if err := s.DB.Where("challenge_id = ? AND user_id = ?", challengeID, userID).First(&part).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotParticipant
		}
		return nil, err
	}
	return s.Aggregator.History(s.DB, part.ID)
}

// CloseExpired marks active challenges past their end date completed
func (s *ChallengeService) CloseExpired() (int64, error) {
	res := s.DB.Model(&models.GroupChallenge{}).
		Where("status = ? AND end_date < ?", models.ChallengeStatusActive, s.Opts.now()).
		Update("status", models.ChallengeStatusCompleted)
	return res.RowsAffected, res.Error
}

func (s *ChallengeService) participant(id string) (*models.ChallengeParticipant, error) {
	var p models.ChallengeParticipant
	if err := s.DB.Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
