package services

import (
	"errors"
	"fmt"

	"quest-progress-engine/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChallengeProgressAggregator folds one credited challenge-task completion into the
// participant's totals and the per-day ledger.
type ChallengeProgressAggregator struct {
	Opts    EngineOptions
	Streaks StreakTracker
}

func NewChallengeProgressAggregator(opts EngineOptions) *ChallengeProgressAggregator {
	return &ChallengeProgressAggregator{Opts: opts.withDefaults()}
}

type AggregateResult struct {
	Participant   *models.ChallengeParticipant
	Challenge     *models.GroupChallenge
	Ledger        *models.ChallengeProgress
	ProgressDelta int64
	// JustCompleted is true only on the credit that crossed the goal
	JustCompleted bool
}

// ProgressDelta is the progress unit a completion is worth for the goal type.
func ProgressDelta(goal models.GoalType, xpEarned int64) (int64, error) {
	switch goal {
	case models.GoalTypeTaskCount:
		return 1, nil
	case models.GoalTypeTotalXP:
		return xpEarned, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidGoalType, goal)
	}
}

// Credit must run inside the credit transaction. A missing participant or challenge is an
// integrity failure, never a business outcome.
func (a *ChallengeProgressAggregator) Credit(tx *gorm.DB, participantID string, xpEarned, pointsEarned int64, day string) (*AggregateResult, error) {
	var part models.ChallengeParticipant
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", participantID).First(&part).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: participant %s", ErrIntegrity, participantID)
		}
		return nil, err
	}
	var ch models.GroupChallenge
	if err := tx.Where("id = ?", part.ChallengeID).First(&ch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: challenge %s", ErrIntegrity, part.ChallengeID)
		}
		return nil, err
	}

	delta, err := ProgressDelta(ch.GoalType, xpEarned)
	if err != nil {
		return nil, err
	}

	part.CurrentProgress += delta
	part.TotalPoints += pointsEarned
	part.TotalXPEarned += xpEarned
	part.CompletedTasksCount++

	streak, err := a.Streaks.Advance(StreakState{
		StreakDays:    part.StreakDays,
		LongestStreak: part.LongestStreak,
		LastDate:      part.LastActivityDate,
	}, day)
	if err != nil {
		return nil, err
	}
	part.StreakDays = streak.State.StreakDays
	part.LongestStreak = streak.State.LongestStreak
	part.LastActivityDate = laterDay(part.LastActivityDate, day)

	res := &AggregateResult{Challenge: &ch, ProgressDelta: delta}
	if part.Status == models.ParticipantStatusActive && part.CurrentProgress >= ch.GoalTarget {
		now := a.Opts.now()
		part.Status = models.ParticipantStatusCompleted
		part.CompletedAt = &now
		res.JustCompleted = true
	}

	if err := tx.Save(&part).Error; err != nil {
		return nil, fmt.Errorf("save participant: %w", err)
	}
	res.Participant = &part

	ledger, err := a.upsertLedger(tx, part.ID, day, delta, xpEarned, pointsEarned)
	if err != nil {
		return nil, err
	}
	res.Ledger = ledger
	return res, nil
}

// upsertLedger adds to the day's row, or starts one from the latest earlier cumulative total.
func (a *ChallengeProgressAggregator) upsertLedger(tx *gorm.DB, participantID, day string, delta, xp, points int64) (*models.ChallengeProgress, error) {
	var row models.ChallengeProgress
	err := tx.Where("participant_id = ? AND progress_date = ?", participantID, day).First(&row).Error
	switch {
	case err == nil:
		row.TasksCompleted++
		row.XPEarned += xp
		row.PointsEarned += points
		row.ProgressDelta += delta
		row.CumulativeProgress += delta
		if err := tx.Save(&row).Error; err != nil {
			return nil, fmt.Errorf("update progress row: %w", err)
		}
		return &row, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	var prior models.ChallengeProgress
	seed := int64(0)
	err = tx.Where("participant_id = ? AND progress_date < ?", participantID, day).
		Order("progress_date DESC").
		First(&prior).Error
	if err == nil {
		seed = prior.CumulativeProgress
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	row = models.ChallengeProgress{
		ParticipantID:      participantID,
		ProgressDate:       day,
		TasksCompleted:     1,
		XPEarned:           xp,
		PointsEarned:       points,
		ProgressDelta:      delta,
		CumulativeProgress: seed + delta,
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create progress row: %w", err)
	}
	return &row, nil
}

// History returns the participant's ledger oldest first
func (a *ChallengeProgressAggregator) History(db *gorm.DB, participantID string) ([]models.ChallengeProgress, error) {
	var rows []models.ChallengeProgress
	err := db.Where("participant_id = ?", participantID).
		Order("progress_date ASC").
		Find(&rows).Error
	return rows, err
}
