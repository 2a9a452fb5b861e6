package services

import (
	"encoding/json"
	"fmt"

	"quest-progress-engine/models"
	"quest-progress-engine/utils"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BadgeService struct {
	DB    *gorm.DB
	Clock clockwork.Clock
}

func NewBadgeService(db *gorm.DB, clock clockwork.Clock) *BadgeService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &BadgeService{DB: db, Clock: clock}
}

// SeedBadgeTypes inserts BadgeTriggers once; existing codes are left untouched.
func (s *BadgeService) SeedBadgeTypes() error {
	types := make([]models.BadgeType, len(models.BadgeTriggers))
	copy(types, models.BadgeTriggers)
	return s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoNothing: true,
	}).Create(&types).Error
}

// Evaluate awards every badge whose thresholds the character now meets and returns the new ones.
// Runs inside the credit transaction; badges are never revoked by a reversal.
func (s *BadgeService) Evaluate(tx *gorm.DB, char *models.Character) ([]models.BadgeType, error) {
	var types []models.BadgeType
	if err := tx.Find(&types).Error; err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return nil, nil
	}

	var owned []string
	if err := tx.Model(&models.UserBadge{}).
		Where("user_id = ?", char.UserID).
		Pluck("badge_type_id", &owned).Error; err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(owned))
	for _, id := range owned {
		have[id] = true
	}

	var awarded []models.BadgeType
	for _, bt := range types {
		if have[bt.ID] || !meetsThreshold(char, bt.Threshold) {
			continue
		}
		ub := models.UserBadge{
			UserID:      char.UserID,
			BadgeTypeID: bt.ID,
			BadgeCode:   bt.Code,
			AwardedAt:   s.Clock.Now(),
		}
		if err := tx.Create(&ub).Error; err != nil {
			return nil, fmt.Errorf("award badge %s: %w", bt.Code, err)
		}
		awarded = append(awarded, bt)
		utils.Logger.Info("badge awarded", zap.String("user_id", char.UserID), zap.String("badge", bt.Code))
	}
	return awarded, nil
}

func (s *BadgeService) ListUserBadges(userID string) ([]models.UserBadge, error) {
	var badges []models.UserBadge
	err := s.DB.Where("user_id = ?", userID).Order("awarded_at ASC").Find(&badges).Error
	return badges, err
}

func meetsThreshold(char *models.Character, req map[string]interface{}) bool {
	if len(req) == 0 {
		return false
	}
	for key, raw := range req {
		required, ok := toInt64(raw)
		if !ok {
			return false
		}
		var have int64
		switch key {
		case "level":
			have = int64(char.Level)
		case "total_xp":
			have = char.TotalXP
		case "streak_days":
			have = int64(char.StreakDays)
		case "longest_streak":
			have = int64(char.LongestStreak)
		case "tasks_completed":
			have = char.TasksCompleted
		case "habits_completed":
			have = char.HabitsCompleted
		case "challenge_tasks_completed":
			have = char.ChallengeTasksCompleted
		case "challenges_completed":
			have = char.ChallengesCompleted
		default:
			return false
		}
		if have < required {
			return false
		}
	}
	return true
}

// JSON columns come back as json.Number; seeds in memory are ints
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}
