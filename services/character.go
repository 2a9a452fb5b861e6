package services

import (
	"errors"
	"fmt"

	"quest-progress-engine/models"
	"quest-progress-engine/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// counterKind names the lifetime counter a credit bumps
type counterKind int

const (
	counterTasks counterKind = iota
	counterHabits
	counterChallengeTasks
)

type CharacterService struct {
	DB            *gorm.DB
	Opts          EngineOptions
	Calc          ProgressionCalculator
	Streaks       StreakTracker
	Activity      *ActivityRecorder
	Notifications *NotificationService
	Badges        *BadgeService
}

func NewCharacterService(db *gorm.DB, opts EngineOptions, activity *ActivityRecorder, notifications *NotificationService, badges *BadgeService) *CharacterService {
	opts = opts.withDefaults()
	return &CharacterService{
		DB:            db,
		Opts:          opts,
		Calc:          NewProgressionCalculator(opts.Progression),
		Activity:      activity,
		Notifications: notifications,
		Badges:        badges,
	}
}

// SeedRanks inserts the default rank ladder (idempotent)
func (s *CharacterService) SeedRanks() error {
	ranks := make([]models.Rank, len(models.DefaultRanks))
	copy(ranks, models.DefaultRanks)
	return s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoNothing: true,
	}).Create(&ranks).Error
}

func (s *CharacterService) ListRanks(db *gorm.DB) ([]models.Rank, error) {
	var ranks []models.Rank
	if err := db.Order("order_index ASC").Find(&ranks).Error; err != nil {
		return nil, err
	}
	if len(ranks) == 0 {
		return nil, fmt.Errorf("%w: rank table is empty", ErrIntegrity)
	}
	return ranks, nil
}

// EnsureCharacter ensures a Character row exists (idempotent)
func (s *CharacterService) EnsureCharacter(userID string) (*models.Character, error) {
	var char models.Character
	err := s.DB.Preload("Rank").Where("user_id = ?", userID).First(&char).Error
	if err == nil {
		return &char, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	ranks, err := s.ListRanks(s.DB)
	if err != nil {
		return nil, err
	}
	start, err := ResolveRank(1, ranks)
	if err != nil {
		return nil, err
	}
	char = models.Character{
		UserID:        userID,
		Level:         1,
		XPToNextLevel: s.Calc.Config.XPToNextLevel(1),
		RankID:        start.ID,
	}
	// a concurrent registration may win the insert; re-read either way
	if err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&char).Error; err != nil {
		return nil, err
	}
	utils.Logger.Info("character created", zap.String("user_id", userID))
	return s.GetCharacter(userID)
}

func (s *CharacterService) GetCharacter(userID string) (*models.Character, error) {
	var char models.Character
	if err := s.DB.Preload("Rank").Where("user_id = ?", userID).First(&char).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &char, nil
}

// RecentActivity is the user's activity feed, newest first
func (s *CharacterService) RecentActivity(userID string, limit int) ([]models.ActivityLog, error) {
	return s.Activity.Recent(s.DB, userID, limit)
}

func (s *CharacterService) lockCharacter(tx *gorm.DB, userID string) (*models.Character, error) {
	var char models.Character
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&char).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no character for user %s", ErrIntegrity, userID)
	}
	if err != nil {
		return nil, err
	}
	return &char, nil
}

type creditRequest struct {
	UserID       string
	XP           int64
	Day          string
	Counter      counterKind
	Activity     models.ActivityType
	Description  string
	ChallengeID  *string
	CompletionID *string
	Metadata     map[string]any
	// ChallengeCompleted bumps ChallengesCompleted alongside the main counter
	ChallengeCompleted bool
}

type creditOutcome struct {
	Character    *models.Character
	Progression  ProgressionResult
	Streak       StreakResult
	StreakBefore models.StreakSnapshot
	StreakAfter  models.StreakSnapshot
	BadgesEarned []string
}

// credit applies XP, streak and counters to the character inside tx, then writes the
// activity rows and outbox intents that describe what changed.
func (s *CharacterService) credit(tx *gorm.DB, req creditRequest) (*creditOutcome, error) {
	char, err := s.lockCharacter(tx, req.UserID)
	if err != nil {
		return nil, err
	}
	ranks, err := s.ListRanks(tx)
	if err != nil {
		return nil, err
	}

	out := &creditOutcome{StreakBefore: snapshotCharacterStreak(char)}
	levelBefore := char.Level
	rankBefore := rankCode(ranks, char.RankID)

	prog, err := s.Calc.ApplyXP(SnapshotOf(char), req.XP, ranks)
	if err != nil {
		return nil, err
	}
	streak, err := s.Streaks.Advance(characterStreak(char), req.Day)
	if err != nil {
		return nil, err
	}

	now := s.Opts.now()
	applyProgression(char, prog)
	if prog.LevelsGained > 0 {
		char.LastLevelUpAt = &now
	}
	if prog.RankChange == RankChangeUp {
		char.LastRankUpAt = &now
	}
	char.StreakDays = streak.State.StreakDays
	char.LongestStreak = streak.State.LongestStreak
	char.LastStreakDate = copyStr(streak.State.LastDate)
	char.LastActiveDate = laterDay(char.LastActiveDate, req.Day)
	bumpCounter(char, req.Counter, 1)
	if req.ChallengeCompleted {
		char.ChallengesCompleted++
	}

	if err := tx.Omit(clause.Associations).Save(char).Error; err != nil {
		return nil, fmt.Errorf("save character: %w", err)
	}
	out.Character = char
	out.Progression = prog
	out.Streak = streak
	out.StreakAfter = snapshotCharacterStreak(char)

	meta := map[string]any{"streak_days": char.StreakDays, "activity_date": req.Day}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if _, err := s.Activity.Record(tx, ActivityEntry{
		UserID:       req.UserID,
		Type:         req.Activity,
		Description:  req.Description,
		XPDelta:      req.XP,
		LevelBefore:  intRef(levelBefore),
		LevelAfter:   intRef(char.Level),
		RankBefore:   strRef(rankBefore),
		RankAfter:    strRef(prog.ToRank.Code),
		ChallengeID:  req.ChallengeID,
		CompletionID: req.CompletionID,
		Metadata:     meta,
	}); err != nil {
		return nil, err
	}

	if err := s.recordProgressionEvents(tx, char, levelBefore, rankBefore, prog); err != nil {
		return nil, err
	}
	if err := s.recordStreakEvents(tx, char, streak); err != nil {
		return nil, err
	}

	earned, err := s.Badges.Evaluate(tx, char)
	if err != nil {
		return nil, err
	}
	for _, b := range earned {
		out.BadgesEarned = append(out.BadgesEarned, b.Code)
		if _, err := s.Activity.Record(tx, ActivityEntry{
			UserID:      char.UserID,
			Type:        models.ActivityBadgeEarned,
			Description: fmt.Sprintf("Earned the %s badge", b.Name),
			Metadata:    map[string]any{"badge_code": b.Code, "rarity": b.Rarity},
		}); err != nil {
			return nil, err
		}
		if err := s.Notifications.Enqueue(tx, char.UserID, models.NotifyBadgeEarned,
			"New badge!", fmt.Sprintf("You earned: %s", b.Name),
			map[string]any{"badge_code": b.Code}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type reverseRequest struct {
	UserID       string
	XP           int64
	Day          string
	Counter      counterKind
	Activity     models.ActivityType
	Description  string
	CompletionID *string
	Before       models.StreakSnapshot
	After        models.StreakSnapshot
	// OtherActivityOnDay: the day still counts for the streak after this reversal
	OtherActivityOnDay bool
	Metadata           map[string]any
}

type reverseOutcome struct {
	Character             *models.Character
	Progression           ProgressionResult
	StreakRestored        bool
	StreakReversalSkipped bool
}

// reverse undoes one completion's effect on the character. The streak is restored from the
// completion's own snapshot only when nothing touched it afterwards; otherwise it is left
// alone and the reversal is flagged.
func (s *CharacterService) reverse(tx *gorm.DB, req reverseRequest) (*reverseOutcome, error) {
	char, err := s.lockCharacter(tx, req.UserID)
	if err != nil {
		return nil, err
	}
	ranks, err := s.ListRanks(tx)
	if err != nil {
		return nil, err
	}
	levelBefore := char.Level
	rankBefore := rankCode(ranks, char.RankID)

	prog, err := s.Calc.ApplyXP(SnapshotOf(char), -req.XP, ranks)
	if err != nil {
		return nil, err
	}
	applyProgression(char, prog)
	bumpCounter(char, req.Counter, -1)

	out := &reverseOutcome{Character: char, Progression: prog}
	switch {
	case req.OtherActivityOnDay:
		// the day still qualifies, streak is unchanged
	case sameSnapshot(snapshotCharacterStreak(char), req.After):
		restoreCharacterStreak(char, req.Before)
		out.StreakRestored = true
	default:
		out.StreakReversalSkipped = true
		utils.Logger.Warn("streak reversal skipped: later activity changed the streak",
			zap.String("user_id", req.UserID), zap.String("activity_date", req.Day))
	}

	if err := tx.Omit(clause.Associations).Save(char).Error; err != nil {
		return nil, fmt.Errorf("save character: %w", err)
	}

	meta := map[string]any{
		"activity_date":           req.Day,
		"streak_restored":         out.StreakRestored,
		"streak_reversal_skipped": out.StreakReversalSkipped,
	}
	if prog.Degraded {
		meta["degraded"] = true
	}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if _, err := s.Activity.Record(tx, ActivityEntry{
		UserID:       req.UserID,
		Type:         req.Activity,
		Description:  req.Description,
		XPDelta:      -req.XP,
		LevelBefore:  intRef(levelBefore),
		LevelAfter:   intRef(char.Level),
		RankBefore:   strRef(rankBefore),
		RankAfter:    strRef(prog.ToRank.Code),
		CompletionID: req.CompletionID,
		Metadata:     meta,
	}); err != nil {
		return nil, err
	}
	if err := s.recordProgressionEvents(tx, char, levelBefore, rankBefore, prog); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CharacterService) recordProgressionEvents(tx *gorm.DB, char *models.Character, levelBefore int, rankBefore string, prog ProgressionResult) error {
	switch {
	case prog.LevelsGained > 0:
		if _, err := s.Activity.Record(tx, ActivityEntry{
			UserID:      char.UserID,
			Type:        models.ActivityLevelUp,
			Description: fmt.Sprintf("Reached level %d", char.Level),
			LevelBefore: intRef(levelBefore),
			LevelAfter:  intRef(char.Level),
		}); err != nil {
			return err
		}
		if err := s.Notifications.Enqueue(tx, char.UserID, models.NotifyLevelUp,
			"Level up!", fmt.Sprintf("You reached level %d", char.Level),
			map[string]any{"level": char.Level, "levels_gained": prog.LevelsGained}); err != nil {
			return err
		}
	case prog.LevelsGained < 0:
		if _, err := s.Activity.Record(tx, ActivityEntry{
			UserID:      char.UserID,
			Type:        models.ActivityLevelDown,
			Description: fmt.Sprintf("Dropped to level %d", char.Level),
			LevelBefore: intRef(levelBefore),
			LevelAfter:  intRef(char.Level),
		}); err != nil {
			return err
		}
	}

	if !prog.RankChanged {
		return nil
	}
	activity, kind, title := models.ActivityRankUp, models.NotifyRankUp, "Rank up!"
	if prog.RankChange == RankChangeDown {
		activity, kind, title = models.ActivityRankDown, models.NotifyRankDown, "Rank lost"
	}
	if _, err := s.Activity.Record(tx, ActivityEntry{
		UserID:      char.UserID,
		Type:        activity,
		Description: fmt.Sprintf("%s → %s", rankBefore, prog.ToRank.Name),
		RankBefore:  strRef(rankBefore),
		RankAfter:   strRef(prog.ToRank.Code),
		LevelAfter:  intRef(char.Level),
	}); err != nil {
		return err
	}
	utils.Logger.Info("rank changed",
		zap.String("user_id", char.UserID),
		zap.String("from", rankBefore),
		zap.String("to", prog.ToRank.Code),
		zap.String("direction", string(prog.RankChange)))
	return s.Notifications.Enqueue(tx, char.UserID, kind, title,
		fmt.Sprintf("You are now %s", prog.ToRank.Name),
		map[string]any{"from": rankBefore, "to": prog.ToRank.Code})
}

func (s *CharacterService) recordStreakEvents(tx *gorm.DB, char *models.Character, streak StreakResult) error {
	if streak.Broken {
		if err := s.recordStreakBroken(tx, char.UserID, streak.BrokenLength); err != nil {
			return err
		}
	}
	if streak.Milestone == 0 {
		return nil
	}
	if _, err := s.Activity.Record(tx, ActivityEntry{
		UserID:      char.UserID,
		Type:        models.ActivityStreakMilestone,
		Description: fmt.Sprintf("%d day streak!", streak.Milestone),
		Metadata:    map[string]any{"streak_days": streak.Milestone},
	}); err != nil {
		return err
	}
	return s.Notifications.Enqueue(tx, char.UserID, models.NotifyStreakMilestone,
		"Streak milestone", fmt.Sprintf("%d days in a row. Keep going!", streak.Milestone),
		map[string]any{"streak_days": streak.Milestone})
}

func (s *CharacterService) recordStreakBroken(tx *gorm.DB, userID string, length int) error {
	if _, err := s.Activity.Record(tx, ActivityEntry{
		UserID:      userID,
		Type:        models.ActivityStreakBroken,
		Description: fmt.Sprintf("Lost a %d day streak", length),
		Metadata:    map[string]any{"broken_length": length},
	}); err != nil {
		return err
	}
	return s.Notifications.Enqueue(tx, userID, models.NotifyStreakBroken,
		"Streak broken", fmt.Sprintf("Your %d day streak ended. Start a new one today!", length),
		map[string]any{"broken_length": length})
}

// ExpireStaleStreaks zeroes streaks whose last counted day is before yesterday.
// Returns the number of characters touched.
func (s *CharacterService) ExpireStaleStreaks() (int, error) {
	today := s.Opts.today()
	t, err := parseDay(today)
	if err != nil {
		return 0, err
	}
	yesterday := t.AddDate(0, 0, -1).Format(DateLayout)

	var candidates []models.Character
	if err := s.DB.Where("streak_days > 0 AND last_streak_date < ?", yesterday).
		Find(&candidates).Error; err != nil {
		return 0, err
	}

	expired := 0
	for _, c := range candidates {
		broke := false
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			char, err := s.lockCharacter(tx, c.UserID)
			if err != nil {
				return err
			}
			res, err := s.Streaks.Expire(characterStreak(char), today)
			if err != nil || !res.Broken {
				return err
			}
			if err := tx.Model(&models.Character{}).Where("id = ?", char.ID).
				UpdateColumn("streak_days", 0).Error; err != nil {
				return err
			}
			broke = true
			return s.recordStreakBroken(tx, char.UserID, res.BrokenLength)
		})
		if err != nil {
			utils.Logger.Error("expire streak failed", zap.String("user_id", c.UserID), zap.Error(err))
			continue
		}
		if broke {
			expired++
		}
	}
	return expired, nil
}

func applyProgression(char *models.Character, prog ProgressionResult) {
	char.Level = prog.NewLevel
	char.CurrentXP = prog.NewCurrentXP
	char.TotalXP = prog.NewTotalXP
	char.XPToNextLevel = prog.NewXPToNextLevel
	char.RankID = prog.ToRank.ID
	char.Rank = nil
}

func bumpCounter(char *models.Character, kind counterKind, by int64) {
	var c *int64
	switch kind {
	case counterTasks:
		c = &char.TasksCompleted
	case counterHabits:
		c = &char.HabitsCompleted
	case counterChallengeTasks:
		c = &char.ChallengeTasksCompleted
	default:
		return
	}
	*c += by
	if *c < 0 {
		*c = 0
	}
}

func rankCode(ranks []models.Rank, id string) string {
	for _, r := range ranks {
		if r.ID == id {
			return r.Code
		}
	}
	return ""
}
