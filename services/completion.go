package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"quest-progress-engine/models"
	"quest-progress-engine/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CompletionService credits and reverses personal tasks and habits
type CompletionService struct {
	DB          *gorm.DB
	Opts        EngineOptions
	Characters  *CharacterService
	Streaks     StreakTracker
	Leaderboard *LeaderboardService
}

// CreditResult describes one committed credit
type CreditResult struct {
	CompletionID string            `json:"completion_id"`
	XPEarned     int64             `json:"xp_earned"`
	Character    *models.Character `json:"character"`
	LevelsGained int               `json:"levels_gained"`
	RankChange   RankChange        `json:"rank_change,omitempty"`
	StreakDays   int               `json:"streak_days"`
	Milestone    int               `json:"streak_milestone,omitempty"`
	StreakBroken bool              `json:"streak_broken"`
	BadgesEarned []string          `json:"badges_earned,omitempty"`
}

// ReversalResult describes one committed uncomplete
type ReversalResult struct {
	XPReversed            int64             `json:"xp_reversed"`
	Character             *models.Character `json:"character"`
	LevelsLost            int               `json:"levels_lost"`
	RankChange            RankChange        `json:"rank_change,omitempty"`
	Degraded              bool              `json:"degraded"`
	StreakRestored        bool              `json:"streak_restored"`
	StreakReversalSkipped bool              `json:"streak_reversal_skipped"`
	// habits only
	HabitStreakReversalSkipped bool `json:"habit_streak_reversal_skipped,omitempty"`
}

type NewTaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Difficulty  string `json:"difficulty"`
	XPReward    int64  `json:"xp_reward"`
}

func (s *CompletionService) CreateTask(userID string, in NewTaskInput) (*models.Task, error) {
	if err := s.Opts.validateXPReward(in.XPReward); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, ErrTitleRequired
	}
	task := models.Task{
		UserID:      userID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Difficulty:  in.Difficulty,
		XPReward:    in.XPReward,
	}
	if task.Difficulty == "" {
		task.Difficulty = "normal"
	}
	if err := s.DB.Create(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

type NewHabitInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	XPReward    int64  `json:"xp_reward"`
}

func (s *CompletionService) CreateHabit(userID string, in NewHabitInput) (*models.Habit, error) {
	if err := s.Opts.validateXPReward(in.XPReward); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, ErrTitleRequired
	}
	habit := models.Habit{
		UserID:      userID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		XPReward:    in.XPReward,
	}
	if err := s.DB.Create(&habit).Error; err != nil {
		return nil, err
	}
	return &habit, nil
}

// CompleteTask credits a one-off task. A second call returns ErrAlreadyCompleted.
func (s *CompletionService) CompleteTask(ctx context.Context, userID, taskID string) (*CreditResult, error) {
	var result *CreditResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		task, err := s.lockTask(tx, userID, taskID)
		if err != nil {
			return err
		}
		if task.IsCompleted {
			return ErrAlreadyCompleted
		}
		var existing int64
		if err := tx.Model(&models.TaskCompletion{}).Where("task_id = ?", task.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyCompleted
		}

		now := s.Opts.now()
		day := s.Opts.today()
		completionID := uuid.NewString()
		out, err := s.Characters.credit(tx, creditRequest{
			UserID:       userID,
			XP:           task.XPReward,
			Day:          day,
			Counter:      counterTasks,
			Activity:     models.ActivityTaskCompleted,
			Description:  fmt.Sprintf("Completed task: %s", task.Title),
			CompletionID: &completionID,
			Metadata:     map[string]any{"task_id": task.ID},
		})
		if err != nil {
			return err
		}

		tc := models.TaskCompletion{
			ID:           completionID,
			TaskID:       task.ID,
			UserID:       userID,
			XPEarned:     task.XPReward,
			ActivityDate: day,
			CompletedAt:  now,
			TaskSnapshot: taskSnapshot(task),
			StreakBefore: out.StreakBefore,
			StreakAfter:  out.StreakAfter,
		}
		if err := tx.Create(&tc).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyCompleted
			}
			return fmt.Errorf("create task completion: %w", err)
		}
		if err := tx.Model(task).Updates(map[string]interface{}{
			"is_completed": true,
			"completed_at": &now,
		}).Error; err != nil {
			return err
		}
		result = creditResult(completionID, task.XPReward, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Leaderboard.InvalidateGlobal(ctx)
	utils.Logger.Info("task completed",
		zap.String("user_id", userID), zap.String("task_id", taskID), zap.Int64("xp", result.XPEarned))
	return result, nil
}

// UncompleteTask reverses the task's completion using the streak snapshot stored on it.
func (s *CompletionService) UncompleteTask(ctx context.Context, userID, taskID string) (*ReversalResult, error) {
	var result *ReversalResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		task, err := s.lockTask(tx, userID, taskID)
		if err != nil {
			return err
		}
		if !task.IsCompleted {
			return ErrNotCompleted
		}
		var tc models.TaskCompletion
		if err := tx.Where("task_id = ?", task.ID).First(&tc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: task %s marked completed without a completion", ErrIntegrity, task.ID)
			}
			return err
		}

		others, err := otherActivityOnDay(tx, userID, tc.ActivityDate, tc.ID, "")
		if err != nil {
			return err
		}
		out, err := s.Characters.reverse(tx, reverseRequest{
			UserID:             userID,
			XP:                 tc.XPEarned,
			Day:                tc.ActivityDate,
			Counter:            counterTasks,
			Activity:           models.ActivityTaskUncompleted,
			Description:        fmt.Sprintf("Uncompleted task: %s", task.Title),
			CompletionID:       &tc.ID,
			Before:             tc.StreakBefore,
			After:              tc.StreakAfter,
			OtherActivityOnDay: others,
			Metadata:           map[string]any{"task_id": task.ID},
		})
		if err != nil {
			return err
		}

		if err := tx.Delete(&tc).Error; err != nil {
			return err
		}
		if err := tx.Model(task).Updates(map[string]interface{}{
			"is_completed": false,
			"completed_at": nil,
		}).Error; err != nil {
			return err
		}
		result = reversalResult(tc.XPEarned, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Leaderboard.InvalidateGlobal(ctx)
	return result, nil
}

// CompleteHabit credits today's completion of a habit. At most one per (habit, day).
func (s *CompletionService) CompleteHabit(ctx context.Context, userID, habitID string) (*CreditResult, error) {
	var result *CreditResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		habit, err := s.lockHabit(tx, userID, habitID)
		if err != nil {
			return err
		}
		day := s.Opts.today()
		var existing int64
		if err := tx.Model(&models.HabitCompletion{}).
			Where("habit_id = ? AND completed_date = ?", habit.ID, day).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyCompleted
		}

		hs, err := s.Streaks.Advance(StreakState{
			StreakDays:    habit.CurrentStreak,
			LongestStreak: habit.LongestStreak,
			LastDate:      habit.LastCompletedDate,
		}, day)
		if err != nil {
			return err
		}

		now := s.Opts.now()
		completionID := uuid.NewString()
		out, err := s.Characters.credit(tx, creditRequest{
			UserID:       userID,
			XP:           habit.XPReward,
			Day:          day,
			Counter:      counterHabits,
			Activity:     models.ActivityHabitCompleted,
			Description:  fmt.Sprintf("Completed habit: %s", habit.Title),
			CompletionID: &completionID,
			Metadata:     map[string]any{"habit_id": habit.ID, "habit_streak": hs.State.StreakDays},
		})
		if err != nil {
			return err
		}

		hc := models.HabitCompletion{
			ID:                  completionID,
			HabitID:             habit.ID,
			CompletedDate:       day,
			UserID:              userID,
			XPEarned:            habit.XPReward,
			CompletedAt:         now,
			HabitSnapshot:       habitSnapshot(habit),
			StreakBefore:        out.StreakBefore,
			StreakAfter:         out.StreakAfter,
			HabitStreakBefore:   habit.CurrentStreak,
			HabitLongestBefore:  habit.LongestStreak,
			HabitLastDateBefore: copyStr(habit.LastCompletedDate),
		}
		if err := tx.Create(&hc).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyCompleted
			}
			return fmt.Errorf("create habit completion: %w", err)
		}
		if err := tx.Model(habit).Updates(map[string]interface{}{
			"current_streak":      hs.State.StreakDays,
			"longest_streak":      hs.State.LongestStreak,
			"last_completed_date": day,
			"total_completions":   gorm.Expr("total_completions + 1"),
		}).Error; err != nil {
			return err
		}
		result = creditResult(completionID, habit.XPReward, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Leaderboard.InvalidateGlobal(ctx)
	utils.Logger.Info("habit completed",
		zap.String("user_id", userID), zap.String("habit_id", habitID), zap.Int("streak_days", result.StreakDays))
	return result, nil
}

// UncompleteHabit reverses the habit's completion for day ("" = today).
func (s *CompletionService) UncompleteHabit(ctx context.Context, userID, habitID, day string) (*ReversalResult, error) {
	if day == "" {
		day = s.Opts.today()
	} else if _, err := parseDay(day); err != nil {
		return nil, err
	}
	var result *ReversalResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		habit, err := s.lockHabit(tx, userID, habitID)
		if err != nil {
			return err
		}
		var hc models.HabitCompletion
		if err := tx.Where("habit_id = ? AND completed_date = ?", habit.ID, day).First(&hc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotCompleted
			}
			return err
		}

		others, err := otherActivityOnDay(tx, userID, day, "", hc.ID)
		if err != nil {
			return err
		}
		out, err := s.Characters.reverse(tx, reverseRequest{
			UserID:             userID,
			XP:                 hc.XPEarned,
			Day:                day,
			Counter:            counterHabits,
			Activity:           models.ActivityHabitUncompleted,
			Description:        fmt.Sprintf("Uncompleted habit: %s", habit.Title),
			CompletionID:       &hc.ID,
			Before:             hc.StreakBefore,
			After:              hc.StreakAfter,
			OtherActivityOnDay: others,
			Metadata:           map[string]any{"habit_id": habit.ID},
		})
		if err != nil {
			return err
		}
		result = reversalResult(hc.XPEarned, out)

		updates := map[string]interface{}{
			"total_completions": gorm.Expr("CASE WHEN total_completions > 0 THEN total_completions - 1 ELSE 0 END"),
		}
		if eqStr(habit.LastCompletedDate, &day) {
			updates["current_streak"] = hc.HabitStreakBefore
			updates["longest_streak"] = hc.HabitLongestBefore
			updates["last_completed_date"] = hc.HabitLastDateBefore
		} else {
			result.HabitStreakReversalSkipped = true
		}
		if err := tx.Model(habit).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Delete(&hc).Error
	})
	if err != nil {
		return nil, err
	}
	s.Leaderboard.InvalidateGlobal(ctx)
	return result, nil
}

func (s *CompletionService) lockTask(tx *gorm.DB, userID, taskID string) (*models.Task, error) {
	var task models.Task
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if task.UserID != userID {
		return nil, ErrForbidden
	}
	return &task, nil
}

func (s *CompletionService) lockHabit(tx *gorm.DB, userID, habitID string) (*models.Habit, error) {
	var habit models.Habit
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", habitID).First(&habit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if habit.UserID != userID {
		return nil, ErrForbidden
	}
	return &habit, nil
}

// otherActivityOnDay reports whether anything besides the excluded completion still
// credits the user's streak on day.
func otherActivityOnDay(tx *gorm.DB, userID, day, excludeTaskCompletion, excludeHabitCompletion string) (bool, error) {
	var n int64
	q := tx.Model(&models.TaskCompletion{}).Where("user_id = ? AND activity_date = ?", userID, day)
	if excludeTaskCompletion != "" {
		q = q.Where("id <> ?", excludeTaskCompletion)
	}
	if err := q.Count(&n).Error; err != nil || n > 0 {
		return n > 0, err
	}

	q = tx.Model(&models.HabitCompletion{}).Where("user_id = ? AND completed_date = ?", userID, day)
	if excludeHabitCompletion != "" {
		q = q.Where("id <> ?", excludeHabitCompletion)
	}
	if err := q.Count(&n).Error; err != nil || n > 0 {
		return n > 0, err
	}

	err := tx.Model(&models.ChallengeTaskCompletion{}).
		Where("user_id = ? AND activity_date = ? AND credited_at IS NOT NULL", userID, day).
		Count(&n).Error
	return n > 0, err
}

func creditResult(completionID string, xp int64, out *creditOutcome) *CreditResult {
	return &CreditResult{
		CompletionID: completionID,
		XPEarned:     xp,
		Character:    out.Character,
		LevelsGained: out.Progression.LevelsGained,
		RankChange:   out.Progression.RankChange,
		StreakDays:   out.Character.StreakDays,
		Milestone:    out.Streak.Milestone,
		StreakBroken: out.Streak.Broken,
		BadgesEarned: out.BadgesEarned,
	}
}

func reversalResult(xp int64, out *reverseOutcome) *ReversalResult {
	return &ReversalResult{
		XPReversed:            xp,
		Character:             out.Character,
		LevelsLost:            -out.Progression.LevelsGained,
		RankChange:            out.Progression.RankChange,
		Degraded:              out.Progression.Degraded,
		StreakRestored:        out.StreakRestored,
		StreakReversalSkipped: out.StreakReversalSkipped,
	}
}

func taskSnapshot(t *models.Task) datatypes.JSONMap {
	return datatypes.JSONMap{
		"id":          t.ID,
		"title":       t.Title,
		"description": t.Description,
		"difficulty":  t.Difficulty,
		"xp_reward":   t.XPReward,
	}
}

func habitSnapshot(h *models.Habit) datatypes.JSONMap {
	return datatypes.JSONMap{
		"id":             h.ID,
		"title":          h.Title,
		"description":    h.Description,
		"xp_reward":      h.XPReward,
		"current_streak": h.CurrentStreak,
	}
}
