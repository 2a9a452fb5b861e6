package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"quest-progress-engine/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	testStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	ctxBG     = context.Background()
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// per-test in-memory database to avoid cross-test interference
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestEngine(t *testing.T, deps EngineDeps) (*Engine, *clockwork.FakeClock) {
	t.Helper()
	db := openTestDB(t)
	clock := clockwork.NewFakeClockAt(testStart)
	e := NewEngine(db, EngineOptions{Clock: clock}, deps)
	require.NoError(t, e.Seed())
	return e, clock
}

func mustCharacter(t *testing.T, e *Engine, userID string) *models.Character {
	t.Helper()
	c, err := e.Characters.EnsureCharacter(userID)
	require.NoError(t, err)
	return c
}

func reloadCharacter(t *testing.T, e *Engine, userID string) *models.Character {
	t.Helper()
	c, err := e.Characters.GetCharacter(userID)
	require.NoError(t, err)
	return c
}

func mustTask(t *testing.T, e *Engine, userID string, xp int64) *models.Task {
	t.Helper()
	task, err := e.Completions.CreateTask(userID, NewTaskInput{Title: "Write report", XPReward: xp})
	require.NoError(t, err)
	return task
}

func mustHabit(t *testing.T, e *Engine, userID string, xp int64) *models.Habit {
	t.Helper()
	h, err := e.Completions.CreateHabit(userID, NewHabitInput{Title: "Read 20 pages", XPReward: xp})
	require.NoError(t, err)
	return h
}

func mustChallenge(t *testing.T, e *Engine, creatorID string, goal models.GoalType, target int64) *models.GroupChallenge {
	t.Helper()
	ch, err := e.Challenges.CreateChallenge(creatorID, NewChallengeInput{
		Title:      "March Madness",
		GoalType:   goal,
		GoalTarget: target,
		StartDate:  testStart.Add(-time.Hour),
		EndDate:    testStart.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	return ch
}

func mustJoin(t *testing.T, e *Engine, userID, challengeID string) *models.ChallengeParticipant {
	t.Helper()
	mustCharacter(t, e, userID)
	p, err := e.Challenges.JoinChallenge(userID, challengeID)
	require.NoError(t, err)
	return p
}

func reloadParticipant(t *testing.T, e *Engine, id string) *models.ChallengeParticipant {
	t.Helper()
	var p models.ChallengeParticipant
	require.NoError(t, e.DB.Where("id = ?", id).First(&p).Error)
	return &p
}

func countActivity(t *testing.T, e *Engine, userID string, typ models.ActivityType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.DB.Model(&models.ActivityLog{}).
		Where("user_id = ? AND activity_type = ?", userID, typ).Count(&n).Error)
	return n
}

func countIntents(t *testing.T, e *Engine, userID string, kind models.NotificationKind) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.DB.Model(&models.NotificationIntent{}).
		Where("user_id = ? AND kind = ?", userID, kind).Count(&n).Error)
	return n
}

type fakeFetcher struct {
	data []byte
	err  error
}

func (f fakeFetcher) FetchProof(_ context.Context, _, _ string) ([]byte, error) {
	return f.data, f.err
}

// testRanks gives DefaultRanks stable IDs for pure calculator tests
func testRanks() []models.Rank {
	ranks := make([]models.Rank, len(models.DefaultRanks))
	copy(ranks, models.DefaultRanks)
	for i := range ranks {
		ranks[i].ID = ranks[i].Code
	}
	return ranks
}
