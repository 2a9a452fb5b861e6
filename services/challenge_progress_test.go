package services

import (
	"testing"
	"time"

	"quest-progress-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestProgressDelta(t *testing.T) {
	d, err := ProgressDelta(models.GoalTypeTaskCount, 75)
	require.NoError(t, err)
	assert.Equal(t, int64(1), d)

	d, err = ProgressDelta(models.GoalTypeTotalXP, 75)
	require.NoError(t, err)
	assert.Equal(t, int64(75), d)

	_, err = ProgressDelta("points", 75)
	assert.ErrorIs(t, err, ErrInvalidGoalType)
}

func TestAggregatorCredit_LedgerRowsPerDay(t *testing.T) {
	e, _ := newTestEngine(t, EngineDeps{})
	fx := setupChallenge(t, e, models.GoalTypeTaskCount, 10, NewChallengeTaskInput{IsRepeatable: true, MaxCompletions: 10})

	credit := func(day string) *AggregateResult {
		var res *AggregateResult
		require.NoError(t, e.DB.Transaction(func(tx *gorm.DB) error {
			var err error
			res, err = e.Aggregator.Credit(tx, fx.part.ID, 20, 5, day)
			return err
		}))
		return res
	}

	credit("2025-03-10")
	credit("2025-03-10")
	res := credit("2025-03-12")
	assert.Equal(t, int64(3), res.Ledger.CumulativeProgress)
	assert.Equal(t, int64(1), res.Ledger.ProgressDelta)

	history, err := e.Aggregator.History(e.DB, fx.part.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2025-03-10", history[0].ProgressDate)
	assert.Equal(t, int64(2), history[0].TasksCompleted)
	assert.Equal(t, int64(40), history[0].XPEarned)
	assert.Equal(t, int64(10), history[0].PointsEarned)
	assert.Equal(t, int64(2), history[0].CumulativeProgress)
	assert.Equal(t, int64(3), history[1].CumulativeProgress)

	// the ledger's final cumulative always matches the participant total
	p := reloadParticipant(t, e, fx.part.ID)
	assert.Equal(t, p.CurrentProgress, history[len(history)-1].CumulativeProgress)
	assert.Equal(t, 1, p.StreakDays, "a skipped day restarts the participant streak")
	assert.Equal(t, 1, p.LongestStreak)
}

func TestAggregatorCredit_CompletesOnceAndKeepsCounting(t *testing.T) {
	e, _ := newTestEngine(t, EngineDeps{})
	fx := setupChallenge(t, e, models.GoalTypeTotalXP, 50, NewChallengeTaskInput{IsRepeatable: true, MaxCompletions: 10})

	var results []*AggregateResult
	for i := 0; i < 3; i++ {
		require.NoError(t, e.DB.Transaction(func(tx *gorm.DB) error {
			res, err := e.Aggregator.Credit(tx, fx.part.ID, 30, 0, "2025-03-10")
			results = append(results, res)
			return err
		}))
	}
	assert.False(t, results[0].JustCompleted)
	assert.True(t, results[1].JustCompleted)
	assert.False(t, results[2].JustCompleted)

	p := reloadParticipant(t, e, fx.part.ID)
	assert.Equal(t, models.ParticipantStatusCompleted, p.Status)
	assert.Equal(t, int64(90), p.CurrentProgress)
}

func TestAggregatorCredit_MissingParticipantIsIntegrityError(t *testing.T) {
	e, _ := newTestEngine(t, EngineDeps{})
	err := e.DB.Transaction(func(tx *gorm.DB) error {
		_, err := e.Aggregator.Credit(tx, "nope", 10, 1, "2025-03-10")
		return err
	})
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestChallengeLifecycle(t *testing.T) {
	e, clock := newTestEngine(t, EngineDeps{})
	ch, err := e.Challenges.CreateChallenge("creator", NewChallengeInput{
		Title:           "Sprint Week!",
		GoalType:        models.GoalTypeTaskCount,
		GoalTarget:      3,
		EndDate:         testStart.Add(48 * time.Hour),
		MaxParticipants: 1,
	})
	require.NoError(t, err)
	assert.Contains(t, ch.Slug, "sprint-week-")

	mustJoin(t, e, "u1", ch.ID)
	_, err = e.Challenges.JoinChallenge("u1", ch.ID)
	assert.ErrorIs(t, err, ErrAlreadyJoined)
	_, err = e.Challenges.JoinChallenge("u2", ch.ID)
	assert.ErrorIs(t, err, ErrChallengeFull)

	_, err = e.Challenges.Disqualify(Reviewer{UserID: "u2"}, ch.ID, "u1", "cheating")
	assert.ErrorIs(t, err, ErrForbidden)
	p, err := e.Challenges.Disqualify(Reviewer{UserID: "creator"}, ch.ID, "u1", "cheating")
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantStatusDisqualified, p.Status)
	assert.Equal(t, 0, p.Rank)

	clock.Advance(72 * time.Hour)
	n, err := e.Challenges.CloseExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = e.Challenges.JoinChallenge("u3", ch.ID)
	assert.ErrorIs(t, err, ErrChallengeNotActive)

	_, err = e.Challenges.CreateChallenge("creator", NewChallengeInput{
		Title: "bad", GoalType: models.GoalTypeTaskCount, GoalTarget: 0, EndDate: testStart.Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrInvalidGoalTarget)
	_, err = e.Challenges.CreateChallenge("creator", NewChallengeInput{
		Title: "bad", GoalType: "streak", GoalTarget: 3, EndDate: testStart.Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrInvalidGoalType)
}
