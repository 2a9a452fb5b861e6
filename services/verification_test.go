package services

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quest-progress-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var proofPNG = []byte("\x89PNG fake proof")

// verifierServer answers every request with handler and records what it saw.
func verifierServer(t *testing.T, handler http.HandlerFunc) (*AIVerifierClient, func() []aiRequestBody) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []aiRequestBody
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body aiRequestBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		seen = append(seen, body)
		mu.Unlock()
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	requests := func() []aiRequestBody {
		mu.Lock()
		defer mu.Unlock()
		return append([]aiRequestBody(nil), seen...)
	}
	return NewAIVerifierClient(srv.URL, "test-key", 5*time.Second), requests
}

func jsonVerdict(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

type challengeFixture struct {
	challenge *models.GroupChallenge
	task      *models.ChallengeTask
	part      *models.ChallengeParticipant
}

func setupChallenge(t *testing.T, e *Engine, goal models.GoalType, target int64, in NewChallengeTaskInput) challengeFixture {
	t.Helper()
	ch := mustChallenge(t, e, "creator", goal, target)
	if in.Title == "" {
		in.Title = "Run 5k"
	}
	if in.XPReward == 0 {
		in.XPReward = 40
	}
	task, err := e.Challenges.AddChallengeTask("creator", false, ch.ID, in)
	require.NoError(t, err)
	part := mustJoin(t, e, "u1", ch.ID)
	return challengeFixture{challenge: ch, task: task, part: part}
}

func TestSubmit_NoProofTaskIsApprovedAndCredited(t *testing.T) {
	e, _ := newTestEngine(t, EngineDeps{})
	fx := setupChallenge(t, e, models.GoalTypeTaskCount, 5, NewChallengeTaskInput{Points: 15})

	c, err := e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{})
	require.NoError(t, err)
	assert.Equal(t, models.CompletionStatusApproved, c.Status)
	assert.Equal(t, 1, c.CompletionNumber)
	assert.NotNil(t, c.CreditedAt)
	require.NotNil(t, c.ActivityDate)
	assert.Equal(t, "2025-03-10", *c.ActivityDate)
	assert.Equal(t, "Run 5k", c.TaskSnapshot["title"])

	p := reloadParticipant(t, e, fx.part.ID)
	assert.Equal(t, int64(1), p.CurrentProgress)
	assert.Equal(t, int64(15), p.TotalPoints)
	assert.Equal(t, int64(40), p.TotalXPEarned)
	assert.Equal(t, 1, p.Rank)
	assert.Equal(t, 1, p.StreakDays)

	char := reloadCharacter(t, e, "u1")
	assert.Equal(t, int64(40), char.TotalXP)
	assert.Equal(t, int64(1), char.ChallengeTasksCompleted)
	assert.Equal(t, int64(1), countIntents(t, e, "u1", models.NotifyVerificationResult))

	// non-repeatable
	_, err = e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{})
	assert.ErrorIs(t, err, ErrMaxCompletions)
}

func TestSubmit_RepeatableRespectsMaxCompletions(t *testing.T) {
	e, _ := newTestEngine(t, EngineDeps{})
	fx := setupChallenge(t, e, models.GoalTypeTotalXP, 1000, NewChallengeTaskInput{IsRepeatable: true, MaxCompletions: 2})

	for i := 1; i <= 2; i++ {
		c, err := e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{})
		require.NoError(t, err)
		assert.Equal(t, i, c.CompletionNumber)
	}
	_, err := e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{})
	assert.ErrorIs(t, err, ErrMaxCompletions)

	p := reloadParticipant(t, e, fx.part.ID)
	assert.Equal(t, int64(80), p.CurrentProgress, "total_xp goal counts earned XP")
}

func TestSubmit_Preconditions(t *testing.T) {
	e, _ := newTestEngine(t, EngineDeps{})
	fx := setupChallenge(t, e, models.GoalTypeTaskCount, 5, NewChallengeTaskInput{
		RequiresProof: true, VerificationType: "manual",
	})

	_, err := e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{})
	assert.ErrorIs(t, err, ErrProofRequired)

	_, err = e.Verification.SubmitChallengeTask(ctxBG, "stranger", fx.task.ID, SubmitProof{Text: "done"})
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = e.Verification.SubmitChallengeTask(ctxBG, "u1", "missing", SubmitProof{Text: "done"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Challenges.LeaveChallenge("u1", fx.challenge.ID)
	require.NoError(t, err)
	_, err = e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{Text: "done"})
	assert.ErrorIs(t, err, ErrParticipantInactive)
}

func TestAddChallengeTask_Validation(t *testing.T) {
	e, _ := newTestEngine(t, EngineDeps{})
	ch := mustChallenge(t, e, "creator", models.GoalTypeTaskCount, 3)

	_, err := e.Challenges.AddChallengeTask("creator", false, ch.ID, NewChallengeTaskInput{
		Title: "x", XPReward: 10, RequiresProof: true, VerificationType: "blockchain",
	})
	assert.ErrorIs(t, err, ErrUnknownVerificationType)

	_, err = e.Challenges.AddChallengeTask("creator", false, ch.ID, NewChallengeTaskInput{
		Title: "x", XPReward: 10, RequiresProof: true,
	})
	assert.ErrorIs(t, err, ErrUnknownVerificationType)

	_, err = e.Challenges.AddChallengeTask("creator", false, ch.ID, NewChallengeTaskInput{
		Title: "x", XPReward: 10, IsRepeatable: true,
	})
	assert.ErrorIs(t, err, ErrInvalidMaxCompletions)

	_, err = e.Challenges.AddChallengeTask("someone", false, ch.ID, NewChallengeTaskInput{Title: "x", XPReward: 10})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = e.Challenges.AddChallengeTask("someone", true, ch.ID, NewChallengeTaskInput{Title: "x", XPReward: 10})
	assert.NoError(t, err)
}

func TestManualReview_ApproveOnce(t *testing.T) {
	e, _ := newTestEngine(t, EngineDeps{})
	fx := setupChallenge(t, e, models.GoalTypeTaskCount, 5, NewChallengeTaskInput{
		RequiresProof: true, VerificationType: "manual", Points: 10,
	})

	c, err := e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{Text: "ran it"})
	require.NoError(t, err)
	assert.Equal(t, models.CompletionStatusPending, c.Status)
	assert.Nil(t, c.CreditedAt)

	pending, err := e.Verification.PendingReviews(fx.challenge.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// a second submission waits for the first
	_, err = e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{Text: "again"})
	assert.ErrorIs(t, err, ErrVerificationPending)

	_, err = e.Verification.ApproveCompletion(ctxBG, Reviewer{UserID: "u1"}, c.ID, "")
	assert.ErrorIs(t, err, ErrForbidden)

	approved, err := e.Verification.ApproveCompletion(ctxBG, Reviewer{UserID: "creator"}, c.ID, "looks good")
	require.NoError(t, err)
	assert.Equal(t, models.CompletionStatusApproved, approved.Status)
	require.NotNil(t, approved.VerifiedBy)
	assert.Equal(t, "creator", *approved.VerifiedBy)

	// terminal: neither approve nor reject moves it again, and nothing is credited twice
	_, err = e.Verification.ApproveCompletion(ctxBG, Reviewer{UserID: "creator"}, c.ID, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = e.Verification.RejectCompletion(ctxBG, Reviewer{Admin: true}, c.ID, "changed my mind", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, int64(40), reloadCharacter(t, e, "u1").TotalXP)
	p := reloadParticipant(t, e, fx.part.ID)
	assert.Equal(t, int64(1), p.CurrentProgress)
	assert.Equal(t, int64(10), p.TotalPoints)
}

func TestManualReview_RemovedParticipantIsNotCredited(t *testing.T) {
	e, _ := newTestEngine(t, EngineDeps{})
	fx := setupChallenge(t, e, models.GoalTypeTaskCount, 5, NewChallengeTaskInput{
		RequiresProof: true, VerificationType: "manual", Points: 15,
	})

	c, err := e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{Text: "ran it"})
	require.NoError(t, err)

	_, err = e.Challenges.Disqualify(Reviewer{UserID: "creator"}, fx.challenge.ID, "u1", "cheating")
	require.NoError(t, err)

	got, err := e.Verification.GetCompletion(c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompletionStatusRejected, got.Status)
	assert.Equal(t, "participant no longer active", got.RejectionReason)
	assert.Nil(t, got.CreditedAt)

	_, err = e.Verification.ApproveCompletion(ctxBG, Reviewer{UserID: "creator"}, c.ID, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	p := reloadParticipant(t, e, fx.part.ID)
	assert.Equal(t, models.ParticipantStatusDisqualified, p.Status)
	assert.Equal(t, int64(0), p.CurrentProgress)
	assert.Equal(t, int64(0), p.TotalPoints)
	assert.Equal(t, int64(0), mustCharacter(t, e, "u1").TotalXP)
	assert.Equal(t, int64(1), countActivity(t, e, "u1", models.ActivityChallengeTaskRejected))
}

func TestManualReview_ApproveForInactiveParticipantRejects(t *testing.T) {
	e, _ := newTestEngine(t, EngineDeps{})
	fx := setupChallenge(t, e, models.GoalTypeTaskCount, 5, NewChallengeTaskInput{
		RequiresProof: true, VerificationType: "manual", Points: 15,
	})

	c, err := e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{Text: "ran it"})
	require.NoError(t, err)

	// the participant row changed without going through removal
	require.NoError(t, e.DB.Model(&models.ChallengeParticipant{}).
		Where("id = ?", fx.part.ID).
		UpdateColumn("status", models.ParticipantStatusDroppedOut).Error)

	_, err = e.Verification.ApproveCompletion(ctxBG, Reviewer{UserID: "creator"}, c.ID, "looks good")
	assert.ErrorIs(t, err, ErrParticipantInactive)

	got, err := e.Verification.GetCompletion(c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompletionStatusRejected, got.Status)
	assert.Equal(t, "participant no longer active", got.RejectionReason)
	assert.Nil(t, got.CreditedAt)

	p := reloadParticipant(t, e, fx.part.ID)
	assert.Equal(t, int64(0), p.CurrentProgress)
	assert.Equal(t, int64(0), p.TotalPoints)
	assert.Equal(t, int64(0), mustCharacter(t, e, "u1").TotalXP)
	assert.Equal(t, int64(1), countIntents(t, e, "u1", models.NotifyVerificationResult))
}

func TestManualReview_RejectThenResubmit(t *testing.T) {
	e, _ := newTestEngine(t, EngineDeps{})
	fx := setupChallenge(t, e, models.GoalTypeTaskCount, 5, NewChallengeTaskInput{
		RequiresProof: true, VerificationType: "manual",
	})

	c, err := e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{Text: "blurry"})
	require.NoError(t, err)

	rejected, err := e.Verification.RejectCompletion(ctxBG, Reviewer{Admin: true}, c.ID, "", "")
	require.NoError(t, err)
	assert.Equal(t, models.CompletionStatusRejected, rejected.Status)
	assert.Equal(t, "rejected by reviewer", rejected.RejectionReason)
	assert.Nil(t, rejected.CreditedAt)
	assert.Equal(t, int64(0), reloadCharacter(t, e, "u1").TotalXP)

	again, err := e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{Text: "clear"})
	require.NoError(t, err)
	assert.Equal(t, 2, again.CompletionNumber)
	assert.Equal(t, models.CompletionStatusPending, again.Status)
}

func TestAIVerification_Approved(t *testing.T) {
	client, seen := verifierServer(t, jsonVerdict(http.StatusOK, `{"approved":true,"reason":"shows a finished run","confidence":0.92}`))
	e, _ := newTestEngine(t, EngineDeps{Verifier: client, Fetcher: fakeFetcher{data: proofPNG}})
	fx := setupChallenge(t, e, models.GoalTypeTaskCount, 1, NewChallengeTaskInput{
		Description: "Upload your tracker screenshot", RequiresProof: true, VerificationType: "ai",
	})

	c, err := e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{ImageKey: "proofs/u1.png"})
	require.NoError(t, err)
	assert.Equal(t, models.CompletionStatusApproved, c.Status)
	assert.Equal(t, "shows a finished run", c.VerificationNotes)
	assert.Equal(t, json.Number("0.92"), c.AIAnalysis["confidence"])

	reqs := seen()
	require.Len(t, reqs, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString(proofPNG), reqs[0].Image)
	assert.Equal(t, "Run 5k: Upload your tracker screenshot", reqs[0].TaskDescription)

	// goal of one task reached
	p := reloadParticipant(t, e, fx.part.ID)
	assert.Equal(t, models.ParticipantStatusCompleted, p.Status)
	assert.NotNil(t, p.CompletedAt)
	assert.Equal(t, int64(1), reloadCharacter(t, e, "u1").ChallengesCompleted)
	assert.Equal(t, int64(1), countIntents(t, e, "u1", models.NotifyChallengeCompleted))
	assert.Equal(t, int64(1), countActivity(t, e, "u1", models.ActivityChallengeCompleted))
}

func TestAIVerification_ParticipantRemovedDuringCall(t *testing.T) {
	var e *Engine
	var partID string
	client, _ := verifierServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, e.DB.Model(&models.ChallengeParticipant{}).
			Where("id = ?", partID).
			UpdateColumn("status", models.ParticipantStatusDisqualified).Error)
		jsonVerdict(http.StatusOK, `{"approved":true,"reason":"looks real"}`)(w, r)
	})
	e, _ = newTestEngine(t, EngineDeps{Verifier: client, Fetcher: fakeFetcher{data: proofPNG}})
	fx := setupChallenge(t, e, models.GoalTypeTaskCount, 3, NewChallengeTaskInput{RequiresProof: true, VerificationType: "ai"})
	partID = fx.part.ID

	c, err := e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{ImageKey: "proofs/u1.png"})
	require.NoError(t, err)
	assert.Equal(t, models.CompletionStatusRejected, c.Status)
	assert.Equal(t, "participant no longer active", c.RejectionReason)
	assert.Nil(t, c.CreditedAt)
	assert.Equal(t, int64(0), reloadParticipant(t, e, fx.part.ID).CurrentProgress)
	assert.Equal(t, int64(0), mustCharacter(t, e, "u1").TotalXP)
}

func TestAIVerification_CapReachedDuringCallRejects(t *testing.T) {
	var e *Engine
	var fx challengeFixture
	client, _ := verifierServer(t, func(w http.ResponseWriter, r *http.Request) {
		// another attempt got approved while the verifier was thinking
		assert.NoError(t, e.DB.Create(&models.ChallengeTaskCompletion{
			ChallengeID:      fx.challenge.ID,
			ChallengeTaskID:  fx.task.ID,
			ParticipantID:    fx.part.ID,
			CompletionNumber: 2,
			UserID:           "u1",
			Status:           models.CompletionStatusApproved,
			VerificationType: models.VerificationTypeNone,
			SubmittedAt:      time.Now(),
		}).Error)
		jsonVerdict(http.StatusOK, `{"approved":true,"reason":"looks real"}`)(w, r)
	})
	e, _ = newTestEngine(t, EngineDeps{Verifier: client, Fetcher: fakeFetcher{data: proofPNG}})
	fx = setupChallenge(t, e, models.GoalTypeTaskCount, 3, NewChallengeTaskInput{RequiresProof: true, VerificationType: "ai"})

	c, err := e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{ImageKey: "proofs/u1.png"})
	require.NoError(t, err)
	assert.Equal(t, models.CompletionStatusRejected, c.Status)
	assert.Equal(t, ErrMaxCompletions.Error(), c.RejectionReason)
	assert.Nil(t, c.CreditedAt)
	assert.Equal(t, int64(0), mustCharacter(t, e, "u1").TotalXP)
}

func TestAIVerification_RejectedVerdict(t *testing.T) {
	client, _ := verifierServer(t, jsonVerdict(http.StatusOK, `{"approved":false,"reason":"image is a stock photo"}`))
	e, _ := newTestEngine(t, EngineDeps{Verifier: client, Fetcher: fakeFetcher{data: proofPNG}})
	fx := setupChallenge(t, e, models.GoalTypeTaskCount, 3, NewChallengeTaskInput{RequiresProof: true, VerificationType: "ai"})

	c, err := e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{ImageKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, models.CompletionStatusRejected, c.Status)
	assert.Equal(t, "image is a stock photo", c.RejectionReason)
	assert.Equal(t, int64(0), reloadParticipant(t, e, fx.part.ID).CurrentProgress)
}

func TestAIVerification_FailuresAreRetryable(t *testing.T) {
	cases := map[string]struct {
		handler http.HandlerFunc
		fetcher ProofFetcher
		nilAI   bool
	}{
		"server error":        {handler: jsonVerdict(http.StatusBadGateway, `upstream down`)},
		"missing approved":    {handler: jsonVerdict(http.StatusOK, `{"reason":"ok"}`)},
		"confidence too high": {handler: jsonVerdict(http.StatusOK, `{"approved":true,"confidence":1.5}`)},
		"not json":            {handler: jsonVerdict(http.StatusOK, `<html>`)},
		"fetch error":         {handler: jsonVerdict(http.StatusOK, `{"approved":true}`), fetcher: fakeFetcher{err: errors.New("bucket gone")}},
		"not configured":      {nilAI: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			deps := EngineDeps{Fetcher: tc.fetcher}
			if deps.Fetcher == nil {
				deps.Fetcher = fakeFetcher{data: proofPNG}
			}
			if !tc.nilAI {
				client, _ := verifierServer(t, tc.handler)
				deps.Verifier = client
			}
			e, _ := newTestEngine(t, deps)
			fx := setupChallenge(t, e, models.GoalTypeTaskCount, 3, NewChallengeTaskInput{RequiresProof: true, VerificationType: "ai"})

			c, err := e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{ImageKey: "k"})
			require.NoError(t, err)
			assert.Equal(t, models.CompletionStatusFailed, c.Status)
			assert.Contains(t, c.RejectionReason, "please resubmit")
			assert.Equal(t, int64(0), reloadCharacter(t, e, "u1").TotalXP)
		})
	}
}

func TestAIVerification_TimeoutFailsThenResubmitSucceeds(t *testing.T) {
	var slow atomic.Bool
	slow.Store(true)
	client, _ := verifierServer(t, func(w http.ResponseWriter, r *http.Request) {
		if slow.Load() {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(3 * time.Second):
			}
		}
		jsonVerdict(http.StatusOK, `{"approved":true,"reason":"ok"}`)(w, r)
	})
	e, _ := newTestEngine(t, EngineDeps{
		Verifier:  client,
		Fetcher:   fakeFetcher{data: proofPNG},
		AITimeout: 100 * time.Millisecond,
	})
	fx := setupChallenge(t, e, models.GoalTypeTaskCount, 3, NewChallengeTaskInput{RequiresProof: true, VerificationType: "ai", Points: 7})

	first, err := e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{ImageKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, models.CompletionStatusFailed, first.Status)
	assert.Contains(t, first.RejectionReason, ErrVerifierUnreachable.Error())
	assert.Equal(t, int64(0), reloadParticipant(t, e, fx.part.ID).TotalPoints)

	slow.Store(false)
	second, err := e.Verification.SubmitChallengeTask(ctxBG, "u1", fx.task.ID, SubmitProof{ImageKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.CompletionNumber)
	assert.Equal(t, models.CompletionStatusApproved, second.Status)
	assert.Equal(t, int64(7), reloadParticipant(t, e, fx.part.ID).TotalPoints)
}

func TestFailStaleAIVerifications(t *testing.T) {
	e, clock := newTestEngine(t, EngineDeps{})
	fx := setupChallenge(t, e, models.GoalTypeTaskCount, 3, NewChallengeTaskInput{RequiresProof: true, VerificationType: "ai"})

	// a pending AI completion left behind by a crash
	stuck := models.ChallengeTaskCompletion{
		ChallengeID:      fx.challenge.ID,
		ChallengeTaskID:  fx.task.ID,
		ParticipantID:    fx.part.ID,
		CompletionNumber: 1,
		UserID:           "u1",
		Status:           models.CompletionStatusPending,
		VerificationType: models.VerificationTypeAI,
		XPEarned:         40,
		SubmittedAt:      clock.Now(),
	}
	require.NoError(t, e.DB.Create(&stuck).Error)

	n, err := e.Verification.FailStaleAIVerifications(10 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(15 * time.Minute)
	n, err = e.Verification.FailStaleAIVerifications(10 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.Verification.GetCompletion(stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompletionStatusFailed, got.Status)
}

func TestCanTransition(t *testing.T) {
	all := []models.CompletionStatus{
		models.CompletionStatusPending, models.CompletionStatusApproved,
		models.CompletionStatusRejected, models.CompletionStatusFailed,
	}
	for _, from := range all {
		for _, to := range all {
			want := from == models.CompletionStatusPending && to != models.CompletionStatusPending
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestOutcomeFromAI(t *testing.T) {
	assert.Equal(t, models.CompletionStatusFailed, OutcomeFromAI(nil, nil).Status)
	assert.Equal(t, models.CompletionStatusFailed, OutcomeFromAI(nil, ErrVerifierUnreachable).Status)

	rej := OutcomeFromAI(&AIVerdict{Approved: false}, nil)
	assert.Equal(t, models.CompletionStatusRejected, rej.Status)
	assert.NotEmpty(t, rej.Reason)

	conf := 0.5
	ok := OutcomeFromAI(&AIVerdict{Approved: true, Reason: "fine", Confidence: &conf}, nil)
	assert.Equal(t, models.CompletionStatusApproved, ok.Status)
	assert.Equal(t, 0.5, ok.Analysis["confidence"])
}
