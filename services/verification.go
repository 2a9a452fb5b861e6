package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quest-progress-engine/models"
	"quest-progress-engine/utils"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// route is how a fresh submission gets resolved
type route int

const (
	routeAutoApprove route = iota
	routeManual
	routeAI
)

func routeFor(task *models.ChallengeTask) (route, error) {
	if !task.RequiresProof {
		return routeAutoApprove, nil
	}
	switch task.VerificationType {
	case models.VerificationTypeManual:
		return routeManual, nil
	case models.VerificationTypeAI:
		return routeAI, nil
	case models.VerificationTypeNone:
		return 0, fmt.Errorf("%w: task requires proof but has no verifier", ErrUnknownVerificationType)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownVerificationType, task.VerificationType)
	}
}

// CanTransition: pending → approved | rejected | failed, nothing else.
func CanTransition(from, to models.CompletionStatus) bool {
	return from == models.CompletionStatusPending && to.Terminal()
}

// AIOutcome is the status an AI call resolves a completion to
type AIOutcome struct {
	Status   models.CompletionStatus
	Reason   string
	Analysis datatypes.JSONMap
}

// OutcomeFromAI maps the collaborator's answer. Any error, whatever its kind, is failed;
// only a well-formed verdict can approve or reject.
func OutcomeFromAI(v *AIVerdict, err error) AIOutcome {
	if err == nil && v == nil {
		err = ErrVerifierMalformed
	}
	if err != nil {
		return AIOutcome{
			Status:   models.CompletionStatusFailed,
			Reason:   "verification unavailable, please resubmit: " + err.Error(),
			Analysis: datatypes.JSONMap{"error": err.Error()},
		}
	}
	analysis := datatypes.JSONMap{"approved": v.Approved, "reason": v.Reason}
	if v.Confidence != nil {
		analysis["confidence"] = *v.Confidence
	}
	if v.Approved {
		return AIOutcome{Status: models.CompletionStatusApproved, Reason: v.Reason, Analysis: analysis}
	}
	reason := v.Reason
	if strings.TrimSpace(reason) == "" {
		reason = "proof does not show the task being completed"
	}
	return AIOutcome{Status: models.CompletionStatusRejected, Reason: reason, Analysis: analysis}
}

// SubmitProof is what the participant attaches to a submission
type SubmitProof struct {
	Text     string
	ImageURL string
	ImageKey string
}

func (p SubmitProof) empty() bool {
	return strings.TrimSpace(p.Text) == "" && p.ImageURL == "" && p.ImageKey == ""
}

// Reviewer is the caller of a manual approve/reject
type Reviewer struct {
	UserID string
	Admin  bool
}

type VerificationWorkflow struct {
	DB            *gorm.DB
	Opts          EngineOptions
	Characters    *CharacterService
	Aggregator    *ChallengeProgressAggregator
	Leaderboard   *LeaderboardService
	Activity      *ActivityRecorder
	Notifications *NotificationService
	Verifier      ProofVerifier
	Fetcher       ProofFetcher
	AITimeout     time.Duration
}

// SubmitChallengeTask creates a pending completion and resolves it as far as it can:
// no-proof tasks are approved in the same transaction, AI tasks are judged right after
// commit, manual tasks wait for a reviewer.
func (w *VerificationWorkflow) SubmitChallengeTask(ctx context.Context, userID, challengeTaskID string, proof SubmitProof) (*models.ChallengeTaskCompletion, error) {
	var completion models.ChallengeTaskCompletion
	var task models.ChallengeTask
	var how route

	err := w.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", challengeTaskID).First(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		var ch models.GroupChallenge
		if err := tx.Where("id = ?", task.ChallengeID).First(&ch).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: challenge %s for task %s", ErrIntegrity, task.ChallengeID, task.ID)
			}
			return err
		}
		now := w.Opts.now()
		if ch.Status != models.ChallengeStatusActive || now.Before(ch.StartDate) || now.After(ch.EndDate) {
			return ErrChallengeNotActive
		}

		var part models.ChallengeParticipant
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("challenge_id = ? AND user_id = ?", ch.ID, userID).
			First(&part).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotParticipant
			}
			return err
		}
		if !part.Status.Ranked() {
			return ErrParticipantInactive
		}

		var err error
		if how, err = routeFor(&task); err != nil {
			return err
		}
		if task.RequiresProof && proof.empty() {
			return ErrProofRequired
		}

		var pending int64
		if err := tx.Model(&models.ChallengeTaskCompletion{}).
			Where("challenge_task_id = ? AND participant_id = ? AND status = ?", task.ID, part.ID, models.CompletionStatusPending).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return ErrVerificationPending
		}
		if err := w.checkCapacity(tx, &task, part.ID, ""); err != nil {
			return err
		}

		var last int
		if err := tx.Model(&models.ChallengeTaskCompletion{}).
			Where("challenge_task_id = ? AND participant_id = ?", task.ID, part.ID).
			Select("COALESCE(MAX(completion_number), 0)").
			Scan(&last).Error; err != nil {
			return err
		}

		completion = models.ChallengeTaskCompletion{
			ChallengeID:      ch.ID,
			ChallengeTaskID:  task.ID,
			ParticipantID:    part.ID,
			CompletionNumber: last + 1,
			UserID:           userID,
			Status:           models.CompletionStatusPending,
			VerificationType: task.VerificationType,
			ProofText:        proof.Text,
			ProofImageURL:    proof.ImageURL,
			ProofImageKey:    proof.ImageKey,
			TaskSnapshot:     challengeTaskSnapshot(&task),
			XPEarned:         task.XPReward,
			PointsEarned:     task.Points,
			SubmittedAt:      now,
		}
		if !task.RequiresProof {
			completion.VerificationType = models.VerificationTypeNone
		}
		if err := tx.Create(&completion).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyCompleted
			}
			return fmt.Errorf("create completion: %w", err)
		}

		if _, err := w.Activity.Record(tx, ActivityEntry{
			UserID:       userID,
			Type:         models.ActivityChallengeTaskSubmitted,
			Description:  fmt.Sprintf("Submitted %s (attempt %d)", task.Title, completion.CompletionNumber),
			ChallengeID:  &ch.ID,
			CompletionID: &completion.ID,
			Metadata: map[string]any{
				"completion_number": completion.CompletionNumber,
				"verification_type": string(completion.VerificationType),
			},
		}); err != nil {
			return err
		}

		if how == routeAutoApprove {
			return w.approveAndCredit(tx, &completion, &task, nil, "auto-approved: no proof required", nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch how {
	case routeAutoApprove:
		w.Leaderboard.InvalidateGlobal(ctx)
	case routeAI:
		if err := w.runAI(ctx, &completion, &task); err != nil {
			return nil, err
		}
	}

	utils.Logger.Info("challenge task submitted",
		zap.String("user_id", userID),
		zap.String("completion_id", completion.ID),
		zap.Int("completion_number", completion.CompletionNumber))
	return w.GetCompletion(completion.ID)
}

// runAI calls the verifier outside any transaction, then resolves the completion in a
// second one guarded on status = pending.
func (w *VerificationWorkflow) runAI(ctx context.Context, c *models.ChallengeTaskCompletion, task *models.ChallengeTask) error {
	verdict, callErr := w.callVerifier(ctx, c, task)
	outcome := OutcomeFromAI(verdict, callErr)
	if callErr != nil {
		utils.Logger.Warn("ai verification failed",
			zap.String("completion_id", c.ID), zap.Error(callErr))
	}

	err := w.DB.Transaction(func(tx *gorm.DB) error {
		switch outcome.Status {
		case models.CompletionStatusApproved:
			err := w.approveAndCredit(tx, c, task, strRef("ai"), outcome.Reason, outcome.Analysis)
			switch {
			case errors.Is(err, ErrMaxCompletions):
				return w.resolveNegative(tx, c, models.CompletionStatusRejected, strRef("ai"), err.Error(), "", outcome.Analysis)
			case errors.Is(err, errParticipantGone):
				return w.resolveNegative(tx, c, models.CompletionStatusRejected, strRef("ai"), reasonParticipantGone, "", outcome.Analysis)
			}
			return err
		case models.CompletionStatusRejected, models.CompletionStatusFailed:
			return w.resolveNegative(tx, c, outcome.Status, strRef("ai"), outcome.Reason, "", outcome.Analysis)
		default:
			return fmt.Errorf("unexpected ai outcome %q", outcome.Status)
		}
	})
	if errors.Is(err, ErrInvalidTransition) {
		// someone else resolved it first
		return nil
	}
	if err == nil && c.Status == models.CompletionStatusApproved {
		w.Leaderboard.InvalidateGlobal(ctx)
	}
	return err
}

func (w *VerificationWorkflow) callVerifier(ctx context.Context, c *models.ChallengeTaskCompletion, task *models.ChallengeTask) (*AIVerdict, error) {
	if w.Verifier == nil {
		return nil, ErrVerifierNotConfigured
	}
	timeout := w.AITimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.ProofImageKey == "" && c.ProofImageURL == "" {
		return nil, ErrNoProofImage
	}
	if w.Fetcher == nil {
		return nil, fmt.Errorf("%w: no proof store", ErrVerifierNotConfigured)
	}
	image, err := w.Fetcher.FetchProof(callCtx, c.ProofImageKey, c.ProofImageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch proof image: %w", err)
	}

	description := task.Title
	if task.Description != "" {
		description = task.Title + ": " + task.Description
	}
	verdict, err := w.Verifier.Verify(callCtx, VerificationRequest{Image: image, TaskDescription: description})
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: timed out after %s", ErrVerifierUnreachable, timeout)
	}
	return verdict, err
}

// ApproveCompletion is the manual reviewer's approve.
func (w *VerificationWorkflow) ApproveCompletion(ctx context.Context, reviewer Reviewer, completionID, notes string) (*models.ChallengeTaskCompletion, error) {
	voided := false
	err := w.DB.Transaction(func(tx *gorm.DB) error {
		c, task, err := w.loadForReview(tx, reviewer, completionID)
		if err != nil {
			return err
		}
		err = w.approveAndCredit(tx, c, task, &reviewer.UserID, notes, nil)
		if errors.Is(err, errParticipantGone) {
			voided = true
			return w.resolveNegative(tx, c, models.CompletionStatusRejected, &reviewer.UserID, reasonParticipantGone, notes, nil)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if voided {
		return nil, ErrParticipantInactive
	}
	w.Leaderboard.InvalidateGlobal(ctx)
	return w.GetCompletion(completionID)
}

// RejectCompletion is the manual reviewer's reject; nothing is credited.
func (w *VerificationWorkflow) RejectCompletion(ctx context.Context, reviewer Reviewer, completionID, reason, notes string) (*models.ChallengeTaskCompletion, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "rejected by reviewer"
	}
	err := w.DB.Transaction(func(tx *gorm.DB) error {
		c, _, err := w.loadForReview(tx, reviewer, completionID)
		if err != nil {
			return err
		}
		return w.resolveNegative(tx, c, models.CompletionStatusRejected, &reviewer.UserID, reason, notes, nil)
	})
	if err != nil {
		return nil, err
	}
	return w.GetCompletion(completionID)
}

func (w *VerificationWorkflow) loadForReview(tx *gorm.DB, reviewer Reviewer, completionID string) (*models.ChallengeTaskCompletion, *models.ChallengeTask, error) {
	var c models.ChallengeTaskCompletion
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", completionID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	var ch models.GroupChallenge
	if err := tx.Where("id = ?", c.ChallengeID).First(&ch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: challenge %s", ErrIntegrity, c.ChallengeID)
		}
		return nil, nil, err
	}
	if !reviewer.Admin && ch.CreatorID != reviewer.UserID {
		return nil, nil, ErrForbidden
	}
	if c.Status != models.CompletionStatusPending {
		return nil, nil, ErrInvalidTransition
	}
	if c.VerificationType != models.VerificationTypeManual {
		return nil, nil, ErrNotManualReview
	}
	var task models.ChallengeTask
	if err := tx.Where("id = ?", c.ChallengeTaskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: challenge task %s", ErrIntegrity, c.ChallengeTaskID)
		}
		return nil, nil, err
	}
	return &c, &task, nil
}

// checkCapacity enforces maxCompletions over approved attempts, excluding excludeID.
func (w *VerificationWorkflow) checkCapacity(tx *gorm.DB, task *models.ChallengeTask, participantID, excludeID string) error {
	q := tx.Model(&models.ChallengeTaskCompletion{}).
		Where("challenge_task_id = ? AND participant_id = ? AND status = ?", task.ID, participantID, models.CompletionStatusApproved)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	var approved int64
	if err := q.Count(&approved).Error; err != nil {
		return err
	}
	if approved >= int64(maxCompletionsFor(task)) {
		return ErrMaxCompletions
	}
	return nil
}

// approveAndCredit moves a pending completion to approved and credits it exactly once:
// the status update is guarded on pending, so a second caller sees RowsAffected == 0.
func (w *VerificationWorkflow) approveAndCredit(tx *gorm.DB, c *models.ChallengeTaskCompletion, task *models.ChallengeTask, verifiedBy *string, notes string, analysis datatypes.JSONMap) error {
	var part models.ChallengeParticipant
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", c.ParticipantID).First(&part).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errParticipantGone
		}
		return err
	}
	if !part.Status.Ranked() {
		return errParticipantGone
	}
	if err := w.checkCapacity(tx, task, c.ParticipantID, c.ID); err != nil {
		return err
	}

	now := w.Opts.now()
	day := w.Opts.today()
	updates := map[string]interface{}{
		"status":             models.CompletionStatusApproved,
		"verified_by":        verifiedBy,
		"verified_at":        &now,
		"verification_notes": notes,
		"credited_at":        &now,
		"activity_date":      &day,
	}
	if analysis != nil {
		updates["ai_analysis"] = analysis
	}
	res := tx.Model(&models.ChallengeTaskCompletion{}).
		Where("id = ? AND status = ?", c.ID, models.CompletionStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrInvalidTransition
	}

	agg, err := w.Aggregator.Credit(tx, c.ParticipantID, c.XPEarned, c.PointsEarned, day)
	if err != nil {
		return err
	}
	if _, err := w.Characters.credit(tx, creditRequest{
		UserID:       c.UserID,
		XP:           c.XPEarned,
		Day:          day,
		Counter:      counterChallengeTasks,
		Activity:     models.ActivityChallengeTaskApproved,
		Description:  fmt.Sprintf("Completed challenge task: %s", task.Title),
		ChallengeID:  &c.ChallengeID,
		CompletionID: &c.ID,
		Metadata: map[string]any{
			"completion_number": c.CompletionNumber,
			"points_earned":     c.PointsEarned,
			"progress_delta":    agg.ProgressDelta,
		},
		ChallengeCompleted: agg.JustCompleted,
	}); err != nil {
		return err
	}

	if agg.JustCompleted {
		if _, err := w.Activity.Record(tx, ActivityEntry{
			UserID:      c.UserID,
			Type:        models.ActivityChallengeCompleted,
			Description: fmt.Sprintf("Completed the challenge %s", agg.Challenge.Title),
			ChallengeID: &c.ChallengeID,
			Metadata:    map[string]any{"final_progress": agg.Participant.CurrentProgress},
		}); err != nil {
			return err
		}
		if err := w.Notifications.Enqueue(tx, c.UserID, models.NotifyChallengeCompleted,
			"Challenge complete!", fmt.Sprintf("You finished %s", agg.Challenge.Title),
			map[string]any{"challenge_id": c.ChallengeID}); err != nil {
			return err
		}
	}

	if err := w.Leaderboard.RecomputeChallengeRanks(tx, c.ChallengeID); err != nil {
		return err
	}

	c.Status = models.CompletionStatusApproved
	c.VerifiedBy = verifiedBy
	c.VerifiedAt = &now
	c.CreditedAt = &now
	c.ActivityDate = &day
	c.VerificationNotes = notes
	if analysis != nil {
		c.AIAnalysis = analysis
	}
	return w.Notifications.Enqueue(tx, c.UserID, models.NotifyVerificationResult,
		"Submission approved", fmt.Sprintf("%s was approved (+%d XP)", task.Title, c.XPEarned),
		map[string]any{"completion_id": c.ID, "status": string(models.CompletionStatusApproved)})
}

// resolveNegative moves a pending completion to rejected or failed. Nothing is credited.
func (w *VerificationWorkflow) resolveNegative(tx *gorm.DB, c *models.ChallengeTaskCompletion, status models.CompletionStatus, verifiedBy *string, reason, notes string, analysis datatypes.JSONMap) error {
	if !CanTransition(models.CompletionStatusPending, status) || status == models.CompletionStatusApproved {
		return fmt.Errorf("resolve completion: %w to %s", ErrInvalidTransition, status)
	}
	now := w.Opts.now()
	updates := map[string]interface{}{
		"status":             status,
		"verified_by":        verifiedBy,
		"verified_at":        &now,
		"verification_notes": notes,
		"rejection_reason":   reason,
	}
	if analysis != nil {
		updates["ai_analysis"] = analysis
	}
	res := tx.Model(&models.ChallengeTaskCompletion{}).
		Where("id = ? AND status = ?", c.ID, models.CompletionStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrInvalidTransition
	}

	activity := models.ActivityChallengeTaskRejected
	title := "Submission rejected"
	if status == models.CompletionStatusFailed {
		activity = models.ActivityChallengeTaskFailed
		title = "Verification failed"
	}
	if _, err := w.Activity.Record(tx, ActivityEntry{
		UserID:       c.UserID,
		Type:         activity,
		Description:  reason,
		ChallengeID:  &c.ChallengeID,
		CompletionID: &c.ID,
		Metadata: map[string]any{
			"completion_number": c.CompletionNumber,
			"retryable":         status == models.CompletionStatusFailed,
		},
	}); err != nil {
		return err
	}

	c.Status = status
	c.RejectionReason = reason
	return w.Notifications.Enqueue(tx, c.UserID, models.NotifyVerificationResult, title, reason,
		map[string]any{"completion_id": c.ID, "status": string(status)})
}

// FailStaleAIVerifications fails AI completions stuck in pending, e.g. after a crash
// between submission and verdict. They become retryable like any other failure.
func (w *VerificationWorkflow) FailStaleAIVerifications(olderThan time.Duration) (int, error) {
	cutoff := w.Opts.now().Add(-olderThan)
	var stale []models.ChallengeTaskCompletion
	if err := w.DB.Where("status = ? AND verification_type = ? AND submitted_at < ?",
		models.CompletionStatusPending, models.VerificationTypeAI, cutoff).
		Find(&stale).Error; err != nil {
		return 0, err
	}
	failed := 0
	for i := range stale {
		c := stale[i]
		err := w.DB.Transaction(func(tx *gorm.DB) error {
			return w.resolveNegative(tx, &c, models.CompletionStatusFailed, strRef("ai"),
				"verification interrupted, please resubmit", "", nil)
		})
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			utils.Logger.Error("fail stale verification", zap.String("completion_id", c.ID), zap.Error(err))
			continue
		}
		if err == nil {
			failed++
		}
	}
	return failed, nil
}

func (w *VerificationWorkflow) GetCompletion(id string) (*models.ChallengeTaskCompletion, error) {
	var c models.ChallengeTaskCompletion
	if err := w.DB.Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// PendingReviews lists manual submissions awaiting a reviewer, oldest first
func (w *VerificationWorkflow) PendingReviews(challengeID string) ([]models.ChallengeTaskCompletion, error) {
	var list []models.ChallengeTaskCompletion
	err := w.DB.Where("challenge_id = ? AND status = ? AND verification_type = ?",
		challengeID, models.CompletionStatusPending, models.VerificationTypeManual).
		Order("submitted_at ASC").
		Find(&list).Error
	return list, err
}

func maxCompletionsFor(task *models.ChallengeTask) int {
	if !task.IsRepeatable || task.MaxCompletions < 1 {
		return 1
	}
	return task.MaxCompletions
}

func challengeTaskSnapshot(t *models.ChallengeTask) datatypes.JSONMap {
	return datatypes.JSONMap{
		"id":                t.ID,
		"title":             t.Title,
		"description":       t.Description,
		"xp_reward":         t.XPReward,
		"points":            t.Points,
		"requires_proof":    t.RequiresProof,
		"verification_type": string(t.VerificationType),
		"is_repeatable":     t.IsRepeatable,
		"max_completions":   t.MaxCompletions,
	}
}
