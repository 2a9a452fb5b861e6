package services

import "errors"

// Validation failures, raised before anything is written.
var (
	ErrInvalidXPReward         = errors.New("xp reward out of allowed range")
	ErrInvalidPoints           = errors.New("points must not be negative")
	ErrInvalidGoalTarget       = errors.New("goal target must be positive")
	ErrInvalidGoalType         = errors.New("unknown goal type")
	ErrInvalidDateRange        = errors.New("challenge must end after it starts")
	ErrInvalidMaxCompletions   = errors.New("max completions must be at least 1")
	ErrUnknownVerificationType = errors.New("unknown verification type")
	ErrProofRequired           = errors.New("proof text or image is required")
	ErrInvalidDate             = errors.New("date must be formatted YYYY-MM-DD")
	ErrTitleRequired           = errors.New("title is required")
)

// Idempotency and state violations. Callers can show these to users.
var (
	ErrAlreadyCompleted    = errors.New("already completed")
	ErrAlreadyJoined       = errors.New("already joined this challenge")
	ErrNotCompleted        = errors.New("nothing to uncomplete")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("not allowed")
	ErrNotParticipant      = errors.New("not a participant of this challenge")
	ErrParticipantInactive = errors.New("participant is no longer active")
	ErrChallengeNotActive  = errors.New("challenge is not accepting submissions")
	ErrChallengeFull       = errors.New("challenge is full")
	ErrMaxCompletions      = errors.New("maximum completions reached for this task")
	ErrVerificationPending = errors.New("a submission for this task is still awaiting review")
	ErrInvalidTransition   = errors.New("completion is not pending")
	ErrNotManualReview     = errors.New("completion is not awaiting manual review")
)

// ErrIntegrity marks a missing referenced row. Not retryable; surfaces as a server error.
var ErrIntegrity = errors.New("data integrity violation")

// errParticipantGone stops an approval whose participant left or was disqualified while
// the completion was pending. Callers reject the completion instead of crediting it.
var errParticipantGone = errors.New("participant left before approval")

const reasonParticipantGone = "participant no longer active"
