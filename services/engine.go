package services

import (
	"time"

	"quest-progress-engine/utils"

	"gorm.io/gorm"
)

// Engine wires the progression and verification services over one database.
type Engine struct {
	DB            *gorm.DB
	Opts          EngineOptions
	Activity      *ActivityRecorder
	Notifications *NotificationService
	Badges        *BadgeService
	Characters    *CharacterService
	Leaderboard   *LeaderboardService
	Aggregator    *ChallengeProgressAggregator
	Completions   *CompletionService
	Challenges    *ChallengeService
	Verification  *VerificationWorkflow
}

type EngineDeps struct {
	Cache          utils.Cache
	LeaderboardTTL time.Duration
	Verifier       ProofVerifier
	Fetcher        ProofFetcher
	AITimeout      time.Duration
}

func NewEngine(db *gorm.DB, opts EngineOptions, deps EngineDeps) *Engine {
	opts = opts.withDefaults()

	activity := NewActivityRecorder(opts.Clock)
	notifications := NewNotificationService(db, opts.Clock)
	badges := NewBadgeService(db, opts.Clock)
	characters := NewCharacterService(db, opts, activity, notifications, badges)
	leaderboard := NewLeaderboardService(db, deps.Cache, deps.LeaderboardTTL)
	aggregator := NewChallengeProgressAggregator(opts)

	return &Engine{
		DB:            db,
		Opts:          opts,
		Activity:      activity,
		Notifications: notifications,
		Badges:        badges,
		Characters:    characters,
		Leaderboard:   leaderboard,
		Aggregator:    aggregator,
		Completions: &CompletionService{
			DB:          db,
			Opts:        opts,
			Characters:  characters,
			Leaderboard: leaderboard,
		},
		Challenges: &ChallengeService{
			DB:          db,
			Opts:        opts,
			Activity:    activity,
			Aggregator:  aggregator,
			Leaderboard: leaderboard,
		},
		Verification: &VerificationWorkflow{
			DB:            db,
			Opts:          opts,
			Characters:    characters,
			Aggregator:    aggregator,
			Leaderboard:   leaderboard,
			Activity:      activity,
			Notifications: notifications,
			Verifier:      deps.Verifier,
			Fetcher:       deps.Fetcher,
			AITimeout:     deps.AITimeout,
		},
	}
}

// Seed loads the rank ladder and badge catalogue.
func (e *Engine) Seed() error {
	if err := e.Characters.SeedRanks(); err != nil {
		return err
	}
	return e.Badges.SeedBadgeTypes()
}
