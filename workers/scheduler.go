package workers

import (
	"context"
	"time"

	"quest-progress-engine/services"
	"quest-progress-engine/utils"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

type SchedulerConfig struct {
	NotifyInterval time.Duration
	StaleAIWindow  time.Duration
}

// Scheduler runs the periodic engine jobs
type Scheduler struct {
	sched gocron.Scheduler
}

// StartScheduler registers the engine's background jobs and starts them.
// Jobs run in singleton mode so a slow round never overlaps the next.
func StartScheduler(ctx context.Context, engine *services.Engine, dispatcher *NotificationDispatcher, cfg SchedulerConfig) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(engine.Opts.Location))
	if err != nil {
		return nil, err
	}
	if cfg.NotifyInterval <= 0 {
		cfg.NotifyInterval = 15 * time.Second
	}
	if cfg.StaleAIWindow <= 0 {
		cfg.StaleAIWindow = 10 * time.Minute
	}

	jobs := []struct {
		name string
		def  gocron.JobDefinition
		fn   func()
	}{
		{"notification-dispatch", gocron.DurationJob(cfg.NotifyInterval), func() {
			if n, err := dispatcher.DispatchOnce(ctx); err != nil {
				utils.Logger.Error("notification dispatch", zap.Error(err))
			} else if n > 0 {
				utils.Logger.Info("notifications dispatched", zap.Int("count", n))
			}
		}},
		{"streak-expiry", gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 5, 0))), func() {
			n, err := engine.Characters.ExpireStaleStreaks()
			logJob("streak-expiry", n, err)
		}},
		{"stale-ai-reaper", gocron.DurationJob(time.Minute), func() {
			n, err := engine.Verification.FailStaleAIVerifications(cfg.StaleAIWindow)
			logJob("stale-ai-reaper", n, err)
		}},
		{"challenge-close", gocron.DurationJob(5 * time.Minute), func() {
			n, err := engine.Challenges.CloseExpired()
			logJob("challenge-close", int(n), err)
		}},
	}

	for _, j := range jobs {
		if dispatcher == nil && j.name == "notification-dispatch" {
			continue
		}
		if _, err := sched.NewJob(j.def, gocron.NewTask(j.fn),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, err
		}
	}

	sched.Start()
	utils.Logger.Info("scheduler started", zap.Int("jobs", len(sched.Jobs())))
	return &Scheduler{sched: sched}, nil
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

func logJob(name string, n int, err error) {
	if err != nil {
		utils.Logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
		return
	}
	if n > 0 {
		utils.Logger.Info("scheduled job done", zap.String("job", name), zap.Int("affected", n))
	}
}
