package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quest-progress-engine/config"
	"quest-progress-engine/handlers"
	"quest-progress-engine/middleware"
	"quest-progress-engine/models"
	"quest-progress-engine/services"
	"quest-progress-engine/utils"
	"quest-progress-engine/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	if cfg.ElasticURL != "" {
		err = utils.InitElasticLogger(cfg.ElasticURL, cfg.ServiceName)
	} else {
		err = utils.InitLogger(cfg.ServiceName)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer utils.Logger.Sync()
	log := utils.Logger

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}

	var cache utils.Cache = utils.NewMemoryCache()
	if cfg.RedisURL != "" {
		redisCache, err := utils.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, leaderboard cache is in-process", zap.Error(err))
		} else {
			defer redisCache.Close()
			cache = redisCache
		}
	}

	proofs := utils.NewURLOnlyProofStore(cfg.CDNBaseURL)
	if cfg.R2Enabled() {
		proofs, err = utils.NewR2ProofStore(context.Background(), utils.R2Settings{
			AccountID:    cfg.R2AccountID,
			AccessKey:    cfg.R2AccessKey,
			AccessSecret: cfg.R2AccessSecret,
			Bucket:       cfg.R2Bucket,
			CDNBaseURL:   cfg.CDNBaseURL,
		})
		if err != nil {
			log.Fatal("failed to initialize R2 client", zap.Error(err))
		}
	}

	engine := services.NewEngine(db, services.EngineOptions{
		Clock:    clockwork.NewRealClock(),
		Location: cfg.Timezone,
		Progression: services.ProgressionConfig{
			BaseXP:    cfg.XPBase,
			Increment: cfg.XPIncrement,
		},
		MinXPReward: cfg.MinXPReward,
		MaxXPReward: cfg.MaxXPReward,
	}, services.EngineDeps{
		Cache:          cache,
		LeaderboardTTL: cfg.LeaderboardCacheTTL,
		Verifier:       services.NewAIVerifierClient(cfg.AIVerifierURL, cfg.AIVerifierAPIKey, cfg.AIVerifierTimeout),
		Fetcher:        proofs,
		AITimeout:      cfg.AIVerifierTimeout,
	})
	if err := engine.Seed(); err != nil {
		log.Fatal("failed to seed ranks and badges", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var publisher workers.Publisher = workers.LogPublisher{}
	if cfg.MQURL != "" {
		mq, err := utils.NewRabbitMQPublisher(utils.RabbitMQConfig{
			URL:      cfg.MQURL,
			Exchange: cfg.MQExchange,
			Durable:  true,
			Reliable: true,
		})
		if err != nil {
			log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
		}
		defer mq.Close()
		publisher = mq
	} else {
		log.Warn("MQ_URL not set, notifications are only logged")
	}
	dispatcher := workers.NewNotificationDispatcher(engine.Notifications, publisher, cfg.MQRoutingKey, cfg.NotifyBatch, cfg.NotifyAttempts)

	sched, err := workers.StartScheduler(ctx, engine, dispatcher, workers.SchedulerConfig{
		NotifyInterval: cfg.NotifyInterval,
		StaleAIWindow:  cfg.StaleAIWindow,
	})
	if err != nil {
		log.Fatal("failed to start scheduler", zap.Error(err))
	}

	if cfg.ProfileSyncURL != "" {
		workers.NewCharacterSyncWorker(engine.Characters, cfg.ProfileSyncURL, cfg.ProfileSyncPath, cfg.ServiceToken, cfg.SyncInterval).Start(ctx)
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 12 * 1024 * 1024, // proof images are capped at 10MB
	})

	// only gateway requests are allowed
	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupRoutes(app, engine, proofs)

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			log.Error("server error", zap.Error(err))
			stop()
		}
	}()
	log.Info("server running", zap.Int("port", cfg.Port), zap.Strings("cors_origins", cfg.AllowedOrigins))

	<-ctx.Done()
	log.Info("shutting down")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
	if err := sched.Shutdown(); err != nil {
		log.Error("scheduler shutdown", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
