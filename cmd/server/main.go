package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	gormlogger "gorm.io/gorm/logger"

	"github.com/supportdeck/agent-server/internal/config"
	"github.com/supportdeck/agent-server/internal/domain/audit"
	"github.com/supportdeck/agent-server/internal/domain/continuation"
	"github.com/supportdeck/agent-server/internal/domain/dispatch"
	"github.com/supportdeck/agent-server/internal/domain/ingest"
	"github.com/supportdeck/agent-server/internal/domain/pipeline"
	"github.com/supportdeck/agent-server/internal/domain/presence"
	"github.com/supportdeck/agent-server/internal/domain/rogue"
	"github.com/supportdeck/agent-server/internal/domain/send"
	"github.com/supportdeck/agent-server/internal/domain/trigger"
	"github.com/supportdeck/agent-server/internal/infrastructure/classifier"
	cronrunner "github.com/supportdeck/agent-server/internal/infrastructure/crontab"
	"github.com/supportdeck/agent-server/internal/infrastructure/database"
	"github.com/supportdeck/agent-server/internal/infrastructure/lease"
	"github.com/supportdeck/agent-server/internal/infrastructure/llmclient"
	"github.com/supportdeck/agent-server/internal/infrastructure/logger"
	"github.com/supportdeck/agent-server/internal/infrastructure/observability"
	"github.com/supportdeck/agent-server/internal/infrastructure/presencenotifier"
	"github.com/supportdeck/agent-server/internal/infrastructure/redisclient"
	conversationrepo "github.com/supportdeck/agent-server/internal/infrastructure/repository/conversation"
	"github.com/supportdeck/agent-server/internal/infrastructure/repository/retryrecord"
	"github.com/supportdeck/agent-server/internal/infrastructure/repository/sendlog"
	"github.com/supportdeck/agent-server/internal/infrastructure/repository/triggerqueue"
	"github.com/supportdeck/agent-server/internal/infrastructure/roguestore"
	"github.com/supportdeck/agent-server/internal/infrastructure/scheduler"
	"github.com/supportdeck/agent-server/internal/interfaces/httpserver"
	"github.com/supportdeck/agent-server/internal/interfaces/httpserver/handlers"
	"github.com/supportdeck/agent-server/internal/worker"
)

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	db, err := database.Connect(database.Config{
		DSN:             cfg.DatabaseURL,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		LogLevel:        gormlogger.Warn,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}

	if err := database.AutoMigrate(ctx, db, log); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	redis, err := redisclient.New(cfg.RedisURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect redis")
	}
	defer redis.Close()

	// Repositories.
	triggerRepo := triggerqueue.NewRepository(db)
	conversationRepo := conversationrepo.NewRepository(db)
	retryRepo := retryrecord.NewRepository(db)
	sendRepo := sendlog.NewRepository(db)

	// Coordination.
	queue := trigger.NewQueue(triggerRepo, log)
	leaseManager := lease.NewManager(redis.Redsync(), cfg.LeaseTTL, log)
	wakeScheduler := scheduler.NewRedisScheduler(redis.Universal(), log)

	guard := rogue.NewGuard(
		roguestore.NewRedisStore(redis.Universal(), cfg.RogueWindow),
		rogue.Config{
			MaxPublicSends: cfg.RogueMaxPublicSends,
			Window:         cfg.RogueWindow,
			PauseDuration:  cfg.RoguePauseDuration,
		},
		log,
	)

	// Continuation classification degrades to supplement when unconfigured.
	var continuationClassifier continuation.Classifier
	if cfg.ClassifierURL != "" {
		continuationClassifier = classifier.NewClient(cfg.ClassifierURL, cfg.ClassifierTimeout, log)
	}
	continuationService := continuation.NewService(
		continuationClassifier, cfg.ClassifierTimeout, cfg.ClassifierConfidence, log)

	generator := llmclient.NewClient(llmclient.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})

	agentPipeline := pipeline.NewAgent(conversationRepo, generator, guard, pipeline.Config{
		CommandPauseDuration: cfg.RoguePauseDuration,
	}, log)

	sender := send.NewSender(sendRepo, guard, retryRepo, log)
	typing := presence.NewHeartbeat(
		presencenotifier.NewRedisNotifier(redis.Universal()), cfg.TypingInterval, log)

	dispatcher := dispatch.NewDispatcher(
		queue,
		conversationRepo,
		continuationService,
		agentPipeline,
		sender,
		guard,
		retryRepo,
		wakeScheduler,
		typing,
		dispatch.Config{
			MaxAttempts:       cfg.MaxAttempts,
			RetryWakeDelay:    cfg.RetryWakeDelay,
			GenerationTimeout: cfg.GenerationTimeout,
		},
		log,
	)

	workerPool := worker.NewPool(
		wakeScheduler,
		leaseManager,
		dispatcher,
		triggerRepo,
		worker.Config{
			WorkerCount:     cfg.WorkerCount,
			PollInterval:    cfg.WakePollInterval,
			DrainTimeout:    cfg.DrainTimeout,
			ShutdownTimeout: cfg.ShutdownTimeout,
		},
		log,
	)
	if err := workerPool.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start worker pool")
	}
	defer workerPool.Stop()

	// Reconciliation sweep.
	sweeper := audit.NewSweeper(triggerRepo, wakeScheduler, audit.Config{
		StuckAfter: cfg.SweepStuckAfter,
	}, log)
	cron := cronrunner.New(sweeper, cfg.SweepIntervalMinutes, log)
	go func() {
		if err := cron.Run(ctx); err != nil {
			log.Error().Err(err).Msg("crontab stopped with error")
		}
	}()

	ingestService := ingest.NewService(conversationRepo, queue, wakeScheduler, log)
	handlerProvider := handlers.NewProvider(
		ingestService, conversationRepo, triggerRepo, guard, wakeScheduler, log)

	httpServer := httpserver.New(cfg, handlerProvider, redis, log)
	if err := httpServer.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	log.Info().Msg("application exited cleanly")
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
