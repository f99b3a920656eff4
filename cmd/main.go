package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"

	"github.com/bracketlab/bracket-engine/config"
	"github.com/bracketlab/bracket-engine/db"
	"github.com/bracketlab/bracket-engine/handlers"
	"github.com/bracketlab/bracket-engine/middleware"
	"github.com/bracketlab/bracket-engine/notify"
	"github.com/bracketlab/bracket-engine/remote"
	"github.com/bracketlab/bracket-engine/repositories"
	api "github.com/bracketlab/bracket-engine/routes"
	"github.com/bracketlab/bracket-engine/scheduler"
	"github.com/bracketlab/bracket-engine/services"
	"github.com/bracketlab/bracket-engine/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		}
	}()
	logger.Info("database connection established")

	// One shared remote client per process. A fresh client per poll job would
	// start every cycle with a cold cache and re-fetch everything.
	remoteClient := remote.NewClient(remote.ClientConfig{
		BaseURL:          cfg.RemoteAPIURL,
		RequestTimeout:   cfg.RequestTimeout,
		CacheTTL:         cfg.CacheTTL,
		CacheMaxEntries:  cfg.CacheMaxEntries,
		RetryMaxAttempts: cfg.RetryMaxAttempts,
		RetryMaxDelay:    cfg.RetryMaxDelay,
		Logger:           logger,
	})
	gateway := remote.NewGateway(remoteClient, cfg.SyncPageSize, cfg.SyncMaxPages)
	credentials := remote.NewStaticCredentialProvider(cfg.RemoteAPIToken)

	var uploader storage.SnapshotUploader
	if cfg.SnapshotsEnabled() {
		uploader, err = storage.NewCloudflareR2Uploader(storage.CloudflareR2UploaderConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
		})
		if err != nil {
			logger.Error("failed to initialize snapshot uploader", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("snapshot uploader initialized", slog.String("bucket", cfg.R2BucketName))
	}

	hub := notify.NewHub(logger)
	go hub.Run()

	tournamentRepo := repositories.NewPostgresTournamentRepository(dbConn)
	eventRepo := repositories.NewPostgresEventRepository(dbConn)
	matchRepo := repositories.NewPostgresMatchRepository(dbConn)
	registrationRepo := repositories.NewPostgresRegistrationRepository(dbConn)
	userRepo := repositories.NewPostgresUserRepository(dbConn)
	pushRepo := repositories.NewPostgresResultPushRepository(dbConn)
	txRunner := repositories.NewTxRunner(dbConn)

	lifecycleService := services.NewLifecycleService(
		matchRepo, eventRepo, pushRepo, txRunner, hub, cfg.CheckInWindow, logger)
	matchSync := services.NewMatchSyncService(
		gateway, matchRepo, registrationRepo, txRunner, hub, logger)
	regSync := services.NewRegistrationSyncService(
		gateway, registrationRepo, userRepo, txRunner, hub, cfg.SyncPageSize, logger)
	pollService := services.NewPollService(
		gateway, credentials, tournamentRepo, eventRepo, matchRepo,
		matchSync, regSync, uploader, cfg.PollDeadline, logger)
	pushService := services.NewResultPushService(
		gateway, credentials, pushRepo, matchRepo, txRunner,
		cfg.PushInterval, cfg.PushBatchSize, cfg.PushMaxAttempts, cfg.PushRetryDelay, logger)

	sched, err := scheduler.New(pollService.PollTournament, cfg.PollWorkerPoolSize, scheduler.Intervals{
		Short: cfg.PollIntervalShort,
		Long:  cfg.PollIntervalLong,
	}, logger)
	if err != nil {
		logger.Error("failed to create scheduler", slog.Any("error", err))
		os.Exit(1)
	}

	// Pick up every non-terminal tournament on boot.
	pollable, err := tournamentRepo.ListPollable(context.Background())
	if err != nil {
		logger.Error("failed to list pollable tournaments", slog.Any("error", err))
		os.Exit(1)
	}
	for _, t := range pollable {
		if err := sched.Schedule(t.ID, t.Phase); err != nil {
			logger.Error("failed to schedule tournament",
				slog.Int("tournament_id", t.ID), slog.Any("error", err))
		}
	}
	sched.Start()
	logger.Info("poll scheduler started", slog.Int("tournaments", len(pollable)))

	pushCtx, stopPush := context.WithCancel(context.Background())
	go pushService.Run(pushCtx)
	logger.Info("result push worker started", slog.Duration("interval", cfg.PushInterval))

	auth := middleware.NewAuthenticator(cfg.JWTSecretKey)
	lifecycleHandler := handlers.NewLifecycleHandler(lifecycleService, logger)
	pollHandler := handlers.NewPollHandler(pollService, sched, logger)
	webSocketHandler := handlers.NewWebSocketHandler(hub, logger)

	router := chi.NewRouter()
	api.SetupRoutes(router, auth, lifecycleHandler, pollHandler, webSocketHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		stopPush()
		if err := sched.Shutdown(); err != nil {
			logger.Error("scheduler shutdown failed", slog.Any("error", err))
		}

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
	}
	stopPush()
	logger.Info("application exited")
}
