package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/c50bossio/6fb-booking-sub006/internal/api"
	"github.com/c50bossio/6fb-booking-sub006/internal/api/handlers"
	"github.com/c50bossio/6fb-booking-sub006/internal/calendar"
	"github.com/c50bossio/6fb-booking-sub006/internal/config"
	"github.com/c50bossio/6fb-booking-sub006/internal/conflict"
	"github.com/c50bossio/6fb-booking-sub006/internal/db"
	"github.com/c50bossio/6fb-booking-sub006/internal/engine"
	"github.com/c50bossio/6fb-booking-sub006/internal/google"
	"github.com/c50bossio/6fb-booking-sub006/internal/health"
	"github.com/c50bossio/6fb-booking-sub006/internal/logger"
	"github.com/c50bossio/6fb-booking-sub006/internal/repository"
	"github.com/c50bossio/6fb-booking-sub006/internal/scheduler"
	"github.com/c50bossio/6fb-booking-sub006/internal/subscription"
	"github.com/c50bossio/6fb-booking-sub006/internal/webhook"
	"github.com/c50bossio/6fb-booking-sub006/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load and validate configuration first (before logger)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Logger)

	logger.Info().
		Str("environment", cfg.Logger.Environment).
		Str("log_level", cfg.Logger.Level).
		Msg("configuration loaded successfully")

	logger.Info().Msg("running database migrations")
	if err := db.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	ctx := context.Background()
	database, err := db.NewDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	logger.Info().Msg("database connected successfully")

	// Repositories
	subRepo := repository.NewSubscriptionRepository(database.Pool)
	notificationRepo := repository.NewNotificationRepository(database.Pool)
	syncEventRepo := repository.NewSyncEventRepository(database.Pool)
	conflictRepo := repository.NewConflictRepository(database.Pool)
	appointmentRepo := repository.NewAppointmentRepository(database.Pool)
	oauthRepo := repository.NewOAuthRepository(database.Pool)

	// Google OAuth and the calendar client
	if !cfg.GoogleConfigured() {
		logger.Fatal().Msg("google OAuth not configured (GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET required)")
	}
	oauthService, err := google.NewOAuthService(cfg, oauthRepo)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize Google OAuth service")
	}
	calClient := calendar.NewGoogleClient(oauthService)

	// Sync engine and its collaborators
	queue := engine.NewQueue(cfg.Sync.QueueSize)
	resolver := conflict.NewResolver(appointmentRepo, conflictRepo, calClient)
	locker := db.NewAdvisoryLocker(database.Pool)
	syncEngine := engine.New(subRepo, appointmentRepo, syncEventRepo, notificationRepo,
		calClient, resolver, locker, queue, cfg.Sync)

	engineCtx, stopEngine := context.WithCancel(ctx)
	syncEngine.Start(engineCtx)
	defer func() {
		stopEngine()
		syncEngine.Stop()
	}()

	// Subscription lifecycle and background workers
	manager := subscription.NewManager(subRepo, calClient, cfg.Webhook)
	monitor := health.NewMonitor(subRepo, syncEventRepo, notificationRepo, conflictRepo)
	renewalWorker := worker.NewRenewalWorker(subRepo, manager, monitor, cfg.Webhook)

	cronScheduler := scheduler.NewScheduler(renewalWorker, monitor, notificationRepo, cfg.Sync)
	if err := cronScheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer cronScheduler.Stop()

	// Webhook receiver
	receiver := webhook.NewReceiver(subRepo, notificationRepo, queue, cfg.Webhook.ChannelToken)

	// Handlers
	webhookHandler := handlers.NewWebhookHandler(receiver)
	syncHandler := handlers.NewSyncHandler(manager, subRepo, syncEventRepo, monitor, queue)
	conflictHandler := handlers.NewConflictHandler(conflictRepo, appointmentRepo)
	oauthHandler := handlers.NewOAuthHandler(oauthService)

	// Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(api.RequestIDMiddleware())
	router.Use(api.LoggingMiddleware())
	router.Use(api.CORSMiddleware(cfg.CORS))
	router.Use(api.ErrorHandlerMiddleware())

	router.GET("/health", health.Handler(database))

	// Provider-facing routes: no API key, authenticated by the channel token
	router.POST("/webhooks/calendar", webhookHandler.HandleCalendarPush)
	router.GET("/api/v1/auth/google/callback", oauthHandler.Callback)

	v1 := router.Group("/api/v1")
	v1.Use(api.APIKeyMiddleware(cfg.External.APIKey))
	{
		authRoutes := v1.Group("/auth")
		{
			authRoutes.GET("/google", oauthHandler.GetAuthURL)
			authRoutes.POST("/google/disconnect", oauthHandler.Disconnect)
		}

		syncRoutes := v1.Group("/sync")
		{
			syncRoutes.POST("/subscriptions", syncHandler.EnableSync)
			syncRoutes.DELETE("/subscriptions", syncHandler.DisableSync)
			syncRoutes.GET("/subscriptions", syncHandler.ListByUser)
			syncRoutes.GET("/subscriptions/:id/status", syncHandler.GetStatus)
			syncRoutes.POST("/subscriptions/:id/renew", syncHandler.ForceRenewal)
			syncRoutes.POST("/subscriptions/:id/trigger", syncHandler.TriggerSync)
			syncRoutes.GET("/subscriptions/:id/events", syncHandler.ListSyncEvents)
			syncRoutes.GET("/errors", syncHandler.ListRecentErrors)
			syncRoutes.GET("/health", syncHandler.SystemHealth)
		}

		conflicts := v1.Group("/conflicts")
		{
			conflicts.GET("/pending", conflictHandler.ListPending)
			conflicts.POST("/:id/resolve", conflictHandler.Resolve)
		}
	}

	addr := cfg.GetBindAddress()
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server exited")
}
