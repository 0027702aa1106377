package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eco-referral/internal/auth"
	"eco-referral/internal/config"
	"eco-referral/internal/database"
	"eco-referral/internal/handlers"
	"eco-referral/internal/jobs"
	"eco-referral/internal/logger"
	"eco-referral/internal/notify"
	"eco-referral/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Initialize(logger.Config{
		Debug:       cfg.App.Debug,
		SentryDSN:   cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Tags:        map[string]string{"service": "eco-referral"},
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Flush(2 * time.Second)

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	tokens, err := auth.NewManager(cfg.App.JWTSecret, cfg.App.TokenTTL, cfg.App.ReferralTokenTTL)
	if err != nil {
		logger.Fatal("Failed to initialize token manager", zap.Error(err))
	}

	policy, err := config.LoadPolicy(cfg.App.PolicyPath)
	if err != nil {
		logger.Fatal("Failed to load qualification policy", zap.Error(err))
	}
	logger.Info("Qualification policy loaded", zap.Int("rules", len(policy.Rules)))

	// Connect to database
	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
	}()

	// Run migrations
	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Notification sinks
	var sinks []notify.Sink
	if cfg.NATS.URL != "" {
		jsSink, err := notify.NewJetStreamSink(notify.JetStreamConfig{
			URL:            cfg.NATS.URL,
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			ConnectionName: cfg.NATS.ConnectionName,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
		})
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer jsSink.Close()
		sinks = append(sinks, jsSink)
	}
	if cfg.Webhook.URL != "" {
		sinks = append(sinks, notify.NewWebhookSink(notify.WebhookConfig{
			URL:        cfg.Webhook.URL,
			Secret:     cfg.Webhook.Secret,
			MaxElapsed: cfg.Webhook.MaxElapsed,
		}))
	}
	dispatcher := notify.NewDispatcher(cfg.Jobs.NotifyWorkers, 1024, sinks...)
	logger.Info("Notification dispatcher started", zap.Int("sinks", len(sinks)))

	// Initialize services
	codeService := services.NewReferralCodeService(db, services.AnyOwner, services.GenerateCode)
	attributionService := services.NewAttributionService(db, codeService, services.WithNotifier(dispatcher))
	qualifier := services.NewActionQualifier(policy)
	issuer := services.NewRewardIssuer(db, qualifier, services.WithNotifier(dispatcher))
	ledger := services.NewRedemptionLedger(db, services.WithNotifier(dispatcher))

	// Start expiry sweep
	expiryJob := jobs.NewExpiryJob(ledger, cfg.Jobs.ExpirySweepInterval)
	if err := expiryJob.Start(); err != nil {
		logger.Fatal("Failed to start expiry sweep", zap.Error(err))
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		DB:             db,
		Tokens:         tokens,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Referrals:      handlers.NewReferralHandler(codeService, attributionService, tokens),
		Rewards:        handlers.NewRewardHandler(issuer, ledger),
		Admin:          handlers.NewAdminHandler(codeService, ledger),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Server.Port))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error(err, zap.String("message", "Server forced to shutdown"))
	}
	if err := expiryJob.Stop(); err != nil {
		logger.Warn("Expiry sweep did not stop cleanly", zap.Error(err))
	}
	dispatcher.Close()

	logger.Info("Server exited")
}
