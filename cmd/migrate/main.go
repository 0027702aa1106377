package main

import (
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"eco-referral/internal/config"
	"eco-referral/internal/database"
	"eco-referral/internal/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Initialize(logger.Config{Debug: cfg.App.Debug}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Flush(time.Second)

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}

	for _, model := range database.Models() {
		logger.Info("Table ready", zap.String("model", fmt.Sprintf("%T", model)))
	}
}
