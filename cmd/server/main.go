package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenSupMCU/internal/auth"
	"github.com/KevinKickass/OpenSupMCU/internal/config"
	"github.com/KevinKickass/OpenSupMCU/internal/metrics"
	"github.com/KevinKickass/OpenSupMCU/internal/storage"
	"github.com/KevinKickass/OpenSupMCU/internal/system"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	hashPassword := flag.String("hash-password", "", "print an argon2id hash for the given password and exit")
	genToken := flag.Bool("gen-token", false, "print a new service token and its hash and exit")
	flag.Parse()

	// Hilfsfunktionen für die Auth-Konfiguration
	if *hashPassword != "" {
		hasher := auth.NewPasswordHasher()
		if cfg, err := config.Load(*configPath); err == nil {
			hasher = auth.NewPasswordHasherFromConfig(cfg.Auth)
		}
		hash, err := hasher.HashPassword(*hashPassword)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		fmt.Println(hash)
		return
	}
	if *genToken {
		token, hash, err := auth.GenerateServiceToken()
		if err != nil {
			log.Fatalf("Failed to generate token: %v", err)
		}
		fmt.Printf("token:      %s\ntoken_hash: %s\n", token, hash)
		return
	}

	// Config laden
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Logger initialisieren
	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Config loaded successfully",
		zap.String("path", *configPath),
		zap.Int("buses", len(cfg.Buses)))

	if !cfg.Auth.IsProductionReady() {
		logger.Warn("JWT secret is the development default or too short")
	}

	metrics.Register(prometheus.DefaultRegisterer)

	ctx := context.Background()

	// PostgreSQL ist optional
	var db *storage.PostgresClient
	if cfg.Database.Enabled {
		db, err = storage.NewPostgresClient(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		logger.Info("Database connected successfully")
	}

	// Lifecycle Manager
	lifecycle, err := system.NewLifecycleManager(ctx, cfg, db, logger)
	if err != nil {
		logger.Fatal("Failed to create lifecycle manager", zap.Error(err))
	}

	// System starten
	if err := lifecycle.Start(ctx); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("OpenSupMCU started successfully")

	// Graceful Shutdown auf Signal oder API
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
	case <-lifecycle.Done():
		logger.Info("OpenSupMCU stopped via API")
		return
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("OpenSupMCU stopped successfully")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}
