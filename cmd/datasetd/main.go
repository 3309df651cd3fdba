package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/datasetd/internal/api"
	"github.com/FairForge/datasetd/internal/capability"
	"github.com/FairForge/datasetd/internal/config"
	"github.com/FairForge/datasetd/internal/dataset"
	"github.com/FairForge/datasetd/internal/dispatch"
	"github.com/FairForge/datasetd/internal/storage"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(os.Getenv("DATASETD_CONFIG"))
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	// Metadata repository: postgres in production, in-memory when no
	// database host is configured.
	var repo dataset.Repository
	if cfg.Database.Host != "" {
		pg, err := dataset.NewPostgresRepository(dataset.PostgresConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Fatal("connect database", zap.Error(err))
		}
		defer func() { _ = pg.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pg.Ping(ctx); err != nil {
			cancel()
			logger.Fatal("ping database", zap.Error(err))
		}
		if err := pg.CreateTables(ctx); err != nil {
			cancel()
			logger.Fatal("create tables", zap.Error(err))
		}
		cancel()
		repo = pg
		logger.Info("using postgres repository", zap.String("host", cfg.Database.Host))
	} else {
		repo = dataset.NewMemoryRepository()
		logger.Warn("no database configured, using in-memory repository")
	}

	issuer, err := capability.NewMinioIssuer(
		cfg.Storage.Endpoint,
		cfg.Storage.AccessKey,
		cfg.Storage.SecretKey,
		cfg.Storage.Region,
		cfg.Storage.UseSSL,
		logger,
	)
	if err != nil {
		logger.Fatal("create capability issuer", zap.Error(err))
	}

	store, err := storage.NewS3Store(
		cfg.Storage.Endpoint,
		cfg.Storage.AccessKey,
		cfg.Storage.SecretKey,
		cfg.Storage.Region,
		logger,
	)
	if err != nil {
		logger.Fatal("create object store client", zap.Error(err))
	}

	notifier := dispatch.New(cfg.Dispatcher.Endpoint, logger)

	server := api.NewServer(cfg, logger, repo, issuer, store, notifier)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
