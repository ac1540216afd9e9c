package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"finpredict/config"
	"finpredict/db"
	fhttp "finpredict/http"
	"finpredict/logging"
	"finpredict/ml"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to a YAML or TOML config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log, cfg.Server.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service stopped", zap.Error(err))
	}
	logger.Info("exiting")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// 2. Load model; the service never starts without one
	artifact, err := ml.LoadArtifact(cfg.Model.Path)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	predictor, err := ml.NewPredictor(artifact)
	if err != nil {
		return err
	}
	logger.Info("model loaded",
		zap.String("path", cfg.Model.Path),
		zap.String("estimator", predictor.EstimatorType()),
		zap.Bool("confidence_scoring", predictor.HasConfidence()))

	// 3. Optional audit store
	var recorder fhttp.PredictionRecorder
	if cfg.Database.Path != "" {
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()
		recorder = store
		logger.Info("database initialized", zap.String("path", cfg.Database.Path))
	}

	handlers, err := fhttp.NewHandlers(predictor, recorder, logger)
	if err != nil {
		return err
	}

	// 4. Start HTTP server
	server, err := fhttp.NewServer(fhttp.ServerConfig{
		Port:           cfg.Server.Port,
		Timeout:        time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit: fhttp.RateLimitConfig{
			Enabled:        cfg.RateLimit.Enabled,
			PredictPerHour: cfg.RateLimit.PredictPerHour,
			GlobalPerDay:   cfg.RateLimit.GlobalPerDay,
			MaxClients:     cfg.RateLimit.MaxClients,
		},
	}, handlers, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 5. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	if err := server.Stop(context.Background()); err != nil {
		return err
	}
	return <-errCh
}
