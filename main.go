package main

import (
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"irisapi/config"
	apihttp "irisapi/http"
	"irisapi/logging"
	"irisapi/ml"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	// 1. Load config; MODEL_FILE must be set before anything is served
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Logger
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	// 3. Model source; the artifact itself is only read at request time
	checkModelFile(cfg.Model.Path, logger)
	source, err := newSource(cfg.Model, logger)
	if err != nil {
		logger.Fatal("failed to create model source", zap.Error(err))
	}

	// 4. Start HTTP server
	server := apihttp.NewServer(cfg.HTTP, source, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 5. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	err = multierr.Combine(
		server.Stop(5*time.Second),
		source.Close(),
	)
	if err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
	logger.Info("exiting")
	_ = logger.Sync()
	if err := closeLog(); err != nil {
		log.Printf("Failed to close log file: %v", err)
	}
}

// checkModelFile only warns: a missing artifact fails requests, not startup.
func checkModelFile(path string, logger *zap.Logger) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("model file does not exist yet; predictions will fail until it does", zap.String("path", path))
			return
		}
		logger.Warn("model file is not accessible", zap.String("path", path), zap.Error(err))
	}
}

func newSource(cfg config.ModelConfig, logger *zap.Logger) (ml.Source, error) {
	opts := ml.LoaderOptions{ONNXLibrary: cfg.ONNXLibrary}
	logger.Info("model source",
		zap.String("path", cfg.Path),
		zap.String("type", cfg.Type),
		zap.String("cache", cfg.Cache),
	)
	if cfg.Cache == config.CacheLRU {
		return ml.NewCachedSource(cfg.Type, cfg.Path, cfg.CacheSize, opts, logger.Named("model"))
	}
	return ml.NewFileSource(cfg.Type, cfg.Path, opts), nil
}
