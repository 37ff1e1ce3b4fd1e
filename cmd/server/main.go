// Package main provides the entry point for the portfolio research backend:
// an HTTP/WebSocket service that runs portfolio backtests against the local
// price database.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantlab/portfolio-backend/internal/api"
	"github.com/quantlab/portfolio-backend/internal/config"
	"github.com/quantlab/portfolio-backend/internal/pricedata"
	"github.com/quantlab/portfolio-backend/internal/registry"
	"github.com/quantlab/portfolio-backend/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to ./config.yaml)")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// The logger is configured from the file, so this one failure goes
		// to stderr directly.
		println("failed to load config:", err.Error())
		os.Exit(1)
	}

	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	logger := setupLogger(level)
	defer logger.Sync()

	logger.Info("Starting portfolio backend",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("sqlitePath", cfg.Data.SQLitePath),
	)

	store, err := pricedata.NewSQLiteStore(logger, cfg.Data.SQLitePath)
	if err != nil {
		logger.Fatal("Failed to open price store", zap.Error(err))
	}
	defer store.Close()

	reg := registry.New()

	server := api.NewServer(logger, &types.ServerConfig{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		WebSocketPath: cfg.Server.WebSocketPath,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		EnableMetrics: cfg.Server.EnableMetrics,
	}, &types.BatchConfig{
		MaxWorkers:   cfg.Batch.MaxWorkers,
		DrawdownTopN: cfg.Batch.DrawdownTopN,
	}, store, reg)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			logger.Error("Shutdown error", zap.Error(err))
		}
	case err := <-errChan:
		if err != nil {
			logger.Fatal("Server error", zap.Error(err))
		}
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
