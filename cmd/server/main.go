// Package main provides the entry point for the trading backend's
// optional HTTP/WebSocket demo surface: it loads the sectioned config
// tree, opens the bar store, and serves internal/api.Server so a remote
// client can trigger and inspect backtest runs without a CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zeroframe404/sistema-pro-trader/internal/api"
	"github.com/zeroframe404/sistema-pro-trader/internal/config"
	"github.com/zeroframe404/sistema-pro-trader/internal/data"
)

func main() {
	configDir := flag.String("config", "./config", "Directory containing system/brokers/strategies/indicators/signals/risk/backtest.yaml")
	host := flag.String("host", "", "Server host (overrides system.yaml)")
	port := flag.Int("port", 0, "Server port (overrides system.yaml)")
	dataDir := flag.String("data", "", "Data directory (overrides system.yaml)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error; overrides system.yaml)")
	flag.Parse()

	bootLogger := setupLogger("info")
	loader := config.NewLoader(bootLogger, *configDir)
	root, err := loader.Load()
	if err != nil {
		bootLogger.Fatal("failed to load config", zap.Error(err))
	}

	level := root.System.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	logger := setupLogger(level)
	defer logger.Sync()

	serverCfg := root.System.Server
	if *host != "" {
		serverCfg.Host = *host
	}
	if *port != 0 {
		serverCfg.Port = *port
	}
	dataCfg := root.System.Data
	if *dataDir != "" {
		dataCfg.DataDir = *dataDir
	}
	if dataCfg.DataDir == "" {
		dataCfg.DataDir = "./data"
	}

	logger.Info("starting trading backend API server",
		zap.String("environment", root.System.Environment),
		zap.String("host", serverCfg.Host),
		zap.Int("port", serverCfg.Port),
		zap.String("dataDir", dataCfg.DataDir),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataStore, err := data.NewStore(logger, dataCfg.DataDir)
	if err != nil {
		logger.Fatal("failed to initialize data store", zap.Error(err))
	}

	server := api.NewServer(logger, serverCfg, dataStore)

	go func() {
		if err := loader.Watch(ctx, func(reloaded *config.Root) {
			logger.Info("config reloaded", zap.String("environment", reloaded.System.Environment))
		}); err != nil {
			logger.Warn("config watch disabled", zap.Error(err))
		}
	}()

	var metricsServer *http.Server
	if serverCfg.EnableMetrics {
		metricsPort := serverCfg.MetricsPort
		if metricsPort == 0 {
			metricsPort = 9090
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: addrFor(serverCfg.Host, metricsPort), Handler: mux}
		go func() {
			logger.Info("starting metrics server", zap.String("addr", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	logger.Info("server started",
		zap.String("http", "http://"+addrFor(serverCfg.Host, serverCfg.Port)+"/api/v1"),
		zap.String("ws", "ws://"+addrFor(serverCfg.Host, serverCfg.Port)+serverCfg.WebSocketPath),
	)

	<-sigChan
	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during metrics server shutdown", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func addrFor(host string, port int) string {
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
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
