// Package main implements the run-backtest CLI: load bars for one or more
// strategies over a date range, drive internal/backtester.Engine in simple,
// walk-forward, or out-of-sample mode, print the resulting metrics, and
// exit 0 only when the result clears the configured viability bar.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zeroframe404/sistema-pro-trader/internal/backtester"
	"github.com/zeroframe404/sistema-pro-trader/internal/cliutil"
	"github.com/zeroframe404/sistema-pro-trader/internal/data"
	"github.com/zeroframe404/sistema-pro-trader/internal/strategy"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

func main() {
	strategyFlag := flag.String("strategy", "", "Strategy name to run (ignored if --all-strategies)")
	symbolFlag := flag.String("symbol", "", "Symbol to backtest (required)")
	brokerFlag := flag.String("broker", "backtest", "Broker namespace bars are stored under")
	timeframeFlag := flag.String("timeframe", "1h", "Bar timeframe (1m, 5m, 15m, 1h, 4h, 1d)")
	startFlag := flag.String("start", "", "Start date, RFC3339 (required)")
	endFlag := flag.String("end", "", "End date, RFC3339 (required)")
	modeFlag := flag.String("mode", "simple", "Backtest mode: simple, walk_forward, out_of_sample")
	allStrategies := flag.Bool("all-strategies", false, "Run every registered strategy together instead of --strategy")
	initialCapital := flag.String("initial-capital", "10000", "Starting account equity")
	dataStoreFlag := flag.String("data-store", "./data", "Root directory of the bar store")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	if *symbolFlag == "" || *startFlag == "" || *endFlag == "" {
		fmt.Fprintln(os.Stderr, "run-backtest: --symbol, --start, and --end are required")
		os.Exit(2)
	}
	if !*allStrategies && *strategyFlag == "" {
		fmt.Fprintln(os.Stderr, "run-backtest: --strategy is required unless --all-strategies is set")
		os.Exit(2)
	}

	start, err := time.Parse(time.RFC3339, *startFlag)
	if err != nil {
		logger.Fatal("invalid --start", zap.Error(err))
	}
	end, err := time.Parse(time.RFC3339, *endFlag)
	if err != nil {
		logger.Fatal("invalid --end", zap.Error(err))
	}
	capital, err := decimal.NewFromString(*initialCapital)
	if err != nil {
		logger.Fatal("invalid --initial-capital", zap.Error(err))
	}
	mode, err := parseMode(*modeFlag)
	if err != nil {
		logger.Fatal("invalid --mode", zap.Error(err))
	}

	strategies := []string{*strategyFlag}
	if *allStrategies {
		strategies = strategy.NewRegistry().List()
	}

	store, err := data.NewStore(logger, *dataStoreFlag)
	if err != nil {
		logger.Fatal("failed to open data store", zap.Error(err))
	}

	timeframe := types.Timeframe(*timeframeFlag)
	bars, err := store.LoadRange(*brokerFlag, *symbolFlag, timeframe, start, end)
	if err != nil {
		logger.Fatal("failed to load bars", zap.Error(err))
	}
	if len(bars) == 0 {
		fmt.Fprintf(os.Stderr, "run-backtest: no bars found for %s/%s/%s in [%s, %s]\n", *brokerFlag, *symbolFlag, timeframe, start, end)
		os.Exit(1)
	}

	cfg := backtester.Config{
		Backtest: cliutil.DefaultBacktestConfig(strategies, []string{*symbolFlag}, *brokerFlag, timeframe, start, end, mode, capital),
		Sizing:   cliutil.DefaultSizing(),
		Stops:    cliutil.DefaultStops(),
		Ensemble: cliutil.DefaultEnsemble(),
		Kill:     cliutil.DefaultKillSwitch(),
		Retry:    cliutil.DefaultRetry(),
	}

	engine := backtester.NewEngine(logger)
	ctx := context.Background()
	result, err := engine.Run(ctx, cfg, map[string][]types.OHLCVBar{*symbolFlag: bars}, nil)
	if err != nil {
		logger.Fatal("backtest run failed", zap.Error(err))
	}

	encoded, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(encoded))

	if cliutil.IsViable(result.Metrics) {
		os.Exit(0)
	}
	os.Exit(1)
}

func parseMode(s string) (types.BacktestMode, error) {
	switch strings.ToLower(s) {
	case "simple", "":
		return types.BacktestModeSimple, nil
	case "walk_forward":
		return types.BacktestModeWalkForward, nil
	case "out_of_sample":
		return types.BacktestModeOutOfSample, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
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
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
