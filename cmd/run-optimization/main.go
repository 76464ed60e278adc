// Package main implements the run-optimization CLI: sample a strategy's
// parameter ranges against a fixed backtest window via
// internal/optimization.Optimizer, print the ranked result, and optionally
// write the winning parameters back into strategies.yaml.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/zeroframe404/sistema-pro-trader/internal/backtester"
	"github.com/zeroframe404/sistema-pro-trader/internal/cliutil"
	"github.com/zeroframe404/sistema-pro-trader/internal/data"
	"github.com/zeroframe404/sistema-pro-trader/internal/optimization"
	"github.com/zeroframe404/sistema-pro-trader/internal/strategy"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

func main() {
	strategyFlag := flag.String("strategy", "", "Strategy name to tune (required)")
	symbolFlag := flag.String("symbol", "", "Symbol to backtest (required)")
	brokerFlag := flag.String("broker", "backtest", "Broker namespace bars are stored under")
	timeframeFlag := flag.String("timeframe", "1h", "Bar timeframe")
	startFlag := flag.String("start", "", "Start date, RFC3339 (required)")
	endFlag := flag.String("end", "", "End date, RFC3339 (required)")
	paramsFlag := flag.String("params", "", `Parameter ranges, "name=lo:hi:step,name2=lo:hi:step" (required)`)
	nTrials := flag.Int("n-trials", 50, "Number of random trials to sample")
	metric := flag.String("metric", "sharpe", "Metric the optimizer reports against (informational; scoring always uses the anti-overfit penalty)")
	apply := flag.Bool("apply", false, "Write the best params back into strategies.yaml")
	dataStoreFlag := flag.String("data-store", "./data", "Root directory of the bar store")
	configDirFlag := flag.String("config", "./config", "Config directory strategies.yaml lives in, used with --apply")
	seedFlag := flag.Int64("seed", 42, "RNG seed for deterministic sampling")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	if *strategyFlag == "" || *symbolFlag == "" || *startFlag == "" || *endFlag == "" || *paramsFlag == "" {
		fmt.Fprintln(os.Stderr, "run-optimization: --strategy, --symbol, --start, --end, and --params are required")
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
	ranges, err := parseParamRanges(*paramsFlag)
	if err != nil {
		logger.Fatal("invalid --params", zap.Error(err))
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
		fmt.Fprintf(os.Stderr, "run-optimization: no bars found for %s/%s/%s in [%s, %s]\n", *brokerFlag, *symbolFlag, timeframe, start, end)
		os.Exit(1)
	}

	if _, err := strategy.NewRegistry().Create(*strategyFlag); err != nil {
		logger.Fatal("unknown strategy", zap.Error(err))
	}

	engine := backtester.NewEngine(logger)
	barsBySymbol := map[string][]types.OHLCVBar{*symbolFlag: bars}

	objective := func(ctx context.Context, params map[string]decimal.Decimal) (*types.BacktestMetrics, error) {
		cfg := backtester.Config{
			Backtest: cliutil.DefaultBacktestConfig([]string{*strategyFlag}, []string{*symbolFlag}, *brokerFlag, timeframe, start, end, types.BacktestModeSimple, decimal.NewFromInt(10000)),
			Sizing:   cliutil.DefaultSizing(),
			Stops:    cliutil.DefaultStops(),
			Ensemble: cliutil.DefaultEnsemble(),
			Kill:     cliutil.DefaultKillSwitch(),
			Retry:    cliutil.DefaultRetry(),
			StrategyParams: map[string]map[string]decimal.Decimal{
				*strategyFlag: params,
			},
		}
		result, err := engine.Run(ctx, cfg, barsBySymbol, nil)
		if err != nil {
			return nil, err
		}
		return result.Metrics, nil
	}

	optCfg := types.OptimizationConfig{
		Strategy:    *strategyFlag,
		ParamRanges: ranges,
		NTrials:     *nTrials,
		Metric:      *metric,
		Seed:        *seedFlag,
	}

	optimizer := optimization.NewOptimizer(logger)
	result, err := optimizer.Run(context.Background(), optCfg, objective)
	if err != nil {
		logger.Fatal("optimization run failed", zap.Error(err))
	}

	encoded, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(encoded))

	if *apply {
		if result.Verdict != "use_params" {
			fmt.Fprintf(os.Stderr, "run-optimization: verdict %q, refusing to apply\n", result.Verdict)
			os.Exit(1)
		}
		if err := applyParams(*configDirFlag, *strategyFlag, result.BestParams); err != nil {
			logger.Fatal("failed to apply best params", zap.Error(err))
		}
		logger.Info("applied best params to strategies.yaml", zap.String("strategy", *strategyFlag))
	}

	if result.Verdict == "strategy_not_viable" {
		os.Exit(1)
	}
	os.Exit(0)
}

// parseParamRanges parses "name=lo:hi:step,name2=lo:hi:step" into
// types.ParamRange bounds.
func parseParamRanges(s string) (map[string]types.ParamRange, error) {
	out := make(map[string]types.ParamRange)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		nameBounds := strings.SplitN(part, "=", 2)
		if len(nameBounds) != 2 {
			return nil, fmt.Errorf("malformed param %q, want name=lo:hi:step", part)
		}
		name := strings.TrimSpace(nameBounds[0])
		bounds := strings.Split(nameBounds[1], ":")
		if len(bounds) != 3 {
			return nil, fmt.Errorf("malformed bounds for %q, want lo:hi:step", name)
		}
		low, err := decimal.NewFromString(strings.TrimSpace(bounds[0]))
		if err != nil {
			return nil, fmt.Errorf("param %q: invalid low bound: %w", name, err)
		}
		high, err := decimal.NewFromString(strings.TrimSpace(bounds[1]))
		if err != nil {
			return nil, fmt.Errorf("param %q: invalid high bound: %w", name, err)
		}
		step, err := decimal.NewFromString(strings.TrimSpace(bounds[2]))
		if err != nil {
			return nil, fmt.Errorf("param %q: invalid step: %w", name, err)
		}
		out[name] = types.ParamRange{Low: low, High: high, Step: step}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no parameter ranges parsed")
	}
	return out, nil
}

// applyParams merges best into the named strategy's "params" block in
// <configDir>/strategies.yaml, working against generic YAML nodes (rather
// than decoding through config.StrategyConfig, whose mapstructure tags
// don't match yaml.v3's own field-matching rules) so every other field and
// every other strategy's entry round-trips untouched.
func applyParams(configDir, strategyName string, best map[string]decimal.Decimal) error {
	path := filepath.Join(configDir, "strategies.yaml")
	var doc yaml.Node
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parse strategies.yaml: %w", err)
		}
	case os.IsNotExist(err):
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	default:
		return fmt.Errorf("read strategies.yaml: %w", err)
	}

	root := doc.Content[0]
	strategyNode := mapGet(root, strategyName)
	if strategyNode == nil {
		strategyNode = &yaml.Node{Kind: yaml.MappingNode}
		root.Content = append(root.Content, scalarNode(strategyName), strategyNode)
		mapSet(strategyNode, "id", scalarNode(strategyName))
		mapSet(strategyNode, "enabled", boolNode(true))
	}

	paramsNode := mapGet(strategyNode, "params")
	if paramsNode == nil {
		paramsNode = &yaml.Node{Kind: yaml.MappingNode}
		mapSet(strategyNode, "params", paramsNode)
	}
	for name, value := range best {
		mapSet(paramsNode, name, scalarNode(value.String()))
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode strategies.yaml: %w", err)
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("write strategies.yaml: %w", err)
	}
	return os.Rename(tmp, path)
}

func mapGet(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func mapSet(m *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content, scalarNode(key), value)
}

func scalarNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func boolNode(v bool) *yaml.Node {
	tag := "!!bool"
	val := "false"
	if v {
		val = "true"
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: val}
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
