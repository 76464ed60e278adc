// Package config loads the runtime's seven YAML sections into one merged
// tree, applies ATP_<SECTION>__<KEY> environment overrides on top, and
// supports hot reload where a malformed file is rejected without disturbing
// the previously loaded config.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// sections names the seven config files, in the order they're merged.
// Later sections never shadow earlier ones: each lives under its own
// top-level viper key matching its filename stem.
var sections = []string{
	"system", "brokers", "strategies", "indicators", "signals", "risk", "backtest",
}

// BrokerConfig describes one connector's wiring. Credentials are read from
// the named environment variables, never stored in the YAML tree itself.
type BrokerConfig struct {
	Kind            string          `mapstructure:"kind"` // paper, rest, ws
	BaseURL         string          `mapstructure:"base_url"`
	WSURL           string          `mapstructure:"ws_url"`
	Sandbox         bool            `mapstructure:"sandbox"`
	APIKeyEnv       string          `mapstructure:"api_key_env"`
	APISecretEnv    string          `mapstructure:"api_secret_env"`
	RateLimitPerSec decimal.Decimal `mapstructure:"rate_limit_per_sec"`
	AssetClasses    []types.AssetClass `mapstructure:"asset_classes"`
	Symbols         []string        `mapstructure:"symbols"`
	Timeframes      []types.Timeframe `mapstructure:"timeframes"`
}

// StrategyConfig wires a strategy plugin into the signals.Ensemble.
type StrategyConfig struct {
	ID           string                     `mapstructure:"id"`
	Enabled      bool                       `mapstructure:"enabled"`
	Weight       decimal.Decimal            `mapstructure:"weight"`
	AssetClasses []types.AssetClass         `mapstructure:"asset_classes"`
	Timeframes   []types.Timeframe          `mapstructure:"timeframes"`
	Params       map[string]decimal.Decimal `mapstructure:"params"`
}

// IndicatorConfig wires one indicator into the compute/cache contract.
type IndicatorConfig struct {
	ID        string                     `mapstructure:"id"`
	Params    map[string]decimal.Decimal `mapstructure:"params"`
	CacheTTL  time.Duration              `mapstructure:"cache_ttl"`
	CacheSize int                        `mapstructure:"cache_size"`
}

// SystemConfig is system.yaml: process-wide, non-domain settings.
type SystemConfig struct {
	Environment string             `mapstructure:"environment"` // dev, paper, live
	LogLevel    string             `mapstructure:"log_level"`
	Server      types.ServerConfig `mapstructure:"server"`
	Data        types.DataConfig   `mapstructure:"data"`
}

// SignalsConfig is signals.yaml: the ensemble, engine, and filter tunables.
type SignalsConfig struct {
	Ensemble            types.EnsembleConfig `mapstructure:"ensemble"`
	LookbackBars        int                  `mapstructure:"lookback_bars"`
	MaxActiveSignals    int                  `mapstructure:"max_active_signals"`
	CooldownBars        int                  `mapstructure:"cooldown_bars"`
	MaxSignalsPerHour   int                  `mapstructure:"max_signals_per_hour"`
	PauseAfterLosses    int                  `mapstructure:"pause_after_losses"`
	PauseDuration       time.Duration        `mapstructure:"pause_duration"`
	MaxCorrelatedGroup  int                  `mapstructure:"max_correlated_group"`
}

// RiskConfig is risk.yaml: the Manager's full tunable set plus retry policy.
type RiskConfig struct {
	Limits     types.RiskLimits     `mapstructure:"limits"`
	Stops      types.StopConfig     `mapstructure:"stops"`
	KillSwitch types.KillSwitchConfig `mapstructure:"kill_switch"`
	Retry      types.RetryConfig    `mapstructure:"retry"`
}

// Root is the fully merged, decoded configuration tree.
type Root struct {
	System     SystemConfig                `mapstructure:"system"`
	Brokers    map[string]BrokerConfig      `mapstructure:"brokers"`
	Strategies map[string]StrategyConfig    `mapstructure:"strategies"`
	Indicators map[string]IndicatorConfig   `mapstructure:"indicators"`
	Signals    SignalsConfig                `mapstructure:"signals"`
	Risk       RiskConfig                   `mapstructure:"risk"`
	Backtest   types.BacktestConfig         `mapstructure:"backtest"`
}

// envPrefix is the ATP_<SECTION>__<KEY>[__<SUBKEY>...] convention's prefix.
const envPrefix = "ATP_"

// decimalHookFunc decodes a YAML scalar (string, int, or float) into a
// decimal.Decimal, so config authors can write percent/price fields as
// plain numbers or quoted strings interchangeably.
func decimalHookFunc() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(decimal.Decimal{}) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if v == "" {
				return decimal.Decimal{}, nil
			}
			return decimal.NewFromString(v)
		case float64:
			return decimal.NewFromFloat(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		default:
			return data, nil
		}
	}
}

// durationHookFunc decodes a duration string ("30s", "5m") via
// time.ParseDuration; viper's own string->duration hook only accepts a
// subset, and Root nests durations deep inside maps mapstructure handles
// directly rather than through viper's top-level unmarshal path.
func durationHookFunc() mapstructure.DecodeHookFunc {
	return mapstructure.StringToTimeDurationHookFunc()
}

// Loader reads the seven section files from a directory into one Root, and
// can watch that directory for changes.
type Loader struct {
	logger *zap.Logger
	dir    string
	v      *viper.Viper

	mu  sync.Mutex
	cur *Root
}

// NewLoader constructs a Loader rooted at dir, which must contain some
// subset of system.yaml, brokers.yaml, strategies.yaml, indicators.yaml,
// signals.yaml, risk.yaml, backtest.yaml. Missing files are tolerated; a
// missing section simply decodes to its zero value.
func NewLoader(logger *zap.Logger, dir string) *Loader {
	return &Loader{logger: logger.Named("config"), dir: dir, v: viper.New()}
}

// Load reads every section file plus environment overrides and decodes the
// result into a Root. On success it becomes the Loader's current config.
func (l *Loader) Load() (*Root, error) {
	return l.loadWithEnviron(os.Environ())
}

func (l *Loader) loadWithEnviron(environ []string) (*Root, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	for _, section := range sections {
		path := filepath.Join(l.dir, section+".yaml")
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("config: read %s: %w", section, err)
		}
		sv := viper.New()
		sv.SetConfigType("yaml")
		if err := sv.ReadConfig(strings.NewReader(string(raw))); err != nil {
			return nil, fmt.Errorf("config: parse %s.yaml: %w", section, err)
		}
		v.Set(section, sv.AllSettings())
	}

	applyEnvOverrides(v, environ)

	root := &Root{}
	dec := mapstructure.DecoderConfig{
		Result:           root,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			decimalHookFunc(),
			durationHookFunc(),
		),
	}
	decoder, err := mapstructure.NewDecoder(&dec)
	if err != nil {
		return nil, fmt.Errorf("config: build decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := validate(root); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	l.mu.Lock()
	l.cur = root
	l.v = v
	l.mu.Unlock()
	return root, nil
}

// Current returns the last successfully loaded Root, or nil if Load has
// never succeeded.
func (l *Loader) Current() *Root {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur
}

// Watch watches the loader's directory for section-file changes and calls
// onChange with each successfully reloaded Root. A write that fails to
// parse or validate is logged and discarded; Current keeps returning the
// last good Root, matching the ConfigInvalid behavior of leaving the
// running system on its previous configuration. Watch blocks until ctx is
// cancelled or the watcher itself fails to start.
func (l *Loader) Watch(ctx context.Context, onChange func(*Root)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", l.dir, err)
	}

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !pending {
				pending = true
				debounce.Reset(200 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("watcher error", zap.Error(err))
		case <-debounce.C:
			pending = false
			root, err := l.Load()
			if err != nil {
				l.logger.Error("config reload rejected, keeping previous config", zap.Error(err))
				continue
			}
			l.logger.Info("config reloaded")
			if onChange != nil {
				onChange(root)
			}
		}
	}
}

// validate applies the structural checks that fail a load rather than fall
// back to defaults: every broker needs a non-empty kind, and an enabled
// strategy's weight must not be negative. Sizing and ensemble methods and
// risk caps are not checked here.
func validate(r *Root) error {
	for name, bc := range r.Brokers {
		if bc.Kind == "" {
			return fmt.Errorf("broker %q: kind is required", name)
		}
	}
	for name, sc := range r.Strategies {
		if sc.Enabled && sc.Weight.IsNegative() {
			return fmt.Errorf("strategy %q: weight must be >= 0", name)
		}
	}
	return nil
}

// applyEnvOverrides scans env for ATP_<SECTION>__<KEY>[__<SUBKEY>...]
// variables and sets the corresponding dotted path on v. The value is
// parsed as YAML so overrides can carry numbers, bools, lists, or strings
// with the same syntax the file itself would use.
func applyEnvOverrides(v *viper.Viper, environ []string) {
	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, raw := kv[:eq], kv[eq+1:]
		if !strings.HasPrefix(key, envPrefix) {
			continue
		}
		rest := strings.TrimPrefix(key, envPrefix)
		parts := strings.Split(rest, "__")
		if len(parts) < 2 {
			continue
		}
		path := make([]string, len(parts))
		for i, p := range parts {
			path[i] = strings.ToLower(p)
		}

		var val interface{}
		if err := yaml.Unmarshal([]byte(raw), &val); err != nil {
			val = raw
		}
		v.Set(strings.Join(path, "."), val)
	}
}
