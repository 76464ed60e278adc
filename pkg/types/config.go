// Package types provides configuration types for the trading backend.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SizingMethod selects a PositionSizer formula.
type SizingMethod string

const (
	SizingFixedUnits    SizingMethod = "FIXED_UNITS"
	SizingFixedAmount   SizingMethod = "FIXED_AMOUNT"
	SizingPercentEquity SizingMethod = "PERCENT_EQUITY"
	SizingPercentRisk   SizingMethod = "PERCENT_RISK"
	SizingATRBased      SizingMethod = "ATR_BASED"
	SizingKellyFraction SizingMethod = "KELLY_FRACTIONAL"
)

// StopLossMethod selects a StopManager SL formula.
type StopLossMethod string

const (
	StopLossATR              StopLossMethod = "atr_based"
	StopLossFixedPips        StopLossMethod = "fixed_pips"
	StopLossPercent          StopLossMethod = "percent"
	StopLossSupportResistance StopLossMethod = "support_resistance"
	StopLossChandelier       StopLossMethod = "chandelier"
)

// TakeProfitMethod selects a StopManager TP formula.
type TakeProfitMethod string

const (
	TakeProfitRRRatio          TakeProfitMethod = "rr_ratio"
	TakeProfitFixedPips        TakeProfitMethod = "fixed_pips"
	TakeProfitSupportResistance TakeProfitMethod = "support_resistance"
	TakeProfitATRBased         TakeProfitMethod = "atr_based"
)

// TrailingStopMethod selects a StopManager trailing-stop formula.
type TrailingStopMethod string

const (
	TrailingATRBased       TrailingStopMethod = "atr_based"
	TrailingFixedDistance  TrailingStopMethod = "fixed_distance"
	TrailingBreakeven      TrailingStopMethod = "breakeven"
	TrailingStep           TrailingStopMethod = "step"
)

// EnsembleMethod selects a SignalEnsemble combination rule.
type EnsembleMethod string

const (
	EnsembleWeightedVote   EnsembleMethod = "weighted_vote"
	EnsembleMajorityVote   EnsembleMethod = "majority_vote"
	EnsembleUnanimous      EnsembleMethod = "unanimous"
	EnsembleBestConfidence EnsembleMethod = "best_confidence"
	EnsembleRegimeWeighted EnsembleMethod = "regime_weighted"
)

// BacktestMode selects the backtest engine's driving loop.
type BacktestMode string

const (
	BacktestModeSimple       BacktestMode = "simple"
	BacktestModeWalkForward  BacktestMode = "walk_forward"
	BacktestModeOutOfSample  BacktestMode = "out_of_sample"
)

// BacktestConfig is the configuration for a single backtest run.
type BacktestConfig struct {
	ID             string         `json:"id" mapstructure:"id"`
	Strategies     []string       `json:"strategies" mapstructure:"strategies"`
	Symbols        []string       `json:"symbols" mapstructure:"symbols"`
	Broker         string         `json:"broker" mapstructure:"broker"`
	StartDate      time.Time      `json:"startDate" mapstructure:"start_date"`
	EndDate        time.Time      `json:"endDate" mapstructure:"end_date"`
	Timeframe      Timeframe      `json:"timeframe" mapstructure:"timeframe"`
	Mode           BacktestMode   `json:"mode" mapstructure:"mode"`
	InitialCapital decimal.Decimal `json:"initialCapital" mapstructure:"initial_capital"`
	Commission     CommissionConfig `json:"commission" mapstructure:"commission"`
	Slippage       SlippageConfig  `json:"slippage" mapstructure:"slippage"`
	RiskLimits     RiskLimits      `json:"riskLimits" mapstructure:"risk_limits"`
	WarmupBars     int             `json:"warmupBars" mapstructure:"warmup_bars"`
	Seed           int64           `json:"seed" mapstructure:"seed"`
	WalkForward    WalkForwardConfig `json:"walkForward,omitempty" mapstructure:"walk_forward"`
	OutOfSample    OutOfSampleConfig `json:"outOfSample,omitempty" mapstructure:"out_of_sample"`
	MonteCarlo     MonteCarloConfig  `json:"monteCarlo,omitempty" mapstructure:"monte_carlo"`
}

// CommissionConfig selects the per-asset-class commission model. The exact
// model for FUTURES/OPTIONS is underspecified upstream; both fall through to
// the stock (PerShare) rule, matching the reference implementation.
type CommissionConfig struct {
	Model      string                     `json:"model" mapstructure:"model"` // per_lot, percent, per_share, fixed
	PerLot     decimal.Decimal            `json:"perLot,omitempty" mapstructure:"per_lot"`
	Percent    decimal.Decimal            `json:"percent,omitempty" mapstructure:"percent"`
	PerShare   decimal.Decimal            `json:"perShare,omitempty" mapstructure:"per_share"`
	Fixed      decimal.Decimal            `json:"fixed,omitempty" mapstructure:"fixed"`
	ByAssetClass map[AssetClass]string    `json:"byAssetClass,omitempty" mapstructure:"by_asset_class"`
}

// SlippageConfig configures the SlippageModel.
type SlippageConfig struct {
	Model          string          `json:"model" mapstructure:"model"` // fixed_pips, percent, volatility_based, spread_based
	FixedPips      decimal.Decimal `json:"fixedPips,omitempty" mapstructure:"fixed_pips"`
	Percent        decimal.Decimal `json:"percent,omitempty" mapstructure:"percent"`
	ATRMultiplier  decimal.Decimal `json:"atrMultiplier,omitempty" mapstructure:"atr_multiplier"`
	PipSize        decimal.Decimal `json:"pipSize,omitempty" mapstructure:"pip_size"`
	PartialFillMin decimal.Decimal `json:"partialFillMin,omitempty" mapstructure:"partial_fill_min"`
	PartialFillMax decimal.Decimal `json:"partialFillMax,omitempty" mapstructure:"partial_fill_max"`
	RealisticMode  bool            `json:"realisticMode" mapstructure:"realistic_mode"`
	PartialFillPct decimal.Decimal `json:"partialFillProbability" mapstructure:"partial_fill_probability"`
}

// RiskLimits bounds exposure and drawdown at the portfolio level.
type RiskLimits struct {
	MaxPositionSize         decimal.Decimal `json:"maxPositionSize" mapstructure:"max_position_size"`
	MaxUnits                decimal.Decimal `json:"maxUnits" mapstructure:"max_units"`
	MaxRiskPerTradePct      decimal.Decimal `json:"maxRiskPerTradePct" mapstructure:"max_risk_per_trade_pct"`
	MaxDrawdownPct          decimal.Decimal `json:"maxDrawdownPct" mapstructure:"max_drawdown_pct"`
	MaxDailyLossPct         decimal.Decimal `json:"maxDailyLossPct" mapstructure:"max_daily_loss_pct"`
	MaxWeeklyLossPct        decimal.Decimal `json:"maxWeeklyLossPct" mapstructure:"max_weekly_loss_pct"`
	MinEquityThreshold      decimal.Decimal `json:"minEquityThreshold" mapstructure:"min_equity_threshold"`
	MaxOpenPositions        int             `json:"maxOpenPositions" mapstructure:"max_open_positions"`
	MaxExposurePerSymbolPct decimal.Decimal `json:"maxExposurePerSymbolPct" mapstructure:"max_exposure_per_symbol_pct"`
	MaxExposurePerClassPct  decimal.Decimal `json:"maxExposurePerClassPct" mapstructure:"max_exposure_per_class_pct"`
	MaxCorrelatedExposurePct decimal.Decimal `json:"maxCorrelatedExposurePct" mapstructure:"max_correlated_exposure_pct"`
	MaxCorrelatedPositions  int             `json:"maxCorrelatedPositions" mapstructure:"max_correlated_positions"`
	MaxConsecutiveLosses    int             `json:"maxConsecutiveLosses" mapstructure:"max_consecutive_losses"`
	MinRewardRiskRatio      decimal.Decimal `json:"minRewardRiskRatio" mapstructure:"min_reward_risk_ratio"`
	// EquityMismatchCriticalPct is the reconciler's escalate-to-kill-switch
	// threshold. The reference implementation hardcodes 1%; this exposes it
	// as a configurable value defaulting to the same 1%.
	EquityMismatchCriticalPct decimal.Decimal `json:"equityMismatchCriticalPct" mapstructure:"equity_mismatch_critical_pct"`
}

// SizingConfig configures the PositionSizer.
type SizingConfig struct {
	Method             SizingMethod    `json:"method" mapstructure:"method"`
	FixedUnits         decimal.Decimal `json:"fixedUnits,omitempty" mapstructure:"fixed_units"`
	FixedAmount        decimal.Decimal `json:"fixedAmount,omitempty" mapstructure:"fixed_amount"`
	PercentEquity      decimal.Decimal `json:"percentEquity,omitempty" mapstructure:"percent_equity"`
	RiskPercent        decimal.Decimal `json:"riskPercent,omitempty" mapstructure:"risk_percent"`
	ATRMultiplier      decimal.Decimal `json:"atrMultiplier,omitempty" mapstructure:"atr_multiplier"`
	KellyWinProbability decimal.Decimal `json:"kellyWinProbability,omitempty" mapstructure:"kelly_win_probability"`
	KellyWinLossRatio  decimal.Decimal `json:"kellyWinLossRatio,omitempty" mapstructure:"kelly_win_loss_ratio"`
	KellyFraction      decimal.Decimal `json:"kellyFraction,omitempty" mapstructure:"kelly_fraction"`
}

// StopConfig configures the StopManager.
type StopConfig struct {
	SLMethod        StopLossMethod      `json:"slMethod" mapstructure:"sl_method"`
	TPMethod        TakeProfitMethod    `json:"tpMethod" mapstructure:"tp_method"`
	TrailingMethod  TrailingStopMethod  `json:"trailingMethod" mapstructure:"trailing_method"`
	ATRMultiplierSL decimal.Decimal     `json:"atrMultiplierSl" mapstructure:"atr_multiplier_sl"`
	ATRMultiplierTrailing decimal.Decimal `json:"atrMultiplierTrailing" mapstructure:"atr_multiplier_trailing"`
	FixedPipsSL     decimal.Decimal     `json:"fixedPipsSl,omitempty" mapstructure:"fixed_pips_sl"`
	PercentSL       decimal.Decimal     `json:"percentSl,omitempty" mapstructure:"percent_sl"`
	RRRatio         decimal.Decimal     `json:"rrRatio" mapstructure:"rr_ratio"`
	BreakevenAfterR decimal.Decimal     `json:"breakevenAfterR" mapstructure:"breakeven_after_r"`
	StepR           decimal.Decimal     `json:"stepR" mapstructure:"step_r"`
	MaxHoldBars     map[Timeframe]int   `json:"maxHoldBars,omitempty" mapstructure:"max_hold_bars"`
}

// EnsembleConfig configures the SignalEnsemble.
type EnsembleConfig struct {
	Method                EnsembleMethod  `json:"method" mapstructure:"method"`
	WaitThreshold         decimal.Decimal `json:"waitThreshold" mapstructure:"wait_threshold"`
	ContradictionThreshold decimal.Decimal `json:"contradictionThreshold" mapstructure:"contradiction_threshold"`
	ContradictionConfidenceCap decimal.Decimal `json:"contradictionConfidenceCap" mapstructure:"contradiction_confidence_cap"`
	RegimeBoostMultiplier decimal.Decimal `json:"regimeBoostMultiplier" mapstructure:"regime_boost_multiplier"`
	StrategyWeights       map[string]decimal.Decimal `json:"strategyWeights,omitempty" mapstructure:"strategy_weights"`
}

// WalkForwardConfig configures the WalkForwardAnalyzer.
type WalkForwardConfig struct {
	Enabled    bool `json:"enabled" mapstructure:"enabled"`
	WindowDays int  `json:"windowDays" mapstructure:"window_days"`
	StepDays   int  `json:"stepDays" mapstructure:"step_days"`
	MinWindows int  `json:"minWindows" mapstructure:"min_windows"`
}

// OutOfSampleConfig configures the OutOfSampleValidator.
type OutOfSampleConfig struct {
	Enabled    bool            `json:"enabled" mapstructure:"enabled"`
	OOSPct     decimal.Decimal `json:"oosPct" mapstructure:"oos_pct"`
	PurgeBars  int             `json:"purgeBars" mapstructure:"purge_bars"`
}

// MonteCarloConfig configures the Monte Carlo simulator.
type MonteCarloConfig struct {
	Enabled         bool            `json:"enabled" mapstructure:"enabled"`
	Iterations      int             `json:"iterations" mapstructure:"iterations"`
	ConfidenceLevel decimal.Decimal `json:"confidenceLevel" mapstructure:"confidence_level"`
	ShuffleReturns  bool            `json:"shuffleReturns" mapstructure:"shuffle_returns"`
	Seed            int64           `json:"seed" mapstructure:"seed"`
}

// OptimizationConfig configures the StrategyOptimizer.
type OptimizationConfig struct {
	Strategy     string                 `json:"strategy" mapstructure:"strategy"`
	ParamRanges  map[string]ParamRange  `json:"paramRanges" mapstructure:"param_ranges"`
	NTrials      int                    `json:"nTrials" mapstructure:"n_trials"`
	Metric       string                 `json:"metric" mapstructure:"metric"`
	Seed         int64                  `json:"seed" mapstructure:"seed"`
	PenaltyLambda decimal.Decimal       `json:"penaltyLambda" mapstructure:"penalty_lambda"`
	PenaltyMu     decimal.Decimal       `json:"penaltyMu" mapstructure:"penalty_mu"`
}

// ParamRange is "name=lo:hi:step" parsed into bounds.
type ParamRange struct {
	Low  decimal.Decimal `json:"low" mapstructure:"low"`
	High decimal.Decimal `json:"high" mapstructure:"high"`
	Step decimal.Decimal `json:"step" mapstructure:"step"`
}

// KillSwitchConfig configures KillSwitch trigger thresholds.
type KillSwitchConfig struct {
	MaxDailyDrawdownPct   decimal.Decimal `json:"maxDailyDrawdownPct" mapstructure:"max_daily_drawdown_pct"`
	MaxWeeklyDrawdownPct  decimal.Decimal `json:"maxWeeklyDrawdownPct" mapstructure:"max_weekly_drawdown_pct"`
	MinEquityThreshold    decimal.Decimal `json:"minEquityThreshold" mapstructure:"min_equity_threshold"`
	MaxConsecutiveLosses  int             `json:"maxConsecutiveLosses" mapstructure:"max_consecutive_losses"`
	MaxAPIErrorRate       decimal.Decimal `json:"maxApiErrorRate" mapstructure:"max_api_error_rate"`
	MaxLatencyMs          int             `json:"maxLatencyMs" mapstructure:"max_latency_ms"`
	MaxFillDeviationPct   decimal.Decimal `json:"maxFillDeviationPct" mapstructure:"max_fill_deviation_pct"`
	CooldownPeriod        time.Duration   `json:"cooldownPeriod" mapstructure:"cooldown_period"`
}

// RetryConfig configures the RetryHandler.
type RetryConfig struct {
	BaseDelay   time.Duration `json:"baseDelay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `json:"maxDelay" mapstructure:"max_delay"`
	MaxAttempts int           `json:"maxAttempts" mapstructure:"max_attempts"`
	JitterPct   decimal.Decimal `json:"jitterPct" mapstructure:"jitter_pct"`
}

// ServerConfig configures the optional HTTP/WS demo surface.
type ServerConfig struct {
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	WebSocketPath  string        `json:"websocketPath" mapstructure:"websocket_path"`
	ReadTimeout    time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
	MaxConnections int           `json:"maxConnections" mapstructure:"max_connections"`
	EnableMetrics  bool          `json:"enableMetrics" mapstructure:"enable_metrics"`
	MetricsPort    int           `json:"metricsPort" mapstructure:"metrics_port"`
}

// DataConfig configures storage.
type DataConfig struct {
	DataDir         string `json:"dataDir" mapstructure:"data_dir"`
	CacheTTLMinutes int    `json:"cacheTtlMinutes" mapstructure:"cache_ttl_minutes"`
	TickCacheTTLSeconds int `json:"tickCacheTtlSeconds" mapstructure:"tick_cache_ttl_seconds"`
	MetadataDBPath  string `json:"metadataDbPath" mapstructure:"metadata_db_path"`
}

// BacktestResult is the full output of one backtest run.
type BacktestResult struct {
	ID                string              `json:"id"`
	Config            *BacktestConfig     `json:"config"`
	Metrics           *BacktestMetrics    `json:"metrics"`
	EquityCurve       []EquityCurvePoint  `json:"equityCurve"`
	Trades            []BacktestTrade     `json:"trades"`
	WalkForwardResult *WalkForwardSummary `json:"walkForwardResult,omitempty"`
	OutOfSampleResult *OutOfSampleResult  `json:"outOfSampleResult,omitempty"`
	MonteCarloResult  *MonteCarloResult   `json:"monteCarloResult,omitempty"`
	StartedAt         time.Time           `json:"startedAt"`
	CompletedAt       time.Time           `json:"completedAt"`
	Duration          time.Duration       `json:"duration"`
	EventsProcessed   uint64              `json:"eventsProcessed"`
}

// WalkForwardSummary is the rolled-up output of the WalkForwardAnalyzer.
type WalkForwardSummary struct {
	Windows               []WalkForwardWindow `json:"windows"`
	AvgDegradationScore   decimal.Decimal     `json:"avgDegradationScore"`
	PctWindowsProfitable  decimal.Decimal     `json:"pctWindowsProfitable"`
	SharpeStability       decimal.Decimal     `json:"sharpeStability"`
	Verdict               string              `json:"verdict"` // robust, marginal, overfit
}

// OutOfSampleResult is the output of the OutOfSampleValidator.
type OutOfSampleResult struct {
	InSampleMetrics  *BacktestMetrics `json:"inSampleMetrics"`
	OutSampleMetrics *BacktestMetrics `json:"outSampleMetrics"`
	SharpeRatio      decimal.Decimal  `json:"sharpeRatio"` // oos/is
	ProfitFactorRatio decimal.Decimal `json:"profitFactorRatio"`
	Verdict          string           `json:"verdict"` // validated, marginal, overfit
}

// MonteCarloResult represents Monte Carlo simulation results.
type MonteCarloResult struct {
	Iterations      int               `json:"iterations"`
	MedianReturn    decimal.Decimal   `json:"medianReturn"`
	P5Return        decimal.Decimal   `json:"p5Return"`
	P95Return       decimal.Decimal   `json:"p95Return"`
	ProbabilityRuin decimal.Decimal   `json:"probabilityRuin"`
	MaxDrawdownP95  decimal.Decimal   `json:"maxDrawdownP95"`
	Distribution    []decimal.Decimal `json:"distribution"`
}

// OptimizationResult is the output of the StrategyOptimizer.
type OptimizationResult struct {
	BestParams         map[string]decimal.Decimal `json:"bestParams"`
	BestScore          decimal.Decimal            `json:"bestScore"`
	Trials             int                        `json:"trials"`
	ParameterImportance map[string]decimal.Decimal `json:"parameterImportance"`
	OverfittingRisk     string                     `json:"overfittingRisk"` // low, medium, high
	Verdict             string                     `json:"verdict"`         // use_params, use_defaults, strategy_not_viable
}

// BacktestProgress represents the progress of a running backtest.
type BacktestProgress struct {
	ID              string          `json:"id"`
	Status          string          `json:"status"` // running, completed, failed, cancelled
	Progress        float64         `json:"progress"`
	EventsProcessed uint64          `json:"eventsProcessed"`
	TotalEvents     uint64          `json:"totalEvents"`
	CurrentDate     time.Time       `json:"currentDate"`
	TradesExecuted  int             `json:"tradesExecuted"`
	CurrentEquity   decimal.Decimal `json:"currentEquity"`
	Error           string          `json:"error,omitempty"`
}
