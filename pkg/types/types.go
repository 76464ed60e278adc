// Package types provides shared type definitions for the trading backend.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// TimeInForce controls how long an order remains active.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
	TimeInForceDay TimeInForce = "day"
)

// OrderStatus represents the lifecycle status of an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// InFlight reports whether the order is still subject to idempotency dedup.
func (s OrderStatus) InFlight() bool {
	switch s {
	case OrderStatusPending, OrderStatusSubmitted, OrderStatusPartiallyFilled, OrderStatusFilled:
		return true
	default:
		return false
	}
}

// PositionSide represents long or short.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// PositionStatus represents the lifecycle status of a position.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
)

// Direction is a strategy/ensemble directional recommendation.
type Direction string

const (
	DirectionBuy     Direction = "BUY"
	DirectionSell    Direction = "SELL"
	DirectionWait    Direction = "WAIT"
	DirectionNoTrade Direction = "NO_TRADE"
)

// Signed maps a Direction to the numeric sign used by ensemble scoring.
// NO_TRADE is a soft negative (-0.15) rather than a hard -1, matching the
// reference ensemble's treatment of "actively avoid" versus "go short".
func (d Direction) Signed() float64 {
	switch d {
	case DirectionBuy:
		return 1
	case DirectionSell:
		return -1
	case DirectionNoTrade:
		return -0.15
	default:
		return 0
	}
}

// Actionable reports whether a direction can be turned into an order.
func (d Direction) Actionable() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Strength buckets a confidence score into a human-facing label.
type Strength string

const (
	StrengthNone     Strength = "NONE"
	StrengthWeak     Strength = "WEAK"
	StrengthModerate Strength = "MODERATE"
	StrengthStrong   Strength = "STRONG"
)

// StrengthFromConfidence applies the fixed confidence bands.
func StrengthFromConfidence(confidence float64) Strength {
	switch {
	case confidence >= 0.75:
		return StrengthStrong
	case confidence >= 0.55:
		return StrengthModerate
	case confidence >= 0.40:
		return StrengthWeak
	default:
		return StrengthNone
	}
}

// Timeframe represents a bar aggregation interval.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Duration returns the nominal interval covered by one bar of this timeframe.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// AssetClass groups symbols for session/commission/correlation purposes.
type AssetClass string

const (
	AssetClassForex     AssetClass = "forex"
	AssetClassCrypto    AssetClass = "crypto"
	AssetClassEquity    AssetClass = "equity"
	AssetClassFuture    AssetClass = "future"
	AssetClassOption    AssetClass = "option"
	AssetClassIndex     AssetClass = "index"
	AssetClassCommodity AssetClass = "commodity"
)

// RegimeTrend is a five-valued trend classification.
type RegimeTrend string

const (
	TrendStrongUp   RegimeTrend = "STRONG_UPTREND"
	TrendWeakUp     RegimeTrend = "WEAK_UPTREND"
	TrendRanging    RegimeTrend = "RANGING"
	TrendWeakDown   RegimeTrend = "WEAK_DOWNTREND"
	TrendStrongDown RegimeTrend = "STRONG_DOWNTREND"
)

// RegimeVolatility is a five-bucket volatility classification.
type RegimeVolatility string

const (
	VolatilityVeryLow RegimeVolatility = "VERY_LOW"
	VolatilityLow     RegimeVolatility = "LOW"
	VolatilityNormal  RegimeVolatility = "NORMAL"
	VolatilityHigh    RegimeVolatility = "HIGH"
	VolatilityExtreme RegimeVolatility = "EXTREME"
)

// RegimeLiquidity is a three-valued liquidity classification.
type RegimeLiquidity string

const (
	LiquidityGood     RegimeLiquidity = "GOOD"
	LiquidityThin     RegimeLiquidity = "THIN"
	LiquidityIlliquid RegimeLiquidity = "ILLIQUID"
)

// OHLCVBar is an immutable aggregate of trades over one timeframe interval.
type OHLCVBar struct {
	Symbol     string          `json:"symbol"`
	Broker     string          `json:"broker"`
	Timeframe  Timeframe       `json:"timeframe"`
	TsOpen     time.Time       `json:"tsOpen"`
	TsClose    time.Time       `json:"tsClose"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	TickCount  int             `json:"tickCount,omitempty"`
	Spread     decimal.Decimal `json:"spread,omitempty"`
	AssetClass AssetClass      `json:"assetClass"`
	Source     string          `json:"source"`
}

// Validate enforces the bar invariants from the data model.
func (b OHLCVBar) Validate() error {
	if b.TsOpen.Location() == nil || b.TsClose.Location() == nil {
		return fmt.Errorf("ohlcv bar: naive timestamp not permitted")
	}
	if !b.TsClose.After(b.TsOpen) {
		return fmt.Errorf("ohlcv bar: ts_close must be after ts_open")
	}
	if b.Open.LessThanOrEqual(decimal.Zero) || b.High.LessThanOrEqual(decimal.Zero) ||
		b.Low.LessThanOrEqual(decimal.Zero) || b.Close.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("ohlcv bar: prices must be > 0")
	}
	hi := decimal.Max(b.Open, b.Close)
	lo := decimal.Min(b.Open, b.Close)
	if b.High.LessThan(hi) || hi.LessThan(lo) || lo.LessThan(b.Low) {
		return fmt.Errorf("ohlcv bar: low <= min(open,close) <= max(open,close) <= high violated")
	}
	if b.Volume.IsNegative() {
		return fmt.Errorf("ohlcv bar: volume must be >= 0")
	}
	return nil
}

// Tick is a single bid/ask snapshot.
type Tick struct {
	Symbol     string          `json:"symbol"`
	Broker     string          `json:"broker"`
	Ts         time.Time       `json:"ts"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Last       decimal.Decimal `json:"last,omitempty"`
	Volume     decimal.Decimal `json:"volume,omitempty"`
	Spread     decimal.Decimal `json:"spread,omitempty"`
	AssetClass AssetClass      `json:"assetClass"`
	Source     string          `json:"source"`
}

// Validate enforces the tick invariants and derives spread when absent.
func (t *Tick) Validate() error {
	if t.Ts.Location() == nil {
		return fmt.Errorf("tick: naive timestamp not permitted")
	}
	if t.Bid.LessThanOrEqual(decimal.Zero) || t.Ask.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("tick: bid and ask must be > 0")
	}
	if t.Bid.GreaterThan(t.Ask) {
		return fmt.Errorf("tick: bid must be <= ask")
	}
	if t.Spread.IsZero() {
		t.Spread = t.Ask.Sub(t.Bid)
	}
	return nil
}

// Mid returns the midpoint price.
func (t Tick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// Reason documents one contributing factor behind a signal or decision.
type Reason struct {
	Factor       string          `json:"factor"`
	Value        decimal.Decimal `json:"value"`
	Contribution decimal.Decimal `json:"contribution"` // in [-1, 1]
	Weight       decimal.Decimal `json:"weight"`       // in [0, 1]
	Description  string          `json:"description"`
	Direction    Direction       `json:"direction"`
	Source       string          `json:"source"`
}

// Signal is a strategy's directional recommendation, frozen once emitted.
type Signal struct {
	SignalID   string          `json:"signalId"`
	StrategyID string          `json:"strategyId"`
	Version    string          `json:"version"`
	Symbol     string          `json:"symbol"`
	Broker     string          `json:"broker"`
	Timeframe  Timeframe       `json:"timeframe"`
	Ts         time.Time       `json:"ts"`
	RunID      string          `json:"runId"`
	Direction  Direction       `json:"direction"`
	Strength   Strength        `json:"strength"`
	RawScore   decimal.Decimal `json:"rawScore"` // in [-100, 100]
	Confidence decimal.Decimal `json:"confidence"`
	Reasons    []Reason        `json:"reasons"`
	Regime     *MarketRegime   `json:"regime,omitempty"`
	Horizon    string          `json:"horizon"`
	EntryPrice decimal.Decimal `json:"entryPrice,omitempty"`
	ExpiresAt  *time.Time      `json:"expiresAt,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// EnsembleResult aggregates contributing signals into one decision.
type EnsembleResult struct {
	RunID              string          `json:"runId"`
	Symbol             string          `json:"symbol"`
	Ts                 time.Time       `json:"ts"`
	Method             string          `json:"method"`
	FinalDirection     Direction       `json:"finalDirection"`
	FinalConfidence    decimal.Decimal `json:"finalConfidence"`
	AgreementScore     decimal.Decimal `json:"agreementScore"`
	ContradictionScore decimal.Decimal `json:"contradictionScore"`
	Regime             *MarketRegime   `json:"regime,omitempty"`
	Contributing       []Signal        `json:"contributing"`
	Blocked            []BlockedSignal `json:"blocked"`
	TopReasons         []Reason        `json:"topReasons"`
}

// BlockedSignal records a candidate signal rejected by the filter chain.
type BlockedSignal struct {
	StrategyID string `json:"strategyId"`
	Reason     string `json:"reason"`
}

// DecisionResult is the user-facing packaging of an EnsembleResult.
type DecisionResult struct {
	Symbol        string          `json:"symbol"`
	Direction     Direction       `json:"direction"`
	Display       string          `json:"display"`
	Color         string          `json:"color"`
	ConfidencePct decimal.Decimal `json:"confidencePct"`
	ValidUntil    time.Time       `json:"validUntil"`
	AssetClass    AssetClass      `json:"assetClass"`
	HumanHorizon  string          `json:"humanHorizon"`
}

// RiskCheckStatus is the outcome of a RiskCheck.
type RiskCheckStatus string

const (
	RiskCheckApproved RiskCheckStatus = "APPROVED"
	RiskCheckRejected RiskCheckStatus = "REJECTED"
	RiskCheckModified RiskCheckStatus = "MODIFIED"
)

// RiskCheck is the risk manager's validated, sized, stopped order intent.
type RiskCheck struct {
	CheckID           string          `json:"checkId"`
	SignalID          string          `json:"signalId"`
	Status            RiskCheckStatus `json:"status"`
	ApprovedSize      decimal.Decimal `json:"approvedSize"`
	ApprovedSide      OrderSide       `json:"approvedSide,omitempty"`
	SuggestedSL       decimal.Decimal `json:"suggestedSl,omitempty"`
	SuggestedTP       decimal.Decimal `json:"suggestedTp,omitempty"`
	SuggestedTrailing decimal.Decimal `json:"suggestedTrailing,omitempty"`
	RiskAmount        decimal.Decimal `json:"riskAmount"`
	RiskPercent       decimal.Decimal `json:"riskPercent"`
	RewardRiskRatio   decimal.Decimal `json:"rewardRiskRatio"`
	RejectionReasons  []string        `json:"rejectionReasons,omitempty"`
	Warnings          []string        `json:"warnings,omitempty"`
	WasCapped         bool            `json:"wasCapped,omitempty"`
	CapReason         string          `json:"capReason,omitempty"`
	PortfolioSnapshot map[string]any  `json:"portfolioSnapshot,omitempty"`
}

// Order is a tracked instruction sent (or about to be sent) to a broker.
type Order struct {
	OrderID        string          `json:"orderId"`
	BrokerOrderID  string          `json:"brokerOrderId,omitempty"`
	ClientOrderID  string          `json:"clientOrderId"`
	SignalID       string          `json:"signalId"`
	RiskCheckID    string          `json:"riskCheckId"`
	Symbol         string          `json:"symbol"`
	Broker         string          `json:"broker"`
	Side           OrderSide       `json:"side"`
	Type           OrderType       `json:"type"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price,omitempty"`
	StopPrice      decimal.Decimal `json:"stopPrice,omitempty"`
	SL             decimal.Decimal `json:"sl,omitempty"`
	TP             decimal.Decimal `json:"tp,omitempty"`
	Trailing       decimal.Decimal `json:"trailing,omitempty"`
	TIF            TimeInForce     `json:"tif"`
	Status         OrderStatus     `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	FilledQuantity decimal.Decimal `json:"filledQuantity"`
	AvgFillPrice   decimal.Decimal `json:"avgFillPrice,omitempty"`
	Commission     decimal.Decimal `json:"commission"`
	Slippage       decimal.Decimal `json:"slippage"`
	RejectReason   string          `json:"rejectReason,omitempty"`
	RetryCount     int             `json:"retryCount"`
	IsPaper        bool            `json:"isPaper"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// Fill is an append-only execution record applied to an order and position.
type Fill struct {
	FillID       string          `json:"fillId"`
	OrderID      string          `json:"orderId"`
	BrokerFillID string          `json:"brokerFillId,omitempty"`
	Symbol       string          `json:"symbol"`
	Side         OrderSide       `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Commission   decimal.Decimal `json:"commission"`
	Ts           time.Time       `json:"ts"`
	IsPartial    bool            `json:"isPartial"`
	IsPaper      bool            `json:"isPaper"`
}

// Position is a tracked open, closing, or closed exposure in one symbol.
type Position struct {
	PositionID      string            `json:"positionId"`
	Symbol          string            `json:"symbol"`
	Broker          string            `json:"broker"`
	Side            PositionSide      `json:"side"`
	Quantity        decimal.Decimal   `json:"quantity"`
	EntryPrice      decimal.Decimal   `json:"entryPrice"`
	CurrentPrice    decimal.Decimal   `json:"currentPrice"`
	SL              decimal.Decimal   `json:"sl,omitempty"`
	TP              decimal.Decimal   `json:"tp,omitempty"`
	TrailingStopPx  decimal.Decimal   `json:"trailingStopPrice,omitempty"`
	Status          PositionStatus    `json:"status"`
	OpenedAt        time.Time         `json:"openedAt"`
	ClosedAt        *time.Time        `json:"closedAt,omitempty"`
	ClosePrice      decimal.Decimal   `json:"closePrice,omitempty"`
	UnrealizedPnL   decimal.Decimal   `json:"unrealizedPnl"`
	RealizedPnL     decimal.Decimal   `json:"realizedPnl,omitempty"`
	CommissionTotal decimal.Decimal   `json:"commissionTotal"`
	SignalID        string            `json:"signalId"`
	StrategyID      string            `json:"strategyId"`
	AssetClass      AssetClass        `json:"assetClass"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// ContractSize returns the position's contract_size metadata, defaulting to 1.
func (p Position) ContractSize() decimal.Decimal {
	if v, ok := p.Metadata["contract_size"]; ok {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.NewFromInt(1)
}

// Account is the broker-reported account snapshot.
type Account struct {
	AccountID  string          `json:"accountId"`
	Broker     string          `json:"broker"`
	Balance    decimal.Decimal `json:"balance"`
	MarginUsed decimal.Decimal `json:"marginUsed"`
	Currency   string          `json:"currency"`
	Leverage   decimal.Decimal `json:"leverage"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Equity returns balance + unrealized pnl across open positions.
func (a Account) Equity(unrealizedPnL decimal.Decimal) decimal.Decimal {
	return a.Balance.Add(unrealizedPnL)
}

// MarginFree returns max(equity - margin_used, 0).
func (a Account) MarginFree(equity decimal.Decimal) decimal.Decimal {
	free := equity.Sub(a.MarginUsed)
	if free.IsNegative() {
		return decimal.Zero
	}
	return free
}

// MarketRegime is the output contract of the regime detector.
type MarketRegime struct {
	Symbol                string                     `json:"symbol"`
	Timeframe             Timeframe                  `json:"timeframe"`
	Ts                    time.Time                  `json:"ts"`
	Trend                 RegimeTrend                `json:"trend"`
	Volatility            RegimeVolatility            `json:"volatility"`
	Liquidity             RegimeLiquidity            `json:"liquidity"`
	IsTradeable           bool                       `json:"isTradeable"`
	NoTradeReasons        []string                   `json:"noTradeReasons,omitempty"`
	Confidence            decimal.Decimal            `json:"confidence"`
	RecommendedStrategies []string                   `json:"recommendedStrategies,omitempty"`
	Metrics               map[string]decimal.Decimal `json:"metrics,omitempty"`
}

// BacktestTrade is an entry/exit snapshot of one round-trip trade.
type BacktestTrade struct {
	Symbol            string          `json:"symbol"`
	StrategyID        string          `json:"strategyId"`
	Side              PositionSide    `json:"side"`
	EntryTime         time.Time       `json:"entryTime"`
	ExitTime          time.Time       `json:"exitTime"`
	EntryPrice        decimal.Decimal `json:"entryPrice"`
	ExitPrice         decimal.Decimal `json:"exitPrice"`
	Quantity          decimal.Decimal `json:"quantity"`
	PnL               decimal.Decimal `json:"pnl"`
	PnLNet            decimal.Decimal `json:"pnlNet"`
	Commission        decimal.Decimal `json:"commission"`
	Slippage          decimal.Decimal `json:"slippage"`
	BarsHeld          int             `json:"barsHeld"`
	ExitReason        string          `json:"exitReason"`
	RMultiple         decimal.Decimal `json:"rMultiple"`
	RegimeAtEntry     RegimeTrend      `json:"regimeAtEntry,omitempty"`
	VolatilityAtEntry RegimeVolatility `json:"volatilityAtEntry,omitempty"`
	SignalConfidence  decimal.Decimal `json:"signalConfidence"`
	MAE               decimal.Decimal `json:"mae"`
	MFE               decimal.Decimal `json:"mfe"`
}

// BacktestMetrics is the scalar performance summary over a set of trades.
type BacktestMetrics struct {
	TotalTrades             int                        `json:"totalTrades"`
	WinningTrades           int                        `json:"winningTrades"`
	LosingTrades            int                        `json:"losingTrades"`
	BreakevenTrades         int                        `json:"breakevenTrades"`
	WinRate                 decimal.Decimal            `json:"winRate"`
	TotalPnL                decimal.Decimal            `json:"totalPnl"`
	TotalPnLNet             decimal.Decimal            `json:"totalPnlNet"`
	TotalCommission         decimal.Decimal            `json:"totalCommission"`
	TotalSlippage           decimal.Decimal            `json:"totalSlippage"`
	AvgPnLPerTrade          decimal.Decimal            `json:"avgPnlPerTrade"`
	AvgPnLWinners           decimal.Decimal            `json:"avgPnlWinners"`
	AvgPnLLosers            decimal.Decimal            `json:"avgPnlLosers"`
	ProfitFactor            decimal.Decimal            `json:"profitFactor"`
	Expectancy              decimal.Decimal            `json:"expectancy"`
	PayoffRatio             decimal.Decimal            `json:"payoffRatio"`
	AvgRMultiple            decimal.Decimal            `json:"avgRMultiple"`
	MaxDrawdownPct          decimal.Decimal            `json:"maxDrawdownPct"`
	MaxDrawdownDurationBars int                        `json:"maxDrawdownDurationBars"`
	AvgDrawdownPct          decimal.Decimal            `json:"avgDrawdownPct"`
	UlcerIndex              decimal.Decimal            `json:"ulcerIndex"`
	SharpeRatio             decimal.Decimal            `json:"sharpeRatio"`
	SortinoRatio            decimal.Decimal            `json:"sortinoRatio"`
	CalmarRatio             decimal.Decimal            `json:"calmarRatio"`
	OmegaRatio              decimal.Decimal            `json:"omegaRatio"`
	LongestWinningStreak    int                        `json:"longestWinningStreak"`
	LongestLosingStreak     int                        `json:"longestLosingStreak"`
	MonthlyReturns          map[string]decimal.Decimal `json:"monthlyReturns"`
	YearlyReturns           map[string]decimal.Decimal `json:"yearlyReturns"`
	StabilityScore          decimal.Decimal            `json:"stabilityScore"`
	AvgBarsInTrade          decimal.Decimal            `json:"avgBarsInTrade"`
	AvgBarsBetweenTrades    decimal.Decimal            `json:"avgBarsBetweenTrades"`
	TradesPerMonth          decimal.Decimal            `json:"tradesPerMonth"`
}

// WalkForwardWindow is one train/test pair of a walk-forward run.
type WalkForwardWindow struct {
	TrainStart       time.Time        `json:"trainStart"`
	TrainEnd         time.Time        `json:"trainEnd"`
	TestStart        time.Time        `json:"testStart"`
	TestEnd          time.Time        `json:"testEnd"`
	TrainMetrics     *BacktestMetrics `json:"trainMetrics"`
	TestMetrics      *BacktestMetrics `json:"testMetrics"`
	DegradationScore decimal.Decimal  `json:"degradationScore"`
}

// AuditEntry is an immutable record of one emitted decision.
type AuditEntry struct {
	EntryID    string         `json:"entryId"`
	RunID      string         `json:"runId"`
	StrategyID string         `json:"strategyId"`
	Symbol     string         `json:"symbol"`
	Ts         time.Time      `json:"ts"`
	RawInputs  map[string]any `json:"rawInputs,omitempty"`
	Features   map[string]any `json:"features,omitempty"`
	Scores     map[string]any `json:"scores,omitempty"`
	Reasons    []Reason       `json:"reasons,omitempty"`
	Rule       string         `json:"rule,omitempty"`
	Condition  string         `json:"condition,omitempty"`
}

// EquityCurvePoint is a point on the backtest equity curve.
type EquityCurvePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Cash      decimal.Decimal `json:"cash"`
	Drawdown  decimal.Decimal `json:"drawdown"`
}
