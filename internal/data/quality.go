// Package data: quality validation for historical bar data. Bad data
// ruins backtests, so gap detection and anomaly checks run before bars
// are handed to strategies.
package data

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// DataQualityValidator checks historical bar data integrity.
type DataQualityValidator struct {
	logger *zap.Logger

	MaxIntradayMove   decimal.Decimal // e.g. 0.30 for 30%
	MaxGapMove        decimal.Decimal // e.g. 0.20 for 20%
	MaxVolumeMultiple decimal.Decimal // multiple of the series' average volume treated as a spike
}

// DataIssue is one quality problem found in a bar series.
type DataIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // critical, high, medium, low
	Ts        time.Time `json:"ts"`
	Symbol    string    `json:"symbol"`
	Message   string    `json:"message"`
	BarIndex  int       `json:"barIndex,omitempty"`
}

// GapReport describes a detected hole in the expected bar sequence.
type GapReport struct {
	After      time.Time     `json:"after"`
	Before     time.Time     `json:"before"`
	MissingBars int          `json:"missingBars"`
}

// QualityReport summarizes a validation pass.
type QualityReport struct {
	Symbol       string      `json:"symbol"`
	TotalBars    int         `json:"totalBars"`
	Issues       []DataIssue `json:"issues"`
	Gaps         []GapReport `json:"gaps"`
	QualityScore int         `json:"qualityScore"` // 0-100
	IsUsable     bool        `json:"isUsable"`
}

func NewDataQualityValidator(logger *zap.Logger) *DataQualityValidator {
	return &DataQualityValidator{
		logger:            logger.Named("data_quality"),
		MaxIntradayMove:   decimal.NewFromFloat(0.30),
		MaxGapMove:        decimal.NewFromFloat(0.20),
		MaxVolumeMultiple: decimal.NewFromFloat(20),
	}
}

// Validate runs OHLC-consistency, anomaly, and gap checks over bars, which
// must already be sorted ascending by ts_open.
func (v *DataQualityValidator) Validate(bars []types.OHLCVBar, symbol string, tf types.Timeframe) *QualityReport {
	report := &QualityReport{Symbol: symbol, TotalBars: len(bars)}
	if len(bars) == 0 {
		report.Issues = append(report.Issues, DataIssue{Type: "NO_DATA", Severity: "critical", Message: "no bars provided"})
		return report
	}

	var avgVolume decimal.Decimal
	if len(bars) > 0 {
		sum := decimal.Zero
		for _, b := range bars {
			sum = sum.Add(b.Volume)
		}
		avgVolume = sum.Div(decimal.NewFromInt(int64(len(bars))))
	}

	interval := tf.Duration()
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			report.Issues = append(report.Issues, DataIssue{
				Type: "OHLC_INVALID", Severity: "critical", Ts: b.TsOpen, Symbol: symbol,
				Message: err.Error(), BarIndex: i,
			})
			continue
		}
		if i > 0 {
			prevClose := bars[i-1].Close
			if prevClose.IsPositive() {
				gapMove := b.Open.Sub(prevClose).Div(prevClose).Abs()
				if gapMove.GreaterThan(v.MaxGapMove) {
					report.Issues = append(report.Issues, DataIssue{
						Type: "PRICE_GAP", Severity: "high", Ts: b.TsOpen, Symbol: symbol,
						Message: "gap exceeds max_gap_move", BarIndex: i,
					})
				}
			}
			expected := bars[i-1].TsOpen.Add(interval)
			if b.TsOpen.After(expected) {
				missing := int(b.TsOpen.Sub(expected) / interval)
				report.Gaps = append(report.Gaps, GapReport{After: bars[i-1].TsOpen, Before: b.TsOpen, MissingBars: missing})
			}
		}
		if b.Open.IsPositive() {
			intraday := b.High.Sub(b.Low).Div(b.Open).Abs()
			if intraday.GreaterThan(v.MaxIntradayMove) {
				report.Issues = append(report.Issues, DataIssue{
					Type: "EXTREME_INTRADAY_MOVE", Severity: "medium", Ts: b.TsOpen, Symbol: symbol,
					Message: "intraday range exceeds max_intraday_move", BarIndex: i,
				})
			}
		}
		if avgVolume.IsPositive() && b.Volume.GreaterThan(avgVolume.Mul(v.MaxVolumeMultiple)) {
			report.Issues = append(report.Issues, DataIssue{
				Type: "VOLUME_SPIKE", Severity: "low", Ts: b.TsOpen, Symbol: symbol,
				Message: "volume exceeds max_volume_multiple of series average", BarIndex: i,
			})
		}
	}

	critical, high := 0, 0
	for _, iss := range report.Issues {
		switch iss.Severity {
		case "critical":
			critical++
		case "high":
			high++
		}
	}
	score := 100 - critical*20 - high*5 - len(report.Gaps)*3
	if score < 0 {
		score = 0
	}
	report.QualityScore = score
	report.IsUsable = critical == 0 && score >= 50
	return report
}

// DetectGaps is a standalone gap scan usable without a full Validate pass,
// e.g. for a repository deciding whether to auto-fetch.
func DetectGaps(bars []types.OHLCVBar, tf types.Timeframe) []GapReport {
	if len(bars) < 2 {
		return nil
	}
	sorted := append([]types.OHLCVBar(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TsOpen.Before(sorted[j].TsOpen) })
	interval := tf.Duration()
	var gaps []GapReport
	for i := 1; i < len(sorted); i++ {
		expected := sorted[i-1].TsOpen.Add(interval)
		if sorted[i].TsOpen.After(expected) {
			missing := int(sorted[i].TsOpen.Sub(expected) / interval)
			gaps = append(gaps, GapReport{After: sorted[i-1].TsOpen, Before: sorted[i].TsOpen, MissingBars: missing})
		}
	}
	return gaps
}
