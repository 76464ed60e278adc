// Package strategy implements the built-in signal strategies. Each strategy
// is a deterministic, pure function of (bars, regime, timestamp); none hold
// mutable state between invocations beyond the tunable parameters configured
// at construction time.
package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// Parameter describes one tunable knob exposed by a strategy, mirroring the
// shape config.yaml files use to override per-strategy defaults.
type Parameter struct {
	Name        string
	Default     decimal.Decimal
	Min         decimal.Decimal
	Max         decimal.Decimal
	Description string
}

// Strategy produces at most one candidate Signal per invocation. Evaluate
// must not mutate bars and must return identical output for identical input.
type Strategy interface {
	Name() string
	Description() string
	Parameters() []Parameter
	SetParameter(name string, value decimal.Decimal) error
	AssetClasses() []types.AssetClass
	Evaluate(bars []types.OHLCVBar, regime *types.MarketRegime, now time.Time) (*types.Signal, error)
}

// Factory builds a fresh Strategy instance, used by the registry.
type Factory func() Strategy

// Registry maps strategy name to constructor, the way the signal engine
// selects strategies compatible with (asset_class, regime, horizon_class).
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	overrides map[string]map[string]decimal.Decimal
}

// NewRegistry returns a registry pre-populated with the seven built-ins.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("trend_following", func() Strategy { return NewTrendFollowing() })
	r.Register("mean_reversion", func() Strategy { return NewMeanReversion() })
	r.Register("momentum_breakout", func() Strategy { return NewMomentumBreakout() })
	r.Register("scalping_reversal", func() Strategy { return NewScalpingReversal() })
	r.Register("swing_composite", func() Strategy { return NewSwingComposite() })
	r.Register("investment_fundamental", func() Strategy { return NewInvestmentFundamental() })
	r.Register("range_scalp", func() Strategy { return NewRangeScalp() })
	return r
}

// NewRegistrySubset returns a registry populated with only the named
// built-ins, for callers (e.g. a backtest config's `strategies` list) that
// restrict which strategies participate in a run. Unknown names are
// skipped silently; callers that need to validate names should check
// List() against their input first.
func NewRegistrySubset(names []string) *Registry {
	full := NewRegistry()
	r := &Registry{factories: make(map[string]Factory)}
	for _, name := range names {
		full.mu.RLock()
		f, ok := full.factories[name]
		full.mu.RUnlock()
		if ok {
			r.Register(name, f)
		}
	}
	return r
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Create(name string) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	overrides := r.overrides[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy %q", name)
	}
	strat := f()
	for param, value := range overrides {
		if err := strat.SetParameter(param, value); err != nil {
			return nil, fmt.Errorf("strategy: apply override to %q: %w", name, err)
		}
	}
	return strat, nil
}

// SetParamOverrides records parameter values applied to every instance Create
// builds for the named strategy from this point on, the way the optimizer
// tunes a strategy's knobs across trials without touching its factory.
func (r *Registry) SetParamOverrides(name string, params map[string]decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overrides == nil {
		r.overrides = make(map[string]map[string]decimal.Decimal)
	}
	r.overrides[name] = params
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// base carries the parameter table and logger shared by every strategy.
type base struct {
	name        string
	description string
	logger      *zap.Logger
	params      map[string]decimal.Decimal
	paramList   []Parameter
	assets      []types.AssetClass
}

func newBase(name, description string, assets []types.AssetClass, params []Parameter) base {
	b := base{
		name:        name,
		description: description,
		logger:      zap.NewNop().Named(name),
		params:      make(map[string]decimal.Decimal, len(params)),
		paramList:   params,
		assets:      assets,
	}
	for _, p := range params {
		b.params[p.Name] = p.Default
	}
	return b
}

func (b *base) Name() string                    { return b.name }
func (b *base) Description() string             { return b.description }
func (b *base) Parameters() []Parameter          { return b.paramList }
func (b *base) AssetClasses() []types.AssetClass { return b.assets }

func (b *base) SetParameter(name string, value decimal.Decimal) error {
	if _, ok := b.params[name]; !ok {
		return fmt.Errorf("strategy %s: unknown parameter %q", b.name, name)
	}
	for _, p := range b.paramList {
		if p.Name != name {
			continue
		}
		if value.LessThan(p.Min) || value.GreaterThan(p.Max) {
			return fmt.Errorf("strategy %s: parameter %q out of range [%s, %s]", b.name, name, p.Min, p.Max)
		}
	}
	b.params[name] = value
	return nil
}

func (b *base) param(name string) decimal.Decimal {
	return b.params[name]
}

func (b *base) paramInt(name string) int {
	return int(b.params[name].IntPart())
}

func normalizeReasons(reasons []types.Reason) []types.Reason {
	total := decimal.Zero
	for _, r := range reasons {
		total = total.Add(r.Weight)
	}
	if total.IsZero() {
		return reasons
	}
	out := make([]types.Reason, len(reasons))
	for i, r := range reasons {
		r.Weight = r.Weight.Div(total)
		out[i] = r
	}
	return out
}
