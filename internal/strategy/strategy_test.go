package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRegistryCreateAppliesParamOverrides(t *testing.T) {
	r := NewRegistry()
	r.SetParamOverrides("trend_following", map[string]decimal.Decimal{
		"adx_threshold": decimal.NewFromInt(40),
	})

	strat, err := r.Create("trend_following")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tf := strat.(*trendFollowing)
	if !tf.param("adx_threshold").Equal(decimal.NewFromInt(40)) {
		t.Errorf("adx_threshold = %s, want 40", tf.param("adx_threshold"))
	}
	// Untouched params keep their defaults.
	if !tf.param("rsi_overbought").Equal(decimal.NewFromInt(70)) {
		t.Errorf("rsi_overbought = %s, want default 70", tf.param("rsi_overbought"))
	}
}

func TestRegistryCreateWithoutOverridesUsesDefaults(t *testing.T) {
	r := NewRegistry()
	strat, err := r.Create("trend_following")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tf := strat.(*trendFollowing)
	if !tf.param("adx_threshold").Equal(decimal.NewFromInt(25)) {
		t.Errorf("adx_threshold = %s, want default 25", tf.param("adx_threshold"))
	}
}

func TestRegistryCreateRejectsOutOfRangeOverride(t *testing.T) {
	r := NewRegistry()
	r.SetParamOverrides("trend_following", map[string]decimal.Decimal{
		"adx_threshold": decimal.NewFromInt(999),
	})
	if _, err := r.Create("trend_following"); err == nil {
		t.Fatal("expected error for out-of-range override")
	}
}

func TestRegistryCreateUnknownStrategy(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create("does_not_exist"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}
