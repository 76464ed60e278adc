package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseParamRangesSingle(t *testing.T) {
	ranges, err := parseParamRanges("adx_threshold=10:50:5")
	if err != nil {
		t.Fatalf("parseParamRanges: %v", err)
	}
	r, ok := ranges["adx_threshold"]
	if !ok {
		t.Fatal("expected adx_threshold range")
	}
	if !r.Low.Equal(decimal.NewFromInt(10)) || !r.High.Equal(decimal.NewFromInt(50)) || !r.Step.Equal(decimal.NewFromInt(5)) {
		t.Errorf("unexpected bounds: %+v", r)
	}
}

func TestParseParamRangesMultiple(t *testing.T) {
	ranges, err := parseParamRanges("adx_threshold=10:50:5,rsi_overbought=60:90:2")
	if err != nil {
		t.Fatalf("parseParamRanges: %v", err)
	}
	if len(ranges) != 2 {
		t.Fatalf("expected 2 ranges, got %d", len(ranges))
	}
}

func TestParseParamRangesRejectsMalformed(t *testing.T) {
	cases := []string{"", "adx_threshold", "adx_threshold=10:50", "adx_threshold=a:b:c"}
	for _, c := range cases {
		if _, err := parseParamRanges(c); err == nil {
			t.Errorf("parseParamRanges(%q): expected error", c)
		}
	}
}

func TestApplyParamsCreatesNewStrategyEntry(t *testing.T) {
	dir := t.TempDir()
	best := map[string]decimal.Decimal{"adx_threshold": decimal.NewFromInt(30)}
	if err := applyParams(dir, "trend_following", best); err != nil {
		t.Fatalf("applyParams: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "strategies.yaml"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty strategies.yaml")
	}

	// Re-apply with a different value and confirm it overwrites rather than
	// duplicating the entry.
	best2 := map[string]decimal.Decimal{"adx_threshold": decimal.NewFromInt(35)}
	if err := applyParams(dir, "trend_following", best2); err != nil {
		t.Fatalf("second applyParams: %v", err)
	}
	raw2, err := os.ReadFile(filepath.Join(dir, "strategies.yaml"))
	if err != nil {
		t.Fatalf("read back 2: %v", err)
	}
	if countOccurrences(string(raw2), "trend_following:") != 1 {
		t.Errorf("expected exactly one trend_following entry, got content:\n%s", raw2)
	}
}

func countOccurrences(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
		}
	}
	return count
}
