package main

import (
	"testing"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

func TestParseModeAccepted(t *testing.T) {
	cases := map[string]types.BacktestMode{
		"simple":       types.BacktestModeSimple,
		"":             types.BacktestModeSimple,
		"walk_forward": types.BacktestModeWalkForward,
		"out_of_sample": types.BacktestModeOutOfSample,
		"WALK_FORWARD": types.BacktestModeWalkForward,
	}
	for in, want := range cases {
		got, err := parseMode(in)
		if err != nil {
			t.Fatalf("parseMode(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("parseMode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseModeRejectsUnknown(t *testing.T) {
	if _, err := parseMode("bogus"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
