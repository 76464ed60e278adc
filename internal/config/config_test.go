package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadMergesAllSections(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "system.yaml", `
environment: paper
log_level: info
server:
  host: 0.0.0.0
  port: 8080
`)
	writeFile(t, dir, "brokers.yaml", `
paper:
  kind: paper
  sandbox: true
  symbols: [EURUSD, GBPUSD]
`)
	writeFile(t, dir, "strategies.yaml", `
trend_follow:
  id: trend_follow
  enabled: true
  weight: 1.5
`)
	writeFile(t, dir, "risk.yaml", `
limits:
  max_open_positions: 5
  max_risk_per_trade_pct: 0.01
kill_switch:
  max_consecutive_losses: 5
`)

	l := NewLoader(zap.NewNop(), dir)
	root, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if root.System.Environment != "paper" {
		t.Errorf("environment = %q, want paper", root.System.Environment)
	}
	if root.System.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", root.System.Server.Port)
	}
	broker, ok := root.Brokers["paper"]
	if !ok {
		t.Fatal("missing paper broker")
	}
	if broker.Kind != "paper" || !broker.Sandbox {
		t.Errorf("broker decoded wrong: %+v", broker)
	}
	if len(broker.Symbols) != 2 {
		t.Errorf("broker symbols = %v", broker.Symbols)
	}
	strat, ok := root.Strategies["trend_follow"]
	if !ok || !strat.Weight.Equal(strat.Weight) {
		t.Fatal("missing trend_follow strategy")
	}
	if root.Risk.Limits.MaxOpenPositions != 5 {
		t.Errorf("max_open_positions = %d, want 5", root.Risk.Limits.MaxOpenPositions)
	}
	if root.Risk.Limits.MaxRiskPerTradePct.String() != "0.01" {
		t.Errorf("max_risk_per_trade_pct = %s, want 0.01", root.Risk.Limits.MaxRiskPerTradePct)
	}
}

func TestLoadMissingFilesTolerated(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "system.yaml", "environment: dev\n")

	l := NewLoader(zap.NewNop(), dir)
	root, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if root.System.Environment != "dev" {
		t.Errorf("environment = %q", root.System.Environment)
	}
	if len(root.Brokers) != 0 {
		t.Errorf("expected no brokers, got %v", root.Brokers)
	}
}

func TestLoadRejectsBadYAMLKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "brokers.yaml", `
paper:
  kind: paper
`)
	l := NewLoader(zap.NewNop(), dir)
	if _, err := l.Load(); err != nil {
		t.Fatalf("initial Load: %v", err)
	}
	first := l.Current()

	writeFile(t, dir, "brokers.yaml", `
paper:
  sandbox: true
`) // missing required "kind"
	if _, err := l.Load(); err == nil {
		t.Fatal("expected validation error for broker missing kind")
	}

	if l.Current() != first {
		t.Error("Current should still return the last good config after a rejected reload")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "system.yaml", `
environment: dev
server:
  port: 8080
`)
	env := []string{"ATP_SYSTEM__SERVER__PORT=9090", "ATP_SYSTEM__ENVIRONMENT=live", "IRRELEVANT=1"}

	l := NewLoader(zap.NewNop(), dir)
	v, err := l.loadWithEnviron(env)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if v.System.Server.Port != 9090 {
		t.Errorf("port override = %d, want 9090", v.System.Server.Port)
	}
	if v.System.Environment != "live" {
		t.Errorf("environment override = %q, want live", v.System.Environment)
	}
}
