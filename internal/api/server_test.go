// Package api_test provides tests for the API server.
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/internal/api"
	"github.com/zeroframe404/sistema-pro-trader/internal/backtester"
	"github.com/zeroframe404/sistema-pro-trader/internal/data"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

func setupTestServer(t *testing.T) (*api.Server, *httptest.Server) {
	logger := zap.NewNop()

	dataStore, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("failed to create data store: %v", err)
	}

	server := api.NewServer(logger, types.ServerConfig{Host: "127.0.0.1"}, dataStore)
	ts := httptest.NewServer(server.Router())

	return server, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got '%v'", result["status"])
	}
}

func TestSymbolsEndpointEmptyStore(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/data/symbols")
	if err != nil {
		t.Fatalf("symbols request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["symbols"] != nil && len(result["symbols"].([]interface{})) != 0 {
		t.Errorf("expected no symbols in an empty store, got %v", result["symbols"])
	}
}

func TestBacktestHTTPLifecycle(t *testing.T) {
	logger := zap.NewNop()
	dir := t.TempDir()
	dataStore, err := data.NewStore(logger, dir)
	if err != nil {
		t.Fatalf("failed to create data store: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []types.OHLCVBar
	price := decimal.NewFromInt(100)
	for i := 0; i < 50; i++ {
		bars = append(bars, types.OHLCVBar{
			Symbol: "EURUSD", Timeframe: types.Timeframe("1h"),
			TsOpen: start.Add(time.Duration(i) * time.Hour), TsClose: start.Add(time.Duration(i+1) * time.Hour),
			Open: price, High: price.Add(decimal.NewFromInt(1)), Low: price.Sub(decimal.NewFromInt(1)), Close: price,
			Volume: decimal.NewFromInt(1000),
		})
		price = price.Add(decimal.NewFromFloat(0.1))
	}
	if err := dataStore.AppendBars("backtest", "EURUSD", types.Timeframe("1h"), bars); err != nil {
		t.Fatalf("failed to seed bars: %v", err)
	}

	server := api.NewServer(logger, types.ServerConfig{Host: "127.0.0.1"}, dataStore)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	cfg := backtester.Config{
		Backtest: types.BacktestConfig{
			Symbols: []string{"EURUSD"}, Broker: "backtest", Timeframe: types.Timeframe("1h"),
			StartDate: start, EndDate: start.Add(49 * time.Hour),
			Mode: types.BacktestModeSimple, InitialCapital: decimal.NewFromInt(10000),
		},
	}
	body, _ := json.Marshal(cfg)

	resp, err := http.Post(ts.URL+"/api/v1/backtest/run", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("backtest run request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var runResult map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&runResult)
	id, _ := runResult["id"].(string)
	if id == "" {
		t.Fatal("response missing backtest id")
	}

	deadline := time.Now().Add(5 * time.Second)
	var status string
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/api/v1/backtest/" + id)
		if err != nil {
			t.Fatalf("status request failed: %v", err)
		}
		var state map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&state)
		resp.Body.Close()
		status, _ = state["status"].(string)
		if status == "completed" || status == "failed" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if status != "completed" {
		t.Fatalf("expected backtest to complete, last status = %q", status)
	}
}

func TestWebSocketPing(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	wsURL := "ws" + ts.URL[4:] + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket connection failed: %v (response: %v)", err, resp)
	}
	defer conn.Close()

	if err := conn.WriteJSON(api.WSMessage{ID: "ping-1", Type: api.MsgTypePing}); err != nil {
		t.Fatalf("failed to send ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var response api.WSMessage
	if err := conn.ReadJSON(&response); err != nil {
		t.Fatalf("failed to read pong: %v", err)
	}
	if response.Type != "pong" {
		t.Errorf("expected 'pong', got '%s'", response.Type)
	}
	if response.ID != "ping-1" {
		t.Errorf("response id mismatch: got %q", response.ID)
	}
}

func TestWebSocketSubscription(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	wsURL := "ws" + ts.URL[4:] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket connection failed: %v", err)
	}
	defer conn.Close()

	sub := struct {
		Channel string `json:"channel"`
	}{Channel: "backtest:test-123"}
	data, _ := json.Marshal(sub)

	if err := conn.WriteJSON(api.WSMessage{ID: "sub-1", Type: api.MsgTypeSubscribe, Data: data}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var response api.WSMessage
	if err := conn.ReadJSON(&response); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if response.Type != "subscribed" {
		t.Errorf("expected 'subscribed', got '%s'", response.Type)
	}
}

func TestConcurrentWebSocketConnections(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	wsURL := "ws" + ts.URL[4:] + "/ws"
	numConnections := 5
	conns := make([]*websocket.Conn, numConnections)

	for i := 0; i < numConnections; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("connection %d failed: %v", i, err)
		}
		conns[i] = conn
		defer conn.Close()
	}

	for i, conn := range conns {
		if err := conn.WriteJSON(api.WSMessage{ID: string(rune('0' + i)), Type: api.MsgTypePing}); err != nil {
			t.Errorf("connection %d: failed to send ping: %v", i, err)
		}
	}

	for i, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var response api.WSMessage
		if err := conn.ReadJSON(&response); err != nil {
			t.Errorf("connection %d: failed to read pong: %v", i, err)
			continue
		}
		if response.Type != "pong" {
			t.Errorf("connection %d: expected 'pong', got '%s'", i, response.Type)
		}
	}
}
