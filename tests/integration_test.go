// Package tests_test exercises the HTTP/WebSocket API end to end
// against the real backtester.Engine and data.Store, not mocks.
package tests_test

import (
	"bytes"
	"context"
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

func seedBars(t *testing.T, store *data.Store, broker, symbol string, n int) (time.Time, time.Time) {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.OHLCVBar, n)
	price := decimal.NewFromInt(100)
	for i := 0; i < n; i++ {
		bars[i] = types.OHLCVBar{
			Symbol: symbol, Timeframe: types.Timeframe("1h"),
			TsOpen: start.Add(time.Duration(i) * time.Hour), TsClose: start.Add(time.Duration(i+1) * time.Hour),
			Open: price, High: price.Add(decimal.NewFromInt(1)), Low: price.Sub(decimal.NewFromInt(1)), Close: price,
			Volume: decimal.NewFromInt(1000),
		}
		price = price.Add(decimal.NewFromFloat(0.05))
	}
	if err := store.AppendBars(broker, symbol, types.Timeframe("1h"), bars); err != nil {
		t.Fatalf("seed bars: %v", err)
	}
	return start, start.Add(time.Duration(n-1) * time.Hour)
}

// TestFullBacktestWorkflow drives the complete flow: list symbols, fetch
// history, submit a backtest, and poll it through to completion.
func TestFullBacktestWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	logger := zap.NewNop()
	dataStore, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("failed to create data store: %v", err)
	}
	start, end := seedBars(t, dataStore, "backtest", "EURUSD", 200)

	server := api.NewServer(logger, types.ServerConfig{Host: "127.0.0.1"}, dataStore)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	t.Log("step 1: health check")
	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health check returned %d", resp.StatusCode)
	}

	t.Log("step 2: list symbols")
	resp, err = http.Get(ts.URL + "/api/v1/data/symbols")
	if err != nil {
		t.Fatalf("get symbols failed: %v", err)
	}
	var symbolsResp map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&symbolsResp)
	resp.Body.Close()
	t.Logf("available symbols: %v", symbolsResp["symbols"])

	t.Log("step 3: get historical data")
	resp, err = http.Get(ts.URL + "/api/v1/data/history/EURUSD?timeframe=1h" +
		"&start=" + start.Format(time.RFC3339) + "&end=" + end.Format(time.RFC3339))
	if err != nil {
		t.Fatalf("get history failed: %v", err)
	}
	var historyResp map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&historyResp)
	resp.Body.Close()
	t.Logf("retrieved %v bars", historyResp["count"])

	t.Log("step 4: run backtest")
	cfg := backtester.Config{
		Backtest: types.BacktestConfig{
			Symbols: []string{"EURUSD"}, Broker: "backtest", Timeframe: types.Timeframe("1h"),
			StartDate: start, EndDate: end, Mode: types.BacktestModeSimple,
			InitialCapital: decimal.NewFromInt(10000),
		},
	}
	cfgJSON, _ := json.Marshal(cfg)

	resp, err = http.Post(ts.URL+"/api/v1/backtest/run", "application/json", bytes.NewReader(cfgJSON))
	if err != nil {
		t.Fatalf("run backtest failed: %v", err)
	}
	var runResult map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&runResult)
	resp.Body.Close()
	id, _ := runResult["id"].(string)
	if id == "" {
		t.Fatal("backtest run response missing id")
	}
	t.Logf("backtest started: %s", id)

	t.Log("step 5: poll for completion")
	var final map[string]interface{}
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get(ts.URL + "/api/v1/backtest/" + id)
		if err != nil {
			t.Fatalf("get status failed: %v", err)
		}
		json.NewDecoder(resp.Body).Decode(&final)
		resp.Body.Close()

		status, _ := final["status"].(string)
		if status == "completed" || status == "failed" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if final["status"] != "completed" {
		t.Fatalf("expected completed status, got %v (err=%v)", final["status"], final["error"])
	}
	t.Logf("final result: %+v", final["result"])
}

// TestWebSocketBacktest runs a backtest over the WebSocket command channel
// and waits for the progress/complete events on the subscribed channel.
func TestWebSocketBacktest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping WebSocket integration test in short mode")
	}

	logger := zap.NewNop()
	dataStore, _ := data.NewStore(logger, t.TempDir())
	start, end := seedBars(t, dataStore, "backtest", "EURUSD", 200)

	server := api.NewServer(logger, types.ServerConfig{Host: "127.0.0.1"}, dataStore)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	wsURL := "ws" + ts.URL[4:] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket connection failed: %v", err)
	}
	defer conn.Close()

	cfg := backtester.Config{
		Backtest: types.BacktestConfig{
			ID: "ws-test", Symbols: []string{"EURUSD"}, Broker: "backtest", Timeframe: types.Timeframe("1h"),
			StartDate: start, EndDate: end, Mode: types.BacktestModeSimple,
			InitialCapital: decimal.NewFromInt(10000),
		},
	}
	cfgJSON, _ := json.Marshal(cfg)

	if err := conn.WriteJSON(api.WSMessage{ID: "run-1", Type: api.MsgTypeBacktestRun, Data: cfgJSON}); err != nil {
		t.Fatalf("failed to send run message: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var ack api.WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("failed to read run ack: %v", err)
	}
	if ack.Type != api.MsgTypeResponse {
		t.Fatalf("expected run response, got type=%s err=%s", ack.Type, ack.Error)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for backtest completion")
		default:
		}
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		if err := conn.WriteJSON(api.WSMessage{ID: "status-1", Type: api.MsgTypeBacktestStatus, Data: []byte(`{"id":"ws-test"}`)}); err != nil {
			continue
		}
		var status api.WSMessage
		if err := conn.ReadJSON(&status); err != nil {
			continue
		}
		var payload map[string]interface{}
		json.Unmarshal(status.Data, &payload)
		if payload["status"] == "completed" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// TestConcurrentBacktests starts several backtests at once and verifies
// each reaches completion independently.
func TestConcurrentBacktests(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrent integration test in short mode")
	}

	logger := zap.NewNop()
	dataStore, _ := data.NewStore(logger, t.TempDir())
	start, end := seedBars(t, dataStore, "backtest", "EURUSD", 200)

	server := api.NewServer(logger, types.ServerConfig{Host: "127.0.0.1"}, dataStore)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	numBacktests := 3
	done := make(chan string, numBacktests)
	for i := 0; i < numBacktests; i++ {
		go func(i int) {
			cfg := backtester.Config{
				Backtest: types.BacktestConfig{
					Symbols: []string{"EURUSD"}, Broker: "backtest", Timeframe: types.Timeframe("1h"),
					StartDate: start, EndDate: end, Mode: types.BacktestModeSimple,
					InitialCapital: decimal.NewFromInt(int64(10000 * (i + 1))),
				},
			}
			cfgJSON, _ := json.Marshal(cfg)
			resp, err := http.Post(ts.URL+"/api/v1/backtest/run", "application/json", bytes.NewReader(cfgJSON))
			if err != nil {
				done <- ""
				return
			}
			var result map[string]interface{}
			json.NewDecoder(resp.Body).Decode(&result)
			resp.Body.Close()
			id, _ := result["id"].(string)
			done <- id
		}(i)
	}

	var ids []string
	for i := 0; i < numBacktests; i++ {
		if id := <-done; id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) != numBacktests {
		t.Fatalf("expected %d backtests started, got %d", numBacktests, len(ids))
	}

	deadline := time.Now().Add(10 * time.Second)
	for _, id := range ids {
		for time.Now().Before(deadline) {
			resp, _ := http.Get(ts.URL + "/api/v1/backtest/" + id)
			var state map[string]interface{}
			json.NewDecoder(resp.Body).Decode(&state)
			resp.Body.Close()
			if state["status"] == "completed" || state["status"] == "failed" {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
}
