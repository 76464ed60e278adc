// Package api provides the optional HTTP and WebSocket demo surface: a
// thin wrapper around internal/backtester.Engine and internal/data.Store
// for driving and inspecting backtest runs remotely, not a production
// trading control plane.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/internal/backtester"
	"github.com/zeroframe404/sistema-pro-trader/internal/data"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// Server is the HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub
	dataStore  *data.Store
	engine     *backtester.Engine
	backtests  map[string]*BacktestState
}

// BacktestState tracks a running or completed backtest.
type BacktestState struct {
	ID       string
	Config   backtester.Config
	Status   string
	Started  time.Time
	Result   *types.BacktestResult
	Err      error
	Progress types.BacktestProgress
	cancel   context.CancelFunc
}

// NewServer constructs a Server over a backtester.Engine and a bar store.
func NewServer(logger *zap.Logger, config types.ServerConfig, dataStore *data.Store) *Server {
	server := &Server{
		logger:    logger.Named("api"),
		config:    config,
		router:    mux.NewRouter(),
		hub:       NewHub(logger.Named("api")),
		dataStore: dataStore,
		engine:    backtester.NewEngine(logger),
		backtests: make(map[string]*BacktestState),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	go server.hub.Run()
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/data/symbols", s.handleGetSymbols).Methods("GET")
	s.router.HandleFunc("/api/v1/data/history/{symbol}", s.handleGetHistory).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/run", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/{id}", s.handleGetBacktest).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/trades", s.handleGetBacktestTrades).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/cancel", s.handleCancelBacktest).Methods("POST")

	wsPath := s.config.WebSocketPath
	if wsPath == "" {
		wsPath = "/ws"
	}
	s.router.HandleFunc(wsPath, s.handleWebSocket)
}

// Router exposes the underlying mux.Router, mainly for tests that want to
// drive the server through httptest.NewServer without a bound port.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server; it blocks until Stop shuts it down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	broker := r.URL.Query().Get("broker")
	if broker == "" {
		broker = "backtest"
	}
	symbols, err := s.dataStore.ListSymbols(broker)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"symbols": symbols})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := vars["symbol"]

	broker := r.URL.Query().Get("broker")
	if broker == "" {
		broker = "backtest"
	}
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "1h"
	}

	start := time.Now().AddDate(0, -1, 0)
	end := time.Now()
	if v := r.URL.Query().Get("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			start = t
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			end = t
		}
	}

	bars, err := s.dataStore.LoadRange(broker, symbol, types.Timeframe(timeframe), start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"symbol":    symbol,
		"timeframe": timeframe,
		"bars":      bars,
		"count":     len(bars),
	})
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var cfg backtester.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if cfg.Backtest.ID == "" {
		cfg.Backtest.ID = uuid.NewString()
	}

	state := s.startBacktest(cfg)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":      state.ID,
		"status":  "running",
		"started": state.Started.Unix(),
	})
}

// startBacktest loads every configured symbol's bars and drives the engine
// in the background, publishing progress and completion events to the
// "backtest:<id>" channel for any subscribed WebSocket client.
func (s *Server) startBacktest(cfg backtester.Config) *BacktestState {
	ctx, cancel := context.WithCancel(context.Background())
	state := &BacktestState{ID: cfg.Backtest.ID, Config: cfg, Status: "running", Started: time.Now(), cancel: cancel}

	s.mu.Lock()
	s.backtests[state.ID] = state
	s.mu.Unlock()

	go func() {
		broker := cfg.Backtest.Broker
		if broker == "" {
			broker = "backtest"
		}
		channel := "backtest:" + state.ID

		bars := make(map[string][]types.OHLCVBar, len(cfg.Backtest.Symbols))
		for _, symbol := range cfg.Backtest.Symbols {
			loaded, err := s.dataStore.LoadRange(broker, symbol, cfg.Backtest.Timeframe, cfg.Backtest.StartDate, cfg.Backtest.EndDate)
			if err != nil {
				s.finishBacktest(state, nil, fmt.Errorf("load %s: %w", symbol, err))
				return
			}
			bars[symbol] = loaded
		}

		progress := make(chan types.BacktestProgress, 64)
		go func() {
			for p := range progress {
				s.mu.Lock()
				state.Progress = p
				s.mu.Unlock()
				s.hub.PublishToChannel(channel, MsgTypeBacktestProgress, p)
			}
		}()

		result, err := s.engine.Run(ctx, cfg, bars, progress)
		close(progress)
		s.finishBacktest(state, result, err)
	}()

	return state
}

func (s *Server) finishBacktest(state *BacktestState, result *types.BacktestResult, err error) {
	s.mu.Lock()
	if err != nil {
		state.Status = "failed"
		state.Err = err
		s.logger.Error("backtest failed", zap.String("id", state.ID), zap.Error(err))
	} else {
		state.Status = "completed"
		state.Result = result
	}
	s.mu.Unlock()

	s.hub.PublishToChannel("backtest:"+state.ID, MsgTypeBacktestComplete,
		map[string]interface{}{"id": state.ID, "status": state.Status})

	if result == nil {
		return
	}
	for i := range result.Trades {
		s.hub.BroadcastTradeUpdate(&result.Trades[i])
	}
	if result.Metrics != nil {
		limit := state.Config.Backtest.RiskLimits.MaxDrawdownPct
		if limit.IsPositive() && result.Metrics.MaxDrawdownPct.GreaterThan(limit) {
			s.hub.BroadcastRiskAlert(map[string]interface{}{
				"backtestId":     state.ID,
				"reason":         "max_drawdown_breached",
				"maxDrawdownPct": result.Metrics.MaxDrawdownPct,
				"limitPct":       limit,
			})
		}
	}
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.backtests[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "backtest not found", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{"id": state.ID, "status": state.Status, "started": state.Started.Unix()}
	if state.Result != nil {
		response["result"] = state.Result
	}
	if state.Status == "running" {
		response["progress"] = state.Progress
	}
	if state.Err != nil {
		response["error"] = state.Err.Error()
	}
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleGetBacktestTrades(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.backtests[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "backtest not found", http.StatusNotFound)
		return
	}
	if state.Result == nil {
		http.Error(w, "backtest not complete", http.StatusBadRequest)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":     id,
		"trades": state.Result.Trades,
		"count":  len(state.Result.Trades),
	})
}

func (s *Server) handleCancelBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	state, ok := s.backtests[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "backtest not found", http.StatusNotFound)
		return
	}
	if state.Status != "running" {
		http.Error(w, "backtest not running", http.StatusBadRequest)
		return
	}

	state.cancel()
	s.mu.Lock()
	state.Status = "cancelled"
	s.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "status": "cancelled"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.NewString(), s.hub, s, conn)
	s.hub.register <- client

	s.logger.Info("websocket client connected", zap.String("id", client.id))

	go client.WritePump()
	go client.ReadPump()
}

// handleBacktestCommand services backtest:run / backtest:status /
// backtest:cancel sent over the WebSocket command channel, mirroring the
// HTTP handlers above for clients that prefer a single connection.
func (s *Server) handleBacktestCommand(c *Client, msg WSMessage) {
	switch msg.Type {
	case MsgTypeBacktestRun:
		var cfg backtester.Config
		if err := json.Unmarshal(msg.Data, &cfg); err != nil {
			c.reply(msg.ID, MsgTypeError, nil, "invalid backtest config")
			return
		}
		if cfg.Backtest.ID == "" {
			cfg.Backtest.ID = uuid.NewString()
		}
		state := s.startBacktest(cfg)
		c.reply(msg.ID, MsgTypeResponse, map[string]interface{}{"id": state.ID, "status": "started"}, "")

	case MsgTypeBacktestStatus:
		var p struct {
			ID string `json:"id"`
		}
		json.Unmarshal(msg.Data, &p)

		s.mu.RLock()
		state, ok := s.backtests[p.ID]
		s.mu.RUnlock()
		if !ok {
			c.reply(msg.ID, MsgTypeError, nil, "backtest not found")
			return
		}
		c.reply(msg.ID, MsgTypeResponse, map[string]interface{}{
			"id": state.ID, "status": state.Status, "progress": state.Progress,
		}, "")

	case MsgTypeBacktestCancel:
		var p struct {
			ID string `json:"id"`
		}
		json.Unmarshal(msg.Data, &p)

		s.mu.Lock()
		state, ok := s.backtests[p.ID]
		s.mu.Unlock()
		if !ok {
			c.reply(msg.ID, MsgTypeError, nil, "backtest not found")
			return
		}
		state.cancel()
		s.mu.Lock()
		state.Status = "cancelled"
		s.mu.Unlock()
		c.reply(msg.ID, MsgTypeResponse, map[string]string{"status": "cancelled"}, "")
	}
}
