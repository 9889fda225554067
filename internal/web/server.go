// Package web is the GUI-facing surface: JSON views over the live
// state, SSE streams for status and the asset record, a websocket hub
// for realtime events and the strategy CRUD endpoints.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cunarist/solie/internal/domain"
	"github.com/cunarist/solie/internal/scheduler"
	"github.com/cunarist/solie/internal/services/collector"
	"github.com/cunarist/solie/internal/services/manager"
	"github.com/cunarist/solie/internal/services/simulator"
	"github.com/cunarist/solie/internal/services/strategist"
	"github.com/cunarist/solie/internal/services/transactor"
)

const (
	snapshotPollInterval = 2 * time.Second
	heartbeatInterval    = 30 * time.Second
	ringPumpInterval     = time.Second
)

// TransactorView is the read/configure surface of the live transactor.
type TransactorView interface {
	AccountState() domain.AccountState
	AssetRecord() ([]domain.AssetTrade, error)
	UnrealizedPoints() []domain.UnrealizedPoint
	Settings() transactor.Settings
	UpdateSettings(transactor.Settings) error
}

// CollectorView is the read/backfill surface of the collector.
type CollectorView interface {
	Grid() *domain.CandleGrid
	MarketEvents(n int) []domain.MarketEvent
	AggTrades(n int) []domain.AggTrade
	Backfill(ctx context.Context, choice collector.BackfillRange, progress chan<- collector.Progress) error
}

// ManagerView is the read/configure surface of the manager.
type ManagerView interface {
	StatusReport(now time.Time) manager.Report
	Settings() manager.Settings
	UpdateSettings(manager.Settings) error
}

// Server exposes the HTTP endpoints serving the HTML UI, the JSON API,
// the SSE streams and the websocket hub.
type Server struct {
	Addr string

	clock      manager.Clock
	strategies *strategist.Store
	trans      TransactorView
	coll       CollectorView
	mgr        ManagerView
	sim        *simulator.Simulator
	tasks      *scheduler.TaskRegistry
	hub        *Hub
	registry   *prometheus.Registry
	logger     *zap.Logger
}

// Config wires a Server.
type Config struct {
	Addr       string
	Clock      manager.Clock
	Strategies *strategist.Store
	Transactor TransactorView
	Collector  CollectorView
	Manager    ManagerView
	Simulator  *simulator.Simulator
	Tasks      *scheduler.TaskRegistry
	Registry   *prometheus.Registry
	Logger     *zap.Logger
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("web")
	return &Server{
		Addr:       cfg.Addr,
		clock:      cfg.Clock,
		strategies: cfg.Strategies,
		trans:      cfg.Transactor,
		coll:       cfg.Collector,
		mgr:        cfg.Manager,
		sim:        cfg.Simulator,
		tasks:      cfg.Tasks,
		hub:        NewHub(logger),
		registry:   cfg.Registry,
		logger:     logger,
	}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	go s.pumpRings(ctx)

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /status/stream", s.handleStatusStream)
	mux.HandleFunc("GET /asset/stream", s.handleAssetStream)
	mux.HandleFunc("GET /ws", s.hub.HandleWS)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/account", s.handleAccount)
	mux.HandleFunc("GET /api/asset-record", s.handleAssetRecord)
	mux.HandleFunc("GET /api/unrealized", s.handleUnrealized)
	mux.HandleFunc("GET /api/candles", s.handleCandles)

	mux.HandleFunc("GET /api/strategies", s.handleListStrategies)
	mux.HandleFunc("POST /api/strategies", s.handleSaveStrategy)
	mux.HandleFunc("GET /api/strategies/{code}", s.handleGetStrategy)
	mux.HandleFunc("DELETE /api/strategies/{code}", s.handleRemoveStrategy)

	mux.HandleFunc("GET /api/settings/transaction", s.handleGetTransactionSettings)
	mux.HandleFunc("PUT /api/settings/transaction", s.handlePutTransactionSettings)
	mux.HandleFunc("GET /api/settings/management", s.handleGetManagementSettings)
	mux.HandleFunc("PUT /api/settings/management", s.handlePutManagementSettings)

	mux.HandleFunc("POST /api/backfill", s.handleRunBackfill)
	mux.HandleFunc("POST /api/simulations", s.handleRunSimulation)
	mux.HandleFunc("GET /api/simulations", s.handleLoadSimulation)

	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// pumpRings broadcasts the freshest realtime ring entries to the hub
// once a second.
func (s *Server) pumpRings(ctx context.Context) {
	if s.coll == nil {
		return
	}
	ticker := time.NewTicker(ringPumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if events := s.coll.MarketEvents(64); len(events) > 0 {
				s.hub.Publish("market_events", events)
			}
			if trades := s.coll.AggTrades(64); len(trades) > 0 {
				s.hub.Publish("agg_trades", trades)
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.mgr.StatusReport(s.clock.Now()))
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.trans.AccountState())
}

func (s *Server) handleAssetRecord(w http.ResponseWriter, r *http.Request) {
	record, err := s.trans.AssetRecord()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleUnrealized(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.trans.UnrealizedPoints())
}

type candleRow struct {
	Moment time.Time     `json:"moment"`
	Candle domain.Candle `json:"candle"`
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	if count <= 0 {
		count = 360
	}

	grid := s.coll.Grid()
	now := s.clock.Now()
	series := grid.SliceRange(now.Add(-time.Duration(count)*domain.MomentStep), now)
	candles, ok := series.Candles[symbol]
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("symbol %q is not tracked", symbol))
		return
	}
	rows := make([]candleRow, 0, len(series.Moments))
	for i, moment := range series.Moments {
		if candles[i].IsEmpty() {
			continue
		}
		rows = append(rows, candleRow{Moment: moment, Candle: candles[i]})
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.strategies.List())
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	strategy, ok := s.strategies.Get(r.PathValue("code"))
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("strategy %q not found", r.PathValue("code")))
		return
	}
	s.writeJSON(w, http.StatusOK, strategy)
}

func (s *Server) handleSaveStrategy(w http.ResponseWriter, r *http.Request) {
	var strategy domain.Strategy
	if err := json.NewDecoder(r.Body).Decode(&strategy); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.strategies.Save(strategy); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, strategy)
}

func (s *Server) handleRemoveStrategy(w http.ResponseWriter, r *http.Request) {
	if err := s.strategies.Remove(r.PathValue("code")); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTransactionSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.trans.Settings())
}

func (s *Server) handlePutTransactionSettings(w http.ResponseWriter, r *http.Request) {
	var settings transactor.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.trans.UpdateSettings(settings); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleGetManagementSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.mgr.Settings())
}

func (s *Server) handlePutManagementSettings(w http.ResponseWriter, r *http.Request) {
	var settings manager.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.mgr.UpdateSettings(settings); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

type backfillRequest struct {
	Range string `json:"range"`
}

var backfillRanges = map[string]collector.BackfillRange{
	"past_years":    collector.BackfillPastYears,
	"current_year":  collector.BackfillCurrentYear,
	"this_month":    collector.BackfillThisMonth,
	"last_two_days": collector.BackfillLastTwoDays,
}

// handleRunBackfill launches the historical download as a unique task;
// progress flows out through the websocket hub.
func (s *Server) handleRunBackfill(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	choice, ok := backfillRanges[req.Range]
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown backfill range %q", req.Range))
		return
	}
	s.tasks.Launch(context.Background(), "download-history", func(ctx context.Context) {
		progress := make(chan collector.Progress, 16)
		go func() {
			for p := range progress {
				s.hub.Publish("download_progress", p)
			}
		}()
		err := s.coll.Backfill(ctx, choice, progress)
		close(progress)
		if err != nil {
			s.logger.Warn("history download failed", zap.String("range", req.Range), zap.Error(err))
			s.hub.Publish("download_error", err.Error())
			return
		}
		s.hub.Publish("download_done", req.Range)
	})
	w.WriteHeader(http.StatusAccepted)
}

type simulationRequest struct {
	CodeName     string  `json:"code_name"`
	Year         int     `json:"year"`
	StartBalance float64 `json:"start_balance"`
}

// handleRunSimulation launches (or relaunches, cancelling the previous
// run) the year-long calculation as a unique task; progress flows out
// through the websocket hub.
func (s *Server) handleRunSimulation(w http.ResponseWriter, r *http.Request) {
	var req simulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	strategy, ok := s.strategies.Get(req.CodeName)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("strategy %q not found", req.CodeName))
		return
	}

	grid := s.coll.Grid()
	simReq := simulator.Request{
		Strategy:     strategy,
		Symbols:      grid.Symbols(),
		Year:         req.Year,
		StartBalance: req.StartBalance,
	}
	s.tasks.Launch(context.Background(), "calculate-simulation", func(ctx context.Context) {
		progress := make(chan simulator.Progress, 16)
		go func() {
			for p := range progress {
				s.hub.Publish("simulation_progress", p)
			}
		}()
		result, err := s.sim.Run(ctx, grid, simReq, progress)
		close(progress)
		if err != nil {
			s.logger.Warn("simulation failed", zap.String("strategy", strategy.CodeName), zap.Error(err))
			s.hub.Publish("simulation_error", err.Error())
			return
		}
		if err := s.sim.Save(simReq, result); err != nil {
			s.logger.Warn("persist simulation", zap.Error(err))
		}
		s.hub.Publish("simulation_done", map[string]interface{}{
			"code_name": strategy.CodeName,
			"year":      req.Year,
		})
	})
	w.WriteHeader(http.StatusAccepted)
}

// handleLoadSimulation returns a stored simulation with the requested
// fee/leverage presentation overlay applied.
func (s *Server) handleLoadSimulation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	strategy, ok := s.strategies.Get(q.Get("code"))
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("strategy %q not found", q.Get("code")))
		return
	}
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, ok, err := s.sim.Load(strategy, year)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("no simulation stored for %s %d", strategy.CodeName, year))
		return
	}

	params := simulator.OverlayParams{
		Leverage:        queryFloat(q.Get("leverage"), 1),
		MakerFeePercent: queryFloat(q.Get("maker_fee"), 0),
		TakerFeePercent: queryFloat(q.Get("taker_fee"), 0),
		ChunkDays:       strategy.ParallelChunkDays,
	}
	record, unrealized := simulator.Overlay(result.AssetRecord, result.Unrealized, params)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset_record": record,
		"unrealized":   unrealized,
	})
}

func queryFloat(raw string, fallback float64) float64 {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

// handleStatusStream pushes the status report as SSE every poll
// interval, with comment heartbeats so proxies keep the connection.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(snapshotPollInterval)
	defer poll.Stop()

	send := func() {
		payload, err := json.Marshal(s.mgr.StatusReport(s.clock.Now()))
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: status\ndata: %s\n\n", payload)
		flusher.Flush()
	}
	send()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-poll.C:
			send()
		}
	}
}

// handleAssetStream replays the asset record and then streams rows as
// they appear.
func (s *Server) handleAssetStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(snapshotPollInterval)
	defer poll.Stop()

	sent := 0
	send := func() error {
		record, err := s.trans.AssetRecord()
		if err != nil {
			return err
		}
		for ; sent < len(record); sent++ {
			payload, err := json.Marshal(record[sent])
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "event: asset\ndata: %s\n\n", payload)
		}
		flusher.Flush()
		return nil
	}
	if err := send(); err != nil {
		s.logger.Debug("asset stream initial load", zap.Error(err))
		http.Error(w, "failed to load asset record", http.StatusInternalServerError)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-poll.C:
			if err := send(); err != nil {
				s.logger.Debug("asset stream poll", zap.Error(err))
			}
		}
	}
}
