package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cunarist/solie/internal/domain"
	"github.com/cunarist/solie/internal/scheduler"
	"github.com/cunarist/solie/internal/services/collector"
	"github.com/cunarist/solie/internal/services/manager"
	"github.com/cunarist/solie/internal/services/simulator"
	"github.com/cunarist/solie/internal/services/strategist"
	"github.com/cunarist/solie/internal/services/transactor"
)

type fixedClock struct{ at time.Time }

func (f fixedClock) Now() time.Time { return f.at }

type fakeTrans struct {
	settings transactor.Settings
	record   []domain.AssetTrade
}

func (f *fakeTrans) AccountState() domain.AccountState {
	return domain.NewAccountState([]string{"BTCUSDT"})
}
func (f *fakeTrans) AssetRecord() ([]domain.AssetTrade, error)  { return f.record, nil }
func (f *fakeTrans) UnrealizedPoints() []domain.UnrealizedPoint { return nil }
func (f *fakeTrans) Settings() transactor.Settings              { return f.settings }
func (f *fakeTrans) UpdateSettings(s transactor.Settings) error { f.settings = s; return nil }

type fakeColl struct {
	grid       *domain.CandleGrid
	backfilled chan collector.BackfillRange
}

func (f *fakeColl) Grid() *domain.CandleGrid                { return f.grid }
func (f *fakeColl) MarketEvents(n int) []domain.MarketEvent { return nil }
func (f *fakeColl) AggTrades(n int) []domain.AggTrade       { return nil }

func (f *fakeColl) Backfill(ctx context.Context, choice collector.BackfillRange, progress chan<- collector.Progress) error {
	f.backfilled <- choice
	return nil
}

type fakeMgr struct{ settings manager.Settings }

func (f *fakeMgr) StatusReport(now time.Time) manager.Report {
	return manager.Report{Connected: true, CumulationRate: 0.5}
}
func (f *fakeMgr) Settings() manager.Settings              { return f.settings }
func (f *fakeMgr) UpdateSettings(s manager.Settings) error { f.settings = s; return nil }

func newTestServer(t *testing.T) (*Server, *fakeColl) {
	t.Helper()
	strategies, err := strategist.NewStore(t.TempDir()+"/strategies.json", zap.NewNop())
	require.NoError(t, err)
	coll := &fakeColl{
		grid:       domain.NewCandleGrid([]string{"BTCUSDT"}),
		backfilled: make(chan collector.BackfillRange, 1),
	}
	s := NewServer(Config{
		Addr:       "127.0.0.1:0",
		Clock:      fixedClock{at: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		Strategies: strategies,
		Transactor: &fakeTrans{},
		Collector:  coll,
		Manager:    &fakeMgr{},
		Simulator:  simulator.New(strategist.NewKernel(), t.TempDir(), nil),
		Tasks:      scheduler.NewTaskRegistry(),
	})
	return s, coll
}

func TestStrategyCRUD(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.Handler()

	strategy := domain.Strategy{
		CodeName: "WEBWEB", ReadableName: "Web test", Version: "1.0",
		RiskLevel: domain.RiskLow, IndicatorsScript: "x := 1", DecisionScript: "y := 1",
	}
	body, _ := json.Marshal(strategy)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/strategies", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/strategies/WEBWEB", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Strategy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "Web test", got.ReadableName)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/strategies/WEBWEB", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/strategies/WEBWEB", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStrategyValidationRejected(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(domain.Strategy{CodeName: "bad", Version: "1.0"})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/strategies", bytes.NewReader(body)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCandleTail(t *testing.T) {
	s, coll := newTestServer(t)
	at := time.Date(2024, 3, 1, 11, 59, 50, 0, time.UTC)
	coll.grid.SetRow(at, "BTCUSDT", domain.Candle{Open: 1, High: 2, Low: 1, Close: 2, Volume: 3})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/candles?symbol=BTCUSDT&count=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []candleRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.True(t, rows[0].Moment.Equal(at))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/candles?symbol=DOGEUSDT", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var report manager.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.True(t, report.Connected)
	require.InDelta(t, 0.5, report.CumulationRate, 1e-9)
}

func TestBackfillLaunch(t *testing.T) {
	s, coll := newTestServer(t)
	handler := s.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/backfill",
		strings.NewReader(`{"range":"last_two_days"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case choice := <-coll.backfilled:
		require.Equal(t, collector.BackfillLastTwoDays, choice)
	case <-time.After(time.Second):
		t.Fatal("backfill task never ran")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/backfill",
		strings.NewReader(`{"range":"everything"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransactionSettingsRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.Handler()

	body, _ := json.Marshal(transactor.Settings{
		StrategyCodeName: "WEBWEB", ShouldTransact: true, DesiredLeverage: 3,
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/settings/transaction", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings/transaction", nil))
	var got transactor.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 3, got.DesiredLeverage)
	require.True(t, got.ShouldTransact)
}
