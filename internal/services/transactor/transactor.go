// Package transactor mirrors the exchange account, runs the active
// strategy every ten seconds and turns its decisions into live orders.
package transactor

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cunarist/solie/internal/domain"
	"github.com/cunarist/solie/internal/exchange"
	"github.com/cunarist/solie/internal/services/strategist"
	"github.com/cunarist/solie/internal/storage/records"
	"github.com/cunarist/solie/pkg/retrier"
)

const (
	// decisionWindow is how much candle history the strategy sees.
	decisionWindow = 28 * 24 * time.Hour

	// candleWaitTimeout bounds how long a tick waits for the collector
	// to write the previous moment's row before giving up.
	candleWaitTimeout = 5 * time.Second
	candleWaitPoll    = 100 * time.Millisecond

	// autoOrderLookback bounds how far back the auto-order record is
	// searched when classifying a fill.
	autoOrderLookback = 7 * 24 * time.Hour

	// walletTolerance is the relative divergence between the exchange
	// wallet and the asset record tail above which an OTHER row
	// (funding fee, transfer, referral) is recorded.
	walletTolerance = 1e-9
)

// API is the slice of the exchange client the transactor drives.
type API interface {
	ExchangeInfo(ctx context.Context, symbols []string) (map[string]exchange.SymbolRule, error)
	LeverageBrackets(ctx context.Context) (map[string]int, error)
	Account(ctx context.Context, assetToken string) (exchange.AccountSnapshot, error)
	OpenOrders(ctx context.Context, symbol string) ([]exchange.RestingOrder, error)
	StartUserStream(ctx context.Context) (string, error)
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.PlacedOrder, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	CancelAllOpenOrders(ctx context.Context, symbol string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol string, isolated bool) error
	DisableMultiAssetsMargin(ctx context.Context) error
	DisableHedgeMode(ctx context.Context) error
	KeyPermitsFutures(ctx context.Context) (bool, error)
}

// CandleSource is the collector surface the decision loop reads.
type CandleSource interface {
	Grid() *domain.CandleGrid
	CumulationRate(now time.Time) float64
}

// Settings is the persisted live-trading configuration.
type Settings struct {
	StrategyCodeName string `json:"strategy_code_name"`
	ShouldTransact   bool   `json:"should_transact"`
	DesiredLeverage  int    `json:"desired_leverage"`
	IsolatedMargin   bool   `json:"isolated_margin"`
}

// Config wires a Transactor.
type Config struct {
	Symbols    []string
	AssetToken string
	DataDir    string
	API        API
	Streams    *exchange.Streams
	Kernel     *strategist.Kernel
	Strategies *strategist.Store
	Candles    CandleSource
	Logger     *zap.Logger
}

// Transactor owns the live account mirror and the order pipeline.
type Transactor struct {
	symbols    []string
	assetToken string

	api        API
	streams    *exchange.Streams
	kernel     *strategist.Kernel
	strategies *strategist.Store
	candles    CandleSource
	logger     *zap.Logger
	retry      *retrier.Retrier

	assetRecord    *records.AssetRecordStore
	autoOrders     *records.AutoOrderStore
	settingsSnap   *records.Snapshot[Settings]
	scribblesSnap  *records.Snapshot[domain.Scribbles]
	unrealizedSnap *records.Snapshot[[]domain.UnrealizedPoint]

	connected atomic.Bool

	mu           sync.Mutex
	settings     Settings
	keyOK        bool
	account      domain.AccountState
	scribbles    domain.Scribbles
	unrealized   []domain.UnrealizedPoint
	rules        map[string]exchange.SymbolRule
	leverages    map[string]int
	listenKey    string
	expireStream context.CancelFunc

	tradeMu     sync.Mutex
	lastTradeMs int64
}

// New opens the persisted records and restores the last known settings,
// scribbles and unrealized series.
func New(cfg Config) (*Transactor, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	assetRecord, err := records.NewAssetRecordStore(filepath.Join(cfg.DataDir, "asset_record"))
	if err != nil {
		return nil, err
	}
	autoOrders, err := records.NewAutoOrderStore(filepath.Join(cfg.DataDir, "auto_order_record"))
	if err != nil {
		return nil, err
	}
	settingsSnap, err := records.NewSnapshot[Settings](filepath.Join(cfg.DataDir, "transaction_settings.json"))
	if err != nil {
		return nil, err
	}
	scribblesSnap, err := records.NewSnapshot[domain.Scribbles](filepath.Join(cfg.DataDir, "scribbles.json"))
	if err != nil {
		return nil, err
	}
	unrealizedSnap, err := records.NewSnapshot[[]domain.UnrealizedPoint](filepath.Join(cfg.DataDir, "unrealized_changes.json"))
	if err != nil {
		return nil, err
	}

	t := &Transactor{
		symbols:        cfg.Symbols,
		assetToken:     cfg.AssetToken,
		api:            cfg.API,
		streams:        cfg.Streams,
		kernel:         cfg.Kernel,
		strategies:     cfg.Strategies,
		candles:        cfg.Candles,
		logger:         logger.Named("transactor"),
		retry:          retrier.New(retrier.WithInitialInterval(time.Second), retrier.WithMaxInterval(30*time.Second)),
		assetRecord:    assetRecord,
		autoOrders:     autoOrders,
		settingsSnap:   settingsSnap,
		scribblesSnap:  scribblesSnap,
		unrealizedSnap: unrealizedSnap,
		account:        domain.NewAccountState(cfg.Symbols),
		scribbles:      make(domain.Scribbles),
		rules:          make(map[string]exchange.SymbolRule),
		leverages:      make(map[string]int),
	}

	if s, err := settingsSnap.Load(); err != nil {
		return nil, err
	} else if s != nil {
		t.settings = *s
	}
	if t.settings.DesiredLeverage < 1 {
		t.settings.DesiredLeverage = 1
	}
	if s, err := scribblesSnap.Load(); err != nil {
		return nil, err
	} else if s != nil {
		t.scribbles = *s
	}
	if u, err := unrealizedSnap.Load(); err != nil {
		return nil, err
	} else if u != nil {
		t.unrealized = *u
	}
	return t, nil
}

// SetConnected flips the internet-connectivity gate.
func (t *Transactor) SetConnected(up bool) {
	t.connected.Store(up)
}

// Settings returns the current live-trading configuration.
func (t *Transactor) Settings() Settings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

// UpdateSettings replaces and persists the configuration.
func (t *Transactor) UpdateSettings(s Settings) error {
	if s.DesiredLeverage < 1 {
		return errors.Errorf("desired leverage %d must be at least 1", s.DesiredLeverage)
	}
	t.mu.Lock()
	t.settings = s
	t.mu.Unlock()
	return t.settingsSnap.Save(s)
}

// AccountState returns a deep copy of the live mirror.
func (t *Transactor) AccountState() domain.AccountState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.account.Copy()
}

// UnrealizedPoints returns the recorded unrealized-profit ratios.
func (t *Transactor) UnrealizedPoints() []domain.UnrealizedPoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.UnrealizedPoint, len(t.unrealized))
	copy(out, t.unrealized)
	return out
}

// AssetRecord lists the merged live asset record.
func (t *Transactor) AssetRecord() ([]domain.AssetTrade, error) {
	return t.assetRecord.List()
}

// Close flushes the write-ahead logs.
func (t *Transactor) Close() error {
	if err := t.assetRecord.Close(); err != nil {
		return err
	}
	return t.autoOrders.Close()
}

// Tick runs one decision cycle. It refuses to act unless the process is
// online, auto-transact is on, the API key permits futures and the
// trailing 24-hour candle grid is complete.
func (t *Transactor) Tick(ctx context.Context, now time.Time) error {
	t.mu.Lock()
	settings := t.settings
	keyOK := t.keyOK
	t.mu.Unlock()

	if !settings.ShouldTransact {
		return nil
	}
	if !t.connected.Load() {
		return domain.ErrNotConnected
	}
	if !keyOK {
		return domain.ErrKeyRestriction
	}
	if t.candles.CumulationRate(now) < 1 {
		return domain.ErrCumulationIncomplete
	}

	strategy, ok := t.strategies.Get(settings.StrategyCodeName)
	if !ok {
		return errors.Errorf("strategy %q is not installed", settings.StrategyCodeName)
	}

	tick := domain.AlignMoment(now)
	moment := domain.PreviousMoment(tick)
	grid := t.candles.Grid()
	if !t.waitForRow(ctx, grid, moment) {
		t.logger.Warn("candle row not ready, skipping tick", zap.Time("moment", moment))
		return nil
	}

	series := grid.SliceRange(tick.Add(-decisionWindow), tick)
	if len(series.Moments) == 0 {
		return nil
	}
	set, err := t.kernel.RunIndicators(ctx, strategy, t.symbols, series)
	if err != nil {
		return err
	}

	last := len(series.Moments) - 1
	candleRow := make(map[string]domain.Candle, len(t.symbols))
	prices := make(map[string]float64, len(t.symbols))
	for _, sym := range t.symbols {
		c := series.Candles[sym][last]
		if c.IsEmpty() {
			continue
		}
		candleRow[sym] = c
		prices[sym] = float64(c.Close)
	}
	indicatorRow := make(map[domain.IndicatorKey]float32, len(set))
	for key, values := range set {
		if last < len(values) {
			indicatorRow[key] = values[last]
		}
	}

	t.mu.Lock()
	account := t.account.Copy()
	scribbles := t.scribbles.Copy()
	t.mu.Unlock()

	decisions, mutated, err := t.kernel.RunDecision(ctx, strategy, strategist.DecisionContext{
		Symbols:    t.symbols,
		Moment:     series.Moments[last],
		Candles:    candleRow,
		Indicators: indicatorRow,
		Account:    account,
		Scribbles:  scribbles,
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.scribbles = mutated
	t.mu.Unlock()
	if err := t.scribblesSnap.Save(mutated); err != nil {
		t.logger.Warn("persist scribbles", zap.Error(err))
	}

	t.flushOrders(ctx, decisions, prices)
	return nil
}

func (t *Transactor) waitForRow(ctx context.Context, grid *domain.CandleGrid, moment time.Time) bool {
	deadline := time.Now().Add(candleWaitTimeout)
	for {
		if grid.HasRow(moment) {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		sleep(ctx, candleWaitPoll)
	}
}

func (t *Transactor) uniqueTradeTime(at time.Time) time.Time {
	t.tradeMu.Lock()
	defer t.tradeMu.Unlock()
	ms := at.UnixMilli()
	if ms <= t.lastTradeMs {
		ms = t.lastTradeMs + 1
	}
	t.lastTradeMs = ms
	return time.UnixMilli(ms).UTC()
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
