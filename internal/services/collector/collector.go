// Package collector turns the realtime Binance streams and the public
// historical archives into a gap-free 10-second candle grid.
package collector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cunarist/solie/internal/domain"
	"github.com/cunarist/solie/internal/exchange"
	"github.com/cunarist/solie/internal/storage/candles"
	"github.com/cunarist/solie/pkg/ring"
)

const (
	marketRingCapacity = 1 << 22
	tradeRingCapacity  = 1 << 20

	// idealRowCount is the number of 10-second rows a fully cumulated
	// trailing 24-hour window holds: (86400-60)/10 + 1.
	idealRowCount = (86400-60)/10 + 1

	// maxFillCalls bounds REST usage of the gap filler per tick, shared
	// across all symbols.
	maxFillCalls = 10

	// fillPageLimit is the aggTrades page size; a shorter page means the
	// exchange returned everything it has.
	fillPageLimit = 1000

	closeInheritLookback = 60
)

// aggTradeFetcher is the REST slice of exchange.Client the gap filler
// needs.
type aggTradeFetcher interface {
	AggTrades(ctx context.Context, symbol string, startTime time.Time, limit int) ([]domain.AggTrade, error)
}

// archiveFetcher is the data-archive slice of exchange.HistoryClient
// the backfill needs.
type archiveFetcher interface {
	MonthlyAggTrades(ctx context.Context, symbol string, year int, month time.Month) ([]domain.AggTrade, bool, error)
	DailyAggTrades(ctx context.Context, symbol string, day time.Time) ([]domain.AggTrade, bool, error)
}

// Collector owns the realtime rings and is the sole writer of the
// candle grid.
type Collector struct {
	symbols []string
	grid    *domain.CandleGrid
	store   *candles.Store
	api     aggTradeFetcher
	history archiveFetcher
	streams *exchange.Streams
	logger  *zap.Logger

	marketRing *ring.Ring[domain.MarketEvent]
	tradeRing  *ring.Ring[domain.AggTrade]

	mu   sync.RWMutex
	gone map[string]bool
}

// New creates a collector for the fixed target-symbol set.
func New(symbols []string, grid *domain.CandleGrid, store *candles.Store, api aggTradeFetcher, history archiveFetcher, streams *exchange.Streams, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		symbols:    append([]string(nil), symbols...),
		grid:       grid,
		store:      store,
		api:        api,
		history:    history,
		streams:    streams,
		logger:     logger.Named("collector"),
		marketRing: ring.New[domain.MarketEvent](marketRingCapacity),
		tradeRing:  ring.New[domain.AggTrade](tradeRingCapacity),
		gone:       make(map[string]bool),
	}
}

// Grid exposes the candle grid for readers.
func (c *Collector) Grid() *domain.CandleGrid { return c.grid }

// LoadPersisted fills the grid from the yearly partitions on disk.
func (c *Collector) LoadPersisted() error {
	return c.store.Load(c.grid)
}

// RunStreams opens the three subscription families and blocks until
// ctx is cancelled. The aggregate-trade ring is cleared on every
// reconnect so stale trades cannot corrupt the next synthesis.
func (c *Collector) RunStreams(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.streams.RunAllMarkPrice(ctx, c.onMarketEvent)
	}()
	for _, symbol := range c.symbols {
		symbol := symbol
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.streams.RunBookTicker(ctx, symbol, c.onMarketEvent)
		}()
		go func() {
			defer wg.Done()
			c.streams.RunAggTrade(ctx, symbol, c.onAggTrade, c.tradeRing.Clear)
		}()
	}
	wg.Wait()
}

func (c *Collector) onMarketEvent(e domain.MarketEvent) {
	c.marketRing.Push(e)
}

func (c *Collector) onAggTrade(t domain.AggTrade) {
	c.tradeRing.Push(t)
}

// MarketEvents returns up to n most recent ring events, oldest first.
func (c *Collector) MarketEvents(n int) []domain.MarketEvent {
	all := c.marketRing.Snapshot()
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// AggTrades returns up to n most recent aggregate trades, oldest first.
func (c *Collector) AggTrades(n int) []domain.AggTrade {
	all := c.tradeRing.Snapshot()
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// SynthesizeTick builds the candle row for the bucket that just
// closed. A tick at T writes the row at T-10s from trades observed in
// (T-10s, T).
func (c *Collector) SynthesizeTick(now time.Time) {
	tick := domain.AlignMoment(now)
	moment := domain.PreviousMoment(tick)

	first, ok := c.tradeRing.First()
	if !ok || first.Time.After(moment) {
		// not watching long enough to trust the bucket
		return
	}

	bySymbol := map[string][]domain.AggTrade{}
	for _, trade := range c.tradeRing.Snapshot() {
		if !trade.Time.After(moment) || !trade.Time.Before(tick) {
			continue
		}
		bySymbol[trade.Symbol] = append(bySymbol[trade.Symbol], trade)
	}

	for _, symbol := range c.symbols {
		trades := bySymbol[symbol]
		if len(trades) > 0 {
			c.grid.SetRow(moment, symbol, candleFromTrades(trades))
			continue
		}
		inherited, ok := c.grid.LastCloseBefore(moment, symbol, closeInheritLookback)
		if !ok {
			continue
		}
		c.grid.SetRow(moment, symbol, domain.Candle{
			Open: inherited, High: inherited, Low: inherited, Close: inherited, Volume: 0,
		})
	}
}

// FillHoles scans the trailing 24 hours per symbol and repairs NaN
// buckets with REST aggTrades pages, at most maxFillCalls requests per
// tick across all symbols. REST errors are swallowed; the next tick
// retries.
func (c *Collector) FillHoles(ctx context.Context, now time.Time) {
	to := domain.AlignMoment(now)
	from := to.Add(-24 * time.Hour)

	budget := maxFillCalls
	for _, symbol := range c.symbols {
		if budget <= 0 {
			return
		}
		if c.isGone(symbol) {
			continue
		}
		if c.grid.CountFilled(from, to, symbol) >= idealRowCount {
			continue
		}
		budget -= c.fillSymbol(ctx, symbol, from, to, budget)
	}
}

// fillSymbol repairs gaps for one symbol using at most budget REST
// calls, reporting how many it spent.
func (c *Collector) fillSymbol(ctx context.Context, symbol string, from, to time.Time, budget int) int {
	used := 0
	for used < budget {
		gap, ok := c.grid.FirstEmptyMomentSince(from, to, symbol)
		if !ok {
			return used
		}
		used++
		trades, err := c.api.AggTrades(ctx, symbol, gap, fillPageLimit)
		if err != nil {
			c.logger.Warn("gap fill request failed",
				zap.String("symbol", symbol), zap.Time("gap", gap), zap.Error(err))
			return used
		}
		if len(trades) == 0 {
			c.markGone(symbol)
			c.logger.Warn("symbol has no historical data",
				zap.String("symbol", symbol), zap.Error(&domain.MissingHistoricalData{Symbol: symbol}))
			return used
		}
		// a short page is everything the exchange has, so even its
		// final bucket is fully observed
		complete := len(trades) < fillPageLimit
		synthesizeInto(c.grid, symbol, trades, complete)
		covered := domain.AlignMoment(trades[len(trades)-1].Time)
		if complete {
			covered = covered.Add(domain.MomentStep)
		}
		if !covered.After(gap) {
			// the page did not reach past the gap bucket
			return used
		}
		c.inheritQuietBuckets(symbol, gap, covered)
	}
	return used
}

// inheritQuietBuckets repairs buckets inside a fetched range that had
// no trades at all, so a quiet symbol cannot stall the filler on the
// same gap forever.
func (c *Collector) inheritQuietBuckets(symbol string, from, until time.Time) {
	for m := from; m.Before(until); m = m.Add(domain.MomentStep) {
		if _, ok := c.grid.Row(m, symbol); ok {
			continue
		}
		inherited, ok := c.grid.LastCloseBefore(m, symbol, closeInheritLookback)
		if !ok {
			continue
		}
		c.grid.SetRow(m, symbol, domain.Candle{
			Open: inherited, High: inherited, Low: inherited, Close: inherited, Volume: 0,
		})
	}
}

func (c *Collector) isGone(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gone[symbol]
}

func (c *Collector) markGone(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gone[symbol] = true
}

// GoneSymbols lists symbols Binance reported no data for; they are
// skipped by the gap filler but still shown to the user.
func (c *Collector) GoneSymbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.gone))
	for s := range c.gone {
		out = append(out, s)
	}
	return out
}

// Persist rewrites the current-year partition; called hourly.
func (c *Collector) Persist(now time.Time) error {
	return c.store.SaveCurrentYear(c.grid, now)
}

// CumulationRate reports trailing-24h completeness in [0, 1], the
// minimum across target symbols.
func (c *Collector) CumulationRate(now time.Time) float64 {
	to := domain.AlignMoment(now)
	from := to.Add(-24 * time.Hour)
	rate := 1.0
	for _, symbol := range c.symbols {
		r := float64(c.grid.CountFilled(from, to, symbol)) / float64(idealRowCount)
		if r > 1 {
			r = 1
		}
		if r < rate {
			rate = r
		}
	}
	return rate
}
