package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cunarist/solie/internal/domain"
	"github.com/cunarist/solie/internal/storage/candles"
)

type fakeFetcher struct {
	pages map[string][]domain.AggTrade
	calls int
}

func (f *fakeFetcher) AggTrades(_ context.Context, symbol string, startTime time.Time, _ int) ([]domain.AggTrade, error) {
	f.calls++
	var out []domain.AggTrade
	for _, t := range f.pages[symbol] {
		if !t.Time.Before(startTime) {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeArchive struct {
	daily map[string][]domain.AggTrade // keyed by YYYY-MM-DD
}

func (f *fakeArchive) MonthlyAggTrades(context.Context, string, int, time.Month) ([]domain.AggTrade, bool, error) {
	return nil, false, nil
}

func (f *fakeArchive) DailyAggTrades(_ context.Context, symbol string, day time.Time) ([]domain.AggTrade, bool, error) {
	trades, ok := f.daily[symbol+"/"+day.Format("2006-01-02")]
	return trades, ok, nil
}

func newTestCollector(t *testing.T, symbols []string, api aggTradeFetcher, history archiveFetcher) *Collector {
	t.Helper()
	store, err := candles.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	grid := domain.NewCandleGrid(symbols)
	return New(symbols, grid, store, api, history, nil, nil)
}

func tickAt(t *testing.T, value string) time.Time {
	t.Helper()
	m, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return m.UTC()
}

func TestSynthesizeTickBuildsOHLCV(t *testing.T) {
	c := newTestCollector(t, []string{"BTCUSDT"}, nil, nil)
	tick := tickAt(t, "2024-03-01T12:00:10Z")
	moment := tick.Add(-10 * time.Second)

	// an old event proves the stream was watching before the bucket
	c.onAggTrade(domain.AggTrade{Time: moment.Add(-time.Minute), Symbol: "BTCUSDT", Price: 99, Volume: 1})
	c.onAggTrade(domain.AggTrade{Time: moment.Add(2 * time.Second), Symbol: "BTCUSDT", Price: 100, Volume: 1})
	c.onAggTrade(domain.AggTrade{Time: moment.Add(5 * time.Second), Symbol: "BTCUSDT", Price: 104, Volume: 2})
	c.onAggTrade(domain.AggTrade{Time: moment.Add(8 * time.Second), Symbol: "BTCUSDT", Price: 98, Volume: 1})
	// exactly on the tick instant: excluded
	c.onAggTrade(domain.AggTrade{Time: tick, Symbol: "BTCUSDT", Price: 500, Volume: 1})

	c.SynthesizeTick(tick)

	candle, ok := c.Grid().Row(moment, "BTCUSDT")
	require.True(t, ok)
	require.InDelta(t, 100, candle.Open, 1e-6)
	require.InDelta(t, 104, candle.High, 1e-6)
	require.InDelta(t, 98, candle.Low, 1e-6)
	require.InDelta(t, 98, candle.Close, 1e-6)
	require.InDelta(t, 4, candle.Volume, 1e-6)
}

func TestSynthesizeTickInheritsClose(t *testing.T) {
	c := newTestCollector(t, []string{"BTCUSDT"}, nil, nil)
	tick := tickAt(t, "2024-03-01T12:00:10Z")
	moment := tick.Add(-10 * time.Second)

	c.Grid().SetRow(moment.Add(-30*time.Second), "BTCUSDT", domain.Candle{
		Open: 101, High: 101, Low: 101, Close: 101, Volume: 1,
	})
	c.onAggTrade(domain.AggTrade{Time: moment.Add(-time.Minute), Symbol: "BTCUSDT", Price: 99, Volume: 1})

	c.SynthesizeTick(tick)

	candle, ok := c.Grid().Row(moment, "BTCUSDT")
	require.True(t, ok)
	require.InDelta(t, 101, candle.Open, 1e-6)
	require.InDelta(t, 101, candle.Close, 1e-6)
	require.InDelta(t, 0, candle.Volume, 1e-6)
}

func TestSynthesizeTickInheritanceReach(t *testing.T) {
	c := newTestCollector(t, []string{"BTCUSDT"}, nil, nil)
	tick := tickAt(t, "2024-03-01T12:00:10Z")
	moment := tick.Add(-10 * time.Second)

	// the inheritance window is measured from the row being written,
	// so a close exactly 60 buckets earlier still qualifies
	c.Grid().SetRow(moment.Add(-60*domain.MomentStep), "BTCUSDT", domain.Candle{
		Open: 77, High: 77, Low: 77, Close: 77, Volume: 1,
	})
	c.onAggTrade(domain.AggTrade{Time: moment.Add(-time.Hour), Symbol: "BTCUSDT", Price: 1, Volume: 1})

	c.SynthesizeTick(tick)

	candle, ok := c.Grid().Row(moment, "BTCUSDT")
	require.True(t, ok)
	require.InDelta(t, 77, candle.Close, 1e-6)
	require.InDelta(t, 0, candle.Volume, 1e-6)
}

func TestSynthesizeTickGuardsShortWatch(t *testing.T) {
	c := newTestCollector(t, []string{"BTCUSDT"}, nil, nil)
	tick := tickAt(t, "2024-03-01T12:00:10Z")
	moment := tick.Add(-10 * time.Second)

	// first ring event is inside the bucket: not watching long enough
	c.onAggTrade(domain.AggTrade{Time: moment.Add(3 * time.Second), Symbol: "BTCUSDT", Price: 100, Volume: 1})
	c.SynthesizeTick(tick)

	_, ok := c.Grid().Row(moment, "BTCUSDT")
	require.False(t, ok)
}

func TestFillHolesRepairsGap(t *testing.T) {
	tick := tickAt(t, "2024-03-01T12:00:00Z")
	gap := tick.Add(-30 * time.Second)

	fetcher := &fakeFetcher{pages: map[string][]domain.AggTrade{
		"BTCUSDT": {
			{Time: gap.Add(2 * time.Second), Symbol: "BTCUSDT", Price: 100, Volume: 1},
			{Time: gap.Add(7 * time.Second), Symbol: "BTCUSDT", Price: 102, Volume: 1},
			{Time: gap.Add(12 * time.Second), Symbol: "BTCUSDT", Price: 103, Volume: 1},
			{Time: gap.Add(21 * time.Second), Symbol: "BTCUSDT", Price: 104, Volume: 1},
		},
	}}
	c := newTestCollector(t, []string{"BTCUSDT"}, fetcher, nil)

	// the rest of the 24h window stays empty, so the filler targets
	// the earliest NaN moment of the scan window
	c.fillSymbol(context.Background(), "BTCUSDT", gap, tick, maxFillCalls)

	candle, ok := c.Grid().Row(gap, "BTCUSDT")
	require.True(t, ok)
	require.InDelta(t, 100, candle.Open, 1e-6)
	require.InDelta(t, 102, candle.Close, 1e-6)
}

func TestFillHolesRepairsGapWithinBucket(t *testing.T) {
	gap := tickAt(t, "2024-03-01T00:00:10Z")
	tick := gap.Add(10 * time.Second)

	// the exchange has exactly one trade and it sits inside the gap
	// bucket itself; a short page means the bucket is fully observed
	fetcher := &fakeFetcher{pages: map[string][]domain.AggTrade{
		"BTCUSDT": {
			{Time: gap.Add(time.Second), Symbol: "BTCUSDT", Price: 60000, Volume: 0.5},
		},
	}}
	c := newTestCollector(t, []string{"BTCUSDT"}, fetcher, nil)

	used := c.fillSymbol(context.Background(), "BTCUSDT", gap, tick, maxFillCalls)
	require.Equal(t, 1, used)

	candle, ok := c.Grid().Row(gap, "BTCUSDT")
	require.True(t, ok)
	require.InDelta(t, 60000, candle.Open, 1e-6)
	require.InDelta(t, 60000, candle.High, 1e-6)
	require.InDelta(t, 60000, candle.Low, 1e-6)
	require.InDelta(t, 60000, candle.Close, 1e-6)
	require.InDelta(t, 0.5, candle.Volume, 1e-6)
}

// steadyFetcher fills exactly one bucket per request so the call budget
// is the only thing bounding a pass.
type steadyFetcher struct{ calls int }

func (f *steadyFetcher) AggTrades(_ context.Context, symbol string, startTime time.Time, _ int) ([]domain.AggTrade, error) {
	f.calls++
	return []domain.AggTrade{{Time: startTime.Add(time.Second), Symbol: symbol, Price: 1, Volume: 1}}, nil
}

func TestFillHolesSharesBudgetAcrossSymbols(t *testing.T) {
	fetcher := &steadyFetcher{}
	c := newTestCollector(t, []string{"BTCUSDT", "ETHUSDT"}, fetcher, nil)

	now := tickAt(t, "2024-03-01T12:00:00Z")
	c.FillHoles(context.Background(), now)
	require.Equal(t, maxFillCalls, fetcher.calls)
}

func TestFillHolesMarksGoneSymbols(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]domain.AggTrade{}}
	c := newTestCollector(t, []string{"DELISTED"}, fetcher, nil)

	now := tickAt(t, "2024-03-01T12:00:00Z")
	c.FillHoles(context.Background(), now)
	require.Equal(t, []string{"DELISTED"}, c.GoneSymbols())

	// gone symbols are skipped on the next pass
	calls := fetcher.calls
	c.FillHoles(context.Background(), now)
	require.Equal(t, calls, fetcher.calls)
}

func TestCumulationRate(t *testing.T) {
	c := newTestCollector(t, []string{"BTCUSDT"}, nil, nil)
	now := tickAt(t, "2024-03-01T12:00:00Z")
	require.InDelta(t, 0, c.CumulationRate(now), 1e-9)

	for m := now.Add(-24 * time.Hour); m.Before(now); m = m.Add(10 * time.Second) {
		c.Grid().SetRow(m, "BTCUSDT", domain.Candle{Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})
	}
	require.InDelta(t, 1, c.CumulationRate(now), 1e-9)
}

func TestSynthesizeIntoSkipsPartialLastBucket(t *testing.T) {
	grid := domain.NewCandleGrid([]string{"BTCUSDT"})
	m := tickAt(t, "2024-03-01T12:00:00Z")
	trades := []domain.AggTrade{
		{Time: m.Add(1 * time.Second), Symbol: "BTCUSDT", Price: 100, Volume: 1},
		{Time: m.Add(11 * time.Second), Symbol: "BTCUSDT", Price: 101, Volume: 1},
	}

	synthesizeInto(grid, "BTCUSDT", trades, false)
	_, ok := grid.Row(m, "BTCUSDT")
	require.True(t, ok)
	// last bucket only partially observed
	_, ok = grid.Row(m.Add(10*time.Second), "BTCUSDT")
	require.False(t, ok)

	synthesizeInto(grid, "BTCUSDT", trades, true)
	_, ok = grid.Row(m.Add(10*time.Second), "BTCUSDT")
	require.True(t, ok)
}

func TestBackfillLastTwoDays(t *testing.T) {
	now := time.Now().UTC()
	yesterday := now.Truncate(24 * time.Hour).AddDate(0, 0, -1)
	m := yesterday.Add(12 * time.Hour)

	archive := &fakeArchive{daily: map[string][]domain.AggTrade{
		"BTCUSDT/" + yesterday.Format("2006-01-02"): {
			{Time: m.Add(time.Second), Symbol: "BTCUSDT", Price: 100, Volume: 1},
			{Time: m.Add(3 * time.Second), Symbol: "BTCUSDT", Price: 102, Volume: 2},
		},
	}}
	c := newTestCollector(t, []string{"BTCUSDT"}, nil, archive)

	progress := make(chan Progress, 16)
	require.NoError(t, c.Backfill(context.Background(), BackfillLastTwoDays, progress))

	candle, ok := c.Grid().Row(m, "BTCUSDT")
	require.True(t, ok)
	require.InDelta(t, 100, candle.Open, 1e-6)
	require.InDelta(t, 102, candle.Close, 1e-6)
	require.InDelta(t, 3, candle.Volume, 1e-6)
}
