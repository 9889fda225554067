package collector

import (
	"sort"
	"time"

	"github.com/cunarist/solie/internal/domain"
)

// candleFromTrades folds one bucket's trades, ordered by time, into an
// OHLCV row.
func candleFromTrades(trades []domain.AggTrade) domain.Candle {
	c := domain.Candle{
		Open: float32(trades[0].Price),
		High: float32(trades[0].Price),
		Low:  float32(trades[0].Price),
	}
	var volume float64
	for _, t := range trades {
		p := float32(t.Price)
		if p > c.High {
			c.High = p
		}
		if p < c.Low {
			c.Low = p
		}
		c.Close = p
		volume += t.Volume
	}
	c.Volume = float32(volume)
	return c
}

// synthesizeInto buckets a time-ordered trade list into 10-second rows
// and writes them to the grid. A trade exactly on a bucket boundary is
// dropped, matching the exclusive-start rule of live synthesis. Unless
// complete is set, the final bucket is written only when the trade
// range reaches past its end, because a truncated REST page may have
// seen just part of it.
func synthesizeInto(grid *domain.CandleGrid, symbol string, trades []domain.AggTrade, complete bool) int {
	if len(trades) == 0 {
		return 0
	}
	if !sort.SliceIsSorted(trades, func(a, b int) bool { return trades[a].Time.Before(trades[b].Time) }) {
		sorted := append([]domain.AggTrade(nil), trades...)
		sort.Slice(sorted, func(a, b int) bool { return sorted[a].Time.Before(sorted[b].Time) })
		trades = sorted
	}
	last := trades[len(trades)-1].Time

	written := 0
	var bucket []domain.AggTrade
	var bucketMoment time.Time
	flush := func() {
		if len(bucket) == 0 {
			return
		}
		if !complete && !last.After(bucketMoment.Add(domain.MomentStep)) {
			return
		}
		grid.SetRow(bucketMoment, symbol, candleFromTrades(bucket))
		written++
	}
	for _, t := range trades {
		m := domain.AlignMoment(t.Time)
		if t.Time.Equal(m) {
			continue
		}
		if !m.Equal(bucketMoment) {
			flush()
			bucket = bucket[:0]
			bucketMoment = m
		}
		bucket = append(bucket, t)
	}
	flush()
	return written
}
