package domain

import (
	"math"
	"sort"
	"sync"
	"time"
)

// CandleField names one of the five columns stored per symbol.
type CandleField string

const (
	FieldOpen   CandleField = "open"
	FieldHigh   CandleField = "high"
	FieldLow    CandleField = "low"
	FieldClose  CandleField = "close"
	FieldVolume CandleField = "volume"
)

// NaN32 marks a grid cell where no trade was observed.
func NaN32() float32 { return float32(math.NaN()) }

// Candle is one OHLCV row of the grid for a single symbol.
// Cells are 32-bit floats; NaN means "no data".
type Candle struct {
	Open   float32
	High   float32
	Low    float32
	Close  float32
	Volume float32
}

// EmptyCandle returns a candle with every cell set to NaN.
func EmptyCandle() Candle {
	n := NaN32()
	return Candle{Open: n, High: n, Low: n, Close: n, Volume: n}
}

// IsEmpty reports whether no trade data was written into the row.
func (c Candle) IsEmpty() bool {
	return math.IsNaN(float64(c.Close))
}

// Field returns the named cell.
func (c Candle) Field(f CandleField) float32 {
	switch f {
	case FieldOpen:
		return c.Open
	case FieldHigh:
		return c.High
	case FieldLow:
		return c.Low
	case FieldClose:
		return c.Close
	case FieldVolume:
		return c.Volume
	}
	return NaN32()
}

// CandleGrid is the dense time-indexed candle table shared between the
// collector (sole writer) and every reader. Rows are moments at
// 10-second frequency, columns are (symbol, field).
type CandleGrid struct {
	mu      sync.RWMutex
	symbols []string
	moments []time.Time
	index   map[int64]int       // unix second -> row
	rows    map[string][]Candle // symbol -> aligned rows
}

// NewCandleGrid creates an empty grid for the fixed target-symbol set.
func NewCandleGrid(symbols []string) *CandleGrid {
	g := &CandleGrid{
		symbols: append([]string(nil), symbols...),
		index:   make(map[int64]int),
		rows:    make(map[string][]Candle, len(symbols)),
	}
	for _, s := range symbols {
		g.rows[s] = nil
	}
	return g
}

// Symbols returns the fixed target-symbol set.
func (g *CandleGrid) Symbols() []string {
	return append([]string(nil), g.symbols...)
}

// SetRow writes one candle row for a symbol under the write lock,
// creating the moment row when it does not exist yet. The index is
// re-sorted only when the new moment is not monotonically after the
// last one.
func (g *CandleGrid) SetRow(moment time.Time, symbol string, c Candle) {
	moment = AlignMoment(moment)

	g.mu.Lock()
	defer g.mu.Unlock()

	row, ok := g.index[moment.Unix()]
	if !ok {
		row = g.appendMomentLocked(moment)
	}
	cells, ok := g.rows[symbol]
	if !ok {
		return
	}
	cells[row] = c
}

func (g *CandleGrid) appendMomentLocked(moment time.Time) int {
	g.moments = append(g.moments, moment)
	for s := range g.rows {
		g.rows[s] = append(g.rows[s], EmptyCandle())
	}
	row := len(g.moments) - 1
	g.index[moment.Unix()] = row

	if row > 0 && !g.moments[row-1].Before(moment) {
		g.sortLocked()
		row = g.index[moment.Unix()]
	}
	return row
}

func (g *CandleGrid) sortLocked() {
	order := make([]int, len(g.moments))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return g.moments[order[a]].Before(g.moments[order[b]])
	})

	moments := make([]time.Time, len(order))
	for i, from := range order {
		moments[i] = g.moments[from]
	}
	for s, cells := range g.rows {
		sorted := make([]Candle, len(order))
		for i, from := range order {
			sorted[i] = cells[from]
		}
		g.rows[s] = sorted
	}
	g.moments = moments
	for i, m := range g.moments {
		g.index[m.Unix()] = i
	}
}

// Row returns the candle for (moment, symbol), reporting existence.
func (g *CandleGrid) Row(moment time.Time, symbol string) (Candle, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	row, ok := g.index[AlignMoment(moment).Unix()]
	if !ok {
		return EmptyCandle(), false
	}
	cells, ok := g.rows[symbol]
	if !ok {
		return EmptyCandle(), false
	}
	c := cells[row]
	return c, !c.IsEmpty()
}

// HasRow reports whether any symbol has data at the given moment.
func (g *CandleGrid) HasRow(moment time.Time) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	row, ok := g.index[AlignMoment(moment).Unix()]
	if !ok {
		return false
	}
	for _, cells := range g.rows {
		if !cells[row].IsEmpty() {
			return true
		}
	}
	return false
}

// LastCloseBefore walks backwards from the given moment looking for the
// last non-NaN close at most lookback steps earlier. The moment itself
// is excluded; the window is time-based, so a sparse grid cannot widen
// it.
func (g *CandleGrid) LastCloseBefore(moment time.Time, symbol string, lookback int) (float32, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cells, ok := g.rows[symbol]
	if !ok {
		return 0, false
	}
	moment = AlignMoment(moment)
	end := sort.Search(len(g.moments), func(i int) bool { return !g.moments[i].Before(moment) })
	limit := moment.Add(-time.Duration(lookback) * MomentStep)
	for i := end - 1; i >= 0 && !g.moments[i].Before(limit); i-- {
		if !cells[i].IsEmpty() {
			return cells[i].Close, true
		}
	}
	return 0, false
}

// Series is a moment-indexed view over a contiguous slice of the grid.
type Series struct {
	Moments []time.Time
	Candles map[string][]Candle
}

// SliceRange copies the rows with from <= moment < to for every symbol.
func (g *CandleGrid) SliceRange(from, to time.Time) Series {
	g.mu.RLock()
	defer g.mu.RUnlock()

	lo := sort.Search(len(g.moments), func(i int) bool { return !g.moments[i].Before(from) })
	hi := sort.Search(len(g.moments), func(i int) bool { return !g.moments[i].Before(to) })

	out := Series{
		Moments: append([]time.Time(nil), g.moments[lo:hi]...),
		Candles: make(map[string][]Candle, len(g.rows)),
	}
	for s, cells := range g.rows {
		out.Candles[s] = append([]Candle(nil), cells[lo:hi]...)
	}
	return out
}

// FirstEmptyMomentSince finds the earliest moment at or after from whose
// row for the symbol is still NaN. The expected grid is dense, so the
// scan walks the ideal 10-second index rather than the stored rows.
func (g *CandleGrid) FirstEmptyMomentSince(from, until time.Time, symbol string) (time.Time, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cells, ok := g.rows[symbol]
	if !ok {
		return time.Time{}, false
	}
	for m := AlignMoment(from); m.Before(until); m = m.Add(MomentStep) {
		row, ok := g.index[m.Unix()]
		if !ok || cells[row].IsEmpty() {
			return m, true
		}
	}
	return time.Time{}, false
}

// CountFilled counts non-NaN rows for the symbol with from <= moment < to.
func (g *CandleGrid) CountFilled(from, to time.Time, symbol string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cells, ok := g.rows[symbol]
	if !ok {
		return 0
	}
	lo := sort.Search(len(g.moments), func(i int) bool { return !g.moments[i].Before(from) })
	hi := sort.Search(len(g.moments), func(i int) bool { return !g.moments[i].Before(to) })

	n := 0
	for i := lo; i < hi; i++ {
		if !cells[i].IsEmpty() {
			n++
		}
	}
	return n
}

// Moments returns a copy of the grid index.
func (g *CandleGrid) Moments() []time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]time.Time(nil), g.moments...)
}

// Len returns the number of rows in the grid.
func (g *CandleGrid) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.moments)
}
