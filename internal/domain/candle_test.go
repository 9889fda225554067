package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func moment(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestAlignMoment(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"already aligned", moment("2024-06-01T00:00:10Z"), moment("2024-06-01T00:00:10Z")},
		{"floors seconds", moment("2024-06-01T00:00:19Z"), moment("2024-06-01T00:00:10Z")},
		{"floors sub-second", moment("2024-06-01T00:00:10Z").Add(900 * time.Millisecond), moment("2024-06-01T00:00:10Z")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AlignMoment(tt.in)
			require.True(t, got.Equal(tt.want))
			require.True(t, IsMoment(got))
			require.Zero(t, got.Second()%10)
			require.Zero(t, got.Nanosecond())
		})
	}
}

func TestCandleGridMonotonicUniqueIndex(t *testing.T) {
	g := NewCandleGrid([]string{"BTCUSDT"})
	base := moment("2024-06-01T00:00:00Z")

	// out-of-order writes must still leave a sorted unique index
	g.SetRow(base.Add(20*time.Second), "BTCUSDT", Candle{Open: 1, High: 1, Low: 1, Close: 1})
	g.SetRow(base, "BTCUSDT", Candle{Open: 2, High: 2, Low: 2, Close: 2})
	g.SetRow(base.Add(10*time.Second), "BTCUSDT", Candle{Open: 3, High: 3, Low: 3, Close: 3})

	moments := g.Moments()
	require.Len(t, moments, 3)
	for i := 1; i < len(moments); i++ {
		require.True(t, moments[i-1].Before(moments[i]))
	}

	// overwriting an existing moment must not grow the index
	g.SetRow(base, "BTCUSDT", Candle{Open: 9, High: 9, Low: 9, Close: 9})
	require.Equal(t, 3, g.Len())

	c, ok := g.Row(base, "BTCUSDT")
	require.True(t, ok)
	require.Equal(t, float32(9), c.Close)
}

func TestCandleGridLastCloseBefore(t *testing.T) {
	g := NewCandleGrid([]string{"ETHUSDT"})
	base := moment("2024-06-01T00:00:00Z")
	g.SetRow(base, "ETHUSDT", Candle{Open: 10, High: 10, Low: 10, Close: 10, Volume: 1})

	got, ok := g.LastCloseBefore(base.Add(30*time.Second), "ETHUSDT", 60)
	require.True(t, ok)
	require.Equal(t, float32(10), got)

	_, ok = g.LastCloseBefore(base, "ETHUSDT", 60)
	require.False(t, ok, "nothing strictly before the first row")
}

func TestCandleGridLastCloseBeforeWindow(t *testing.T) {
	g := NewCandleGrid([]string{"ETHUSDT"})
	at := moment("2024-06-01T01:00:00Z")

	// a close exactly lookback steps back is still inside the window
	g.SetRow(at.Add(-60*MomentStep), "ETHUSDT", Candle{Open: 7, High: 7, Low: 7, Close: 7, Volume: 1})
	got, ok := g.LastCloseBefore(at, "ETHUSDT", 60)
	require.True(t, ok)
	require.Equal(t, float32(7), got)

	// the window is time-based: one step further back falls out even
	// when the grid holds no rows in between
	g2 := NewCandleGrid([]string{"ETHUSDT"})
	g2.SetRow(at.Add(-61*MomentStep), "ETHUSDT", Candle{Open: 8, High: 8, Low: 8, Close: 8, Volume: 1})
	_, ok = g2.LastCloseBefore(at, "ETHUSDT", 60)
	require.False(t, ok)

	// a row at the moment itself never counts
	g2.SetRow(at, "ETHUSDT", Candle{Open: 9, High: 9, Low: 9, Close: 9, Volume: 1})
	_, ok = g2.LastCloseBefore(at, "ETHUSDT", 60)
	require.False(t, ok)
}

func TestCandleGridFirstEmptyMomentSince(t *testing.T) {
	g := NewCandleGrid([]string{"BTCUSDT"})
	base := moment("2024-06-01T00:00:00Z")
	g.SetRow(base, "BTCUSDT", Candle{Open: 1, High: 1, Low: 1, Close: 1})
	g.SetRow(base.Add(20*time.Second), "BTCUSDT", Candle{Open: 1, High: 1, Low: 1, Close: 1})

	hole, ok := g.FirstEmptyMomentSince(base, base.Add(time.Minute), "BTCUSDT")
	require.True(t, ok)
	require.True(t, hole.Equal(base.Add(10*time.Second)))

	require.Equal(t, 2, g.CountFilled(base, base.Add(time.Minute), "BTCUSDT"))
}

func TestCandleGridSliceRange(t *testing.T) {
	g := NewCandleGrid([]string{"BTCUSDT"})
	base := moment("2024-06-01T00:00:00Z")
	for i := 0; i < 6; i++ {
		g.SetRow(base.Add(time.Duration(i)*MomentStep), "BTCUSDT", Candle{Close: float32(i)})
	}

	s := g.SliceRange(base.Add(MomentStep), base.Add(4*MomentStep))
	require.Len(t, s.Moments, 3)
	require.Equal(t, float32(1), s.Candles["BTCUSDT"][0].Close)
	require.Equal(t, float32(3), s.Candles["BTCUSDT"][2].Close)
}
