package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSmaAlignment(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	out := Sma(values, 3)
	require.Len(t, out, len(values), "output must stay aligned to the input index")

	// warmup rows are NaN, the tail holds real averages
	require.True(t, math.IsNaN(out[0]))
	require.InDelta(t, 5.0, out[len(out)-1], 1e-9)
}

func TestEmaTracksTrend(t *testing.T) {
	values := make([]float64, 50)
	for i := range values {
		values[i] = float64(i)
	}
	out := Ema(values, 10)
	require.Len(t, out, len(values))
	require.Greater(t, out[len(out)-1], out[len(out)-10])
}

func TestRsiBounds(t *testing.T) {
	values := []float64{44, 44.3, 44.1, 43.6, 44.3, 44.8, 45.1, 45.4, 45.8, 46.1,
		46.3, 46.2, 46.0, 46.4, 46.2, 45.6, 46.3, 46.2, 46.0, 46.4}
	out := Rsi(values, 14)
	require.Len(t, out, len(values))
	last := out[len(out)-1]
	require.False(t, math.IsNaN(last))
	require.GreaterOrEqual(t, last, 0.0)
	require.LessOrEqual(t, last, 100.0)
}

func TestEmptyInput(t *testing.T) {
	require.Empty(t, Sma(nil, 5))
	require.Empty(t, Macd(nil))
}
