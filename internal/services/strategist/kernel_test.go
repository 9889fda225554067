package strategist

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cunarist/solie/internal/domain"
)

func testStrategy(indicatorsScript, decisionScript string) domain.Strategy {
	return domain.Strategy{
		CodeName:         "TESTED",
		ReadableName:     "Test",
		Version:          "1.0",
		RiskLevel:        domain.RiskLow,
		IndicatorsScript: indicatorsScript,
		DecisionScript:   decisionScript,
	}
}

func testSeries(n int) domain.Series {
	moments := make([]time.Time, n)
	cells := make([]domain.Candle, n)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		moments[i] = base.Add(time.Duration(i) * 10 * time.Second)
		p := float32(100 + i)
		cells[i] = domain.Candle{Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 2}
	}
	return domain.Series{Moments: moments, Candles: map[string][]domain.Candle{"BTCUSDT": cells}}
}

func TestRunIndicatorsAlignedSeries(t *testing.T) {
	k := NewKernel()
	s := testStrategy(`
for _, symbol in target_symbols {
    lines := {}
    lines["SMA 3 (#FFFFFF)"] = sma(candle_data[symbol]["close"], 3)
    new_indicators[symbol] = {price: lines}
}
`, `x := 1`)

	set, err := k.RunIndicators(context.Background(), s, []string{"BTCUSDT"}, testSeries(10))
	require.NoError(t, err)

	key := domain.IndicatorKey{Symbol: "BTCUSDT", Category: domain.CategoryPrice, Label: "SMA 3 (#FFFFFF)"}
	series, ok := set[key]
	require.True(t, ok)
	require.Len(t, series, 10)
	require.True(t, math.IsNaN(float64(series[0])))
	require.InDelta(t, 108, series[9], 1e-3)
}

func TestRunIndicatorsRejectsMisalignedSeries(t *testing.T) {
	k := NewKernel()
	s := testStrategy(`
new_indicators["BTCUSDT"] = {abstract: {"broken": [1.0, 2.0]}}
`, `x := 1`)

	_, err := k.RunIndicators(context.Background(), s, []string{"BTCUSDT"}, testSeries(10))
	require.Error(t, err)
	var scriptErr *domain.ScriptError
	require.ErrorAs(t, err, &scriptErr)
	require.Equal(t, "indicators", scriptErr.Phase)
}

func TestRunDecisionProducesOrdersAndScribbles(t *testing.T) {
	k := NewKernel()
	s := testStrategy(`x := 1`, `
for _, symbol in target_symbols {
    if current_candle_data[symbol]["close"] < 100.0 {
        decision[symbol]["now_buy"] = {margin: account_state["wallet_balance"] * 0.1}
        decision[symbol]["later_up_close"] = {margin: 0.0, boundary: 120.0}
        scribbles[symbol]["last_entry"] = current_moment
    }
}
`)

	account := domain.NewAccountState([]string{"BTCUSDT", "ETHUSDT"})
	account.WalletBalance = 1000
	moment := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	decisions, scribbles, err := k.RunDecision(context.Background(), s, DecisionContext{
		Symbols: []string{"BTCUSDT", "ETHUSDT"},
		Moment:  moment,
		Candles: map[string]domain.Candle{
			"BTCUSDT": {Open: 99, High: 99, Low: 98, Close: 98.5, Volume: 1},
			"ETHUSDT": {Open: 200, High: 201, Low: 199, Close: 200, Volume: 1},
		},
		Account:   account,
		Scribbles: domain.Scribbles{},
	})
	require.NoError(t, err)

	// the symbol with no orders is stripped
	require.Len(t, decisions, 1)
	orders := decisions["BTCUSDT"]
	require.InDelta(t, 100, orders[domain.OrderNowBuy].Margin, 1e-9)
	require.InDelta(t, 120, orders[domain.OrderLaterUpClose].Boundary, 1e-9)

	require.Equal(t, moment.UnixMilli(), scribbles["BTCUSDT"]["last_entry"])
}

func TestRunDecisionScriptErrorWrapped(t *testing.T) {
	k := NewKernel()
	s := testStrategy(`x := 1`, `undefined_function()`)

	_, _, err := k.RunDecision(context.Background(), s, DecisionContext{
		Symbols:   []string{"BTCUSDT"},
		Moment:    time.Now(),
		Candles:   map[string]domain.Candle{},
		Account:   domain.NewAccountState([]string{"BTCUSDT"}),
		Scribbles: domain.Scribbles{},
	})
	require.Error(t, err)
	var scriptErr *domain.ScriptError
	require.ErrorAs(t, err, &scriptErr)
	require.Equal(t, "decision", scriptErr.Phase)
}

func TestSampleStrategyCompilesAndRuns(t *testing.T) {
	k := NewKernel()
	s := sampleStrategy()
	require.NoError(t, s.Validate())

	set, err := k.RunIndicators(context.Background(), s, []string{"BTCUSDT"}, testSeries(400))
	require.NoError(t, err)
	require.NotEmpty(t, set)

	account := domain.NewAccountState([]string{"BTCUSDT"})
	account.WalletBalance = 1000
	_, _, err = k.RunDecision(context.Background(), s, DecisionContext{
		Symbols: []string{"BTCUSDT"},
		Moment:  time.Now().UTC(),
		Candles: map[string]domain.Candle{"BTCUSDT": {Open: 100, High: 101, Low: 99, Close: 100, Volume: 1}},
		Indicators: map[domain.IndicatorKey]float32{
			{Symbol: "BTCUSDT", Category: domain.CategoryPrice, Label: "SMA 360 (#BBBBBB)"}: 101,
		},
		Account:   account,
		Scribbles: domain.Scribbles{},
	})
	require.NoError(t, err)
}
