package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cunarist/solie/internal/domain"
	"github.com/cunarist/solie/internal/services/strategist"
)

func replayStrategy() domain.Strategy {
	return domain.Strategy{
		CodeName:         "REPLAY",
		ReadableName:     "Replay",
		Version:          "1.0",
		RiskLevel:        domain.RiskLow,
		IndicatorsScript: `x := 1`,
		DecisionScript: `
for _, symbol in target_symbols {
    n := scribbles[symbol]["n"]
    if is_undefined(n) {
        n = 0
    }
    if n == 0 {
        decision[symbol]["now_buy"] = {margin: 100.0}
    }
    if n == 2 {
        decision[symbol]["now_close"] = {margin: 0.0}
    }
    scribbles[symbol]["n"] = n + 1
}
`,
	}
}

func replayGrid(t *testing.T, from time.Time, rows int) *domain.CandleGrid {
	t.Helper()
	grid := domain.NewCandleGrid([]string{"BTCUSDT"})
	for i := 0; i < rows; i++ {
		grid.SetRow(from.Add(time.Duration(i)*10*time.Second), "BTCUSDT", domain.Candle{
			Open: 100, High: 111, Low: 99, Close: 110, Volume: 5,
		})
	}
	return grid
}

func TestRunFillsWithDecisionLag(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	grid := replayGrid(t, from, 6)
	sim := New(strategist.NewKernel(), t.TempDir(), nil)

	req := Request{
		Strategy:     replayStrategy(),
		Symbols:      []string{"BTCUSDT"},
		Year:         2024,
		StartBalance: 1000,
		From:         from,
		To:           from.Add(60 * time.Second),
	}
	result, err := sim.Run(context.Background(), grid, req, nil)
	require.NoError(t, err)
	require.Len(t, result.AssetRecord, 2)

	// NOW fill price = open + (close-open)/10*3 = 100 + 10*0.3
	buy := result.AssetRecord[0]
	require.Equal(t, domain.SideBuy, buy.Side)
	require.InDelta(t, 103, buy.FillPrice, 1e-6)
	require.Equal(t, domain.RoleTaker, buy.Role)
	require.InDelta(t, 1000, buy.ResultAsset, 1e-6)
	require.GreaterOrEqual(t, buy.OrderID, orderIDMin)
	require.Less(t, buy.OrderID, orderIDMax)

	sell := result.AssetRecord[1]
	require.Equal(t, domain.SideSell, sell.Side)
	require.True(t, sell.Time.After(buy.Time), "record timestamps must be strictly increasing")

	// flat again at the end, all margin returned
	require.InDelta(t, 1000, result.Virtual.AvailableBalance, 1e-6)
	require.InDelta(t, 0, result.Virtual.Locations["BTCUSDT"].Amount, 1e-9)
	require.Equal(t, domain.DirectionNone, result.Account.Positions["BTCUSDT"].Direction)
	require.Len(t, result.Unrealized, 6)
}

func TestRunAbortsOnOverspend(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	grid := replayGrid(t, from, 4)
	sim := New(strategist.NewKernel(), t.TempDir(), nil)

	s := replayStrategy()
	s.CodeName = "SPENDY"
	s.DecisionScript = `
for _, symbol in target_symbols {
    decision[symbol]["now_buy"] = {margin: 10000.0}
}
`
	_, err := sim.Run(context.Background(), grid, Request{
		Strategy: s, Symbols: []string{"BTCUSDT"}, Year: 2024, StartBalance: 1000,
		From: from, To: from.Add(40 * time.Second),
	}, nil)
	require.Error(t, err)
	var simErr *domain.SimulationError
	require.ErrorAs(t, err, &simErr)
}

func TestBuildChunksGroupsOnEpochOrigin(t *testing.T) {
	sim := New(strategist.NewKernel(), t.TempDir(), nil)
	days := uint32(30)
	s := domain.Strategy{ParallelChunkDays: &days}

	from := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	chunks := sim.buildChunks(s, from, to)
	require.GreaterOrEqual(t, len(chunks), 2)

	require.True(t, chunks[0].from.Equal(from))
	require.True(t, chunks[len(chunks)-1].to.Equal(to))
	span := int64(30 * 86400)
	for i, chunk := range chunks {
		if i > 0 {
			require.True(t, chunk.from.Equal(chunks[i-1].to), "chunks must be contiguous")
			require.Zero(t, chunk.from.Unix()%span, "interior boundaries sit on the epoch grid")
		}
	}
}

func TestBuildChunksSingleWhenUnset(t *testing.T) {
	sim := New(strategist.NewKernel(), t.TempDir(), nil)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)
	chunks := sim.buildChunks(domain.Strategy{}, from, to)
	require.Len(t, chunks, 1)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	grid := replayGrid(t, from, 6)
	sim := New(strategist.NewKernel(), t.TempDir(), nil)

	req := Request{
		Strategy: replayStrategy(), Symbols: []string{"BTCUSDT"}, Year: 2024,
		StartBalance: 1000, From: from, To: from.Add(60 * time.Second),
	}
	result, err := sim.Run(context.Background(), grid, req, nil)
	require.NoError(t, err)
	require.NoError(t, sim.Save(req, result))

	loaded, ok, err := sim.Load(req.Strategy, 2024)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, loaded.AssetRecord, len(result.AssetRecord))
	require.InDelta(t, result.Virtual.AvailableBalance, loaded.Virtual.AvailableBalance, 1e-9)

	_, ok, err = sim.Load(req.Strategy, 2023)
	require.NoError(t, err)
	require.False(t, ok)
}
