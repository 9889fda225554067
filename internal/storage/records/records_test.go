package records

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cunarist/solie/internal/domain"
)

func TestAssetRecordMergesPartialFills(t *testing.T) {
	store, err := NewAssetRecordStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(domain.AssetTrade{
		Time: base, Cause: domain.CauseAutoTrade, Symbol: "BTCUSDT",
		Side: domain.SideBuy, FillPrice: 42000, Role: domain.RoleTaker,
		MarginRatio: 0.1, OrderID: 77, ResultAsset: 1000,
	}))
	// second partial fill of the same order
	require.NoError(t, store.Append(domain.AssetTrade{
		Time: base.Add(time.Second), Cause: domain.CauseAutoTrade, Symbol: "BTCUSDT",
		Side: domain.SideBuy, FillPrice: 42001, Role: domain.RoleMaker,
		MarginRatio: 0.05, OrderID: 77, ResultAsset: 999,
	}))
	require.NoError(t, store.Append(domain.AssetTrade{
		Time: base.Add(2 * time.Second), Cause: domain.CauseManualTrade, Symbol: "ETHUSDT",
		Side: domain.SideSell, FillPrice: 2500, Role: domain.RoleTaker,
		MarginRatio: 0.2, OrderID: 88, ResultAsset: 998,
	}))

	trades, err := store.List()
	require.NoError(t, err)
	require.Len(t, trades, 2)
	require.InDelta(t, 0.15, trades[0].MarginRatio, 1e-9)
	require.InDelta(t, 42001, trades[0].FillPrice, 1e-9)
	require.Equal(t, domain.RoleMaker, trades[0].Role)
	require.InDelta(t, 999, trades[0].ResultAsset, 1e-9)

	last, ok, err := store.LastResultAsset()
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 998, last, 1e-9)
}

func TestAssetRecordSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewAssetRecordStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Append(domain.AssetTrade{
		Time: time.Now().UTC(), Cause: domain.CauseOther, Symbol: "BTCUSDT",
		ResultAsset: 500,
	}))
	require.NoError(t, store.Close())

	reopened, err := NewAssetRecordStore(dir)
	require.NoError(t, err)
	defer reopened.Close()
	trades, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, trades, 1)
}

func TestAutoOrderStoreCutoffAndContains(t *testing.T) {
	store, err := NewAutoOrderStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC()
	require.NoError(t, store.Append(domain.AutoOrderEntry{Time: now.Add(-48 * time.Hour), Symbol: "BTCUSDT", OrderID: 1}))
	require.NoError(t, store.Append(domain.AutoOrderEntry{Time: now.Add(-time.Hour), Symbol: "BTCUSDT", OrderID: 2}))

	entries, err := store.ListAfter(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(2), entries[0].OrderID)

	ok, err := store.Contains(2, 24*time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Contains(1, 24*time.Hour)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSnapshotRoundTrip(t *testing.T) {
	type settings struct {
		Leverage   int    `json:"leverage"`
		StrategyID string `json:"strategy_id"`
	}
	path := filepath.Join(t.TempDir(), "transactor", "transaction_settings.json")
	snap, err := NewSnapshot[settings](path)
	require.NoError(t, err)

	loaded, err := snap.Load()
	require.NoError(t, err)
	require.Nil(t, loaded)

	require.NoError(t, snap.Save(settings{Leverage: 5, StrategyID: "SLSLDS"}))
	loaded, err = snap.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, 5, loaded.Leverage)
	require.Equal(t, "SLSLDS", loaded.StrategyID)
}
