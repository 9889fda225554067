package simulator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cunarist/solie/internal/domain"
)

func overlayRecord() []domain.AssetTrade {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return []domain.AssetTrade{
		{Time: base, Role: domain.RoleTaker, MarginRatio: 0.1, ResultAsset: 1000},
		{Time: base.Add(time.Hour), Role: domain.RoleTaker, MarginRatio: 0.1, ResultAsset: 1050},
		{Time: base.Add(2 * time.Hour), Role: domain.RoleMaker, MarginRatio: 0.2, ResultAsset: 1020},
		{Time: base.Add(3 * time.Hour), Role: domain.RoleTaker, MarginRatio: 0.05, ResultAsset: 1100},
	}
}

func TestOverlayIdentityWithoutFeesOrLeverage(t *testing.T) {
	record := overlayRecord()
	out, unrealized := Overlay(record, []domain.UnrealizedPoint{{Ratio: 0.02}}, OverlayParams{Leverage: 1})

	for i := range record {
		require.InDelta(t, record[i].ResultAsset, out[i].ResultAsset, 1e-6, "row %d", i)
	}
	require.InDelta(t, 0.02, unrealized[0].Ratio, 1e-9)
}

func TestOverlayLeverageAmplifiesMoves(t *testing.T) {
	record := overlayRecord()
	out, unrealized := Overlay(record, []domain.UnrealizedPoint{{Ratio: 0.02}}, OverlayParams{Leverage: 2})

	// +5% move becomes +10%
	require.InDelta(t, 1100, out[1].ResultAsset, 1e-6)
	require.InDelta(t, 0.04, unrealized[0].Ratio, 1e-9)
}

func TestOverlayFeesReduceResult(t *testing.T) {
	record := overlayRecord()
	out, _ := Overlay(record, nil, OverlayParams{Leverage: 1, TakerFeePercent: 0.04, MakerFeePercent: 0.02})

	// every fee factor is below one, so the overlaid equity must sit
	// strictly below the raw one after the first row
	for i := range record {
		require.Less(t, out[i].ResultAsset, record[i].ResultAsset+1e-9, "row %d", i)
	}
	require.Greater(t, out[len(out)-1].ResultAsset, 0.0)
}

func TestOverlayDoesNotMutateInputs(t *testing.T) {
	record := overlayRecord()
	unrealized := []domain.UnrealizedPoint{{Ratio: 0.02}}
	Overlay(record, unrealized, OverlayParams{Leverage: 3, TakerFeePercent: 0.04})

	require.InDelta(t, 1000, record[0].ResultAsset, 1e-9)
	require.InDelta(t, 0.02, unrealized[0].Ratio, 1e-9)
}

func TestOverlayChunkBoundaryResetsDelta(t *testing.T) {
	days := uint32(1)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	record := []domain.AssetTrade{
		{Time: base, Role: domain.RoleTaker, ResultAsset: 1000},
		// next calendar day: new chunk, the +50% jump is not amplified
		{Time: base.AddDate(0, 0, 1), Role: domain.RoleTaker, ResultAsset: 1500},
	}
	out, _ := Overlay(record, nil, OverlayParams{Leverage: 2, ChunkDays: &days})
	require.InDelta(t, 1000, out[1].ResultAsset, 1e-6)
}
