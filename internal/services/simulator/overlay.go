package simulator

import (
	"github.com/cunarist/solie/internal/domain"
)

// OverlayParams are the presentation assumptions the GUI applies on
// top of the raw lossless simulation.
type OverlayParams struct {
	MakerFeePercent float64
	TakerFeePercent float64
	Leverage        float64
	// ChunkDays regroups the record at the same frequency the
	// simulation chunked on; nil treats the record as one chunk.
	ChunkDays *uint32
}

// Overlay rewrites the asset record under fee and leverage
// assumptions: per-row factor (1 + Δasset/prev × leverage) ×
// (1 − fee × margin_ratio × leverage), cumulative product across the
// record anchored at the first row's asset. The unrealized series is
// scaled by leverage. Inputs are never mutated. With leverage 1 and
// zero fees the overlay is the identity up to float tolerance.
func Overlay(record []domain.AssetTrade, unrealized []domain.UnrealizedPoint, p OverlayParams) ([]domain.AssetTrade, []domain.UnrealizedPoint) {
	leverage := p.Leverage
	if leverage <= 0 {
		leverage = 1
	}

	outRecord := make([]domain.AssetTrade, len(record))
	copy(outRecord, record)

	if len(record) > 0 {
		var span int64
		if p.ChunkDays != nil && *p.ChunkDays > 0 {
			span = int64(*p.ChunkDays) * 86400
		}
		chunkOf := func(t domain.AssetTrade) int64 {
			if span == 0 {
				return 0
			}
			return t.Time.Unix() / span
		}

		initial := record[0].ResultAsset
		cumulative := 1.0
		prevAsset := 0.0
		currentChunk := chunkOf(record[0]) - 1
		for i, row := range record {
			delta := 0.0
			if chunk := chunkOf(row); chunk != currentChunk {
				// chunk boundary: no previous row inside this chunk
				currentChunk = chunk
			} else if prevAsset > 0 {
				delta = (row.ResultAsset - prevAsset) / prevAsset
			}
			fee := p.TakerFeePercent
			if row.Role == domain.RoleMaker {
				fee = p.MakerFeePercent
			}
			factor := (1 + delta*leverage) * (1 - fee/100*row.MarginRatio*leverage)
			cumulative *= factor
			outRecord[i].ResultAsset = initial * cumulative
			prevAsset = row.ResultAsset
		}
	}

	outUnrealized := make([]domain.UnrealizedPoint, len(unrealized))
	for i, point := range unrealized {
		outUnrealized[i] = domain.UnrealizedPoint{
			Moment: point.Moment,
			Ratio:  point.Ratio * float32(leverage),
		}
	}
	return outRecord, outUnrealized
}
