// Package records persists the transactor's trade history and order
// bookkeeping: append-only WAL stores for the asset record and the
// auto-order record, and atomic JSON snapshots for small mutable state.
package records

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/cunarist/solie/internal/domain"
)

const (
	assetSegmentLimit  = 10000
	assetMaxSegments   = 1000
	assetKeyPrefix     = "asset_trade_"
	assetWalFilePrefix = "record_"
)

// AssetRecordStore keeps every observed trade and asset change in a
// WAL. Entries for the same order arrive once per partial fill; List
// merges them so a multi-fill order shows a single row with the
// accumulated margin ratio.
type AssetRecordStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewAssetRecordStore opens (or creates) the WAL under dir.
func NewAssetRecordStore(dir string) (*AssetRecordStore, error) {
	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           assetWalFilePrefix,
		SegmentThreshold: assetSegmentLimit,
		MaxSegments:      assetMaxSegments,
		IsInSyncDiskMode: true,
	}
	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init asset record WAL")
	}
	return &AssetRecordStore{wal: wal}, nil
}

// Append writes one trade to the record.
func (s *AssetRecordStore) Append(trade domain.AssetTrade) error {
	if s == nil || s.wal == nil {
		return errors.New("asset record store is not initialized")
	}
	payload, err := json.Marshal(trade)
	if err != nil {
		return errors.Wrap(err, "marshal asset trade")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, assetKeyPrefix+trade.Symbol, payload)
}

// List replays the WAL and returns the merged record in write order.
// Rows sharing a non-zero order ID collapse into one: margin ratios
// add up, the latest fill supplies price, role and resulting asset.
func (s *AssetRecordStore) List() ([]domain.AssetTrade, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("asset record store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var trades []domain.AssetTrade
	byOrder := map[int64]int{}
	current := s.wal.CurrentIndex()
	for idx := uint64(1); idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, assetKeyPrefix) {
			continue
		}
		var trade domain.AssetTrade
		if err := json.Unmarshal(payload, &trade); err != nil {
			return nil, errors.Wrap(err, "decode asset trade")
		}
		if trade.OrderID != 0 {
			if at, seen := byOrder[trade.OrderID]; seen {
				merged := trades[at]
				merged.MarginRatio += trade.MarginRatio
				merged.FillPrice = trade.FillPrice
				merged.Role = trade.Role
				merged.ResultAsset = trade.ResultAsset
				trades[at] = merged
				continue
			}
			byOrder[trade.OrderID] = len(trades)
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// LastResultAsset returns the asset value after the most recent trade,
// reporting ok=false on an empty record.
func (s *AssetRecordStore) LastResultAsset() (float64, bool, error) {
	trades, err := s.List()
	if err != nil {
		return 0, false, err
	}
	for i := len(trades) - 1; i >= 0; i-- {
		if trades[i].ResultAsset > 0 {
			return trades[i].ResultAsset, true, nil
		}
	}
	return 0, false, nil
}

// Close closes the underlying WAL.
func (s *AssetRecordStore) Close() error {
	if s == nil || s.wal == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Close()
}
