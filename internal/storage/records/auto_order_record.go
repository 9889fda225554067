package records

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/cunarist/solie/internal/domain"
)

const (
	autoOrderSegmentLimit  = 10000
	autoOrderMaxSegments   = 100
	autoOrderKeyPrefix     = "auto_order_"
	autoOrderWalFilePrefix = "record_"
)

// AutoOrderStore remembers which exchange order IDs the decision loop
// itself placed, so fills arriving on the user-data stream can be told
// apart from manual trades.
type AutoOrderStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewAutoOrderStore opens (or creates) the WAL under dir.
func NewAutoOrderStore(dir string) (*AutoOrderStore, error) {
	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           autoOrderWalFilePrefix,
		SegmentThreshold: autoOrderSegmentLimit,
		MaxSegments:      autoOrderMaxSegments,
		IsInSyncDiskMode: true,
	}
	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init auto order WAL")
	}
	return &AutoOrderStore{wal: wal}, nil
}

// Append records one placed order.
func (s *AutoOrderStore) Append(entry domain.AutoOrderEntry) error {
	if s == nil || s.wal == nil {
		return errors.New("auto order store is not initialized")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal auto order entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, autoOrderKeyPrefix+entry.Symbol, payload)
}

// ListAfter returns the entries placed at or after the cutoff, in
// write order.
func (s *AutoOrderStore) ListAfter(cutoff time.Time) ([]domain.AutoOrderEntry, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("auto order store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []domain.AutoOrderEntry
	current := s.wal.CurrentIndex()
	for idx := uint64(1); idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, autoOrderKeyPrefix) {
			continue
		}
		var entry domain.AutoOrderEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, errors.Wrap(err, "decode auto order entry")
		}
		if entry.Time.Before(cutoff) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Contains reports whether the given order ID was placed by the
// decision loop within the lookback window.
func (s *AutoOrderStore) Contains(orderID int64, lookback time.Duration) (bool, error) {
	entries, err := s.ListAfter(time.Now().UTC().Add(-lookback))
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

// Close closes the underlying WAL.
func (s *AutoOrderStore) Close() error {
	if s == nil || s.wal == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Close()
}
