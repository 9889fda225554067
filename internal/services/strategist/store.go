package strategist

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cunarist/solie/internal/domain"
	"github.com/cunarist/solie/internal/storage/records"
)

// Store keeps the strategy list in memory and mirrors every change to
// strategies.json. Code names are unique; versions may only move
// forward on edits.
type Store struct {
	mu         sync.RWMutex
	snapshot   *records.Snapshot[[]domain.Strategy]
	strategies []domain.Strategy
	logger     *zap.Logger
}

// NewStore loads the store from path, seeding the default sample
// strategy on first run.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	snapshot, err := records.NewSnapshot[[]domain.Strategy](path)
	if err != nil {
		return nil, err
	}
	loaded, err := snapshot.Load()
	if err != nil {
		return nil, err
	}

	s := &Store{snapshot: snapshot, logger: logger.Named("strategist")}
	if loaded != nil {
		s.strategies = *loaded
		return s, nil
	}
	s.strategies = []domain.Strategy{sampleStrategy()}
	if err := snapshot.Save(s.strategies); err != nil {
		return nil, errors.Wrap(err, "seed sample strategy")
	}
	logger.Info("seeded sample strategy", zap.String("code_name", s.strategies[0].CodeName))
	return s, nil
}

// List returns a copy of every stored strategy.
func (s *Store) List() []domain.Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Strategy(nil), s.strategies...)
}

// Get looks a strategy up by code name.
func (s *Store) Get(codeName string) (domain.Strategy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.strategies {
		if st.CodeName == codeName {
			return st, true
		}
	}
	return domain.Strategy{}, false
}

// Save creates or updates a strategy. Updates must not lower the
// version.
func (s *Store) Save(st domain.Strategy) error {
	if err := st.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i, existing := range s.strategies {
		if existing.CodeName != st.CodeName {
			continue
		}
		if domain.CompareVersions(st.Version, existing.Version) < 0 {
			return errors.Errorf("strategy %s version may not go backwards (%s -> %s)",
				st.CodeName, existing.Version, st.Version)
		}
		s.strategies[i] = st
		replaced = true
		break
	}
	if !replaced {
		s.strategies = append(s.strategies, st)
	}
	return s.snapshot.Save(s.strategies)
}

// Remove deletes a strategy by code name.
func (s *Store) Remove(codeName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.strategies {
		if existing.CodeName != codeName {
			continue
		}
		s.strategies = append(s.strategies[:i], s.strategies[i+1:]...)
		return s.snapshot.Save(s.strategies)
	}
	return errors.Errorf("strategy %s does not exist", codeName)
}

// sampleStrategy is the built-in example shown on first run: an SMA
// line on the chart and a conservative dip buyer with a market close
// when the price recovers.
func sampleStrategy() domain.Strategy {
	chunkDays := uint32(30)
	return domain.Strategy{
		CodeName:          "SLSLDS",
		ReadableName:      "Sample Strategy",
		Version:           "1.0",
		Description:       "Not for real trading. Demonstrates the scripting surface.",
		RiskLevel:         domain.RiskHigh,
		ParallelChunkDays: &chunkDays,
		IndicatorsScript: `
for _, symbol in target_symbols {
    closes := candle_data[symbol]["close"]
    price_lines := {}
    price_lines["SMA 360 (#BBBBBB)"] = sma(closes, 360)
    volume_lines := {}
    volume_lines["SMA 90 (#00A8A8)"] = sma(candle_data[symbol]["volume"], 90)
    new_indicators[symbol] = {price: price_lines, volume: volume_lines}
}
`,
		DecisionScript: `
for _, symbol in target_symbols {
    price := current_candle_data[symbol]["close"]
    line := current_indicators[symbol]["price"]["SMA 360 (#BBBBBB)"]
    if !is_float(line) || line != line {
        continue
    }
    position := account_state["positions"][symbol]
    if position["direction"] == "none" && price < line * 0.997 {
        decision[symbol]["now_buy"] = {margin: account_state["wallet_balance"] * 0.08}
        scribbles[symbol]["entered_at"] = current_moment
    }
    if position["direction"] == "long" && price > line {
        decision[symbol]["now_close"] = {margin: 0.0}
    }
}
`,
	}
}
