// Package simulator replays strategy scripts against historical
// candles under lossless, zero-fee, unit-leverage execution. Fees and
// leverage are applied later as a presentation overlay; the raw
// outputs stay untouched.
package simulator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cunarist/solie/internal/domain"
	"github.com/cunarist/solie/internal/services/strategist"
	"github.com/cunarist/solie/internal/storage/records"
)

const (
	// decisionLag models the seconds between a decision and its market
	// fill: NOW orders fill at open + (close-open)/10*lag.
	decisionLagSeconds = 3

	// wobblePercent bounds the adversarial intra-candle price used for
	// the conservative unrealized estimate.
	wobblePercent = 5

	// indicatorMarginDays is prepended to the calculation range so
	// indicators are warm at the first calculated moment, then trimmed.
	indicatorMarginDays = 7

	// indicatorWorkers bounds parallel per-chunk indicator runs.
	indicatorWorkers = 4

	orderIDMin = int64(1_000_000_000_000_000_000)
	orderIDMax = int64(9_000_000_000_000_000_000)
)

// Simulator evaluates one strategy against one year of candles.
type Simulator struct {
	kernel  *strategist.Kernel
	dataDir string
	logger  *zap.Logger
}

// New creates a simulator persisting outputs under dataDir.
func New(kernel *strategist.Kernel, dataDir string, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{kernel: kernel, dataDir: dataDir, logger: logger.Named("simulator")}
}

// Request describes one simulation run.
type Request struct {
	Strategy     domain.Strategy
	Symbols      []string
	Year         int
	StartBalance float64
	// From/To optionally narrow the calculation range for previews;
	// zero values mean the whole year.
	From, To time.Time
}

// Progress is one sample for the progress bar: which chunk is
// replaying and how far its simulated clock has advanced.
type Progress struct {
	Chunk  int
	Chunks int
	Moment time.Time
}

// Result is everything one run produces.
type Result struct {
	AssetRecord []domain.AssetTrade      `json:"asset_record"`
	Unrealized  []domain.UnrealizedPoint `json:"unrealized_changes"`
	Scribbles   domain.Scribbles         `json:"scribbles"`
	Account     domain.AccountState      `json:"account_state"`
	Virtual     domain.VirtualState      `json:"virtual_state"`
}

type chunkData struct {
	from, to   time.Time
	series     domain.Series
	indicators domain.IndicatorSet
	calcStart  int
}

// Run replays the strategy over the requested range of the grid.
// Chunk indicator evaluation happens in parallel; the moment replay is
// sequential because every chunk consumes the previous chunk's ending
// account and virtual state.
func (s *Simulator) Run(ctx context.Context, grid *domain.CandleGrid, req Request, progress chan<- Progress) (*Result, error) {
	calcFrom, calcTo := s.calcRange(req)
	chunks := s.buildChunks(req.Strategy, calcFrom, calcTo)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(indicatorWorkers)
	for i := range chunks {
		chunk := &chunks[i]
		g.Go(func() error {
			marginFrom := chunk.from.AddDate(0, 0, -indicatorMarginDays)
			chunk.series = grid.SliceRange(marginFrom, chunk.to)
			set, err := s.kernel.RunIndicators(gctx, req.Strategy, req.Symbols, chunk.series)
			if err != nil {
				return err
			}
			chunk.indicators = set
			chunk.calcStart = sort.Search(len(chunk.series.Moments), func(j int) bool {
				return !chunk.series.Moments[j].Before(chunk.from)
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	balance := req.StartBalance
	if balance <= 0 {
		balance = 1000
	}
	state := &replayState{
		account:   domain.NewAccountState(req.Symbols),
		virtual:   domain.NewVirtualState(req.Symbols, balance),
		scribbles: domain.Scribbles{},
		rng:       rand.New(rand.NewSource(seedFor(req))),
	}
	state.account.WalletBalance = balance

	for i := range chunks {
		if err := s.replayChunk(ctx, req, &chunks[i], state, i, len(chunks), progress); err != nil {
			return nil, err
		}
	}

	return &Result{
		AssetRecord: state.record,
		Unrealized:  state.unrealized,
		Scribbles:   state.scribbles,
		Account:     state.account,
		Virtual:     state.virtual,
	}, nil
}

func (s *Simulator) calcRange(req Request) (time.Time, time.Time) {
	from := time.Date(req.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)
	if now := time.Now().UTC(); now.Before(to) {
		to = domain.AlignMoment(now)
	}
	if !req.From.IsZero() && req.From.After(from) {
		from = domain.AlignMoment(req.From)
	}
	if !req.To.IsZero() && req.To.Before(to) {
		to = domain.AlignMoment(req.To)
	}
	return from, to
}

// buildChunks groups the calculation range at the strategy's chunk
// frequency on epoch origin, so chunk boundaries are stable across
// runs and ranges.
func (s *Simulator) buildChunks(strategy domain.Strategy, from, to time.Time) []chunkData {
	if strategy.ParallelChunkDays == nil || *strategy.ParallelChunkDays == 0 {
		return []chunkData{{from: from, to: to}}
	}
	span := int64(*strategy.ParallelChunkDays) * 86400

	var chunks []chunkData
	start := from
	for start.Before(to) {
		boundary := time.Unix((start.Unix()/span+1)*span, 0).UTC()
		end := boundary
		if end.After(to) {
			end = to
		}
		chunks = append(chunks, chunkData{from: start, to: end})
		start = end
	}
	return chunks
}

type replayState struct {
	account    domain.AccountState
	virtual    domain.VirtualState
	scribbles  domain.Scribbles
	record     []domain.AssetTrade
	unrealized []domain.UnrealizedPoint
	lastMs     int64
	rng        *rand.Rand
}

func (s *Simulator) replayChunk(ctx context.Context, req Request, chunk *chunkData, state *replayState, index, total int, progress chan<- Progress) error {
	moments := chunk.series.Moments
	for i := chunk.calcStart; i < len(moments); i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		moment := moments[i]

		row := map[string]domain.Candle{}
		for _, symbol := range req.Symbols {
			c := chunk.series.Candles[symbol][i]
			if !c.IsEmpty() {
				row[symbol] = c
			}
		}

		if err := state.applyFills(req.Symbols, moment, row); err != nil {
			return err
		}
		state.deriveAccount(req.Symbols, moment)
		state.appendUnrealized(moment, row)

		decisions, scribbles, err := s.kernel.RunDecision(ctx, req.Strategy, strategist.DecisionContext{
			Symbols:    req.Symbols,
			Moment:     moment,
			Candles:    row,
			Indicators: indicatorRowAt(chunk.indicators, i),
			Account:    state.account.Copy(),
			Scribbles:  state.scribbles,
		})
		if err != nil {
			return err
		}
		state.scribbles = scribbles
		state.mergeDecisions(decisions)

		if moment.Unix()%3600 == 0 {
			select {
			case progress <- Progress{Chunk: index, Chunks: total, Moment: moment}:
			default:
			}
		}
	}
	return nil
}

// applyFills walks the pending placements against the moment's candle
// envelope: NOW variants fill at the lagged open, BOOK/LATER variants
// fill at their boundary iff the candle strictly straddles it.
func (st *replayState) applyFills(symbols []string, moment time.Time, row map[string]domain.Candle) error {
	for _, symbol := range symbols {
		c, ok := row[symbol]
		if !ok {
			continue
		}
		placements := st.virtual.Placements[symbol]
		for _, orderType := range domain.AllOrderTypes {
			p, pending := placements[orderType]
			if !pending {
				continue
			}
			open := float64(c.Open)
			var price float64
			var role domain.TradeRole
			switch orderType {
			case domain.OrderNowBuy, domain.OrderNowSell, domain.OrderNowClose:
				price = open + (float64(c.Close)-open)/10*decisionLagSeconds
				role = domain.RoleTaker
			case domain.OrderBookBuy, domain.OrderBookSell:
				if !(float64(c.Low) < p.Boundary && p.Boundary < float64(c.High)) {
					continue
				}
				price = p.Boundary
				role = domain.RoleMaker
			default:
				if !(float64(c.Low) < p.Boundary && p.Boundary < float64(c.High)) {
					continue
				}
				price = p.Boundary
				role = domain.RoleTaker
			}
			delete(placements, orderType)

			shift, err := shiftFor(&st.virtual, symbol, orderType, price, p.Margin)
			if err != nil {
				return err
			}
			if shift == 0 {
				continue
			}
			if err := applyShift(&st.virtual, symbol, shift, price); err != nil {
				return err
			}

			wallet := walletBalance(&st.virtual)
			side := domain.SideBuy
			if shift < 0 {
				side = domain.SideSell
			}
			st.record = append(st.record, domain.AssetTrade{
				Time:        st.uniqueMoment(moment),
				Cause:       domain.CauseAutoTrade,
				Symbol:      symbol,
				Side:        side,
				FillPrice:   price,
				Role:        role,
				MarginRatio: math.Abs(shift) * open / wallet,
				OrderID:     p.OrderID,
				ResultAsset: wallet,
			})
		}
	}
	return nil
}

// uniqueMoment stamps fills decisionLagSeconds into the bucket and
// keeps record timestamps strictly increasing at millisecond grain.
func (st *replayState) uniqueMoment(moment time.Time) time.Time {
	ms := moment.UnixMilli() + decisionLagSeconds*1000
	if ms <= st.lastMs {
		ms = st.lastMs + 1
	}
	st.lastMs = ms
	return time.UnixMilli(ms).UTC()
}

func (st *replayState) deriveAccount(symbols []string, moment time.Time) {
	st.account.ObservedUntil = moment
	st.account.WalletBalance = walletBalance(&st.virtual)
	for _, symbol := range symbols {
		loc := st.virtual.Locations[symbol]
		st.account.Positions[symbol] = domain.Position{
			Margin:     math.Abs(loc.Amount) * loc.EntryPrice,
			Direction:  domain.DirectionFromAmount(loc.Amount),
			EntryPrice: loc.EntryPrice,
			UpdateTime: moment,
		}
		orders := make(map[int64]domain.OpenOrder, len(st.virtual.Placements[symbol]))
		for orderType, p := range st.virtual.Placements[symbol] {
			orders[p.OrderID] = domain.OpenOrder{
				Type:       orderType,
				Boundary:   p.Boundary,
				LeftMargin: p.Margin,
			}
		}
		st.account.OpenOrders[symbol] = orders
	}
}

// appendUnrealized estimates P&L at the most adversarial intra-candle
// price, bounded at wobblePercent away from the open.
func (st *replayState) appendUnrealized(moment time.Time, row map[string]domain.Candle) {
	total := 0.0
	for symbol, loc := range st.virtual.Locations {
		if loc.Amount == 0 {
			continue
		}
		c, ok := row[symbol]
		if !ok {
			continue
		}
		open := float64(c.Open)
		var adverse float64
		if loc.Amount > 0 {
			adverse = math.Max(float64(c.Low), open*(1-wobblePercent/100.0))
		} else {
			adverse = math.Min(float64(c.High), open*(1+wobblePercent/100.0))
		}
		total += loc.Amount * (adverse - loc.EntryPrice)
	}
	wallet := walletBalance(&st.virtual)
	ratio := 0.0
	if wallet > 0 {
		ratio = total / wallet
	}
	st.unrealized = append(st.unrealized, domain.UnrealizedPoint{
		Moment: moment,
		Ratio:  float32(ratio),
	})
}

// mergeDecisions attaches order ids to fresh placements. CANCEL_ALL
// drops every pending placement for its symbol before the rest merge.
func (st *replayState) mergeDecisions(decisions domain.DecisionSet) {
	for symbol, orders := range decisions {
		if _, ok := orders[domain.OrderCancelAll]; ok {
			st.virtual.Placements[symbol] = map[domain.OrderType]domain.VirtualPlacement{}
		}
		for orderType, d := range orders {
			if orderType == domain.OrderCancelAll {
				continue
			}
			st.virtual.Placements[symbol][orderType] = domain.VirtualPlacement{
				Margin:   d.Margin,
				Boundary: d.Boundary,
				OrderID:  st.randomOrderID(),
			}
		}
	}
}

func (st *replayState) randomOrderID() int64 {
	return orderIDMin + st.rng.Int63n(orderIDMax-orderIDMin)
}

func seedFor(req Request) int64 {
	seed := int64(req.Year)
	for _, r := range req.Strategy.CodeName + req.Strategy.Version {
		seed = seed*31 + int64(r)
	}
	return seed
}

// Save persists the raw outputs under the simulator data directory.
func (s *Simulator) Save(req Request, result *Result) error {
	prefix := fmt.Sprintf("%s_%s_%d_", req.Strategy.CodeName, req.Strategy.Version, req.Year)
	save := func(name string, value interface{}) error {
		snap, err := records.NewSnapshot[interface{}](filepath.Join(s.dataDir, prefix+name+".json"))
		if err != nil {
			return err
		}
		return snap.Save(value)
	}
	if err := save("asset_record", result.AssetRecord); err != nil {
		return err
	}
	if err := save("unrealized_changes", result.Unrealized); err != nil {
		return err
	}
	if err := save("scribbles", result.Scribbles); err != nil {
		return err
	}
	if err := save("account_state", result.Account); err != nil {
		return err
	}
	return save("virtual_state", result.Virtual)
}

// Load restores a previous run's outputs, reporting ok=false when no
// run was saved for the strategy and year.
func (s *Simulator) Load(strategy domain.Strategy, year int) (*Result, bool, error) {
	prefix := fmt.Sprintf("%s_%s_%d_", strategy.CodeName, strategy.Version, year)
	var result Result

	assetSnap, err := records.NewSnapshot[[]domain.AssetTrade](filepath.Join(s.dataDir, prefix+"asset_record.json"))
	if err != nil {
		return nil, false, err
	}
	assets, err := assetSnap.Load()
	if err != nil {
		return nil, false, err
	}
	if assets == nil {
		return nil, false, nil
	}
	result.AssetRecord = *assets

	unrealizedSnap, err := records.NewSnapshot[[]domain.UnrealizedPoint](filepath.Join(s.dataDir, prefix+"unrealized_changes.json"))
	if err != nil {
		return nil, false, err
	}
	if points, err := unrealizedSnap.Load(); err != nil {
		return nil, false, err
	} else if points != nil {
		result.Unrealized = *points
	}

	scribbleSnap, err := records.NewSnapshot[domain.Scribbles](filepath.Join(s.dataDir, prefix+"scribbles.json"))
	if err != nil {
		return nil, false, err
	}
	if scribbles, err := scribbleSnap.Load(); err != nil {
		return nil, false, err
	} else if scribbles != nil {
		result.Scribbles = *scribbles
	}

	accountSnap, err := records.NewSnapshot[domain.AccountState](filepath.Join(s.dataDir, prefix+"account_state.json"))
	if err != nil {
		return nil, false, err
	}
	if account, err := accountSnap.Load(); err != nil {
		return nil, false, err
	} else if account != nil {
		result.Account = *account
	}

	virtualSnap, err := records.NewSnapshot[domain.VirtualState](filepath.Join(s.dataDir, prefix+"virtual_state.json"))
	if err != nil {
		return nil, false, err
	}
	if virtual, err := virtualSnap.Load(); err != nil {
		return nil, false, err
	} else if virtual != nil {
		result.Virtual = *virtual
	}

	return &result, true, nil
}

func indicatorRowAt(set domain.IndicatorSet, i int) map[domain.IndicatorKey]float32 {
	row := make(map[domain.IndicatorKey]float32, len(set))
	for key, series := range set {
		if i < len(series) {
			row[key] = series[i]
		}
	}
	return row
}
