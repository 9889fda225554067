package transactor

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/cunarist/solie/internal/domain"
	"github.com/cunarist/solie/internal/exchange"
)

// Reconcile rebuilds the account mirror from authoritative REST
// snapshots, records the unrealized-profit ratio, reconciles the asset
// record tail against the real wallet and pushes corrective
// leverage/margin-mode calls when the live configuration drifts.
func (t *Transactor) Reconcile(ctx context.Context, now time.Time) error {
	rules, err := t.api.ExchangeInfo(ctx, t.symbols)
	if err != nil {
		return err
	}
	brackets, err := t.api.LeverageBrackets(ctx)
	if err != nil {
		return err
	}
	snap, err := t.api.Account(ctx, t.assetToken)
	if err != nil {
		return err
	}

	tracked := make(map[string]bool, len(t.symbols))
	for _, sym := range t.symbols {
		tracked[sym] = true
	}

	account := domain.NewAccountState(t.symbols)
	account.ObservedUntil = now
	account.WalletBalance = snap.WalletBalance
	leverages := make(map[string]int, len(t.symbols))
	isolated := make(map[string]bool, len(t.symbols))
	for _, p := range snap.Positions {
		if !tracked[p.Symbol] {
			continue
		}
		leverage := p.Leverage
		if leverage < 1 {
			leverage = 1
		}
		leverages[p.Symbol] = int(leverage)
		isolated[p.Symbol] = p.Isolated
		account.Positions[p.Symbol] = domain.Position{
			Margin:     math.Abs(p.Amount) * p.EntryPrice / leverage,
			Direction:  domain.DirectionFromAmount(p.Amount),
			EntryPrice: p.EntryPrice,
			UpdateTime: p.UpdateTime,
		}
	}

	for _, sym := range t.symbols {
		resting, err := t.api.OpenOrders(ctx, sym)
		if err != nil {
			return err
		}
		leverage := float64(leverages[sym])
		if leverage < 1 {
			leverage = 1
		}
		for _, o := range resting {
			orderType := domain.ClassifyOrder(o.Type, o.Side, o.ClosePosition || o.ReduceOnly)
			boundary := o.StopPrice
			if boundary == 0 {
				boundary = o.Price
			}
			account.OpenOrders[sym][o.OrderID] = domain.OpenOrder{
				Type:       orderType,
				Boundary:   boundary,
				LeftMargin: o.LeftQuantity * boundary / leverage,
			}
		}
	}

	t.mu.Lock()
	t.rules = rules
	t.leverages = leverages
	t.account = account
	settings := t.settings
	t.mu.Unlock()

	if snap.WalletBalance > 0 {
		point := domain.UnrealizedPoint{
			Moment: domain.AlignMoment(now),
			Ratio:  float32(snap.UnrealizedProfit / snap.WalletBalance),
		}
		t.mu.Lock()
		t.unrealized = append(t.unrealized, point)
		unrealized := make([]domain.UnrealizedPoint, len(t.unrealized))
		copy(unrealized, t.unrealized)
		t.mu.Unlock()
		if err := t.unrealizedSnap.Save(unrealized); err != nil {
			t.logger.Warn("persist unrealized changes", zap.Error(err))
		}
	}

	if err := t.reconcileWallet(snap.WalletBalance, now); err != nil {
		return err
	}

	if settings.ShouldTransact {
		t.correctAccountConfig(ctx, settings, brackets, leverages, isolated)
	}

	permitted, err := t.api.KeyPermitsFutures(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.keyOK = permitted
	t.mu.Unlock()
	return nil
}

// reconcileWallet appends an OTHER row (funding fee, transfer,
// referral) when the exchange wallet diverges from the asset record
// tail beyond tolerance; sub-tolerance drift is accepted as is since
// record rows are immutable once logged.
func (t *Transactor) reconcileWallet(wallet float64, now time.Time) error {
	if wallet <= 0 {
		return nil
	}
	last, ok, err := t.assetRecord.LastResultAsset()
	if err != nil {
		return err
	}
	if ok && math.Abs(wallet-last)/wallet <= walletTolerance {
		return nil
	}
	trade := domain.AssetTrade{
		Time:        t.uniqueTradeTime(now),
		Cause:       domain.CauseOther,
		ResultAsset: wallet,
	}
	return t.assetRecord.Append(trade)
}

func (t *Transactor) correctAccountConfig(ctx context.Context, settings Settings, brackets map[string]int, leverages map[string]int, isolated map[string]bool) {
	for _, sym := range t.symbols {
		want := settings.DesiredLeverage
		if max, ok := brackets[sym]; ok && want > max {
			want = max
		}
		if leverages[sym] != want {
			if err := t.api.SetLeverage(ctx, sym, want); err != nil && !exchange.IsNoChangeError(err) {
				t.logger.Warn("set leverage", zap.String("symbol", sym), zap.Int("leverage", want), zap.Error(err))
			}
		}
		if isolated[sym] != settings.IsolatedMargin {
			if err := t.api.SetMarginType(ctx, sym, settings.IsolatedMargin); err != nil && !exchange.IsNoChangeError(err) {
				t.logger.Warn("set margin type", zap.String("symbol", sym), zap.Error(err))
			}
		}
	}
	if err := t.api.DisableMultiAssetsMargin(ctx); err != nil && !exchange.IsNoChangeError(err) {
		t.logger.Warn("disable multi-asset margin", zap.Error(err))
	}
	if err := t.api.DisableHedgeMode(ctx); err != nil && !exchange.IsNoChangeError(err) {
		t.logger.Warn("disable hedge mode", zap.Error(err))
	}
}
