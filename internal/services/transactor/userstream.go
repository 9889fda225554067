package transactor

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"

	"github.com/cunarist/solie/internal/domain"
	"github.com/cunarist/solie/pkg/retrier"
)

const listenKeyRefresh = 60 * time.Minute

// RunUserStream keeps one user-data stream open: it obtains a listen
// key, serves events until the stream drops, the key expires or the key
// rotates on refresh, and then starts over. Key acquisition retries
// with backoff before the loop cools down. Blocks until ctx ends.
func (t *Transactor) RunUserStream(ctx context.Context) {
	for ctx.Err() == nil {
		key, err := t.acquireListenKey(ctx)
		if err != nil {
			t.logger.Warn("obtain listen key", zap.Error(err))
			sleep(ctx, 10*time.Second)
			continue
		}

		serveCtx, cancel := context.WithCancel(ctx)
		t.mu.Lock()
		t.listenKey = key
		t.expireStream = cancel
		t.mu.Unlock()

		go t.refreshListenKey(serveCtx, key, cancel)
		if err := t.streams.ServeUserData(serveCtx, key, t.HandleUserEvent); err != nil && ctx.Err() == nil {
			t.logger.Warn("user data stream ended", zap.Error(err))
		}
		cancel()
	}
}

// acquireListenKey requests a user-data listen key, retrying transient
// failures with backoff.
func (t *Transactor) acquireListenKey(ctx context.Context) (string, error) {
	return retrier.DoWithData(t.retry, ctx, func(ctx context.Context) (string, error) {
		return t.api.StartUserStream(ctx)
	})
}

// refreshListenKey re-requests the key every hour; Binance usually
// returns the same key, in which case the running stream stays up. A
// rotated key forces a reconnect through cancel.
func (t *Transactor) refreshListenKey(ctx context.Context, current string, cancel context.CancelFunc) {
	ticker := time.NewTicker(listenKeyRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			key, err := t.api.StartUserStream(ctx)
			if err != nil {
				t.logger.Warn("refresh listen key", zap.Error(err))
				continue
			}
			if key != current {
				t.logger.Info("listen key rotated, reconnecting user data stream")
				cancel()
				return
			}
		}
	}
}

// HandleUserEvent applies one user-data event to the account mirror.
func (t *Transactor) HandleUserEvent(ev *futures.WsUserDataEvent) {
	switch ev.Event {
	case futures.UserDataEventTypeListenKeyExpired:
		t.mu.Lock()
		cancel := t.expireStream
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	case futures.UserDataEventTypeAccountUpdate:
		t.applyAccountUpdate(ev)
	case futures.UserDataEventTypeOrderTradeUpdate:
		t.applyOrderUpdate(ev)
	}
}

func (t *Transactor) applyAccountUpdate(ev *futures.WsUserDataEvent) {
	at := time.UnixMilli(ev.Time).UTC()

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range ev.AccountUpdate.Balances {
		if b.Asset == t.assetToken {
			t.account.WalletBalance = parseFloat(b.Balance)
		}
	}
	for _, p := range ev.AccountUpdate.Positions {
		if _, tracked := t.account.Positions[p.Symbol]; !tracked {
			continue
		}
		amount := parseFloat(p.Amount)
		entry := parseFloat(p.EntryPrice)
		leverage := float64(t.leverages[p.Symbol])
		if leverage < 1 {
			leverage = 1
		}
		t.account.Positions[p.Symbol] = domain.Position{
			Margin:     math.Abs(amount) * entry / leverage,
			Direction:  domain.DirectionFromAmount(amount),
			EntryPrice: entry,
			UpdateTime: at,
		}
	}
	if at.After(t.account.ObservedUntil) {
		t.account.ObservedUntil = at
	}
}

func (t *Transactor) applyOrderUpdate(ev *futures.WsUserDataEvent) {
	o := ev.OrderTradeUpdate
	at := time.UnixMilli(ev.Time).UTC()

	// triggered STOP/TAKE_PROFIT orders report MARKET in Type; the
	// original type keeps the classification stable
	binanceType := string(o.OriginalType)
	if binanceType == "" {
		binanceType = string(o.Type)
	}
	orderType := domain.ClassifyOrder(binanceType, string(o.Side), o.IsClosingPosition || o.IsReduceOnly)

	boundary := parseFloat(o.StopPrice)
	if boundary == 0 {
		boundary = parseFloat(o.OriginalPrice)
	}

	t.mu.Lock()
	orders, tracked := t.account.OpenOrders[o.Symbol]
	leverage := float64(t.leverages[o.Symbol])
	if leverage < 1 {
		leverage = 1
	}
	if tracked {
		switch o.Status {
		case futures.OrderStatusTypeNew, futures.OrderStatusTypePartiallyFilled:
			left := parseFloat(o.OriginalQty) - parseFloat(o.AccumulatedFilledQty)
			orders[o.ID] = domain.OpenOrder{
				Type:       orderType,
				Boundary:   boundary,
				LeftMargin: left * boundary / leverage,
			}
		default:
			delete(orders, o.ID)
		}
	}
	wallet := t.account.WalletBalance
	t.mu.Unlock()

	if !tracked || o.ExecutionType != futures.OrderExecutionTypeTrade {
		return
	}

	cause := domain.CauseManualTrade
	if auto, err := t.autoOrders.Contains(o.ID, autoOrderLookback); err != nil {
		t.logger.Warn("read auto order record", zap.Error(err))
	} else if auto {
		cause = domain.CauseAutoTrade
	}

	last, ok, err := t.assetRecord.LastResultAsset()
	if err != nil {
		t.logger.Warn("read asset record tail", zap.Error(err))
		return
	}
	if !ok {
		last = wallet
	}

	fillPrice := parseFloat(o.LastFilledPrice)
	filledQty := parseFloat(o.LastFilledQty)
	side := domain.SideSell
	if o.Side == futures.SideTypeBuy {
		side = domain.SideBuy
	}
	role := domain.RoleTaker
	if o.IsMaker {
		role = domain.RoleMaker
	}
	ratio := 0.0
	if wallet > 0 {
		ratio = filledQty * fillPrice / leverage / wallet
	}

	trade := domain.AssetTrade{
		Time:        t.uniqueTradeTime(at),
		Cause:       cause,
		Symbol:      o.Symbol,
		Side:        side,
		FillPrice:   fillPrice,
		Role:        role,
		MarginRatio: ratio,
		OrderID:     o.ID,
		ResultAsset: last + parseFloat(o.RealizedPnL) - parseFloat(o.Commission),
	}
	if err := t.assetRecord.Append(trade); err != nil {
		t.logger.Warn("append asset trade", zap.Int64("order_id", o.ID), zap.Error(err))
	}
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
