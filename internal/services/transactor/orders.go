package transactor

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cunarist/solie/internal/domain"
	"github.com/cunarist/solie/internal/exchange"
)

// flushOrders issues the decision set in three sequential phases so
// cancellations land before market orders and market orders before
// conditional ones. Orders within a phase go out concurrently; a failed
// order is logged and never blocks the rest.
func (t *Transactor) flushOrders(ctx context.Context, decisions domain.DecisionSet, prices map[string]float64) {
	if len(decisions) == 0 {
		return
	}

	var wg sync.WaitGroup
	for symbol, orders := range decisions {
		if _, ok := orders[domain.OrderCancelAll]; !ok {
			continue
		}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			if err := t.api.CancelAllOpenOrders(ctx, symbol); err != nil {
				t.logger.Warn("cancel all open orders", zap.String("symbol", symbol), zap.Error(err))
				return
			}
			t.mu.Lock()
			t.account.OpenOrders[symbol] = make(map[int64]domain.OpenOrder)
			t.mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	place := func(symbol string, typ domain.OrderType, d domain.Decision, assumed domain.Direction) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.placeOrder(ctx, symbol, typ, d, prices[symbol], assumed)
		}()
	}

	for symbol, orders := range decisions {
		assumed := assumedDirection(orders)
		for typ, d := range orders {
			switch typ {
			case domain.OrderNowClose, domain.OrderNowBuy, domain.OrderNowSell:
				place(symbol, typ, d, assumed)
			}
		}
	}
	wg.Wait()

	for symbol, orders := range decisions {
		assumed := assumedDirection(orders)
		for typ, d := range orders {
			if typ.IsConditional() {
				place(symbol, typ, d, assumed)
			}
		}
	}
	wg.Wait()
}

// assumedDirection is the direction a same-tick market order implies,
// used to pick the close side when no position exists yet.
func assumedDirection(orders map[domain.OrderType]domain.Decision) domain.Direction {
	if _, ok := orders[domain.OrderNowBuy]; ok {
		return domain.DirectionLong
	}
	if _, ok := orders[domain.OrderNowSell]; ok {
		return domain.DirectionShort
	}
	return domain.DirectionNone
}

func (t *Transactor) placeOrder(ctx context.Context, symbol string, typ domain.OrderType, d domain.Decision, currentPrice float64, assumed domain.Direction) {
	t.mu.Lock()
	rule, haveRule := t.rules[symbol]
	position := t.account.Positions[symbol]
	leverage := t.leverages[symbol]
	if leverage < 1 {
		leverage = t.settings.DesiredLeverage
	}
	t.mu.Unlock()
	if !haveRule {
		t.logger.Warn("no exchange rule yet, dropping order",
			zap.String("symbol", symbol), zap.String("order_type", string(typ)))
		return
	}
	if leverage < 1 {
		leverage = 1
	}

	primitive, ok := typ.ToBinance(position.Direction, assumed)
	if !ok {
		t.logger.Warn("close order without a position or assumed direction",
			zap.String("symbol", symbol), zap.String("order_type", string(typ)))
		return
	}

	req := exchange.OrderRequest{
		Symbol:        symbol,
		Primitive:     primitive,
		ClientOrderID: uuid.NewString(),
	}
	if !primitive.ClosePosition {
		margin := d.Margin
		if typ.IsClose() && margin <= 0 {
			margin = position.Margin
		}
		priceRef := currentPrice
		if typ.IsConditional() {
			priceRef = d.Boundary
		}
		quantity, err := deriveQuantity(rule, margin, float64(leverage), priceRef)
		if err != nil {
			t.logger.Warn("derive order quantity", zap.String("symbol", symbol),
				zap.String("order_type", string(typ)), zap.Error(err))
			return
		}
		req.Quantity = quantity
	}
	switch primitive.Type {
	case "LIMIT":
		req.Price = formatPrice(rule, d.Boundary)
	case "STOP_MARKET", "TAKE_PROFIT_MARKET":
		req.StopPrice = formatPrice(rule, d.Boundary)
	}

	placed, err := t.api.PlaceOrder(ctx, req)
	if err != nil {
		t.logger.Warn("place order", zap.String("symbol", symbol),
			zap.String("order_type", string(typ)), zap.Error(err))
		return
	}
	t.logger.Info("order placed", zap.String("symbol", symbol),
		zap.String("order_type", string(typ)), zap.Int64("order_id", placed.OrderID))

	entry := domain.AutoOrderEntry{Time: placed.UpdateTime, Symbol: symbol, OrderID: placed.OrderID}
	if err := t.autoOrders.Append(entry); err != nil {
		t.logger.Warn("record auto order", zap.Int64("order_id", placed.OrderID), zap.Error(err))
	}
}

// deriveQuantity turns a margin commitment into an order quantity
// string: the notional is floored at the exchange minimum, the quantity
// capped at the exchange maximum and ceiled onto the lot step grid.
func deriveQuantity(rule exchange.SymbolRule, margin, leverage, priceRef float64) (string, error) {
	if math.IsNaN(priceRef) || priceRef <= 0 {
		return "", errors.Errorf("reference price %v is unusable", priceRef)
	}
	if math.IsNaN(margin) || margin <= 0 {
		return "", errors.Errorf("margin %v is unusable", margin)
	}

	notional := margin * leverage
	if notional < rule.MinNotional {
		notional = rule.MinNotional
	}
	quantity := notional / priceRef

	step := decimal.NewFromFloat(rule.StepSize)
	if step.IsZero() {
		step = decimal.New(1, -int32(rule.QuantityPrecision))
	}
	q := decimal.NewFromFloat(quantity).Div(step).Ceil().Mul(step)
	if rule.MaxQuantity > 0 {
		max := decimal.NewFromFloat(rule.MaxQuantity)
		if q.GreaterThan(max) {
			q = max.Div(step).Floor().Mul(step)
		}
	}
	return q.StringFixed(int32(rule.QuantityPrecision)), nil
}

// formatPrice snaps a boundary onto the tick grid and renders it with
// the symbol's price precision.
func formatPrice(rule exchange.SymbolRule, price float64) string {
	p := decimal.NewFromFloat(price)
	if rule.TickSize > 0 {
		tick := decimal.NewFromFloat(rule.TickSize)
		p = p.Div(tick).Round(0).Mul(tick)
	}
	return p.StringFixed(int32(rule.PricePrecision))
}

// CancelConflicting sweeps the mirrored open orders: per symbol and
// order type only the newest (max id) order may survive, and orders
// that do not map onto the strategy vocabulary are removed outright.
// Cancellation failures are expected (the order may have just filled)
// and stay quiet.
func (t *Transactor) CancelConflicting(ctx context.Context) {
	t.mu.Lock()
	mirror := t.account.Copy()
	t.mu.Unlock()

	for symbol, orders := range mirror.OpenOrders {
		byType := make(map[domain.OrderType][]int64)
		for id, o := range orders {
			byType[o.Type] = append(byType[o.Type], id)
		}
		for typ, ids := range byType {
			var doomed []int64
			if typ == domain.OrderOther {
				doomed = ids
			} else if len(ids) > 1 {
				sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
				doomed = ids[:len(ids)-1]
			}
			for _, id := range doomed {
				if err := t.api.CancelOrder(ctx, symbol, id); err != nil {
					t.logger.Debug("cancel conflicting order",
						zap.String("symbol", symbol), zap.Int64("order_id", id), zap.Error(err))
					continue
				}
				t.mu.Lock()
				delete(t.account.OpenOrders[symbol], id)
				t.mu.Unlock()
			}
		}
	}
}
