// Package exchange is the single place the process talks to Binance:
// signed futures REST, the spot key-permission probe, market-data
// WebSocket streams and the public historical-data archive.
package exchange

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cunarist/solie/internal/domain"
)

// Client wraps the futures and spot SDK clients with telemetry and
// domain-typed results.
type Client struct {
	futures *futures.Client
	spot    *binance.Client
	tel     *Telemetry
	logger  *zap.Logger
}

// NewClient builds the exchange facade. Keys may be empty for
// unauthenticated use (market data only).
func NewClient(apiKey, apiSecret string, tel *Telemetry, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tel == nil {
		tel = NewTelemetry(prometheus.NewRegistry())
	}
	return &Client{
		futures: futures.NewClient(apiKey, apiSecret),
		spot:    binance.NewClient(apiKey, apiSecret),
		tel:     tel,
		logger:  logger,
	}
}

func (c *Client) observe(endpoint string, err error) error {
	c.tel.Requests.WithLabelValues(endpoint).Inc()
	if err == nil {
		return nil
	}
	c.tel.Errors.WithLabelValues(endpoint).Inc()
	if apiErr, ok := err.(*common.APIError); ok {
		return &domain.APIRequestError{
			BinanceCode: apiErr.Code,
			Message:     apiErr.Message,
			Payload:     string(apiErr.Response),
		}
	}
	return err
}

// ServerTime returns the exchange clock.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	ms, err := c.futures.NewServerTimeService().Do(ctx)
	if err = c.observe("time", err); err != nil {
		return time.Time{}, errors.Wrap(err, "fetch server time")
	}
	return time.UnixMilli(ms).UTC(), nil
}

// SymbolRule carries the per-symbol precision and size limits used for
// order rounding.
type SymbolRule struct {
	Symbol            string
	PricePrecision    int
	QuantityPrecision int
	MinNotional       float64
	MaxQuantity       float64
	StepSize          float64
	TickSize          float64
}

// ExchangeInfo fetches the trading rules for the given symbols.
func (c *Client) ExchangeInfo(ctx context.Context, symbols []string) (map[string]SymbolRule, error) {
	info, err := c.futures.NewExchangeInfoService().Do(ctx)
	if err = c.observe("exchangeInfo", err); err != nil {
		return nil, errors.Wrap(err, "fetch exchange info")
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	rules := make(map[string]SymbolRule, len(symbols))
	for _, s := range info.Symbols {
		if !wanted[s.Symbol] {
			continue
		}
		rule := SymbolRule{
			Symbol:            s.Symbol,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
		}
		if f := s.MinNotionalFilter(); f != nil {
			rule.MinNotional = parseFloat(f.Notional)
		}
		if f := s.LotSizeFilter(); f != nil {
			rule.MaxQuantity = parseFloat(f.MaxQuantity)
			rule.StepSize = parseFloat(f.StepSize)
		}
		if f := s.PriceFilter(); f != nil {
			rule.TickSize = parseFloat(f.TickSize)
		}
		rules[s.Symbol] = rule
	}
	return rules, nil
}

// AggTrades pages the REST aggregate-trade endpoint forward from
// startTime.
func (c *Client) AggTrades(ctx context.Context, symbol string, startTime time.Time, limit int) ([]domain.AggTrade, error) {
	raw, err := c.futures.NewAggTradesService().
		Symbol(symbol).
		StartTime(startTime.UnixMilli()).
		Limit(limit).
		Do(ctx)
	if err = c.observe("aggTrades", err); err != nil {
		return nil, errors.Wrapf(err, "fetch agg trades for %s", symbol)
	}

	out := make([]domain.AggTrade, 0, len(raw))
	for _, t := range raw {
		out = append(out, domain.AggTrade{
			Time:   time.UnixMilli(t.Timestamp).UTC(),
			Symbol: symbol,
			Price:  parseFloat(t.Price),
			Volume: parseFloat(t.Quantity),
		})
	}
	return out, nil
}

// LeverageBrackets returns the maximum allowed leverage per symbol.
func (c *Client) LeverageBrackets(ctx context.Context) (map[string]int, error) {
	brackets, err := c.futures.NewGetLeverageBracketService().Do(ctx)
	if err = c.observe("leverageBracket", err); err != nil {
		return nil, errors.Wrap(err, "fetch leverage brackets")
	}

	out := make(map[string]int, len(brackets))
	for _, b := range brackets {
		maxLeverage := 0
		for _, tier := range b.Brackets {
			if tier.InitialLeverage > maxLeverage {
				maxLeverage = tier.InitialLeverage
			}
		}
		out[b.Symbol] = maxLeverage
	}
	return out, nil
}

// AccountSnapshot is the subset of /fapi/v2/account the transactor
// mirrors.
type AccountSnapshot struct {
	WalletBalance    float64
	UnrealizedProfit float64
	Positions        []AccountPosition
}

// AccountPosition is one raw position row of the account snapshot.
type AccountPosition struct {
	Symbol     string
	Amount     float64
	EntryPrice float64
	Leverage   float64
	Isolated   bool
	UpdateTime time.Time
}

// Account fetches the authoritative account snapshot. assetToken picks
// the wallet row (usually USDT or BUSD).
func (c *Client) Account(ctx context.Context, assetToken string) (AccountSnapshot, error) {
	account, err := c.futures.NewGetAccountService().Do(ctx)
	if err = c.observe("account", err); err != nil {
		return AccountSnapshot{}, errors.Wrap(err, "fetch account")
	}

	snap := AccountSnapshot{}
	for _, a := range account.Assets {
		if a.Asset == assetToken {
			snap.WalletBalance = parseFloat(a.WalletBalance)
			snap.UnrealizedProfit = parseFloat(a.UnrealizedProfit)
		}
	}
	for _, p := range account.Positions {
		amount := parseFloat(p.PositionAmt)
		snap.Positions = append(snap.Positions, AccountPosition{
			Symbol:     p.Symbol,
			Amount:     amount,
			EntryPrice: parseFloat(p.EntryPrice),
			Leverage:   parseFloat(p.Leverage),
			Isolated:   p.Isolated,
			UpdateTime: time.UnixMilli(p.UpdateTime).UTC(),
		})
	}
	return snap, nil
}

// RestingOrder is one row of /fapi/v1/openOrders.
type RestingOrder struct {
	OrderID       int64
	Symbol        string
	Type          string
	Side          string
	Price         float64
	StopPrice     float64
	LeftQuantity  float64
	ClosePosition bool
	ReduceOnly    bool
}

// OpenOrders lists the resting orders for one symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]RestingOrder, error) {
	raw, err := c.futures.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err = c.observe("openOrders", err); err != nil {
		return nil, errors.Wrapf(err, "fetch open orders for %s", symbol)
	}

	out := make([]RestingOrder, 0, len(raw))
	for _, o := range raw {
		out = append(out, RestingOrder{
			OrderID:       o.OrderID,
			Symbol:        o.Symbol,
			Type:          string(o.Type),
			Side:          string(o.Side),
			Price:         parseFloat(o.Price),
			StopPrice:     parseFloat(o.StopPrice),
			LeftQuantity:  parseFloat(o.OrigQuantity) - parseFloat(o.ExecutedQuantity),
			ClosePosition: o.ClosePosition,
			ReduceOnly:    o.ReduceOnly,
		})
	}
	return out, nil
}

// StartUserStream obtains (or refreshes) a listen key.
func (c *Client) StartUserStream(ctx context.Context) (string, error) {
	key, err := c.futures.NewStartUserStreamService().Do(ctx)
	if err = c.observe("listenKey", err); err != nil {
		return "", errors.Wrap(err, "obtain listen key")
	}
	return key, nil
}

// OrderRequest is one order to place, already rounded to exchange
// precision.
type OrderRequest struct {
	Symbol        string
	Primitive     domain.BinancePrimitive
	Quantity      string
	Price         string // limit price, LIMIT only
	StopPrice     string // trigger price, STOP/TAKE_PROFIT only
	ClientOrderID string
}

// PlacedOrder identifies a successfully created order.
type PlacedOrder struct {
	OrderID    int64
	Symbol     string
	UpdateTime time.Time
}

// PlaceOrder submits one order.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (PlacedOrder, error) {
	svc := c.futures.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Primitive.Side)).
		Type(futures.OrderType(req.Primitive.Type))

	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	if req.Primitive.ClosePosition {
		svc = svc.ClosePosition(true)
	} else {
		svc = svc.Quantity(req.Quantity)
		if req.Primitive.ReduceOnly {
			svc = svc.ReduceOnly(true)
		}
	}
	switch req.Primitive.Type {
	case "LIMIT":
		svc = svc.Price(req.Price).TimeInForce(futures.TimeInForceTypeGTC)
	case "STOP_MARKET", "TAKE_PROFIT_MARKET":
		svc = svc.StopPrice(req.StopPrice)
	}

	resp, err := svc.Do(ctx)
	if err = c.observe("order", err); err != nil {
		return PlacedOrder{}, errors.Wrapf(err, "place %s %s on %s", req.Primitive.Type, req.Primitive.Side, req.Symbol)
	}
	return PlacedOrder{
		OrderID:    resp.OrderID,
		Symbol:     resp.Symbol,
		UpdateTime: time.UnixMilli(resp.UpdateTime).UTC(),
	}, nil
}

// CancelOrder cancels one order by id.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	_, err := c.futures.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	return c.observe("cancelOrder", err)
}

// CancelAllOpenOrders flushes every resting order on the symbol.
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	err := c.futures.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
	return c.observe("cancelAll", err)
}

// SetLeverage changes the symbol leverage.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := c.futures.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	return c.observe("leverage", err)
}

// SetMarginType switches the symbol between CROSSED and ISOLATED.
func (c *Client) SetMarginType(ctx context.Context, symbol string, isolated bool) error {
	marginType := futures.MarginTypeCrossed
	if isolated {
		marginType = futures.MarginTypeIsolated
	}
	err := c.futures.NewChangeMarginTypeService().Symbol(symbol).MarginType(marginType).Do(ctx)
	return c.observe("marginType", err)
}

// DisableMultiAssetsMargin turns multi-asset margin off. Binance
// answers with an error when nothing changes; the caller decides
// whether to care.
func (c *Client) DisableMultiAssetsMargin(ctx context.Context) error {
	err := c.futures.NewChangeMultiAssetModeService().MultiAssetsMargin(false).Do(ctx)
	return c.observe("multiAssetsMargin", err)
}

// DisableHedgeMode turns dual-side position mode off.
func (c *Client) DisableHedgeMode(ctx context.Context) error {
	err := c.futures.NewChangePositionModeService().DualSide(false).Do(ctx)
	return c.observe("positionSideDual", err)
}

// KeyPermitsFutures probes /sapi/v1/account/apiRestrictions for the
// enableFutures flag.
func (c *Client) KeyPermitsFutures(ctx context.Context) (bool, error) {
	perm, err := c.spot.NewGetAPIKeyPermission().Do(ctx)
	if err = c.observe("apiRestrictions", err); err != nil {
		return false, errors.Wrap(err, "fetch api key restrictions")
	}
	return perm.EnableFutures, nil
}

// IsNoChangeError reports whether the error is Binance complaining
// that a setting already holds the requested value.
func IsNoChangeError(err error) bool {
	var apiErr *domain.APIRequestError
	if errors.As(err, &apiErr) {
		// -4046 margin type, -4059 position side, -4171 multi-assets
		switch apiErr.BinanceCode {
		case -4046, -4059, -4171:
			return true
		}
	}
	return false
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
