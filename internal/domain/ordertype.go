package domain

// OrderType is the strategy-facing order vocabulary. NOW orders execute
// at market, BOOK orders rest on the book at a limit price, LATER
// orders trigger when the price crosses a boundary from below (UP) or
// above (DOWN). CLOSE variants reduce or flatten the current position.
type OrderType string

const (
	OrderCancelAll      OrderType = "cancel_all"
	OrderNowClose       OrderType = "now_close"
	OrderNowBuy         OrderType = "now_buy"
	OrderNowSell        OrderType = "now_sell"
	OrderBookBuy        OrderType = "book_buy"
	OrderBookSell       OrderType = "book_sell"
	OrderLaterUpClose   OrderType = "later_up_close"
	OrderLaterUpBuy     OrderType = "later_up_buy"
	OrderLaterUpSell    OrderType = "later_up_sell"
	OrderLaterDownClose OrderType = "later_down_close"
	OrderLaterDownBuy   OrderType = "later_down_buy"
	OrderLaterDownSell  OrderType = "later_down_sell"

	// OrderOther marks an open order that does not map back onto the
	// twelve strategy variants (e.g. placed by hand with an exotic
	// type). The conflicting-order canceller removes these.
	OrderOther OrderType = "other"
)

// AllOrderTypes lists the twelve strategy-facing variants.
var AllOrderTypes = []OrderType{
	OrderCancelAll,
	OrderNowClose, OrderNowBuy, OrderNowSell,
	OrderBookBuy, OrderBookSell,
	OrderLaterUpClose, OrderLaterUpBuy, OrderLaterUpSell,
	OrderLaterDownClose, OrderLaterDownBuy, OrderLaterDownSell,
}

// IsClose reports whether the variant reduces the current position.
func (o OrderType) IsClose() bool {
	switch o {
	case OrderNowClose, OrderLaterUpClose, OrderLaterDownClose:
		return true
	}
	return false
}

// IsConditional reports whether the variant rests on the exchange as an
// open order rather than executing immediately.
func (o OrderType) IsConditional() bool {
	switch o {
	case OrderBookBuy, OrderBookSell,
		OrderLaterUpClose, OrderLaterUpBuy, OrderLaterUpSell,
		OrderLaterDownClose, OrderLaterDownBuy, OrderLaterDownSell:
		return true
	}
	return false
}

// ClassifyOrder recovers the strategy variant from the Binance triple
// (order type, side, closePosition) reported by the user-data stream
// and the open-orders endpoint. Reduce-only market orders report
// closePosition through the same flag.
func ClassifyOrder(binanceType, side string, closePosition bool) OrderType {
	buy := side == "BUY"
	switch binanceType {
	case "MARKET":
		if closePosition {
			return OrderNowClose
		}
		if buy {
			return OrderNowBuy
		}
		return OrderNowSell
	case "LIMIT":
		if buy {
			return OrderBookBuy
		}
		return OrderBookSell
	case "STOP_MARKET":
		// buy stops sit above the market, sell stops below
		if buy {
			if closePosition {
				return OrderLaterUpClose
			}
			return OrderLaterUpBuy
		}
		if closePosition {
			return OrderLaterDownClose
		}
		return OrderLaterDownSell
	case "TAKE_PROFIT_MARKET":
		if buy {
			if closePosition {
				return OrderLaterDownClose
			}
			return OrderLaterDownBuy
		}
		if closePosition {
			return OrderLaterUpClose
		}
		return OrderLaterUpSell
	}
	return OrderOther
}

// BinancePrimitive is the exchange-level rendering of a strategy order.
type BinancePrimitive struct {
	Type          string
	Side          string
	ReduceOnly    bool
	ClosePosition bool
}

// ToBinance maps the strategy variant onto Binance order primitives.
// For CLOSE variants the side derives from the current direction; when
// no position exists, assumedDirection carries the direction implied by
// a NOW_BUY/NOW_SELL issued earlier in the same tick.
func (o OrderType) ToBinance(direction Direction, assumedDirection Direction) (BinancePrimitive, bool) {
	closeSide := func() (string, bool) {
		d := direction
		if d == DirectionNone {
			d = assumedDirection
		}
		switch d {
		case DirectionLong:
			return "SELL", true
		case DirectionShort:
			return "BUY", true
		}
		return "", false
	}

	switch o {
	case OrderNowBuy:
		return BinancePrimitive{Type: "MARKET", Side: "BUY"}, true
	case OrderNowSell:
		return BinancePrimitive{Type: "MARKET", Side: "SELL"}, true
	case OrderNowClose:
		side, ok := closeSide()
		if !ok {
			return BinancePrimitive{}, false
		}
		return BinancePrimitive{Type: "MARKET", Side: side, ReduceOnly: true}, true
	case OrderBookBuy:
		return BinancePrimitive{Type: "LIMIT", Side: "BUY"}, true
	case OrderBookSell:
		return BinancePrimitive{Type: "LIMIT", Side: "SELL"}, true
	case OrderLaterUpBuy:
		return BinancePrimitive{Type: "STOP_MARKET", Side: "BUY"}, true
	case OrderLaterUpSell:
		return BinancePrimitive{Type: "TAKE_PROFIT_MARKET", Side: "SELL"}, true
	case OrderLaterDownBuy:
		return BinancePrimitive{Type: "TAKE_PROFIT_MARKET", Side: "BUY"}, true
	case OrderLaterDownSell:
		return BinancePrimitive{Type: "STOP_MARKET", Side: "SELL"}, true
	case OrderLaterUpClose:
		side, ok := closeSide()
		if !ok {
			return BinancePrimitive{}, false
		}
		typ := "TAKE_PROFIT_MARKET"
		if side == "BUY" {
			typ = "STOP_MARKET"
		}
		return BinancePrimitive{Type: typ, Side: side, ClosePosition: true}, true
	case OrderLaterDownClose:
		side, ok := closeSide()
		if !ok {
			return BinancePrimitive{}, false
		}
		typ := "STOP_MARKET"
		if side == "BUY" {
			typ = "TAKE_PROFIT_MARKET"
		}
		return BinancePrimitive{Type: typ, Side: side, ClosePosition: true}, true
	}
	return BinancePrimitive{}, false
}
