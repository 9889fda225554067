package domain

import "time"

// Direction is the sign of a position.
type Direction string

const (
	DirectionNone  Direction = "none"
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// DirectionFromAmount derives the direction from a signed position size.
func DirectionFromAmount(amount float64) Direction {
	switch {
	case amount > 0:
		return DirectionLong
	case amount < 0:
		return DirectionShort
	}
	return DirectionNone
}

// Position is the locally mirrored state of one symbol's position.
type Position struct {
	Margin     float64   `json:"margin"`
	Direction  Direction `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	UpdateTime time.Time `json:"update_time"`
}

// OpenOrder is the locally mirrored state of one resting order.
// Boundary is the trigger price for STOP/TAKE_PROFIT variants and the
// limit price for BOOK variants. LeftMargin is the margin the remaining
// quantity would consume when filled; zero when unknown.
type OpenOrder struct {
	Type       OrderType `json:"type"`
	Boundary   float64   `json:"boundary"`
	LeftMargin float64   `json:"left_margin,omitempty"`
}

// AccountState mirrors the exchange account. The transactor owns the
// live copy; the simulator re-derives its own per moment.
type AccountState struct {
	ObservedUntil time.Time                      `json:"observed_until"`
	WalletBalance float64                        `json:"wallet_balance"`
	Positions     map[string]Position            `json:"positions"`
	OpenOrders    map[string]map[int64]OpenOrder `json:"open_orders"`
}

// NewAccountState returns a blank state with empty maps for every
// target symbol.
func NewAccountState(symbols []string) AccountState {
	s := AccountState{
		Positions:  make(map[string]Position, len(symbols)),
		OpenOrders: make(map[string]map[int64]OpenOrder, len(symbols)),
	}
	for _, sym := range symbols {
		s.Positions[sym] = Position{Direction: DirectionNone}
		s.OpenOrders[sym] = make(map[int64]OpenOrder)
	}
	return s
}

// Copy deep-copies the state so strategy scripts can never mutate the
// live mirror.
func (s AccountState) Copy() AccountState {
	out := s
	out.Positions = make(map[string]Position, len(s.Positions))
	for sym, p := range s.Positions {
		out.Positions[sym] = p
	}
	out.OpenOrders = make(map[string]map[int64]OpenOrder, len(s.OpenOrders))
	for sym, orders := range s.OpenOrders {
		m := make(map[int64]OpenOrder, len(orders))
		for id, o := range orders {
			m[id] = o
		}
		out.OpenOrders[sym] = m
	}
	return out
}
