package domain

// Location is the simulator's notional position in one symbol: a
// signed base amount and its average entry price.
type Location struct {
	Amount     float64 `json:"amount"`
	EntryPrice float64 `json:"entry_price"`
}

// VirtualPlacement is a pending simulated order: the strategy decision
// plus the random order id attached when it was merged.
type VirtualPlacement struct {
	Margin   float64 `json:"margin"`
	Boundary float64 `json:"boundary,omitempty"`
	OrderID  int64   `json:"order_id"`
}

// VirtualState is the simulator's own bookkeeping of balance, notional
// positions and pending placements, distinct from the account mirror.
type VirtualState struct {
	AvailableBalance float64                                    `json:"available_balance"`
	Locations        map[string]Location                        `json:"locations"`
	Placements       map[string]map[OrderType]VirtualPlacement `json:"placements"`
}

// NewVirtualState returns a state holding the full starting balance and
// empty books for every symbol.
func NewVirtualState(symbols []string, balance float64) VirtualState {
	v := VirtualState{
		AvailableBalance: balance,
		Locations:        make(map[string]Location, len(symbols)),
		Placements:       make(map[string]map[OrderType]VirtualPlacement, len(symbols)),
	}
	for _, s := range symbols {
		v.Locations[s] = Location{}
		v.Placements[s] = make(map[OrderType]VirtualPlacement)
	}
	return v
}

// Copy deep-copies the state for chunk hand-off.
func (v VirtualState) Copy() VirtualState {
	out := v
	out.Locations = make(map[string]Location, len(v.Locations))
	for s, l := range v.Locations {
		out.Locations[s] = l
	}
	out.Placements = make(map[string]map[OrderType]VirtualPlacement, len(v.Placements))
	for s, m := range v.Placements {
		copied := make(map[OrderType]VirtualPlacement, len(m))
		for t, p := range m {
			copied[t] = p
		}
		out.Placements[s] = copied
	}
	return out
}
