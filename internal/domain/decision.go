package domain

// Decision is one strategy order request: how much margin to commit and
// where the boundary sits (ignored for NOW variants).
type Decision struct {
	Margin   float64 `json:"margin"`
	Boundary float64 `json:"boundary,omitempty"`
}

// DecisionSet is the full output of one decision-script run, keyed by
// symbol then order type. Empty symbol entries are stripped before the
// set leaves the kernel.
type DecisionSet map[string]map[OrderType]Decision

// Strip removes symbols with no orders.
func (d DecisionSet) Strip() DecisionSet {
	for sym, orders := range d {
		if len(orders) == 0 {
			delete(d, sym)
		}
	}
	return d
}

// Scribbles is strategy-private state carried between ticks, keyed by
// symbol. Opaque to the core apart from being serializable.
type Scribbles map[string]map[string]any

// Copy deep-copies one level down; leaf values are plain numbers,
// strings or timestamps and are shared.
func (s Scribbles) Copy() Scribbles {
	out := make(Scribbles, len(s))
	for sym, kv := range s {
		m := make(map[string]any, len(kv))
		for k, v := range kv {
			m[k] = v
		}
		out[sym] = m
	}
	return out
}
