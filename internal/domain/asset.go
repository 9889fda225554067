package domain

import "time"

// TradeCause classifies how an asset-record row came to be.
type TradeCause string

const (
	CauseAutoTrade   TradeCause = "auto_trade"
	CauseManualTrade TradeCause = "manual_trade"
	// CauseOther marks funding fees, transfers and referral kickbacks
	// that move the wallet without a trade side.
	CauseOther TradeCause = "other"
)

// TradeSide is the exchange side of a fill.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// TradeRole tells whether the fill made or took liquidity.
type TradeRole string

const (
	RoleMaker TradeRole = "maker"
	RoleTaker TradeRole = "taker"
)

// AssetTrade is one row of the asset record: a trade fill (or an OTHER
// adjustment) with the post-fill wallet balance. Timestamps carry
// millisecond resolution and are unique within a record.
type AssetTrade struct {
	Time        time.Time  `json:"time"`
	Cause       TradeCause `json:"cause"`
	Symbol      string     `json:"symbol,omitempty"`
	Side        TradeSide  `json:"side,omitempty"`
	FillPrice   float64    `json:"fill_price,omitempty"`
	Role        TradeRole  `json:"role,omitempty"`
	MarginRatio float64    `json:"margin_ratio,omitempty"`
	OrderID     int64      `json:"order_id,omitempty"`
	ResultAsset float64    `json:"result_asset"`
}

// AutoOrderEntry records an order the transactor itself placed; the
// sole ground truth for classifying later fills as auto-originated.
type AutoOrderEntry struct {
	Time    time.Time `json:"time"`
	Symbol  string    `json:"symbol"`
	OrderID int64     `json:"order_id"`
}

// UnrealizedPoint is one sample of unrealized_profit / wallet_balance.
type UnrealizedPoint struct {
	Moment time.Time `json:"moment"`
	Ratio  float32   `json:"ratio"`
}
