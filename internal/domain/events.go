package domain

import "time"

// MarketEventKind distinguishes the two stream payloads sharing the
// realtime ring.
type MarketEventKind string

const (
	MarketEventBookTicker MarketEventKind = "book_ticker"
	MarketEventMarkPrice  MarketEventKind = "mark_price"
)

// MarketEvent is a best-bid/ask or mark-price observation received from
// the realtime WebSocket streams. Timestamps are exchange millisecond
// times.
type MarketEvent struct {
	Kind    MarketEventKind `json:"kind"`
	Time    time.Time       `json:"time"`
	Symbol  string          `json:"symbol"`
	BestBid float64         `json:"best_bid,omitempty"`
	BestAsk float64         `json:"best_ask,omitempty"`
	Price   float64         `json:"price,omitempty"`
}

// AggTrade is one aggregate trade received from the {symbol}@aggTrade
// stream, the raw material of candle synthesis.
type AggTrade struct {
	Time   time.Time `json:"time"`
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Volume float64   `json:"volume"`
}
