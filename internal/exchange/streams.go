package exchange

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"

	"github.com/cunarist/solie/internal/domain"
)

// reconnectBackoff is how long a dropped market stream waits before
// resubscribing.
const reconnectBackoff = 10 * time.Second

// Streams manages the market-data WebSocket subscriptions with
// auto-reconnect. Each Run* call blocks until ctx is cancelled.
type Streams struct {
	tel    *Telemetry
	logger *zap.Logger
}

// NewStreams creates the stream manager.
func NewStreams(tel *Telemetry, logger *zap.Logger) *Streams {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Streams{tel: tel, logger: logger}
}

type subscribeFn func() (doneC, stopC chan struct{}, err error)

// serve runs one subscription in a reconnect loop. onReconnect fires
// after every re-subscription (not the first connect).
func (s *Streams) serve(ctx context.Context, name string, subscribe subscribeFn, onReconnect func()) {
	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		if !first {
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectBackoff):
			}
			s.tel.Reconnects.WithLabelValues(name).Inc()
			if onReconnect != nil {
				onReconnect()
			}
		}
		first = false

		doneC, stopC, err := subscribe()
		if err != nil {
			s.logger.Warn("stream subscription failed",
				zap.String("stream", name), zap.Error(err))
			continue
		}
		select {
		case <-ctx.Done():
			close(stopC)
			return
		case <-doneC:
			s.logger.Warn("stream dropped", zap.String("stream", name))
		}
	}
}

// RunAggTrade subscribes {symbol}@aggTrade and feeds parsed events to
// the handler. The handler must be fixed-time and never block on locks
// held by other components.
func (s *Streams) RunAggTrade(ctx context.Context, symbol string, handler func(domain.AggTrade), onReconnect func()) {
	s.serve(ctx, "aggTrade:"+symbol, func() (chan struct{}, chan struct{}, error) {
		return futures.WsAggTradeServe(symbol, func(event *futures.WsAggTradeEvent) {
			handler(domain.AggTrade{
				Time:   time.UnixMilli(event.Time).UTC(),
				Symbol: event.Symbol,
				Price:  parseFloat(event.Price),
				Volume: parseFloat(event.Quantity),
			})
		}, func(err error) {
			s.logger.Debug("aggTrade stream error", zap.String("symbol", symbol), zap.Error(err))
		})
	}, onReconnect)
}

// RunBookTicker subscribes {symbol}@bookTicker.
func (s *Streams) RunBookTicker(ctx context.Context, symbol string, handler func(domain.MarketEvent)) {
	s.serve(ctx, "bookTicker:"+symbol, func() (chan struct{}, chan struct{}, error) {
		return futures.WsBookTickerServe(symbol, func(event *futures.WsBookTickerEvent) {
			handler(domain.MarketEvent{
				Kind:    domain.MarketEventBookTicker,
				Time:    time.UnixMilli(event.Time).UTC(),
				Symbol:  event.Symbol,
				BestBid: parseFloat(event.BestBidPrice),
				BestAsk: parseFloat(event.BestAskPrice),
			})
		}, func(err error) {
			s.logger.Debug("bookTicker stream error", zap.String("symbol", symbol), zap.Error(err))
		})
	}, nil)
}

// RunAllMarkPrice subscribes !markPrice@arr@1s, one stream carrying
// every symbol.
func (s *Streams) RunAllMarkPrice(ctx context.Context, handler func(domain.MarketEvent)) {
	s.serve(ctx, "markPrice", func() (chan struct{}, chan struct{}, error) {
		return futures.WsAllMarkPriceServeWithRate(time.Second, func(event futures.WsAllMarkPriceEvent) {
			for _, e := range event {
				handler(domain.MarketEvent{
					Kind:   domain.MarketEventMarkPrice,
					Time:   time.UnixMilli(e.Time).UTC(),
					Symbol: e.Symbol,
					Price:  parseFloat(e.MarkPrice),
				})
			}
		}, func(err error) {
			s.logger.Debug("markPrice stream error", zap.Error(err))
		})
	}, nil)
}

// ServeUserData opens the user-data stream for one listen key and
// blocks until the stream drops or ctx is cancelled. The transactor
// owns key rotation, so no reconnect loop here.
func (s *Streams) ServeUserData(ctx context.Context, listenKey string, handler func(*futures.WsUserDataEvent)) error {
	doneC, stopC, err := futures.WsUserDataServe(listenKey, handler, func(err error) {
		s.logger.Debug("user data stream error", zap.Error(err))
	})
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		close(stopC)
		return ctx.Err()
	case <-doneC:
		s.tel.Reconnects.WithLabelValues("userData").Inc()
		return nil
	}
}
