package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotConnected is returned when the internet probe failed; periodic
// jobs observe it and no-op until connectivity returns.
var ErrNotConnected = errors.New("not connected to the internet")

// ErrKeyRestriction blocks auto-transact until the user fixes the API
// key permissions.
var ErrKeyRestriction = errors.New("api key restrictions unsatisfied")

// ErrCumulationIncomplete blocks auto-transact until the trailing
// 24-hour candle grid is full.
var ErrCumulationIncomplete = errors.New("24-hour candle cumulation incomplete")

// APIRequestError carries a non-success Binance response. Recoverable:
// logged and the current tick skipped. Payload holds the raw body for
// responses without a code/message pair.
type APIRequestError struct {
	BinanceCode int64
	Message     string
	Payload     string
}

func (e *APIRequestError) Error() string {
	if e.BinanceCode == 0 && e.Message == "" {
		return "binance api error: " + e.Payload
	}
	return fmt.Sprintf("binance api error code=%d: %s", e.BinanceCode, e.Message)
}

// SimulationError aborts a whole simulation: negative balance, NaN or
// negative margin in a decision, or an order without a resolvable side.
type SimulationError struct {
	Reason string
}

func (e *SimulationError) Error() string {
	return "simulation error: " + e.Reason
}

// ScriptError wraps a failure inside a user strategy script. The cycle
// aborts, the traceback goes to the log, no orders are placed.
type ScriptError struct {
	Phase string // "indicators" or "decision"
	Err   error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("strategy %s script: %v", e.Phase, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// MissingHistoricalData marks a symbol for which Binance returned zero
// trades; the symbol is excluded from filling henceforth but still
// reported.
type MissingHistoricalData struct {
	Symbol string
}

func (e *MissingHistoricalData) Error() string {
	return "no historical data on binance for symbol " + e.Symbol
}
