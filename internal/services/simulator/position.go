package simulator

import (
	"fmt"
	"math"

	"github.com/cunarist/solie/internal/domain"
)

// applyShift moves a symbol's virtual location by a signed base-amount
// shift filled at price, updating the available balance. The five
// cases: open from zero, close to zero, flip, grow, shrink. A negative
// resulting balance aborts the simulation.
func applyShift(v *domain.VirtualState, symbol string, shift, price float64) error {
	if math.IsNaN(shift) || math.IsNaN(price) || price <= 0 {
		return &domain.SimulationError{
			Reason: fmt.Sprintf("invalid fill for %s: shift=%v price=%v", symbol, shift, price),
		}
	}
	loc := v.Locations[symbol]
	oldAmount := loc.Amount
	newAmount := oldAmount + shift

	switch {
	case oldAmount == 0:
		v.AvailableBalance -= math.Abs(shift) * price
		loc = domain.Location{Amount: shift, EntryPrice: price}

	case newAmount == 0:
		realized := oldAmount * (price - loc.EntryPrice)
		v.AvailableBalance += math.Abs(oldAmount)*loc.EntryPrice + realized
		loc = domain.Location{}

	case oldAmount*newAmount < 0:
		// flip: close the whole old position, open the remainder
		realized := oldAmount * (price - loc.EntryPrice)
		v.AvailableBalance += math.Abs(oldAmount)*loc.EntryPrice + realized
		v.AvailableBalance -= math.Abs(newAmount) * price
		loc = domain.Location{Amount: newAmount, EntryPrice: price}

	case math.Abs(newAmount) > math.Abs(oldAmount):
		// grow: invest more margin, average the entry
		v.AvailableBalance -= math.Abs(shift) * price
		entry := (math.Abs(oldAmount)*loc.EntryPrice + math.Abs(shift)*price) / math.Abs(newAmount)
		loc = domain.Location{Amount: newAmount, EntryPrice: entry}

	default:
		// shrink: return margin for the closed part plus its profit
		closed := math.Abs(shift)
		sign := 1.0
		if oldAmount < 0 {
			sign = -1.0
		}
		realized := sign * closed * (price - loc.EntryPrice)
		v.AvailableBalance += closed*loc.EntryPrice + realized
		loc.Amount = newAmount
	}

	if v.AvailableBalance < 0 {
		return &domain.SimulationError{
			Reason: fmt.Sprintf("available balance went negative on %s fill at %v", symbol, price),
		}
	}
	v.Locations[symbol] = loc
	return nil
}

// shiftFor derives the signed base-amount shift for an order variant.
// CLOSE variants flatten the whole location regardless of margin; for
// the rest a NaN or negative margin is a strategy bug and aborts.
func shiftFor(v *domain.VirtualState, symbol string, orderType domain.OrderType, price, margin float64) (float64, error) {
	if orderType.IsClose() {
		return -v.Locations[symbol].Amount, nil
	}
	if math.IsNaN(margin) || margin < 0 {
		return 0, &domain.SimulationError{
			Reason: fmt.Sprintf("%s decision for %s has invalid margin %v", orderType, symbol, margin),
		}
	}
	amount := margin / price
	switch orderType {
	case domain.OrderNowBuy, domain.OrderBookBuy, domain.OrderLaterUpBuy, domain.OrderLaterDownBuy:
		return amount, nil
	case domain.OrderNowSell, domain.OrderBookSell, domain.OrderLaterUpSell, domain.OrderLaterDownSell:
		return -amount, nil
	}
	return 0, &domain.SimulationError{
		Reason: fmt.Sprintf("order type %s cannot fill", orderType),
	}
}

// walletBalance is the virtual wallet: free balance plus the margin
// locked in every location at entry.
func walletBalance(v *domain.VirtualState) float64 {
	total := v.AvailableBalance
	for _, loc := range v.Locations {
		total += math.Abs(loc.Amount) * loc.EntryPrice
	}
	return total
}
