// Package indicators wraps the cinar/indicator library with helpers
// that keep outputs aligned to their input index, the shape strategy
// scripts expect. Warmup gaps are left-padded with NaN.
package indicators

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
)

func padLeft(values []float64, toLen int) []float64 {
	if len(values) >= toLen {
		return values[len(values)-toLen:]
	}
	out := make([]float64, toLen)
	pad := toLen - len(values)
	for i := 0; i < pad; i++ {
		out[i] = math.NaN()
	}
	copy(out[pad:], values)
	return out
}

// Sma computes a simple moving average aligned to the input.
func Sma(values []float64, period int) []float64 {
	if period < 1 || len(values) == 0 {
		return padLeft(nil, len(values))
	}
	sma := trend.NewSmaWithPeriod[float64](period)
	out := helper.ChanToSlice(sma.Compute(helper.SliceToChan(values)))
	return padLeft(out, len(values))
}

// Ema computes an exponential moving average aligned to the input.
func Ema(values []float64, period int) []float64 {
	if period < 1 || len(values) == 0 {
		return padLeft(nil, len(values))
	}
	ema := trend.NewEmaWithPeriod[float64](period)
	out := helper.ChanToSlice(ema.Compute(helper.SliceToChan(values)))
	return padLeft(out, len(values))
}

// Rsi computes the relative strength index aligned to the input.
func Rsi(values []float64, period int) []float64 {
	if period < 1 || len(values) == 0 {
		return padLeft(nil, len(values))
	}
	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := helper.ChanToSlice(rsi.Compute(helper.SliceToChan(values)))
	return padLeft(out, len(values))
}

// Atr computes the average true range aligned to the input.
func Atr(highs, lows, closes []float64, period int) []float64 {
	if period < 1 || len(closes) == 0 {
		return padLeft(nil, len(closes))
	}
	atr := volatility.NewAtrWithPeriod[float64](period)
	out := helper.ChanToSlice(atr.Compute(
		helper.SliceToChan(highs),
		helper.SliceToChan(lows),
		helper.SliceToChan(closes),
	))
	return padLeft(out, len(closes))
}

// Macd computes the MACD line aligned to the input. The signal channel
// is drained so the pipeline does not stall.
func Macd(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	macd := trend.NewMacd[float64]()
	macdChan, signalChan := macd.Compute(helper.SliceToChan(values))
	go func() {
		for range signalChan {
		}
	}()
	out := helper.ChanToSlice(macdChan)
	return padLeft(out, len(values))
}
