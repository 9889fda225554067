// Package strategist owns user-authored strategies: their persistent
// store and the embedded script kernel that evaluates them.
package strategist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
	"github.com/pkg/errors"

	"github.com/cunarist/solie/internal/domain"
	"github.com/cunarist/solie/pkg/indicators"
)

// Kernel compiles strategy scripts once and evaluates them in a
// sandboxed namespace: math and time helpers, indicator builtins, no
// file or network access. Compiled objects are cached per strategy and
// cloned per run, so concurrent runs never share globals.
type Kernel struct {
	mu    sync.Mutex
	cache map[string]*compiledPair
}

type compiledPair struct {
	indicators *tengo.Compiled
	decision   *tengo.Compiled
}

// NewKernel creates an empty kernel.
func NewKernel() *Kernel {
	return &Kernel{cache: make(map[string]*compiledPair)}
}

// DecisionContext carries everything one decision-script run may read.
type DecisionContext struct {
	Symbols    []string
	Moment     time.Time
	Candles    map[string]domain.Candle
	Indicators map[domain.IndicatorKey]float32
	Account    domain.AccountState
	Scribbles  domain.Scribbles
}

func cacheKey(s domain.Strategy) string {
	h := sha256.Sum256([]byte(s.IndicatorsScript + "\x00" + s.DecisionScript))
	return s.CodeName + "/" + s.Version + "/" + hex.EncodeToString(h[:8])
}

func (k *Kernel) compiled(s domain.Strategy) (*compiledPair, error) {
	key := cacheKey(s)

	k.mu.Lock()
	defer k.mu.Unlock()
	if pair, ok := k.cache[key]; ok {
		return pair, nil
	}

	indicatorsCompiled, err := compileScript(s.IndicatorsScript, map[string]interface{}{
		"target_symbols": []interface{}{},
		"candle_data":    map[string]interface{}{},
		"moments":        []interface{}{},
		"new_indicators": map[string]interface{}{},
	})
	if err != nil {
		return nil, &domain.ScriptError{Phase: "indicators", Err: err}
	}
	decisionCompiled, err := compileScript(s.DecisionScript, map[string]interface{}{
		"target_symbols":      []interface{}{},
		"current_moment":      int64(0),
		"current_candle_data": map[string]interface{}{},
		"current_indicators":  map[string]interface{}{},
		"account_state":       map[string]interface{}{},
		"scribbles":           map[string]interface{}{},
		"decision":            map[string]interface{}{},
	})
	if err != nil {
		return nil, &domain.ScriptError{Phase: "decision", Err: err}
	}

	pair := &compiledPair{indicators: indicatorsCompiled, decision: decisionCompiled}
	k.cache[key] = pair
	return pair, nil
}

func compileScript(src string, globals map[string]interface{}) (*tengo.Compiled, error) {
	script := tengo.NewScript([]byte(src))
	script.SetImports(stdlib.GetModuleMap("math", "times"))
	for name, value := range globals {
		if err := script.Add(name, value); err != nil {
			return nil, errors.Wrapf(err, "declare %s", name)
		}
	}
	for _, fn := range indicatorBuiltins() {
		if err := script.Add(fn.Name, fn); err != nil {
			return nil, errors.Wrapf(err, "declare %s", fn.Name)
		}
	}
	return script.Compile()
}

// RunIndicators evaluates the indicators script over the given candle
// window and returns the series it produced, aligned to the window
// index.
func (k *Kernel) RunIndicators(ctx context.Context, s domain.Strategy, symbols []string, series domain.Series) (domain.IndicatorSet, error) {
	pair, err := k.compiled(s)
	if err != nil {
		return nil, err
	}
	run := pair.indicators.Clone()
	sets := map[string]interface{}{
		"target_symbols": stringsToIface(symbols),
		"candle_data":    candleWindow(series),
		"moments":        momentsMs(series.Moments),
		"new_indicators": map[string]interface{}{},
	}
	for name, value := range sets {
		if err := run.Set(name, value); err != nil {
			return nil, &domain.ScriptError{Phase: "indicators", Err: err}
		}
	}
	if err := run.RunContext(ctx); err != nil {
		return nil, &domain.ScriptError{Phase: "indicators", Err: err}
	}
	return parseIndicators(run.Get("new_indicators").Value(), len(series.Moments))
}

// RunDecision evaluates the decision script against the latest row and
// returns the stripped decision set plus the (possibly mutated)
// scribbles. The input account state and candle row are copies; runs
// cannot touch live state.
func (k *Kernel) RunDecision(ctx context.Context, s domain.Strategy, dc DecisionContext) (domain.DecisionSet, domain.Scribbles, error) {
	pair, err := k.compiled(s)
	if err != nil {
		return nil, nil, err
	}
	run := pair.decision.Clone()

	preallocated := map[string]interface{}{}
	scribbles := scribblesToIface(dc.Scribbles)
	for _, symbol := range dc.Symbols {
		preallocated[symbol] = map[string]interface{}{}
		if _, ok := scribbles[symbol]; !ok {
			scribbles[symbol] = map[string]interface{}{}
		}
	}
	sets := map[string]interface{}{
		"target_symbols":      stringsToIface(dc.Symbols),
		"current_moment":      dc.Moment.UnixMilli(),
		"current_candle_data": candleRow(dc.Candles),
		"current_indicators":  indicatorRow(dc.Indicators),
		"account_state":       accountView(dc.Account),
		"scribbles":           scribbles,
		"decision":            preallocated,
	}
	for name, value := range sets {
		if err := run.Set(name, value); err != nil {
			return nil, nil, &domain.ScriptError{Phase: "decision", Err: err}
		}
	}
	if err := run.RunContext(ctx); err != nil {
		return nil, nil, &domain.ScriptError{Phase: "decision", Err: err}
	}

	decisions, err := parseDecision(run.Get("decision").Value())
	if err != nil {
		return nil, nil, err
	}
	mutated, err := parseScribbles(run.Get("scribbles").Value())
	if err != nil {
		return nil, nil, err
	}
	return decisions.Strip(), mutated, nil
}

// --- Go → script conversions ---

func stringsToIface(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func floatsToIface(values []float64) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func momentsMs(moments []time.Time) []interface{} {
	out := make([]interface{}, len(moments))
	for i, m := range moments {
		out[i] = m.UnixMilli()
	}
	return out
}

func candleWindow(series domain.Series) map[string]interface{} {
	out := make(map[string]interface{}, len(series.Candles))
	for symbol, cells := range series.Candles {
		columns := map[string][]float64{}
		for _, field := range []domain.CandleField{
			domain.FieldOpen, domain.FieldHigh, domain.FieldLow, domain.FieldClose, domain.FieldVolume,
		} {
			col := make([]float64, len(cells))
			for i, c := range cells {
				col[i] = float64(c.Field(field))
			}
			columns[string(field)] = col
		}
		converted := make(map[string]interface{}, len(columns))
		for field, col := range columns {
			converted[field] = floatsToIface(col)
		}
		out[symbol] = converted
	}
	return out
}

func candleRow(row map[string]domain.Candle) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for symbol, c := range row {
		out[symbol] = map[string]interface{}{
			"open":   float64(c.Open),
			"high":   float64(c.High),
			"low":    float64(c.Low),
			"close":  float64(c.Close),
			"volume": float64(c.Volume),
		}
	}
	return out
}

func indicatorRow(row map[domain.IndicatorKey]float32) map[string]interface{} {
	out := map[string]interface{}{}
	for key, value := range row {
		bySymbol, ok := out[key.Symbol].(map[string]interface{})
		if !ok {
			bySymbol = map[string]interface{}{}
			out[key.Symbol] = bySymbol
		}
		byCategory, ok := bySymbol[string(key.Category)].(map[string]interface{})
		if !ok {
			byCategory = map[string]interface{}{}
			bySymbol[string(key.Category)] = byCategory
		}
		byCategory[key.Label] = float64(value)
	}
	return out
}

func accountView(account domain.AccountState) map[string]interface{} {
	positions := map[string]interface{}{}
	for symbol, p := range account.Positions {
		positions[symbol] = map[string]interface{}{
			"margin":      p.Margin,
			"direction":   string(p.Direction),
			"entry_price": p.EntryPrice,
			"update_time": p.UpdateTime.UnixMilli(),
		}
	}
	openOrders := map[string]interface{}{}
	for symbol, orders := range account.OpenOrders {
		converted := map[string]interface{}{}
		for id, o := range orders {
			converted[strconv.FormatInt(id, 10)] = map[string]interface{}{
				"order_type":  string(o.Type),
				"boundary":    o.Boundary,
				"left_margin": o.LeftMargin,
			}
		}
		openOrders[symbol] = converted
	}
	return map[string]interface{}{
		"observed_until": account.ObservedUntil.UnixMilli(),
		"wallet_balance": account.WalletBalance,
		"positions":      positions,
		"open_orders":    openOrders,
	}
}

func scribblesToIface(scribbles domain.Scribbles) map[string]interface{} {
	out := map[string]interface{}{}
	for symbol, kv := range scribbles {
		converted := map[string]interface{}{}
		for k, v := range kv {
			converted[k] = v
		}
		out[symbol] = converted
	}
	return out
}

// --- script → Go conversions ---

func parseIndicators(raw interface{}, windowLen int) (domain.IndicatorSet, error) {
	bySymbol, ok := raw.(map[string]interface{})
	if !ok {
		return nil, &domain.ScriptError{Phase: "indicators", Err: errors.New("new_indicators must stay a map")}
	}
	set := domain.IndicatorSet{}
	for symbol, categoriesRaw := range bySymbol {
		categories, ok := categoriesRaw.(map[string]interface{})
		if !ok {
			return nil, &domain.ScriptError{Phase: "indicators",
				Err: errors.Errorf("new_indicators[%q] must be a map of categories", symbol)}
		}
		for category, labelsRaw := range categories {
			labels, ok := labelsRaw.(map[string]interface{})
			if !ok {
				return nil, &domain.ScriptError{Phase: "indicators",
					Err: errors.Errorf("new_indicators[%q][%q] must be a map of labels", symbol, category)}
			}
			for label, seriesRaw := range labels {
				series, err := parseSeries(seriesRaw, windowLen)
				if err != nil {
					return nil, &domain.ScriptError{Phase: "indicators",
						Err: errors.Wrapf(err, "indicator %s/%s/%s", symbol, category, label)}
				}
				set[domain.IndicatorKey{
					Symbol:   symbol,
					Category: domain.IndicatorCategory(category),
					Label:    label,
				}] = series
			}
		}
	}
	return set, nil
}

func parseSeries(raw interface{}, windowLen int) ([]float32, error) {
	values, ok := raw.([]interface{})
	if !ok {
		return nil, errors.New("series must be an array of numbers")
	}
	if len(values) != windowLen {
		return nil, errors.Errorf("series length %d is not aligned to the candle index %d", len(values), windowLen)
	}
	out := make([]float32, len(values))
	for i, v := range values {
		f, ok := number(v)
		if !ok {
			out[i] = domain.NaN32()
			continue
		}
		out[i] = float32(f)
	}
	return out, nil
}

func parseDecision(raw interface{}) (domain.DecisionSet, error) {
	bySymbol, ok := raw.(map[string]interface{})
	if !ok {
		return nil, &domain.ScriptError{Phase: "decision", Err: errors.New("decision must stay a map")}
	}
	set := domain.DecisionSet{}
	for symbol, ordersRaw := range bySymbol {
		orders, ok := ordersRaw.(map[string]interface{})
		if !ok {
			return nil, &domain.ScriptError{Phase: "decision",
				Err: errors.Errorf("decision[%q] must be a map of order types", symbol)}
		}
		parsed := map[domain.OrderType]domain.Decision{}
		for orderType, decisionRaw := range orders {
			fields, ok := decisionRaw.(map[string]interface{})
			if !ok {
				return nil, &domain.ScriptError{Phase: "decision",
					Err: errors.Errorf("decision[%q][%q] must be a map", symbol, orderType)}
			}
			var d domain.Decision
			if v, ok := number(fields["margin"]); ok {
				d.Margin = v
			}
			if v, ok := number(fields["boundary"]); ok {
				d.Boundary = v
			}
			parsed[domain.OrderType(orderType)] = d
		}
		set[symbol] = parsed
	}
	return set, nil
}

func parseScribbles(raw interface{}) (domain.Scribbles, error) {
	bySymbol, ok := raw.(map[string]interface{})
	if !ok {
		return nil, &domain.ScriptError{Phase: "decision", Err: errors.New("scribbles must stay a map")}
	}
	out := domain.Scribbles{}
	for symbol, kvRaw := range bySymbol {
		kv, ok := kvRaw.(map[string]interface{})
		if !ok {
			return nil, &domain.ScriptError{Phase: "decision",
				Err: errors.Errorf("scribbles[%q] must be a map", symbol)}
		}
		converted := map[string]any{}
		for k, v := range kv {
			converted[k] = v
		}
		out[symbol] = converted
	}
	return out, nil
}

func number(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	}
	return 0, false
}

// --- indicator builtins ---

func indicatorBuiltins() []*tengo.UserFunction {
	return []*tengo.UserFunction{
		seriesBuiltin("sma", indicators.Sma),
		seriesBuiltin("ema", indicators.Ema),
		seriesBuiltin("rsi", indicators.Rsi),
		{Name: "atr", Value: func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) != 4 {
				return nil, tengo.ErrWrongNumArguments
			}
			highs, err := floatSliceArg(args[0], "highs")
			if err != nil {
				return nil, err
			}
			lows, err := floatSliceArg(args[1], "lows")
			if err != nil {
				return nil, err
			}
			closes, err := floatSliceArg(args[2], "closes")
			if err != nil {
				return nil, err
			}
			period, ok := tengo.ToInt(args[3])
			if !ok {
				return nil, tengo.ErrInvalidArgumentType{Name: "period", Expected: "int", Found: args[3].TypeName()}
			}
			return floatArray(indicators.Atr(highs, lows, closes, period)), nil
		}},
		{Name: "macd", Value: func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) != 1 {
				return nil, tengo.ErrWrongNumArguments
			}
			values, err := floatSliceArg(args[0], "values")
			if err != nil {
				return nil, err
			}
			return floatArray(indicators.Macd(values)), nil
		}},
	}
}

func seriesBuiltin(name string, fn func([]float64, int) []float64) *tengo.UserFunction {
	return &tengo.UserFunction{Name: name, Value: func(args ...tengo.Object) (tengo.Object, error) {
		if len(args) != 2 {
			return nil, tengo.ErrWrongNumArguments
		}
		values, err := floatSliceArg(args[0], "values")
		if err != nil {
			return nil, err
		}
		period, ok := tengo.ToInt(args[1])
		if !ok {
			return nil, tengo.ErrInvalidArgumentType{Name: "period", Expected: "int", Found: args[1].TypeName()}
		}
		return floatArray(fn(values, period)), nil
	}}
}

func floatSliceArg(o tengo.Object, name string) ([]float64, error) {
	arr, ok := o.(*tengo.Array)
	if !ok {
		return nil, tengo.ErrInvalidArgumentType{Name: name, Expected: "array", Found: o.TypeName()}
	}
	out := make([]float64, len(arr.Value))
	for i, el := range arr.Value {
		f, ok := tengo.ToFloat64(el)
		if !ok {
			out[i] = math.NaN()
			continue
		}
		out[i] = f
	}
	return out, nil
}

func floatArray(values []float64) *tengo.Array {
	objs := make([]tengo.Object, len(values))
	for i, v := range values {
		objs[i] = &tengo.Float{Value: v}
	}
	return &tengo.Array{Value: objs}
}
