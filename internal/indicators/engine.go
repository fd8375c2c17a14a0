package indicators

import (
	"fmt"
	"sync"

	"signal-engine/internal/market"
)

// Engine maintains per-symbol price windows and fills each snapshot's
// derived-value map. The scheduler feeds it one close per symbol per cycle.
type Engine struct {
	mu      sync.Mutex
	prices  map[string][]float64
	window  int
	shortMA int
	longMA  int
	rsi     int
}

// NewEngine builds an indicator engine with the given periods.
func NewEngine(shortMA, longMA, rsiPeriod, window int) *Engine {
	if window < longMA {
		window = longMA
	}
	return &Engine{
		prices:  make(map[string][]float64),
		window:  window,
		shortMA: shortMA,
		longMA:  longMA,
		rsi:     rsiPeriod,
	}
}

// Update ingests a new price and returns the latest computed values keyed
// by conventional names (sma7, sma25, rsi14, ...).
func (e *Engine) Update(symbol string, price float64) map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	arr := append(e.prices[symbol], price)
	if len(arr) > e.window {
		arr = arr[len(arr)-e.window:]
	}
	e.prices[symbol] = arr

	return map[string]float64{
		fmt.Sprintf("sma%d", e.shortMA): SMA(arr, e.shortMA),
		fmt.Sprintf("sma%d", e.longMA):  SMA(arr, e.longMA),
		fmt.Sprintf("ema%d", e.shortMA): EMA(arr, e.shortMA),
		fmt.Sprintf("rsi%d", e.rsi):     RSI(arr, e.rsi),
	}
}

// Enrich updates the engine from each snapshot's close and attaches the
// computed values to the snapshot's Indicators map. Snapshots that already
// carry a value for a key keep the supplied one.
func (e *Engine) Enrich(snaps map[string]*market.Snapshot) {
	for sym, snap := range snaps {
		if snap == nil {
			continue
		}
		price := snap.Close
		if price == 0 {
			price = snap.Price
		}
		values := e.Update(sym, price)
		if snap.Indicators == nil {
			snap.Indicators = make(map[string]float64, len(values))
		}
		for k, v := range values {
			if _, ok := snap.Indicators[k]; !ok {
				snap.Indicators[k] = v
			}
		}
	}
}
