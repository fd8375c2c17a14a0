package indicators

import (
	"math"
	"testing"

	"signal-engine/internal/market"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	if got := SMA(values, 5); !almostEqual(got, 3) {
		t.Fatalf("SMA(5) = %v, want 3", got)
	}
	if got := SMA(values, 2); !almostEqual(got, 4.5) {
		t.Fatalf("SMA(2) = %v, want 4.5", got)
	}
	if got := SMA(values, 10); got != 0 {
		t.Fatalf("SMA with insufficient data = %v, want 0", got)
	}
	if got := SMA(values, 0); got != 0 {
		t.Fatalf("SMA(0) = %v, want 0", got)
	}
}

func TestEMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	// Seeded with SMA(1..3)=2, k=0.5: 2 -> 3 -> 4.
	if got := EMA(values, 3); !almostEqual(got, 4) {
		t.Fatalf("EMA(3) = %v, want 4", got)
	}
	if got := EMA(values[:2], 3); got != 0 {
		t.Fatalf("EMA with insufficient data = %v, want 0", got)
	}
}

func TestRSI(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5, 6}
	if got := RSI(rising, 5); got != 100 {
		t.Fatalf("RSI of pure gains = %v, want 100", got)
	}

	falling := []float64{6, 5, 4, 3, 2, 1}
	if got := RSI(falling, 5); got != 0 {
		t.Fatalf("RSI of pure losses = %v, want 0", got)
	}

	// Equal gains and losses balance to 50.
	mixed := []float64{10, 11, 10, 11, 10}
	if got := RSI(mixed, 4); !almostEqual(got, 50) {
		t.Fatalf("RSI of balanced moves = %v, want 50", got)
	}

	if got := RSI(rising, 10); got != 0 {
		t.Fatalf("RSI with insufficient data = %v, want 0", got)
	}
}

func TestEnrichKeepsSuppliedValues(t *testing.T) {
	eng := NewEngine(2, 3, 3, 10)

	for _, p := range []float64{100, 101, 102, 103} {
		eng.Update("BTCUSDT", p)
	}

	snap := &market.Snapshot{
		Symbol:     "BTCUSDT",
		Close:      104,
		Indicators: map[string]float64{"sma2": 42},
	}
	eng.Enrich(map[string]*market.Snapshot{"BTCUSDT": snap})

	if snap.Indicators["sma2"] != 42 {
		t.Fatalf("supplied sma2 overwritten: %v", snap.Indicators["sma2"])
	}
	if !almostEqual(snap.Indicators["sma3"], (102+103+104)/3.0) {
		t.Fatalf("sma3 = %v", snap.Indicators["sma3"])
	}
	if _, ok := snap.Indicators["rsi3"]; !ok {
		t.Fatal("rsi3 missing from enriched snapshot")
	}
}

func TestEngineWindowTrims(t *testing.T) {
	eng := NewEngine(2, 3, 3, 3)

	var last map[string]float64
	for _, p := range []float64{1, 2, 3, 100, 200} {
		last = eng.Update("ETHUSDT", p)
	}

	// Window of 3 keeps {3, 100, 200} only.
	if !almostEqual(last["sma3"], (3+100+200)/3.0) {
		t.Fatalf("sma3 after trim = %v", last["sma3"])
	}
}
