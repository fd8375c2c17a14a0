package market

import (
	"context"
	"time"
)

// Snapshot is a point-in-time view of one symbol. It is immutable once
// published to an evaluation cycle; Indicators carries named derived values
// (rsi14, sma25, ...) populated by the indicator engine.
type Snapshot struct {
	Symbol     string             `json:"symbol"`
	Price      float64            `json:"price"`
	Volume     float64            `json:"volume"`
	Open       float64            `json:"open"`
	High       float64            `json:"high"`
	Low        float64            `json:"low"`
	Close      float64            `json:"close"`
	Timestamp  time.Time          `json:"timestamp"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Supplier fetches current snapshots for a set of symbols. Implementations
// may fail per-symbol; callers must tolerate partial results.
type Supplier interface {
	Fetch(ctx context.Context, symbols []string) (map[string]*Snapshot, error)
}
