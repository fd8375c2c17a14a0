package market

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// MockSupplier generates random-walk snapshots for local development and
// tests. Prices persist across calls so consecutive cycles look continuous.
type MockSupplier struct {
	StartPrice float64
	Step       float64

	mu     sync.Mutex
	prices map[string]float64
	rng    *rand.Rand
}

func NewMockSupplier(startPrice, step float64) *MockSupplier {
	if startPrice == 0 {
		startPrice = 100.0
	}
	if step == 0 {
		step = 0.5
	}
	return &MockSupplier{
		StartPrice: startPrice,
		Step:       step,
		prices:     make(map[string]float64),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockSupplier) Fetch(_ context.Context, symbols []string) (map[string]*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]*Snapshot, len(symbols))
	now := time.Now()
	for _, sym := range symbols {
		price, ok := m.prices[sym]
		if !ok {
			price = m.StartPrice
		}
		// simple random walk
		price += (m.rng.Float64()*2 - 1) * m.Step
		if price <= 0 {
			price = m.StartPrice
		}
		m.prices[sym] = price

		out[sym] = &Snapshot{
			Symbol:    sym,
			Price:     price,
			Volume:    1000 + m.rng.Float64()*9000,
			Open:      price * (1 - m.rng.Float64()*0.002),
			High:      price * (1 + m.rng.Float64()*0.003),
			Low:       price * (1 - m.rng.Float64()*0.003),
			Close:     price,
			Timestamp: now,
		}
	}
	return out, nil
}
