package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrExecutor marks broker-side failures so callers can distinguish them
// from timeouts with errors.Is.
var ErrExecutor = errors.New("broker execution failed")

// Order is a request handed to a broker adapter.
type Order struct {
	TradeID string  `json:"trade_id"`
	Symbol  string  `json:"symbol"`
	Side    string  `json:"side"` // BUY or SELL
	Qty     float64 `json:"qty"`
	Price   float64 `json:"price"` // reference price; brokers may fill off it
}

// Fill reports the broker's execution outcome.
type Fill struct {
	OrderID   string  `json:"order_id"`
	Status    string  `json:"status"`
	FilledQty float64 `json:"filled_qty"`
	AvgPrice  float64 `json:"avg_price"`
}

// Broker is the capability interface every brokerage adapter implements.
// Adapters are resolved once at startup through the Registry; nothing in
// the routing path branches on broker-type strings.
type Broker interface {
	Name() string
	Execute(ctx context.Context, o Order) (*Fill, error)
	Cancel(ctx context.Context, orderID string) (bool, error)
}

// Registry maps broker-type tags to adapters.
type Registry struct {
	mu      sync.RWMutex
	brokers map[string]Broker
}

func NewRegistry() *Registry {
	return &Registry{brokers: make(map[string]Broker)}
}

// Register adds an adapter under its own name.
func (r *Registry) Register(b Broker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.brokers[b.Name()] = b
}

// Get resolves an adapter by tag.
func (r *Registry) Get(name string) (Broker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.brokers[name]
	if !ok {
		return nil, fmt.Errorf("unknown broker %q", name)
	}
	return b, nil
}
