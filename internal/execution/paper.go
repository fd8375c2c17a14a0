package execution

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperBroker simulates fills against an internal cash balance. Accounting
// runs on decimals so repeated fees and partial quantities do not accumulate
// float drift across a long simulation.
type PaperBroker struct {
	FeeRate     float64 // decimal fraction, e.g. 0.0004 = 4 bps
	SlippageBps float64 // basis points applied against the taker

	mu        sync.Mutex
	balance   decimal.Decimal
	positions map[string]decimal.Decimal
	fees      decimal.Decimal
	rng       *rand.Rand
}

func NewPaperBroker(initialBalance float64) *PaperBroker {
	return &PaperBroker{
		FeeRate:     0.0004,
		SlippageBps: 2,
		balance:     decimal.NewFromFloat(initialBalance),
		positions:   make(map[string]decimal.Decimal),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *PaperBroker) Name() string { return "paper" }

// Execute fills the order immediately at the reference price adjusted for
// simulated slippage, charges the fee, and updates balance and position.
func (p *PaperBroker) Execute(ctx context.Context, o Order) (*Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.Qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrExecutor)
	}
	if o.Price <= 0 {
		return nil, fmt.Errorf("%w: no reference price for %s", ErrExecutor, o.Symbol)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	price := decimal.NewFromFloat(o.Price)
	if p.SlippageBps > 0 {
		noise := decimal.NewFromFloat(p.rng.Float64() * p.SlippageBps / 10000)
		if strings.EqualFold(o.Side, "BUY") {
			price = price.Mul(decimal.NewFromInt(1).Add(noise))
		} else {
			price = price.Mul(decimal.NewFromInt(1).Sub(noise))
		}
	}

	qty := decimal.NewFromFloat(o.Qty)
	notional := price.Mul(qty)
	fee := notional.Mul(decimal.NewFromFloat(p.FeeRate))

	if strings.EqualFold(o.Side, "BUY") {
		cost := notional.Add(fee)
		if p.balance.LessThan(cost) {
			return nil, fmt.Errorf("%w: insufficient balance %s for cost %s",
				ErrExecutor, p.balance.StringFixed(2), cost.StringFixed(2))
		}
		p.balance = p.balance.Sub(cost)
		p.positions[o.Symbol] = p.positions[o.Symbol].Add(qty)
	} else {
		p.balance = p.balance.Add(notional.Sub(fee))
		p.positions[o.Symbol] = p.positions[o.Symbol].Sub(qty)
	}
	p.fees = p.fees.Add(fee)

	avg, _ := price.Float64()
	return &Fill{
		OrderID:   uuid.NewString(),
		Status:    "FILLED",
		FilledQty: o.Qty,
		AvgPrice:  avg,
	}, nil
}

// Cancel is a no-op for the paper broker: orders fill synchronously, so
// there is never anything resting to cancel.
func (p *PaperBroker) Cancel(_ context.Context, _ string) (bool, error) {
	return false, nil
}

// Balance returns the current simulated cash balance.
func (p *PaperBroker) Balance() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, _ := p.balance.Float64()
	return f
}

// Position returns the current simulated position for a symbol.
func (p *PaperBroker) Position(symbol string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, _ := p.positions[symbol].Float64()
	return f
}
