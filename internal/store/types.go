package store

import (
	"strings"
	"time"

	"signal-engine/internal/formula"
	"signal-engine/internal/risk"
)

// Subscription binds a user to a formula and carries everything needed to
// turn that formula's signals into concrete trades: execution mode, sizing
// rule, stop and target specs, and the risk policy to validate against.
type Subscription struct {
	ID               string                `json:"id"`
	UserID           string                `json:"user_id"`
	FormulaID        string                `json:"formula_id"`
	Mode             formula.ExecutionMode `json:"mode,omitempty"` // empty = inherit formula mode
	PolicyID         string                `json:"policy_id,omitempty"`
	PortfolioValue   float64               `json:"portfolio_value"`
	PositionFraction float64               `json:"position_fraction"`
	FixedSize        float64               `json:"fixed_size"`
	Leverage         float64               `json:"leverage"`
	StopLoss         risk.StopSpec         `json:"stop_loss"`
	TakeProfit       risk.StopSpec         `json:"take_profit"`
	Broker           string                `json:"broker"`
	NotifyOnReject   bool                  `json:"notify_on_reject"`
	IsActive         bool                  `json:"is_active"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// EffectiveMode resolves the execution mode: the subscription's override
// wins, otherwise the formula's own mode applies.
func (s *Subscription) EffectiveMode(f *formula.Formula) formula.ExecutionMode {
	if s.Mode != "" {
		return s.Mode
	}
	return f.Mode
}

// DeriveTrade sizes a trade from a signal using the subscription's rule:
// a fixed size when configured, otherwise the portfolio fraction divided
// by the signal price.
func (s *Subscription) DeriveTrade(sig *formula.Signal) risk.Trade {
	size := s.FixedSize
	if size <= 0 && sig.Price > 0 {
		size = s.PositionFraction * s.PortfolioValue / sig.Price
	}
	leverage := s.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	return risk.Trade{
		Symbol:         sig.Symbol,
		Side:           tradeSide(sig.Kind),
		EntryPrice:     sig.Price,
		PositionSize:   size,
		PortfolioValue: s.PortfolioValue,
		Leverage:       leverage,
		StopLoss:       s.StopLoss,
		TakeProfit:     s.TakeProfit,
	}
}

func tradeSide(k formula.Kind) string {
	switch k {
	case formula.KindEntryShort, formula.KindExitLong:
		return "SHORT"
	default:
		return "LONG"
	}
}

// Pair is one unit of scheduled work: an active formula joined with one
// active subscription and its resolved policy. Pairs are materialized once
// per cycle and never mutated afterwards.
type Pair struct {
	Formula      *formula.Formula
	Subscription *Subscription
	Policy       risk.Policy
}

// normalizeSymbols uppercases, trims, and deduplicates a declared symbol
// list, preserving order. Applied on every formula write so the cycle's
// fetch set and the evaluator's snapshot lookups always agree.
func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Symbols returns the distinct symbols across a set of pairs, used to fetch
// each symbol exactly once per cycle.
func Symbols(pairs []*Pair) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range pairs {
		for _, s := range normalizeSymbols(p.Formula.Symbols) {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
