package formula

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"signal-engine/internal/market"
)

// SignalBinding is the output binding a formula must populate.
const SignalBinding = "signal"

// Evaluator runs formulas inside a bounded evaluation context: only the
// supplied snapshots and a fixed set of helper functions are visible, and a
// wall-clock timeout converts runaway evaluations into typed failures.
type Evaluator struct {
	Timeout  time.Duration
	MaxSteps int

	mu    sync.Mutex
	cache map[string]cachedProgram
}

type cachedProgram struct {
	rev   int64
	stmts []Stmt
}

// NewEvaluator builds an evaluator with the given per-formula timeout.
func NewEvaluator(timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Evaluator{
		Timeout:  timeout,
		MaxSteps: defaultMaxSteps,
		cache:    make(map[string]cachedProgram),
	}
}

// Evaluate runs one formula against the snapshot batch and returns either a
// Signal or an *EvalError. It never panics and never returns any other
// error type; failures stay contained to the formula that caused them.
func (e *Evaluator) Evaluate(ctx context.Context, f *Formula, snaps map[string]*market.Snapshot) (sig *Signal, err error) {
	if len(f.Symbols) == 0 {
		return nil, evalErr(ErrMissingMarketData, f.ID, "", errors.New("formula declares no symbols"))
	}
	primary := f.Symbols[0]

	for _, sym := range f.Symbols {
		if snaps[sym] == nil {
			return nil, evalErr(ErrMissingMarketData, f.ID, sym, fmt.Errorf("no snapshot for %s", sym))
		}
	}

	stmts, perr := e.program(f)
	if perr != nil {
		return nil, evalErr(ErrParse, f.ID, primary, perr)
	}

	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			sig = nil
			err = evalErr(ErrRuntime, f.ID, primary, fmt.Errorf("panic: %v", r))
		}
	}()

	in := &interp{
		ctx:      ctx,
		env:      buildEnv(primary, snaps),
		snaps:    snaps,
		maxSteps: e.MaxSteps,
	}
	if in.maxSteps <= 0 {
		in.maxSteps = defaultMaxSteps
	}

	if rerr := in.run(stmts); rerr != nil {
		if errors.Is(rerr, context.DeadlineExceeded) || errors.Is(rerr, context.Canceled) {
			return nil, evalErr(ErrTimeout, f.ID, primary, rerr)
		}
		return nil, evalErr(ErrRuntime, f.ID, primary, rerr)
	}

	return e.extractSignal(f, primary, snaps, in.env)
}

// program returns the parsed body, reusing the cache while the formula
// revision is unchanged.
func (e *Evaluator) program(f *Formula) ([]Stmt, error) {
	rev := f.UpdatedAt.UnixNano()

	e.mu.Lock()
	cached, ok := e.cache[f.ID]
	e.mu.Unlock()
	if ok && cached.rev == rev {
		return cached.stmts, nil
	}

	stmts, err := Parse(f.Body)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[f.ID] = cachedProgram{rev: rev, stmts: stmts}
	e.mu.Unlock()
	return stmts, nil
}

// buildEnv exposes the primary symbol's fields and indicators as bare names.
// Other declared symbols are reachable via qualified refs (SYM.field).
func buildEnv(primary string, snaps map[string]*market.Snapshot) map[string]Value {
	env := make(map[string]Value)
	snap := snaps[primary]
	env["symbol"] = snap.Symbol
	env["price"] = snap.Price
	env["volume"] = snap.Volume
	env["open"] = snap.Open
	env["high"] = snap.High
	env["low"] = snap.Low
	env["close"] = snap.Close
	for k, v := range snap.Indicators {
		env[k] = v
	}
	return env
}

// extractSignal validates the output binding and converts it into a Signal.
func (e *Evaluator) extractSignal(f *Formula, primary string, snaps map[string]*market.Snapshot, env map[string]Value) (*Signal, error) {
	raw, ok := env[SignalBinding]
	if !ok {
		return nil, evalErr(ErrMissingSignal, f.ID, primary, nil)
	}
	m, ok := raw.(map[string]Value)
	if !ok {
		return nil, evalErr(ErrInvalidShape, f.ID, primary, fmt.Errorf("signal binding is %T, expected a mapping", raw))
	}

	kindRaw, ok := m["signal_type"].(string)
	if !ok {
		return nil, evalErr(ErrInvalidShape, f.ID, primary, errors.New("signal_type missing or not a string"))
	}
	kind := Kind(kindRaw)
	if !ValidKind(kind) {
		return nil, evalErr(ErrUnknownKind, f.ID, primary, fmt.Errorf("signal_type %q", kindRaw))
	}

	confidence := 0.0
	if c, present := m["confidence"]; present {
		cf, ok := c.(float64)
		if !ok {
			return nil, evalErr(ErrInvalidShape, f.ID, primary, errors.New("confidence is not a number"))
		}
		confidence = cf
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	symbol := primary
	if s, present := m["symbol"]; present {
		ss, ok := s.(string)
		if !ok {
			return nil, evalErr(ErrInvalidShape, f.ID, primary, errors.New("symbol is not a string"))
		}
		symbol = ss
	}

	price := 0.0
	if p, present := m["price"]; present {
		pf, ok := p.(float64)
		if !ok {
			return nil, evalErr(ErrInvalidShape, f.ID, primary, errors.New("price is not a number"))
		}
		price = pf
	} else if snap := snaps[symbol]; snap != nil {
		price = snap.Price
	}

	var metadata map[string]any
	for k, v := range m {
		switch k {
		case "signal_type", "confidence", "price", "symbol":
			continue
		}
		if metadata == nil {
			metadata = make(map[string]any)
		}
		metadata[k] = v
	}

	return &Signal{
		ID:         uuid.NewString(),
		UserID:     f.UserID,
		FormulaID:  f.ID,
		Symbol:     symbol,
		Kind:       kind,
		Confidence: confidence,
		Price:      price,
		Timestamp:  time.Now(),
		Metadata:   metadata,
	}, nil
}
