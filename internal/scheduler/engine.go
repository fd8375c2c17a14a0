package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"signal-engine/internal/audit"
	"signal-engine/internal/events"
	"signal-engine/internal/execution"
	"signal-engine/internal/formula"
	"signal-engine/internal/indicators"
	"signal-engine/internal/market"
	"signal-engine/internal/risk"
	"signal-engine/internal/store"
)

// Engine runs the evaluation loop: every interval (and at configured clock
// triggers) it snapshots the active formula/subscription pairs, fetches
// market data once per distinct symbol, and pushes each pair through
// evaluate -> validate -> route on a bounded worker pool. A failing formula
// never takes the cycle down with it.
type Engine struct {
	Store      *store.Store
	Supplier   market.Supplier
	Indicators *indicators.Engine
	Evaluator  *formula.Evaluator
	Validator  *risk.Validator
	Router     *execution.Router
	Audit      *audit.Log
	Bus        *events.Bus

	Interval time.Duration
	Workers  int
	// ClockTriggers fires an extra cycle at fixed wall-clock times
	// ("09:30", "16:00"), typically market open and close.
	ClockTriggers []string

	Stats Statistics

	wg      sync.WaitGroup
	started bool
}

// Outcome is the result of one pair's trip through the pipeline.
type Outcome struct {
	FormulaID string            `json:"formula_id"`
	UserID    string            `json:"user_id"`
	Signal    *formula.Signal   `json:"signal,omitempty"`
	Result    *execution.Result `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Start launches the loop until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	if e.started {
		return
	}
	e.started = true

	interval := e.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		log.Printf("⏱ scheduler started: interval=%s workers=%d triggers=%v", interval, e.workers(), e.ClockTriggers)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		clock := time.NewTicker(time.Minute)
		defer clock.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("scheduler stopped")
				return
			case <-ticker.C:
				e.runCycleLogged(ctx)
			case now := <-clock.C:
				if e.matchesTrigger(now) {
					e.runCycleLogged(ctx)
				}
			}
		}
	}()
}

// Wait blocks until the loop goroutine has exited.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) matchesTrigger(now time.Time) bool {
	hhmm := now.Format("15:04")
	for _, t := range e.ClockTriggers {
		if t == hhmm {
			return true
		}
	}
	return false
}

func (e *Engine) runCycleLogged(ctx context.Context) {
	if err := e.RunCycle(ctx); err != nil {
		log.Printf("scheduler: cycle error: %v", err)
	}
}

// RunCycle executes one full evaluation cycle against the current active
// pairs. The pair snapshot is taken once; formulas changed mid-cycle take
// effect next cycle.
func (e *Engine) RunCycle(ctx context.Context) error {
	started := time.Now()

	pairs, err := e.Store.ActivePairs()
	if err != nil {
		return fmt.Errorf("load active pairs: %w", err)
	}
	if len(pairs) == 0 {
		e.Stats.cycleDone(started)
		e.Bus.Publish(events.EventCycleCompleted, e.Stats.Snapshot())
		return nil
	}

	snaps, err := e.fetchSnapshots(ctx, store.Symbols(pairs))
	if err != nil {
		return err
	}

	e.runPool(ctx, pairs, snaps)

	e.Stats.cycleDone(started)
	stats := e.Stats.Snapshot()
	e.Bus.Publish(events.EventCycleCompleted, stats)
	log.Printf("cycle done: pairs=%d signals=%d failed=%d elapsed=%s",
		len(pairs), stats.Signals, stats.Failed, time.Since(started).Round(time.Millisecond))
	return nil
}

func (e *Engine) fetchSnapshots(ctx context.Context, symbols []string) (map[string]*market.Snapshot, error) {
	snaps, err := e.Supplier.Fetch(ctx, symbols)
	if err != nil && len(snaps) == 0 {
		return nil, fmt.Errorf("fetch snapshots: %w", err)
	}
	if err != nil {
		// Partial data is usable; formulas over missing symbols fail
		// individually with a missing-market-data error.
		log.Printf("scheduler: partial snapshot fetch: %v", err)
	}
	if e.Indicators != nil {
		e.Indicators.Enrich(snaps)
	}
	return snaps, nil
}

func (e *Engine) runPool(ctx context.Context, pairs []*store.Pair, snaps map[string]*market.Snapshot) {
	jobs := make(chan *store.Pair)
	var wg sync.WaitGroup
	for i := 0; i < e.workers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				e.evaluatePair(ctx, p, snaps)
			}
		}()
	}
	for _, p := range pairs {
		select {
		case jobs <- p:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		}
	}
	close(jobs)
	wg.Wait()
}

func (e *Engine) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return runtime.NumCPU()
}

// evaluatePair runs one pair through the pipeline. Failures are absorbed
// here: counted, audited, published, never propagated.
func (e *Engine) evaluatePair(ctx context.Context, p *store.Pair, snaps map[string]*market.Snapshot) *Outcome {
	e.Stats.attempted.Add(1)
	out := &Outcome{FormulaID: p.Formula.ID, UserID: p.Subscription.UserID}

	sig, err := e.Evaluator.Evaluate(ctx, p.Formula, snaps)
	if err != nil {
		e.Stats.failed.Add(1)
		out.Error = err.Error()

		var evalErr *formula.EvalError
		reason := "evaluation failed"
		if errors.As(err, &evalErr) {
			reason = evalErr.Reason()
		}
		log.Printf("formula %s (%s): %s: %v", p.Formula.Name, p.Formula.ID, reason, err)
		e.Audit.Record(audit.Entry{
			Actor:     audit.ActorSystem,
			Event:     string(events.EventEvaluationFailed),
			UserID:    p.Subscription.UserID,
			FormulaID: p.Formula.ID,
			Payload:   map[string]any{"reason": reason, "error": err.Error()},
		})
		e.Bus.Publish(events.EventEvaluationFailed, out)
		return out
	}

	e.Stats.succeeded.Add(1)
	if sig.Kind == formula.KindHold {
		// HOLD is a valid evaluation with nothing to do.
		return out
	}

	sig.UserID = p.Subscription.UserID
	out.Signal = sig
	e.Stats.signals.Add(1)
	if err := e.Store.SaveSignal(sig); err != nil {
		log.Printf("scheduler: persist signal %s: %v", sig.ID, err)
	}
	e.Bus.Publish(events.EventSignalGenerated, sig)

	trade := p.Subscription.DeriveTrade(sig)
	verdict := e.Validator.ValidateTrade(trade, p.Policy)
	mode := p.Subscription.EffectiveMode(p.Formula)

	res := e.Router.Route(ctx, execution.Request{
		Signal:         sig,
		Mode:           mode,
		Broker:         p.Subscription.Broker,
		Trade:          trade,
		Verdict:        verdict,
		NotifyOnReject: p.Subscription.NotifyOnReject,
	})
	out.Result = res

	if res.NotificationSent {
		e.Stats.notifications.Add(1)
	}
	if mode == formula.ModeAuto && res.FinalState == execution.StateExecuted {
		e.Stats.autoExecutions.Add(1)
	}
	return out
}

// EvaluateNow runs the pipeline for one formula outside the schedule, for
// every active subscription the user holds on it. Used by the on-demand
// API endpoint.
func (e *Engine) EvaluateNow(ctx context.Context, formulaID, userID string) ([]*Outcome, error) {
	pairs, err := e.Store.ActivePairs()
	if err != nil {
		return nil, err
	}
	var matched []*store.Pair
	for _, p := range pairs {
		if p.Formula.ID != formulaID {
			continue
		}
		if userID != "" && p.Subscription.UserID != userID {
			continue
		}
		matched = append(matched, p)
	}
	if len(matched) == 0 {
		return nil, store.ErrNotFound
	}

	snaps, err := e.fetchSnapshots(ctx, store.Symbols(matched))
	if err != nil {
		return nil, err
	}

	outcomes := make([]*Outcome, 0, len(matched))
	for _, p := range matched {
		outcomes = append(outcomes, e.evaluatePair(ctx, p, snaps))
	}
	return outcomes, nil
}
