package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"signal-engine/internal/audit"
	"signal-engine/internal/events"
	"signal-engine/internal/execution"
	"signal-engine/internal/formula"
	"signal-engine/internal/indicators"
	"signal-engine/internal/market"
	"signal-engine/internal/notify"
	"signal-engine/internal/risk"
	"signal-engine/internal/store"
	"signal-engine/pkg/db"
)

type stubSupplier struct {
	price float64
}

func (s *stubSupplier) Fetch(_ context.Context, symbols []string) (map[string]*market.Snapshot, error) {
	out := make(map[string]*market.Snapshot, len(symbols))
	for _, sym := range symbols {
		out[sym] = &market.Snapshot{
			Symbol:    sym,
			Price:     s.price,
			Close:     s.price,
			High:      s.price * 1.01,
			Low:       s.price * 0.99,
			Volume:    1000,
			Timestamp: time.Now(),
		}
	}
	return out, nil
}

type stubBroker struct{ calls int }

func (b *stubBroker) Name() string { return "paper" }

func (b *stubBroker) Execute(_ context.Context, o execution.Order) (*execution.Fill, error) {
	b.calls++
	return &execution.Fill{OrderID: "ord-1", Status: "FILLED", FilledQty: o.Qty, AvgPrice: o.Price}, nil
}

func (b *stubBroker) Cancel(context.Context, string) (bool, error) { return false, nil }

func newTestEngine(t *testing.T) (*Engine, *store.Store, *stubBroker) {
	t.Helper()

	database, err := db.NewInMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	auditLog := audit.NewLog(database.DB)
	t.Cleanup(func() { auditLog.Close() })

	broker := &stubBroker{}
	registry := execution.NewRegistry()
	registry.Register(broker)

	bus := events.NewBus()
	st := store.New(database.DB)
	router := execution.NewRouter(registry, execution.NewApprovalStore(database.DB), notify.LogDispatcher{}, auditLog, bus, database.DB)

	eng := &Engine{
		Store:      st,
		Supplier:   &stubSupplier{price: 50000},
		Indicators: indicators.NewEngine(7, 25, 14, 50),
		Evaluator:  formula.NewEvaluator(2 * time.Second),
		Validator:  risk.NewValidator(),
		Router:     router,
		Audit:      auditLog,
		Bus:        bus,
		Workers:    4,
	}
	return eng, st, broker
}

func addPair(t *testing.T, st *store.Store, userID, body string, mode formula.ExecutionMode) *formula.Formula {
	t.Helper()
	f := &formula.Formula{
		UserID:   userID,
		Name:     "f-" + userID,
		Body:     body,
		Symbols:  []string{"BTCUSDT"},
		Mode:     mode,
		IsActive: true,
	}
	if err := st.CreateFormula(f); err != nil {
		t.Fatalf("create formula: %v", err)
	}
	sub := &store.Subscription{
		UserID:         userID,
		FormulaID:      f.ID,
		PortfolioValue: 10000,
		FixedSize:      0.01,
		StopLoss:       risk.StopSpec{Kind: risk.StopPercentage, Value: 2},
		TakeProfit:     risk.StopSpec{Kind: risk.StopPercentage, Value: 4},
		IsActive:       true,
	}
	if err := st.CreateSubscription(sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return f
}

const alwaysLong = "signal = {signal_type: 'ENTRY_LONG', confidence: 0.9}"

func TestCycleIsolatesFailingFormula(t *testing.T) {
	eng, st, _ := newTestEngine(t)

	for i := 0; i < 9; i++ {
		addPair(t, st, fmt.Sprintf("user-%d", i), alwaysLong, formula.ModeAlertOnly)
	}
	// One formula that cannot even parse.
	broken := addPair(t, st, "user-broken", "if price > {", formula.ModeAlertOnly)

	if err := eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	stats := eng.Stats.Snapshot()
	if stats.Attempted != 10 || stats.Succeeded != 9 || stats.Failed != 1 {
		t.Fatalf("stats = %+v, want 10 attempted / 9 succeeded / 1 failed", stats)
	}
	if stats.Signals != 9 {
		t.Fatalf("signals = %d, want 9", stats.Signals)
	}

	entries, err := eng.Audit.Entries(audit.Query{Event: string(events.EventEvaluationFailed)})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(entries) != 1 || entries[0].FormulaID != broken.ID {
		t.Fatalf("failure audit entries = %+v, want exactly one for the broken formula", entries)
	}
}

func TestCycleEvaluatesLowercaseDeclaredSymbols(t *testing.T) {
	eng, st, _ := newTestEngine(t)

	f := &formula.Formula{
		UserID:   "user-1",
		Name:     "lowercase",
		Body:     alwaysLong,
		Symbols:  []string{" btcusdt "},
		Mode:     formula.ModeAlertOnly,
		IsActive: true,
	}
	if err := st.CreateFormula(f); err != nil {
		t.Fatalf("create formula: %v", err)
	}
	sub := &store.Subscription{
		UserID:         "user-1",
		FormulaID:      f.ID,
		PortfolioValue: 10000,
		FixedSize:      0.01,
		StopLoss:       risk.StopSpec{Kind: risk.StopPercentage, Value: 2},
		TakeProfit:     risk.StopSpec{Kind: risk.StopPercentage, Value: 4},
		IsActive:       true,
	}
	if err := st.CreateSubscription(sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	if err := eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	stats := eng.Stats.Snapshot()
	if stats.Attempted != 1 || stats.Succeeded != 1 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want 1 clean success", stats)
	}
	sigs, err := st.RecentSignals("user-1", 10)
	if err != nil {
		t.Fatalf("recent signals: %v", err)
	}
	if len(sigs) != 1 || sigs[0].Symbol != "BTCUSDT" {
		t.Fatalf("signals = %+v, want one for BTCUSDT", sigs)
	}
}

func TestCycleSkipsHoldSignals(t *testing.T) {
	eng, st, broker := newTestEngine(t)
	addPair(t, st, "user-1", "signal = {signal_type: 'HOLD', confidence: 0.0}", formula.ModeAuto)

	if err := eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	stats := eng.Stats.Snapshot()
	if stats.Succeeded != 1 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want 1 clean success", stats)
	}
	if stats.Signals != 0 {
		t.Fatalf("HOLD produced %d signals", stats.Signals)
	}
	if broker.calls != 0 {
		t.Fatal("HOLD must never reach the broker")
	}
}

func TestCycleAutoExecutes(t *testing.T) {
	eng, st, broker := newTestEngine(t)
	addPair(t, st, "user-1", alwaysLong, formula.ModeAuto)

	if err := eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	stats := eng.Stats.Snapshot()
	if stats.AutoExecutions != 1 {
		t.Fatalf("auto executions = %d, want 1", stats.AutoExecutions)
	}
	if broker.calls != 1 {
		t.Fatalf("broker calls = %d, want 1", broker.calls)
	}
	if stats.Cycles != 1 || stats.LastCycle.IsZero() {
		t.Fatalf("cycle bookkeeping missing: %+v", stats)
	}
}

func TestCyclePersistsSignals(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	addPair(t, st, "user-1", alwaysLong, formula.ModeAlertOnly)

	if err := eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	sigs, err := st.RecentSignals("user-1", 10)
	if err != nil {
		t.Fatalf("recent signals: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("got %d persisted signals, want 1", len(sigs))
	}
	if sigs[0].Kind != formula.KindEntryLong || sigs[0].Price != 50000 {
		t.Fatalf("persisted signal mismatch: %+v", sigs[0])
	}
}

func TestEvaluateNow(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	f := addPair(t, st, "user-1", alwaysLong, formula.ModeAlertOnly)

	outcomes, err := eng.EvaluateNow(context.Background(), f.ID, "user-1")
	if err != nil {
		t.Fatalf("evaluate now: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	o := outcomes[0]
	if o.Error != "" || o.Signal == nil || o.Result == nil {
		t.Fatalf("outcome = %+v", o)
	}
	if o.Result.FinalState != execution.StateNotifiedOnly {
		t.Fatalf("final state = %s, want NOTIFIED_ONLY", o.Result.FinalState)
	}

	if _, err := eng.EvaluateNow(context.Background(), "missing", ""); err != store.ErrNotFound {
		t.Fatalf("missing formula error = %v, want ErrNotFound", err)
	}
}

func TestEmptyCycleStillCompletes(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	done, unsub := eng.Bus.Subscribe(events.EventCycleCompleted, 1)
	defer unsub()

	if err := eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	select {
	case <-done:
	default:
		t.Fatal("no cycle completion event published")
	}
	if eng.Stats.Snapshot().Cycles != 1 {
		t.Fatal("cycle not counted")
	}
}

func TestStatisticsReset(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	addPair(t, st, "user-1", alwaysLong, formula.ModeAlertOnly)

	if err := eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if eng.Stats.Snapshot().Attempted == 0 {
		t.Fatal("nothing counted before reset")
	}
	eng.Stats.Reset()
	if got := eng.Stats.Snapshot(); got != (EngineStatistics{}) {
		t.Fatalf("reset left counters: %+v", got)
	}
}
