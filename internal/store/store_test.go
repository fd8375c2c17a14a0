package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"signal-engine/internal/formula"
	"signal-engine/internal/risk"
	"signal-engine/pkg/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.NewInMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return New(database.DB)
}

func sampleFormula(userID string) *formula.Formula {
	return &formula.Formula{
		UserID:   userID,
		Name:     "rsi dip",
		Body:     "signal = {signal_type: 'HOLD', confidence: 0.0}\nif rsi14 < 30 {\n  signal = {signal_type: 'ENTRY_LONG', confidence: 0.8}\n}",
		Symbols:  []string{"BTCUSDT"},
		Mode:     formula.ModeAlertOnly,
		IsActive: true,
	}
}

func TestFormulaCRUD(t *testing.T) {
	s := newTestStore(t)

	f := sampleFormula("user-1")
	if err := s.CreateFormula(f); err != nil {
		t.Fatalf("create: %v", err)
	}
	if f.ID == "" {
		t.Fatal("create did not assign an id")
	}

	got, err := s.GetFormula(f.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "rsi dip" || len(got.Symbols) != 1 || got.Symbols[0] != "BTCUSDT" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	got.Mode = formula.ModeAuto
	got.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	if err := s.UpdateFormula(got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, err := s.GetFormula(f.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if again.Mode != formula.ModeAuto || len(again.Symbols) != 2 {
		t.Fatalf("update not persisted: %+v", again)
	}
	if !again.UpdatedAt.After(again.CreatedAt) {
		t.Fatal("updated_at not bumped")
	}

	if err := s.DeleteFormula(f.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetFormula(f.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get deleted = %v, want ErrNotFound", err)
	}
	if err := s.DeleteFormula(f.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete = %v, want ErrNotFound", err)
	}
}

func TestActivePairsSnapshot(t *testing.T) {
	s := newTestStore(t)

	active := sampleFormula("user-1")
	if err := s.CreateFormula(active); err != nil {
		t.Fatalf("create: %v", err)
	}
	inactive := sampleFormula("user-1")
	inactive.IsActive = false
	if err := s.CreateFormula(inactive); err != nil {
		t.Fatalf("create: %v", err)
	}

	policyID, err := s.SavePolicy("", "tight", risk.Policy{
		MaxPortfolioRisk: 0.01, MaxPositionSize: 0.5, MaxRiskPerTrade: 0.005,
		MaxDrawdown: 0.03, MinRiskReward: 2, MaxLeverage: 1,
	})
	if err != nil {
		t.Fatalf("save policy: %v", err)
	}

	for _, sub := range []*Subscription{
		{UserID: "user-1", FormulaID: active.ID, PolicyID: policyID, PortfolioValue: 10000, PositionFraction: 0.1, IsActive: true},
		{UserID: "user-2", FormulaID: active.ID, PortfolioValue: 5000, FixedSize: 0.05, IsActive: true},
		{UserID: "user-3", FormulaID: active.ID, PortfolioValue: 5000, IsActive: false},
		{UserID: "user-4", FormulaID: inactive.ID, PortfolioValue: 5000, IsActive: true},
	} {
		if err := s.CreateSubscription(sub); err != nil {
			t.Fatalf("create subscription: %v", err)
		}
	}

	pairs, err := s.ActivePairs()
	if err != nil {
		t.Fatalf("active pairs: %v", err)
	}
	// Inactive subscription and inactive formula both drop out.
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2", len(pairs))
	}
	if pairs[0].Policy.MinRiskReward != 2 {
		t.Fatalf("explicit policy not resolved: %+v", pairs[0].Policy)
	}
	if pairs[1].Policy != risk.DefaultPolicy() {
		t.Fatalf("missing policy should fall back to default: %+v", pairs[1].Policy)
	}
}

func TestFormulaSymbolsNormalizedOnWrite(t *testing.T) {
	s := newTestStore(t)

	f := sampleFormula("user-1")
	f.Symbols = []string{" btcusdt ", "ETHUSDT", "ethusdt", ""}
	if err := s.CreateFormula(f); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetFormula(f.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := []string{"BTCUSDT", "ETHUSDT"}
	if len(got.Symbols) != len(want) || got.Symbols[0] != want[0] || got.Symbols[1] != want[1] {
		t.Fatalf("stored symbols = %v, want %v", got.Symbols, want)
	}

	got.Symbols = []string{"solusdt"}
	if err := s.UpdateFormula(got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, err := s.GetFormula(f.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if len(again.Symbols) != 1 || again.Symbols[0] != "SOLUSDT" {
		t.Fatalf("updated symbols = %v, want [SOLUSDT]", again.Symbols)
	}
}

func TestSymbolsDeduplicated(t *testing.T) {
	f1 := &formula.Formula{Symbols: []string{"BTCUSDT", "ETHUSDT"}}
	f2 := &formula.Formula{Symbols: []string{"ethusdt", " SOLUSDT "}}
	pairs := []*Pair{{Formula: f1}, {Formula: f2}}

	got := Symbols(pairs)
	want := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	if len(got) != len(want) {
		t.Fatalf("symbols = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("symbols = %v, want %v", got, want)
		}
	}
}

func TestDeriveTrade(t *testing.T) {
	sub := &Subscription{
		PortfolioValue:   10000,
		PositionFraction: 0.25,
		Leverage:         2,
		StopLoss:         risk.StopSpec{Kind: risk.StopPercentage, Value: 2},
		TakeProfit:       risk.StopSpec{Kind: risk.StopPercentage, Value: 4},
	}
	sig := &formula.Signal{Symbol: "BTCUSDT", Kind: formula.KindEntryLong, Price: 50000}

	trade := sub.DeriveTrade(sig)
	if trade.PositionSize != 0.05 {
		t.Fatalf("fractional size = %v, want 0.05", trade.PositionSize)
	}
	if trade.Side != "LONG" || trade.Leverage != 2 {
		t.Fatalf("unexpected trade: %+v", trade)
	}

	sub.FixedSize = 0.2
	if got := sub.DeriveTrade(sig).PositionSize; got != 0.2 {
		t.Fatalf("fixed size = %v, want 0.2", got)
	}

	short := &formula.Signal{Symbol: "BTCUSDT", Kind: formula.KindEntryShort, Price: 50000}
	if got := sub.DeriveTrade(short).Side; got != "SHORT" {
		t.Fatalf("short side = %q", got)
	}
}

func TestSeedFileUpsert(t *testing.T) {
	s := newTestStore(t)

	seedYAML := `
policies:
  - id: conservative
    name: Conservative
    max_portfolio_risk: 0.02
    max_position_size: 0.1
    max_risk_per_trade: 0.01
    max_drawdown: 0.05
    min_risk_reward: 1.0
    max_leverage: 1.0
formulas:
  - id: f-breakout
    user_id: demo
    name: Breakout
    body: |
      signal = {signal_type: 'HOLD', confidence: 0.0}
      if price > high {
        signal = {signal_type: 'ENTRY_LONG', confidence: 0.7}
      }
    symbols: [BTCUSDT]
    mode: MANUAL
    is_active: true
subscriptions:
  - id: sub-demo
    user_id: demo
    formula_id: f-breakout
    policy_id: conservative
    portfolio_value: 10000
    position_fraction: 0.1
    stop_kind: PERCENTAGE
    stop_value: 2
    target_kind: PERCENTAGE
    target_value: 4
    notify_on_reject: true
    is_active: true
`
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	seed, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if err := s.ApplySeed(seed); err != nil {
		t.Fatalf("apply seed: %v", err)
	}
	// Re-applying must be idempotent.
	if err := s.ApplySeed(seed); err != nil {
		t.Fatalf("re-apply seed: %v", err)
	}

	pairs, err := s.ActivePairs()
	if err != nil {
		t.Fatalf("active pairs: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1", len(pairs))
	}
	p := pairs[0]
	if p.Formula.Mode != formula.ModeManual || p.Subscription.Broker != "paper" {
		t.Fatalf("seeded pair mismatch: formula=%+v sub=%+v", p.Formula, p.Subscription)
	}
	if p.Policy.MaxPositionSize != 0.1 {
		t.Fatalf("seeded policy not resolved: %+v", p.Policy)
	}
}

func TestSignalHistory(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		sig := &formula.Signal{
			UserID:     "user-1",
			FormulaID:  "f-1",
			Symbol:     "BTCUSDT",
			Kind:       formula.KindEntryLong,
			Confidence: 0.9,
			Price:      50000,
			Timestamp:  time.Now().Add(time.Duration(i) * time.Second),
			Metadata:   map[string]any{"note": "breakout"},
		}
		if err := s.SaveSignal(sig); err != nil {
			t.Fatalf("save signal: %v", err)
		}
	}

	got, err := s.RecentSignals("user-1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d signals, want 2", len(got))
	}
	if got[0].Metadata["note"] != "breakout" {
		t.Fatalf("metadata lost: %+v", got[0])
	}
}
