package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"signal-engine/internal/audit"
	"signal-engine/internal/events"
	"signal-engine/internal/formula"
	"signal-engine/internal/notify"
	"signal-engine/internal/risk"
	"signal-engine/pkg/db"
)

type fakeBroker struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (f *fakeBroker) Name() string { return "paper" }

func (f *fakeBroker) Execute(_ context.Context, o Order) (*Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	return &Fill{
		OrderID:   fmt.Sprintf("ord-%d", f.calls),
		Status:    "FILLED",
		FilledQty: o.Qty,
		AvgPrice:  o.Price,
	}, nil
}

func (f *fakeBroker) Cancel(context.Context, string) (bool, error) { return false, nil }

func (f *fakeBroker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type captureNotifier struct {
	mu       sync.Mutex
	messages []notify.Type
}

func (c *captureNotifier) Notify(_ context.Context, _ string, typ notify.Type, _ any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, typ)
	return true
}

func (c *captureNotifier) sent() []notify.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.Type(nil), c.messages...)
}

type routerFixture struct {
	router   *Router
	broker   *fakeBroker
	notifier *captureNotifier
	audit    *audit.Log
	store    *ApprovalStore
}

func newRouterFixture(t *testing.T) *routerFixture {
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

	broker := &fakeBroker{}
	registry := NewRegistry()
	registry.Register(broker)

	notifier := &captureNotifier{}
	store := NewApprovalStore(database.DB)
	router := NewRouter(registry, store, notifier, auditLog, events.NewBus(), database.DB)

	return &routerFixture{
		router:   router,
		broker:   broker,
		notifier: notifier,
		audit:    auditLog,
		store:    store,
	}
}

func testRequest(mode formula.ExecutionMode, status risk.Status) Request {
	return Request{
		Signal: &formula.Signal{
			ID:        "sig-1",
			UserID:    "user-1",
			FormulaID: "f-1",
			Symbol:    "BTCUSDT",
			Kind:      formula.KindEntryLong,
			Price:     50000,
			Timestamp: time.Now(),
		},
		Mode:   mode,
		Broker: "paper",
		Trade: risk.Trade{
			Symbol:         "BTCUSDT",
			Side:           "LONG",
			EntryPrice:     50000,
			PositionSize:   0.1,
			PortfolioValue: 10000,
			Leverage:       1,
		},
		Verdict: risk.Result{Status: status},
	}
}

func TestRouteAutoExecutes(t *testing.T) {
	fx := newRouterFixture(t)

	res := fx.router.Route(context.Background(), testRequest(formula.ModeAuto, risk.StatusApproved))
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.FinalState != StateExecuted {
		t.Fatalf("final state = %s, want EXECUTED", res.FinalState)
	}
	if fx.broker.callCount() != 1 {
		t.Fatalf("broker called %d times, want 1", fx.broker.callCount())
	}
	if res.OrderID == "" || res.Quantity != 0.1 {
		t.Fatalf("unexpected fill: order_id=%q qty=%v", res.OrderID, res.Quantity)
	}
}

func TestRouteAutoWithWarningStillExecutes(t *testing.T) {
	fx := newRouterFixture(t)

	req := testRequest(formula.ModeAuto, risk.StatusWarning)
	req.Verdict.Metrics.Warnings = []string{"Risk:reward ratio 0.50 below minimum 1.00"}

	res := fx.router.Route(context.Background(), req)
	if !res.Success || res.FinalState != StateExecuted {
		t.Fatalf("warning trade should execute, got state=%s error=%q", res.FinalState, res.Error)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings not carried into result: %v", res.Warnings)
	}
}

func TestRouteRejectedNeverExecutes(t *testing.T) {
	fx := newRouterFixture(t)

	req := testRequest(formula.ModeAuto, risk.StatusRejected)
	req.NotifyOnReject = true
	req.Verdict.Metrics.Violations = []string{"Position size 0.5000 exceeds maximum 0.1000"}

	res := fx.router.Route(context.Background(), req)
	if res.Success {
		t.Fatal("rejected trade must not succeed")
	}
	if res.FinalState != StateRejected {
		t.Fatalf("final state = %s, want REJECTED", res.FinalState)
	}
	if fx.broker.callCount() != 0 {
		t.Fatalf("broker called %d times for a rejected trade", fx.broker.callCount())
	}
	if !res.NotificationSent {
		t.Fatal("notify_on_reject subscription should get a notification")
	}
}

func TestRouteManualCreatesSinglePendingApproval(t *testing.T) {
	fx := newRouterFixture(t)

	res := fx.router.Route(context.Background(), testRequest(formula.ModeManual, risk.StatusApproved))
	if !res.RequiresApproval || res.FinalState != StatePendingApproval {
		t.Fatalf("manual route: requires=%v state=%s", res.RequiresApproval, res.FinalState)
	}
	if fx.broker.callCount() != 0 {
		t.Fatal("manual mode must never call the broker directly")
	}

	pending, err := fx.store.ListByUser("user-1", ApprovalPending)
	if err != nil {
		t.Fatalf("list approvals: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending approvals, want exactly 1", len(pending))
	}
	if pending[0].TradeID != res.TradeID {
		t.Fatalf("approval trade id %s != result trade id %s", pending[0].TradeID, res.TradeID)
	}

	var gotRequest bool
	for _, typ := range fx.notifier.sent() {
		if typ == notify.TypeApprovalRequest {
			gotRequest = true
		}
	}
	if !gotRequest {
		t.Fatal("no approval request notification sent")
	}
}

func TestRouteAlertOnlyNotifiesWithoutTrading(t *testing.T) {
	fx := newRouterFixture(t)

	res := fx.router.Route(context.Background(), testRequest(formula.ModeAlertOnly, risk.StatusApproved))
	if !res.Success || res.FinalState != StateNotifiedOnly {
		t.Fatalf("alert route: success=%v state=%s", res.Success, res.FinalState)
	}
	if fx.broker.callCount() != 0 {
		t.Fatal("alert-only mode must never call the broker")
	}
	pending, err := fx.store.ListByUser("user-1", ApprovalPending)
	if err != nil {
		t.Fatalf("list approvals: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("alert-only created %d approvals", len(pending))
	}
}

func TestApproveExecutesPendingTrade(t *testing.T) {
	fx := newRouterFixture(t)

	routed := fx.router.Route(context.Background(), testRequest(formula.ModeManual, risk.StatusApproved))

	res, err := fx.router.Approve(context.Background(), routed.TradeID, "user-1", risk.Adjustments{})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !res.Success || res.FinalState != StateExecuted {
		t.Fatalf("approved trade: success=%v state=%s error=%q", res.Success, res.FinalState, res.Error)
	}
	if fx.broker.callCount() != 1 {
		t.Fatalf("broker called %d times, want 1", fx.broker.callCount())
	}

	pa, err := fx.store.Get(routed.TradeID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if pa.Status != ApprovalExecuted {
		t.Fatalf("approval status = %s, want EXECUTED", pa.Status)
	}
	if pa.ExecutedAt == nil {
		t.Fatal("executed_at not stamped")
	}
}

func TestApproveWithAdjustedSize(t *testing.T) {
	fx := newRouterFixture(t)

	routed := fx.router.Route(context.Background(), testRequest(formula.ModeManual, risk.StatusApproved))

	size := 0.05
	res, err := fx.router.Approve(context.Background(), routed.TradeID, "user-1", risk.Adjustments{PositionSize: &size})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Quantity != 0.05 {
		t.Fatalf("executed qty = %v, want adjusted 0.05", res.Quantity)
	}
}

func TestRejectNeverExecutes(t *testing.T) {
	fx := newRouterFixture(t)

	routed := fx.router.Route(context.Background(), testRequest(formula.ModeManual, risk.StatusApproved))

	pa, err := fx.router.Reject(context.Background(), routed.TradeID, "user-1", "too risky today")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if pa.Status != ApprovalRejected {
		t.Fatalf("approval status = %s, want REJECTED", pa.Status)
	}
	if fx.broker.callCount() != 0 {
		t.Fatal("rejected approval must not reach the broker")
	}

	// A second decision on the same trade id must lose the race.
	if _, err := fx.router.Approve(context.Background(), routed.TradeID, "user-1", risk.Adjustments{}); !errors.Is(err, ErrNotPending) {
		t.Fatalf("second decision error = %v, want ErrNotPending", err)
	}
}

func TestBrokerFailureIsTerminalFailed(t *testing.T) {
	fx := newRouterFixture(t)
	fx.broker.fail = fmt.Errorf("%w: insufficient balance", ErrExecutor)

	res := fx.router.Route(context.Background(), testRequest(formula.ModeAuto, risk.StatusApproved))
	if res.Success {
		t.Fatal("failed execution reported success")
	}
	if res.FinalState != StateFailed {
		t.Fatalf("final state = %s, want FAILED", res.FinalState)
	}
	if !strings.Contains(res.Error, "insufficient balance") {
		t.Fatalf("error %q does not carry broker reason", res.Error)
	}
}

func TestRouteWritesAuditTrail(t *testing.T) {
	fx := newRouterFixture(t)

	res := fx.router.Route(context.Background(), testRequest(formula.ModeAuto, risk.StatusApproved))

	entries, err := fx.audit.Entries(audit.Query{UserID: "user-1"})
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}

	// RECEIVED->VALIDATED, VALIDATED->AUTO_EXECUTING, AUTO_EXECUTING->EXECUTED.
	var transitions []string
	for _, e := range entries {
		if e.TradeID == res.TradeID {
			transitions = append(transitions, e.FromState+"->"+e.ToState)
		}
	}
	if len(transitions) != 3 {
		t.Fatalf("got %d audit transitions, want 3: %v", len(transitions), transitions)
	}
	for _, want := range []string{"RECEIVED->VALIDATED", "AUTO_EXECUTING->EXECUTED"} {
		found := false
		for _, tr := range transitions {
			if tr == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("missing audit transition %s in %v", want, transitions)
		}
	}
}

func TestExpireStaleApprovals(t *testing.T) {
	fx := newRouterFixture(t)

	routed := fx.router.Route(context.Background(), testRequest(formula.ModeManual, risk.StatusApproved))

	// Nothing is old enough yet.
	n, err := fx.store.ExpireStale(time.Hour)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 0 {
		t.Fatalf("expired %d fresh approvals", n)
	}

	n, err = fx.store.ExpireStale(-time.Second)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d approvals, want 1", n)
	}
	pa, err := fx.store.Get(routed.TradeID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if pa.Status != ApprovalRejected || pa.Reason != "expired" {
		t.Fatalf("stale approval not rejected: status=%s reason=%q", pa.Status, pa.Reason)
	}
}
