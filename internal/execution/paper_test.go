package execution

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestPaperBrokerBuySell(t *testing.T) {
	b := NewPaperBroker(10000)
	b.SlippageBps = 0 // deterministic fills for arithmetic checks

	fill, err := b.Execute(context.Background(), Order{
		TradeID: "t1", Symbol: "BTCUSDT", Side: "BUY", Qty: 0.1, Price: 50000,
	})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if fill.Status != "FILLED" || fill.FilledQty != 0.1 {
		t.Fatalf("unexpected fill: %+v", fill)
	}
	if got := b.Position("BTCUSDT"); got != 0.1 {
		t.Fatalf("position = %v, want 0.1", got)
	}

	// 10000 - 5000 notional - 2 fee (4 bps).
	if got := b.Balance(); math.Abs(got-4998) > 1e-9 {
		t.Fatalf("balance after buy = %v, want 4998", got)
	}

	if _, err := b.Execute(context.Background(), Order{
		TradeID: "t2", Symbol: "BTCUSDT", Side: "SELL", Qty: 0.1, Price: 50000,
	}); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if got := b.Position("BTCUSDT"); got != 0 {
		t.Fatalf("position after round trip = %v, want 0", got)
	}
	// Round trip costs exactly two fees.
	if got := b.Balance(); math.Abs(got-9996) > 1e-9 {
		t.Fatalf("balance after round trip = %v, want 9996", got)
	}
}

func TestPaperBrokerInsufficientBalance(t *testing.T) {
	b := NewPaperBroker(100)
	b.SlippageBps = 0

	_, err := b.Execute(context.Background(), Order{
		TradeID: "t1", Symbol: "BTCUSDT", Side: "BUY", Qty: 1, Price: 50000,
	})
	if !errors.Is(err, ErrExecutor) {
		t.Fatalf("error = %v, want ErrExecutor", err)
	}
	if got := b.Balance(); got != 100 {
		t.Fatalf("failed order mutated balance: %v", got)
	}
}

func TestPaperBrokerRejectsBadOrders(t *testing.T) {
	b := NewPaperBroker(10000)

	if _, err := b.Execute(context.Background(), Order{Symbol: "BTCUSDT", Side: "BUY", Qty: 0, Price: 50000}); !errors.Is(err, ErrExecutor) {
		t.Fatalf("zero qty error = %v, want ErrExecutor", err)
	}
	if _, err := b.Execute(context.Background(), Order{Symbol: "BTCUSDT", Side: "BUY", Qty: 1, Price: 0}); !errors.Is(err, ErrExecutor) {
		t.Fatalf("zero price error = %v, want ErrExecutor", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Execute(ctx, Order{Symbol: "BTCUSDT", Side: "BUY", Qty: 1, Price: 100}); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled ctx error = %v, want context.Canceled", err)
	}
}
