package events

import "testing"

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()

	ch, unsub := bus.Subscribe(EventSignalGenerated, 4)
	defer unsub()

	bus.Publish(EventSignalGenerated, "payload")
	select {
	case got := <-ch:
		if got != "payload" {
			t.Fatalf("got %v, want payload", got)
		}
	default:
		t.Fatal("no message delivered")
	}

	// Other topics do not leak in.
	bus.Publish(EventTradeExecuted, "other")
	select {
	case got := <-ch:
		t.Fatalf("unexpected cross-topic delivery: %v", got)
	default:
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := NewBus()

	ch, unsub := bus.Subscribe(EventSnapshot, 1)
	defer unsub()

	// Second publish must drop, not deadlock.
	bus.Publish(EventSnapshot, 1)
	bus.Publish(EventSnapshot, 2)

	if got := <-ch; got != 1 {
		t.Fatalf("got %v, want first message", got)
	}
	select {
	case got := <-ch:
		t.Fatalf("dropped message was delivered: %v", got)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()

	ch, unsub := bus.Subscribe(EventCycleCompleted, 1)
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	bus.Publish(EventCycleCompleted, "late")
}
