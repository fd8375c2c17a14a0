package market

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"signal-engine/internal/events"
	"signal-engine/pkg/cache"
)

// StreamFeed keeps a last-tick cache warm from a public websocket stream and
// republishes ticks on the event bus. A supplier layered on top of it can
// answer Fetch calls without an upstream round trip per cycle.
type StreamFeed struct {
	URL     string
	Symbols []string
	Bus     *events.Bus
	dialer  *websocket.Dialer
	last    *cache.Sharded[*Snapshot]
}

func NewStreamFeed(wsURL string, symbols []string, bus *events.Bus) *StreamFeed {
	return &StreamFeed{
		URL:     wsURL,
		Symbols: symbols,
		Bus:     bus,
		dialer:  websocket.DefaultDialer,
		last:    cache.NewSharded[*Snapshot](),
	}
}

type tickMessage struct {
	Symbol string  `json:"s"`
	Price  float64 `json:"p"`
	Volume float64 `json:"v"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Time   int64   `json:"t"`
}

// Start dials the stream and reads until ctx is cancelled, reconnecting with
// backoff on read failures.
func (f *StreamFeed) Start(ctx context.Context) {
	if f.URL == "" {
		log.Println("stream feed: no URL configured; skipping")
		return
	}
	go func() {
		backoff := time.Second
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			read, err := f.run(ctx)
			if read {
				// The connection was healthy; a later flap restarts
				// the backoff from the bottom.
				backoff = time.Second
			}
			if err != nil {
				log.Printf("stream feed: %v (reconnecting in %s)", err, backoff)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}()
}

// run reads one connection until it drops, reporting whether at least one
// tick made it into the cache.
func (f *StreamFeed) run(ctx context.Context) (bool, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if len(f.Symbols) > 0 {
		sub := map[string]any{"method": "SUBSCRIBE", "params": f.Symbols}
		if err := conn.WriteJSON(sub); err != nil {
			return false, err
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		case <-done:
		}
	}()

	read := false
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return read, nil
			}
			return read, err
		}

		var tick tickMessage
		if err := json.Unmarshal(msg, &tick); err != nil || tick.Symbol == "" {
			continue
		}
		snap := &Snapshot{
			Symbol:    tick.Symbol,
			Price:     tick.Price,
			Volume:    tick.Volume,
			Open:      tick.Open,
			High:      tick.High,
			Low:       tick.Low,
			Close:     tick.Close,
			Timestamp: time.UnixMilli(tick.Time),
		}
		if snap.Price == 0 {
			snap.Price = tick.Close
		}

		f.last.Set(tick.Symbol, snap)
		read = true

		if f.Bus != nil {
			f.Bus.Publish(events.EventSnapshot, *snap)
		}
	}
}

// Last returns the most recent snapshot for symbol, if any.
func (f *StreamFeed) Last(symbol string) (*Snapshot, bool) {
	s, ok := f.last.Get(symbol)
	return s, ok
}

// CachedSupplier answers Fetch from the stream cache, falling back to the
// wrapped supplier for symbols that have not ticked yet.
type CachedSupplier struct {
	Feed     *StreamFeed
	Fallback Supplier
	MaxAge   time.Duration
}

func (c *CachedSupplier) Fetch(ctx context.Context, symbols []string) (map[string]*Snapshot, error) {
	out := make(map[string]*Snapshot, len(symbols))
	var missing []string
	maxAge := c.MaxAge
	if maxAge == 0 {
		maxAge = time.Minute
	}

	for _, sym := range symbols {
		if snap, ok := c.Feed.Last(sym); ok && time.Since(snap.Timestamp) <= maxAge {
			out[sym] = snap
			continue
		}
		missing = append(missing, sym)
	}

	if len(missing) > 0 && c.Fallback != nil {
		rest, err := c.Fallback.Fetch(ctx, missing)
		if err != nil && len(out) == 0 {
			return nil, err
		}
		for sym, snap := range rest {
			out[sym] = snap
		}
	}
	return out, nil
}
