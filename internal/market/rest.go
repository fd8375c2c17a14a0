package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// RESTSupplier fetches snapshots from an HTTP quote endpoint. Failures are
// tolerated per-symbol: a symbol that cannot be fetched is simply absent
// from the returned map.
type RESTSupplier struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
}

// NewRESTSupplier builds a supplier against baseURL. The limiter caps
// upstream request rate across all evaluation cycles.
func NewRESTSupplier(baseURL, apiKey string, reqPerSec float64) *RESTSupplier {
	if reqPerSec <= 0 {
		reqPerSec = 10
	}
	return &RESTSupplier{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Limiter:    rate.NewLimiter(rate.Limit(reqPerSec), int(reqPerSec)*2),
	}
}

type quoteResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Time   int64   `json:"time"` // unix millis
}

func (s *RESTSupplier) Fetch(ctx context.Context, symbols []string) (map[string]*Snapshot, error) {
	out := make(map[string]*Snapshot, len(symbols))
	var lastErr error
	for _, sym := range symbols {
		snap, err := s.fetchOne(ctx, sym)
		if err != nil {
			log.Printf("market supplier: fetch %s error: %v", sym, err)
			lastErr = err
			continue
		}
		out[sym] = snap
	}
	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("fetch snapshots: %w", lastErr)
	}
	return out, nil
}

func (s *RESTSupplier) fetchOne(ctx context.Context, symbol string) (*Snapshot, error) {
	if err := s.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	u := fmt.Sprintf("%s/v1/quote?%s", s.BaseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if s.APIKey != "" {
		req.Header.Set("X-API-Key", s.APIKey)
	}

	res, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote %s status %d", symbol, res.StatusCode)
	}

	var q quoteResponse
	if err := json.NewDecoder(res.Body).Decode(&q); err != nil {
		return nil, err
	}

	ts := time.Now()
	if q.Time > 0 {
		ts = time.UnixMilli(q.Time)
	}
	price := q.Price
	if price == 0 {
		price = q.Close
	}
	return &Snapshot{
		Symbol:    symbol,
		Price:     price,
		Volume:    q.Volume,
		Open:      q.Open,
		High:      q.High,
		Low:       q.Low,
		Close:     q.Close,
		Timestamp: ts,
	}, nil
}
