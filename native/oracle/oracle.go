package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// PriceSource resolves the unit price of a token, expressed as a positive
// integer scaled by the feed's fixed decimal precision. Callers treat a
// zero or negative price as "no price available" and abort.
type PriceSource interface {
	GetPrice(symbol string) (*big.Int, error)
}

// Quote captures a price observation together with the timestamp reported
// by the upstream feed and the feed identifier.
type Quote struct {
	Price     *big.Int
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Feed produces quotes for token symbols. Feeds are registered with the
// aggregator under a priority ordering.
type Feed interface {
	Quote(symbol string) (Quote, error)
}

// ErrNoFreshQuote indicates that no feed produced a quote within the
// configured freshness window.
var ErrNoFreshQuote = errors.New("oracle: no fresh quote available")

// ScalePrice converts a decimal rate string into an integer price scaled by
// 10^decimals, rounding down. Returns an error for non-positive rates so a
// worthless quote can never slip through as a valid price.
func ScalePrice(rate string, decimals uint8) (*big.Int, error) {
	trimmed := strings.TrimSpace(rate)
	if trimmed == "" {
		return nil, fmt.Errorf("oracle: rate required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("oracle: invalid rate %q", rate)
	}
	if rat.Sign() <= 0 {
		return nil, fmt.Errorf("oracle: rate must be positive")
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(scale))
	price := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("oracle: rate %q rounds to zero at %d decimals", rate, decimals)
	}
	return price, nil
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ManualOracle provides an in-memory feed used for tests, bootstrap quotes
// and manual overrides during incident response.
type ManualOracle struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewManualOracle constructs an empty manual oracle instance.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{quotes: make(map[string]Quote)}
}

// Set stores the integer price for the symbol using the provided timestamp.
func (m *ManualOracle) Set(symbol string, price *big.Int, ts time.Time) {
	if m == nil || price == nil {
		return
	}
	key := normaliseSymbol(symbol)
	if key == "" {
		return
	}
	m.mu.Lock()
	m.quotes[key] = Quote{Price: new(big.Int).Set(price), Timestamp: ts, Source: "manual"}
	m.mu.Unlock()
}

// SetDecimal parses a decimal rate and stores it scaled to the supplied
// precision.
func (m *ManualOracle) SetDecimal(symbol, rate string, decimals uint8, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual oracle not configured")
	}
	price, err := ScalePrice(rate, decimals)
	if err != nil {
		return err
	}
	m.Set(symbol, price, ts)
	return nil
}

// Quote retrieves the stored quote for the symbol.
func (m *ManualOracle) Quote(symbol string) (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("manual oracle not configured")
	}
	key := normaliseSymbol(symbol)
	m.mu.RLock()
	stored, ok := m.quotes[key]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("manual oracle: quote for %s not found", symbol)
	}
	return stored.Clone(), nil
}

// GetPrice implements PriceSource directly so the manual oracle can back a
// deployment without an aggregator in front of it.
func (m *ManualOracle) GetPrice(symbol string) (*big.Int, error) {
	quote, err := m.Quote(symbol)
	if err != nil {
		return nil, err
	}
	return quote.Price, nil
}

// Aggregator consults registered feeds in priority order until a fresh,
// positive quote is obtained. It implements PriceSource for the lending
// valuation module.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	feeds    map[string]Feed
	maxAge   time.Duration
	now      func() time.Time
}

// NewAggregator constructs an aggregator with the provided priority and
// freshness window. A zero maxAge disables staleness filtering.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	prio := append([]string{}, priority...)
	return &Aggregator{
		priority: prio,
		feeds:    make(map[string]Feed),
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// SetClock overrides the time source used for freshness checks.
func (a *Aggregator) SetClock(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// Register adds or replaces a feed under the supplied identifier.
// Identifiers are stored in lowercase so lookups remain consistent
// regardless of configuration casing.
func (a *Aggregator) Register(name string, feed Feed) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feeds[trimmed] = feed
	for _, entry := range a.priority {
		if strings.EqualFold(entry, trimmed) {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// GetPrice fetches a price respecting the priority ordering and the
// freshness window. The first fresh positive quote wins; otherwise the last
// feed error (or ErrNoFreshQuote) is returned.
func (a *Aggregator) GetPrice(symbol string) (*big.Int, error) {
	if a == nil {
		return nil, fmt.Errorf("oracle aggregator not configured")
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	now := a.now
	a.mu.RUnlock()

	sym := normaliseSymbol(symbol)
	if sym == "" {
		return nil, fmt.Errorf("oracle: symbol required")
	}

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = now().Add(-maxAge)
	}

	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		feed := a.feeds[strings.ToLower(name)]
		a.mu.RUnlock()
		if feed == nil {
			continue
		}
		quote, err := feed.Quote(sym)
		if err != nil {
			lastErr = err
			continue
		}
		if quote.Price == nil || quote.Price.Sign() <= 0 {
			lastErr = fmt.Errorf("oracle: feed %s returned invalid price", name)
			continue
		}
		if maxAge > 0 && quote.Timestamp.Before(cutoff) {
			lastErr = ErrNoFreshQuote
			continue
		}
		return new(big.Int).Set(quote.Price), nil
	}

	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return nil, lastErr
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFeed fetches price data from a JSON quote endpoint. The endpoint is
// expected to answer GET <endpoint>?symbol=<SYM> with a body of the form
// {"price":"2.50","timestamp":1700000000}.
type HTTPFeed struct {
	client   HTTPDoer
	endpoint string
	decimals uint8
}

// NewHTTPFeed constructs an HTTP feed adapter. When the client is nil
// http.DefaultClient is used.
func NewHTTPFeed(client HTTPDoer, endpoint string, decimals uint8) *HTTPFeed {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFeed{client: client, endpoint: strings.TrimSpace(endpoint), decimals: decimals}
}

func (f *HTTPFeed) Quote(symbol string) (Quote, error) {
	if f == nil || f.endpoint == "" {
		return Quote{}, fmt.Errorf("http feed not configured")
	}
	req, err := http.NewRequest(http.MethodGet, f.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	values := url.Values{}
	values.Set("symbol", normaliseSymbol(symbol))
	req.URL.RawQuery = values.Encode()
	resp, err := f.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("http feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     string `json:"price"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("http feed: decode: %w", err)
	}
	price, err := ScalePrice(payload.Price, f.decimals)
	if err != nil {
		return Quote{}, fmt.Errorf("http feed: %w", err)
	}
	ts := time.Unix(payload.Timestamp, 0)
	if payload.Timestamp <= 0 {
		ts = time.Now().UTC()
	}
	return Quote{Price: price, Timestamp: ts, Source: "http"}, nil
}
