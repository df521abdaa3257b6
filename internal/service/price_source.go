package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/evetabi/tradesim/internal/config"
	"github.com/evetabi/tradesim/internal/domain"
	"github.com/shopspring/decimal"
)

// priceDecimals is the precision of synthetic walk prices.
const priceDecimals = 4

// ──────────────────────────────────────────────────────────────────────────────
// QuoteFeed: external reference prices
// ──────────────────────────────────────────────────────────────────────────────

// QuoteFeed fetches the latest price of a reference symbol.
type QuoteFeed interface {
	Fetch(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// HTTPQuoteFeed reads spot prices from a Binance-compatible REST API.
type HTTPQuoteFeed struct {
	client  *http.Client
	baseURL string
}

// NewHTTPQuoteFeed builds a feed against baseURL with the given timeout.
func NewHTTPQuoteFeed(baseURL string, timeout time.Duration) *HTTPQuoteFeed {
	return &HTTPQuoteFeed{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Fetch returns the spot price of symbol.
//
//	GET /api/v3/ticker/price?symbol=PAXGUSDT
//	{"symbol":"PAXGUSDT","price":"2650.12"}
func (f *HTTPQuoteFeed) Fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	u := f.baseURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(strings.ToUpper(symbol))
	body, err := f.doGet(ctx, u)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote feed %s: %w", symbol, err)
	}

	var resp struct {
		Price string `json:"price"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("quote feed %s parse: %w", symbol, err)
	}
	if resp.Price == "" {
		return decimal.Zero, fmt.Errorf("quote feed %s: empty price field", symbol)
	}
	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote feed %s decimal: %w", symbol, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("quote feed %s: non-positive price %s", symbol, price)
	}
	return price, nil
}

// doGet performs an HTTP GET and returns the body bytes, or an error for any
// non-200 status code.
func (f *HTTPQuoteFeed) doGet(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "tradesim-engine/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// PriceSource
// ──────────────────────────────────────────────────────────────────────────────

type cachedQuote struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// QuoteSnapshot is one cached price as reported to operators.
type QuoteSnapshot struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	UpdatedAt  time.Time       `json:"updated_at"`
	AgeSeconds float64         `json:"age_seconds"`
	Synthetic  bool            `json:"synthetic"`
}

// PriceSource supplies mark prices. Synthetic symbols follow a bounded random
// walk; every other symbol is a cached proxy of the QuoteFeed. PriceFor never
// fails: on any problem it serves the best value it has.
type PriceSource struct {
	cfg    config.PriceConfig
	feed   QuoteFeed
	store  domain.QuoteStore
	logger *slog.Logger

	random func() float64
	now    func() time.Time

	mu     sync.RWMutex
	quotes map[string]cachedQuote // reference symbols
	walks  map[string]cachedQuote // last synthetic output, for Snapshot
}

// NewPriceSource constructs a PriceSource from the given config.
func NewPriceSource(cfg config.PriceConfig, feed QuoteFeed, logger *slog.Logger) *PriceSource {
	return &PriceSource{
		cfg:    cfg,
		feed:   feed,
		logger: logger.With("component", "price_source"),
		random: rand.Float64,
		now:    func() time.Time { return time.Now().UTC() },
		quotes: make(map[string]cachedQuote),
		walks:  make(map[string]cachedQuote),
	}
}

// SetQuoteStore shares last good reference quotes through store.
func (ps *PriceSource) SetQuoteStore(store domain.QuoteStore) { ps.store = store }

// SetRandom replaces the uniform [0,1) source used by the random walk.
func (ps *PriceSource) SetRandom(fn func() float64) { ps.random = fn }

// SetClock replaces the wall clock.
func (ps *PriceSource) SetClock(fn func() time.Time) { ps.now = fn }

// PriceFor returns the next mark price of symbol given the previous one.
func (ps *PriceSource) PriceFor(ctx context.Context, symbol string, previous decimal.Decimal) decimal.Decimal {
	symbol = strings.ToUpper(symbol)
	if ps.cfg.IsSynthetic(symbol) {
		return ps.synthetic(ctx, symbol, previous)
	}
	return ps.reference(ctx, symbol, previous)
}

// Snapshot returns every cached quote, sorted by symbol.
func (ps *PriceSource) Snapshot() []QuoteSnapshot {
	now := ps.now()
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	out := make([]QuoteSnapshot, 0, len(ps.quotes)+len(ps.walks))
	add := func(m map[string]cachedQuote, synthetic bool) {
		for sym, q := range m {
			out = append(out, QuoteSnapshot{
				Symbol:     sym,
				Price:      q.price,
				UpdatedAt:  q.fetchedAt,
				AgeSeconds: now.Sub(q.fetchedAt).Seconds(),
				Synthetic:  synthetic,
			})
		}
	}
	add(ps.quotes, false)
	add(ps.walks, true)
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ── Reference path ───────────────────────────────────────────────────────────

func (ps *PriceSource) reference(ctx context.Context, symbol string, previous decimal.Decimal) decimal.Decimal {
	if price, ok := ps.quote(ctx, symbol); ok {
		return price
	}
	return previous
}

// quote returns a fresh or last-good reference price. ok is false only when
// nothing has ever been seen for symbol.
func (ps *PriceSource) quote(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	now := ps.now()

	ps.mu.RLock()
	cached, have := ps.quotes[symbol]
	ps.mu.RUnlock()

	if have && now.Sub(cached.fetchedAt) < ps.cfg.CacheTTL {
		return cached.price, true
	}

	fetchCtx, cancel := context.WithTimeout(ctx, ps.cfg.FetchTimeout)
	defer cancel()

	price, err := ps.feed.Fetch(fetchCtx, symbol)
	if err == nil && price.IsPositive() {
		ps.mu.Lock()
		ps.quotes[symbol] = cachedQuote{price: price, fetchedAt: now}
		ps.mu.Unlock()

		if ps.store != nil {
			if serr := ps.store.SetQuote(ctx, symbol, price, now); serr != nil {
				ps.logger.Debug("quote store write failed", "symbol", symbol, "err", serr)
			}
		}
		return price, true
	}

	ps.logger.Warn("quote fetch failed, serving cached value", "symbol", symbol, "err", err)

	if have {
		return cached.price, true
	}
	if ps.store != nil {
		if shared, ts, serr := ps.store.GetQuote(ctx, symbol); serr == nil && shared.IsPositive() {
			ps.mu.Lock()
			ps.quotes[symbol] = cachedQuote{price: shared, fetchedAt: ts}
			ps.mu.Unlock()
			return shared, true
		}
	}
	return decimal.Zero, false
}

// ── Synthetic path ───────────────────────────────────────────────────────────

func (ps *PriceSource) synthetic(ctx context.Context, symbol string, previous decimal.Decimal) decimal.Decimal {
	if !previous.IsPositive() {
		seed := ps.seed(ctx, symbol)
		if seed.IsPositive() {
			ps.remember(symbol, seed)
		}
		return seed
	}

	var next decimal.Decimal
	if ps.random() < ps.cfg.ReseedProbability {
		if anchor, ok := ps.anchorQuote(ctx, symbol); ok {
			next = anchor
		}
	}
	if next.IsZero() {
		band := ps.cfg.OffSessionBand
		if ps.inSession(ps.now()) {
			band = ps.cfg.SessionBand
		}
		delta := (ps.random()*2 - 1) * band
		next = previous.Mul(decimal.NewFromFloat(1 + delta))
	}

	next = ps.clamp(next.Round(priceDecimals), previous)
	ps.remember(symbol, next)
	return next
}

// seed picks a starting price: the anchor quote if reachable, otherwise the
// configured seed. Zero when neither exists.
func (ps *PriceSource) seed(ctx context.Context, symbol string) decimal.Decimal {
	if anchor, ok := ps.anchorQuote(ctx, symbol); ok {
		return anchor
	}
	if s, ok := ps.cfg.Seeds[symbol]; ok && s > 0 {
		return decimal.NewFromFloat(s)
	}
	return decimal.Zero
}

func (ps *PriceSource) anchorQuote(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	ref, ok := ps.cfg.Anchors[symbol]
	if !ok || ref == "" {
		return decimal.Zero, false
	}
	return ps.quote(ctx, strings.ToUpper(ref))
}

// clamp keeps price within previous × (1 ± MaxTickMove).
func (ps *PriceSource) clamp(price, previous decimal.Decimal) decimal.Decimal {
	maxMove := decimal.NewFromFloat(ps.cfg.MaxTickMove)
	one := decimal.NewFromInt(1)
	lo := previous.Mul(one.Sub(maxMove))
	hi := previous.Mul(one.Add(maxMove))
	switch {
	case price.LessThan(lo):
		return lo
	case price.GreaterThan(hi):
		return hi
	}
	return price
}

// inSession reports whether t falls in the active-hours window. A window
// whose start is after its end wraps around midnight.
func (ps *PriceSource) inSession(t time.Time) bool {
	h := t.UTC().Hour()
	start, end := ps.cfg.SessionStartHour, ps.cfg.SessionEndHour
	if start <= end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

func (ps *PriceSource) remember(symbol string, price decimal.Decimal) {
	ps.mu.Lock()
	ps.walks[symbol] = cachedQuote{price: price, fetchedAt: ps.now()}
	ps.mu.Unlock()
}
