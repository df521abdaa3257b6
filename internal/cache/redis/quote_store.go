package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/evetabi/tradesim/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// quoteTTL bounds how long a replica may serve a quote another replica wrote.
const quoteTTL = 10 * time.Minute

// QuoteStore implements domain.QuoteStore using Redis hashes.
// Each symbol is stored at "{prefix}:quote:{SYMBOL}" with fields "price" and
// "ts" (Unix nanoseconds).
type QuoteStore struct {
	c   *Client
	rdb *redis.Client
}

// NewQuoteStore creates a QuoteStore backed by the given Client.
func NewQuoteStore(c *Client) *QuoteStore {
	return &QuoteStore{c: c, rdb: c.rdb}
}

func (qs *QuoteStore) quoteKey(symbol string) string {
	return qs.c.key("quote", strings.ToUpper(symbol))
}

// SetQuote stores the latest good quote for a symbol.
func (qs *QuoteStore) SetQuote(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	key := qs.quoteKey(symbol)
	pipe := qs.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", symbol, err)
	}
	return nil
}

// GetQuote retrieves the stored quote for a symbol.
// It returns domain.ErrNoPrice when the key does not exist.
func (qs *QuoteStore) GetQuote(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	vals, err := qs.rdb.HGetAll(ctx, qs.quoteKey(symbol)).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	priceStr, ok := vals["price"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNoPrice
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse quote %s: %w", symbol, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}
	return price, time.Unix(0, tsNano).UTC(), nil
}

// Compile-time interface check.
var _ domain.QuoteStore = (*QuoteStore)(nil)
