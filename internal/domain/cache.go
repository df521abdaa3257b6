package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// QuoteStore shares the last good reference quote between replicas.
// GetQuote returns ErrNoPrice when nothing is stored for the symbol.
type QuoteStore interface {
	SetQuote(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error
	GetQuote(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error)
}

// LockManager hands out short-lived cross-process locks. Acquire returns
// ErrLockHeld when somebody else owns key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
