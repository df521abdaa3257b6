// Package testdb opens throwaway SQLite databases with the production schema
// applied, for use in tests.
package testdb

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/evetabi/tradesim/internal/domain"
	"github.com/evetabi/tradesim/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// New returns a migrated SQLite database living in t.TempDir(). The pool is
// limited to one connection, so code under test must not read through the
// pool while it holds an open transaction.
func New(t testing.TB) *sqlx.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "engine.db")
	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, repository.Migrate(context.Background(), db, Logger()))
	return db
}

// Logger returns a logger that drops everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SeedAccount creates a ledger row with the given balance and frozen amount.
func SeedAccount(t testing.TB, db *sqlx.DB, balance, frozen string) uuid.UUID {
	t.Helper()

	now := time.Now().UTC()
	a := &domain.Account{
		UserID:    uuid.New(),
		Balance:   decimal.RequireFromString(balance),
		Frozen:    decimal.RequireFromString(frozen),
		Wins:      decimal.Zero,
		Losses:    decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repository.NewAccountRepository(db).Create(context.Background(), a))
	return a.UserID
}

// SeedPosition inserts an open position for userID.
func SeedPosition(t testing.TB, db *sqlx.DB, userID uuid.UUID, mutate func(*domain.Position)) *domain.Position {
	t.Helper()

	now := time.Now().UTC()
	p := &domain.Position{
		ID:           uuid.New(),
		UserID:       userID,
		Symbol:       "XAUUSD",
		Direction:    domain.DirectionLong,
		EntryPrice:   decimal.RequireFromString("2650.00"),
		CurrentPrice: decimal.RequireFromString("2650.00"),
		Size:         decimal.RequireFromString("0.01"),
		OpenedAt:     now,
		TargetPnL:    decimal.Zero,
		Status:       domain.PositionOpen,
		PnL:          decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, repository.NewPositionRepository(db).Create(context.Background(), p))
	return p
}
