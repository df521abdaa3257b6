package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/tradesim/internal/config"
	"github.com/evetabi/tradesim/internal/domain"
	"github.com/evetabi/tradesim/internal/service"
	"github.com/evetabi/tradesim/internal/testdb"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

// fixedPricer returns a configured price per symbol. A symbol mapped to
// "panic" panics; an unknown symbol yields zero.
type fixedPricer struct {
	mu     sync.Mutex
	prices map[string]string
}

func (f *fixedPricer) PriceFor(_ context.Context, symbol string, _ decimal.Decimal) decimal.Decimal {
	f.mu.Lock()
	v, ok := f.prices[strings.ToUpper(symbol)]
	f.mu.Unlock()
	if !ok {
		return decimal.Zero
	}
	if v == "panic" {
		panic("feed exploded")
	}
	return decimal.RequireFromString(v)
}

func (f *fixedPricer) Set(symbol, price string) {
	f.mu.Lock()
	f.prices[symbol] = price
	f.mu.Unlock()
}

type captureBroadcaster struct {
	mu   sync.Mutex
	vals []domain.Valuation
}

func (c *captureBroadcaster) BroadcastValuations(vals []domain.Valuation) {
	c.mu.Lock()
	c.vals = append(c.vals, vals...)
	c.mu.Unlock()
}

type positionFixture struct {
	db     *sqlx.DB
	repos  repos
	svc    *service.PositionService
	pricer *fixedPricer
	events *recorder
	bcast  *captureBroadcaster
}

func newPositionFixture(t *testing.T) *positionFixture {
	t.Helper()
	return newPositionFixtureWith(t, config.Defaults().Engine)
}

func newPositionFixtureWith(t *testing.T, engine config.EngineConfig) *positionFixture {
	t.Helper()
	db := testdb.New(t)
	r := newRepos(db)
	ledger, rec := newLedger(db, r)
	pricer := &fixedPricer{prices: map[string]string{"XAUUSD": "2650.00"}}
	bcast := &captureBroadcaster{}

	svc := service.NewPositionService(db, r.positions, ledger, pricer, engine, testdb.Logger())
	svc.SetBroadcaster(bcast)
	return &positionFixture{db: db, repos: r, svc: svc, pricer: pricer, events: rec, bcast: bcast}
}

// ── Tick ──────────────────────────────────────────────────────────────────────

func TestPositionService_TickMarksAndCloses(t *testing.T) {
	ctx := context.Background()
	f := newPositionFixture(t)
	user := testdb.SeedAccount(t, f.db, "1000", "0")

	hit := testdb.SeedPosition(t, f.db, user, func(p *domain.Position) {
		p.TargetPnL = d("10")
	})
	open := testdb.SeedPosition(t, f.db, user, func(p *domain.Position) {
		p.Direction = domain.DirectionShort
	})

	f.pricer.Set("XAUUSD", "2660.00")
	report, err := f.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Marked)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 0, report.Failed)

	closed, err := f.repos.positions.GetByID(ctx, hit.ID)
	require.NoError(t, err)
	assert.False(t, closed.IsOpen())
	require.NotNil(t, closed.CloseReason)
	assert.Equal(t, domain.ReasonTarget, *closed.CloseReason)
	assert.Equal(t, "10.00", closed.PnL.StringFixed(2))

	still, err := f.repos.positions.GetByID(ctx, open.ID)
	require.NoError(t, err)
	assert.True(t, still.IsOpen())
	assert.Equal(t, "2660.00", still.CurrentPrice.StringFixed(2))
	assert.Equal(t, "-10.00", still.PnL.StringFixed(2))

	acct, err := f.repos.accounts.GetByUserID(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "1010.00", acct.Balance.StringFixed(2))

	require.Len(t, f.bcast.vals, 1)
	assert.Equal(t, open.ID, f.bcast.vals[0].PositionID)
	require.Len(t, f.events.All(), 1)
}

func TestPositionService_TickClosesOnDuration(t *testing.T) {
	ctx := context.Background()
	f := newPositionFixture(t)
	user := testdb.SeedAccount(t, f.db, "0", "0")

	opened := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	p := testdb.SeedPosition(t, f.db, user, func(p *domain.Position) {
		p.OpenedAt = opened
		p.DurationSeconds = 3600
	})
	f.svc.SetClock(func() time.Time { return opened.Add(3601 * time.Second) })

	report, err := f.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)

	got, err := f.repos.positions.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CloseReason)
	assert.Equal(t, domain.ReasonDuration, *got.CloseReason)

	h, err := f.repos.history.GetByPositionID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3601), h.ElapsedSeconds)
}

func TestPositionService_TickReachesPastFullBatch(t *testing.T) {
	ctx := context.Background()
	engine := config.Defaults().Engine
	engine.BatchSize = 1
	f := newPositionFixtureWith(t, engine)
	user := testdb.SeedAccount(t, f.db, "0", "0")

	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	f.svc.SetClock(func() time.Time { return now })

	// never closes on its own: no duration, target, TP or SL
	forever := testdb.SeedPosition(t, f.db, user, func(p *domain.Position) {
		p.OpenedAt = now.Add(-3 * time.Hour)
	})
	expired := testdb.SeedPosition(t, f.db, user, func(p *domain.Position) {
		p.OpenedAt = now.Add(-2 * time.Hour)
		p.DurationSeconds = 60
	})
	f.pricer.Set("XAUUSD", "2651.00")

	report, err := f.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Marked)
	assert.Equal(t, 1, report.Applied)

	got, err := f.repos.positions.GetByID(ctx, expired.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CloseReason)
	assert.Equal(t, domain.ReasonDuration, *got.CloseReason)

	still, err := f.repos.positions.GetByID(ctx, forever.ID)
	require.NoError(t, err)
	assert.True(t, still.IsOpen())
	assert.Equal(t, "2651.00", still.CurrentPrice.StringFixed(2))
}

func TestPositionService_TickIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	f := newPositionFixture(t)
	user := testdb.SeedAccount(t, f.db, "0", "0")

	testdb.SeedPosition(t, f.db, user, func(p *domain.Position) { p.Symbol = "BOOM" })
	testdb.SeedPosition(t, f.db, user, func(p *domain.Position) { p.Symbol = "NOPRICE" })
	good := testdb.SeedPosition(t, f.db, user, func(p *domain.Position) {
		p.TakeProfit = ptr(d("2655"))
	})
	f.pricer.Set("BOOM", "panic")
	f.pricer.Set("XAUUSD", "2656.00")

	report, err := f.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.Applied)

	got, err := f.repos.positions.GetByID(ctx, good.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CloseReason)
	assert.Equal(t, domain.ReasonTakeProfit, *got.CloseReason)
}

func TestPositionService_TickRetriesFailedClose(t *testing.T) {
	ctx := context.Background()
	f := newPositionFixture(t)

	// no ledger row: the close rolls back and the position stays open
	orphan := testdb.SeedPosition(t, f.db, uuid.New(), func(p *domain.Position) {
		p.StopLoss = ptr(d("2640"))
	})
	f.pricer.Set("XAUUSD", "2630.00")

	report, err := f.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Applied)

	got, err := f.repos.positions.GetByID(ctx, orphan.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOpen())
	assert.Equal(t, "2630.00", got.CurrentPrice.StringFixed(2))
}

func TestPositionService_TickEmpty(t *testing.T) {
	f := newPositionFixture(t)
	report, err := f.svc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.Empty(t, f.bcast.vals)
}

// ── ClosePosition ─────────────────────────────────────────────────────────────

func TestPositionService_ManualCloseOwnerOnly(t *testing.T) {
	ctx := context.Background()
	f := newPositionFixture(t)
	owner := testdb.SeedAccount(t, f.db, "100", "0")
	p := testdb.SeedPosition(t, f.db, owner, nil)
	f.pricer.Set("XAUUSD", "2648.00")

	_, err := f.svc.ClosePosition(ctx, p.ID, uuid.New(), domain.ReasonManual)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	out, err := f.svc.ClosePosition(ctx, p.ID, owner, domain.ReasonManual)
	require.NoError(t, err)
	require.True(t, out.Applied)
	assert.Equal(t, "-2.00", out.PnL.StringFixed(2))

	again, err := f.svc.ClosePosition(ctx, p.ID, owner, domain.ReasonManual)
	require.NoError(t, err)
	assert.False(t, again.Applied)

	n, err := f.repos.accounts.CountOperationsByRef(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPositionService_AdminClose(t *testing.T) {
	ctx := context.Background()
	f := newPositionFixture(t)
	owner := testdb.SeedAccount(t, f.db, "100", "0")
	p := testdb.SeedPosition(t, f.db, owner, nil)
	f.pricer.Set("XAUUSD", "2651.50")

	out, err := f.svc.ClosePosition(ctx, p.ID, uuid.New(), domain.ReasonAdmin)
	require.NoError(t, err)
	require.True(t, out.Applied)
	assert.Equal(t, "1.50", out.PnL.StringFixed(2))

	_, err = f.svc.ClosePosition(ctx, p.ID, owner, domain.ReasonTarget)
	assert.ErrorIs(t, err, domain.ErrInvalidCloseReason)

	_, err = f.svc.ClosePosition(ctx, uuid.New(), owner, domain.ReasonAdmin)
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

// ── OpenPosition ──────────────────────────────────────────────────────────────

func TestPositionService_OpenPosition(t *testing.T) {
	ctx := context.Background()
	f := newPositionFixture(t)
	user := testdb.SeedAccount(t, f.db, "0", "0")
	f.pricer.Set("XAUUSD", "2652.25")

	p, err := f.svc.OpenPosition(ctx, domain.OpenPositionRequest{
		UserID:    user,
		Symbol:    "xauusd",
		Direction: domain.DirectionLong,
		Size:      d("0.02"),
		TargetPnL: d("15.005"),
	})
	require.NoError(t, err)
	assert.Equal(t, "XAUUSD", p.Symbol)
	assert.Equal(t, "2652.25", p.EntryPrice.StringFixed(2))
	assert.True(t, p.IsOpen())

	mine, err := f.svc.ListOpenByUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, p.ID, mine[0].ID)

	cases := []struct {
		name string
		req  domain.OpenPositionRequest
		want error
	}{
		{"bad direction", domain.OpenPositionRequest{UserID: user, Symbol: "XAUUSD", Direction: "up", Size: d("1")}, domain.ErrInvalidDirection},
		{"zero size", domain.OpenPositionRequest{UserID: user, Symbol: "XAUUSD", Direction: domain.DirectionLong}, domain.ErrInvalidSize},
		{"negative duration", domain.OpenPositionRequest{UserID: user, Symbol: "XAUUSD", Direction: domain.DirectionLong, Size: d("1"), DurationSeconds: -1}, domain.ErrInvalidDuration},
		{"unknown symbol", domain.OpenPositionRequest{UserID: user, Symbol: "DOGE", Direction: domain.DirectionShort, Size: d("1")}, domain.ErrNoPrice},
		{"blank symbol", domain.OpenPositionRequest{UserID: user, Symbol: "  ", Direction: domain.DirectionShort, Size: d("1")}, domain.ErrInvalidSymbol},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.OpenPosition(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }
