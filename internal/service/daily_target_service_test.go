package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/evetabi/tradesim/internal/config"
	"github.com/evetabi/tradesim/internal/domain"
	"github.com/evetabi/tradesim/internal/service"
	"github.com/evetabi/tradesim/internal/testdb"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTargetService(t *testing.T) (*service.DailyTargetService, repos, *fakeClock, *recorder) {
	t.Helper()
	db := testdb.New(t)
	r := newRepos(db)
	ledger, rec := newLedger(db, r)
	svc := service.NewDailyTargetService(r.targets, r.accounts, ledger, config.Defaults().Payout, testdb.Logger())

	clock := &fakeClock{t: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)}
	svc.SetClock(clock.Now)
	return svc, r, clock, rec
}

func TestDailyTargetService_DripConverges(t *testing.T) {
	ctx := context.Background()
	svc, r, clock, rec := newTargetService(t)
	user := testdb.SeedAccount(t, r.db, "10", "3")

	target, err := svc.Schedule(ctx, user, d("100"), 1800*time.Second)
	require.NoError(t, err)

	clock.Advance(900 * time.Second)
	report, err := svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)

	mid, err := r.targets.GetByID(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", mid.PaidOut.StringFixed(2))
	assert.True(t, mid.Active)

	// same second again: nothing left to pay
	report, err = svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Applied)

	for i := 0; i < 10; i++ {
		clock.Advance(97 * time.Second)
		_, err = svc.Tick(ctx)
		require.NoError(t, err)
	}

	final, err := r.targets.GetByID(ctx, target.ID)
	require.NoError(t, err)
	assert.False(t, final.Active)
	assert.Equal(t, "100.00", final.PaidOut.StringFixed(2))

	acct, err := r.accounts.GetByUserID(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "110.00", acct.Balance.StringFixed(2))
	assert.Equal(t, "3.00", acct.Frozen.StringFixed(2))

	active, err := svc.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	for _, ev := range rec.All() {
		assert.Equal(t, domain.EventPayout, ev.Kind)
	}

	// further ticks are no-ops
	clock.Advance(time.Hour)
	report, err = svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
}

func TestDailyTargetService_NegativeTarget(t *testing.T) {
	ctx := context.Background()
	svc, r, clock, _ := newTargetService(t)
	user := testdb.SeedAccount(t, r.db, "100", "0")

	_, err := svc.Schedule(ctx, user, d("-30"), 60*time.Second)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	_, err = svc.Tick(ctx)
	require.NoError(t, err)
	clock.Advance(31 * time.Second)
	_, err = svc.Tick(ctx)
	require.NoError(t, err)

	acct, err := r.accounts.GetByUserID(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "70.00", acct.Balance.StringFixed(2))
}

func TestDailyTargetService_ScheduleValidation(t *testing.T) {
	ctx := context.Background()
	svc, r, _, _ := newTargetService(t)
	user := testdb.SeedAccount(t, r.db, "0", "0")

	_, err := svc.Schedule(ctx, user, d("0"), time.Hour)
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)

	_, err = svc.Schedule(ctx, user, d("10"), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)

	_, err = svc.Schedule(ctx, user, d("0.001"), time.Hour)
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)

	_, err = svc.Schedule(ctx, uuid.New(), d("10"), time.Hour)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	mine, err := svc.ListActiveByUser(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, mine)
}
