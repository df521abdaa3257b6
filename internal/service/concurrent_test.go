package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/evetabi/tradesim/internal/domain"
	"github.com/evetabi/tradesim/internal/testdb"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConcurrentCloseBooksOnce races many admin closes of one position
// against each other. Only one may move the balance.
func TestConcurrentCloseBooksOnce(t *testing.T) {
	f := newPositionFixture(t)
	f.pricer.Set("XAUUSD", "2660.00")
	user := testdb.SeedAccount(t, f.db, "100.00", "0")
	p := testdb.SeedPosition(t, f.db, user, nil)

	const workers = 20
	var applied int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.svc.ClosePosition(context.Background(), p.ID, uuid.Nil, domain.ReasonAdmin)
			if err != nil {
				t.Errorf("ClosePosition: %v", err)
				return
			}
			if out.Applied {
				atomic.AddInt64(&applied, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, applied)

	acct, err := f.repos.accounts.GetByUserID(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(d("110")), "balance = %s", acct.Balance)

	n, err := f.repos.accounts.CountOperationsByRef(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.events.All(), 1)
}

// TestConcurrentAdjustmentsSum checks that parallel ledger writes to one
// account never lose an update.
func TestConcurrentAdjustmentsSum(t *testing.T) {
	db := testdb.New(t)
	r := newRepos(db)
	ledger, _ := newLedger(db, r)
	user := testdb.SeedAccount(t, db, "0", "0")

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.ApplyAdjustment(context.Background(), user, decimal.NewFromInt(2), "bonus"); err != nil {
				t.Errorf("ApplyAdjustment: %v", err)
			}
		}()
	}
	wg.Wait()

	acct, err := r.accounts.GetByUserID(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(decimal.NewFromInt(2*workers)), "balance = %s", acct.Balance)

	ops, err := r.accounts.ListOperations(context.Background(), user, 100, 0)
	require.NoError(t, err)
	assert.Len(t, ops, workers)
}
