package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/integrity"
	"github.com/slawa19/geoledger/internal/invariants"
	"github.com/slawa19/geoledger/internal/money"
	"github.com/slawa19/geoledger/internal/payment"
	"github.com/slawa19/geoledger/internal/store/memory"
)

const precision = 2

func TestCleanupExpiredPrepareLocks_AbortsOwningTransaction(t *testing.T) {
	s := memory.New()
	checker := invariants.New(s)
	integritySvc := integrity.New(s, checker)
	engine := payment.New(s, checker, integritySvc, payment.Config{
		PrepareLockTTL:    time.Millisecond,
		CommitMaxAttempts: 3,
		CommitRetryBase:   time.Millisecond,
	})

	eq := idtype.New()
	s.Seed(domain.Equivalent{ID: eq, Code: "TST", Precision: precision, Active: true})
	alice, bob := idtype.New(), idtype.New()

	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.TrustLines().Upsert(ctx, tx, domain.TrustLine{
		From: bob, To: alice, Equivalent: eq, Limit: money.MustParse("100.00", precision),
		Status: domain.TrustLineActive, Policy: domain.TrustLinePolicy{AutoClearing: true},
	}))
	tx.Commit()

	txID := idtype.New()
	require.NoError(t, engine.Prepare(ctx, txID, []idtype.ID{alice, bob}, money.MustParse("10.00", precision), eq))

	time.Sleep(5 * time.Millisecond)

	loop := New(s, engine, time.Hour, nil)
	loop.cleanupExpiredPrepareLocks(ctx)

	verifyTx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer verifyTx.Commit()
	transaction, ok, err := s.Transactions().Get(ctx, verifyTx, txID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.TxAborted, transaction.State)

	locks, err := s.PrepareLocks().Get(ctx, verifyTx, txID)
	require.NoError(t, err)
	require.Empty(t, locks)
}

func TestAbortStalePaymentTransactions_LeavesFreshTransactionsAlone(t *testing.T) {
	s := memory.New()
	checker := invariants.New(s)
	integritySvc := integrity.New(s, checker)
	engine := payment.New(s, checker, integritySvc, payment.Config{
		PrepareLockTTL:    time.Minute,
		CommitMaxAttempts: 3,
		CommitRetryBase:   time.Millisecond,
	})

	eq := idtype.New()
	s.Seed(domain.Equivalent{ID: eq, Code: "TST", Precision: precision, Active: true})
	alice, bob := idtype.New(), idtype.New()

	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.TrustLines().Upsert(ctx, tx, domain.TrustLine{
		From: bob, To: alice, Equivalent: eq, Limit: money.MustParse("100.00", precision),
		Status: domain.TrustLineActive, Policy: domain.TrustLinePolicy{AutoClearing: true},
	}))
	tx.Commit()

	txID := idtype.New()
	require.NoError(t, engine.Prepare(ctx, txID, []idtype.ID{alice, bob}, money.MustParse("10.00", precision), eq))

	loop := New(s, engine, time.Hour, nil)
	loop.abortStalePaymentTransactions(ctx)

	verifyTx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer verifyTx.Commit()
	transaction, ok, err := s.Transactions().Get(ctx, verifyTx, txID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.TxPrepared, transaction.State)
}
