package payment

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
	"github.com/slawa19/geoledger/internal/store"
	"github.com/slawa19/geoledger/internal/store/memory"
)

const precision = 2

func newTestEngine(t *testing.T) (*Engine, *memory.Store, idtype.ID) {
	t.Helper()
	s := memory.New()
	checker := invariants.New(s)
	integritySvc := integrity.New(s, checker)
	engine := New(s, checker, integritySvc, Config{
		PrepareLockTTL:    time.Minute,
		CommitMaxAttempts: 3,
		CommitRetryBase:   time.Millisecond,
	})
	equivalent := idtype.New()
	s.Seed(domain.Equivalent{ID: equivalent, Code: "TST", Precision: precision, Active: true})
	return engine, s, equivalent
}

func grantTrustLine(t *testing.T, s *memory.Store, equivalent, from, to idtype.ID, limit string) {
	t.Helper()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Commit()
	err = s.TrustLines().Upsert(context.Background(), tx, domain.TrustLine{
		From: from, To: to, Equivalent: equivalent,
		Limit: money.MustParse(limit, precision), Status: domain.TrustLineActive,
		Policy: domain.TrustLinePolicy{AutoClearing: true},
	})
	require.NoError(t, err)
}

func TestPrepareAndCommit_DirectPayment(t *testing.T) {
	engine, s, eq := newTestEngine(t)
	alice, bob := idtype.New(), idtype.New()
	// Bob trusts Alice up to 100: Alice can owe Bob up to 100.
	grantTrustLine(t, s, eq, bob, alice, "100.00")

	txID := idtype.New()
	amount := money.MustParse("40.00", precision)
	require.NoError(t, engine.Prepare(context.Background(), txID, []idtype.ID{alice, bob}, amount, eq))
	require.NoError(t, engine.Commit(context.Background(), txID, precision))

	tx := context.Background()
	dbTx, err := s.Begin(tx)
	require.NoError(t, err)
	debt, ok, err := s.Debts().Get(tx, dbTx, store.DebtRef{Debtor: alice, Creditor: bob, Equivalent: eq})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "40.00", debt.Amount.String())
	dbTx.Commit()
}

func TestPrepare_InsufficientCapacity(t *testing.T) {
	engine, s, eq := newTestEngine(t)
	alice, bob := idtype.New(), idtype.New()
	grantTrustLine(t, s, eq, bob, alice, "10.00")

	txID := idtype.New()
	amount := money.MustParse("40.00", precision)
	err := engine.Prepare(context.Background(), txID, []idtype.ID{alice, bob}, amount, eq)
	require.Error(t, err)
}

func TestApplyFlow_NetsExistingReverseDebt(t *testing.T) {
	engine, s, eq := newTestEngine(t)
	alice, bob := idtype.New(), idtype.New()
	grantTrustLine(t, s, eq, alice, bob, "100.00")
	grantTrustLine(t, s, eq, bob, alice, "100.00")

	ctx := context.Background()
	firstTx := idtype.New()
	require.NoError(t, engine.Prepare(ctx, firstTx, []idtype.ID{bob, alice}, money.MustParse("30.00", precision), eq))
	require.NoError(t, engine.Commit(ctx, firstTx, precision))

	secondTx := idtype.New()
	require.NoError(t, engine.Prepare(ctx, secondTx, []idtype.ID{alice, bob}, money.MustParse("50.00", precision), eq))
	require.NoError(t, engine.Commit(ctx, secondTx, precision))

	dbTx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer dbTx.Commit()

	forward, ok, err := s.Debts().Get(ctx, dbTx, store.DebtRef{Debtor: alice, Creditor: bob, Equivalent: eq})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "20.00", forward.Amount.String())

	_, reverseOK, err := s.Debts().Get(ctx, dbTx, store.DebtRef{Debtor: bob, Creditor: alice, Equivalent: eq})
	require.NoError(t, err)
	require.False(t, reverseOK)
}

func TestAbort_IsIdempotent(t *testing.T) {
	engine, _, eq := newTestEngine(t)
	alice, bob := idtype.New(), idtype.New()
	txID := idtype.New()
	_ = eq
	require.NoError(t, engine.Abort(context.Background(), txID, "client cancelled", "", nil))
	require.NoError(t, engine.Abort(context.Background(), txID, "client cancelled", "", nil))
	_ = alice
	_ = bob
}

func TestAbort_NeverReopensCommitted(t *testing.T) {
	engine, s, eq := newTestEngine(t)
	alice, bob := idtype.New(), idtype.New()
	grantTrustLine(t, s, eq, bob, alice, "100.00")

	txID := idtype.New()
	require.NoError(t, engine.Prepare(context.Background(), txID, []idtype.ID{alice, bob}, money.MustParse("10.00", precision), eq))
	require.NoError(t, engine.Commit(context.Background(), txID, precision))
	require.NoError(t, engine.Abort(context.Background(), txID, "too late", "", nil))

	dbTx, err := s.Begin(context.Background())
	require.NoError(t, err)
	defer dbTx.Commit()
	transaction, ok, err := s.Transactions().Get(context.Background(), dbTx, txID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.TxCommitted, transaction.State)
}
