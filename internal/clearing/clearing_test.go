package clearing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/integrity"
	"github.com/slawa19/geoledger/internal/invariants"
	"github.com/slawa19/geoledger/internal/lock"
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
	engine := New(s, checker, integritySvc, lock.NoopProvider{})
	equivalent := idtype.New()
	s.Seed(domain.Equivalent{ID: equivalent, Code: "TST", Precision: precision, Active: true})
	return engine, s, equivalent
}

func grantTrustLine(t *testing.T, s *memory.Store, equivalent, from, to idtype.ID, limit string) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Commit()
	err = s.TrustLines().Upsert(ctx, tx, domain.TrustLine{
		From: from, To: to, Equivalent: equivalent,
		Limit: money.MustParse(limit, precision), Status: domain.TrustLineActive,
		Policy: domain.TrustLinePolicy{AutoClearing: true},
	})
	require.NoError(t, err)
}

func putDebt(t *testing.T, s *memory.Store, equivalent, debtor, creditor idtype.ID, amount string) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Commit()
	_, err = s.Debts().Upsert(ctx, tx, domain.Debt{
		Debtor: debtor, Creditor: creditor, Equivalent: equivalent,
		Amount: money.MustParse(amount, precision),
	})
	require.NoError(t, err)
}

func TestFindCycles_Triangle(t *testing.T) {
	engine, s, eq := newTestEngine(t)
	a, b, c := idtype.New(), idtype.New(), idtype.New()
	grantTrustLine(t, s, eq, b, a, "100.00")
	grantTrustLine(t, s, eq, c, b, "100.00")
	grantTrustLine(t, s, eq, a, c, "100.00")

	putDebt(t, s, eq, a, b, "30.00")
	putDebt(t, s, eq, b, c, "30.00")
	putDebt(t, s, eq, c, a, "30.00")

	cycles, err := engine.FindCycles(context.Background(), eq, 3)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	require.Len(t, cycles[0].Debts, 3)
}

func TestExecuteClearing_ReducesEveryEdgeByMinimum(t *testing.T) {
	engine, s, eq := newTestEngine(t)
	a, b, c := idtype.New(), idtype.New(), idtype.New()
	grantTrustLine(t, s, eq, b, a, "100.00")
	grantTrustLine(t, s, eq, c, b, "100.00")
	grantTrustLine(t, s, eq, a, c, "100.00")

	putDebt(t, s, eq, a, b, "30.00")
	putDebt(t, s, eq, b, c, "20.00")
	putDebt(t, s, eq, c, a, "50.00")

	cycles, err := engine.FindCycles(context.Background(), eq, 3)
	require.NoError(t, err)
	require.Len(t, cycles, 1)

	require.NoError(t, engine.ExecuteClearing(context.Background(), cycles[0], eq, precision))

	ctx := context.Background()
	dbTx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer dbTx.Commit()

	ab, ok, err := s.Debts().Get(ctx, dbTx, debtRef(a, b, eq))
	require.NoError(t, err)
	require.True(t, ok, "A->B keeps 30-20 after clearing by the minimum of 20")
	require.Equal(t, "10.00", ab.Amount.String())

	bc, ok, err := s.Debts().Get(ctx, dbTx, debtRef(b, c, eq))
	require.NoError(t, err)
	require.False(t, ok)

	ca, ok, err := s.Debts().Get(ctx, dbTx, debtRef(c, a, eq))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "30.00", ca.Amount.String())
}

func TestFindCycles_SkipsNonAutoClearTrustLine(t *testing.T) {
	engine, s, eq := newTestEngine(t)
	a, b, c := idtype.New(), idtype.New(), idtype.New()
	grantTrustLine(t, s, eq, b, a, "100.00")
	grantTrustLine(t, s, eq, c, b, "100.00")
	// a -> c trust line has auto-clearing disabled
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.TrustLines().Upsert(ctx, tx, domain.TrustLine{
		From: a, To: c, Equivalent: eq, Limit: money.MustParse("100.00", precision),
		Status: domain.TrustLineActive, Policy: domain.TrustLinePolicy{AutoClearing: false},
	}))
	tx.Commit()

	putDebt(t, s, eq, a, b, "30.00")
	putDebt(t, s, eq, b, c, "30.00")
	putDebt(t, s, eq, c, a, "30.00")

	cycles, err := engine.FindCycles(context.Background(), eq, 3)
	require.NoError(t, err)
	require.Empty(t, cycles)
}

func TestAutoClear_ClearsUntilNoMoreCycles(t *testing.T) {
	engine, s, eq := newTestEngine(t)
	a, b, c := idtype.New(), idtype.New(), idtype.New()
	grantTrustLine(t, s, eq, b, a, "100.00")
	grantTrustLine(t, s, eq, c, b, "100.00")
	grantTrustLine(t, s, eq, a, c, "100.00")

	putDebt(t, s, eq, a, b, "10.00")
	putDebt(t, s, eq, b, c, "10.00")
	putDebt(t, s, eq, c, a, "10.00")

	cleared, err := engine.AutoClear(context.Background(), eq, 4, precision)
	require.NoError(t, err)
	require.Equal(t, 1, cleared)

	more, err := engine.FindCycles(context.Background(), eq, 4)
	require.NoError(t, err)
	require.Empty(t, more)
}

func debtRef(debtor, creditor, equivalent idtype.ID) store.DebtRef {
	return store.DebtRef{Debtor: debtor, Creditor: creditor, Equivalent: equivalent}
}
