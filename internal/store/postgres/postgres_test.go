//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/lib/pq"

	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/money"
	"github.com/slawa19/geoledger/internal/testutil"
)

func setupTestDB(t *testing.T) (*Store, func()) {
	t.Helper()

	db, cleanup := testutil.PGTest(t, func(ctx context.Context, db *sql.DB) error {
		return New(db).Migrate(ctx)
	})
	return New(db), cleanup
}

func seedEquivalent(t *testing.T, s *Store, precision int) idtype.ID {
	t.Helper()
	ctx := context.Background()
	id := idtype.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO equivalents (id, code, precision, active) VALUES ($1, $2, $3, TRUE)`,
		id, "TST"+id.String()[:8], precision)
	require.NoError(t, err)
	return id
}

func TestPostgres_TrustLineUpsertAndGet(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	eq := seedEquivalent(t, s, 2)
	from, to := idtype.New(), idtype.New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.TrustLines().Upsert(ctx, tx, domain.TrustLine{
		From: from, To: to, Equivalent: eq,
		Limit: money.MustParse("100.00", 2), Status: domain.TrustLineActive,
	}))
	require.NoError(t, tx.Commit())

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Commit()
	tl, err := s.TrustLines().Get(ctx, tx, from, to, eq)
	require.NoError(t, err)
	require.Equal(t, "100.00", tl.Limit.String())
	require.Equal(t, domain.TrustLineActive, tl.Status)
}

func TestPostgres_DebtUpsertOptimisticConcurrency(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	eq := seedEquivalent(t, s, 2)
	debtor, creditor := idtype.New(), idtype.New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	d, err := s.Debts().Upsert(ctx, tx, domain.Debt{
		Debtor: debtor, Creditor: creditor, Equivalent: eq,
		Amount: money.MustParse("10.00", 2),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.Equal(t, 1, d.Version)

	// Stale write using the original (now outdated) version must fail.
	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	_, err = s.Debts().Upsert(ctx, tx, domain.Debt{
		ID: d.ID, Debtor: debtor, Creditor: creditor, Equivalent: eq,
		Amount: money.MustParse("20.00", 2), Version: 0,
	})
	tx.Rollback()
	require.Error(t, err)
}

func TestPostgres_PrepareLockRoundTrip(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	eq := seedEquivalent(t, s, 2)
	txID, participant, a, b := idtype.New(), idtype.New(), idtype.New(), idtype.New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.PrepareLocks().Upsert(ctx, tx, domain.PrepareLock{
		TxID: txID, Participant: participant,
		Effects: domain.PrepareLockEffects{Flows: []domain.RouteFlow{
			{From: a, To: b, Equivalent: eq, Amount: money.MustParse("5.00", 2)},
		}},
	}))
	require.NoError(t, tx.Commit())

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Commit()
	locks, err := s.PrepareLocks().Get(ctx, tx, txID)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	require.Len(t, locks[0].Effects.Flows, 1)
	require.Equal(t, "5.00", locks[0].Effects.Flows[0].Amount.String())
}
