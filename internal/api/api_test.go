package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slawa19/geoledger/internal/clearing"
	"github.com/slawa19/geoledger/internal/collaborators/events"
	"github.com/slawa19/geoledger/internal/collaborators/router"
	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/integrity"
	"github.com/slawa19/geoledger/internal/invariants"
	"github.com/slawa19/geoledger/internal/lock"
	"github.com/slawa19/geoledger/internal/money"
	"github.com/slawa19/geoledger/internal/payment"
	"github.com/slawa19/geoledger/internal/store/memory"
)

const precision = 2

func newTestFacade(t *testing.T, cfg Config) (*Facade, *memory.Store, idtype.ID) {
	t.Helper()
	s := memory.New()
	checker := invariants.New(s)
	integritySvc := integrity.New(s, checker)
	paymentEngine := payment.New(s, checker, integritySvc, payment.Config{})
	clearingEngine := clearing.New(s, checker, integritySvc, lock.NoopProvider{})
	publisher := events.NewMemoryPublisher()

	equivalent := idtype.New()
	s.Seed(domain.Equivalent{ID: equivalent, Code: "TST", Precision: precision, Active: true})

	facade := New(s, paymentEngine, clearingEngine, integritySvc, nil, publisher, cfg)
	return facade, s, equivalent
}

func grantTrustLine(t *testing.T, s *memory.Store, equivalent, from, to idtype.ID, limit string) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Commit()
	require.NoError(t, s.TrustLines().Upsert(ctx, tx, domain.TrustLine{
		From: from, To: to, Equivalent: equivalent,
		Limit: money.MustParse(limit, precision), Status: domain.TrustLineActive,
	}))
}

func TestCreatePayment_DirectRouterCommitsSingleHop(t *testing.T) {
	facade, s, eq := newTestFacade(t, Config{})
	facade.router = router.DirectRouter{}

	a, b := idtype.New(), idtype.New()
	grantTrustLine(t, s, eq, b, a, "100.00")

	result, err := facade.CreatePayment(context.Background(), PaymentRequest{
		Initiator:  a,
		To:         b,
		Equivalent: eq,
		Amount:     money.MustParse("10.00", precision),
	})
	require.NoError(t, err)
	require.Equal(t, domain.TxCommitted, result.Status)
	require.Len(t, result.Routes, 1)

	fetched, err := facade.GetPayment(context.Background(), result.TxID)
	require.NoError(t, err)
	require.Equal(t, domain.TxCommitted, fetched.Status)
}

func TestCreatePayment_InsufficientCapacityAborts(t *testing.T) {
	facade, s, eq := newTestFacade(t, Config{})
	facade.router = router.DirectRouter{}

	a, b := idtype.New(), idtype.New()
	grantTrustLine(t, s, eq, b, a, "5.00")

	result, err := facade.CreatePayment(context.Background(), PaymentRequest{
		Initiator:  a,
		To:         b,
		Equivalent: eq,
		Amount:     money.MustParse("10.00", precision),
	})
	require.NoError(t, err)
	require.Equal(t, domain.TxAborted, result.Status)
	require.NotNil(t, result.Error)
	require.Equal(t, "E002", result.Error.Code)
}

func TestCreatePayment_MultipathRejectedWhenDisabled(t *testing.T) {
	facade, s, eq := newTestFacade(t, Config{MultipathEnabled: false})
	a, b, c := idtype.New(), idtype.New(), idtype.New()
	grantTrustLine(t, s, eq, b, a, "100.00")
	grantTrustLine(t, s, eq, c, b, "100.00")

	multiRouter := multiRouteStub{
		routes: []payment.Route{
			{Path: []idtype.ID{a, b}, Amount: money.MustParse("5.00", precision)},
			{Path: []idtype.ID{b, c}, Amount: money.MustParse("5.00", precision)},
		},
	}
	facade.router = multiRouter

	result, err := facade.CreatePayment(context.Background(), PaymentRequest{
		Initiator:  a,
		To:         c,
		Equivalent: eq,
		Amount:     money.MustParse("10.00", precision),
	})
	require.NoError(t, err)
	require.Equal(t, domain.TxRejected, result.Status)
}

type multiRouteStub struct {
	routes []payment.Route
}

func (m multiRouteStub) Route(ctx context.Context, sender, receiver idtype.ID, amount money.Amount, equivalent idtype.ID) ([]payment.Route, error) {
	return m.routes, nil
}

func TestCapacity_MatchesAvailableBeforeAnyReservation(t *testing.T) {
	facade, s, eq := newTestFacade(t, Config{})
	a, b := idtype.New(), idtype.New()
	grantTrustLine(t, s, eq, b, a, "100.00")

	result, err := facade.Capacity(context.Background(), a, b, eq, money.MustParse("90.00", precision))
	require.NoError(t, err)
	require.True(t, result.CanPay)
	require.Equal(t, "100.00", result.Available.String())

	result, err = facade.Capacity(context.Background(), a, b, eq, money.MustParse("101.00", precision))
	require.NoError(t, err)
	require.False(t, result.CanPay)
}

// TestCapacity_SubtractsForwardDebtAddsReverseDebt mirrors spec.md §8
// scenario 1: TrustLine(B→A,100), a 10.00 payment A→B already committed,
// then capacity(A,B,91) must be rejected since only 90 remains
// (100 − 10 forward debt + 0 reverse debt), not 110.
func TestCapacity_SubtractsForwardDebtAddsReverseDebt(t *testing.T) {
	facade, s, eq := newTestFacade(t, Config{})
	a, b := idtype.New(), idtype.New()
	grantTrustLine(t, s, eq, b, a, "100.00")

	ctx := context.Background()
	txID := idtype.New()
	require.NoError(t, facade.payments.Prepare(ctx, txID, []idtype.ID{a, b}, money.MustParse("10.00", precision), eq))
	require.NoError(t, facade.payments.Commit(ctx, txID, precision))

	result, err := facade.Capacity(ctx, a, b, eq, money.MustParse("90.00", precision))
	require.NoError(t, err)
	require.True(t, result.CanPay)
	require.Equal(t, "90.00", result.Available.String())

	result, err = facade.Capacity(ctx, a, b, eq, money.MustParse("91.00", precision))
	require.NoError(t, err)
	require.False(t, result.CanPay)
}

func TestMaxFlow_FindsDirectCapacity(t *testing.T) {
	facade, s, eq := newTestFacade(t, Config{FullMultipathEnabled: true})
	a, b := idtype.New(), idtype.New()
	grantTrustLine(t, s, eq, b, a, "40.00")

	result, err := facade.MaxFlow(context.Background(), a, b, eq, precision)
	require.NoError(t, err)
	require.Equal(t, "40.00", result.MaxAmount.String())
	require.Len(t, result.Paths, 1)
}

func TestStatus_HealthyOnEmptyLedger(t *testing.T) {
	facade, _, _ := newTestFacade(t, Config{})
	status, err := facade.Status(context.Background(), precision)
	require.NoError(t, err)
	require.True(t, status.Passed)
	require.Equal(t, domain.StatusHealthy, status.Status)
}

func TestChecksum_StableAcrossCalls(t *testing.T) {
	facade, s, eq := newTestFacade(t, Config{})
	a, b := idtype.New(), idtype.New()
	grantTrustLine(t, s, eq, b, a, "10.00")

	c1, err := facade.Checksum(context.Background(), eq)
	require.NoError(t, err)
	c2, err := facade.Checksum(context.Background(), eq)
	require.NoError(t, err)
	require.Equal(t, c1, c2)
}

func TestListPayments_ReturnsNoneForFreshParticipant(t *testing.T) {
	facade, _, eq := newTestFacade(t, Config{})
	results, err := facade.ListPayments(context.Background(), ListPaymentsRequest{
		Participant: idtype.New(),
		Direction:   DirectionSent,
		Equivalent:  &eq,
		FromDate:    timePtr(time.Now().Add(-time.Hour)),
	})
	require.NoError(t, err)
	require.Empty(t, results)
}

func timePtr(t time.Time) *time.Time { return &t }
