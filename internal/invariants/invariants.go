// Package invariants is the pure read-side verifier the payment and
// clearing engines call inside their own write transactions, and that
// operators can invoke on demand. Every check is grounded on the
// original implementation's SQLAlchemy joins (app/core/invariants.py),
// translated here into plain Go walks over the store interface.
package invariants

import (
	"context"
	"fmt"

	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/money"
	"github.com/slawa19/geoledger/internal/store"
)

// Kind identifies which invariant a Violation reports.
type Kind string

const (
	KindZeroSum             Kind = "ZERO_SUM_VIOLATION"
	KindTrustLimit          Kind = "TRUST_LIMIT_VIOLATION"
	KindDebtSymmetry        Kind = "DEBT_SYMMETRY_VIOLATION"
	KindClearingNeutrality  Kind = "CLEARING_NEUTRALITY_VIOLATION"
	KindPaymentDeltaDrift   Kind = "PAYMENT_DELTA_DRIFT"
)

// Violation is a typed invariant failure; it carries enough structure
// for a caller to build an errs.Error with Details at the engine
// boundary (always E008, state conflict).
type Violation struct {
	Kind    Kind
	Details map[string]any
}

func (v *Violation) Error() string {
	return fmt.Sprintf("invariant violation: %s", v.Kind)
}

// Pair is an unordered participant pair used to scope a check to only
// the participants touched by the operation under verification.
type Pair struct {
	A, B idtype.ID
}

func (p Pair) matches(x, y idtype.ID) bool {
	return (p.A == x && p.B == y) || (p.A == y && p.B == x)
}

func matchesAnyPair(pairs []Pair, x, y idtype.ID) bool {
	if len(pairs) == 0 {
		return true
	}
	for _, p := range pairs {
		if p.matches(x, y) {
			return true
		}
	}
	return false
}

// Checker runs invariant checks against a store within an ambient
// transaction.
type Checker struct {
	store store.Store
}

func New(s store.Store) *Checker {
	return &Checker{store: s}
}

// CheckZeroSum verifies that, for the scoped equivalent, the sum of
// every participant's (credits - debts) is exactly zero: for every unit
// of debt recorded against a debtor, an equal unit of credit is recorded
// for the creditor, so the signed sum across all participants must
// cancel out.
func (c *Checker) CheckZeroSum(ctx context.Context, tx store.Tx, equivalent idtype.ID, precision int) error {
	debts, err := c.store.Debts().ListByEquivalent(ctx, tx, equivalent)
	if err != nil {
		return err
	}
	positions := make(map[idtype.ID]money.Amount)
	for _, d := range debts {
		positions[d.Creditor] = add(positions, d.Creditor, d.Amount, precision)
		positions[d.Debtor] = sub(positions, d.Debtor, d.Amount, precision)
	}
	imbalance := money.Zero(precision)
	for _, pos := range positions {
		imbalance = imbalance.Add(pos)
	}
	if !imbalance.IsZero() {
		return &Violation{Kind: KindZeroSum, Details: map[string]any{
			"equivalent": equivalent.String(),
			"imbalance":  imbalance.String(),
		}}
	}
	return nil
}

// CheckTrustLimits verifies that no Debt exceeds the limit of its
// controlling active TrustLine (creditor -> debtor). A missing or
// non-active trust line means an effective limit of zero: any positive
// debt against it is a violation.
func (c *Checker) CheckTrustLimits(ctx context.Context, tx store.Tx, equivalent idtype.ID, precision int, pairs []Pair) error {
	debts, err := c.store.Debts().ListByEquivalent(ctx, tx, equivalent)
	if err != nil {
		return err
	}
	var offenders []map[string]any
	for _, d := range debts {
		if d.Amount.Sign() <= 0 {
			continue
		}
		if !matchesAnyPair(pairs, d.Debtor, d.Creditor) {
			continue
		}
		limit := money.Zero(precision)
		tl, err := c.store.TrustLines().Get(ctx, tx, d.Creditor, d.Debtor, equivalent)
		if err == nil && tl.Status == domain.TrustLineActive {
			limit = tl.Limit
		}
		if d.Amount.Cmp(limit) > 0 {
			offenders = append(offenders, map[string]any{
				"debtor":     d.Debtor.String(),
				"creditor":   d.Creditor.String(),
				"equivalent": equivalent.String(),
				"debt":       d.Amount.String(),
				"limit":      limit.String(),
			})
		}
	}
	if len(offenders) > 0 {
		return &Violation{Kind: KindTrustLimit, Details: map[string]any{"offenders": offenders}}
	}
	return nil
}

// CheckDebtSymmetry verifies that no unordered participant pair carries
// debt in both directions at once: a legitimate payment always nets an
// opposing debt down before growing a new one (applyFlow), so any pair
// with both directions strictly positive indicates a netting bug.
// Restricting to the touched pairs matters: an unrelated pre-existing
// mutual debt elsewhere in the graph must not abort a legitimate payment.
func (c *Checker) CheckDebtSymmetry(ctx context.Context, tx store.Tx, equivalent idtype.ID, pairs []Pair) error {
	debts, err := c.store.Debts().ListByEquivalent(ctx, tx, equivalent)
	if err != nil {
		return err
	}
	byPair := make(map[[2]idtype.ID]domain.Debt)
	for _, d := range debts {
		if d.Amount.Sign() <= 0 {
			continue
		}
		byPair[[2]idtype.ID{d.Debtor, d.Creditor}] = d
	}
	var offenders []map[string]any
	seen := make(map[[2]idtype.ID]bool)
	for key, d := range byPair {
		reverse := [2]idtype.ID{key[1], key[0]}
		if seen[reverse] {
			continue
		}
		if rd, ok := byPair[reverse]; ok {
			if !matchesAnyPair(pairs, d.Debtor, d.Creditor) {
				continue
			}
			offenders = append(offenders, map[string]any{
				"a": d.Debtor.String(), "b": d.Creditor.String(),
				"amount_a_to_b": d.Amount.String(), "amount_b_to_a": rd.Amount.String(),
			})
			seen[key] = true
		}
	}
	if len(offenders) > 0 {
		return &Violation{Kind: KindDebtSymmetry, Details: map[string]any{"offenders": offenders}}
	}
	return nil
}

// CalculateNetPosition returns participant's credits minus debts for
// equivalent: positive means participant is a net creditor overall.
func (c *Checker) CalculateNetPosition(ctx context.Context, tx store.Tx, participant, equivalent idtype.ID, precision int) (money.Amount, error) {
	debts, err := c.store.Debts().ListByParticipant(ctx, tx, participant, equivalent)
	if err != nil {
		return money.Amount{}, err
	}
	net := money.Zero(precision)
	for _, d := range debts {
		switch {
		case d.Creditor == participant:
			net = net.Add(d.Amount)
		case d.Debtor == participant:
			net = net.Sub(d.Amount)
		}
	}
	return net, nil
}

// VerifyClearingNeutrality fails if any participant's net position
// after an operation differs from its recorded value before.
func (c *Checker) VerifyClearingNeutrality(ctx context.Context, tx store.Tx, participants []idtype.ID, equivalent idtype.ID, precision int, positionsBefore map[idtype.ID]money.Amount) error {
	var offenders []map[string]any
	for _, p := range participants {
		after, err := c.CalculateNetPosition(ctx, tx, p, equivalent, precision)
		if err != nil {
			return err
		}
		before := positionsBefore[p]
		if after.Cmp(before) != 0 {
			offenders = append(offenders, map[string]any{
				"participant": p.String(),
				"before":      before.String(),
				"after":       after.String(),
			})
		}
	}
	if len(offenders) > 0 {
		return &Violation{Kind: KindClearingNeutrality, Details: map[string]any{"offenders": offenders}}
	}
	return nil
}

// CheckPaymentDelta verifies that, for every participant touched by a
// set of flows, the expected signed delta (sum of +-amount over flows
// touching them) equals their actual net-position change within a
// tolerance of the equivalent's smallest unit (fixed-point arithmetic
// here has no rounding error, so the spec's 1e-8 tolerance collapses to
// exact equality).
func (c *Checker) CheckPaymentDelta(ctx context.Context, tx store.Tx, equivalent idtype.ID, precision int, flows []domain.RouteFlow, positionsBefore map[idtype.ID]money.Amount) error {
	expectedDelta := make(map[idtype.ID]money.Amount)
	touched := make(map[idtype.ID]bool)
	for _, f := range flows {
		touched[f.From] = true
		touched[f.To] = true
		expectedDelta[f.From] = sub(expectedDelta, f.From, f.Amount, precision)
		expectedDelta[f.To] = add(expectedDelta, f.To, f.Amount, precision)
	}
	var offenders []map[string]any
	for p := range touched {
		after, err := c.CalculateNetPosition(ctx, tx, p, equivalent, precision)
		if err != nil {
			return err
		}
		before := positionsBefore[p]
		actualDelta := after.Sub(before)
		expected := expectedDelta[p]
		if actualDelta.Cmp(expected) != 0 {
			offenders = append(offenders, map[string]any{
				"participant": p.String(),
				"expected":    expected.String(),
				"actual":      actualDelta.String(),
			})
		}
	}
	if len(offenders) > 0 {
		return &Violation{Kind: KindPaymentDeltaDrift, Details: map[string]any{"offenders": offenders}}
	}
	return nil
}

func add(m map[idtype.ID]money.Amount, id idtype.ID, amount money.Amount, precision int) money.Amount {
	cur, ok := m[id]
	if !ok {
		cur = money.Zero(precision)
	}
	return cur.Add(amount)
}

func sub(m map[idtype.ID]money.Amount, id idtype.ID, amount money.Amount, precision int) money.Amount {
	cur, ok := m[id]
	if !ok {
		cur = money.Zero(precision)
	}
	return cur.Sub(amount)
}
