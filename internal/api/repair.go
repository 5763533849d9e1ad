package api

import (
	"context"
	"math/big"

	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/money"
	"github.com/slawa19/geoledger/internal/store"
)

// RepairResult summarizes what an admin repair operation changed.
type RepairResult struct {
	PairsNetted  int
	DebtsCapped  int
	DebtsDeleted int
}

// NetMutualDebts enumerates every unordered (debtor, creditor,
// equivalent) pair carrying debt in both directions and nets them down
// to a single directed edge, per §6's repair.netMutualDebts() admin op.
// This is the steady-state outcome applyFlow already maintains for new
// debt; the repair exists to fix rows written before that invariant was
// enforced, or left mutual by a direct store write in tests/migrations.
func (f *Facade) NetMutualDebts(ctx context.Context, equivalent idtype.ID) (RepairResult, error) {
	dbTx, err := f.store.Begin(ctx)
	if err != nil {
		return RepairResult{}, err
	}
	defer dbTx.Rollback()

	debts, err := f.store.Debts().ListByEquivalent(ctx, dbTx, equivalent)
	if err != nil {
		return RepairResult{}, err
	}

	byPair := map[[2]idtype.ID][]domain.Debt{}
	for _, d := range debts {
		key := unorderedKey(d.Debtor, d.Creditor)
		byPair[key] = append(byPair[key], d)
	}

	result := RepairResult{}
	for _, pair := range byPair {
		if len(pair) != 2 {
			continue
		}
		a, b := pair[0], pair[1]
		if a.Debtor == b.Debtor || a.Debtor != b.Creditor {
			// Not actually a mutual (opposite-direction) pair.
			continue
		}
		forward, reverse := a, b

		net := forward.Amount.Sub(reverse.Amount)
		if net.Sign() > 0 {
			forward.Amount = net
			if _, err := f.store.Debts().Upsert(ctx, dbTx, forward); err != nil {
				return RepairResult{}, err
			}
			if err := f.store.Debts().Delete(ctx, dbTx, reverse.ID); err != nil {
				return RepairResult{}, err
			}
			result.DebtsDeleted++
		} else if net.Sign() < 0 {
			reverse.Amount = net.Neg()
			if _, err := f.store.Debts().Upsert(ctx, dbTx, reverse); err != nil {
				return RepairResult{}, err
			}
			if err := f.store.Debts().Delete(ctx, dbTx, forward.ID); err != nil {
				return RepairResult{}, err
			}
			result.DebtsDeleted++
		} else {
			if err := f.store.Debts().Delete(ctx, dbTx, forward.ID); err != nil {
				return RepairResult{}, err
			}
			if err := f.store.Debts().Delete(ctx, dbTx, reverse.ID); err != nil {
				return RepairResult{}, err
			}
			result.DebtsDeleted += 2
		}
		result.PairsNetted++
	}

	return result, dbTx.Commit()
}

// capToleranceExponent sets the tolerance, 10^-capToleranceExponent,
// up to which an over-limit debt is treated as "within rounding" rather than capped, matching the specification's
// repair.capDebtsToTrustLimits() 10^-9 tolerance.
const capToleranceExponent = 9

// CapDebtsToTrustLimits reduces every Debt that exceeds its controlling
// trust line's limit down to that limit, or deletes it outright when no
// active trust line covers it within tolerance, per §6's
// repair.capDebtsToTrustLimits() admin op.
func (f *Facade) CapDebtsToTrustLimits(ctx context.Context, equivalent idtype.ID) (RepairResult, error) {
	dbTx, err := f.store.Begin(ctx)
	if err != nil {
		return RepairResult{}, err
	}
	defer dbTx.Rollback()

	debts, err := f.store.Debts().ListByEquivalent(ctx, dbTx, equivalent)
	if err != nil {
		return RepairResult{}, err
	}

	result := RepairResult{}
	for _, d := range debts {
		tl, err := f.store.TrustLines().Get(ctx, dbTx, d.Creditor, d.Debtor, equivalent)
		if err != nil && err != store.ErrNotFound {
			return RepairResult{}, err
		}

		// A missing trust line leaves tl zero-valued (not active), so the
		// limit stays zero and the debt is deleted below.
		limit := money.Zero(d.Amount.Precision())
		if tl.Status == domain.TrustLineActive {
			limit = tl.Limit
		}

		tolerance := toleranceFor(d.Amount.Precision())
		if d.Amount.Sub(limit).Cmp(tolerance) <= 0 {
			continue
		}

		if limit.IsZero() {
			if err := f.store.Debts().Delete(ctx, dbTx, d.ID); err != nil {
				return RepairResult{}, err
			}
			result.DebtsDeleted++
			continue
		}

		d.Amount = limit
		if _, err := f.store.Debts().Upsert(ctx, dbTx, d); err != nil {
			return RepairResult{}, err
		}
		result.DebtsCapped++
	}

	return result, dbTx.Commit()
}

func toleranceFor(precision int) money.Amount {
	if precision < capToleranceExponent {
		return money.Zero(precision)
	}
	// One smallest-unit step at precision-9 decimal places, expressed in
	// the debt's own precision.
	units := big.NewInt(1)
	ten := big.NewInt(10)
	for i := 0; i < precision-capToleranceExponent; i++ {
		units.Mul(units, ten)
	}
	return money.FromUnits(units, precision)
}

func unorderedKey(a, b idtype.ID) [2]idtype.ID {
	if lessID(a, b) {
		return [2]idtype.ID{a, b}
	}
	return [2]idtype.ID{b, a}
}

func lessID(a, b idtype.ID) bool {
	return a.String() < b.String()
}
