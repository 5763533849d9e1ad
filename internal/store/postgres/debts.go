package postgres

import (
	"context"
	"database/sql"
	"math/big"

	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/money"
	"github.com/slawa19/geoledger/internal/store"
)

type debtStore struct{ s *Store }

const debtSelect = `
	SELECT d.id, d.debtor, d.creditor, d.equivalent_id, d.amount_units, e.precision,
	       d.version, d.updated_at
	FROM debts d JOIN equivalents e ON e.id = d.equivalent_id
`

func scanDebt(row interface{ Scan(...any) error }) (domain.Debt, bool, error) {
	var d domain.Debt
	var amountUnits string
	var precision int
	if err := row.Scan(&d.ID, &d.Debtor, &d.Creditor, &d.Equivalent, &amountUnits, &precision,
		&d.Version, &d.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.Debt{}, false, nil
		}
		return domain.Debt{}, false, err
	}
	units, ok := new(big.Int).SetString(amountUnits, 10)
	if !ok {
		return domain.Debt{}, false, errInvalidUnits(amountUnits)
	}
	d.Amount = money.FromUnits(units, precision)
	return d, true, nil
}

func (d debtStore) Get(ctx context.Context, tx store.Tx, ref store.DebtRef) (domain.Debt, bool, error) {
	row := unwrap(tx).QueryRowContext(ctx, debtSelect+
		` WHERE d.debtor = $1 AND d.creditor = $2 AND d.equivalent_id = $3`,
		ref.Debtor, ref.Creditor, ref.Equivalent)
	return scanDebt(row)
}

// GetForUpdate takes a row-level FOR UPDATE lock so a concurrent
// prepare/commit on the same (debtor, creditor, equivalent) segment
// blocks until this transaction ends.
func (d debtStore) GetForUpdate(ctx context.Context, tx store.Tx, ref store.DebtRef) (domain.Debt, bool, error) {
	row := unwrap(tx).QueryRowContext(ctx, debtSelect+
		` WHERE d.debtor = $1 AND d.creditor = $2 AND d.equivalent_id = $3 FOR UPDATE OF d`,
		ref.Debtor, ref.Creditor, ref.Equivalent)
	return scanDebt(row)
}

func (d debtStore) Upsert(ctx context.Context, tx store.Tx, debt domain.Debt) (domain.Debt, error) {
	sqlTx := unwrap(tx)

	if debt.ID.IsZero() {
		var existingID idtype.ID
		var existingVersion int
		err := sqlTx.QueryRowContext(ctx,
			`SELECT id, version FROM debts WHERE debtor = $1 AND creditor = $2 AND equivalent_id = $3`,
			debt.Debtor, debt.Creditor, debt.Equivalent,
		).Scan(&existingID, &existingVersion)
		switch {
		case err == sql.ErrNoRows:
			debt.ID = idtype.New()
			debt.Version = 0
		case err != nil:
			return domain.Debt{}, err
		default:
			debt.ID = existingID
			debt.Version = existingVersion
		}
	}

	if debt.Version == 0 {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO debts (id, debtor, creditor, equivalent_id, amount_units, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, 1, NOW())
		`, debt.ID, debt.Debtor, debt.Creditor, debt.Equivalent, debt.Amount.Units().String())
		if err != nil {
			return domain.Debt{}, err
		}
		debt.Version = 1
		return debt, nil
	}

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE debts SET amount_units = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
	`, debt.Amount.Units().String(), debt.ID, debt.Version)
	if err != nil {
		return domain.Debt{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Debt{}, err
	}
	if affected == 0 {
		return domain.Debt{}, store.ErrStaleVersion
	}
	debt.Version++
	return debt, nil
}

func (d debtStore) Delete(ctx context.Context, tx store.Tx, id idtype.ID) error {
	_, err := unwrap(tx).ExecContext(ctx, `DELETE FROM debts WHERE id = $1`, id)
	return err
}

func (d debtStore) ListByEquivalent(ctx context.Context, tx store.Tx, equivalent idtype.ID) ([]domain.Debt, error) {
	rows, err := unwrap(tx).QueryContext(ctx, debtSelect+` WHERE d.equivalent_id = $1 ORDER BY d.id`, equivalent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Debt
	for rows.Next() {
		debt, _, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, debt)
	}
	return out, rows.Err()
}

func (d debtStore) ListByParticipant(ctx context.Context, tx store.Tx, participant, equivalent idtype.ID) ([]domain.Debt, error) {
	rows, err := unwrap(tx).QueryContext(ctx, debtSelect+
		` WHERE d.equivalent_id = $1 AND (d.debtor = $2 OR d.creditor = $2)`, equivalent, participant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Debt
	for rows.Next() {
		debt, _, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, debt)
	}
	return out, rows.Err()
}
