package postgres

import (
	"context"
	"database/sql"

	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/store"
)

type equivalentStore struct{ s *Store }

func (e equivalentStore) Get(ctx context.Context, tx store.Tx, id idtype.ID) (domain.Equivalent, error) {
	var eq domain.Equivalent
	row := unwrap(tx).QueryRowContext(ctx,
		`SELECT id, code, precision, active FROM equivalents WHERE id = $1`, id)
	if err := row.Scan(&eq.ID, &eq.Code, &eq.Precision, &eq.Active); err != nil {
		if err == sql.ErrNoRows {
			return domain.Equivalent{}, store.ErrNotFound
		}
		return domain.Equivalent{}, err
	}
	return eq, nil
}

func (e equivalentStore) GetByCode(ctx context.Context, tx store.Tx, code string) (domain.Equivalent, error) {
	var eq domain.Equivalent
	row := unwrap(tx).QueryRowContext(ctx,
		`SELECT id, code, precision, active FROM equivalents WHERE code = $1`, code)
	if err := row.Scan(&eq.ID, &eq.Code, &eq.Precision, &eq.Active); err != nil {
		if err == sql.ErrNoRows {
			return domain.Equivalent{}, store.ErrNotFound
		}
		return domain.Equivalent{}, err
	}
	return eq, nil
}

func (e equivalentStore) List(ctx context.Context, tx store.Tx) ([]domain.Equivalent, error) {
	rows, err := unwrap(tx).QueryContext(ctx,
		`SELECT id, code, precision, active FROM equivalents ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Equivalent
	for rows.Next() {
		var eq domain.Equivalent
		if err := rows.Scan(&eq.ID, &eq.Code, &eq.Precision, &eq.Active); err != nil {
			return nil, err
		}
		out = append(out, eq)
	}
	return out, rows.Err()
}
