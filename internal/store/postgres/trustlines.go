package postgres

import (
	"context"
	"database/sql"
	"math/big"

	"github.com/lib/pq"

	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/money"
	"github.com/slawa19/geoledger/internal/store"
)

type trustLineStore struct{ s *Store }

const trustLineSelect = `
	SELECT tl.id, tl.from_participant, tl.to_participant, tl.equivalent_id,
	       tl.limit_units, e.precision, tl.status, tl.auto_clearing,
	       tl.can_be_intermediate, tl.blocklist, tl.version, tl.updated_at
	FROM trust_lines tl JOIN equivalents e ON e.id = tl.equivalent_id
`

func scanTrustLine(row interface{ Scan(...any) error }) (domain.TrustLine, error) {
	var tl domain.TrustLine
	var limitUnits string
	var precision int
	var status string
	var blocklist pq.StringArray
	if err := row.Scan(&tl.ID, &tl.From, &tl.To, &tl.Equivalent, &limitUnits, &precision,
		&status, &tl.Policy.AutoClearing, &tl.Policy.CanBeIntermediate, &blocklist,
		&tl.Version, &tl.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.TrustLine{}, store.ErrNotFound
		}
		return domain.TrustLine{}, err
	}
	units, ok := new(big.Int).SetString(limitUnits, 10)
	if !ok {
		return domain.TrustLine{}, errInvalidUnits(limitUnits)
	}
	tl.Limit = money.FromUnits(units, precision)
	tl.Status = domain.TrustLineStatus(status)
	tl.Policy.Blocklist = make([]idtype.ID, 0, len(blocklist))
	for _, s := range blocklist {
		id, err := idtype.Parse(s)
		if err != nil {
			return domain.TrustLine{}, err
		}
		tl.Policy.Blocklist = append(tl.Policy.Blocklist, id)
	}
	return tl, nil
}

func (t trustLineStore) Get(ctx context.Context, tx store.Tx, from, to, equivalent idtype.ID) (domain.TrustLine, error) {
	row := unwrap(tx).QueryRowContext(ctx, trustLineSelect+
		` WHERE tl.from_participant = $1 AND tl.to_participant = $2 AND tl.equivalent_id = $3`,
		from, to, equivalent)
	return scanTrustLine(row)
}

func (t trustLineStore) Upsert(ctx context.Context, tx store.Tx, tl domain.TrustLine) error {
	if tl.ID.IsZero() {
		tl.ID = idtype.New()
	}
	blocklist := make(pq.StringArray, 0, len(tl.Policy.Blocklist))
	for _, id := range tl.Policy.Blocklist {
		blocklist = append(blocklist, id.String())
	}
	_, err := unwrap(tx).ExecContext(ctx, `
		INSERT INTO trust_lines
			(id, from_participant, to_participant, equivalent_id, limit_units,
			 status, auto_clearing, can_be_intermediate, blocklist, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (from_participant, to_participant, equivalent_id) DO UPDATE SET
			limit_units          = EXCLUDED.limit_units,
			status               = EXCLUDED.status,
			auto_clearing        = EXCLUDED.auto_clearing,
			can_be_intermediate  = EXCLUDED.can_be_intermediate,
			blocklist            = EXCLUDED.blocklist,
			version              = trust_lines.version + 1,
			updated_at           = NOW()
	`, tl.ID, tl.From, tl.To, tl.Equivalent, tl.Limit.Units().String(), string(tl.Status),
		tl.Policy.AutoClearing, tl.Policy.CanBeIntermediate, blocklist, tl.Version)
	return err
}

func (t trustLineStore) ListByEquivalent(ctx context.Context, tx store.Tx, equivalent idtype.ID) ([]domain.TrustLine, error) {
	rows, err := unwrap(tx).QueryContext(ctx, trustLineSelect+` WHERE tl.equivalent_id = $1`, equivalent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TrustLine
	for rows.Next() {
		tl, err := scanTrustLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tl)
	}
	return out, rows.Err()
}
