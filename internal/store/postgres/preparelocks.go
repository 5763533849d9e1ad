package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"math/big"
	"time"

	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/money"
	"github.com/slawa19/geoledger/internal/store"
)

type prepareLockStore struct{ s *Store }

// jsonFlow is the wire shape of a domain.RouteFlow inside a prepare
// lock's effects JSONB column. AmountUnits/Precision are carried
// together since the column has no per-row precision of its own.
type jsonFlow struct {
	From       idtype.ID `json:"from"`
	To         idtype.ID `json:"to"`
	Equivalent idtype.ID `json:"equivalent"`
	Units      string    `json:"units"`
	Precision  int       `json:"precision"`
}

type jsonEffects struct {
	Flows []jsonFlow `json:"flows"`
}

func encodeEffects(effects domain.PrepareLockEffects) ([]byte, error) {
	wire := jsonEffects{Flows: make([]jsonFlow, 0, len(effects.Flows))}
	for _, f := range effects.Flows {
		wire.Flows = append(wire.Flows, jsonFlow{
			From: f.From, To: f.To, Equivalent: f.Equivalent,
			Units: f.Amount.Units().String(), Precision: f.Amount.Precision(),
		})
	}
	return json.Marshal(wire)
}

func decodeEffects(raw []byte) (domain.PrepareLockEffects, error) {
	var wire jsonEffects
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &wire); err != nil {
			return domain.PrepareLockEffects{}, err
		}
	}
	effects := domain.PrepareLockEffects{Flows: make([]domain.RouteFlow, 0, len(wire.Flows))}
	for _, f := range wire.Flows {
		units, ok := new(big.Int).SetString(f.Units, 10)
		if !ok {
			return domain.PrepareLockEffects{}, errInvalidUnits(f.Units)
		}
		effects.Flows = append(effects.Flows, domain.RouteFlow{
			From: f.From, To: f.To, Equivalent: f.Equivalent,
			Amount: money.FromUnits(units, f.Precision),
		})
	}
	return effects, nil
}

const prepareLockSelect = `SELECT id, tx_id, participant, effects, expires_at FROM prepare_locks`

func scanPrepareLock(row interface{ Scan(...any) error }) (domain.PrepareLock, error) {
	var l domain.PrepareLock
	var effectsRaw []byte
	if err := row.Scan(&l.ID, &l.TxID, &l.Participant, &effectsRaw, &l.ExpiresAt); err != nil {
		return domain.PrepareLock{}, err
	}
	effects, err := decodeEffects(effectsRaw)
	if err != nil {
		return domain.PrepareLock{}, err
	}
	l.Effects = effects
	return l, nil
}

func (p prepareLockStore) Get(ctx context.Context, tx store.Tx, txID idtype.ID) ([]domain.PrepareLock, error) {
	rows, err := unwrap(tx).QueryContext(ctx, prepareLockSelect+` WHERE tx_id = $1`, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPrepareLocks(rows)
}

func (p prepareLockStore) Upsert(ctx context.Context, tx store.Tx, lock domain.PrepareLock) error {
	if lock.ID.IsZero() {
		lock.ID = idtype.New()
	}
	effects, err := encodeEffects(lock.Effects)
	if err != nil {
		return err
	}
	_, err = unwrap(tx).ExecContext(ctx, `
		INSERT INTO prepare_locks (id, tx_id, participant, effects, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tx_id, participant) DO UPDATE SET
			effects    = EXCLUDED.effects,
			expires_at = EXCLUDED.expires_at
	`, lock.ID, lock.TxID, lock.Participant, effects, lock.ExpiresAt)
	return err
}

func (p prepareLockStore) DeleteByTx(ctx context.Context, tx store.Tx, txID idtype.ID) error {
	_, err := unwrap(tx).ExecContext(ctx, `DELETE FROM prepare_locks WHERE tx_id = $1`, txID)
	return err
}

// ListReservedFlows scans every active lock other than excludeTxID and
// filters its flows in Go rather than in SQL, since a flow's (from, to,
// equivalent) triple is nested inside the effects JSONB rather than
// being its own indexed column.
func (p prepareLockStore) ListReservedFlows(ctx context.Context, tx store.Tx, from, to, equivalent idtype.ID, excludeTxID idtype.ID, asOf time.Time) ([]domain.RouteFlow, error) {
	rows, err := unwrap(tx).QueryContext(ctx, prepareLockSelect+
		` WHERE tx_id != $1 AND expires_at > $2`, excludeTxID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RouteFlow
	for rows.Next() {
		lock, err := scanPrepareLock(rows)
		if err != nil {
			return nil, err
		}
		for _, flow := range lock.Effects.Flows {
			if flow.From == from && flow.To == to && flow.Equivalent == equivalent {
				out = append(out, flow)
			}
		}
	}
	return out, rows.Err()
}

func (p prepareLockStore) ListExpired(ctx context.Context, tx store.Tx, asOf time.Time) ([]domain.PrepareLock, error) {
	rows, err := unwrap(tx).QueryContext(ctx, prepareLockSelect+` WHERE expires_at <= $1`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPrepareLocks(rows)
}

func (p prepareLockStore) ListActive(ctx context.Context, tx store.Tx, asOf time.Time) ([]domain.PrepareLock, error) {
	rows, err := unwrap(tx).QueryContext(ctx, prepareLockSelect+` WHERE expires_at > $1`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPrepareLocks(rows)
}

func (p prepareLockStore) CountActive(ctx context.Context, tx store.Tx, asOf time.Time) (int, error) {
	var count int
	err := unwrap(tx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM prepare_locks WHERE expires_at > $1`, asOf).Scan(&count)
	return count, err
}

func collectPrepareLocks(rows *sql.Rows) ([]domain.PrepareLock, error) {
	var out []domain.PrepareLock
	for rows.Next() {
		lock, err := scanPrepareLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lock)
	}
	return out, rows.Err()
}
