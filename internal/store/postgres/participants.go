package postgres

import (
	"context"
	"database/sql"

	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/store"
)

type participantStore struct{ s *Store }

func scanParticipant(row interface{ Scan(...any) error }) (domain.Participant, error) {
	var p domain.Participant
	var pType, status string
	if err := row.Scan(&p.ID, &p.PID, &p.DisplayName, &p.PublicKey, &pType, &status); err != nil {
		if err == sql.ErrNoRows {
			return domain.Participant{}, store.ErrNotFound
		}
		return domain.Participant{}, err
	}
	p.Type = domain.ParticipantType(pType)
	p.Status = domain.ParticipantStatus(status)
	return p, nil
}

func (p participantStore) Get(ctx context.Context, tx store.Tx, id idtype.ID) (domain.Participant, error) {
	row := unwrap(tx).QueryRowContext(ctx,
		`SELECT id, pid, display_name, public_key, type, status FROM participants WHERE id = $1`, id)
	return scanParticipant(row)
}

func (p participantStore) GetByPID(ctx context.Context, tx store.Tx, pid string) (domain.Participant, error) {
	row := unwrap(tx).QueryRowContext(ctx,
		`SELECT id, pid, display_name, public_key, type, status FROM participants WHERE pid = $1`, pid)
	return scanParticipant(row)
}
