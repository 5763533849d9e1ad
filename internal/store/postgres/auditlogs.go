package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/store"
)

type auditLogStore struct{ s *Store }

func (a auditLogStore) Append(ctx context.Context, tx store.Tx, entry domain.AuditLog) error {
	if entry.ID.IsZero() {
		entry.ID = idtype.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	before, err := jsonbOfPtr(entry.Before)
	if err != nil {
		return err
	}
	after, err := jsonbOfPtr(entry.After)
	if err != nil {
		return err
	}
	_, err = unwrap(tx).ExecContext(ctx, `
		INSERT INTO audit_logs (id, timestamp, actor, action, object, before, after, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.Timestamp, entry.Actor, entry.Action, entry.Object, before, after, entry.RequestID)
	return err
}

func (a auditLogStore) Query(ctx context.Context, tx store.Tx, actor string, limit int) ([]domain.AuditLog, error) {
	const base = `SELECT id, timestamp, actor, action, object, before, after, request_id FROM audit_logs`
	var rows *sql.Rows
	var err error
	if actor == "" {
		rows, err = unwrap(tx).QueryContext(ctx, base+` ORDER BY timestamp DESC LIMIT $1`, limit)
	} else {
		rows, err = unwrap(tx).QueryContext(ctx, base+` WHERE actor = $1 ORDER BY timestamp DESC LIMIT $2`, actor, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditLog
	for rows.Next() {
		var entry domain.AuditLog
		var before, after []byte
		var requestID sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.Actor, &entry.Action, &entry.Object,
			&before, &after, &requestID); err != nil {
			return nil, err
		}
		entry.RequestID = requestID.String
		if entry.Before, err = unmarshalMap(before); err != nil {
			return nil, err
		}
		if entry.After, err = unmarshalMap(after); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

type integrityAuditLogStore struct{ s *Store }

func (a integrityAuditLogStore) Append(ctx context.Context, tx store.Tx, entry domain.IntegrityAuditLog) error {
	if entry.ID.IsZero() {
		entry.ID = idtype.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	details, err := jsonbOfPtr(entry.ErrorDetails)
	if err != nil {
		return err
	}
	affected := make(pq.StringArray, 0, len(entry.AffectedParticipants))
	for _, id := range entry.AffectedParticipants {
		affected = append(affected, id.String())
	}
	_, err = unwrap(tx).ExecContext(ctx, `
		INSERT INTO integrity_audit_logs
			(id, operation_type, tx_id, equivalent_id, checksum_before, checksum_after,
			 affected_participants, invariants_checked, verification_passed, error_details, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, entry.ID, string(entry.OperationType), entry.TxID, entry.Equivalent,
		entry.ChecksumBefore, entry.ChecksumAfter, affected,
		pq.StringArray(entry.InvariantsChecked), entry.VerificationPassed, details, entry.Timestamp)
	return err
}

func (a integrityAuditLogStore) Query(ctx context.Context, tx store.Tx, equivalent idtype.ID, limit int) ([]domain.IntegrityAuditLog, error) {
	rows, err := unwrap(tx).QueryContext(ctx, `
		SELECT id, operation_type, tx_id, equivalent_id, checksum_before, checksum_after,
		       affected_participants, invariants_checked, verification_passed, error_details, timestamp
		FROM integrity_audit_logs
		WHERE equivalent_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, equivalent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.IntegrityAuditLog
	for rows.Next() {
		var entry domain.IntegrityAuditLog
		var opType string
		var affected, invariantsChecked pq.StringArray
		var details []byte
		if err := rows.Scan(&entry.ID, &opType, &entry.TxID, &entry.Equivalent,
			&entry.ChecksumBefore, &entry.ChecksumAfter, &affected, &invariantsChecked,
			&entry.VerificationPassed, &details, &entry.Timestamp); err != nil {
			return nil, err
		}
		entry.OperationType = domain.TransactionType(opType)
		entry.InvariantsChecked = []string(invariantsChecked)
		entry.AffectedParticipants = make([]idtype.ID, 0, len(affected))
		for _, s := range affected {
			id, err := idtype.Parse(s)
			if err != nil {
				return nil, err
			}
			entry.AffectedParticipants = append(entry.AffectedParticipants, id)
		}
		if entry.ErrorDetails, err = unmarshalMap(details); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
