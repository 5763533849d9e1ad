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

type transactionStore struct{ s *Store }

const transactionSelect = `
	SELECT id, type, initiator, payload, state, error_code, error_message, error_details,
	       idempotency_key, updated_at
	FROM transactions
`

func scanTransaction(row interface{ Scan(...any) error }) (domain.Transaction, bool, error) {
	var t domain.Transaction
	var typ, state string
	var payload []byte
	var errCode, errMsg, idempotencyKey sql.NullString
	var errDetails []byte
	if err := row.Scan(&t.ID, &typ, &t.Initiator, &payload, &state, &errCode, &errMsg, &errDetails,
		&idempotencyKey, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.Transaction{}, false, nil
		}
		return domain.Transaction{}, false, err
	}
	t.Type = domain.TransactionType(typ)
	t.State = domain.TransactionState(state)
	t.IdempotencyKey = idempotencyKey.String

	payloadMap, err := unmarshalMap(payload)
	if err != nil {
		return domain.Transaction{}, false, err
	}
	t.Payload = payloadMap

	if errCode.Valid {
		details, err := unmarshalMap(errDetails)
		if err != nil {
			return domain.Transaction{}, false, err
		}
		t.Error = &domain.TxError{Code: errCode.String, Message: errMsg.String, Details: details}
	}
	return t, true, nil
}

func (t transactionStore) Get(ctx context.Context, tx store.Tx, id idtype.ID) (domain.Transaction, bool, error) {
	row := unwrap(tx).QueryRowContext(ctx, transactionSelect+` WHERE id = $1`, id)
	return scanTransaction(row)
}

func (t transactionStore) GetByIdempotencyKey(ctx context.Context, tx store.Tx, initiator idtype.ID, txType domain.TransactionType, key string) (domain.Transaction, bool, error) {
	if key == "" {
		return domain.Transaction{}, false, nil
	}
	row := unwrap(tx).QueryRowContext(ctx, transactionSelect+
		` WHERE initiator = $1 AND type = $2 AND idempotency_key = $3`, initiator, string(txType), key)
	return scanTransaction(row)
}

func (t transactionStore) Upsert(ctx context.Context, tx store.Tx, transaction domain.Transaction) error {
	if transaction.ID.IsZero() {
		transaction.ID = idtype.New()
	}
	payload, err := jsonbOf(transaction.Payload)
	if err != nil {
		return err
	}

	var errCode, errMsg sql.NullString
	var errDetails []byte
	if transaction.Error != nil {
		errCode = sql.NullString{String: transaction.Error.Code, Valid: true}
		errMsg = sql.NullString{String: transaction.Error.Message, Valid: true}
		errDetails, err = jsonbOfPtr(transaction.Error.Details)
		if err != nil {
			return err
		}
	}
	var idempotencyKey sql.NullString
	if transaction.IdempotencyKey != "" {
		idempotencyKey = sql.NullString{String: transaction.IdempotencyKey, Valid: true}
	}

	_, err = unwrap(tx).ExecContext(ctx, `
		INSERT INTO transactions
			(id, type, initiator, payload, state, error_code, error_message, error_details,
			 idempotency_key, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			payload         = EXCLUDED.payload,
			state           = EXCLUDED.state,
			error_code      = EXCLUDED.error_code,
			error_message   = EXCLUDED.error_message,
			error_details   = EXCLUDED.error_details,
			updated_at      = NOW()
	`, transaction.ID, string(transaction.Type), transaction.Initiator, payload, string(transaction.State),
		errCode, errMsg, errDetails, idempotencyKey)
	return err
}

func (t transactionStore) ListStale(ctx context.Context, tx store.Tx, txType domain.TransactionType, olderThan time.Time) ([]domain.Transaction, error) {
	rows, err := unwrap(tx).QueryContext(ctx, transactionSelect+
		` WHERE type = $1 AND state = ANY($2) AND updated_at < $3`,
		string(txType), pq.Array(activeStateNames()), olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (t transactionStore) ListByParticipant(ctx context.Context, tx store.Tx, participant idtype.ID, equivalent *idtype.ID, since *time.Time) ([]domain.Transaction, error) {
	query := transactionSelect + ` WHERE initiator = $1`
	args := []any{participant}
	if since != nil {
		args = append(args, *since)
		query += ` AND updated_at >= $2`
	}
	rows, err := unwrap(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for rows.Next() {
		transaction, _, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, transaction)
	}
	return out, rows.Err()
}

func activeStateNames() []string {
	names := make([]string, 0, len(domain.ActiveTransactionStates))
	for _, s := range domain.ActiveTransactionStates {
		names = append(names, string(s))
	}
	return names
}
