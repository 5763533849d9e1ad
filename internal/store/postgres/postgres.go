// Package postgres implements internal/store.Store over database/sql and
// github.com/lib/pq, the same driver pairing the teacher's
// internal/ledger, internal/credit, and internal/escrow Postgres stores
// use. Money amounts are persisted as the smallest-unit big.Int text the
// teacher already uses for balances/amounts (internal/ledger's
// VARCHAR-encoded amount columns); each sub-store reconstitutes a
// money.Amount by pairing that text with the precision of the row's
// owning Equivalent, since Amount itself carries no precision column of
// its own to persist.
package postgres

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/slawa19/geoledger/internal/store"
)

// Store implements store.Store with PostgreSQL.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened *sql.DB. Callers own the DB's lifecycle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates every table this store needs if it does not already
// exist, mirroring the inline-DDL Migrate method on the teacher's
// PostgresStore/PostgresCreditStore/PostgresEscrowStore.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaDDL)
	return err
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS equivalents (
	id         UUID PRIMARY KEY,
	code       VARCHAR(32) UNIQUE NOT NULL,
	precision  INT NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS participants (
	id            UUID PRIMARY KEY,
	pid           VARCHAR(128) UNIQUE NOT NULL,
	display_name  VARCHAR(255) NOT NULL DEFAULT '',
	public_key    BYTEA,
	type          VARCHAR(16) NOT NULL,
	status        VARCHAR(16) NOT NULL
);

CREATE TABLE IF NOT EXISTS trust_lines (
	id                  UUID PRIMARY KEY,
	from_participant    UUID NOT NULL,
	to_participant      UUID NOT NULL,
	equivalent_id       UUID NOT NULL,
	limit_units         NUMERIC(39,0) NOT NULL,
	status              VARCHAR(16) NOT NULL,
	auto_clearing       BOOLEAN NOT NULL DEFAULT FALSE,
	can_be_intermediate BOOLEAN NOT NULL DEFAULT TRUE,
	blocklist           UUID[] NOT NULL DEFAULT '{}',
	version             INT NOT NULL DEFAULT 0,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (from_participant, to_participant, equivalent_id)
);
CREATE INDEX IF NOT EXISTS idx_trust_lines_equivalent ON trust_lines(equivalent_id);

CREATE TABLE IF NOT EXISTS debts (
	id             UUID PRIMARY KEY,
	debtor         UUID NOT NULL,
	creditor       UUID NOT NULL,
	equivalent_id  UUID NOT NULL,
	amount_units   NUMERIC(39,0) NOT NULL,
	version        INT NOT NULL DEFAULT 0,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (debtor, creditor, equivalent_id)
);
CREATE INDEX IF NOT EXISTS idx_debts_equivalent ON debts(equivalent_id);
CREATE INDEX IF NOT EXISTS idx_debts_debtor ON debts(debtor);
CREATE INDEX IF NOT EXISTS idx_debts_creditor ON debts(creditor);

CREATE TABLE IF NOT EXISTS transactions (
	id               UUID PRIMARY KEY,
	type             VARCHAR(24) NOT NULL,
	initiator        UUID NOT NULL,
	payload          JSONB NOT NULL DEFAULT '{}',
	state            VARCHAR(24) NOT NULL,
	error_code       VARCHAR(16),
	error_message    TEXT,
	error_details    JSONB,
	idempotency_key  VARCHAR(255),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_state ON transactions(type, state, updated_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
	ON transactions(initiator, type, idempotency_key)
	WHERE idempotency_key IS NOT NULL AND idempotency_key != '';
CREATE INDEX IF NOT EXISTS idx_transactions_initiator ON transactions(initiator, updated_at DESC);

CREATE TABLE IF NOT EXISTS prepare_locks (
	id            UUID PRIMARY KEY,
	tx_id         UUID NOT NULL,
	participant   UUID NOT NULL,
	effects       JSONB NOT NULL DEFAULT '{"flows":[]}',
	expires_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (tx_id, participant)
);
CREATE INDEX IF NOT EXISTS idx_prepare_locks_tx ON prepare_locks(tx_id);
CREATE INDEX IF NOT EXISTS idx_prepare_locks_expires ON prepare_locks(expires_at);

CREATE TABLE IF NOT EXISTS audit_logs (
	id          UUID PRIMARY KEY,
	timestamp   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	actor       VARCHAR(255) NOT NULL,
	action      VARCHAR(128) NOT NULL,
	object      VARCHAR(255) NOT NULL,
	before      JSONB,
	after       JSONB,
	request_id  VARCHAR(128)
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_actor ON audit_logs(actor, timestamp DESC);

CREATE TABLE IF NOT EXISTS integrity_audit_logs (
	id                    UUID PRIMARY KEY,
	operation_type        VARCHAR(24) NOT NULL,
	tx_id                 UUID,
	equivalent_id         UUID NOT NULL,
	checksum_before       VARCHAR(128),
	checksum_after        VARCHAR(128),
	affected_participants UUID[] NOT NULL DEFAULT '{}',
	invariants_checked    TEXT[] NOT NULL DEFAULT '{}',
	verification_passed   BOOLEAN NOT NULL,
	error_details         JSONB,
	timestamp             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_integrity_audit_logs_equivalent ON integrity_audit_logs(equivalent_id, timestamp DESC);
`

// sqlTx is the database/sql-backed store.Tx.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

// AdvisoryLock takes a transaction-scoped Postgres advisory lock, the
// same pg_advisory_xact_lock primitive the reference payment engine uses
// to serialize concurrent prepares touching the same trust-line segment.
func (t *sqlTx) AdvisoryLock(ctx context.Context, key int64) error {
	_, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, key)
	return err
}

// Savepoint runs fn inside a nested SAVEPOINT, rolling back only that
// savepoint (not the whole transaction) if fn errors.
func (t *sqlTx) Savepoint(ctx context.Context, fn func() error) error {
	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT op`); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT op`); rbErr != nil {
			return rbErr
		}
		return err
	}
	_, err := t.tx.ExecContext(ctx, `RELEASE SAVEPOINT op`)
	return err
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

// unwrap recovers the underlying *sql.Tx from a store.Tx. Every
// sub-store method is only ever called with a Tx this package itself
// produced via Begin, so the type assertion cannot fail in practice.
func unwrap(tx store.Tx) *sql.Tx {
	return tx.(*sqlTx).tx
}

func (s *Store) Equivalents() store.EquivalentStore               { return equivalentStore{s} }
func (s *Store) Participants() store.ParticipantStore              { return participantStore{s} }
func (s *Store) TrustLines() store.TrustLineStore                  { return trustLineStore{s} }
func (s *Store) Debts() store.DebtStore                            { return debtStore{s} }
func (s *Store) Transactions() store.TransactionStore              { return transactionStore{s} }
func (s *Store) PrepareLocks() store.PrepareLockStore               { return prepareLockStore{s} }
func (s *Store) AuditLogs() store.AuditLogStore                    { return auditLogStore{s} }
func (s *Store) IntegrityAuditLogs() store.IntegrityAuditLogStore { return integrityAuditLogStore{s} }
