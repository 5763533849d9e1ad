// Package store defines the persistence boundary the ledger core writes
// through and reads from. internal/store/postgres implements it over
// database/sql + lib/pq; internal/store/memory implements it for tests
// and for the spec's "no DATABASE_URL configured" fallback mode, the
// same Postgres/Memory pairing the teacher uses for every one of its
// domain stores (ledger, escrow, credit).
package store

import (
	"context"
	"time"

	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/idtype"
)

// ErrNotFound is returned when a lookup by ID finds no row.
var ErrNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "store: not found" }

// ErrStaleVersion is returned when an UPDATE ... WHERE version = $n
// affects zero rows: another writer updated the row first.
var ErrStaleVersion = &staleVersionError{}

type staleVersionError struct{}

func (*staleVersionError) Error() string { return "store: stale version" }

// Tx is a single unit-of-work boundary. Every mutating Store method that
// must be atomic with others takes a Tx obtained from Store.Begin.
type Tx interface {
	Commit() error
	Rollback() error

	// AdvisoryLock acquires a transaction-scoped advisory lock keyed by
	// key. It is a no-op on stores that do not support it (e.g. the
	// in-memory store uses ordinary mutexes instead).
	AdvisoryLock(ctx context.Context, key int64) error

	// Savepoint runs fn inside a nested savepoint; on error the
	// savepoint (not the whole transaction) is rolled back.
	Savepoint(ctx context.Context, fn func() error) error
}

// Store is the full persistence surface the payment engine, clearing
// engine, invariant checker, integrity checkpoint, and recovery loop
// are built against.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	Equivalents() EquivalentStore
	Participants() ParticipantStore
	TrustLines() TrustLineStore
	Debts() DebtStore
	Transactions() TransactionStore
	PrepareLocks() PrepareLockStore
	AuditLogs() AuditLogStore
	IntegrityAuditLogs() IntegrityAuditLogStore

	// Migrate creates schema objects if they do not already exist.
	Migrate(ctx context.Context) error
}

type EquivalentStore interface {
	Get(ctx context.Context, tx Tx, id idtype.ID) (domain.Equivalent, error)
	GetByCode(ctx context.Context, tx Tx, code string) (domain.Equivalent, error)
	List(ctx context.Context, tx Tx) ([]domain.Equivalent, error)
}

type ParticipantStore interface {
	Get(ctx context.Context, tx Tx, id idtype.ID) (domain.Participant, error)
	GetByPID(ctx context.Context, tx Tx, pid string) (domain.Participant, error)
}

type TrustLineStore interface {
	Get(ctx context.Context, tx Tx, from, to, equivalent idtype.ID) (domain.TrustLine, error)
	Upsert(ctx context.Context, tx Tx, tl domain.TrustLine) error
	ListByEquivalent(ctx context.Context, tx Tx, equivalent idtype.ID) ([]domain.TrustLine, error)
}

type DebtRef struct {
	Debtor, Creditor, Equivalent idtype.ID
}

type DebtStore interface {
	Get(ctx context.Context, tx Tx, ref DebtRef) (domain.Debt, bool, error)
	// GetForUpdate behaves like Get but additionally takes a row-level
	// lock on Postgres (SELECT ... FOR UPDATE); on the in-memory store
	// it is identical to Get since the store's own mutex already
	// serializes access.
	GetForUpdate(ctx context.Context, tx Tx, ref DebtRef) (domain.Debt, bool, error)
	// Upsert writes d using optimistic concurrency: if d.ID is already
	// set, it updates WHERE version = d.Version and returns
	// ErrStaleVersion on conflict; otherwise it inserts a new row at
	// version 1.
	Upsert(ctx context.Context, tx Tx, d domain.Debt) (domain.Debt, error)
	Delete(ctx context.Context, tx Tx, id idtype.ID) error
	ListByEquivalent(ctx context.Context, tx Tx, equivalent idtype.ID) ([]domain.Debt, error)
	// ListByParticipant returns every debt in which participant is
	// either debtor or creditor, for net-position computation.
	ListByParticipant(ctx context.Context, tx Tx, participant, equivalent idtype.ID) ([]domain.Debt, error)
}

type TransactionStore interface {
	Get(ctx context.Context, tx Tx, id idtype.ID) (domain.Transaction, bool, error)
	GetByIdempotencyKey(ctx context.Context, tx Tx, initiator idtype.ID, txType domain.TransactionType, key string) (domain.Transaction, bool, error)
	Upsert(ctx context.Context, tx Tx, t domain.Transaction) error
	ListStale(ctx context.Context, tx Tx, txType domain.TransactionType, olderThan time.Time) ([]domain.Transaction, error)
	ListByParticipant(ctx context.Context, tx Tx, participant idtype.ID, equivalent *idtype.ID, since *time.Time) ([]domain.Transaction, error)
}

type PrepareLockStore interface {
	Get(ctx context.Context, tx Tx, txID idtype.ID) ([]domain.PrepareLock, error)
	Upsert(ctx context.Context, tx Tx, l domain.PrepareLock) error
	DeleteByTx(ctx context.Context, tx Tx, txID idtype.ID) error
	// ListReservedFlows returns the flows of every active (non-expired)
	// lock other than excludeTxID that touches the given segment.
	ListReservedFlows(ctx context.Context, tx Tx, from, to, equivalent idtype.ID, excludeTxID idtype.ID, asOf time.Time) ([]domain.RouteFlow, error)
	ListExpired(ctx context.Context, tx Tx, asOf time.Time) ([]domain.PrepareLock, error)
	ListActive(ctx context.Context, tx Tx, asOf time.Time) ([]domain.PrepareLock, error)
	CountActive(ctx context.Context, tx Tx, asOf time.Time) (int, error)
}

type AuditLogStore interface {
	Append(ctx context.Context, tx Tx, entry domain.AuditLog) error
	Query(ctx context.Context, tx Tx, actor string, limit int) ([]domain.AuditLog, error)
}

type IntegrityAuditLogStore interface {
	Append(ctx context.Context, tx Tx, entry domain.IntegrityAuditLog) error
	Query(ctx context.Context, tx Tx, equivalent idtype.ID, limit int) ([]domain.IntegrityAuditLog, error)
}
