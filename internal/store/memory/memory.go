// Package memory implements internal/store.Store entirely in process
// memory, guarded by a single mutex. It backs unit tests and the
// deployment mode where no DATABASE_URL is configured, mirroring the
// teacher's MemoryAuditLogger/PostgresAuditLogger pairing extended to
// every entity store instead of just the audit log.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	equivalents  map[idtype.ID]domain.Equivalent
	participants map[idtype.ID]domain.Participant
	trustLines   map[idtype.ID]domain.TrustLine
	debts        map[idtype.ID]domain.Debt
	transactions map[idtype.ID]domain.Transaction
	prepareLocks map[idtype.ID]domain.PrepareLock
	auditLogs    []domain.AuditLog
	integrityLog []domain.IntegrityAuditLog
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		equivalents:  make(map[idtype.ID]domain.Equivalent),
		participants: make(map[idtype.ID]domain.Participant),
		trustLines:   make(map[idtype.ID]domain.TrustLine),
		debts:        make(map[idtype.ID]domain.Debt),
		transactions: make(map[idtype.ID]domain.Transaction),
		prepareLocks: make(map[idtype.ID]domain.PrepareLock),
	}
}

func (s *Store) Migrate(ctx context.Context) error { return nil }

// tx is a no-op unit-of-work marker: the in-memory store serializes
// every operation through Store.mu instead of a real transaction, the
// same way a single-process lock stands in for advisory locks here.
// Only the first Commit or Rollback releases the mutex, so the usual
// deferred Rollback after a successful Commit is harmless.
type tx struct {
	s    *Store
	done bool
}

func (t *tx) Commit() error   { t.finish(); return nil }
func (t *tx) Rollback() error { t.finish(); return nil }

func (t *tx) finish() {
	if !t.done {
		t.done = true
		t.s.mu.Unlock()
	}
}

func (t *tx) AdvisoryLock(ctx context.Context, key int64) error {
	// The outer mutex already serializes the whole store; per-key
	// ordering is irrelevant in a single-process in-memory store.
	return nil
}

func (t *tx) Savepoint(ctx context.Context, fn func() error) error {
	return fn()
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	s.mu.Lock()
	return &tx{s: s}, nil
}

// --- Equivalents ---

type equivalentStore struct{ s *Store }

func (s *Store) Equivalents() store.EquivalentStore { return equivalentStore{s} }

func (e equivalentStore) Get(ctx context.Context, tx store.Tx, id idtype.ID) (domain.Equivalent, error) {
	eq, ok := e.s.equivalents[id]
	if !ok {
		return domain.Equivalent{}, store.ErrNotFound
	}
	return eq, nil
}

func (e equivalentStore) GetByCode(ctx context.Context, tx store.Tx, code string) (domain.Equivalent, error) {
	for _, eq := range e.s.equivalents {
		if eq.Code == code {
			return eq, nil
		}
	}
	return domain.Equivalent{}, store.ErrNotFound
}

func (e equivalentStore) List(ctx context.Context, tx store.Tx) ([]domain.Equivalent, error) {
	out := make([]domain.Equivalent, 0, len(e.s.equivalents))
	for _, eq := range e.s.equivalents {
		out = append(out, eq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// Seed is a test/bootstrap helper, not part of store.Store, for loading
// fixed reference data (equivalents, participants) directly.
func (s *Store) Seed(eq ...domain.Equivalent) {
	for _, e := range eq {
		s.equivalents[e.ID] = e
	}
}

func (s *Store) SeedParticipants(p ...domain.Participant) {
	for _, participant := range p {
		s.participants[participant.ID] = participant
	}
}

// --- Participants ---

type participantStore struct{ s *Store }

func (s *Store) Participants() store.ParticipantStore { return participantStore{s} }

func (p participantStore) Get(ctx context.Context, tx store.Tx, id idtype.ID) (domain.Participant, error) {
	participant, ok := p.s.participants[id]
	if !ok {
		return domain.Participant{}, store.ErrNotFound
	}
	return participant, nil
}

func (p participantStore) GetByPID(ctx context.Context, tx store.Tx, pid string) (domain.Participant, error) {
	for _, participant := range p.s.participants {
		if participant.PID == pid {
			return participant, nil
		}
	}
	return domain.Participant{}, store.ErrNotFound
}

// --- TrustLines ---

type trustLineStore struct{ s *Store }

func (s *Store) TrustLines() store.TrustLineStore { return trustLineStore{s} }

func (t trustLineStore) Get(ctx context.Context, tx store.Tx, from, to, equivalent idtype.ID) (domain.TrustLine, error) {
	for _, tl := range t.s.trustLines {
		if tl.From == from && tl.To == to && tl.Equivalent == equivalent {
			return tl, nil
		}
	}
	return domain.TrustLine{}, store.ErrNotFound
}

func (t trustLineStore) Upsert(ctx context.Context, tx store.Tx, tl domain.TrustLine) error {
	if tl.ID.IsZero() {
		tl.ID = idtype.New()
	}
	tl.UpdatedAt = time.Now()
	t.s.trustLines[tl.ID] = tl
	return nil
}

func (t trustLineStore) ListByEquivalent(ctx context.Context, tx store.Tx, equivalent idtype.ID) ([]domain.TrustLine, error) {
	var out []domain.TrustLine
	for _, tl := range t.s.trustLines {
		if tl.Equivalent == equivalent {
			out = append(out, tl)
		}
	}
	return out, nil
}

// --- Debts ---

type debtStore struct{ s *Store }

func (s *Store) Debts() store.DebtStore { return debtStore{s} }

func (d debtStore) find(ref store.DebtRef) (domain.Debt, bool) {
	for _, debt := range d.s.debts {
		if debt.Debtor == ref.Debtor && debt.Creditor == ref.Creditor && debt.Equivalent == ref.Equivalent {
			return debt, true
		}
	}
	return domain.Debt{}, false
}

func (d debtStore) Get(ctx context.Context, tx store.Tx, ref store.DebtRef) (domain.Debt, bool, error) {
	debt, ok := d.find(ref)
	return debt, ok, nil
}

func (d debtStore) GetForUpdate(ctx context.Context, tx store.Tx, ref store.DebtRef) (domain.Debt, bool, error) {
	return d.Get(ctx, tx, ref)
}

func (d debtStore) Upsert(ctx context.Context, tx store.Tx, debt domain.Debt) (domain.Debt, error) {
	if debt.ID.IsZero() {
		existing, ok := d.find(store.DebtRef{Debtor: debt.Debtor, Creditor: debt.Creditor, Equivalent: debt.Equivalent})
		if ok {
			debt.ID = existing.ID
			debt.Version = existing.Version
		} else {
			debt.ID = idtype.New()
			debt.Version = 0
		}
	}
	current, ok := d.s.debts[debt.ID]
	if ok && current.Version != debt.Version {
		return domain.Debt{}, store.ErrStaleVersion
	}
	debt.Version = debt.Version + 1
	debt.UpdatedAt = time.Now()
	d.s.debts[debt.ID] = debt
	return debt, nil
}

func (d debtStore) Delete(ctx context.Context, tx store.Tx, id idtype.ID) error {
	delete(d.s.debts, id)
	return nil
}

func (d debtStore) ListByEquivalent(ctx context.Context, tx store.Tx, equivalent idtype.ID) ([]domain.Debt, error) {
	var out []domain.Debt
	for _, debt := range d.s.debts {
		if debt.Equivalent == equivalent {
			out = append(out, debt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (d debtStore) ListByParticipant(ctx context.Context, tx store.Tx, participant, equivalent idtype.ID) ([]domain.Debt, error) {
	var out []domain.Debt
	for _, debt := range d.s.debts {
		if debt.Equivalent != equivalent {
			continue
		}
		if debt.Debtor == participant || debt.Creditor == participant {
			out = append(out, debt)
		}
	}
	return out, nil
}

// --- Transactions ---

type transactionStore struct{ s *Store }

func (s *Store) Transactions() store.TransactionStore { return transactionStore{s} }

func (t transactionStore) Get(ctx context.Context, tx store.Tx, id idtype.ID) (domain.Transaction, bool, error) {
	transaction, ok := t.s.transactions[id]
	return transaction, ok, nil
}

func (t transactionStore) GetByIdempotencyKey(ctx context.Context, tx store.Tx, initiator idtype.ID, txType domain.TransactionType, key string) (domain.Transaction, bool, error) {
	if key == "" {
		return domain.Transaction{}, false, nil
	}
	for _, transaction := range t.s.transactions {
		if transaction.Initiator == initiator && transaction.Type == txType && transaction.IdempotencyKey == key {
			return transaction, true, nil
		}
	}
	return domain.Transaction{}, false, nil
}

func (t transactionStore) Upsert(ctx context.Context, tx store.Tx, transaction domain.Transaction) error {
	if transaction.ID.IsZero() {
		transaction.ID = idtype.New()
	}
	transaction.UpdatedAt = time.Now()
	t.s.transactions[transaction.ID] = transaction
	return nil
}

func (t transactionStore) ListStale(ctx context.Context, tx store.Tx, txType domain.TransactionType, olderThan time.Time) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, transaction := range t.s.transactions {
		if transaction.Type != txType {
			continue
		}
		if !transaction.State.IsActive() {
			continue
		}
		if transaction.UpdatedAt.Before(olderThan) {
			out = append(out, transaction)
		}
	}
	return out, nil
}

func (t transactionStore) ListByParticipant(ctx context.Context, tx store.Tx, participant idtype.ID, equivalent *idtype.ID, since *time.Time) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, transaction := range t.s.transactions {
		if transaction.Initiator != participant {
			continue
		}
		if since != nil && transaction.UpdatedAt.Before(*since) {
			continue
		}
		out = append(out, transaction)
	}
	return out, nil
}

// --- PrepareLocks ---

type prepareLockStore struct{ s *Store }

func (s *Store) PrepareLocks() store.PrepareLockStore { return prepareLockStore{s} }

func (p prepareLockStore) Get(ctx context.Context, tx store.Tx, txID idtype.ID) ([]domain.PrepareLock, error) {
	var out []domain.PrepareLock
	for _, lock := range p.s.prepareLocks {
		if lock.TxID == txID {
			out = append(out, lock)
		}
	}
	return out, nil
}

func (p prepareLockStore) Upsert(ctx context.Context, tx store.Tx, lock domain.PrepareLock) error {
	if lock.ID.IsZero() {
		for id, existing := range p.s.prepareLocks {
			if existing.TxID == lock.TxID && existing.Participant == lock.Participant {
				lock.ID = id
				break
			}
		}
		if lock.ID.IsZero() {
			lock.ID = idtype.New()
		}
	}
	p.s.prepareLocks[lock.ID] = lock
	return nil
}

func (p prepareLockStore) DeleteByTx(ctx context.Context, tx store.Tx, txID idtype.ID) error {
	for id, lock := range p.s.prepareLocks {
		if lock.TxID == txID {
			delete(p.s.prepareLocks, id)
		}
	}
	return nil
}

func (p prepareLockStore) ListReservedFlows(ctx context.Context, tx store.Tx, from, to, equivalent idtype.ID, excludeTxID idtype.ID, asOf time.Time) ([]domain.RouteFlow, error) {
	var out []domain.RouteFlow
	for _, lock := range p.s.prepareLocks {
		if lock.TxID == excludeTxID {
			continue
		}
		if lock.Expired(asOf) {
			continue
		}
		for _, flow := range lock.Effects.Flows {
			if flow.From == from && flow.To == to && flow.Equivalent == equivalent {
				out = append(out, flow)
			}
		}
	}
	return out, nil
}

func (p prepareLockStore) ListExpired(ctx context.Context, tx store.Tx, asOf time.Time) ([]domain.PrepareLock, error) {
	var out []domain.PrepareLock
	for _, lock := range p.s.prepareLocks {
		if lock.Expired(asOf) {
			out = append(out, lock)
		}
	}
	return out, nil
}

func (p prepareLockStore) ListActive(ctx context.Context, tx store.Tx, asOf time.Time) ([]domain.PrepareLock, error) {
	var out []domain.PrepareLock
	for _, lock := range p.s.prepareLocks {
		if !lock.Expired(asOf) {
			out = append(out, lock)
		}
	}
	return out, nil
}

func (p prepareLockStore) CountActive(ctx context.Context, tx store.Tx, asOf time.Time) (int, error) {
	active, err := p.ListActive(ctx, tx, asOf)
	return len(active), err
}

// --- AuditLogs ---

type auditLogStore struct{ s *Store }

func (s *Store) AuditLogs() store.AuditLogStore { return auditLogStore{s} }

func (a auditLogStore) Append(ctx context.Context, tx store.Tx, entry domain.AuditLog) error {
	if entry.ID.IsZero() {
		entry.ID = idtype.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	a.s.auditLogs = append(a.s.auditLogs, entry)
	return nil
}

func (a auditLogStore) Query(ctx context.Context, tx store.Tx, actor string, limit int) ([]domain.AuditLog, error) {
	var out []domain.AuditLog
	for i := len(a.s.auditLogs) - 1; i >= 0 && len(out) < limit; i-- {
		entry := a.s.auditLogs[i]
		if actor == "" || entry.Actor == actor {
			out = append(out, entry)
		}
	}
	return out, nil
}

// --- IntegrityAuditLogs ---

type integrityAuditLogStore struct{ s *Store }

func (s *Store) IntegrityAuditLogs() store.IntegrityAuditLogStore { return integrityAuditLogStore{s} }

func (a integrityAuditLogStore) Append(ctx context.Context, tx store.Tx, entry domain.IntegrityAuditLog) error {
	if entry.ID.IsZero() {
		entry.ID = idtype.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	a.s.integrityLog = append(a.s.integrityLog, entry)
	return nil
}

func (a integrityAuditLogStore) Query(ctx context.Context, tx store.Tx, equivalent idtype.ID, limit int) ([]domain.IntegrityAuditLog, error) {
	var out []domain.IntegrityAuditLog
	for i := len(a.s.integrityLog) - 1; i >= 0 && len(out) < limit; i-- {
		entry := a.s.integrityLog[i]
		if entry.Equivalent == equivalent {
			out = append(out, entry)
		}
	}
	return out, nil
}
