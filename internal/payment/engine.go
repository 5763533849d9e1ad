// Package payment implements the two-phase-commit engine: prepare,
// prepareRoutes, commit, and abort, exactly per the core specification's
// payment engine component. Advisory-lock segment ordering and the
// applyFlow netting algorithm are grounded on the original
// implementation's app/core/payments/engine.py; the whole-unit-of-work
// retry wrapper is grounded on the teacher's internal/retry package.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/errs"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/integrity"
	"github.com/slawa19/geoledger/internal/invariants"
	"github.com/slawa19/geoledger/internal/logging"
	"github.com/slawa19/geoledger/internal/metrics"
	"github.com/slawa19/geoledger/internal/money"
	"github.com/slawa19/geoledger/internal/retry"
	"github.com/slawa19/geoledger/internal/store"
	"github.com/slawa19/geoledger/internal/traces"
)

// Route is one candidate path with the amount it should carry, as
// supplied by the Router collaborator (see internal/collaborators).
type Route struct {
	Path   []idtype.ID
	Amount money.Amount
}

// Config bundles the payment engine's tunables.
type Config struct {
	PrepareLockTTL    time.Duration
	CommitMaxAttempts int
	CommitRetryBase   time.Duration
}

// Engine is the payment engine.
type Engine struct {
	store     store.Store
	checker   *invariants.Checker
	integrity *integrity.Service
	cfg       Config
}

func New(s store.Store, checker *invariants.Checker, integritySvc *integrity.Service, cfg Config) *Engine {
	if cfg.CommitMaxAttempts <= 0 {
		cfg.CommitMaxAttempts = 3
	}
	if cfg.CommitRetryBase <= 0 {
		cfg.CommitRetryBase = 20 * time.Millisecond
	}
	if cfg.PrepareLockTTL <= 0 {
		cfg.PrepareLockTTL = 30 * time.Second
	}
	return &Engine{store: s, checker: checker, integrity: integritySvc, cfg: cfg}
}

func pathToFlows(path []idtype.ID, amount money.Amount, equivalent idtype.ID) []domain.RouteFlow {
	flows := make([]domain.RouteFlow, 0, len(path)-1)
	for i := 0; i+1 < len(path); i++ {
		flows = append(flows, domain.RouteFlow{From: path[i], To: path[i+1], Amount: amount, Equivalent: equivalent})
	}
	return flows
}

func validateRoutes(routes []Route) error {
	if len(routes) == 0 {
		return errs.New(errs.CodeValidationError, map[string]any{"reason": "no routes supplied"})
	}
	for i, r := range routes {
		if len(r.Path) < 2 {
			return errs.New(errs.CodeValidationError, map[string]any{"reason": "route too short", "route_index": i})
		}
		if r.Amount.Sign() <= 0 {
			return errs.New(errs.CodeValidationError, map[string]any{"reason": "non-positive route amount", "route_index": i})
		}
		for j := 0; j+1 < len(r.Path); j++ {
			if r.Path[j] == r.Path[j+1] {
				return errs.New(errs.CodeValidationError, map[string]any{"reason": "self-loop segment in route", "route_index": i})
			}
		}
	}
	return nil
}

// Prepare reserves capacity for a single-route payment.
func (e *Engine) Prepare(ctx context.Context, txID idtype.ID, path []idtype.ID, amount money.Amount, equivalent idtype.ID) error {
	return e.PrepareRoutes(ctx, txID, []Route{{Path: path, Amount: amount}}, equivalent)
}

// PrepareRoutes reserves capacity for a (possibly multi-route) payment.
// See the component design's §4.3.1 for the full precondition,
// serialization, capacity-check, and lock-aggregation contract.
func (e *Engine) PrepareRoutes(ctx context.Context, txID idtype.ID, routes []Route, equivalent idtype.ID) error {
	done := metrics.ObservePaymentOp("prepare")
	ctx, span := traces.StartSpan(ctx, "payment.prepare", traces.TransactionID(txID.String()), traces.EquivalentID(equivalent.String()))
	defer span.End()

	if err := validateRoutes(routes); err != nil {
		done("error")
		return err
	}

	outcome := "ok"
	err := retry.DoTransaction(ctx, e.cfg.CommitMaxAttempts, e.cfg.CommitRetryBase, func() error {
		return e.doPrepare(ctx, txID, routes, equivalent)
	})
	if err != nil {
		outcome = "error"
	}
	done(outcome)
	return err
}

func (e *Engine) doPrepare(ctx context.Context, txID idtype.ID, routes []Route, equivalent idtype.ID) error {
	dbTx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	existing, found, err := e.store.Transactions().Get(ctx, dbTx, txID)
	if err != nil {
		return err
	}
	if found {
		switch existing.State {
		case domain.TxCommitted:
			return dbTx.Commit()
		case domain.TxAborted, domain.TxRejected:
			return errs.Permanent(errs.New(errs.CodeStateConflict, map[string]any{"tx_id": txID.String(), "state": string(existing.State)}))
		case domain.TxPrepared:
			locks, err := e.store.PrepareLocks().Get(ctx, dbTx, txID)
			if err != nil {
				return err
			}
			if len(locks) > 0 {
				return dbTx.Commit()
			}
		}
	}

	var allFlows []domain.RouteFlow
	var segs []segment
	for _, r := range routes {
		flows := pathToFlows(r.Path, r.Amount, equivalent)
		allFlows = append(allFlows, flows...)
		for _, f := range flows {
			segs = append(segs, segment{From: f.From, To: f.To, Equivalent: equivalent})
		}
	}

	for _, key := range sortedLockKeys(segs) {
		if err := dbTx.AdvisoryLock(ctx, key); err != nil {
			return err
		}
	}

	now := time.Now()
	pendingBySegment := make(map[segment]money.Amount)
	flowsByParticipant := make(map[idtype.ID][]domain.RouteFlow)

	for _, f := range allFlows {
		seg := segment{From: f.From, To: f.To, Equivalent: equivalent}

		tl, _ := e.store.TrustLines().Get(ctx, dbTx, f.To, f.From, equivalent)
		limit := money.Zero(f.Amount.Precision())
		if tl.Status == domain.TrustLineActive {
			limit = tl.Limit
		}

		yDebt, _, err := e.store.Debts().Get(ctx, dbTx, store.DebtRef{Debtor: f.To, Creditor: f.From, Equivalent: equivalent})
		if err != nil {
			return err
		}
		xDebt, _, err := e.store.Debts().Get(ctx, dbTx, store.DebtRef{Debtor: f.From, Creditor: f.To, Equivalent: equivalent})
		if err != nil {
			return err
		}
		available := limit.Sub(xDebt.Amount).Add(yDebt.Amount)

		reservedFlows, err := e.store.PrepareLocks().ListReservedFlows(ctx, dbTx, f.From, f.To, equivalent, txID, now)
		if err != nil {
			return err
		}
		reserved := money.Zero(f.Amount.Precision())
		for _, rf := range reservedFlows {
			reserved = reserved.Add(rf.Amount)
		}

		already, ok := pendingBySegment[seg]
		if !ok {
			already = money.Zero(f.Amount.Precision())
		}
		needed := already.Add(f.Amount)
		pendingBySegment[seg] = needed

		if available.Cmp(needed.Add(reserved)) < 0 {
			return errs.Permanent(errs.New(errs.CodeInsufficientCapacity, map[string]any{
				"available": available.String(),
				"needed":    needed.String(),
				"reserved":  reserved.String(),
				"from":      f.From.String(),
				"to":        f.To.String(),
			}))
		}

		flowsByParticipant[f.From] = append(flowsByParticipant[f.From], f)
	}

	for participant, flows := range flowsByParticipant {
		lock := domain.PrepareLock{
			TxID:        txID,
			Participant: participant,
			Effects:     domain.PrepareLockEffects{Flows: flows},
			ExpiresAt:   now.Add(e.cfg.PrepareLockTTL),
		}
		if err := e.store.PrepareLocks().Upsert(ctx, dbTx, lock); err != nil {
			return err
		}
	}

	payload := map[string]any{"routes_count": len(routes)}
	tx := domain.Transaction{
		ID:        txID,
		Type:      domain.TxPayment,
		Payload:   payload,
		State:     domain.TxPrepared,
		UpdatedAt: now,
	}
	if found {
		tx.Initiator = existing.Initiator
		tx.IdempotencyKey = existing.IdempotencyKey
	}
	if err := e.store.Transactions().Upsert(ctx, dbTx, tx); err != nil {
		return err
	}

	return dbTx.Commit()
}

// Commit applies the flows accumulated in this transaction's prepare
// locks, runs the invariant phase, and finalizes the transaction. See
// §4.3.2 for the full snapshot/apply/invariant/finalize contract.
func (e *Engine) Commit(ctx context.Context, txID idtype.ID, precision int) error {
	done := metrics.ObservePaymentOp("commit")
	ctx, span := traces.StartSpan(ctx, "payment.commit", traces.TransactionID(txID.String()))
	defer span.End()

	outcome := "ok"
	err := retry.DoTransaction(ctx, e.cfg.CommitMaxAttempts, e.cfg.CommitRetryBase, func() error {
		return e.doCommit(ctx, txID, precision)
	})
	if err != nil {
		outcome = "error"
	}
	done(outcome)
	return err
}

func (e *Engine) doCommit(ctx context.Context, txID idtype.ID, precision int) error {
	dbTx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	locks, err := e.store.PrepareLocks().Get(ctx, dbTx, txID)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, lock := range locks {
		if lock.Expired(now) {
			if err := dbTx.Commit(); err != nil {
				return err
			}
			_ = e.Abort(ctx, txID, "expired", errs.CodeStateConflict, nil)
			return errs.Permanent(errs.New(errs.CodeStateConflict, map[string]any{"tx_id": txID.String(), "reason": "prepare lock expired"}))
		}
	}

	var flows []domain.RouteFlow
	for _, lock := range locks {
		flows = append(flows, lock.Effects.Flows...)
	}

	equivalents := make(map[idtype.ID]bool)
	participants := make(map[idtype.ID]bool)
	for _, f := range flows {
		equivalents[f.Equivalent] = true
		participants[f.From] = true
		participants[f.To] = true
	}

	checksumBefore := make(map[idtype.ID]string)
	for eq := range equivalents {
		cs, err := e.integrity.Checksum(ctx, dbTx, eq)
		if err != nil {
			return err
		}
		checksumBefore[eq] = cs
	}

	positionsBefore := make(map[idtype.ID]money.Amount)
	for p := range participants {
		for eq := range equivalents {
			pos, err := e.checker.CalculateNetPosition(ctx, dbTx, p, eq, precision)
			if err != nil {
				return err
			}
			positionsBefore[p] = pos
		}
	}

	for _, f := range flows {
		if err := e.applyFlow(ctx, dbTx, f.From, f.To, f.Amount, f.Equivalent); err != nil {
			return err
		}
	}

	var touchedPairs []invariants.Pair
	for _, f := range flows {
		touchedPairs = append(touchedPairs, invariants.Pair{A: f.From, B: f.To})
	}

	for eq := range equivalents {
		if err := e.checker.CheckTrustLimits(ctx, dbTx, eq, precision, touchedPairs); err != nil {
			return e.abortWithInvariantFailure(ctx, txID, err)
		}
		if err := e.checker.CheckZeroSum(ctx, dbTx, eq, precision); err != nil {
			return e.abortWithInvariantFailure(ctx, txID, err)
		}
		if err := e.checker.CheckDebtSymmetry(ctx, dbTx, eq, touchedPairs); err != nil {
			return e.abortWithInvariantFailure(ctx, txID, err)
		}
	}
	if err := e.checker.CheckPaymentDelta(ctx, dbTx, firstEquivalent(equivalents), precision, flows, positionsBefore); err != nil {
		return e.abortWithInvariantFailure(ctx, txID, err)
	}

	for eq := range equivalents {
		checksumAfter, err := e.integrity.Checksum(ctx, dbTx, eq)
		if err != nil {
			return err
		}
		var affected []idtype.ID
		for p := range participants {
			affected = append(affected, p)
		}
		auditErr := e.integrity.RecordAudit(ctx, dbTx, domain.IntegrityAuditLog{
			OperationType:        domain.TxPayment,
			TxID:                 txID,
			Equivalent:           eq,
			ChecksumBefore:       checksumBefore[eq],
			ChecksumAfter:        checksumAfter,
			AffectedParticipants: affected,
			InvariantsChecked:    []string{"zero_sum", "trust_limits", "debt_symmetry", "payment_delta"},
			VerificationPassed:   true,
		})
		if auditErr != nil {
			logging.L(ctx).Warn("integrity audit write failed", "error", auditErr, "tx_id", txID.String())
		}
	}

	if err := e.store.PrepareLocks().DeleteByTx(ctx, dbTx, txID); err != nil {
		return err
	}

	existing, _, err := e.store.Transactions().Get(ctx, dbTx, txID)
	if err != nil {
		return err
	}
	existing.ID = txID
	existing.State = domain.TxCommitted
	existing.UpdatedAt = now
	if err := e.store.Transactions().Upsert(ctx, dbTx, existing); err != nil {
		return err
	}

	return dbTx.Commit()
}

func firstEquivalent(m map[idtype.ID]bool) idtype.ID {
	for k := range m {
		return k
	}
	return idtype.Nil
}

func (e *Engine) abortWithInvariantFailure(ctx context.Context, txID idtype.ID, cause error) error {
	code := errs.CodeStateConflict
	var v *invariants.Violation
	details := map[string]any{}
	if asViolation(cause, &v) {
		details["kind"] = string(v.Kind)
		for k, val := range v.Details {
			details[k] = val
		}
	}
	_ = e.Abort(ctx, txID, "invariant violation", code, details)
	return errs.Permanent(errs.Wrap(code, cause, details))
}

func asViolation(err error, target **invariants.Violation) bool {
	if v, ok := err.(*invariants.Violation); ok {
		*target = v
		return true
	}
	return false
}

// applyFlow applies an economic transfer of amount from sender to
// receiver by first netting any existing reverse debt, then growing a
// forward debt with whatever remains, then re-netting once more to
// settle any concurrent writer's interleaved increment. See §4.3.3.
func (e *Engine) applyFlow(ctx context.Context, dbTx store.Tx, sender, receiver idtype.ID, amount money.Amount, equivalent idtype.ID) error {
	if sender == receiver {
		return errs.New(errs.CodeValidationError, map[string]any{"reason": "applyFlow self-loop"})
	}

	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = dbTx.Savepoint(ctx, func() error {
			return e.applyFlowOnce(ctx, dbTx, sender, receiver, amount, equivalent)
		})
		if lastErr == nil {
			return nil
		}
		if lastErr != store.ErrStaleVersion {
			return lastErr
		}
	}
	return fmt.Errorf("payment: applyFlow exhausted retries: %w", lastErr)
}

func (e *Engine) applyFlowOnce(ctx context.Context, dbTx store.Tx, sender, receiver idtype.ID, amount money.Amount, equivalent idtype.ID) error {
	remaining := amount

	reverseRef := store.DebtRef{Debtor: receiver, Creditor: sender, Equivalent: equivalent}
	reverse, ok, err := e.store.Debts().GetForUpdate(ctx, dbTx, reverseRef)
	if err != nil {
		return err
	}
	if ok && reverse.Amount.Sign() > 0 {
		k := money.Min(remaining, reverse.Amount)
		newReverseAmount := reverse.Amount.Sub(k)
		if newReverseAmount.IsZero() {
			if err := e.store.Debts().Delete(ctx, dbTx, reverse.ID); err != nil {
				return err
			}
		} else {
			reverse.Amount = newReverseAmount
			if _, err := e.store.Debts().Upsert(ctx, dbTx, reverse); err != nil {
				return err
			}
		}
		remaining = remaining.Sub(k)
	}

	if remaining.Sign() > 0 {
		forwardRef := store.DebtRef{Debtor: sender, Creditor: receiver, Equivalent: equivalent}
		forward, ok, err := e.store.Debts().GetForUpdate(ctx, dbTx, forwardRef)
		if err != nil {
			return err
		}
		if !ok {
			forward = domain.Debt{Debtor: sender, Creditor: receiver, Equivalent: equivalent, Amount: money.Zero(amount.Precision())}
		}
		forward.Amount = forward.Amount.Add(remaining)
		if _, err := e.store.Debts().Upsert(ctx, dbTx, forward); err != nil {
			return err
		}
	}

	return e.renet(ctx, dbTx, sender, receiver, equivalent, amount.Precision())
}

// renet re-reads both directions of a pair after a write and, if both
// somehow ended up positive (only possible with a concurrent writer
// racing the same pair), nets the smaller out of both.
func (e *Engine) renet(ctx context.Context, dbTx store.Tx, a, b, equivalent idtype.ID, precision int) error {
	abRef := store.DebtRef{Debtor: a, Creditor: b, Equivalent: equivalent}
	baRef := store.DebtRef{Debtor: b, Creditor: a, Equivalent: equivalent}

	ab, abOK, err := e.store.Debts().Get(ctx, dbTx, abRef)
	if err != nil {
		return err
	}
	ba, baOK, err := e.store.Debts().Get(ctx, dbTx, baRef)
	if err != nil {
		return err
	}
	if !abOK || !baOK || ab.Amount.Sign() <= 0 || ba.Amount.Sign() <= 0 {
		return nil
	}

	k := money.Min(ab.Amount, ba.Amount)
	if err := settleOrDelete(ctx, e.store, dbTx, ab, k); err != nil {
		return err
	}
	return settleOrDelete(ctx, e.store, dbTx, ba, k)
}

func settleOrDelete(ctx context.Context, s store.Store, dbTx store.Tx, d domain.Debt, k money.Amount) error {
	newAmount := d.Amount.Sub(k)
	if newAmount.IsZero() {
		return s.Debts().Delete(ctx, dbTx, d.ID)
	}
	d.Amount = newAmount
	_, err := s.Debts().Upsert(ctx, dbTx, d)
	return err
}

// Abort marks txID aborted, releasing its prepare locks. It is
// idempotent: calling Abort on an already-ABORTED transaction succeeds,
// and it never transitions a COMMITTED transaction backward. See §4.3.4.
func (e *Engine) Abort(ctx context.Context, txID idtype.ID, reason string, code errs.Code, details map[string]any) error {
	done := metrics.ObservePaymentOp("abort")
	defer func() { done("ok") }()

	dbTx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	existing, found, err := e.store.Transactions().Get(ctx, dbTx, txID)
	if err != nil {
		return err
	}
	if found && existing.State == domain.TxCommitted {
		if err := e.store.PrepareLocks().DeleteByTx(ctx, dbTx, txID); err != nil {
			return err
		}
		return dbTx.Commit()
	}
	if found && existing.State == domain.TxAborted {
		return dbTx.Commit()
	}

	if code == "" {
		code = errs.CodeInternal
	}
	if details == nil {
		details = map[string]any{}
	}
	txErr := &domain.TxError{Code: string(code), Message: reason, Details: details}

	if !found {
		existing = domain.Transaction{ID: txID, Type: domain.TxPayment, State: domain.TxAborted}
	}
	existing.ID = txID
	existing.State = domain.TxAborted
	existing.Error = txErr
	existing.UpdatedAt = time.Now()

	if err := e.store.Transactions().Upsert(ctx, dbTx, existing); err != nil {
		return err
	}
	if err := e.store.PrepareLocks().DeleteByTx(ctx, dbTx, txID); err != nil {
		return err
	}

	return dbTx.Commit()
}

// Capacity computes the admissible flow S→R on equivalent using the same
// formula doPrepare checks against: limit(TL R→S) − debt(S→R) +
// debt(R→S) − reserved(S→R by any other active prepare lock). It is the
// read-only counterpart callers use to answer "can this payment go
// through" without actually reserving anything.
func Capacity(ctx context.Context, s store.Store, dbTx store.Tx, from, to, equivalent idtype.ID, precision int) (money.Amount, error) {
	tl, _ := s.TrustLines().Get(ctx, dbTx, to, from, equivalent)
	limit := money.Zero(precision)
	if tl.Status == domain.TrustLineActive {
		limit = tl.Limit
	}

	yDebt, _, err := s.Debts().Get(ctx, dbTx, store.DebtRef{Debtor: to, Creditor: from, Equivalent: equivalent})
	if err != nil {
		return money.Amount{}, err
	}
	xDebt, _, err := s.Debts().Get(ctx, dbTx, store.DebtRef{Debtor: from, Creditor: to, Equivalent: equivalent})
	if err != nil {
		return money.Amount{}, err
	}
	available := limit.Sub(xDebt.Amount).Add(yDebt.Amount)

	reservedFlows, err := s.PrepareLocks().ListReservedFlows(ctx, dbTx, from, to, equivalent, idtype.Nil, time.Now())
	if err != nil {
		return money.Amount{}, err
	}
	reserved := money.Zero(precision)
	for _, rf := range reservedFlows {
		reserved = reserved.Add(rf.Amount)
	}

	return available.Sub(reserved), nil
}
