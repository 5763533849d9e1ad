// Package recovery runs the background sweep that reclaims capacity
// an interrupted two-phase commit would otherwise leak forever: expired
// prepare locks whose holder crashed between prepare and commit, and
// payment transactions stuck in an active state past a staleness
// threshold. The ticker/Start/Stop shape is grounded directly on the
// teacher's internal/escrow.Timer; the two-pass cleanup body is new,
// grounded on the original implementation's recovery_loop
// (app/core/recovery.py).
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/errs"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/logging"
	"github.com/slawa19/geoledger/internal/metrics"
	"github.com/slawa19/geoledger/internal/payment"
	"github.com/slawa19/geoledger/internal/store"
)

// StaleAfter is how long a Transaction may sit in an active 2PC state
// before the sweep considers it abandoned and aborts it.
const StaleAfter = 5 * time.Minute

// Loop periodically reclaims expired prepare locks and aborts payment
// transactions that have been active too long.
type Loop struct {
	store    store.Store
	engine   *payment.Engine
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

func New(s store.Store, engine *payment.Engine, interval time.Duration, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{store: s, engine: engine, interval: interval, logger: logger, stop: make(chan struct{})}
}

// Running reports whether the loop is actively running.
func (l *Loop) Running() bool { return l.running.Load() }

// Start sweeps once immediately, then once per interval, until ctx is
// cancelled or Stop is called. Call in a goroutine.
func (l *Loop) Start(ctx context.Context) {
	l.running.Store(true)
	defer l.running.Store(false)

	l.safeSweep(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
			l.safeSweep(ctx)
		}
	}
}

// Stop signals the loop to stop.
func (l *Loop) Stop() {
	select {
	case l.stop <- struct{}{}:
	default:
	}
}

func (l *Loop) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic in recovery sweep", "panic", fmt.Sprint(r))
		}
	}()
	l.cleanupExpiredPrepareLocks(ctx)
	l.abortStalePaymentTransactions(ctx)
}

// cleanupExpiredPrepareLocks releases reservations whose TTL passed
// without a commit or explicit abort ever arriving, aborting the owning
// transaction through the ordinary Abort path so its state transition is
// recorded the same way a client-driven abort would be.
func (l *Loop) cleanupExpiredPrepareLocks(ctx context.Context) {
	now := time.Now()

	dbTx, err := l.store.Begin(ctx)
	if err != nil {
		l.logger.Warn("recovery: failed to begin tx", "error", err)
		return
	}
	expired, err := l.store.PrepareLocks().ListExpired(ctx, dbTx, now)
	dbTx.Commit()
	if err != nil {
		l.logger.Warn("recovery: failed to list expired prepare locks", "error", err)
		return
	}

	seen := make(map[idtype.ID]bool)
	for _, lk := range expired {
		if seen[lk.TxID] {
			continue
		}
		seen[lk.TxID] = true

		if err := l.engine.Abort(ctx, lk.TxID, "prepare lock expired", errs.CodeStateConflict, map[string]any{
			"tx_id": lk.TxID.String(),
		}); err != nil {
			l.logger.Warn("recovery: failed to abort expired transaction", "tx_id", lk.TxID.String(), "error", err)
			continue
		}
		metrics.RecoveryActionsTotal.WithLabelValues("expire_prepare_lock").Inc()
		logging.L(ctx).Info("recovery: released expired prepare lock", "tx_id", lk.TxID.String())
	}
}

// abortStalePaymentTransactions aborts any PAYMENT transaction that has
// sat in one of domain.ActiveTransactionStates for longer than
// StaleAfter, a defense against a crash between routing and prepare (or
// between prepare and the locks ever being written) that the prepare
// lock sweep above wouldn't catch since no lock was ever created.
func (l *Loop) abortStalePaymentTransactions(ctx context.Context) {
	cutoff := time.Now().Add(-StaleAfter)

	dbTx, err := l.store.Begin(ctx)
	if err != nil {
		l.logger.Warn("recovery: failed to begin tx", "error", err)
		return
	}
	// ListStale itself restricts results to domain.ActiveTransactionStates
	// (see store.TransactionStore), so one call already covers every
	// in-flight state.
	stale, err := l.store.Transactions().ListStale(ctx, dbTx, domain.TxPayment, cutoff)
	dbTx.Commit()
	if err != nil {
		l.logger.Warn("recovery: failed to list stale transactions", "error", err)
		return
	}

	seen := make(map[idtype.ID]bool)
	for _, t := range stale {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true

		if err := l.engine.Abort(ctx, t.ID, "transaction exceeded staleness threshold", errs.CodeStateConflict, map[string]any{
			"tx_id": t.ID.String(), "state": string(t.State),
		}); err != nil {
			l.logger.Warn("recovery: failed to abort stale transaction", "tx_id", t.ID.String(), "error", err)
			continue
		}
		metrics.RecoveryActionsTotal.WithLabelValues("abort_stale_transaction").Inc()
		logging.L(ctx).Info("recovery: aborted stale transaction", "tx_id", t.ID.String(), "state", string(t.State))
	}
}
