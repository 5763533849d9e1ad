// Package integrity produces deterministic per-equivalent checksums,
// an invariants status bag, and the append-only IntegrityAuditLog the
// payment and clearing engines write to on every commit. The
// AuditLogger split (Postgres/Memory) is grounded directly on the
// teacher's internal/ledger/audit.go (AuditLogger interface,
// PostgresAuditLogger, MemoryAuditLogger), generalized from per-agent
// balance audit entries to per-(operation, equivalent) integrity audit
// entries; here the store itself already provides both backings via
// internal/store, so this package only adds the checksum algorithm and
// the status-bag summarization on top.
package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/invariants"
	"github.com/slawa19/geoledger/internal/store"
)

// Service computes checksums, runs invariant checks, and writes audit
// records.
type Service struct {
	store    store.Store
	checker  *invariants.Checker
	group    singleflight.Group
}

func New(s store.Store, checker *invariants.Checker) *Service {
	return &Service{store: s, checker: checker}
}

// Checksum computes the canonical SHA-256 content hash over equivalent's
// Debt and TrustLine rows: debts ordered by (debtor, creditor), trust
// lines ordered by (from, to), each row fed as one canonical text line.
// Concurrent callers for the same equivalent share one computation via
// singleflight, since the checksum is read-only and idempotent.
func (s *Service) Checksum(ctx context.Context, tx store.Tx, equivalent idtype.ID) (string, error) {
	key := equivalent.String()
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.computeChecksum(ctx, tx, equivalent)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Service) computeChecksum(ctx context.Context, tx store.Tx, equivalent idtype.ID) (string, error) {
	debts, err := s.store.Debts().ListByEquivalent(ctx, tx, equivalent)
	if err != nil {
		return "", err
	}
	sort.Slice(debts, func(i, j int) bool {
		if debts[i].Debtor != debts[j].Debtor {
			return debts[i].Debtor.String() < debts[j].Debtor.String()
		}
		return debts[i].Creditor.String() < debts[j].Creditor.String()
	})

	trustLines, err := s.store.TrustLines().ListByEquivalent(ctx, tx, equivalent)
	if err != nil {
		return "", err
	}
	sort.Slice(trustLines, func(i, j int) bool {
		if trustLines[i].From != trustLines[j].From {
			return trustLines[i].From.String() < trustLines[j].From.String()
		}
		return trustLines[i].To.String() < trustLines[j].To.String()
	})

	h := sha256.New()
	for _, d := range debts {
		fmt.Fprintf(h, "debt|%s|%s|%s\n", d.Debtor, d.Creditor, d.Amount)
	}
	for _, tl := range trustLines {
		fmt.Fprintf(h, "trustline|%s|%s|%s|%s\n", tl.From, tl.To, tl.Limit, tl.Status)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Status runs the three structural invariant checks for equivalent and
// summarizes them into a status bag: critical on a zero-sum or
// trust-limit failure, warning on a symmetry-only failure, healthy
// otherwise.
func (s *Service) Status(ctx context.Context, tx store.Tx, equivalent idtype.ID, precision int) domain.InvariantsStatus {
	checks := map[string]bool{"zero_sum": true, "trust_limits": true, "debt_symmetry": true}
	var alerts []string

	if err := s.checker.CheckZeroSum(ctx, tx, equivalent, precision); err != nil {
		checks["zero_sum"] = false
		alerts = append(alerts, err.Error())
	}
	if err := s.checker.CheckTrustLimits(ctx, tx, equivalent, precision, nil); err != nil {
		checks["trust_limits"] = false
		alerts = append(alerts, err.Error())
	}
	if err := s.checker.CheckDebtSymmetry(ctx, tx, equivalent, nil); err != nil {
		checks["debt_symmetry"] = false
		alerts = append(alerts, err.Error())
	}

	status := domain.StatusHealthy
	switch {
	case !checks["zero_sum"] || !checks["trust_limits"]:
		status = domain.StatusCritical
	case !checks["debt_symmetry"]:
		status = domain.StatusWarning
	}

	return domain.InvariantsStatus{
		Passed: status == domain.StatusHealthy,
		Status: status,
		Checks: checks,
		Alerts: alerts,
	}
}

// RecordAudit writes an IntegrityAuditLog row. Failure to write the
// audit entry must never fail the surrounding operation — the engine
// calling this logs the error and proceeds, the same best-effort
// contract the teacher's audit loggers use for their own append calls.
func (s *Service) RecordAudit(ctx context.Context, tx store.Tx, entry domain.IntegrityAuditLog) error {
	return s.store.IntegrityAuditLogs().Append(ctx, tx, entry)
}
