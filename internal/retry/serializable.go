package retry

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/slawa19/geoledger/internal/errs"
)

// Retryable Postgres SQLSTATEs: 40001 (serialization_failure) and
// 40P01 (deadlock_detected). Any other database error is treated as
// permanent, since retrying it would just reproduce the same failure.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// IsRetryableDBError reports whether err is a Postgres error whose
// SQLSTATE indicates a transient conflict rather than a real fault.
func IsRetryableDBError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Name() {
	case "serialization_failure", "deadlock_detected":
		return true
	}
	code := string(pqErr.Code)
	return code == sqlStateSerializationFailure || code == sqlStateDeadlockDetected
}

// DoTransaction retries fn up to maxAttempts times with exponential
// backoff, but only when fn's error is a retryable SQLSTATE and fn
// hasn't already marked its own error permanent via errs.Permanent. fn
// is expected to run a whole unit of work — every read and write the
// operation needs — inside its own transaction, since a serialization
// failure invalidates any reads taken earlier in the aborted attempt.
// Retrying only the final commit would silently use stale reads from a
// transaction Postgres has already thrown away.
//
// DoTransaction delegates the actual backoff loop to Do, classifying
// fn's error for it: a non-retryable SQLSTATE (or any error already
// flagged via errs.Permanent, e.g. a business-rule rejection an engine
// decided mid-transaction) is wrapped in a PermanentError so Do stops
// immediately instead of burning attempts on a failure no retry can fix.
func DoTransaction(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return Do(ctx, maxAttempts, baseDelay, func() error {
		err := fn()
		if err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return err
		}
		if errs.IsPermanent(err) || !IsRetryableDBError(err) {
			return Permanent(err)
		}
		return err
	})
}
