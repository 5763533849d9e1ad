package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/slawa19/geoledger/internal/errs"
)

func TestIsRetryableDBError_SerializationFailure(t *testing.T) {
	err := &pq.Error{Code: pq.ErrorCode(sqlStateSerializationFailure)}
	if !IsRetryableDBError(err) {
		t.Fatal("expected serialization_failure to be retryable")
	}
}

func TestIsRetryableDBError_DeadlockDetected(t *testing.T) {
	err := &pq.Error{Code: pq.ErrorCode(sqlStateDeadlockDetected)}
	if !IsRetryableDBError(err) {
		t.Fatal("expected deadlock_detected to be retryable")
	}
}

func TestIsRetryableDBError_OtherSQLSTATENotRetryable(t *testing.T) {
	err := &pq.Error{Code: pq.ErrorCode("23505")} // unique_violation
	if IsRetryableDBError(err) {
		t.Fatal("expected unique_violation to be non-retryable")
	}
}

func TestIsRetryableDBError_NonPQError(t *testing.T) {
	if IsRetryableDBError(errors.New("boom")) {
		t.Fatal("expected a non-pq error to be non-retryable")
	}
}

func TestDoTransaction_RetriesOnSerializationFailure(t *testing.T) {
	var calls int
	err := DoTransaction(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return &pq.Error{Code: pq.ErrorCode(sqlStateSerializationFailure)}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoTransaction_StopsOnNonRetryableDBError(t *testing.T) {
	var calls int
	sentinel := &pq.Error{Code: pq.ErrorCode("23505")}
	err := DoTransaction(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call (non-retryable SQLSTATE should stop immediately), got %d", calls)
	}
}

func TestDoTransaction_StopsOnErrsPermanent(t *testing.T) {
	var calls int
	sentinel := errs.New(errs.CodeInsufficientCapacity, nil)
	err := DoTransaction(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return errs.Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call (errs.Permanent should stop retries before any SQLSTATE check), got %d", calls)
	}
}

func TestDoTransaction_StopsOnExplicitPermanentError(t *testing.T) {
	var calls int
	sentinel := errors.New("business rule violation")
	err := DoTransaction(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}
