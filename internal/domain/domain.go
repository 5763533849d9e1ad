// Package domain defines the six ledger entities and the closed enums
// that describe their lifecycle states, plus the audit and checkpoint
// records derived from them. It holds no persistence or business logic
// of its own — that lives in internal/store, internal/invariants,
// internal/payment, and internal/clearing.
package domain

import (
	"time"

	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/money"
)

// ParticipantType is a closed enum for the kind of actor a Participant
// represents.
type ParticipantType string

const (
	ParticipantPerson   ParticipantType = "person"
	ParticipantBusiness ParticipantType = "business"
	ParticipantHub      ParticipantType = "hub"
)

// ParticipantStatus is a closed enum for participant lifecycle state.
type ParticipantStatus string

const (
	ParticipantActive    ParticipantStatus = "active"
	ParticipantSuspended ParticipantStatus = "suspended"
	ParticipantLeft      ParticipantStatus = "left"
	ParticipantDeleted   ParticipantStatus = "deleted"
)

// TrustLineStatus is a closed enum for trust line lifecycle state.
type TrustLineStatus string

const (
	TrustLineActive TrustLineStatus = "active"
	TrustLineFrozen TrustLineStatus = "frozen"
	TrustLineClosed TrustLineStatus = "closed"
)

// TransactionType is a closed enum for the kind of mutating operation a
// Transaction records.
type TransactionType string

const (
	TxPayment           TransactionType = "PAYMENT"
	TxClearing          TransactionType = "CLEARING"
	TxTrustLineCreate   TransactionType = "TRUSTLINE_CREATE"
	TxTrustLineUpdate   TransactionType = "TRUSTLINE_UPDATE"
	TxTrustLineClose    TransactionType = "TRUSTLINE_CLOSE"
)

// TransactionState is a closed enum for the 2PC lifecycle of a
// Transaction. NEW/ROUTED/PREPARE_IN_PROGRESS/PREPARED/PROPOSED/WAITING
// are all "active" states a stale-transaction sweep may abort.
type TransactionState string

const (
	TxNew                TransactionState = "NEW"
	TxRouted             TransactionState = "ROUTED"
	TxPrepareInProgress  TransactionState = "PREPARE_IN_PROGRESS"
	TxPrepared           TransactionState = "PREPARED"
	TxProposed           TransactionState = "PROPOSED"
	TxWaiting            TransactionState = "WAITING"
	TxCommitted          TransactionState = "COMMITTED"
	TxAborted            TransactionState = "ABORTED"
	TxRejected           TransactionState = "REJECTED"
)

// ActiveTransactionStates lists every state the recovery loop considers
// "still in flight" and therefore eligible for a stale-transaction abort.
var ActiveTransactionStates = []TransactionState{
	TxNew, TxRouted, TxPrepareInProgress, TxPrepared, TxProposed, TxWaiting,
}

// IsActive reports whether s is one of ActiveTransactionStates.
func (s TransactionState) IsActive() bool {
	for _, active := range ActiveTransactionStates {
		if s == active {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s can never transition again.
func (s TransactionState) IsTerminal() bool {
	return s == TxCommitted || s == TxAborted || s == TxRejected
}

// Equivalent is a unit of account, currency-like.
type Equivalent struct {
	ID        idtype.ID
	Code      string // uppercase, unique
	Precision int    // 0..18
	Active    bool
}

// Participant is an identity in the trust network.
type Participant struct {
	ID          idtype.ID
	PID         string // printable, derived from PublicKey
	DisplayName string
	PublicKey   []byte
	Type        ParticipantType
	Status      ParticipantStatus
}

// TrustLinePolicy bags the per-pair policy toggles that gate clearing and
// routing eligibility.
type TrustLinePolicy struct {
	AutoClearing     bool
	CanBeIntermediate bool
	Blocklist        []idtype.ID
}

// TrustLine is directed credit granted by From to To: it lets debt flow
// from To toward From up to Limit.
type TrustLine struct {
	ID          idtype.ID
	From        idtype.ID
	To          idtype.ID
	Equivalent  idtype.ID
	Limit       money.Amount
	Status      TrustLineStatus
	Policy      TrustLinePolicy
	Version     int
	UpdatedAt   time.Time
}

// Debt is an outstanding IOU: Debtor owes Creditor Amount in Equivalent.
type Debt struct {
	ID         idtype.ID
	Debtor     idtype.ID
	Creditor   idtype.ID
	Equivalent idtype.ID
	Amount     money.Amount
	Version    int
	UpdatedAt  time.Time
}

// TxError is the stable error object persisted on an aborted/rejected
// Transaction.
type TxError struct {
	Code    string
	Message string
	Details map[string]any
}

// RouteFlow is one directed leg of a payment route.
type RouteFlow struct {
	From       idtype.ID
	To         idtype.ID
	Amount     money.Amount
	Equivalent idtype.ID
}

// Transaction is the durable record of any mutating operation.
type Transaction struct {
	ID             idtype.ID
	Type           TransactionType
	Initiator      idtype.ID
	Payload        map[string]any
	State          TransactionState
	Error          *TxError
	IdempotencyKey string
	UpdatedAt      time.Time
}

// PrepareLockEffects is the reservation payload attached to a
// PrepareLock: the set of flows it has reserved capacity for.
type PrepareLockEffects struct {
	Flows []RouteFlow
}

// PrepareLock is a capacity reservation held during the prepare phase of
// 2PC, unique per (Transaction, Participant).
type PrepareLock struct {
	ID          idtype.ID
	TxID        idtype.ID
	Participant idtype.ID
	Effects     PrepareLockEffects
	ExpiresAt   time.Time
}

// Expired reports whether the lock's reservation window has passed asOf.
func (l PrepareLock) Expired(asOf time.Time) bool {
	return !l.ExpiresAt.After(asOf)
}

// AuditLog is an append-only record of an admin or integrity-relevant
// event.
type AuditLog struct {
	ID              idtype.ID
	Timestamp       time.Time
	Actor           string
	Action          string
	Object          string
	Before          map[string]any
	After           map[string]any
	RequestID       string
}

// InvariantCheckStatus is a closed enum describing the severity of the
// worst invariant failure observed in a checkpoint.
type InvariantCheckStatus string

const (
	StatusHealthy  InvariantCheckStatus = "healthy"
	StatusWarning  InvariantCheckStatus = "warning"
	StatusCritical InvariantCheckStatus = "critical"
)

// InvariantsStatus summarizes the outcome of running the invariant
// checker over an equivalent.
type InvariantsStatus struct {
	Passed bool
	Status InvariantCheckStatus
	Checks map[string]bool
	Alerts []string
}

// IntegrityCheckpoint is a snapshot signature of store state for one
// equivalent.
type IntegrityCheckpoint struct {
	Equivalent idtype.ID
	Checksum   string
	Invariants InvariantsStatus
	ComputedAt time.Time
}

// IntegrityAuditLog is the append-only record of a PAYMENT/CLEARING
// commit or an explicit verify request.
type IntegrityAuditLog struct {
	ID                  idtype.ID
	OperationType       TransactionType
	TxID                idtype.ID
	Equivalent          idtype.ID
	ChecksumBefore      string
	ChecksumAfter       string
	AffectedParticipants []idtype.ID
	InvariantsChecked   []string
	VerificationPassed  bool
	ErrorDetails        map[string]any
	Timestamp           time.Time
}
