// Package events publishes domain events ("payment.received",
// "clearing.done", ...) produced by the core engines for consumption by
// external collaborators (notification, analytics, reconciliation). It
// generalizes the reference ledger's balance-event append log
// (internal/ledger's Event/EventStore/MemoryEventStore/PostgresEventStore)
// from a fixed set of balance-affecting event types to an open,
// caller-defined event-type string carrying a JSON payload, since this
// core's event surface is informational rather than the sole source of
// truth for balances (domain.Debt/domain.Transaction already are).
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/slawa19/geoledger/internal/idtype"
)

// Event is an immutable record of something the core engines did.
type Event struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	Equivalent idtype.ID       `json:"equivalent"`
	Reference  idtype.ID       `json:"reference,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Well-known event types emitted by the payment and clearing engines.
const (
	TypePaymentPrepared = "payment.prepared"
	TypePaymentReceived = "payment.received"
	TypePaymentAborted  = "payment.aborted"
	TypeClearingDone    = "clearing.done"
	TypeIntegrityDrift  = "integrity.drift"
)

// Publisher appends domain events for later retrieval. Implementations
// must not block the caller's transaction on slow downstream consumers;
// PostgresPublisher writes to a durable outbox table instead of calling
// out synchronously. That write runs on its own connection, not inside
// the caller's ledger transaction.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	// Since returns every event of the given type recorded at or after
	// ts, ordered oldest first. An empty typ matches every type.
	Since(ctx context.Context, typ string, ts time.Time) ([]Event, error)
}

// MemoryPublisher is an in-process Publisher backed by a slice, suitable
// for tests and single-process deployments.
type MemoryPublisher struct {
	mu     sync.RWMutex
	events []Event
	nextID int64
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	event.ID = p.nextID
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	p.events = append(p.events, event)
	return nil
}

func (p *MemoryPublisher) Since(_ context.Context, typ string, ts time.Time) ([]Event, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []Event
	for _, e := range p.events {
		if (typ == "" || e.Type == typ) && !e.OccurredAt.Before(ts) {
			out = append(out, e)
		}
	}
	return out, nil
}

// PostgresPublisher appends events to a durable "event_outbox" table.
// Publish and Since run directly on the *sql.DB it was built with, so a
// published event is not atomic with any ledger mutation.
type PostgresPublisher struct {
	db *sql.DB
}

// NewPostgresPublisher creates a publisher backed by db.
func NewPostgresPublisher(db *sql.DB) *PostgresPublisher {
	return &PostgresPublisher{db: db}
}

func (p *PostgresPublisher) Publish(ctx context.Context, event Event) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO event_outbox (event_type, equivalent_id, reference_id, payload, occurred_at)
		VALUES ($1, $2, $3, COALESCE($4::JSONB, '{}'), NOW())
	`, event.Type, nullableID(event.Equivalent), nullableID(event.Reference), rawOrNil(event.Payload))
	return err
}

func (p *PostgresPublisher) Since(ctx context.Context, typ string, ts time.Time) ([]Event, error) {
	var rows *sql.Rows
	var err error
	if typ == "" {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, event_type, equivalent_id, COALESCE(reference_id, ''), payload::TEXT, occurred_at
			FROM event_outbox WHERE occurred_at >= $1 ORDER BY id ASC
		`, ts)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, event_type, equivalent_id, COALESCE(reference_id, ''), payload::TEXT, occurred_at
			FROM event_outbox WHERE event_type = $1 AND occurred_at >= $2 ORDER BY id ASC
		`, typ, ts)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var e Event
		var equivalent string
		var reference string
		var payload string
		if err := rows.Scan(&e.ID, &e.Type, &equivalent, &reference, &payload, &e.OccurredAt); err != nil {
			return nil, err
		}
		if equivalent != "" {
			if id, err := idtype.Parse(equivalent); err == nil {
				e.Equivalent = id
			}
		}
		if reference != "" {
			if id, err := idtype.Parse(reference); err == nil {
				e.Reference = id
			}
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableID(id idtype.ID) any {
	if id.IsZero() {
		return nil
	}
	return id.String()
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
