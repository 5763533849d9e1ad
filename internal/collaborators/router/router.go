// Package router defines the collaborator boundary the payment engine's
// caller uses to turn a (sender, receiver, amount) request into one or
// more concrete paths through the trust-line graph. Route discovery
// itself (multi-hop pathfinding, splitting across multiple paths) is
// explicitly out of the core engine's scope per the specification — the
// engine only validates and applies routes it is handed — so this
// package is a thin interface plus a reference implementation useful for
// tests and single-hop deployments.
package router

import (
	"context"
	"errors"

	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/money"
	"github.com/slawa19/geoledger/internal/payment"
)

// ErrNoRoute is returned when no path could be found between two
// participants.
var ErrNoRoute = errors.New("router: no route found")

// Router discovers candidate paths for a payment of amount from sender
// to receiver within equivalent, splitting across multiple routes if the
// implementation supports multipath.
type Router interface {
	Route(ctx context.Context, sender, receiver idtype.ID, amount money.Amount, equivalent idtype.ID) ([]payment.Route, error)
}

// StaticRouter always proposes the single direct path it was
// constructed with, ignoring sender/receiver/equivalent. It exists for
// tests and for deployments that only ever do direct (non-multihop)
// payments, where routing reduces to "the caller already knows the path".
type StaticRouter struct {
	Path []idtype.ID
}

func (r StaticRouter) Route(ctx context.Context, sender, receiver idtype.ID, amount money.Amount, equivalent idtype.ID) ([]payment.Route, error) {
	if len(r.Path) < 2 {
		return nil, ErrNoRoute
	}
	return []payment.Route{{Path: r.Path, Amount: amount}}, nil
}

// DirectRouter proposes the trivial two-hop path sender->receiver,
// suitable whenever the caller already knows sender and receiver share a
// usable trust line and no intermediary hop is needed.
type DirectRouter struct{}

func (DirectRouter) Route(ctx context.Context, sender, receiver idtype.ID, amount money.Amount, equivalent idtype.ID) ([]payment.Route, error) {
	if sender == receiver {
		return nil, ErrNoRoute
	}
	return []payment.Route{{Path: []idtype.ID{sender, receiver}, Amount: amount}}, nil
}
