// Package api is the narrow external facade the core publishes to its
// surrounding process (HTTP/WS transport, admin tools, simulators): one
// Go-level entry point per operation the specification's external
// interfaces section names, translating between wire-shaped request/
// response structs and the engines' own types. It holds no transport
// code itself (no gin/net-http router is wired here — see cmd/geoledgerd
// for the process entrypoint); it is the same seam the teacher's
// internal/server handlers call through into internal/ledger, internal/
// escrow and internal/credit, just collapsed into one facade instead of
// one handler file per concern.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/slawa19/geoledger/internal/clearing"
	"github.com/slawa19/geoledger/internal/collaborators/events"
	"github.com/slawa19/geoledger/internal/collaborators/router"
	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/errs"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/integrity"
	"github.com/slawa19/geoledger/internal/money"
	"github.com/slawa19/geoledger/internal/payment"
	"github.com/slawa19/geoledger/internal/store"
)

// Config bundles the facade's runtime-tunable feature flags (spec §6's
// "Configuration" list, the surface actually exercised by the facade —
// rate limiting and transport-level config live in the HTTP layer, not
// here).
type Config struct {
	MultipathEnabled     bool
	FullMultipathEnabled bool
	ClearingEnabled      bool
	MaxFlowMaxHops       int
}

// Facade is the entry point every external caller goes through.
type Facade struct {
	store     store.Store
	payments  *payment.Engine
	clearing  *clearing.Engine
	integrity *integrity.Service
	router    router.Router
	publisher events.Publisher
	cfg       Config
}

// New builds a Facade. publisher and rtr may be nil (no-op) for a
// deployment that handles routing and eventing outside this process.
func New(s store.Store, payments *payment.Engine, clearingEngine *clearing.Engine, integritySvc *integrity.Service, rtr router.Router, publisher events.Publisher, cfg Config) *Facade {
	if cfg.MaxFlowMaxHops <= 0 {
		cfg.MaxFlowMaxHops = 6
	}
	return &Facade{
		store:     s,
		payments:  payments,
		clearing:  clearingEngine,
		integrity: integritySvc,
		router:    rtr,
		publisher: publisher,
		cfg:       cfg,
	}
}

// PaymentRequest is createPayment's input.
type PaymentRequest struct {
	Initiator   idtype.ID
	To          idtype.ID
	Equivalent  idtype.ID
	Amount      money.Amount
	TxID        idtype.ID
	Constraints map[string]any
}

// RouteResult mirrors one realized route in a PaymentResult.
type RouteResult struct {
	Path   []idtype.ID
	Amount money.Amount
}

// PaymentResult is the shape every payment-surfacing operation returns.
type PaymentResult struct {
	TxID   idtype.ID
	Status domain.TransactionState
	Routes []RouteResult
	Error  *domain.TxError
}

// CreatePayment routes, prepares, and commits a payment in one call,
// aborting and surfacing a typed error on any failure along the way.
// Route discovery is delegated to the configured Router collaborator;
// this facade never invents a path itself (see internal/collaborators/
// router's package doc).
func (f *Facade) CreatePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if f.router == nil {
		return PaymentResult{}, errs.New(errs.CodeRouteNotFound, map[string]any{"reason": "no router configured"})
	}
	if req.TxID.IsZero() {
		req.TxID = idtype.New()
	}

	routes, err := f.router.Route(ctx, req.Initiator, req.To, req.Amount, req.Equivalent)
	if err != nil {
		return f.rejected(req.TxID, errs.CodeRouteNotFound, err), nil
	}
	if len(routes) > 1 && !f.cfg.MultipathEnabled {
		return f.rejected(req.TxID, errs.CodeValidationError, errors.New("multipath disabled")), nil
	}

	pr := make([]payment.Route, len(routes))
	for i, r := range routes {
		pr[i] = payment.Route{Path: r.Path, Amount: r.Amount}
	}

	if err := f.payments.PrepareRoutes(ctx, req.TxID, pr, req.Equivalent); err != nil {
		return f.aborted(ctx, req.TxID, err), nil
	}
	if err := f.payments.Commit(ctx, req.TxID, req.Amount.Precision()); err != nil {
		return f.aborted(ctx, req.TxID, err), nil
	}

	f.publish(ctx, events.TypePaymentReceived, req.Equivalent, req.TxID, req)

	result := PaymentResult{TxID: req.TxID, Status: domain.TxCommitted}
	for _, r := range routes {
		result.Routes = append(result.Routes, RouteResult{Path: r.Path, Amount: r.Amount})
	}
	return result, nil
}

func (f *Facade) rejected(txID idtype.ID, code errs.Code, cause error) PaymentResult {
	return PaymentResult{
		TxID:   txID,
		Status: domain.TxRejected,
		Error:  &domain.TxError{Code: string(code), Message: cause.Error()},
	}
}

func (f *Facade) aborted(ctx context.Context, txID idtype.ID, cause error) PaymentResult {
	var e *errs.Error
	code := errs.CodeInternal
	if ok := errors.As(cause, &e); ok {
		code = e.Code
	}
	_ = f.payments.Abort(ctx, txID, cause.Error(), code, nil)
	f.publish(ctx, events.TypePaymentAborted, idtype.Nil, txID, cause.Error())
	return PaymentResult{
		TxID:   txID,
		Status: domain.TxAborted,
		Error:  &domain.TxError{Code: string(code), Message: cause.Error()},
	}
}

func (f *Facade) publish(ctx context.Context, typ string, equivalent, reference idtype.ID, payload any) {
	if f.publisher == nil {
		return
	}
	raw, err := marshalBestEffort(payload)
	if err != nil {
		return
	}
	_ = f.publisher.Publish(ctx, events.Event{
		Type:       typ,
		Equivalent: equivalent,
		Reference:  reference,
		Payload:    raw,
	})
}

// GetPayment returns the current transaction row mapped to a
// PaymentResult, including a typed error when the transaction aborted.
func (f *Facade) GetPayment(ctx context.Context, txID idtype.ID) (PaymentResult, error) {
	dbTx, err := f.store.Begin(ctx)
	if err != nil {
		return PaymentResult{}, err
	}
	defer dbTx.Rollback()

	t, found, err := f.store.Transactions().Get(ctx, dbTx, txID)
	if err != nil {
		return PaymentResult{}, err
	}
	if !found {
		return PaymentResult{}, store.ErrNotFound
	}

	locks, err := f.store.PrepareLocks().Get(ctx, dbTx, txID)
	if err != nil {
		return PaymentResult{}, err
	}

	result := PaymentResult{TxID: t.ID, Status: t.State, Error: t.Error}
	for _, l := range locks {
		for _, fl := range l.Effects.Flows {
			result.Routes = append(result.Routes, RouteResult{Path: []idtype.ID{fl.From, fl.To}, Amount: fl.Amount})
		}
	}
	return result, nil
}

// Direction selects which side of a transfer a participant is listed on.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// ListPaymentsRequest is listPayments' input.
type ListPaymentsRequest struct {
	Participant idtype.ID
	Direction   Direction
	Equivalent  *idtype.ID
	FromDate    *time.Time
	Limit       int
}

// ListPayments returns every transaction touching Participant, filtered
// by equivalent/from_date when given. Direction is informational only at
// this layer since domain.Transaction does not itself record per-flow
// sender/receiver roles beyond its PrepareLock effects; callers that need
// a strict sent/received split should inspect PaymentResult.Routes.
func (f *Facade) ListPayments(ctx context.Context, req ListPaymentsRequest) ([]PaymentResult, error) {
	dbTx, err := f.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback()

	txs, err := f.store.Transactions().ListByParticipant(ctx, dbTx, req.Participant, req.Equivalent, req.FromDate)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(txs) > req.Limit {
		txs = txs[:req.Limit]
	}

	results := make([]PaymentResult, 0, len(txs))
	for _, t := range txs {
		results = append(results, PaymentResult{TxID: t.ID, Status: t.State, Error: t.Error})
	}
	return results, nil
}

// CapacityResult is capacity()'s output.
type CapacityResult struct {
	CanPay    bool
	Available money.Amount
}

// Capacity reports whether amount is admissible on the from->to segment,
// using the exact formula payment.PrepareRoutes checks against.
func (f *Facade) Capacity(ctx context.Context, from, to, equivalent idtype.ID, amount money.Amount) (CapacityResult, error) {
	dbTx, err := f.store.Begin(ctx)
	if err != nil {
		return CapacityResult{}, err
	}
	defer dbTx.Rollback()

	available, err := payment.Capacity(ctx, f.store, dbTx, from, to, equivalent, amount.Precision())
	if err != nil {
		return CapacityResult{}, err
	}
	return CapacityResult{CanPay: available.Cmp(amount) >= 0, Available: available}, nil
}

// MaxFlowResult is maxFlow()'s output. Paths is nil unless
// Config.FullMultipathEnabled is set, per the feature-flag gate §6
// describes.
type MaxFlowResult struct {
	MaxAmount money.Amount
	Paths     [][]idtype.ID
}

// MaxFlow computes an amount routable from->to within equivalent by
// repeated BFS augmenting-path search over the live capacity graph,
// bounded to Config.MaxFlowMaxHops per path. No reverse residual edges
// are kept, so a capacity taken by an earlier path is never given back,
// and the search stops after Config.MaxFlowMaxHops*4 paths; the result
// can therefore be lower than the graph's true maximum flow. This
// has no teacher precedent (mutual-credit max-flow routing is outside
// the reference product's on-chain-settlement domain); it is grounded
// directly on the specification's §6 contract and the standard
// augmenting-path algorithm.
func (f *Facade) MaxFlow(ctx context.Context, from, to, equivalent idtype.ID, precision int) (MaxFlowResult, error) {
	dbTx, err := f.store.Begin(ctx)
	if err != nil {
		return MaxFlowResult{}, err
	}
	defer dbTx.Rollback()

	trustLines, err := f.store.TrustLines().ListByEquivalent(ctx, dbTx, equivalent)
	if err != nil {
		return MaxFlowResult{}, err
	}

	neighbors := map[idtype.ID][]idtype.ID{}
	seen := map[[2]idtype.ID]bool{}
	addNeighbor := func(a, b idtype.ID) {
		key := [2]idtype.ID{a, b}
		if !seen[key] {
			seen[key] = true
			neighbors[a] = append(neighbors[a], b)
		}
	}
	for _, tl := range trustLines {
		addNeighbor(tl.To, tl.From)
		addNeighbor(tl.From, tl.To)
	}

	total := money.Zero(precision)
	used := map[[2]idtype.ID]money.Amount{}
	var paths [][]idtype.ID
	for {
		path, bottleneck, err := f.augmentingPath(ctx, dbTx, from, to, equivalent, precision, neighbors, used)
		if err != nil {
			return MaxFlowResult{}, err
		}
		if path == nil || bottleneck.IsZero() {
			break
		}
		total = total.Add(bottleneck)
		paths = append(paths, path)
		for i := 0; i+1 < len(path); i++ {
			seg := [2]idtype.ID{path[i], path[i+1]}
			prior, ok := used[seg]
			if !ok {
				prior = money.Zero(precision)
			}
			used[seg] = prior.Add(bottleneck)
		}
		if len(paths) >= f.cfg.MaxFlowMaxHops*4 {
			break
		}
	}

	result := MaxFlowResult{MaxAmount: total}
	if f.cfg.FullMultipathEnabled {
		result.Paths = paths
	}
	return result, nil
}

// augmentingPath runs one BFS hop-bounded search for a path with
// positive residual capacity, then returns the minimum capacity along
// it. It does not mutate the store: residual capacity is the live
// capacity formula minus whatever this MaxFlow call has already
// committed to earlier paths in used, so repeated calls within one
// MaxFlow invocation see a shrinking graph without writing anything to
// the ledger itself.
func (f *Facade) augmentingPath(ctx context.Context, dbTx store.Tx, from, to, equivalent idtype.ID, precision int, neighbors map[idtype.ID][]idtype.ID, used map[[2]idtype.ID]money.Amount) ([]idtype.ID, money.Amount, error) {
	type frame struct {
		node idtype.ID
		path []idtype.ID
		cap  money.Amount
	}
	start := frame{node: from, path: []idtype.ID{from}, cap: money.Amount{}}
	queue := []frame{start}
	visited := map[idtype.ID]bool{from: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path) > f.cfg.MaxFlowMaxHops+1 {
			continue
		}
		if cur.node == to && len(cur.path) > 1 {
			return cur.path, cur.cap, nil
		}
		for _, next := range neighbors[cur.node] {
			if visited[next] {
				continue
			}
			avail, err := payment.Capacity(ctx, f.store, dbTx, cur.node, next, equivalent, precision)
			if err != nil {
				return nil, money.Amount{}, err
			}
			if already, ok := used[[2]idtype.ID{cur.node, next}]; ok {
				avail = avail.Sub(already)
			}
			if avail.Sign() <= 0 {
				continue
			}
			segCap := avail
			if len(cur.path) > 1 {
				segCap = money.Min(avail, cur.cap)
			}
			visited[next] = true
			newPath := make([]idtype.ID, len(cur.path)+1)
			copy(newPath, cur.path)
			newPath[len(cur.path)] = next
			queue = append(queue, frame{node: next, path: newPath, cap: segCap})
		}
	}
	return nil, money.Zero(precision), nil
}

// FindCycles returns every clearable cycle currently available in
// equivalent, delegating to the clearing engine.
func (f *Facade) FindCycles(ctx context.Context, equivalent idtype.ID, maxDepth int) ([]clearing.Cycle, error) {
	if !f.cfg.ClearingEnabled {
		return nil, nil
	}
	return f.clearing.FindCycles(ctx, equivalent, maxDepth)
}

// AutoClearResult is autoClear()'s output.
type AutoClearResult struct {
	ClearedCycles int
}

// AutoClear repeatedly clears cycles in equivalent until none remain,
// publishing one clearing.done event per successful pass.
func (f *Facade) AutoClear(ctx context.Context, equivalent idtype.ID, maxDepth, precision int) (AutoClearResult, error) {
	if !f.cfg.ClearingEnabled {
		return AutoClearResult{}, nil
	}
	cleared, err := f.clearing.AutoClear(ctx, equivalent, maxDepth, precision)
	if err != nil {
		return AutoClearResult{}, err
	}
	if cleared > 0 {
		f.publish(ctx, events.TypeClearingDone, equivalent, idtype.Nil, map[string]any{"cleared_cycles": cleared})
	}
	return AutoClearResult{ClearedCycles: cleared}, nil
}

// Status runs the invariant checker across every stored equivalent
// (active or not) and
// returns the worst-case status bag, per §6's status() contract.
func (f *Facade) Status(ctx context.Context, precision int) (domain.InvariantsStatus, error) {
	dbTx, err := f.store.Begin(ctx)
	if err != nil {
		return domain.InvariantsStatus{}, err
	}
	defer dbTx.Rollback()

	equivalents, err := f.store.Equivalents().List(ctx, dbTx)
	if err != nil {
		return domain.InvariantsStatus{}, err
	}

	overall := domain.InvariantsStatus{Passed: true, Status: domain.StatusHealthy, Checks: map[string]bool{}}
	seenCheck := map[string]bool{}
	for _, eq := range equivalents {
		s := f.integrity.Status(ctx, dbTx, eq.ID, precision)
		for k, v := range s.Checks {
			if !seenCheck[k] {
				seenCheck[k] = true
				overall.Checks[k] = v
			} else {
				overall.Checks[k] = overall.Checks[k] && v
			}
		}
		overall.Alerts = append(overall.Alerts, s.Alerts...)
		if worseStatus(s.Status, overall.Status) {
			overall.Status = s.Status
		}
	}
	overall.Passed = overall.Status == domain.StatusHealthy
	return overall, nil
}

func worseStatus(a, b domain.InvariantCheckStatus) bool {
	rank := map[domain.InvariantCheckStatus]int{domain.StatusHealthy: 0, domain.StatusWarning: 1, domain.StatusCritical: 2}
	return rank[a] > rank[b]
}

// Verify runs the invariant checker for one equivalent, or every
// equivalent when equivalent is nil.
func (f *Facade) Verify(ctx context.Context, equivalent *idtype.ID, precision int) (domain.InvariantsStatus, error) {
	if equivalent == nil {
		return f.Status(ctx, precision)
	}
	dbTx, err := f.store.Begin(ctx)
	if err != nil {
		return domain.InvariantsStatus{}, err
	}
	defer dbTx.Rollback()
	return f.integrity.Status(ctx, dbTx, *equivalent, precision), nil
}

// Checksum returns the deterministic content checksum for equivalent.
func (f *Facade) Checksum(ctx context.Context, equivalent idtype.ID) (string, error) {
	dbTx, err := f.store.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer dbTx.Rollback()
	return f.integrity.Checksum(ctx, dbTx, equivalent)
}

// AuditLogRequest is auditLog()'s input.
type AuditLogRequest struct {
	Equivalent idtype.ID
	Limit      int
}

// AuditLog returns the most recent IntegrityAuditLog rows for
// equivalent.
func (f *Facade) AuditLog(ctx context.Context, req AuditLogRequest) ([]domain.IntegrityAuditLog, error) {
	dbTx, err := f.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback()
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	return f.store.IntegrityAuditLogs().Query(ctx, dbTx, req.Equivalent, limit)
}

func marshalBestEffort(v any) ([]byte, error) {
	return json.Marshal(v)
}
