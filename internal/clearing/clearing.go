// Package clearing discovers and executes closed debt cycles that leave
// every participant's net position unchanged. The set-based depth-3/4
// detectors are grounded on the original implementation's
// find_triangles_sql/find_quadrangles_sql self-joins
// (app/core/clearing/service.py), expressed here as in-memory relational
// joins over the store's debt rows rather than literal SQL, since the
// store abstraction also backs an in-memory implementation; the
// Postgres store is free to push the same joins down to SQL internally.
// The DFS fallback is grounded on spec Design Notes §9's arena+index
// adjacency guidance.
package clearing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2"

	"github.com/slawa19/geoledger/internal/domain"
	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/integrity"
	"github.com/slawa19/geoledger/internal/invariants"
	"github.com/slawa19/geoledger/internal/lock"
	"github.com/slawa19/geoledger/internal/logging"
	"github.com/slawa19/geoledger/internal/metrics"
	"github.com/slawa19/geoledger/internal/money"
	"github.com/slawa19/geoledger/internal/store"
	"github.com/slawa19/geoledger/internal/syncutil"
)

// Cycle is a closed loop of debt edges that can be neutrally reduced.
type Cycle struct {
	Debts []domain.Debt // in walk order: Debts[i].Creditor == Debts[i+1].Debtor
}

func (c Cycle) sortedIDs() []string {
	ids := make([]string, len(c.Debts))
	for i, d := range c.Debts {
		ids[i] = d.ID.String()
	}
	sort.Strings(ids)
	return ids
}

func (c Cycle) dedupKey() string {
	return fmt.Sprint(c.sortedIDs())
}

// Engine is the clearing engine.
type Engine struct {
	store       store.Store
	checker     *invariants.Checker
	integrity   *integrity.Service
	lockProv    lock.Provider
	adjCache    *lru.Cache[idtype.ID, cachedAdjacency]
	autoClearMu syncutil.ContextShardedMutex

	MaxDepth      int
	BatchLimit    int
	DFSMaxDepth   int
	DFSMaxResults int
}

// adjacency is the dense-index neighbor arena used by the DFS fallback:
// plain []int slices keyed by a per-call participant index, instead of a
// pointer graph, so scanning neighbors touches contiguous memory.
type adjacency struct {
	index     map[idtype.ID]int
	reverse   []idtype.ID
	neighbors [][]int // neighbors[i] = indices j such that i owes j (debt i->j)
	debtByEdge map[[2]int]domain.Debt
}

// cachedAdjacency pairs a built adjacency arena with the debt count it
// was built from, a cheap (not fully sound) invalidation signal: any
// clearing or payment commit that changes the number of positive-debt
// edges forces a rebuild, which covers the common case without needing
// a full dependency-tracking cache for a path that is only a fallback.
type cachedAdjacency struct {
	adj       adjacency
	debtCount int
}

func New(s store.Store, checker *invariants.Checker, integritySvc *integrity.Service, lockProv lock.Provider) *Engine {
	cache, _ := lru.New[idtype.ID, cachedAdjacency](32)
	return &Engine{
		store: s, checker: checker, integrity: integritySvc, lockProv: lockProv,
		adjCache: cache, MaxDepth: 4, BatchLimit: 100, DFSMaxDepth: 6, DFSMaxResults: 10,
	}
}

// FindCycles discovers up to BatchLimit candidate cycles of length 3 or
// 4 (bounded by maxDepth) for equivalent, excluding any cycle that
// touches a pair with an active prepare-lock reservation or whose
// controlling trust line has auto_clearing disabled, and deduplicated by
// sorted debt-ID tuple. See §4.4 steps 1-6.
func (e *Engine) FindCycles(ctx context.Context, equivalent idtype.ID, maxDepth int) ([]Cycle, error) {
	if maxDepth < 3 {
		maxDepth = 3
	}
	if maxDepth > e.MaxDepth {
		maxDepth = e.MaxDepth
	}

	dbTx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Commit()

	lockedPairs, err := e.lockedPairs(ctx, dbTx)
	if err != nil {
		return nil, err
	}

	debts, err := e.store.Debts().ListByEquivalent(ctx, dbTx, equivalent)
	if err != nil {
		return nil, err
	}
	positive := make([]domain.Debt, 0, len(debts))
	for _, d := range debts {
		if d.Amount.Sign() > 0 {
			positive = append(positive, d)
		}
	}

	var cycles []Cycle
	cycles = append(cycles, e.findTriangles(positive)...)
	if maxDepth >= 4 {
		cycles = append(cycles, e.findQuadrangles(positive)...)
	}

	var filtered []Cycle
	seen := make(map[string]bool)
	for _, c := range cycles {
		if e.touchesLockedPair(c, lockedPairs) {
			continue
		}
		ok, err := e.allEdgesAutoClear(ctx, dbTx, c, equivalent)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		key := c.dedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		filtered = append(filtered, c)
		if len(filtered) >= e.BatchLimit {
			return filtered, nil
		}
	}

	if len(filtered) == 0 {
		dfsCycles, err := e.findCyclesDFS(equivalent, positive, lockedPairs)
		if err != nil {
			return nil, err
		}
		for _, c := range dfsCycles {
			ok, err := e.allEdgesAutoClear(ctx, dbTx, c, equivalent)
			if err != nil {
				return nil, err
			}
			if ok {
				filtered = append(filtered, c)
			}
		}
	}

	return filtered, nil
}

func (e *Engine) lockedPairs(ctx context.Context, dbTx store.Tx) (map[[2]idtype.ID]bool, error) {
	locks, err := e.store.PrepareLocks().ListActive(ctx, dbTx, time.Now())
	if err != nil {
		return nil, err
	}
	pairs := make(map[[2]idtype.ID]bool)
	for _, l := range locks {
		for _, f := range l.Effects.Flows {
			pairs[unorderedPair(f.From, f.To)] = true
		}
	}
	return pairs, nil
}

func (e *Engine) touchesLockedPair(c Cycle, lockedPairs map[[2]idtype.ID]bool) bool {
	for _, d := range c.Debts {
		if lockedPairs[unorderedPair(d.Debtor, d.Creditor)] {
			return true
		}
	}
	return false
}

func (e *Engine) allEdgesAutoClear(ctx context.Context, dbTx store.Tx, c Cycle, equivalent idtype.ID) (bool, error) {
	for _, d := range c.Debts {
		tl, err := e.store.TrustLines().Get(ctx, dbTx, d.Creditor, d.Debtor, equivalent)
		if err != nil {
			return false, nil // missing/non-active trust line: treat as not clearable, not an error
		}
		if tl.Status != domain.TrustLineActive || !tl.Policy.AutoClearing {
			return false, nil
		}
	}
	return true, nil
}

// findTriangles mirrors find_triangles_sql: d1.creditor == d2.debtor,
// d2.creditor == d3.debtor, d3.creditor == d1.debtor.
func (e *Engine) findTriangles(debts []domain.Debt) []Cycle {
	byDebtor := indexByDebtor(debts)
	var out []Cycle
	for _, d1 := range debts {
		for _, d2 := range byDebtor[d1.Creditor] {
			if d2.Creditor == d1.Debtor {
				continue // that's a 2-cycle (symmetry violation), not a triangle
			}
			for _, d3 := range byDebtor[d2.Creditor] {
				if d3.Creditor == d1.Debtor {
					out = append(out, Cycle{Debts: []domain.Debt{d1, d2, d3}})
				}
			}
		}
	}
	return out
}

// findQuadrangles mirrors find_quadrangles_sql, including the
// non-simple-walk rejection: the 4th vertex must differ from vertices 1
// and 2, otherwise a walk like A->B->C->B->A would be accepted as if it
// were a genuine 4-cycle.
func (e *Engine) findQuadrangles(debts []domain.Debt) []Cycle {
	byDebtor := indexByDebtor(debts)
	var out []Cycle
	for _, d1 := range debts {
		for _, d2 := range byDebtor[d1.Creditor] {
			if d2.Creditor == d1.Debtor {
				continue
			}
			for _, d3 := range byDebtor[d2.Creditor] {
				if d3.Creditor == d1.Debtor {
					continue
				}
				for _, d4 := range byDebtor[d3.Creditor] {
					if d4.Creditor != d1.Debtor {
						continue
					}
					if d1.Debtor == d2.Creditor || d1.Debtor == d3.Creditor || d1.Creditor == d3.Creditor {
						continue
					}
					out = append(out, Cycle{Debts: []domain.Debt{d1, d2, d3, d4}})
				}
			}
		}
	}
	return out
}

func indexByDebtor(debts []domain.Debt) map[idtype.ID][]domain.Debt {
	m := make(map[idtype.ID][]domain.Debt)
	for _, d := range debts {
		m[d.Debtor] = append(m[d.Debtor], d)
	}
	return m
}

func unorderedPair(a, b idtype.ID) [2]idtype.ID {
	if a.String() < b.String() {
		return [2]idtype.ID{a, b}
	}
	return [2]idtype.ID{b, a}
}

// findCyclesDFS is the fallback path when no set-based cycle was found:
// a bounded depth-first search over a dense-index adjacency arena,
// capped at DFSMaxResults cycles to bound worst-case cost on a dense
// debt graph.
func (e *Engine) findCyclesDFS(equivalent idtype.ID, debts []domain.Debt, lockedPairs map[[2]idtype.ID]bool) ([]Cycle, error) {
	cached, ok := e.adjCache.Get(equivalent)
	var adj adjacency
	if ok && cached.debtCount == len(debts) {
		adj = cached.adj
	} else {
		adj = buildAdjacency(debts)
		e.adjCache.Add(equivalent, cachedAdjacency{adj: adj, debtCount: len(debts)})
	}
	var results []Cycle
	visited := make([]bool, len(adj.reverse))
	stack := make([]int, 0, e.DFSMaxDepth)

	var walk func(start, current, depth int)
	walk = func(start, current, depth int) {
		if len(results) >= e.DFSMaxResults {
			return
		}
		if depth > e.DFSMaxDepth {
			return
		}
		for _, next := range adj.neighbors[current] {
			if next == start && depth >= 3 {
				cycleIdx := append(append([]int{}, stack...), current)
				if c, ok := adj.buildCycle(cycleIdx); ok && !e.touchesLockedPair(c, lockedPairs) {
					results = append(results, c)
					if len(results) >= e.DFSMaxResults {
						return
					}
				}
				continue
			}
			if visited[next] || next < start {
				continue
			}
			visited[next] = true
			stack = append(stack, current)
			walk(start, next, depth+1)
			stack = stack[:len(stack)-1]
			visited[next] = false
		}
	}

	for start := range adj.reverse {
		if len(results) >= e.DFSMaxResults {
			break
		}
		visited[start] = true
		walk(start, start, 1)
		visited[start] = false
	}

	return results, nil
}

func buildAdjacency(debts []domain.Debt) adjacency {
	index := make(map[idtype.ID]int)
	var reverse []idtype.ID
	get := func(id idtype.ID) int {
		if i, ok := index[id]; ok {
			return i
		}
		i := len(reverse)
		index[id] = i
		reverse = append(reverse, id)
		return i
	}
	debtByEdge := make(map[[2]int]domain.Debt)
	for _, d := range debts {
		i, j := get(d.Debtor), get(d.Creditor)
		debtByEdge[[2]int{i, j}] = d
	}
	neighbors := make([][]int, len(reverse))
	for edge := range debtByEdge {
		neighbors[edge[0]] = append(neighbors[edge[0]], edge[1])
	}
	return adjacency{index: index, reverse: reverse, neighbors: neighbors, debtByEdge: debtByEdge}
}

func (a adjacency) buildCycle(pathIdx []int) (Cycle, bool) {
	var debts []domain.Debt
	for i := 0; i+1 < len(pathIdx); i++ {
		d, ok := a.debtByEdge[[2]int{pathIdx[i], pathIdx[i+1]}]
		if !ok {
			return Cycle{}, false
		}
		debts = append(debts, d)
	}
	last, ok := a.debtByEdge[[2]int{pathIdx[len(pathIdx)-1], pathIdx[0]}]
	if !ok {
		return Cycle{}, false
	}
	debts = append(debts, last)
	return Cycle{Debts: debts}, true
}

// ExecuteClearing atomically reduces every edge of cycle by its minimum
// amount, verifying exact neutrality before committing. See §4.4 steps
// 1-9.
func (e *Engine) ExecuteClearing(ctx context.Context, cycle Cycle, equivalent idtype.ID, precision int) error {
	done := metrics.ObservePaymentOp("clearing_execute")
	outcome := "ok"
	defer func() { done(outcome) }()

	dbTx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	var fresh []domain.Debt
	clearAmount := money.Zero(precision)
	first := true
	for _, d := range cycle.Debts {
		current, ok, err := e.store.Debts().GetForUpdate(ctx, dbTx, store.DebtRef{Debtor: d.Debtor, Creditor: d.Creditor, Equivalent: equivalent})
		if err != nil {
			return err
		}
		if !ok || current.Amount.Cmp(d.Amount) < 0 {
			outcome = "error"
			return fmt.Errorf("clearing: cycle edge %s->%s no longer available", d.Debtor, d.Creditor)
		}
		fresh = append(fresh, current)
		if first || current.Amount.Cmp(clearAmount) < 0 {
			clearAmount = current.Amount
			first = false
		}
	}

	participants := make(map[idtype.ID]bool)
	for _, d := range fresh {
		participants[d.Debtor] = true
		participants[d.Creditor] = true
	}
	positionsBefore := make(map[idtype.ID]money.Amount)
	for p := range participants {
		pos, err := e.checker.CalculateNetPosition(ctx, dbTx, p, equivalent, precision)
		if err != nil {
			return err
		}
		positionsBefore[p] = pos
	}

	checksumBefore, err := e.integrity.Checksum(ctx, dbTx, equivalent)
	if err != nil {
		return err
	}

	txID := idtype.New()
	edgesPayload := make([]map[string]any, 0, len(fresh))
	for _, d := range fresh {
		edgesPayload = append(edgesPayload, map[string]any{
			"debt_id": d.ID.String(), "debtor": d.Debtor.String(), "creditor": d.Creditor.String(), "amount": d.Amount.String(),
		})
	}
	clearingTx := domain.Transaction{
		ID:      txID,
		Type:    domain.TxClearing,
		State:   domain.TxNew,
		Payload: map[string]any{"equivalent": equivalent.String(), "amount": clearAmount.String(), "edges": edgesPayload},
	}
	if err := e.store.Transactions().Upsert(ctx, dbTx, clearingTx); err != nil {
		return err
	}

	for _, d := range fresh {
		newAmount := d.Amount.Sub(clearAmount)
		if newAmount.IsZero() {
			if err := e.store.Debts().Delete(ctx, dbTx, d.ID); err != nil {
				return err
			}
			continue
		}
		d.Amount = newAmount
		if _, err := e.store.Debts().Upsert(ctx, dbTx, d); err != nil {
			return err
		}
	}

	var participantList []idtype.ID
	for p := range participants {
		participantList = append(participantList, p)
	}
	if err := e.checker.VerifyClearingNeutrality(ctx, dbTx, participantList, equivalent, precision, positionsBefore); err != nil {
		outcome = "error"
		return err
	}

	checksumAfter, err := e.integrity.Checksum(ctx, dbTx, equivalent)
	if err != nil {
		return err
	}
	if auditErr := e.integrity.RecordAudit(ctx, dbTx, domain.IntegrityAuditLog{
		OperationType: domain.TxClearing, TxID: txID, Equivalent: equivalent,
		ChecksumBefore: checksumBefore, ChecksumAfter: checksumAfter,
		AffectedParticipants: participantList,
		InvariantsChecked:    []string{"clearing_neutrality"},
		VerificationPassed:   true,
	}); auditErr != nil {
		logging.L(ctx).Warn("integrity audit write failed", "error", auditErr, "tx_id", txID.String())
	}

	clearingTx.State = domain.TxCommitted
	if err := e.store.Transactions().Upsert(ctx, dbTx, clearingTx); err != nil {
		return err
	}

	metrics.ClearingCyclesTotal.WithLabelValues(fmt.Sprint(len(cycle.Debts))).Inc()
	metrics.ClearingCycleAmount.WithLabelValues(equivalent.String()).Add(clearAmount.Float64())

	return dbTx.Commit()
}

// AutoClear repeatedly finds and executes cycles for equivalent until
// FindCycles returns no cycles, every clearing attempt in an iteration
// fails (a single failed attempt is skipped), or an absolute ceiling of
// successful clearings is hit. Concurrent calls within this
// process are serialized per equivalent by an in-process sharded mutex
// first; cross-process runs are then serialized with a distributed lock
// keyed dlock:clearing:<equivalent>.
func (e *Engine) AutoClear(ctx context.Context, equivalent idtype.ID, maxDepth, precision int) (int, error) {
	unlock, err := e.autoClearMu.LockContext(ctx, equivalent.String())
	if err != nil {
		return 0, err
	}
	defer unlock()

	release, err := e.lockProv.Acquire(ctx, "dlock:clearing:"+equivalent.String())
	if err != nil {
		return 0, err
	}
	defer release(ctx)

	const ceiling = 100
	cleared := 0
	for cleared < ceiling {
		cycles, err := e.FindCycles(ctx, equivalent, maxDepth)
		if err != nil {
			return cleared, err
		}
		if len(cycles) == 0 {
			break
		}
		progressed := false
		for _, c := range cycles {
			if cleared >= ceiling {
				break
			}
			if err := e.ExecuteClearing(ctx, c, equivalent, precision); err != nil {
				continue
			}
			cleared++
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return cleared, nil
}
