package book

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"poolPricer/internal/model"
)

// PairKey identifies a token pair regardless of order.
type PairKey struct {
	TokenA string
	TokenB string
}

// NewPairKey canonicalizes a token pair: lowercased, lexicographic order.
func NewPairKey(a, b string) PairKey {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if b < a {
		a, b = b, a
	}
	return PairKey{TokenA: a, TokenB: b}
}

// Registry tracks the current snapshot of every known pool. Each pool's
// snapshot is swapped atomically, so readers always see a complete Book; a
// reader holding an old snapshot keeps a consistent view. Events for one pool
// are applied strictly in order, while different pools proceed independently.
type Registry struct {
	mu     sync.RWMutex
	pools  map[string]*poolEntry
	byPair map[PairKey][]string
	logger *zap.Logger
}

type poolEntry struct {
	// mu serializes event application and recovery for this pool only.
	mu         sync.Mutex
	book       atomic.Pointer[Book]
	stale      atomic.Bool
	recovering bool
	pending    []model.PoolEvent

	// token0/token1 hold the pair announced via SetTokens before the pool's
	// first event arrives.
	token0 string
	token1 string
}

// NewRegistry builds an empty pool registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		pools:  make(map[string]*poolEntry),
		byPair: make(map[PairKey][]string),
		logger: logger,
	}
}

// Get returns the current snapshot for a pool, or false if the pool is
// unknown or not yet initialized.
func (r *Registry) Get(poolAddress string) (*Book, bool) {
	entry := r.lookup(poolAddress)
	if entry == nil {
		return nil, false
	}
	b := entry.book.Load()
	if b == nil {
		return nil, false
	}
	return b, true
}

// Stale reports whether the pool's state is flagged for wholesale recovery.
func (r *Registry) Stale(poolAddress string) bool {
	entry := r.lookup(poolAddress)
	return entry != nil && entry.stale.Load()
}

// PoolsForPair returns the known pool addresses trading the given pair.
func (r *Registry) PoolsForPair(key PairKey) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.byPair[key]))
	copy(out, r.byPair[key])
	return out
}

// Addresses returns every known pool address in stable order.
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.pools))
	for addr := range r.pools {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Apply projects an event onto a pool's current snapshot and swaps in the
// result. While a recovery is in flight the event is queued instead and
// reconciled on completion. A malformed event flags the pool stale without
// touching its snapshot; the error still propagates so callers can trigger
// recovery.
func (r *Registry) Apply(poolAddress string, ev model.PoolEvent) error {
	entry := r.ensure(poolAddress)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.recovering {
		entry.pending = append(entry.pending, ev)
		return nil
	}

	prev := entry.book.Load()
	next, err := Apply(prev, ev)
	if err != nil {
		if errors.Is(err, model.ErrMalformedEvent) {
			entry.stale.Store(true)
			r.logger.Warn("pool flagged stale",
				zap.String("pool", poolAddress),
				zap.String("event", ev.Name()),
				zap.Error(err),
			)
		}
		return fmt.Errorf("apply %s to %s: %w", ev.Name(), poolAddress, err)
	}

	if next.Token0() == "" && entry.token0 != "" {
		next = next.WithTokens(entry.token0, entry.token1)
	}
	entry.book.Store(next)
	r.indexPair(poolAddress, next)
	return nil
}

// SetTokens attaches the token pair to a pool. The pair is applied to the
// current snapshot if one exists and remembered for books installed later.
func (r *Registry) SetTokens(poolAddress, token0, token1 string) {
	entry := r.ensure(poolAddress)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.token0 = token0
	entry.token1 = token1
	if b := entry.book.Load(); b != nil {
		next := b.WithTokens(token0, token1)
		entry.book.Store(next)
		r.indexPair(poolAddress, next)
	}
}

// MarkStale flags a pool for wholesale recovery, used when a log for the
// pool cannot be decoded at all.
func (r *Registry) MarkStale(poolAddress string) {
	entry := r.ensure(poolAddress)
	entry.stale.Store(true)
	r.logger.Warn("pool flagged stale", zap.String("pool", poolAddress))
}

// BeginRecovery marks a pool as recovering. Events arriving until
// CompleteRecovery are queued rather than applied.
func (r *Registry) BeginRecovery(poolAddress string) {
	entry := r.ensure(poolAddress)
	entry.mu.Lock()
	entry.recovering = true
	entry.mu.Unlock()
}

// AbortRecovery unwinds a failed recovery attempt. Queued events are replayed
// onto the existing snapshot so none are lost; the pool keeps its stale flag
// for the next attempt.
func (r *Registry) AbortRecovery(poolAddress string) {
	entry := r.ensure(poolAddress)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	pending := entry.pending
	entry.pending = nil
	entry.recovering = false

	current := entry.book.Load()
	for _, ev := range pending {
		if current != nil && ev.Meta().BlockNumber <= current.Block() {
			continue
		}
		next, err := Apply(current, ev)
		if err != nil {
			r.logger.Warn("replay after aborted recovery failed",
				zap.String("pool", poolAddress),
				zap.String("event", ev.Name()),
				zap.Error(err),
			)
			break
		}
		current = next
	}
	if current != nil {
		entry.book.Store(current)
		r.indexPair(poolAddress, current)
	}
}

// CompleteRecovery installs a recovered snapshot. Queued events from blocks
// the snapshot already covers are discarded; later ones are replayed on top.
// Replay failures re-flag the pool stale.
func (r *Registry) CompleteRecovery(poolAddress string, recovered *Book) error {
	entry := r.ensure(poolAddress)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	pending := entry.pending
	entry.pending = nil
	entry.recovering = false

	current := recovered
	var replayErr error
	for _, ev := range pending {
		if ev.Meta().BlockNumber <= current.Block() {
			continue
		}
		next, err := Apply(current, ev)
		if err != nil {
			replayErr = fmt.Errorf("replay %s to %s: %w", ev.Name(), poolAddress, err)
			break
		}
		current = next
	}

	entry.book.Store(current)
	r.indexPair(poolAddress, current)

	if replayErr != nil {
		entry.stale.Store(true)
		return replayErr
	}
	entry.stale.Store(false)
	return nil
}

// Snapshots exports the current state of every initialized pool.
func (r *Registry) Snapshots(chainID uint64) []model.Snapshot {
	addresses := r.Addresses()
	out := make([]model.Snapshot, 0, len(addresses))
	for _, addr := range addresses {
		if b, ok := r.Get(addr); ok {
			out = append(out, b.Snapshot(chainID, addr))
		}
	}
	return out
}

func (r *Registry) lookup(poolAddress string) *poolEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pools[poolKey(poolAddress)]
}

func (r *Registry) ensure(poolAddress string) *poolEntry {
	key := poolKey(poolAddress)
	r.mu.RLock()
	entry := r.pools[key]
	r.mu.RUnlock()
	if entry != nil {
		return entry
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry = r.pools[key]; entry == nil {
		entry = &poolEntry{}
		r.pools[key] = entry
	}
	return entry
}

func (r *Registry) indexPair(poolAddress string, b *Book) {
	if b.Token0() == "" || b.Token1() == "" {
		return
	}
	key := NewPairKey(b.Token0(), b.Token1())
	addr := poolKey(poolAddress)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byPair[key] {
		if existing == addr {
			return
		}
	}
	r.byPair[key] = append(r.byPair[key], addr)
}

func poolKey(address string) string {
	return strings.ToLower(address)
}
