package usecase

import (
	"sort"
	"sync"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"go.uber.org/zap"
)

// Registry holds the open positions of every strategy of one bot. Strategies
// only ever see their own partition.
type Registry struct {
	mu        sync.RWMutex
	positions map[domain.PositionID]*domain.Position
	logger    *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		positions: make(map[domain.PositionID]*domain.Position),
		logger:    logger,
	}
}

// WithStrategy hands fn the positions owned by strategyID. fn may add, replace
// or delete entries of the map; afterwards survivors are written back and
// missing ids are removed. Entries carrying another strategy's id are
// rejected.
func (r *Registry) WithStrategy(strategyID string, fn func(owned map[domain.PositionID]*domain.Position)) {
	owned := r.snapshot(strategyID)
	before := make(map[domain.PositionID]bool, len(owned))
	for id := range owned {
		before[id] = true
	}

	fn(owned)

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, pos := range owned {
		if id.StrategyID != strategyID || pos == nil {
			r.logger.Error("rejected position outside strategy partition",
				zap.String("strategy", strategyID),
				zap.String("position", id.String()))
			continue
		}
		r.positions[id] = pos
		delete(before, id)
	}
	for id := range before {
		delete(r.positions, id)
	}
}

func (r *Registry) snapshot(strategyID string) map[domain.PositionID]*domain.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owned := make(map[domain.PositionID]*domain.Position)
	for id, pos := range r.positions {
		if id.StrategyID == strategyID {
			owned[id] = pos
		}
	}
	return owned
}

// RouteOrders groups orders by owning strategy and runs fn once per strategy
// inside a single WithStrategy cycle. Orders without an id, or whose strategy
// is not known, are skipped.
func (r *Registry) RouteOrders(orders []*domain.Order, known func(strategyID string) bool,
	fn func(strategyID string, orders []*domain.Order, owned map[domain.PositionID]*domain.Position)) {
	groups := make(map[string][]*domain.Order)
	for _, o := range orders {
		sid := o.ID.StrategyID
		if sid == "" || !known(sid) {
			continue
		}
		groups[sid] = append(groups[sid], o)
	}

	ids := make([]string, 0, len(groups))
	for sid := range groups {
		ids = append(ids, sid)
	}
	sort.Strings(ids)

	for _, sid := range ids {
		group := groups[sid]
		r.WithStrategy(sid, func(owned map[domain.PositionID]*domain.Position) {
			fn(sid, group, owned)
		})
	}
}

func (r *Registry) Get(id domain.PositionID) *domain.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.positions[id]
}

func (r *Registry) Put(pos *domain.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[pos.ID] = pos
}

func (r *Registry) Delete(id domain.PositionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.positions, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions)
}

// Select returns the live positions matching keep, ordered by id.
func (r *Registry) Select(keep func(*domain.Position) bool) []*domain.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Position
	for _, pos := range r.positions {
		if keep(pos) {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Snapshot returns deep copies of all positions for readers outside the tick.
func (r *Registry) Snapshot() []*domain.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Position, 0, len(r.positions))
	for _, pos := range r.positions {
		out = append(out, pos.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}
