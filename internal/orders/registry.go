// Package orders tracks order state and drives the place/close/cancel
// lifecycle against the order-management application. The registry is the
// sole authority for mapping the application's opaque order identifiers to
// the dense numeric ids the host exchanges.
package orders

import (
	"sort"

	"go.uber.org/zap"

	"github.com/bigale/ninjatrader-zorro-plugin/internal/model"
)

// firstLocalID is where dense host-facing ids start.
const firstLocalID = 1000

// Registry allocates local order ids and maintains the bidirectional
// mapping to external ids. Terminal orders past the history cap are retired
// oldest-first to bound memory across long sessions.
type Registry struct {
	nextID     int
	byLocal    map[int]*model.Order
	byExternal map[string]int
	historyCap int
	log        *zap.Logger
}

// NewRegistry creates a registry retaining at most historyCap terminal orders.
func NewRegistry(historyCap int, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		nextID:     firstLocalID,
		byLocal:    make(map[int]*model.Order),
		byExternal: make(map[string]int),
		historyCap: historyCap,
		log:        log,
	}
}

// Register allocates the next local id for an accepted order and inserts it
// into both maps. The order's LocalID and both map entries are set
// atomically with respect to the single calling thread.
func (r *Registry) Register(externalID string, order model.Order) int {
	id := r.nextID
	r.nextID++

	order.LocalID = id
	order.ExternalID = externalID
	r.byLocal[id] = &order
	r.byExternal[externalID] = id
	return id
}

// Lookup resolves a possibly sign-encoded host id to its order. The
// magnitude is always the lookup key; nil when unknown or retired.
func (r *Registry) Lookup(signedID int) *model.Order {
	if signedID < 0 {
		signedID = -signedID
	}
	return r.byLocal[signedID]
}

// ByExternal resolves an external id to its order, nil when unknown.
func (r *Registry) ByExternal(externalID string) *model.Order {
	if id, ok := r.byExternal[externalID]; ok {
		return r.byLocal[id]
	}
	return nil
}

// Len returns the number of retained orders.
func (r *Registry) Len() int {
	return len(r.byLocal)
}

// TerminalCount returns the number of retained orders in a terminal state.
func (r *Registry) TerminalCount() int {
	n := 0
	for _, o := range r.byLocal {
		if o.Status.Terminal() {
			n++
		}
	}
	return n
}

// RetireTerminal removes the oldest terminal orders by local id until the
// terminal count meets the history cap, keeping both maps consistent.
// Non-terminal orders are never retired. Returns how many were removed.
func (r *Registry) RetireTerminal() int {
	terminal := make([]int, 0)
	for id, o := range r.byLocal {
		if o.Status.Terminal() {
			terminal = append(terminal, id)
		}
	}
	if len(terminal) <= r.historyCap {
		return 0
	}

	sort.Ints(terminal)
	excess := len(terminal) - r.historyCap
	for _, id := range terminal[:excess] {
		o := r.byLocal[id]
		delete(r.byExternal, o.ExternalID)
		delete(r.byLocal, id)
	}

	r.log.Debug("orders_retired",
		zap.Int("count", excess),
		zap.Int("retained", len(r.byLocal)),
	)
	return excess
}

// Reset drops all orders. Used on logout. Id allocation continues from where
// it was, so ids are never reused within a process lifetime.
func (r *Registry) Reset() {
	r.byLocal = make(map[int]*model.Order)
	r.byExternal = make(map[string]int)
}
