// Package broker defines the broker capability the engine talks to and its
// implementations. The engine is broker-agnostic: one process may route
// different instruments to different venues through the Registry.
package broker

import (
	"context"
	"sync"

	"fiona-trader/internal/errors"
	"fiona-trader/internal/models"
)

// Broker is the capability interface for one trading venue. Calls that hit
// the network accept a context; callers apply a bounded timeout per call.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	AccountState(ctx context.Context) (*models.AccountState, error)
	OpenPositions(ctx context.Context) ([]models.Position, error)
	SymbolPrice(ctx context.Context, epic string) (*models.SymbolPrice, error)

	PlaceOrder(ctx context.Context, order models.OrderRequest) (*models.OrderResult, error)
	ClosePosition(ctx context.Context, positionID string) (*models.OrderResult, error)
}

// Registry routes instruments to broker implementations. Unrouted epics fall
// back to the default broker.
type Registry struct {
	mu     sync.RWMutex
	routes map[string]Broker
	def    Broker
}

// NewRegistry creates an empty registry. A registry with no default and no
// routes resolves nothing; the execution service treats that as
// shadow-only mode.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]Broker)}
}

// SetDefault sets the fallback broker for unrouted instruments.
func (r *Registry) SetDefault(b Broker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.def = b
}

// Register routes an instrument to a broker.
func (r *Registry) Register(epic string, b Broker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[epic] = b
}

// ForEpic resolves the broker for an instrument.
func (r *Registry) ForEpic(epic string) (Broker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.routes[epic]; ok {
		return b, nil
	}
	if r.def != nil {
		return r.def, nil
	}
	return nil, errors.ErrNoBrokerForEpic
}

// HasAny reports whether at least one broker is resolvable.
func (r *Registry) HasAny() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def != nil || len(r.routes) > 0
}

// Brokers returns every distinct registered broker.
func (r *Registry) Brokers() []Broker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[Broker]bool)
	var out []Broker
	if r.def != nil {
		seen[r.def] = true
		out = append(out, r.def)
	}
	for _, b := range r.routes {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}
