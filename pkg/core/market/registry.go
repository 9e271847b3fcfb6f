package market

import (
	"fmt"
	"sync"

	"github.com/vaultbook/vaultbook/pkg/core"
)

// Registry maps symbol -> Market and enforces exactly one market per asset
// pair. It is an owned container passed into the engine, not package state,
// so tests construct isolated instances.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market
}

func NewRegistry() *Registry {
	return &Registry{markets: make(map[string]*Market)}
}

// Register adds a market, failing if one already exists for the pair.
func (r *Registry) Register(m *Market) error {
	if m == nil {
		return fmt.Errorf("%w: nil market", core.ErrInvalidConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[m.Symbol]; exists {
		return fmt.Errorf("%w: market %s", core.ErrAlreadyExists, m.Symbol)
	}
	r.markets[m.Symbol] = m
	return nil
}

// Replace swaps in an updated record for an already registered market.
// Settlement stages volume updates on a copy and swaps it here after the
// batch commits, so records handed out by Get stay immutable snapshots.
func (r *Registry) Replace(m *Market) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets[m.Symbol] = m
}

func (r *Registry) Get(symbol string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.markets[symbol]
	if !exists {
		return nil, fmt.Errorf("%w: %s", core.ErrMarketNotFound, symbol)
	}
	return m, nil
}

// List returns a snapshot slice of all registered markets.
func (r *Registry) List() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
