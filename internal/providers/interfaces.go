package providers

import (
	"context"
	"sync"

	"github.com/synaptiq/scheduler/internal/types"
)

// LiveRequest is the normalized input handed to a live provider client.
type LiveRequest struct {
	Provider  types.ProviderID
	Input     string
	Tokens    int
	RequestID string
}

// LiveClient is the contract every live provider adapter implements.
// ExecuteLive must never return a Go error for provider-side failures: it
// signals them with OK=false and the error text in RawOutput, so the
// execution adapter can absorb failures into the learning signal.
type LiveClient interface {
	ProviderID() types.ProviderID
	ExecuteLive(ctx context.Context, req LiveRequest) types.LiveResult
	HealthCheck(ctx context.Context) error
}

// Registry holds the live clients available to the execution adapter. A
// provider without a registered client falls back to simulated execution.
type Registry struct {
	mu      sync.RWMutex
	clients map[types.ProviderID]LiveClient
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[types.ProviderID]LiveClient)}
}

// Register adds or replaces the live client for a provider.
func (r *Registry) Register(client LiveClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.ProviderID()] = client
}

// Get returns the live client for a provider, if one is registered.
func (r *Registry) Get(provider types.ProviderID) (LiveClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[provider]
	return client, ok
}

// Providers returns the provider IDs with registered clients.
func (r *Registry) Providers() []types.ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ProviderID, 0, len(r.clients))
	for provider := range r.clients {
		out = append(out, provider)
	}
	return out
}
