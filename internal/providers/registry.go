package providers

import (
	"fmt"
	"sync"

	"github.com/relaymesh/switchboard/internal/switchmodels"
)

// ErrModelNotFound is returned when no configured provider serves a model.
var ErrModelNotFound = fmt.Errorf("providers: no provider configured for model")

// ErrNoDefaultProvider is returned when a provider config list has no
// provider marked default.
var ErrNoDefaultProvider = fmt.Errorf("providers: no default provider configured")

// Factory builds a Client for one ProviderConfig.
type Factory func(cfg switchmodels.ProviderConfig) (Client, error)

// Registry resolves a model name to a provider and builds (and caches)
// its Client. Model uniqueness across providers is not enforced; the
// first provider whose Models list contains the requested model wins,
// per spec.md §3.
type Registry struct {
	mu        sync.RWMutex
	providers []switchmodels.ProviderConfig
	clients   map[string]Client // providerID -> built Client
	factories map[switchmodels.Dialect]Factory
}

// NewRegistry builds a Registry from the configured providers. dialectA and
// dialectB are the factories used to build clients for Dialect A and B
// respectively.
func NewRegistry(providerConfigs []switchmodels.ProviderConfig, dialectA, dialectB Factory) *Registry {
	return &Registry{
		providers: append([]switchmodels.ProviderConfig(nil), providerConfigs...),
		clients:   make(map[string]Client),
		factories: map[switchmodels.Dialect]Factory{
			switchmodels.DialectA: dialectA,
			switchmodels.DialectB: dialectB,
		},
	}
}

// Resolve returns the Client and provider config that should serve the
// given model, building and caching the Client on first use.
func (r *Registry) Resolve(model string) (Client, switchmodels.ProviderConfig, error) {
	r.mu.RLock()
	for _, cfg := range r.providers {
		if containsModel(cfg.Models, model) {
			if client, ok := r.clients[cfg.ID]; ok {
				r.mu.RUnlock()
				return client, cfg, nil
			}
			break
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cfg := range r.providers {
		if !containsModel(cfg.Models, model) {
			continue
		}
		if client, ok := r.clients[cfg.ID]; ok {
			return client, cfg, nil
		}
		factory, ok := r.factories[cfg.Dialect]
		if !ok || factory == nil {
			return nil, cfg, fmt.Errorf("providers: no factory registered for dialect %q", cfg.Dialect)
		}
		client, err := factory(cfg)
		if err != nil {
			return nil, cfg, fmt.Errorf("providers: build client for %q: %w", cfg.ID, err)
		}
		r.clients[cfg.ID] = client
		return client, cfg, nil
	}
	return nil, switchmodels.ProviderConfig{}, ErrModelNotFound
}

// Default returns the provider marked default.
func (r *Registry) Default() (switchmodels.ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cfg := range r.providers {
		if cfg.IsDefault {
			return cfg, nil
		}
	}
	return switchmodels.ProviderConfig{}, ErrNoDefaultProvider
}

func containsModel(models []string, model string) bool {
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}
