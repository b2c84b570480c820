package providers

import (
	"context"

	"github.com/relaymesh/switchboard/internal/models"
	"github.com/relaymesh/switchboard/internal/switchmodels"
)

// FallbackClient tries a primary model, then each configured fallback
// model in order, retrying the whole Chat call against the next candidate
// whenever the registry or the candidate's provider reports a failover-able
// error. Grounded on the teacher's internal/models.RunWithModelFallback
// (provider/model candidate chain, attempt history, failover
// classification) — reused here as-is rather than reimplemented, since the
// candidate-walk and error classification it does are exactly what
// spec.md's per-agent model configuration needs for a fallback chain.
type FallbackClient struct {
	registry  *Registry
	primary   string
	fallbacks []string
}

// NewFallbackClient wraps registry resolution with a fallback chain. An
// empty fallbacks list makes FallbackClient equivalent to resolving primary
// directly, so callers can use it unconditionally.
func NewFallbackClient(registry *Registry, primary string, fallbacks []string) *FallbackClient {
	return &FallbackClient{registry: registry, primary: primary, fallbacks: fallbacks}
}

// ResolveWithFallback resolves agentCfg.Model through registry, wrapping
// the Client in a FallbackClient when agentCfg.FallbackModels is
// configured. The returned ProviderConfig always describes the primary
// model's provider, since fallbacks may resolve to a different one at call
// time.
func ResolveWithFallback(registry *Registry, agentCfg switchmodels.AgentConfig) (Client, switchmodels.ProviderConfig, error) {
	client, providerCfg, err := registry.Resolve(agentCfg.Model)
	if err != nil {
		return nil, providerCfg, err
	}
	if len(agentCfg.FallbackModels) == 0 {
		return client, providerCfg, nil
	}
	return NewFallbackClient(registry, agentCfg.Model, agentCfg.FallbackModels), providerCfg, nil
}

func (f *FallbackClient) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	cfg := &models.FallbackConfig{
		PrimaryProvider: "configured",
		PrimaryModel:    f.primary,
		Fallbacks:       f.fallbacks,
	}
	result, err := models.RunWithModelFallback(ctx, cfg, func(ctx context.Context, _, model string) (*ChatResult, error) {
		client, _, rerr := f.registry.Resolve(model)
		if rerr != nil {
			return nil, rerr
		}
		return client.Chat(ctx, req)
	}, nil)
	if err != nil {
		return nil, err
	}
	return result.Result, nil
}
