package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/switchboard/internal/switchmodels"
)

type fakeClient struct{ name string }

func (f *fakeClient) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	return &ChatResult{Content: f.name}, nil
}

func TestRegistry_ResolveFirstMatchWins(t *testing.T) {
	cfgs := []switchmodels.ProviderConfig{
		{ID: "p1", Dialect: switchmodels.DialectA, Models: []string{"claude-3"}},
		{ID: "p2", Dialect: switchmodels.DialectB, Models: []string{"claude-3"}, IsDefault: true},
	}
	reg := NewRegistry(cfgs,
		func(cfg switchmodels.ProviderConfig) (Client, error) { return &fakeClient{name: cfg.ID}, nil },
		func(cfg switchmodels.ProviderConfig) (Client, error) { return &fakeClient{name: cfg.ID}, nil },
	)

	client, cfg, err := reg.Resolve("claude-3")
	require.NoError(t, err)
	require.Equal(t, "p1", cfg.ID)

	result, err := client.Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)
	require.Equal(t, "p1", result.Content)
}

func TestRegistry_ResolveCachesClient(t *testing.T) {
	calls := 0
	cfgs := []switchmodels.ProviderConfig{
		{ID: "p1", Dialect: switchmodels.DialectA, Models: []string{"m1"}},
	}
	reg := NewRegistry(cfgs,
		func(cfg switchmodels.ProviderConfig) (Client, error) {
			calls++
			return &fakeClient{name: cfg.ID}, nil
		},
		nil,
	)

	_, _, err := reg.Resolve("m1")
	require.NoError(t, err)
	_, _, err = reg.Resolve("m1")
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestRegistry_ModelNotFound(t *testing.T) {
	reg := NewRegistry(nil, nil, nil)
	_, _, err := reg.Resolve("unknown")
	require.ErrorIs(t, err, ErrModelNotFound)
}

func TestRegistry_Default(t *testing.T) {
	cfgs := []switchmodels.ProviderConfig{
		{ID: "p1", Models: []string{"m1"}},
		{ID: "p2", Models: []string{"m2"}, IsDefault: true},
	}
	reg := NewRegistry(cfgs, nil, nil)
	cfg, err := reg.Default()
	require.NoError(t, err)
	require.Equal(t, "p2", cfg.ID)
}

func TestRegistry_NoDefaultProvider(t *testing.T) {
	reg := NewRegistry([]switchmodels.ProviderConfig{{ID: "p1"}}, nil, nil)
	_, err := reg.Default()
	require.ErrorIs(t, err, ErrNoDefaultProvider)
}
