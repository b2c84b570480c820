package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/switchboard/internal/providers"
	"github.com/relaymesh/switchboard/internal/switchmodels"
	"github.com/relaymesh/switchboard/internal/tools"
)

func newTestRunner(t *testing.T, client providers.Client, registry *tools.Registry, cfg RunnerConfig) (*Runner, *memStore, string) {
	t.Helper()
	store := newMemStore()
	sess, err := store.GetOrCreate(context.Background(), "telegram:1", "agent-1", "telegram")
	require.NoError(t, err)
	if registry == nil {
		registry = tools.NewRegistry()
	}
	agentCfg := switchmodels.AgentConfig{ID: "agent-1", Name: "Test Agent"}
	runner := NewRunner(sess.ID, sess.Key, agentCfg, store, client, registry, nil, cfg)
	return runner, store, sess.ID
}

func TestRun_PureTextEndsLoopImmediately(t *testing.T) {
	client := &scriptedClient{script: []*providers.ChatResult{
		{Content: "hello back"},
	}}
	runner, _, _ := newTestRunner(t, client, nil, RunnerConfig{})

	final, err := runner.Run(context.Background(), "hi", RunOptions{Source: switchmodels.SourceUser})
	require.NoError(t, err)
	require.Equal(t, "hello back", final)
	require.Equal(t, 1, client.callCount())
	require.False(t, runner.IsActive())
}

func TestRun_ToolCallsContinueLoopThenFinalText(t *testing.T) {
	tool := &countingTool{name: "search"}
	registry := tools.NewRegistry()
	registry.Register(tool)

	client := &scriptedClient{script: []*providers.ChatResult{
		{ToolCalls: []providers.ToolCall{{ID: "t1", Name: "search", Input: []byte(`{}`)}}},
		{Content: "found it"},
	}}
	runner, _, _ := newTestRunner(t, client, registry, RunnerConfig{})

	final, err := runner.Run(context.Background(), "look something up", RunOptions{Source: switchmodels.SourceUser})
	require.NoError(t, err)
	require.Equal(t, "found it", final)
	require.Equal(t, 1, tool.calls)
	require.Equal(t, 2, client.callCount())
}

// TestRun_LoopIsBounded exercises P5: a model that only ever calls tools
// must not run forever.
func TestRun_LoopIsBounded(t *testing.T) {
	tool := &countingTool{name: "loopy"}
	registry := tools.NewRegistry()
	registry.Register(tool)

	var script []*providers.ChatResult
	for i := 0; i < 50; i++ {
		script = append(script, &providers.ChatResult{
			ToolCalls: []providers.ToolCall{{ID: "t", Name: "loopy", Input: []byte(`{}`)}},
		})
	}
	client := &scriptedClient{script: script}
	runner, _, _ := newTestRunner(t, client, registry, RunnerConfig{MaxIterations: 10})

	final, err := runner.Run(context.Background(), "go", RunOptions{Source: switchmodels.SourceUser})
	require.NoError(t, err)
	require.Equal(t, switchmodels.SentinelDone, final)
	require.Equal(t, 10, client.callCount())
	require.Equal(t, 10, tool.calls)
}

func TestRun_SystemPromptComposedOnce(t *testing.T) {
	client := &scriptedClient{script: []*providers.ChatResult{{Content: "a"}, {Content: "b"}}}
	runner, store, sessionID := newTestRunner(t, client, nil, RunnerConfig{})

	_, err := runner.Run(context.Background(), "first", RunOptions{Source: switchmodels.SourceUser})
	require.NoError(t, err)
	_, err = runner.Run(context.Background(), "second", RunOptions{Source: switchmodels.SourceUser})
	require.NoError(t, err)

	entries, err := store.LoadTranscript(context.Background(), sessionID)
	require.NoError(t, err)

	systemCount := 0
	for _, e := range entries {
		if e.Role == switchmodels.RoleSystem {
			systemCount++
		}
	}
	require.Equal(t, 1, systemCount)
	require.Equal(t, switchmodels.RoleSystem, entries[0].Role)
}

func TestRun_InputFramingBySource(t *testing.T) {
	require.Equal(t, "plain", frameInput(switchmodels.SourceUser, "plain"))
	require.Contains(t, frameInput(switchmodels.SourceCron, "do thing"), "[SCHEDULED TASK]")
	require.Contains(t, frameInput(switchmodels.SourceSubagentAnnounce, "result text"), "[SUBAGENT RESULT]")
}

func TestInject_DeliveredAsInterruptPrefixedUserEntry(t *testing.T) {
	client := &scriptedClient{script: []*providers.ChatResult{
		{ToolCalls: []providers.ToolCall{{ID: "t1", Name: "noop", Input: []byte(`{}`)}}},
	}}
	registry := tools.NewRegistry()
	registry.Register(&countingTool{name: "noop"})
	runner, store, sessionID := newTestRunner(t, client, registry, RunnerConfig{MaxIterations: 3})

	runner.Inject("please also check X")
	final, err := runner.Run(context.Background(), "start", RunOptions{Source: switchmodels.SourceUser})
	require.NoError(t, err)
	_ = final

	entries, err := store.LoadTranscript(context.Background(), sessionID)
	require.NoError(t, err)

	found := false
	for _, e := range entries {
		if e.Role == switchmodels.RoleUser && e.Content == "[INTERRUPT] New message from user: please also check X" {
			found = true
		}
	}
	require.True(t, found)
}

func TestRun_RejectsConcurrentRunsOnSameRunner(t *testing.T) {
	client := &scriptedClient{script: []*providers.ChatResult{{Content: "done"}}}
	runner, _, _ := newTestRunner(t, client, nil, RunnerConfig{})

	runner.mu.Lock()
	runner.state = stateRunning
	runner.mu.Unlock()

	_, err := runner.Run(context.Background(), "x", RunOptions{Source: switchmodels.SourceUser})
	require.Error(t, err)
}

func TestSubagentRunner_DoesNotGetSubagentUnsafeTools(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&countingTool{name: "safe"})
	registry.Register(&unsafeSpawnTool{})

	client := &scriptedClient{script: []*providers.ChatResult{{Content: "ok"}}}
	runner, _, _ := newTestRunner(t, client, registry, RunnerConfig{IsSubagent: true})

	schemas := runner.toolSchemas()
	require.Len(t, schemas, 1)
	require.Equal(t, "safe", schemas[0].Name)
}

type unsafeSpawnTool struct{ countingTool }

func (u *unsafeSpawnTool) SubagentSafe() bool { return false }
