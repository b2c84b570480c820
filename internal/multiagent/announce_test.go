package multiagent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/switchboard/internal/switchmodels"
)

// TestAnnounce_SingleItemDebouncesThenTriggers exercises P6: a lone
// completion is still reported promptly after the debounce window.
func TestAnnounce_SingleItemDebouncesThenTriggers(t *testing.T) {
	var mu sync.Mutex
	var gotMessage string
	var calls int

	pipeline := NewAnnouncePipeline(func(ctx context.Context, sessionKey, channel, message string) (TriggerOutcome, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		gotMessage = message
		return TriggerInvoked, nil
	})

	pipeline.Enqueue("parent-1", "telegram", AnnounceItem{
		Label:    "research",
		Outcome:  switchmodels.SubagentOutcome{Status: switchmodels.OutcomeOK},
		Findings: "found 3 articles",
		Duration: 5 * time.Second,
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, gotMessage, `"research"`)
	require.Contains(t, gotMessage, "completed successfully")
	require.Contains(t, gotMessage, "found 3 articles")
	require.Contains(t, gotMessage, "NO_REPLY")
}

// TestAnnounce_MultipleItemsCollectIntoOneMessage exercises P7: parallel
// spawns from one turn arrive together as a single collected trigger.
func TestAnnounce_MultipleItemsCollectIntoOneMessage(t *testing.T) {
	var mu sync.Mutex
	var gotMessage string
	var calls int

	pipeline := NewAnnouncePipeline(func(ctx context.Context, sessionKey, channel, message string) (TriggerOutcome, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		gotMessage = message
		return TriggerInvoked, nil
	})

	pipeline.Enqueue("parent-1", "slack", AnnounceItem{Label: "task-a", Outcome: switchmodels.SubagentOutcome{Status: switchmodels.OutcomeOK}})
	pipeline.Enqueue("parent-1", "slack", AnnounceItem{Label: "task-b", Outcome: switchmodels.SubagentOutcome{Status: switchmodels.OutcomeError, Error: "boom"}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, gotMessage, "[2 background tasks completed]")
	require.Contains(t, gotMessage, `Task 1: "task-a"`)
	require.Contains(t, gotMessage, `Task 2: "task-b"`)
	require.Contains(t, gotMessage, "failed: boom")
}

func TestBuildTriggerMessage_StatusPhrases(t *testing.T) {
	require.Equal(t, "completed successfully", statusPhrase(switchmodels.SubagentOutcome{Status: switchmodels.OutcomeOK}))
	require.Equal(t, "timed out", statusPhrase(switchmodels.SubagentOutcome{Status: switchmodels.OutcomeTimeout}))
	require.Equal(t, "failed: oops", statusPhrase(switchmodels.SubagentOutcome{Status: switchmodels.OutcomeError, Error: "oops"}))
	require.Equal(t, "finished with unknown status", statusPhrase(switchmodels.SubagentOutcome{}))
}

func TestFormatDurationShort(t *testing.T) {
	require.Equal(t, "0s", formatDurationShort(0))
	require.Equal(t, "5s", formatDurationShort(5*time.Second))
	require.Equal(t, "2m", formatDurationShort(2*time.Minute))
	require.Equal(t, "2m5s", formatDurationShort(2*time.Minute+5*time.Second))
}
