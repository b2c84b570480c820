package gateway

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/relaymesh/switchboard/internal/channels"
	"github.com/relaymesh/switchboard/internal/multiagent"
	"github.com/relaymesh/switchboard/internal/providers"
	"github.com/relaymesh/switchboard/internal/routing"
	"github.com/relaymesh/switchboard/internal/sessions"
	"github.com/relaymesh/switchboard/internal/switchmodels"
	"github.com/relaymesh/switchboard/internal/tools"
)

// fakeClient returns a fixed reply regardless of input, grounded on the
// teacher's provider test doubles.
type fakeClient struct {
	reply string
}

func (f *fakeClient) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResult, error) {
	return &providers.ChatResult{Content: f.reply}, nil
}

// fakeAdapter is an in-memory channels.Adapter that records every Send call.
type fakeAdapter struct {
	channelType string
	mu          sync.Mutex
	sent        []channels.OutgoingMessage
	messages    chan switchmodels.IncomingMessage
}

func newFakeAdapter(channelType string) *fakeAdapter {
	return &fakeAdapter{channelType: channelType, messages: make(chan switchmodels.IncomingMessage, 8)}
}

func (a *fakeAdapter) Type() string                    { return a.channelType }
func (a *fakeAdapter) Start(ctx context.Context) error  { return nil }
func (a *fakeAdapter) Stop(ctx context.Context) error   { close(a.messages); return nil }
func (a *fakeAdapter) Messages() <-chan switchmodels.IncomingMessage { return a.messages }
func (a *fakeAdapter) Status() channels.Status          { return channels.Status{Connected: true} }
func (a *fakeAdapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	return channels.HealthStatus{Healthy: true}
}

func (a *fakeAdapter) Send(ctx context.Context, msg channels.OutgoingMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, msg)
	return nil
}

func (a *fakeAdapter) sentMessages() []channels.OutgoingMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]channels.OutgoingMessage(nil), a.sent...)
}

func testGateway(t *testing.T, reply string) (*Gateway, *fakeAdapter) {
	t.Helper()
	dir := t.TempDir()
	store, err := sessions.NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	agentCfg := switchmodels.AgentConfig{ID: "default", Name: "Default", Model: "test-model", IsDefault: true}
	providerCfg := switchmodels.ProviderConfig{ID: "test-provider", Dialect: switchmodels.DialectA, Models: []string{"test-model"}, IsDefault: true}

	client := &fakeClient{reply: reply}
	registry := providers.NewRegistry(
		[]switchmodels.ProviderConfig{providerCfg},
		func(switchmodels.ProviderConfig) (providers.Client, error) { return client, nil },
		func(switchmodels.ProviderConfig) (providers.Client, error) { return client, nil },
	)

	router := routing.NewRouter(nil)
	toolReg := tools.NewRegistry()
	adapter := newFakeAdapter("telegram")
	chReg := channels.NewRegistry()
	chReg.Register(adapter)

	subagents, err := multiagent.NewRegistry(filepath.Join(dir, "subagents.json"))
	if err != nil {
		t.Fatalf("new subagent registry: %v", err)
	}

	gw := New(Config{
		Router:         router,
		Sessions:       store,
		Providers:      registry,
		Tools:          toolReg,
		Channels:       chReg,
		Subagents:      subagents,
		Announce:       multiagent.NewAnnouncePipeline(nil),
		Agents:         map[string]switchmodels.AgentConfig{"default": agentCfg},
		DefaultAgentID: "default",
	})
	return gw, adapter
}

// TestProcessMessageEcho covers spec.md §8 scenario S1: a plain user
// message with no tool calls produces exactly one channel send with the
// model's reply.
func TestProcessMessageEcho(t *testing.T) {
	gw, adapter := testGateway(t, "pong")

	msg := switchmodels.IncomingMessage{Channel: "telegram", Peer: "user-1", From: "user-1", To: "user-1", Text: "ping"}
	if err := gw.processMessage(context.Background(), "telegram:user-1", msg); err != nil {
		t.Fatalf("processMessage: %v", err)
	}

	sent := adapter.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sent))
	}
	if sent[0].Content != "pong" {
		t.Fatalf("expected content %q, got %q", "pong", sent[0].Content)
	}
	if sent[0].To != "user-1" {
		t.Fatalf("expected delivery to %q, got %q", "user-1", sent[0].To)
	}
}

// TestProcessMessageNoReplySuppressed covers spec.md §8 scenario S5: a
// NO_REPLY final text must not reach the channel.
func TestProcessMessageNoReplySuppressed(t *testing.T) {
	gw, adapter := testGateway(t, switchmodels.SentinelNoReply)

	msg := switchmodels.IncomingMessage{Channel: "telegram", Peer: "user-2", From: "user-2", To: "user-2", Text: "background noise"}
	if err := gw.processMessage(context.Background(), "telegram:user-2", msg); err != nil {
		t.Fatalf("processMessage: %v", err)
	}

	if sent := adapter.sentMessages(); len(sent) != 0 {
		t.Fatalf("expected no sends, got %d", len(sent))
	}
}

// TestSendToSessionAppendsAndDelivers exercises the GatewayRef re-entry
// path tools use to push content without triggering a fresh agent turn.
func TestSendToSessionAppendsAndDelivers(t *testing.T) {
	gw, adapter := testGateway(t, "unused")
	ctx := context.Background()

	sessionKey := "telegram:user-3"
	if _, err := gw.sessions.GetOrCreate(ctx, sessionKey, "default", "telegram"); err != nil {
		t.Fatalf("get-or-create session: %v", err)
	}

	if err := gw.SendToSession(ctx, sessionKey, "delivered out of band"); err != nil {
		t.Fatalf("SendToSession: %v", err)
	}

	sent := adapter.sentMessages()
	if len(sent) != 1 || sent[0].Content != "delivered out of band" || sent[0].To != "user-3" {
		t.Fatalf("unexpected sends: %+v", sent)
	}

	sess, err := gw.sessions.FindByKey(ctx, sessionKey)
	if err != nil || sess == nil {
		t.Fatalf("find session: %v", err)
	}
	transcript, err := gw.sessions.LoadTranscript(ctx, sess.ID)
	if err != nil {
		t.Fatalf("load transcript: %v", err)
	}
	if len(transcript) != 1 || transcript[0].Content != "delivered out of band" {
		t.Fatalf("unexpected transcript: %+v", transcript)
	}
}

// TestTriggerAgentRoutesFreshWhenIdle covers the announce pipeline's
// re-entry path when no runner is active for the requester session.
func TestTriggerAgentRoutesFreshWhenIdle(t *testing.T) {
	gw, adapter := testGateway(t, "summary of background work")
	ctx := context.Background()

	sessionKey := "telegram:user-4"
	if _, err := gw.sessions.GetOrCreate(ctx, sessionKey, "default", "telegram"); err != nil {
		t.Fatalf("get-or-create session: %v", err)
	}

	if err := gw.TriggerAgent(ctx, sessionKey, "[3 background tasks completed]", "subagent-announce"); err != nil {
		t.Fatalf("TriggerAgent: %v", err)
	}

	sent := adapter.sentMessages()
	if len(sent) != 1 || sent[0].Content != "summary of background work" {
		t.Fatalf("unexpected sends: %+v", sent)
	}
}
