package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/relaymesh/switchboard/internal/providers"
	"github.com/relaymesh/switchboard/internal/sessions"
	"github.com/relaymesh/switchboard/internal/switchmodels"
)

// memStore is a minimal in-memory sessions.Store for runner tests.
type memStore struct {
	mu          sync.Mutex
	sessions    map[string]*switchmodels.Session
	transcripts map[string][]switchmodels.TranscriptEntry
}

func newMemStore() *memStore {
	return &memStore{
		sessions:    make(map[string]*switchmodels.Session),
		transcripts: make(map[string][]switchmodels.TranscriptEntry),
	}
}

func (m *memStore) FindByKey(ctx context.Context, key string) (*switchmodels.Session, error) {
	return nil, sessions.ErrNotFound
}

func (m *memStore) GetOrCreate(ctx context.Context, key, agentID, channel string) (*switchmodels.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &switchmodels.Session{ID: uuid.NewString(), Key: key, AgentID: agentID, Channel: channel}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memStore) Create(ctx context.Context, s *switchmodels.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (*switchmodels.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, sessions.ErrNotFound
	}
	return s, nil
}

func (m *memStore) Append(ctx context.Context, sessionID string, entry switchmodels.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcripts[sessionID] = append(m.transcripts[sessionID], entry)
	return nil
}

func (m *memStore) LoadTranscript(ctx context.Context, sessionID string) ([]switchmodels.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]switchmodels.TranscriptEntry, len(m.transcripts[sessionID]))
	copy(out, m.transcripts[sessionID])
	return out, nil
}

func (m *memStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	delete(m.transcripts, sessionID)
	return nil
}

func (m *memStore) List(ctx context.Context, filters sessions.ListFilters) ([]*switchmodels.Session, error) {
	return nil, nil
}

// scriptedClient replays a fixed sequence of ChatResults, one per Chat call,
// repeating the last entry once the script is exhausted.
type scriptedClient struct {
	mu      sync.Mutex
	script  []*providers.ChatResult
	idx     int
	calls   int
}

func (c *scriptedClient) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.idx >= len(c.script) {
		return &providers.ChatResult{Content: switchmodels.SentinelDone}, nil
	}
	r := c.script[c.idx]
	c.idx++
	return r, nil
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// countingTool always succeeds and records every call.
type countingTool struct {
	name  string
	calls int
	mu    sync.Mutex
}

func (t *countingTool) Name() string           { return t.name }
func (t *countingTool) Description() string    { return "test tool" }
func (t *countingTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *countingTool) SubagentSafe() bool      { return true }
func (t *countingTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return "ok", nil
}
