package cron

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/relaymesh/switchboard/internal/providers"
	"github.com/relaymesh/switchboard/internal/sessions"
	"github.com/relaymesh/switchboard/internal/switchmodels"
)

// memStore is a minimal in-memory sessions.Store for service tests,
// mirroring the shape used in the agent package's own runner tests.
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
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Key == key {
			return s, nil
		}
	}
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
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*switchmodels.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

// recordingClient always answers with pure text and records every session
// key it was asked to converse on, by inspecting the last user message.
type recordingClient struct {
	mu    sync.Mutex
	calls []providers.ChatRequest
}

func (c *recordingClient) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.mu.Unlock()
	return &providers.ChatResult{Content: "done"}, nil
}

func (c *recordingClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}
