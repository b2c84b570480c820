package sessions

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/relaymesh/switchboard/internal/switchmodels"
)

// maxTitleRunes bounds the derived title length (spec.md §4.1: "≤60
// characters on a word boundary with an ellipsis").
const maxTitleRunes = 60

// FileStore is a file-backed Store. The session index is a single JSON
// object keyed by sessionId, written atomically; each session's transcript
// is a separate JSONL append log. Grounded on the teacher's
// multiagent.SubagentRegistry persist/restore pattern (tempfile + rename)
// and the JSONL transcript shapes in other_examples/adamavenir-mini-msg.
type FileStore struct {
	dataDir string
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*switchmodels.Session
	byKey    map[string]string

	group singleflight.Group
}

// NewFileStore creates a FileStore rooted at dataDir, restoring the session
// index if one already exists. Corrupt index files are treated as empty.
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("sessions: dataDir is required")
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "transcripts"), 0o755); err != nil {
		return nil, fmt.Errorf("sessions: create data dir: %w", err)
	}
	s := &FileStore{
		dataDir:  dataDir,
		logger:   slog.Default().With("component", "sessions"),
		sessions: make(map[string]*switchmodels.Session),
		byKey:    make(map[string]string),
	}
	s.restore()
	return s, nil
}

func (s *FileStore) indexPath() string {
	return filepath.Join(s.dataDir, "sessions.json")
}

func (s *FileStore) transcriptPath(sessionID string) string {
	return filepath.Join(s.dataDir, "transcripts", sessionID+".jsonl")
}

func (s *FileStore) restore() {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return
	}
	var entries map[string]*switchmodels.Session
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("session index corrupt, starting empty", "error", err)
		return
	}
	for id, sess := range entries {
		s.sessions[id] = sess
		if sess.Key != "" {
			s.byKey[sess.Key] = id
		}
	}
}

// persist writes the session index atomically. Caller must hold s.mu.
func (s *FileStore) persist() error {
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("sessions: marshal index: %w", err)
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("sessions: write index: %w", err)
	}
	return os.Rename(tmp, s.indexPath())
}

func (s *FileStore) FindByKey(ctx context.Context, key string) (*switchmodels.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *sess
	return &clone, nil
}

// GetOrCreate implements P2: concurrent calls for the same key collapse
// into one creation via singleflight, and all callers observe the same
// sessionId.
func (s *FileStore) GetOrCreate(ctx context.Context, key, agentID, channel string) (*switchmodels.Session, error) {
	v, err, _ := s.group.Do(key, func() (any, error) {
		if existing, err := s.FindByKey(ctx, key); err == nil {
			return existing, nil
		}
		now := time.Now()
		sess := &switchmodels.Session{
			ID:        uuid.NewString(),
			Key:       key,
			AgentID:   agentID,
			Channel:   channel,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.Create(ctx, sess); err != nil {
			return nil, err
		}
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	clone := *v.(*switchmodels.Session)
	return &clone, nil
}

func (s *FileStore) Create(ctx context.Context, sess *switchmodels.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	clone := *sess
	s.sessions[clone.ID] = &clone
	if clone.Key != "" {
		s.byKey[clone.Key] = clone.ID
	}
	return s.persist()
}

func (s *FileStore) Get(ctx context.Context, id string) (*switchmodels.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *sess
	return &clone, nil
}

// Append writes one transcript entry and updates session metadata. Disk
// I/O errors surface to the caller per spec.md §4.1's failure model.
func (s *FileStore) Append(ctx context.Context, sessionID string, entry switchmodels.TranscriptEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	f, err := os.OpenFile(s.transcriptPath(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sessions: open transcript: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("sessions: marshal entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("sessions: append entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.MessageCount++
	sess.UpdatedAt = time.Now()
	if sess.Title == "" && sess.DisplayName == "" && sess.Subject == "" && entry.Role == switchmodels.RoleUser {
		sess.Title = deriveTitle(sess, entry.Content)
	}
	return s.persist()
}

// LoadTranscript reads a session's JSONL transcript in order. Corrupt lines
// are skipped silently per spec.md §6.
func (s *FileStore) LoadTranscript(ctx context.Context, sessionID string) ([]switchmodels.TranscriptEntry, error) {
	f, err := os.Open(s.transcriptPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessions: open transcript: %w", err)
	}
	defer f.Close()

	var entries []switchmodels.TranscriptEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var entry switchmodels.TranscriptEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			s.logger.Warn("skipping corrupt transcript line", "session", sessionID, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *FileStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	delete(s.sessions, sessionID)
	if sess.Key != "" {
		delete(s.byKey, sess.Key)
	}
	if err := s.persist(); err != nil {
		return err
	}
	if err := os.Remove(s.transcriptPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sessions: delete transcript: %w", err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context, filters ListFilters) ([]*switchmodels.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*switchmodels.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if filters.AgentID != "" && sess.AgentID != filters.AgentID {
			continue
		}
		if filters.Channel != "" && sess.Channel != filters.Channel {
			continue
		}
		clone := *sess
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

// deriveTitle implements spec.md §4.1's title precedence: explicit
// displayName, then subject, then the first user entry truncated at ≤60
// characters on a word boundary with an ellipsis, then an 8-char session
// prefix plus date.
func deriveTitle(sess *switchmodels.Session, firstUserContent string) string {
	if sess.DisplayName != "" {
		return sess.DisplayName
	}
	if sess.Subject != "" {
		return sess.Subject
	}
	text := strings.TrimSpace(firstUserContent)
	if text == "" {
		return fallbackTitle(sess)
	}
	runes := []rune(text)
	if len(runes) <= maxTitleRunes {
		return text
	}
	truncated := string(runes[:maxTitleRunes])
	if idx := strings.LastIndexAny(truncated, " \t\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated) + "…"
}

func fallbackTitle(sess *switchmodels.Session) string {
	prefix := sess.ID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("%s %s", prefix, sess.CreatedAt.Format("2006-01-02"))
}
