// Package sessions implements the Session Manager: lookup-or-create a
// session by its stable routing key, and append-only transcript storage.
package sessions

import (
	"context"
	"errors"

	"github.com/relaymesh/switchboard/internal/switchmodels"
)

// ErrNotFound is returned when a session lookup misses.
var ErrNotFound = errors.New("sessions: not found")

// ListFilters narrows a List call.
type ListFilters struct {
	AgentID string
	Channel string
	Limit   int
}

// Store is the Session Manager's persistence contract (spec.md §4.1).
type Store interface {
	FindByKey(ctx context.Context, key string) (*switchmodels.Session, error)
	GetOrCreate(ctx context.Context, key, agentID, channel string) (*switchmodels.Session, error)
	Create(ctx context.Context, s *switchmodels.Session) error
	Get(ctx context.Context, id string) (*switchmodels.Session, error)
	Append(ctx context.Context, sessionID string, entry switchmodels.TranscriptEntry) error
	LoadTranscript(ctx context.Context, sessionID string) ([]switchmodels.TranscriptEntry, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context, filters ListFilters) ([]*switchmodels.Session, error)
}
