// Package multiagent implements the SubagentRegistry (spec.md §4.7) and the
// Announce Pipeline (spec.md §4.8): tracking background subagent runs and
// merging their completions back into the requester's session. Grounded
// directly on the teacher's internal/multiagent/subagent_registry.go
// (atomic persistence, archival sweeper) and
// internal/tools/subagent/{queue,announce}.go (debounce + trigger
// composition).
package multiagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/switchboard/internal/switchmodels"
)

// defaultArchiveAfter is applied when a cleanup=keep run completes without
// an explicit archive duration, per spec.md §4.7.
const defaultArchiveAfter = 60 * time.Minute

// defaultSweepInterval matches spec.md §4.7's "once per minute" sweeper.
const defaultSweepInterval = time.Minute

// RegisterParams is the input to Registry.Register.
type RegisterParams struct {
	ChildSessionKey     string
	RequesterSessionKey string
	RequesterChannel    string
	Task                string
	Label               string
	Cleanup             switchmodels.SubagentCleanup
}

// CompletionHandler is invoked once a run reaches a terminal outcome.
type CompletionHandler func(run *switchmodels.SubagentRun)

// Registry tracks every subagent run end to end: pending, running,
// completed, archived. Persisted as a single keyed JSON mapping on disk,
// restored on process start, serialized per-runId.
type Registry struct {
	path           string
	archiveAfter   time.Duration
	sweepInterval  time.Duration
	logger         *slog.Logger
	onCompletion   []CompletionHandler

	mu   sync.Mutex
	runs map[string]*switchmodels.SubagentRun

	stop chan struct{}
	once sync.Once
}

// NewRegistry builds a Registry persisted at path, restoring any existing
// state found there.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:          path,
		archiveAfter:  defaultArchiveAfter,
		sweepInterval: defaultSweepInterval,
		logger:        slog.Default().With("component", "multiagent.registry"),
		runs:          make(map[string]*switchmodels.SubagentRun),
		stop:          make(chan struct{}),
	}
	r.restore()
	return r, nil
}

// OnCompletion registers a callback fired whenever any run completes.
// Mirrors the teacher's onRunComplete hook.
func (r *Registry) OnCompletion(cb CompletionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCompletion = append(r.onCompletion, cb)
}

// Register creates a new pending run and returns its runId. ChildSessionKey
// must carry the `subagent:` prefix per spec.md §3.
func (r *Registry) Register(params RegisterParams) (*switchmodels.SubagentRun, error) {
	run := &switchmodels.SubagentRun{
		RunID:               uuid.NewString(),
		ChildSessionKey:     params.ChildSessionKey,
		RequesterSessionKey: params.RequesterSessionKey,
		RequesterChannel:    params.RequesterChannel,
		Task:                params.Task,
		Label:               params.Label,
		Cleanup:             params.Cleanup,
		CreatedAt:           time.Now(),
	}
	if run.Cleanup == "" {
		run.Cleanup = switchmodels.CleanupDelete
	}

	r.mu.Lock()
	r.runs[run.RunID] = run
	err := r.persistLocked()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// MarkStarted records a run's start time.
func (r *Registry) MarkStarted(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return fmt.Errorf("multiagent: unknown run %q", runID)
	}
	run.StartedAt = time.Now()
	return r.persistLocked()
}

// MarkCompleted records a run's terminal outcome and fires completion
// handlers. cleanup=keep sets archiveAtMs to now+archiveAfter; cleanup=delete
// leaves archival to the caller, who is expected to delete the child
// session and then call FinalizeCleanup.
func (r *Registry) MarkCompleted(runID string, outcome switchmodels.SubagentOutcome) (*switchmodels.SubagentRun, error) {
	r.mu.Lock()
	run, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("multiagent: unknown run %q", runID)
	}
	run.EndedAt = time.Now()
	run.Outcome = &outcome
	if run.Cleanup == switchmodels.CleanupKeep {
		run.ArchiveAtMs = time.Now().Add(r.archiveAfter).UnixMilli()
	}
	handlers := append([]CompletionHandler(nil), r.onCompletion...)
	err := r.persistLocked()
	clone := *run
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for _, cb := range handlers {
		cb(&clone)
	}
	return &clone, nil
}

// FinalizeCleanup marks archival complete for a cleanup=delete run (the
// caller has already removed the child session) so the sweeper can reap it
// immediately rather than waiting on archiveAtMs.
func (r *Registry) FinalizeCleanup(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return fmt.Errorf("multiagent: unknown run %q", runID)
	}
	run.ArchiveAtMs = time.Now().UnixMilli()
	return r.persistLocked()
}

// Get returns one run by id.
func (r *Registry) Get(runID string) (*switchmodels.SubagentRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil, false
	}
	clone := *run
	return &clone, true
}

// ListByRequester returns every run spawned by a given requester session.
func (r *Registry) ListByRequester(requesterSessionKey string) []*switchmodels.SubagentRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*switchmodels.SubagentRun
	for _, run := range r.runs {
		if run.RequesterSessionKey == requesterSessionKey {
			clone := *run
			out = append(out, &clone)
		}
	}
	return out
}

// ListActive returns every run that has not yet reached a terminal outcome.
func (r *Registry) ListActive() []*switchmodels.SubagentRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*switchmodels.SubagentRun
	for _, run := range r.runs {
		if !run.IsComplete() {
			clone := *run
			out = append(out, &clone)
		}
	}
	return out
}

// Delete removes a run unconditionally.
func (r *Registry) Delete(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
	return r.persistLocked()
}

// StartSweeper launches the background goroutine that removes archived
// completed runs once per minute, until ctx is cancelled or Stop is called.
func (r *Registry) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

// Stop halts the sweeper goroutine, if running.
func (r *Registry) Stop() {
	r.once.Do(func() { close(r.stop) })
}

func (r *Registry) sweep() {
	now := time.Now().UnixMilli()
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for id, run := range r.runs {
		if run.ArchiveAtMs > 0 && run.ArchiveAtMs <= now {
			delete(r.runs, id)
			changed = true
		}
	}
	if changed {
		if err := r.persistLocked(); err != nil {
			r.logger.Error("sweeper persist failed", "error", err)
		}
	}
}

// persistLocked writes the run map atomically. Caller must hold r.mu.
func (r *Registry) persistLocked() error {
	data, err := json.MarshalIndent(r.runs, "", "  ")
	if err != nil {
		return fmt.Errorf("multiagent: marshal registry: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("multiagent: write registry: %w", err)
	}
	return os.Rename(tmp, r.path)
}

func (r *Registry) restore() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return
	}
	var runs map[string]*switchmodels.SubagentRun
	if err := json.Unmarshal(data, &runs); err != nil {
		r.logger.Warn("subagent registry file corrupt, starting empty", "error", err)
		return
	}
	r.runs = runs
}
