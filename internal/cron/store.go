package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/relaymesh/switchboard/internal/switchmodels"
)

// Store persists cron jobs as a single keyed JSON mapping, atomically
// written, grounded on the same persist/restore shape used across the
// other file-backed stores in this module.
type Store struct {
	path string

	mu   sync.Mutex
	jobs map[string]*switchmodels.CronJob
}

// NewStore builds a Store persisted at path, restoring any existing state.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, jobs: make(map[string]*switchmodels.CronJob)}
	s.restore()
	return s, nil
}

func (s *Store) restore() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var jobs map[string]*switchmodels.CronJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return
	}
	s.jobs = jobs
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("cron: marshal store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cron: write store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Put creates or replaces a job.
func (s *Store) Put(job *switchmodels.CronJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = job
	return s.persistLocked()
}

// Get returns one job by id.
func (s *Store) Get(jobID string) (*switchmodels.CronJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	return job, ok
}

// Delete removes a job.
func (s *Store) Delete(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return s.persistLocked()
}

// All returns every job, unordered.
func (s *Store) All() []*switchmodels.CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*switchmodels.CronJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}
