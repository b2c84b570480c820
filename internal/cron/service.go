package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	robfigcron "github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaymesh/switchboard/internal/agent"
	"github.com/relaymesh/switchboard/internal/observability"
	"github.com/relaymesh/switchboard/internal/providers"
	"github.com/relaymesh/switchboard/internal/sessions"
	"github.com/relaymesh/switchboard/internal/switchmodels"
	"github.com/relaymesh/switchboard/internal/tools"
)

// Service is the CronService (spec.md §4.9): it persists jobs and fires an
// isolated, headless AgentRunner turn for each one on schedule. The fire
// loop is grounded on the teacher's internal/cron/scheduler.go ticker-driven
// due check, reimplemented here on top of robfig/cron/v3's own scheduler
// (the teacher's pack did not carry a cron library; robfig/cron/v3 is used
// elsewhere in the pack for schedule parsing and is the natural choice).
type Service struct {
	store            *Store
	sessionStore     sessions.Store
	providerRegistry *providers.Registry
	toolRegistry     *tools.Registry
	gateway          tools.GatewayRef
	agents           map[string]switchmodels.AgentConfig
	defaultAgent     switchmodels.AgentConfig
	logger           *slog.Logger

	// Metrics and Tracer are nil-safe: a nil value disables the
	// corresponding recording around each fire.
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	mu      sync.Mutex
	cr      *robfigcron.Cron
	entries map[string]robfigcron.EntryID
	running map[string]bool
}

// NewService builds a Service. agents maps agent ID to its configuration;
// defaultAgent is used for jobs that do not name one.
func NewService(
	store *Store,
	sessionStore sessions.Store,
	providerRegistry *providers.Registry,
	toolRegistry *tools.Registry,
	gateway tools.GatewayRef,
	agents map[string]switchmodels.AgentConfig,
	defaultAgent switchmodels.AgentConfig,
) *Service {
	return &Service{
		store:            store,
		sessionStore:     sessionStore,
		providerRegistry: providerRegistry,
		toolRegistry:     toolRegistry,
		gateway:          gateway,
		agents:           agents,
		defaultAgent:     defaultAgent,
		logger:           slog.Default().With("component", "cron.service"),
		cr:               robfigcron.New(robfigcron.WithParser(parser)),
		entries:          make(map[string]robfigcron.EntryID),
		running:          make(map[string]bool),
	}
}

// Start schedules every enabled persisted job and starts the underlying
// scheduler goroutine.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.store.All() {
		if !job.Enabled {
			continue
		}
		if err := s.scheduleLocked(job); err != nil {
			s.logger.Error("cron: failed to schedule persisted job", "job", job.JobID, "error", err)
		}
	}
	s.cr.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight fire to return.
func (s *Service) Stop(ctx context.Context) error {
	stopCtx := s.cr.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Add validates and persists a new job, scheduling it immediately if
// enabled. A blank JobID is minted.
func (s *Service) Add(job *switchmodels.CronJob) error {
	if _, err := ParseSchedule(job.Schedule); err != nil {
		return err
	}
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if err := s.store.Put(job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if job.Enabled {
		return s.scheduleLocked(job)
	}
	return nil
}

// Enable turns a job back on, preserving its configuration, and schedules it.
func (s *Service) Enable(jobID string) error {
	job, ok := s.store.Get(jobID)
	if !ok {
		return fmt.Errorf("cron: job %q not found", jobID)
	}
	job.Enabled = true
	if err := s.store.Put(job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(job)
}

// Disable turns a job off without deleting it, removing its active
// schedule entry.
func (s *Service) Disable(jobID string) error {
	job, ok := s.store.Get(jobID)
	if !ok {
		return fmt.Errorf("cron: job %q not found", jobID)
	}
	job.Enabled = false
	if err := s.store.Put(job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.unscheduleLocked(jobID)
	return nil
}

// Delete stops scheduling a job before removing it from the store, so a
// fire already in flight from robfig's scheduler cannot race the delete.
func (s *Service) Delete(jobID string) error {
	s.mu.Lock()
	s.unscheduleLocked(jobID)
	s.mu.Unlock()
	return s.store.Delete(jobID)
}

// List returns every persisted job.
func (s *Service) List() []*switchmodels.CronJob {
	return s.store.All()
}

func (s *Service) scheduleLocked(job *switchmodels.CronJob) error {
	s.unscheduleLocked(job.JobID)
	sched, err := ParseSchedule(job.Schedule)
	if err != nil {
		return err
	}
	jobID := job.JobID
	entryID := s.cr.Schedule(sched, robfigcron.FuncJob(func() {
		s.fire(jobID)
	}))
	s.entries[jobID] = entryID
	return nil
}

func (s *Service) unscheduleLocked(jobID string) {
	if entryID, ok := s.entries[jobID]; ok {
		s.cr.Remove(entryID)
		delete(s.entries, jobID)
	}
}

// FireForTest runs one fire synchronously without waiting on the
// scheduler, so tests outside this package can exercise runJob's delivery
// contract without depending on wall-clock cron timing.
func (s *Service) FireForTest(jobID string) {
	s.fire(jobID)
}

// fire executes one scheduled turn. Fires never overlap for the same job;
// lastRunAt is persisted before the handler runs so a crash mid-turn still
// advances the schedule. Each fire gets its own freshly created session, so
// no state leaks between runs of the same job.
func (s *Service) fire(jobID string) {
	s.mu.Lock()
	if s.running[jobID] {
		s.mu.Unlock()
		s.logger.Warn("cron: skipping fire, previous run still in flight", "job", jobID)
		return
	}
	s.running[jobID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, jobID)
		s.mu.Unlock()
	}()

	job, ok := s.store.Get(jobID)
	if !ok || !job.Enabled {
		return
	}

	job.LastRunAt = time.Now()
	if err := s.store.Put(job); err != nil {
		s.logger.Error("cron: failed to persist lastRunAt", "job", jobID, "error", err)
	}

	ctx := context.Background()
	if s.Tracer != nil {
		var span trace.Span
		ctx, span = s.Tracer.TraceCronFire(ctx, jobID)
		defer span.End()
	}

	outcome := "ok"
	if err := s.runJob(ctx, job); err != nil {
		outcome = "error"
		s.logger.Error("cron: fire failed", "job", jobID, "error", err)
	}
	if s.Metrics != nil {
		s.Metrics.RecordCronFire(jobID, outcome)
	}
}

func (s *Service) runJob(ctx context.Context, job *switchmodels.CronJob) error {
	agentCfg := s.defaultAgent
	if job.AgentID != "" {
		if cfg, ok := s.agents[job.AgentID]; ok {
			agentCfg = cfg
		}
	}

	client, providerCfg, err := providers.ResolveWithFallback(s.providerRegistry, agentCfg)
	if err != nil {
		return fmt.Errorf("cron: resolve model %q: %w", agentCfg.Model, err)
	}

	sessionKey := fmt.Sprintf("cron:%s:%s", job.JobID, uuid.NewString())
	sess, err := s.sessionStore.GetOrCreate(ctx, sessionKey, agentCfg.ID, job.Channel)
	if err != nil {
		return fmt.Errorf("cron: create session: %w", err)
	}

	runner := agent.NewRunner(sess.ID, sessionKey, agentCfg, s.sessionStore, client, s.toolRegistry, s.gateway, agent.RunnerConfig{
		Provider: providerCfg.ID,
		Metrics:  s.Metrics,
		Tracer:   s.Tracer,
	})

	extra := cronSystemPrompt(job)
	_, err = runner.Run(ctx, job.Message, agent.RunOptions{
		Source:            switchmodels.SourceCron,
		ExtraSystemPrompt: extra,
	})
	if err != nil {
		return fmt.Errorf("cron: run turn: %w", err)
	}
	return nil
}

// cronSystemPrompt enforces spec.md §4.9's delivery contract: the turn must
// execute the task, must deliver its result through a send tool for the
// job's configured channel, must not ask clarifying questions, and must
// not end without having delivered.
func cronSystemPrompt(job *switchmodels.CronJob) string {
	dest := job.Channel
	if dest == "" {
		dest = "the configured destination"
	}
	return fmt.Sprintf(
		"This is a headless scheduled run with no user present to answer questions. "+
			"You must execute the task described in the user message and deliver the "+
			"result by calling the send_message tool with channel=%q, to=%q. Do not "+
			"ask clarifying questions; make reasonable assumptions and proceed. The "+
			"turn must not end without having delivered a result through that tool call.",
		dest, job.To,
	)
}
