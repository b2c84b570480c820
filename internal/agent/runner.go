// Package agent implements the AgentRunner (spec.md §4.4): the bounded
// tool-calling loop for one session, and the FollowupQueue (spec.md §4.5)
// that either steers a message into a running runner or triggers a fresh
// invocation.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaymesh/switchboard/internal/backoff"
	"github.com/relaymesh/switchboard/internal/observability"
	"github.com/relaymesh/switchboard/internal/providers"
	"github.com/relaymesh/switchboard/internal/sessions"
	"github.com/relaymesh/switchboard/internal/switchmodels"
	"github.com/relaymesh/switchboard/internal/tools"
)

// defaultMaxIterations is spec.md §4.4's bounded loop size.
const defaultMaxIterations = 10

// emptyResponseRetries is how many times an empty model response is
// retried before being accepted, per spec.md §4.4 step 6.
const emptyResponseRetries = 2

// modelCallMaxAttempts bounds retries of one Client.Chat call against
// transient provider failures (connection resets, 5xx, rate limiting).
const modelCallMaxAttempts = 3

// RunnerConfig tunes a Runner's bounded loop.
type RunnerConfig struct {
	// MaxIterations bounds the main loop. Defaults to 10.
	MaxIterations int
	// DrainMaxIterations bounds the post-loop injected-message drain phase.
	// Defaults to MaxIterations, answering spec.md §9's flagged ambiguity
	// about whether the budget is shared or split.
	DrainMaxIterations int
	IsSubagent         bool

	// Provider labels model-request metrics and traces with the resolved
	// provider ID (e.g. "anthropic-default"). Left blank, calls are
	// labeled "unknown".
	Provider string

	// Metrics records turn-level and model-request Prometheus
	// observations. Nil-safe: a nil Metrics disables recording.
	Metrics *observability.Metrics

	// Tracer emits a span around each model request. Nil-safe: a nil
	// Tracer disables tracing.
	Tracer *observability.Tracer
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.DrainMaxIterations <= 0 {
		c.DrainMaxIterations = c.MaxIterations
	}
	return c
}

// RunCallbacks streams turn events out of a Run call.
type RunCallbacks struct {
	OnChunk      func(text string)
	OnToolResult func(toolCallID, toolName, result string)
	OnComplete   func(final string)
}

// RunOptions parameterizes one call to Run.
type RunOptions struct {
	Source    switchmodels.Source
	ExtraSystemPrompt string
	Callbacks RunCallbacks
}

// runState is the Runner's lifecycle per spec.md §4.4.
type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateAborted
)

// Runner executes the bounded tool-calling loop for exactly one session.
// Grounded on the teacher's internal/agent/loop.go (LoopConfig.MaxIterations
// shape, state-machine doc comments).
type Runner struct {
	sessionID  string
	sessionKey string
	agent      switchmodels.AgentConfig

	store    sessions.Store
	client   providers.Client
	registry *tools.Registry
	gateway  tools.GatewayRef
	logger   *slog.Logger
	cfg      RunnerConfig

	mu           sync.Mutex
	state        runState
	injected     []string
	cancel       context.CancelFunc
	promptDone   bool
	systemPrompt string
}

// NewRunner binds a fresh Runner to one session.
func NewRunner(
	sessionID, sessionKey string,
	agentCfg switchmodels.AgentConfig,
	store sessions.Store,
	client providers.Client,
	registry *tools.Registry,
	gateway tools.GatewayRef,
	cfg RunnerConfig,
) *Runner {
	return &Runner{
		sessionID:  sessionID,
		sessionKey: sessionKey,
		agent:      agentCfg,
		store:      store,
		client:     client,
		registry:   registry,
		gateway:    gateway,
		logger:     slog.Default().With("component", "agent.runner", "session", sessionKey),
		cfg:        cfg.withDefaults(),
	}
}

// BindSession rebinds the runner to a different persisted session, used
// when a session is recreated under the same in-memory handle.
func (r *Runner) BindSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = sessionID
	r.promptDone = false
}

// IsActive reports whether a loop is currently executing.
func (r *Runner) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateRunning
}

// Inject queues text to be spliced into the running loop as the next
// `[INTERRUPT]`-prefixed user turn.
func (r *Runner) Inject(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.injected = append(r.injected, text)
}

// Abort cancels the in-flight model call, if any. The loop returns the
// `(aborted)` sentinel without further transcript writes.
func (r *Runner) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	r.state = stateAborted
}

func (r *Runner) popInjected() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.injected) == 0 {
		return "", false
	}
	text := r.injected[0]
	r.injected = r.injected[1:]
	return text, true
}

func (r *Runner) hasInjected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.injected) > 0
}

// frameInput wraps input content by source per spec.md §4.4's input
// framing rules. All framed input is delivered as a user-role entry so the
// model-side role-alternation constraint holds.
func frameInput(source switchmodels.Source, content string) string {
	switch source {
	case switchmodels.SourceCron:
		return fmt.Sprintf("[SCHEDULED TASK] Execute the following scheduled task and send the result to the user: %s", content)
	case switchmodels.SourceSubagentAnnounce:
		return fmt.Sprintf("[SUBAGENT RESULT] %s", content)
	default:
		return content
	}
}

// Run executes the bounded loop for one input and returns the final
// response (or a sentinel: NO_REPLY, (done), (aborted)).
func (r *Runner) Run(ctx context.Context, input string, opts RunOptions) (string, error) {
	r.mu.Lock()
	if r.state == stateRunning {
		r.mu.Unlock()
		return "", fmt.Errorf("agent: runner for session %q is already active", r.sessionKey)
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.state = stateRunning
	r.cancel = cancel
	r.mu.Unlock()

	turnStart := time.Now()
	outcome := "ok"
	var turnSpan trace.Span
	if r.cfg.Tracer != nil {
		runCtx, turnSpan = r.cfg.Tracer.TraceAgentTurn(runCtx, r.agent.ID, string(opts.Source))
	}
	defer func() {
		r.mu.Lock()
		if r.state != stateAborted {
			r.state = stateIdle
		}
		r.cancel = nil
		r.mu.Unlock()
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordAgentTurn(r.agent.ID, string(opts.Source), outcome, time.Since(turnStart).Seconds())
		}
		if turnSpan != nil {
			turnSpan.End()
		}
	}()

	if err := r.ensureSystemPrompt(runCtx, opts.ExtraSystemPrompt); err != nil {
		outcome = "error"
		return "", fmt.Errorf("agent: compose system prompt: %w", err)
	}

	framed := frameInput(opts.Source, input)
	if err := r.appendEntry(runCtx, switchmodels.TranscriptEntry{
		Role:    switchmodels.RoleUser,
		Content: framed,
	}); err != nil {
		outcome = "error"
		return "", fmt.Errorf("agent: append input: %w", err)
	}

	final, err := r.loop(runCtx, r.cfg.MaxIterations, opts)
	if err != nil {
		if runCtx.Err() != nil {
			final = switchmodels.SentinelAborted
			outcome = "aborted"
		} else {
			outcome = "error"
			return "", err
		}
	}

	// Second drain phase: remaining injected messages, bounded separately.
	if final != switchmodels.SentinelAborted && r.hasInjected() {
		drained, err := r.loop(runCtx, r.cfg.DrainMaxIterations, opts)
		if err == nil && drained != "" {
			final = drained
		}
	}

	if final == "" {
		final = switchmodels.SentinelDone
	}
	if opts.Callbacks.OnComplete != nil {
		opts.Callbacks.OnComplete(final)
	}
	return final, nil
}

// chatWithRetry wraps one Client.Chat call in bounded exponential backoff
// (internal/backoff.RetryWithBackoff) so a transient provider hiccup does
// not fail the whole turn. Retries stop early once ctx is done.
func (r *Runner) chatWithRetry(ctx context.Context, req providers.ChatRequest) (*providers.ChatResult, error) {
	result, err := backoff.RetryWithBackoff(ctx, backoff.DefaultPolicy(), modelCallMaxAttempts,
		func(attempt int) (*providers.ChatResult, error) {
			res, err := r.client.Chat(ctx, req)
			if err != nil && attempt < modelCallMaxAttempts {
				r.logger.Warn("agent: model call failed, retrying", "attempt", attempt, "error", err)
			}
			return res, err
		})
	return result.Value, err
}

// loop runs up to maxIterations of: sync, drain-one-injected,
// call-model, branch. It returns the final text once the model responds
// with pure text and no injected messages remain pending.
func (r *Runner) loop(ctx context.Context, maxIterations int, opts RunOptions) (string, error) {
	emptyRetries := 0
	for i := 0; i < maxIterations; i++ {
		conversation, err := r.syncConversation(ctx)
		if err != nil {
			return "", err
		}

		if text, ok := r.popInjected(); ok {
			interrupt := fmt.Sprintf("[INTERRUPT] New message from user: %s", text)
			if err := r.appendEntry(ctx, switchmodels.TranscriptEntry{
				Role:    switchmodels.RoleUser,
				Content: interrupt,
			}); err != nil {
				return "", err
			}
			conversation = append(conversation, providers.Message{Role: switchmodels.RoleUser, Content: interrupt})
		}

		toolSchemas := r.toolSchemas()

		provider := r.cfg.Provider
		if provider == "" {
			provider = "unknown"
		}
		modelCtx := ctx
		var modelSpan trace.Span
		if r.cfg.Tracer != nil {
			modelCtx, modelSpan = r.cfg.Tracer.TraceModelRequest(ctx, provider, r.agent.Model)
		}
		modelStart := time.Now()
		result, err := r.chatWithRetry(modelCtx, providers.ChatRequest{
			System:   r.currentSystemPrompt(),
			Messages: conversation,
			Tools:    toolSchemas,
			Callbacks: providers.Callbacks{
				OnChunk: opts.Callbacks.OnChunk,
			},
		})
		modelStatus := "success"
		if err != nil {
			modelStatus = "error"
		}
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordModelRequest(provider, r.agent.Model, modelStatus, time.Since(modelStart).Seconds())
		}
		if modelSpan != nil {
			if err != nil {
				modelSpan.RecordError(err)
			}
			modelSpan.End()
		}
		if err != nil {
			return "", fmt.Errorf("agent: model call: %w", err)
		}

		switch {
		case len(result.ToolCalls) > 0:
			if err := r.handleToolCalls(ctx, result, opts); err != nil {
				return "", err
			}
			emptyRetries = 0
			continue

		case strings.TrimSpace(result.Content) != "":
			if err := r.appendEntry(ctx, switchmodels.TranscriptEntry{
				Role:    switchmodels.RoleAssistant,
				Content: result.Content,
			}); err != nil {
				return "", err
			}
			if r.hasInjected() {
				continue
			}
			return result.Content, nil

		default:
			if r.hasInjected() {
				continue
			}
			emptyRetries++
			if emptyRetries > emptyResponseRetries {
				return "", nil
			}
		}
	}
	return "", nil
}

func (r *Runner) handleToolCalls(ctx context.Context, result *providers.ChatResult, opts RunOptions) error {
	entryCalls := make([]switchmodels.ToolCall, 0, len(result.ToolCalls))
	for _, tc := range result.ToolCalls {
		entryCalls = append(entryCalls, switchmodels.ToolCall{ID: tc.ID, Name: tc.Name, Input: json.RawMessage(tc.Input)})
	}
	if err := r.appendEntry(ctx, switchmodels.TranscriptEntry{
		Role:      switchmodels.RoleAssistant,
		ToolCalls: entryCalls,
	}); err != nil {
		return err
	}

	toolCtx := tools.WithContext(ctx, tools.ToolContext{
		SessionKey: r.sessionKey,
		AgentID:    r.agent.ID,
	})
	if r.gateway != nil {
		toolCtx = tools.WithGateway(toolCtx, r.gateway)
	}

	for _, tc := range result.ToolCalls {
		callCtx := toolCtx
		var toolSpan trace.Span
		if r.cfg.Tracer != nil {
			callCtx, toolSpan = r.cfg.Tracer.TraceToolExecution(toolCtx, tc.Name)
		}
		toolStart := time.Now()

		output, execErr := r.registry.Execute(callCtx, tc.Name, tc.Input)
		if execErr != nil {
			if errors.Is(execErr, tools.ErrUnknownTool) {
				output = fmt.Sprintf("Error: Unknown tool %s", tc.Name)
			} else {
				output = fmt.Sprintf("Error: %s", execErr.Error())
			}
			r.logger.Error("tool execution failed", "tool", tc.Name, "error", execErr)
		}

		toolStatus := "success"
		if execErr != nil {
			toolStatus = "error"
		}
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordToolExecution(tc.Name, toolStatus, time.Since(toolStart).Seconds())
		}
		if toolSpan != nil {
			if execErr != nil {
				toolSpan.RecordError(execErr)
			}
			toolSpan.End()
		}
		if err := r.appendEntry(ctx, switchmodels.TranscriptEntry{
			Role:       switchmodels.RoleTool,
			Content:    output,
			ToolCallID: tc.ID,
		}); err != nil {
			return err
		}
		if opts.Callbacks.OnToolResult != nil {
			opts.Callbacks.OnToolResult(tc.ID, tc.Name, output)
		}
	}
	return nil
}

func (r *Runner) toolSchemas() []providers.ToolSchema {
	var allow []string
	if len(r.agent.Tools) > 0 {
		allow = r.agent.Tools
	}
	toolList := r.registry.FilterForCaller(allow, r.cfg.IsSubagent)
	out := make([]providers.ToolSchema, 0, len(toolList))
	for _, t := range toolList {
		out = append(out, providers.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return out
}

func (r *Runner) syncConversation(ctx context.Context) ([]providers.Message, error) {
	entries, err := r.store.LoadTranscript(ctx, r.sessionID)
	if err != nil {
		return nil, fmt.Errorf("agent: load transcript: %w", err)
	}
	out := make([]providers.Message, 0, len(entries))
	for _, e := range entries {
		if e.Role == switchmodels.RoleSystem {
			continue
		}
		msg := providers.Message{Role: e.Role, Content: e.Content, ToolCallID: e.ToolCallID}
		for _, tc := range e.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{ID: tc.ID, Name: tc.Name, Input: tc.Input})
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r *Runner) appendEntry(ctx context.Context, entry switchmodels.TranscriptEntry) error {
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now()
	if err := r.store.Append(ctx, r.sessionID, entry); err != nil {
		r.logger.Error("transcript append failed", "error", err)
		return err
	}
	return nil
}

// ensureSystemPrompt composes and writes the system entry exactly once per
// session, per spec.md §4.4, and caches the composed string on the Runner so
// the loop can send it as the model request's System field instead of the
// bare agent.SystemPrompt config value — the composed prompt is what also
// carries the <available_skills> catalogue and extraSystemPrompt.
func (r *Runner) ensureSystemPrompt(ctx context.Context, extraSystemPrompt string) error {
	r.mu.Lock()
	if r.promptDone {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	entries, err := r.store.LoadTranscript(ctx, r.sessionID)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		prompt := r.agent.SystemPrompt
		for _, e := range entries {
			if e.Role == switchmodels.RoleSystem {
				prompt = e.Content
				break
			}
		}
		r.mu.Lock()
		r.systemPrompt = prompt
		r.promptDone = true
		r.mu.Unlock()
		return nil
	}

	prompt := ComposeSystemPrompt(r.agent, r.registry.FilterForCaller(r.agent.Tools, r.cfg.IsSubagent), extraSystemPrompt)
	if err := r.appendEntry(ctx, switchmodels.TranscriptEntry{
		Role:    switchmodels.RoleSystem,
		Content: prompt,
	}); err != nil {
		return err
	}
	r.mu.Lock()
	r.systemPrompt = prompt
	r.promptDone = true
	r.mu.Unlock()
	return nil
}

// currentSystemPrompt returns the composed system prompt cached by
// ensureSystemPrompt.
func (r *Runner) currentSystemPrompt() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.systemPrompt
}
