package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/relaymesh/switchboard/internal/agent"
	"github.com/relaymesh/switchboard/internal/multiagent"
	"github.com/relaymesh/switchboard/internal/providers"
	"github.com/relaymesh/switchboard/internal/switchmodels"
	"github.com/relaymesh/switchboard/internal/tools"
)

// spawnSubagentSchema is the JSON Schema advertised to the model, per
// spec.md §6's tool contract.
const spawnSubagentSchema = `{
  "type": "object",
  "properties": {
    "task": {"type": "string", "description": "What the subagent should accomplish"},
    "label": {"type": "string", "description": "Short human-readable label for this run"},
    "cleanup": {"type": "string", "enum": ["delete", "keep"], "description": "Whether to keep the child session after completion"}
  },
  "required": ["task"]
}`

type spawnSubagentInput struct {
	Task    string `json:"task"`
	Label   string `json:"label"`
	Cleanup string `json:"cleanup"`
}

// SpawnSubagentTool implements spec.md §4.7's subagent-spawn tool: it
// mints a `subagent:<uuid>` session key (required by §3 and §4.4 step 3's
// subagent-context filter), registers the run with the SubagentRegistry,
// and runs a headless child AgentRunner in the background. Grounded on the
// teacher's internal/tools/subagent/spawn.go Manager.Spawn/runSubAgent
// shape (background goroutine, registry bookkeeping, announce callback on
// completion), adapted onto this module's AgentRunner/SubagentRegistry/
// AnnouncePipeline types instead of the teacher's own Runtime/SubAgent.
type SpawnSubagentTool struct {
	gw *Gateway
}

// NewSpawnSubagentTool builds the tool bound to gw, whose sessions,
// providers, tool registry, subagent registry, and announce pipeline it
// reuses for the child run.
func NewSpawnSubagentTool(gw *Gateway) *SpawnSubagentTool {
	return &SpawnSubagentTool{gw: gw}
}

func (t *SpawnSubagentTool) Name() string        { return "spawn_subagent" }
func (t *SpawnSubagentTool) Description() string { return "Spawn a background subagent to perform a task and report back when done." }
func (t *SpawnSubagentTool) Schema() json.RawMessage { return json.RawMessage(spawnSubagentSchema) }

// SubagentSafe is false: a subagent run must not itself spawn subagents,
// per spec.md §4.4 step 3.
func (t *SpawnSubagentTool) SubagentSafe() bool { return false }

func (t *SpawnSubagentTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in spawnSubagentInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("spawn_subagent: parse input: %w", err)
	}
	if in.Task == "" {
		return "", fmt.Errorf("spawn_subagent: task is required")
	}

	tc, ok := tools.FromContext(ctx)
	if !ok {
		return "", fmt.Errorf("spawn_subagent: no tool context bound")
	}

	cleanup := switchmodels.CleanupDelete
	if in.Cleanup == string(switchmodels.CleanupKeep) {
		cleanup = switchmodels.CleanupKeep
	}

	childKey := fmt.Sprintf("subagent:%s", uuid.NewString())
	run, err := t.gw.subagents.Register(multiagent.RegisterParams{
		ChildSessionKey:     childKey,
		RequesterSessionKey: tc.SessionKey,
		RequesterChannel:    tc.Channel,
		Task:                in.Task,
		Label:               in.Label,
		Cleanup:             cleanup,
	})
	if err != nil {
		return "", fmt.Errorf("spawn_subagent: register run: %w", err)
	}

	go t.gw.runSubagent(run, tc)

	return fmt.Sprintf("Spawned background subagent %q (run %s) for: %s", run.Label, run.RunID, run.Task), nil
}

// runSubagent drives one child AgentRunner to completion and hands the
// result to the AnnouncePipeline, which debounces delivery back to the
// requester session via the Gateway's triggerAgent re-entry path.
func (g *Gateway) runSubagent(run *switchmodels.SubagentRun, requesterCtx tools.ToolContext) {
	ctx := context.Background()
	if err := g.subagents.MarkStarted(run.RunID); err != nil && g.logger != nil {
		g.logger.Error(ctx, "gateway: mark subagent started failed", "run", run.RunID, "error", err)
	}

	agentCfg, ok := g.agents[requesterCtx.AgentID]
	if !ok {
		agentCfg = g.agents[g.defaultID]
	}

	client, providerCfg, err := providers.ResolveWithFallback(g.providers, agentCfg)
	if err != nil {
		g.completeSubagent(run, switchmodels.SubagentOutcome{Status: switchmodels.OutcomeError, Error: err.Error()}, "")
		return
	}

	sess, err := g.sessions.GetOrCreate(ctx, run.ChildSessionKey, agentCfg.ID, requesterCtx.Channel)
	if err != nil {
		g.completeSubagent(run, switchmodels.SubagentOutcome{Status: switchmodels.OutcomeError, Error: err.Error()}, "")
		return
	}

	runner := agent.NewRunner(sess.ID, run.ChildSessionKey, agentCfg, g.sessions, client, g.toolReg, g, agent.RunnerConfig{
		IsSubagent: true,
		Provider:   providerCfg.ID,
		Metrics:    g.metrics,
		Tracer:     g.tracer,
	})

	findings, runErr := runner.Run(ctx, run.Task, agent.RunOptions{
		Source:            switchmodels.SourceUser,
		ExtraSystemPrompt: subagentSystemPrompt(run),
	})

	outcome := switchmodels.SubagentOutcome{Status: switchmodels.OutcomeOK}
	if runErr != nil {
		outcome = switchmodels.SubagentOutcome{Status: switchmodels.OutcomeError, Error: runErr.Error()}
		findings = ""
	}
	g.completeSubagent(run, outcome, findings)
}

// subagentSystemPrompt gives the child run the requester context spec.md
// §4.4 calls for: this is a headless, single-task run with no user to
// answer clarifying questions, and its final reply becomes the findings
// the AnnouncePipeline delivers back to the requester session.
func subagentSystemPrompt(run *switchmodels.SubagentRun) string {
	return fmt.Sprintf(
		"This is a headless background subagent run with no user present to answer "+
			"questions. You were spawned to accomplish: %q. Do not ask clarifying "+
			"questions; make reasonable assumptions and proceed. Your final reply is "+
			"the findings reported back to the requester, so end with a clear, concise "+
			"summary of what you did and found.",
		run.Task,
	)
}

func (g *Gateway) completeSubagent(run *switchmodels.SubagentRun, outcome switchmodels.SubagentOutcome, findings string) {
	completed, err := g.subagents.MarkCompleted(run.RunID, outcome)
	if err != nil {
		if g.logger != nil {
			g.logger.Error(context.Background(), "gateway: mark subagent completed failed", "run", run.RunID, "error", err)
		}
		return
	}
	if g.metrics != nil {
		status := "ok"
		if outcome.Status != switchmodels.OutcomeOK {
			status = string(outcome.Status)
		}
		g.metrics.RecordToolExecution("spawn_subagent", status, 0)
	}

	duration := completed.EndedAt.Sub(completed.StartedAt)
	g.announce.Enqueue(completed.RequesterSessionKey, completed.RequesterChannel, multiagent.AnnounceItem{
		Label:    completed.Label,
		Task:     completed.Task,
		Findings: findings,
		Outcome:  outcome,
		Duration: duration,
	})

	if completed.Cleanup == switchmodels.CleanupDelete {
		if sess, err := g.sessions.FindByKey(context.Background(), completed.ChildSessionKey); err == nil && sess != nil {
			_ = g.sessions.Delete(context.Background(), sess.ID)
		}
		_ = g.subagents.FinalizeCleanup(run.RunID)
	}
}
