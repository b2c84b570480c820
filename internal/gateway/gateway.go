// Package gateway implements the Gateway (spec.md §4.10): the component
// that composes the Router, Session Manager, Provider Registry,
// FollowupQueue, Channel Registry, SubagentRegistry/Announce Pipeline, and
// CronService into one ingress -> route -> runner -> egress pipeline, and
// exposes the two re-entry callbacks (sendToSession, triggerAgent) tools
// reach through tools.GatewayRef. Grounded on the teacher's Gateway/tool
// re-entry wiring, generalized to the two named operations this spec
// requires rather than the teacher's much larger surface.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/relaymesh/switchboard/internal/agent"
	"github.com/relaymesh/switchboard/internal/channels"
	"github.com/relaymesh/switchboard/internal/cron"
	"github.com/relaymesh/switchboard/internal/multiagent"
	"github.com/relaymesh/switchboard/internal/observability"
	"github.com/relaymesh/switchboard/internal/providers"
	"github.com/relaymesh/switchboard/internal/routing"
	"github.com/relaymesh/switchboard/internal/sessions"
	"github.com/relaymesh/switchboard/internal/switchmodels"
	"github.com/relaymesh/switchboard/internal/tools"
)

// Config bundles every dependency the Gateway composes. Nil Metrics/Tracer/
// EventRecorder disable their respective recording.
type Config struct {
	Router           *routing.Router
	Sessions         sessions.Store
	Providers        *providers.Registry
	Tools            *tools.Registry
	Channels         *channels.Registry
	Subagents        *multiagent.Registry
	Announce         *multiagent.AnnouncePipeline
	Cron             *cron.Service
	Agents           map[string]switchmodels.AgentConfig
	DefaultAgentID   string

	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
	Recorder *observability.EventRecorder
}

// Gateway is the Gateway of spec.md §4.10.
type Gateway struct {
	router    *routing.Router
	sessions  sessions.Store
	providers *providers.Registry
	toolReg   *tools.Registry
	channels  *channels.Registry
	subagents *multiagent.Registry
	announce  *multiagent.AnnouncePipeline
	cron      *cron.Service
	agents    map[string]switchmodels.AgentConfig
	defaultID string
	followup  *agent.FollowupQueue

	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	recorder *observability.EventRecorder

	mu      sync.Mutex
	handles map[string]*agent.Runner
}

// New builds a Gateway. The FollowupQueue is wired internally so its
// SteerHandler always resolves through the same runner-handle cache
// processMessage uses.
func New(cfg Config) *Gateway {
	g := &Gateway{
		router:    cfg.Router,
		sessions:  cfg.Sessions,
		providers: cfg.Providers,
		toolReg:   cfg.Tools,
		channels:  cfg.Channels,
		subagents: cfg.Subagents,
		announce:  cfg.Announce,
		cron:      cfg.Cron,
		agents:    cfg.Agents,
		defaultID: cfg.DefaultAgentID,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		recorder:  cfg.Recorder,
		handles:   make(map[string]*agent.Runner),
	}
	g.followup = agent.NewFollowupQueue(g.steer)
	if g.announce != nil {
		g.announce.Metrics = g.metrics
		g.announce.SetTrigger(g.announceTrigger)
	}
	return g
}

// announceTrigger adapts TriggerAgent to the multiagent.TriggerFunc shape
// the AnnouncePipeline drives once a debounce window elapses.
func (g *Gateway) announceTrigger(ctx context.Context, sessionKey, channel, message string) (multiagent.TriggerOutcome, error) {
	_, active := g.activeRunner(sessionKey)
	if err := g.TriggerAgent(ctx, sessionKey, message, "subagent-announce"); err != nil {
		return multiagent.TriggerFailed, err
	}
	if active {
		return multiagent.TriggerSteered, nil
	}
	return multiagent.TriggerInvoked, nil
}

// Start starts every registered channel adapter and the CronService, then
// begins consuming the aggregated inbound message stream. It returns once
// every adapter has started (or the first failure), not once they stop.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("gateway: start channels: %w", err)
	}

	inbound := g.channels.AggregateMessages(ctx)
	go func() {
		for msg := range inbound {
			g.handleIncoming(ctx, msg)
		}
	}()

	if g.cron != nil {
		if err := g.cron.Start(ctx); err != nil {
			return fmt.Errorf("gateway: start cron: %w", err)
		}
	}
	return nil
}

// SetCron wires the CronService in after construction, so the cron
// service (which needs the Gateway as a tools.GatewayRef) and the Gateway
// (which starts/stops the cron service) can be built without a forward
// reference cycle.
func (g *Gateway) SetCron(c *cron.Service) {
	g.cron = c
}

// Stop stops every channel adapter, the CronService, and the announce
// pipeline's pending debounce timers.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.cron != nil {
		if err := g.cron.Stop(ctx); err != nil {
			return fmt.Errorf("gateway: stop cron: %w", err)
		}
	}
	if g.announce != nil {
		g.announce.Stop()
	}
	return g.channels.StopAll(ctx)
}

// handleIncoming implements spec.md §4.10's ingress dispatch: look up the
// runner for the message's sessionKey; if active, hand to the
// FollowupQueue; otherwise call processMessage directly.
func (g *Gateway) handleIncoming(ctx context.Context, msg switchmodels.IncomingMessage) {
	sessionKey := msg.SessionKey
	if sessionKey == "" {
		sessionKey = fmt.Sprintf("%s:%s", msg.Channel, msg.Peer)
	}

	if g.logger != nil {
		g.logger.Info(ctx, "gateway: inbound message", "channel", msg.Channel, "session", sessionKey)
	}
	if g.metrics != nil {
		g.metrics.MessageReceived(msg.Channel)
	}

	if r, ok := g.activeRunner(sessionKey); ok && r.IsActive() {
		g.followup.Enqueue(sessionKey, msg.Text)
		return
	}

	if err := g.processMessage(ctx, sessionKey, msg); err != nil {
		if g.logger != nil {
			g.logger.Error(ctx, "gateway: process message failed", "session", sessionKey, "error", err)
		}
	}
}

func (g *Gateway) activeRunner(sessionKey string) (*agent.Runner, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.handles[sessionKey]
	return r, ok
}

// steer is the agent.SteerHandler the FollowupQueue invokes in ModeSteer:
// inject into the live runner, or route the text as a fresh message if
// none is active.
func (g *Gateway) steer(sessionKey, text string) {
	if r, ok := g.activeRunner(sessionKey); ok && r.IsActive() {
		r.Inject(text)
		return
	}
	peer := peerFromSessionKey(sessionKey)
	msg := switchmodels.IncomingMessage{SessionKey: sessionKey, Text: text, Peer: peer, To: peer}
	if sess, err := g.sessions.FindByKey(context.Background(), sessionKey); err == nil && sess != nil {
		msg.Channel = sess.Channel
	}
	if err := g.processMessage(context.Background(), sessionKey, msg); err != nil && g.logger != nil {
		g.logger.Error(context.Background(), "gateway: steer fresh route failed", "session", sessionKey, "error", err)
	}
}

// processMessage implements spec.md §4.10's core pipeline: resolve route ->
// agent -> provider -> model client, get-or-create the runner, run it, and
// forward the result to the originating channel.
func (g *Gateway) processMessage(ctx context.Context, sessionKey string, msg switchmodels.IncomingMessage) error {
	if g.tracer != nil {
		var span trace.Span
		ctx, span = g.tracer.TraceMessageProcessing(ctx, msg.Channel, sessionKey)
		defer span.End()
	}

	in := &switchmodels.IncomingMessage{
		Channel:   msg.Channel,
		From:      msg.From,
		To:        msg.To,
		AccountID: msg.AccountID,
		Peer:      msg.Peer,
		GuildID:   msg.GuildID,
		TeamID:    msg.TeamID,
	}
	resolution := g.router.Resolve(in, g.defaultID)
	agentCfg, ok := g.agents[resolution.AgentID]
	if !ok {
		return fmt.Errorf("gateway: resolved agent %q not found", resolution.AgentID)
	}

	client, providerCfg, err := providers.ResolveWithFallback(g.providers, agentCfg)
	if err != nil {
		return fmt.Errorf("gateway: resolve model %q: %w", agentCfg.Model, err)
	}

	sess, err := g.sessions.GetOrCreate(ctx, sessionKey, agentCfg.ID, msg.Channel)
	if err != nil {
		return fmt.Errorf("gateway: get-or-create session: %w", err)
	}

	runner := g.getOrCreateRunner(sess.ID, sessionKey, agentCfg, client, providerCfg)

	source := switchmodels.SourceUser
	if msg.From == "subagent-announce" {
		source = switchmodels.SourceSubagentAnnounce
	}

	toolCtx := tools.ToolContext{SessionKey: sessionKey, Channel: msg.Channel, To: msg.To, AgentID: agentCfg.ID}
	runCtx := tools.WithContext(ctx, toolCtx)
	runCtx = tools.WithGateway(runCtx, g)
	runCtx = observability.AddSessionID(runCtx, sess.ID)
	runCtx = observability.AddAgentID(runCtx, agentCfg.ID)

	if g.recorder != nil {
		_ = g.recorder.Record(runCtx, observability.EventTypeRunStart, "gateway.processMessage", map[string]interface{}{
			"channel": msg.Channel,
			"source":  string(source),
		})
	}

	reply, err := runner.Run(runCtx, msg.Text, agent.RunOptions{Source: source})
	if err != nil {
		if g.recorder != nil {
			_ = g.recorder.RecordError(runCtx, observability.EventTypeRunError, "gateway.processMessage", err, nil)
		}
		return fmt.Errorf("gateway: runner: %w", err)
	}
	if g.recorder != nil {
		_ = g.recorder.Record(runCtx, observability.EventTypeRunEnd, "gateway.processMessage", map[string]interface{}{
			"reply_len": len(reply),
		})
	}

	return g.deliver(ctx, sessionKey, msg.Channel, msg.To, reply)
}

func (g *Gateway) getOrCreateRunner(
	sessionID, sessionKey string,
	agentCfg switchmodels.AgentConfig,
	client providers.Client,
	providerCfg switchmodels.ProviderConfig,
) *agent.Runner {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.handles[sessionKey]; ok {
		if _, err := g.sessions.Get(context.Background(), sessionID); err != nil {
			delete(g.handles, sessionKey)
		} else {
			return r
		}
	}

	r := agent.NewRunner(sessionID, sessionKey, agentCfg, g.sessions, client, g.toolReg, g, agent.RunnerConfig{
		Provider: providerCfg.ID,
		Metrics:  g.metrics,
		Tracer:   g.tracer,
	})
	g.handles[sessionKey] = r
	return r
}

// deliver implements the non-reply sentinels (NO_REPLY suppresses delivery)
// before forwarding the final text to the originating channel adapter.
func (g *Gateway) deliver(ctx context.Context, sessionKey, channel, to, reply string) error {
	if reply == "" || reply == switchmodels.SentinelNoReply {
		return nil
	}
	a, ok := g.channels.Get(channel)
	if !ok {
		return fmt.Errorf("gateway: no adapter registered for channel %q", channel)
	}
	return a.Send(ctx, channels.OutgoingMessage{To: to, Content: reply})
}

// SendToSession implements tools.GatewayRef: append an assistant entry to
// the session's transcript and push the content through its channel,
// without re-triggering the agent.
func (g *Gateway) SendToSession(ctx context.Context, sessionKey, content string) error {
	sess, err := g.sessions.FindByKey(ctx, sessionKey)
	if err != nil {
		return fmt.Errorf("gateway: sendToSession: find session %q: %w", sessionKey, err)
	}
	if sess == nil {
		return fmt.Errorf("gateway: sendToSession: no session for key %q", sessionKey)
	}
	if err := g.sessions.Append(ctx, sess.ID, switchmodels.TranscriptEntry{
		Role:      switchmodels.RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
	}); err != nil {
		return fmt.Errorf("gateway: sendToSession: append transcript: %w", err)
	}
	a, ok := g.channels.Get(sess.Channel)
	if !ok {
		return fmt.Errorf("gateway: sendToSession: no adapter for channel %q", sess.Channel)
	}
	return a.Send(ctx, channels.OutgoingMessage{To: peerFromSessionKey(sessionKey), Content: content})
}

// peerFromSessionKey extracts the peer component of a `<channel>:<peer>`
// session key (spec.md §3/§6), the destination identifier a channel
// adapter's Send expects.
func peerFromSessionKey(key string) string {
	if idx := strings.Index(key, ":"); idx >= 0 {
		return key[idx+1:]
	}
	return key
}

// TriggerAgent implements tools.GatewayRef: if a runner is active for
// sessionKey, inject; otherwise construct a synthetic IncomingMessage
// (From: "subagent-announce") and feed it through processMessage. This is
// the re-entry path cron and the announce pipeline use.
func (g *Gateway) TriggerAgent(ctx context.Context, sessionKey, content string, source string) error {
	if r, ok := g.activeRunner(sessionKey); ok && r.IsActive() {
		r.Inject(content)
		return nil
	}

	channel := ""
	if sess, err := g.sessions.FindByKey(ctx, sessionKey); err == nil && sess != nil {
		channel = sess.Channel
	}
	peer := peerFromSessionKey(sessionKey)
	msg := switchmodels.IncomingMessage{
		SessionKey: sessionKey,
		Channel:    channel,
		From:       source,
		Peer:       peer,
		To:         peer,
		Text:       content,
	}
	return g.processMessage(ctx, sessionKey, msg)
}

var _ tools.GatewayRef = (*Gateway)(nil)
