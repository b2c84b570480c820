package tools

import "context"

// ToolContext is the per-call identity a tool executes with: which session,
// channel, and destination it is bound to. Grounded on spec.md §4.4 step 4's
// "runner's tool context ({sessionKey, channel, to, agentId})".
type ToolContext struct {
	SessionKey string
	Channel    string
	To         string
	AgentID    string
}

// GatewayRef is the small capability trait a tool uses to call back into
// the Gateway (spec.md §9): push content to an arbitrary session, or
// trigger a fresh agent turn. This is the re-entry path cron and the
// subagent announce pipeline also use.
type GatewayRef interface {
	SendToSession(ctx context.Context, sessionKey, content string) error
	TriggerAgent(ctx context.Context, sessionKey, content string, source string) error
}

type contextKey struct{ name string }

var (
	toolContextKey = &contextKey{"tools.ToolContext"}
	gatewayRefKey  = &contextKey{"tools.GatewayRef"}
)

// WithContext attaches a ToolContext to ctx, generalizing the teacher's
// WithSteeringQueue/SteeringQueueFromContext capability-injection pattern.
func WithContext(ctx context.Context, tc ToolContext) context.Context {
	return context.WithValue(ctx, toolContextKey, tc)
}

// FromContext retrieves the ToolContext attached by WithContext, if any.
func FromContext(ctx context.Context) (ToolContext, bool) {
	tc, ok := ctx.Value(toolContextKey).(ToolContext)
	return tc, ok
}

// WithGateway attaches a GatewayRef to ctx, available to any tool
// executing within it.
func WithGateway(ctx context.Context, gw GatewayRef) context.Context {
	return context.WithValue(ctx, gatewayRefKey, gw)
}

// GatewayFromContext retrieves the GatewayRef attached by WithGateway.
func GatewayFromContext(ctx context.Context) (GatewayRef, bool) {
	gw, ok := ctx.Value(gatewayRefKey).(GatewayRef)
	return gw, ok
}
