// Package observability provides monitoring and debugging capabilities for
// switchboard's control plane through metrics, structured logging, distributed
// tracing, and an in-memory event timeline.
//
// # Overview
//
// The observability package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// plus a fourth, switchboard-specific piece:
//
//  4. Events - an in-memory timeline of one AgentRunner turn, for replay
//     and debugging (events.go)
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Inbound message flow through channels
//   - Agent turn outcomes and durations, by trigger source
//   - Model request latency, by provider and model
//   - Tool execution performance
//   - Cron fires and announce-pipeline debounce drains
//   - Error rates by component and type
//   - Active session counts
//   - Router resolution tier hits
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	metrics.MessageReceived("telegram")
//
//	start := time.Now()
//	// ... call provider.Client.Chat ...
//	metrics.RecordModelRequest("anthropic", "claude-3-5-sonnet", "success",
//	    time.Since(start).Seconds())
//
//	start = time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("send", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	ctx := observability.AddSessionID(ctx, sessionKey)
//	ctx = observability.AddChannel(ctx, "telegram")
//
//	logger.Info(ctx, "processing message",
//	    "agent_id", agentID,
//	    "message_length", len(content),
//	)
//
//	logger.Error(ctx, "model request failed",
//	    "error", err,
//	    "provider", "anthropic",
//	    "credential", cred, // automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track a message as it moves
// through the Gateway, an AgentRunner turn, model requests, and tool calls:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "switchboard",
//	    ServiceVersion: "1.0.0",
//	    Environment:    "production",
//	    Endpoint:       "localhost:4317", // OTLP collector
//	    SamplingRate:   0.1,
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceMessageProcessing(ctx, "telegram", sessionKey)
//	defer span.End()
//
//	ctx, turnSpan := tracer.TraceAgentTurn(ctx, agentID, "user")
//	defer turnSpan.End()
//
//	ctx, modelSpan := tracer.TraceModelRequest(ctx, "anthropic", "claude-3-5-sonnet")
//	defer modelSpan.End()
//
// # Events
//
// The event timeline records a run's tool calls, model requests, cron fires,
// and announce drains for later replay:
//
//	store := observability.NewMemoryEventStore(10000)
//	recorder := observability.NewEventRecorder(store, logger)
//
//	ctx = observability.AddRunID(ctx, runID)
//	recorder.RecordRunStart(ctx, runID, nil)
//	recorder.RecordToolStart(ctx, "send", input)
//	recorder.RecordToolEnd(ctx, "send", dur, nil, nil)
//	recorder.RecordRunEnd(ctx, totalDur, nil)
//
//	events, _ := store.GetByRunID(runID)
//	timeline := observability.BuildTimeline(events)
//	fmt.Println(observability.FormatTimeline(timeline))
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted: password, passwd, pwd, secret,
// api_key, apikey, token, auth, authorization, private_key, privatekey.
package observability
