package multiagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/relaymesh/switchboard/internal/debounce"
	"github.com/relaymesh/switchboard/internal/observability"
	"github.com/relaymesh/switchboard/internal/switchmodels"
)

// announceDebounce is spec.md §4.8's tuned window: long enough that
// parallel spawns from one model turn arrive together, short enough that a
// lone completion is still reported promptly.
const announceDebounce = 2000 * time.Millisecond

// TriggerOutcome reports how the Gateway handled a composed announce
// message, per spec.md §4.8.
type TriggerOutcome string

const (
	TriggerSteered TriggerOutcome = "steered"
	TriggerInvoked TriggerOutcome = "invoked"
	TriggerFailed  TriggerOutcome = "failed"
)

// TriggerFunc is the Gateway's re-entry capability the announce pipeline
// drives once a debounce window elapses.
type TriggerFunc func(ctx context.Context, sessionKey, channel, message string) (TriggerOutcome, error)

// AnnounceItem is one subagent completion queued for delivery to its
// requester session.
type AnnounceItem struct {
	SessionKey string
	Channel    string
	Label      string
	Task       string
	Findings   string
	Outcome    switchmodels.SubagentOutcome
	Duration   time.Duration
	EnqueuedAt time.Time
}

// AnnouncePipeline debounces and collects subagent completions into a
// single trigger per requester session, using internal/debounce.Debouncer
// keyed by session so parallel spawns from one turn drain together.
// Grounded on the teacher's internal/tools/subagent/{queue.go,announce.go}
// (debounce-per-session queue, BuildTriggerMessage's single vs. collected
// phrasing); the per-session buffering itself is now the teacher's generic
// internal/debounce.Debouncer rather than a hand-rolled timer map.
type AnnouncePipeline struct {
	mu      sync.Mutex
	trigger TriggerFunc
	logger  *slog.Logger
	deb     *debounce.Debouncer[AnnounceItem]

	// Metrics is nil-safe: a nil Metrics disables drain recording.
	Metrics *observability.Metrics
}

// NewAnnouncePipeline builds a pipeline that calls trigger once a session's
// debounce window elapses. trigger may be nil and supplied later via
// SetTrigger, which lets the Gateway wire itself in after construction
// instead of requiring a forward reference at pipeline-construction time
// (mirrors the teacher's Manager.SetAnnouncer deferred-wiring pattern).
func NewAnnouncePipeline(trigger TriggerFunc) *AnnouncePipeline {
	p := &AnnouncePipeline{
		trigger: trigger,
		logger:  slog.Default().With("component", "multiagent.announce"),
	}
	p.deb = debounce.NewDebouncer[AnnounceItem](
		debounce.WithDebounceDuration[AnnounceItem](announceDebounce),
		debounce.WithBuildKey[AnnounceItem](func(item *AnnounceItem) string { return item.SessionKey }),
		debounce.WithOnFlush[AnnounceItem](p.flush),
	)
	return p
}

// Stop cancels all pending debounce timers so in-flight announce windows
// don't fire after the Gateway has shut down.
func (p *AnnouncePipeline) Stop() {
	p.deb.Stop()
}

// SetTrigger wires (or replaces) the trigger callback after construction.
func (p *AnnouncePipeline) SetTrigger(trigger TriggerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trigger = trigger
}

func (p *AnnouncePipeline) currentTrigger() TriggerFunc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trigger
}

// Enqueue implements spec.md §4.8 steps 1-3: the caller supplies the
// already-loaded findings (the subagent's last assistant transcript entry,
// or empty on error); Enqueue adds the item and resets the debounce timer.
func (p *AnnouncePipeline) Enqueue(requesterSessionKey, channel string, item AnnounceItem) {
	item.SessionKey = requesterSessionKey
	item.Channel = channel
	item.EnqueuedAt = time.Now()
	p.deb.Enqueue(&item)
}

// flush implements spec.md §4.8's fire behavior: compose single or
// collected message and invoke the Gateway trigger for every item batched
// under one session key by the debounce window. Items that arrive while a
// flush is in progress land in a fresh buffer and get their own window,
// rather than being folded into the in-flight drain.
func (p *AnnouncePipeline) flush(items []*AnnounceItem) error {
	if len(items) == 0 {
		return nil
	}
	sessionKey := items[0].SessionKey
	channel := items[0].Channel

	shape := "single"
	if len(items) > 1 {
		shape = "collected"
	}

	plain := make([]AnnounceItem, len(items))
	for i, it := range items {
		plain[i] = *it
	}

	trigger := p.currentTrigger()
	_, err := trigger(context.Background(), sessionKey, channel, BuildTriggerMessage(plain))
	drainOutcome := "ok"
	if err != nil {
		drainOutcome = "error"
		p.logger.Error("announce trigger failed", "session", sessionKey, "error", err)
	}
	if p.Metrics != nil {
		p.Metrics.RecordAnnounceDrain(shape, drainOutcome)
	}
	return err
}

// statusPhrase renders the short status phrase spec.md §4.8 names.
func statusPhrase(outcome switchmodels.SubagentOutcome) string {
	switch outcome.Status {
	case switchmodels.OutcomeOK:
		return "completed successfully"
	case switchmodels.OutcomeError:
		if outcome.Error != "" {
			return fmt.Sprintf("failed: %s", outcome.Error)
		}
		return "failed"
	case switchmodels.OutcomeTimeout:
		return "timed out"
	default:
		return "finished with unknown status"
	}
}

// BuildTriggerMessage composes the single-trigger or collected message per
// spec.md §4.8, grounded on the teacher's BuildTriggerMessage of the same
// name and near-identical phrasing.
func BuildTriggerMessage(items []AnnounceItem) string {
	if len(items) == 1 {
		return buildSingleTrigger(items[0])
	}
	return buildCollectedTrigger(items)
}

func buildSingleTrigger(item AnnounceItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A background task %q just %s.\n\n", item.Label, statusPhrase(item.Outcome))
	if item.Findings != "" {
		b.WriteString(item.Findings)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "(took %s)\n\n", formatDurationShort(item.Duration))
	b.WriteString("Summarize this naturally for the user. Keep it brief (1-2 sentences). You can respond with NO_REPLY if no announcement is needed.")
	return b.String()
}

func buildCollectedTrigger(items []AnnounceItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d background tasks completed]\n\n", len(items))
	for i, item := range items {
		fmt.Fprintf(&b, "--- Task %d: %q (%s) ---\n", i+1, item.Label, statusPhrase(item.Outcome))
		if item.Findings != "" {
			b.WriteString(item.Findings)
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "(took %s)\n\n", formatDurationShort(item.Duration))
	}
	b.WriteString("Summarize these together naturally for the user. Keep it brief. You can respond with NO_REPLY if no announcement is needed.")
	return b.String()
}

func formatDurationShort(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Round(time.Second).Seconds()))
	}
	minutes := int(d / time.Minute)
	seconds := int((d % time.Minute) / time.Second)
	if seconds == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}
