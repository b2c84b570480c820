package agent

import "sync"

// FollowupQueueMode selects one of the two delivery modes spec.md §4.5
// defines.
type FollowupQueueMode string

const (
	// ModeSteer immediately injects into a running runner, or routes the
	// message as if freshly arrived otherwise. The real-time default.
	ModeSteer FollowupQueueMode = "steer"
	// ModeCollect accumulates messages per session until a caller drains
	// them explicitly. Reserved/unused by the Gateway's default wiring
	// (spec.md §9) — preserved for deterministic replay.
	ModeCollect FollowupQueueMode = "collect"
)

// SteerHandler is invoked for every enqueue in ModeSteer. It must look up
// whether a runner for sessionKey is active: if so, call its Inject; if
// not, route text through the Gateway's fresh-message path.
type SteerHandler func(sessionKey, text string)

// FollowupQueue is the Gateway's per-session inbox, dispatching either via
// steer or collect. Grounded on the teacher's internal/agent/steering.go
// SteeringQueue (SteeringMessage ≈ steer, FollowUpMessage ≈ collect).
type FollowupQueue struct {
	mu      sync.Mutex
	mode    FollowupQueueMode
	collect map[string][]string
	onSteer SteerHandler
}

// NewFollowupQueue builds a queue in ModeSteer by default.
func NewFollowupQueue(onSteer SteerHandler) *FollowupQueue {
	return &FollowupQueue{
		mode:    ModeSteer,
		collect: make(map[string][]string),
		onSteer: onSteer,
	}
}

// SetMode switches between steer and collect.
func (q *FollowupQueue) SetMode(mode FollowupQueueMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.mode = mode
}

// Mode reports the current mode.
func (q *FollowupQueue) Mode() FollowupQueueMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mode
}

// Enqueue adds one message for sessionKey. In ModeSteer this synchronously
// invokes the registered SteerHandler; in ModeCollect it accumulates for a
// later Drain.
func (q *FollowupQueue) Enqueue(sessionKey, text string) {
	q.mu.Lock()
	mode := q.mode
	q.mu.Unlock()

	if mode == ModeSteer {
		if q.onSteer != nil {
			q.onSteer(sessionKey, text)
		}
		return
	}

	q.mu.Lock()
	q.collect[sessionKey] = append(q.collect[sessionKey], text)
	q.mu.Unlock()
}

// Drain returns and clears every message collected for sessionKey. A no-op
// outside ModeCollect.
func (q *FollowupQueue) Drain(sessionKey string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.collect[sessionKey]
	delete(q.collect, sessionKey)
	return msgs
}
