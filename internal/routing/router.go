// Package routing implements the Router: priority-tiered resolution of an
// incoming message's (channel, account, peer, guild/team) identity tuple to
// an agentId.
package routing

import (
	"sort"
	"sync"

	"github.com/relaymesh/switchboard/internal/observability"
	"github.com/relaymesh/switchboard/internal/switchmodels"
)

// MatchedBy names which tier resolved a Router.Resolve call.
type MatchedBy string

const (
	MatchedByPeer    MatchedBy = "peer"
	MatchedByGuild   MatchedBy = "guild"
	MatchedByTeam    MatchedBy = "team"
	MatchedByAccount MatchedBy = "account"
	MatchedByChannel MatchedBy = "channel-default"
	MatchedByDefault MatchedBy = "default"
)

// Resolution is the result of a Router.Resolve call.
type Resolution struct {
	AgentID   string
	MatchedBy MatchedBy
}

// Router holds the ordered set of bindings and resolves incoming messages
// to an agentId. Grounded on the teacher's internal/agent/routing.Router
// (rule-list, first-match-wins shape), generalized from provider selection
// to agent selection per the tier list below.
type Router struct {
	mu       sync.RWMutex
	bindings []*switchmodels.Binding
	seq      map[string]int // insertion sequence, for tie-breaking
	nextSeq  int

	// Metrics is nil-safe: a nil Metrics disables resolution-tier
	// recording.
	Metrics *observability.Metrics
}

// NewRouter builds a Router from an initial binding set. Bindings are
// copied; later mutation of the slice passed in does not affect the Router.
func NewRouter(bindings []*switchmodels.Binding) *Router {
	r := &Router{seq: make(map[string]int)}
	for _, b := range bindings {
		r.addLocked(b)
	}
	return r
}

func (r *Router) addLocked(b *switchmodels.Binding) {
	clone := *b
	r.bindings = append(r.bindings, &clone)
	r.seq[clone.ID] = r.nextSeq
	r.nextSeq++
}

// Add registers a new binding, or replaces one with the same ID.
func (r *Router) Add(b *switchmodels.Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.bindings {
		if existing.ID == b.ID {
			clone := *b
			r.bindings[i] = &clone
			return
		}
	}
	r.addLocked(b)
}

// Remove deletes a binding by ID. Reports whether a binding was removed.
func (r *Router) Remove(bindingID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, b := range r.bindings {
		if b.ID == bindingID {
			r.bindings = append(r.bindings[:i], r.bindings[i+1:]...)
			delete(r.seq, bindingID)
			return true
		}
	}
	return false
}

// List returns a snapshot of the current bindings.
func (r *Router) List() []*switchmodels.Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*switchmodels.Binding, len(r.bindings))
	for i, b := range r.bindings {
		clone := *b
		out[i] = &clone
	}
	return out
}

// candidate is a binding plus whether it matched a given tier predicate.
type tierPredicate func(m switchmodels.BindingMatch, in *switchmodels.IncomingMessage) bool

// Resolve implements spec.md §4.2's strict matching order: peer, then
// guildId, then teamId, then accountId (with no peer/guild/team
// constraint), then channel-default (accountId wildcard or absent, no
// peer/guild/team), then the supplied defaultAgentId. Within a tier the
// lowest-priority-number wins; ties break by insertion order.
func (r *Router) Resolve(in *switchmodels.IncomingMessage, defaultAgentID string) Resolution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tiers := []struct {
		matched MatchedBy
		pred    tierPredicate
	}{
		{MatchedByPeer, func(m switchmodels.BindingMatch, in *switchmodels.IncomingMessage) bool {
			return m.Channel == in.Channel && m.Peer != "" && m.Peer == in.Peer
		}},
		{MatchedByGuild, func(m switchmodels.BindingMatch, in *switchmodels.IncomingMessage) bool {
			return m.Channel == in.Channel && m.GuildID != "" && m.GuildID == in.GuildID
		}},
		{MatchedByTeam, func(m switchmodels.BindingMatch, in *switchmodels.IncomingMessage) bool {
			return m.Channel == in.Channel && m.TeamID != "" && m.TeamID == in.TeamID
		}},
		{MatchedByAccount, func(m switchmodels.BindingMatch, in *switchmodels.IncomingMessage) bool {
			return m.Channel == in.Channel && m.AccountID != "" && m.AccountID != "*" &&
				m.AccountID == in.AccountID && m.Peer == "" && m.GuildID == "" && m.TeamID == ""
		}},
		{MatchedByChannel, func(m switchmodels.BindingMatch, in *switchmodels.IncomingMessage) bool {
			return m.Channel == in.Channel && (m.AccountID == "" || m.AccountID == "*") &&
				m.Peer == "" && m.GuildID == "" && m.TeamID == ""
		}},
	}

	for _, tier := range tiers {
		if agentID, ok := r.bestInTier(tier.pred, in); ok {
			if r.Metrics != nil {
				r.Metrics.RecordRoutingResolution(string(tier.matched))
			}
			return Resolution{AgentID: agentID, MatchedBy: tier.matched}
		}
	}
	if r.Metrics != nil {
		r.Metrics.RecordRoutingResolution(string(MatchedByDefault))
	}
	return Resolution{AgentID: defaultAgentID, MatchedBy: MatchedByDefault}
}

func (r *Router) bestInTier(pred tierPredicate, in *switchmodels.IncomingMessage) (string, bool) {
	var candidates []*switchmodels.Binding
	for _, b := range r.bindings {
		if pred(b.Match, in) {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return r.seq[candidates[i].ID] < r.seq[candidates[j].ID]
	})
	return candidates[0].AgentID, true
}
