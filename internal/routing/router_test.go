package routing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/switchboard/internal/switchmodels"
)

func binding(id, agentID string, match switchmodels.BindingMatch, priority int) *switchmodels.Binding {
	return &switchmodels.Binding{ID: id, AgentID: agentID, Match: match, Priority: priority}
}

func TestResolve_PeerBeatsGuildBeatsTeamBeatsAccountBeatsChannelDefault(t *testing.T) {
	r := NewRouter([]*switchmodels.Binding{
		binding("b-channel", "agent-channel", switchmodels.BindingMatch{Channel: "discord"}, 10),
		binding("b-account", "agent-account", switchmodels.BindingMatch{Channel: "discord", AccountID: "acc1"}, 10),
		binding("b-team", "agent-team", switchmodels.BindingMatch{Channel: "discord", TeamID: "team1"}, 10),
		binding("b-guild", "agent-guild", switchmodels.BindingMatch{Channel: "discord", GuildID: "guild1"}, 10),
		binding("b-peer", "agent-peer", switchmodels.BindingMatch{Channel: "discord", Peer: "peer1"}, 10),
	})

	in := &switchmodels.IncomingMessage{
		Channel: "discord", AccountID: "acc1", Peer: "peer1", GuildID: "guild1", TeamID: "team1",
	}
	res := r.Resolve(in, "default-agent")
	require.Equal(t, "agent-peer", res.AgentID)
	require.Equal(t, MatchedByPeer, res.MatchedBy)

	// Remove peer binding, guild should win next.
	r.Remove("b-peer")
	res = r.Resolve(in, "default-agent")
	require.Equal(t, "agent-guild", res.AgentID)
	require.Equal(t, MatchedByGuild, res.MatchedBy)
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	r := NewRouter(nil)
	res := r.Resolve(&switchmodels.IncomingMessage{Channel: "slack"}, "default-agent")
	require.Equal(t, "default-agent", res.AgentID)
	require.Equal(t, MatchedByDefault, res.MatchedBy)
}

func TestResolve_ChannelDefaultOverriddenByAccount(t *testing.T) {
	r := NewRouter([]*switchmodels.Binding{
		binding("b-default", "agent-default", switchmodels.BindingMatch{Channel: "telegram"}, 5),
		binding("b-acc", "agent-acc", switchmodels.BindingMatch{Channel: "telegram", AccountID: "noisy-peer"}, 5),
	})
	res := r.Resolve(&switchmodels.IncomingMessage{Channel: "telegram", AccountID: "noisy-peer"}, "fallback")
	require.Equal(t, "agent-acc", res.AgentID)
	require.Equal(t, MatchedByAccount, res.MatchedBy)

	res = r.Resolve(&switchmodels.IncomingMessage{Channel: "telegram", AccountID: "other"}, "fallback")
	require.Equal(t, "agent-default", res.AgentID)
	require.Equal(t, MatchedByChannel, res.MatchedBy)
}

func TestResolve_LowestPriorityNumberWinsWithinTier(t *testing.T) {
	r := NewRouter([]*switchmodels.Binding{
		binding("b-low-prio-num", "agent-wins", switchmodels.BindingMatch{Channel: "discord", Peer: "p1"}, 1),
		binding("b-high-prio-num", "agent-loses", switchmodels.BindingMatch{Channel: "discord", Peer: "p1"}, 99),
	})
	res := r.Resolve(&switchmodels.IncomingMessage{Channel: "discord", Peer: "p1"}, "default")
	require.Equal(t, "agent-wins", res.AgentID)
}

func TestResolve_TiesBreakByInsertionOrder(t *testing.T) {
	r := NewRouter(nil)
	r.Add(binding("b-first", "agent-first", switchmodels.BindingMatch{Channel: "discord", Peer: "p1"}, 5))
	r.Add(binding("b-second", "agent-second", switchmodels.BindingMatch{Channel: "discord", Peer: "p1"}, 5))

	res := r.Resolve(&switchmodels.IncomingMessage{Channel: "discord", Peer: "p1"}, "default")
	require.Equal(t, "agent-first", res.AgentID)
}

func TestResolve_ChannelIsolation(t *testing.T) {
	r := NewRouter([]*switchmodels.Binding{
		binding("b-slack-peer", "agent-slack", switchmodels.BindingMatch{Channel: "slack", Peer: "p1"}, 1),
	})
	res := r.Resolve(&switchmodels.IncomingMessage{Channel: "discord", Peer: "p1"}, "default")
	require.Equal(t, "default", res.AgentID)
	require.Equal(t, MatchedByDefault, res.MatchedBy)
}

func TestAddReplacesExistingBindingByID(t *testing.T) {
	r := NewRouter([]*switchmodels.Binding{
		binding("b1", "agent-a", switchmodels.BindingMatch{Channel: "discord", Peer: "p1"}, 5),
	})
	r.Add(binding("b1", "agent-b", switchmodels.BindingMatch{Channel: "discord", Peer: "p1"}, 5))
	require.Len(t, r.List(), 1)

	res := r.Resolve(&switchmodels.IncomingMessage{Channel: "discord", Peer: "p1"}, "default")
	require.Equal(t, "agent-b", res.AgentID)
}
