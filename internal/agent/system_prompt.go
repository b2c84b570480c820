package agent

import (
	"strings"

	"github.com/relaymesh/switchboard/internal/switchmodels"
	"github.com/relaymesh/switchboard/internal/tools"
)

// defaultSystemPrompt is used when an AgentConfig has no SystemPrompt set.
const defaultSystemPrompt = "You are a helpful assistant operating inside a multi-channel control plane. Use the available tools when they help answer the request."

// ComposeSystemPrompt builds the session's first transcript entry: the
// agent's configured prompt (or the built-in default), an auto-generated
// catalogue of available tools, and an optional caller-provided prompt
// prepended ahead of both — used for subagent context, per spec.md §4.4.
func ComposeSystemPrompt(agentCfg switchmodels.AgentConfig, available []tools.Tool, extraSystemPrompt string) string {
	var b strings.Builder

	if extraSystemPrompt != "" {
		b.WriteString(extraSystemPrompt)
		b.WriteString("\n\n")
	}

	if agentCfg.SystemPrompt != "" {
		b.WriteString(agentCfg.SystemPrompt)
	} else {
		b.WriteString(defaultSystemPrompt)
	}

	b.WriteString("\n\n<available_skills>\n")
	if len(available) == 0 {
		b.WriteString("(none registered)\n")
	}
	for _, t := range available {
		b.WriteString("- ")
		b.WriteString(t.Name())
		b.WriteString(": ")
		b.WriteString(t.Description())
		b.WriteString("\n")
	}
	b.WriteString("</available_skills>")

	return b.String()
}
