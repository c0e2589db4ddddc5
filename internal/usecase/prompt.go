package usecase

import (
	"regexp"
	"strings"

	"switchboard/internal/domain"
)

// Template placeholders understood by the classifier prompt.
const (
	PlaceholderAgentDescriptions = "AGENT_DESCRIPTIONS"
	PlaceholderHistory           = "HISTORY"
)

// DefaultClassifierTemplate is the routing prompt used when no template file
// is configured.
const DefaultClassifierTemplate = `You are AgentMatcher, a routing assistant. Your only job is to pick which of the
agents below should answer the user's latest message.

Available agents:
{{AGENT_DESCRIPTIONS}}

Conversation so far:
{{HISTORY}}

Rules:
- Choose the agent whose description and capabilities best fit the request.
- The selected agent must be one of the names listed above, spelled exactly.
- If the message is a short or ambiguous follow-up (for example "yes", "and tomorrow?",
  or a bare number), keep the agent that is already handling the conversation.
- Use "unknown" only when no listed agent could plausibly help. Never leave the
  selection empty.
- Confidence is a number between 0 and 1.
- Keep the reasoning to one sentence.`

var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// RenderTemplate substitutes {{NAME}} placeholders from vars. Placeholders
// without a value are left verbatim.
func RenderTemplate(tmpl string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(tok string) string {
		name := tok[2 : len(tok)-2]
		if v, ok := vars[name]; ok {
			return v
		}
		return tok
	})
}

// FormatAgentDescriptions renders one "name: description" line per agent.
func FormatAgentDescriptions(agents []domain.AgentDescriptor) string {
	lines := make([]string, 0, len(agents))
	for _, a := range agents {
		lines = append(lines, a.Name()+": "+a.Description())
	}
	return strings.Join(lines, "\n")
}

// FormatHistory renders one "role: content" line per message.
func FormatHistory(msgs []domain.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
