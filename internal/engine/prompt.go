package engine

import (
	"strings"

	"github.com/xela07ax/swarm-governor/internal/connectors"
)

const DefaultSystemPrompt = "You are the orchestrator of an agent swarm acting on behalf of one principal.\n" +
	"You coordinate agent activity and decide what should be done next."

const responseFormat = `## Response Format

Analyze the input and respond with:

1. Decision: what should be done (1-2 sentences)
2. Action: one of [alert, email, api_call, code_execution, delegate, approval_request, log_only]
3. Details: action parameters as JSON

Example:
Decision: Alert the principal about the revenue opportunity
Action: alert
Details: {"urgency": "high", "message": "New $50K opportunity"}

If no action is needed, use Action: log_only`

// buildSystemPrompt собирает системный промпт из базового текста, памяти и подключённых навыков
func buildSystemPrompt(base string, skills []string, memories []connectors.Memory) string {
	if base == "" {
		base = DefaultSystemPrompt
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n## Current Context\n")

	if len(memories) > 0 {
		b.WriteString("\n### Relevant Memories\n")
		for _, m := range memories {
			b.WriteString("- [" + m.Category + "] " + m.Content + "\n")
		}
	}
	if len(skills) > 0 {
		b.WriteString("\n### Loaded Skills\n")
		for _, s := range skills {
			b.WriteString("- " + s + "\n")
		}
	}
	b.WriteString("\n")
	b.WriteString(responseFormat)
	return b.String()
}
