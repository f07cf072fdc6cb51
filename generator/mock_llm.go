package generator

import (
	"context"
	"strings"
)

// MockLLM is an offline stand-in for local debugging; it never calls a model.
type MockLLM struct{}

func (m MockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	var sb strings.Builder
	sb.WriteString("# DDS Review (offline)\n\n")
	sb.WriteString("Generated without a model backend.\n\n")
	sb.WriteString("## Sources\n\n")
	for _, line := range strings.Split(prompt.User, "\n") {
		if name, ok := strings.CutPrefix(line, "===== "); ok {
			sb.WriteString("- ")
			sb.WriteString(strings.TrimSuffix(name, " ====="))
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n## Corpus\n\n")
	sb.WriteString("```\n")
	sb.WriteString(strings.TrimSpace(prompt.User))
	sb.WriteString("\n```\n")
	return sb.String(), nil
}
