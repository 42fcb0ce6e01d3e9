package agent

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed prompts/*.md
var promptFS embed.FS

var promptFiles = map[string]string{
	"CodeQuality":   "prompts/code_quality.md",
	"TestQuality":   "prompts/test_quality.md",
	"Security":      "prompts/security.md",
	"Duplication":   "prompts/duplication.md",
	"Complexity":    "prompts/complexity.md",
	"Documentation": "prompts/documentation.md",
	"Priority":      "prompts/priority.md",
}

// SystemPrompt returns the embedded system prompt for a step.
func SystemPrompt(step string) (string, error) {
	path, ok := promptFiles[step]
	if !ok {
		return "", fmt.Errorf("no prompt for step %s", step)
	}
	data, err := promptFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
