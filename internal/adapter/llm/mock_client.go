package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MockClient is a deterministic LLMClient. It recognises which reviewer is
// calling from the system prompt and returns a canned JSON verdict.
type MockClient struct{}

// NewMockClient creates a new mock LLM client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Ensure MockClient implements LLMClient interface.
var _ LLMClient = (*MockClient)(nil)

// cannedResponses is matched in order against the lowercased system prompt.
var cannedResponses = []struct {
	marker  string
	content string
}{
	{"priority reviewer", `{
  "stepName": "Priority",
  "riskLevel": "LOW",
  "recommendation": "APPROVE",
  "findings": [
    "P3: Consider extracting repeated validation into a helper [CodeQuality] - optional cleanup"
  ]
}`},
	{"test quality reviewer", `{
  "stepName": "TestQuality",
  "riskLevel": "LOW",
  "recommendation": "APPROVE",
  "findings": [
    "Tests cover main functionality",
    "Edge cases are tested",
    "Test names are descriptive"
  ]
}`},
	{"code quality reviewer", `{
  "stepName": "CodeQuality",
  "riskLevel": "LOW",
  "recommendation": "APPROVE",
  "findings": [
    "Function names are clear and descriptive",
    "Code follows single responsibility principle",
    "Error handling is present and appropriate"
  ]
}`},
	{"security reviewer", `{
  "stepName": "Security",
  "riskLevel": "LOW",
  "recommendation": "APPROVE",
  "findings": [
    "No hardcoded secrets detected",
    "Input validation is present",
    "No SQL injection vulnerabilities found"
  ]
}`},
	{"duplication reviewer", `{
  "stepName": "Duplication",
  "riskLevel": "LOW",
  "recommendation": "APPROVE",
  "findings": ["No meaningful duplication detected"]
}`},
	{"complexity reviewer", `{
  "stepName": "Complexity",
  "riskLevel": "LOW",
  "recommendation": "APPROVE",
  "findings": [
    "Cyclomatic Complexity: 4",
    "Cognitive Complexity: 5",
    "Primary driver: a single guard clause"
  ]
}`},
	{"documentation reviewer", `{
  "stepName": "Documentation",
  "riskLevel": "LOW",
  "recommendation": "APPROVE",
  "findings": ["Documentation is sufficient for this change"]
}`},
}

const unknownResponse = `{
  "stepName": "Unknown",
  "riskLevel": "MEDIUM",
  "recommendation": "REQUEST_CHANGES",
  "findings": ["Unable to determine reviewer type in mock mode"]
}`

// CreateChatCompletion returns the canned verdict for the calling reviewer.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	responseContent := m.generateMockResponse(req)

	return &ChatCompletionResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{
			{
				Index: 0,
				Message: &ChatMessage{
					Role:    "assistant",
					Content: responseContent,
				},
				FinishReason: "stop",
			},
		},
		Usage: &Usage{
			PromptTokens:     m.estimateTokens(req),
			CompletionTokens: len(responseContent) / 4,
			TotalTokens:      m.estimateTokens(req) + len(responseContent)/4,
		},
		SystemFingerprint: "mock-fp",
	}, nil
}

func (m *MockClient) generateMockResponse(req *ChatCompletionRequest) string {
	var system string
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			system = strings.ToLower(msg.Content)
			break
		}
	}
	for _, c := range cannedResponses {
		if strings.Contains(system, c.marker) {
			return c.content
		}
	}
	return unknownResponse
}

// estimateTokens provides a rough token count estimate.
func (m *MockClient) estimateTokens(req *ChatCompletionRequest) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	return total
}
