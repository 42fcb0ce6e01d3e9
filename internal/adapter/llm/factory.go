package llm

import (
	"log"
	"strings"
	"time"
)

const (
	// ModeMock selects the deterministic MockClient.
	ModeMock = "mock"
	// ModeProduction selects the HTTP Client.
	ModeProduction = "production"
)

// NewLLMClient creates an LLM client for the given mode.
// Mode "mock" returns a MockClient; anything else returns a real Client.
func NewLLMClient(mode, baseURL, apiKey string, timeout time.Duration) LLMClient {
	if strings.EqualFold(mode, ModeMock) {
		log.Println("INFO: LLM_MODE=mock, using mock LLM client")
		return NewMockClient()
	}

	return NewClient(baseURL, apiKey, timeout)
}
