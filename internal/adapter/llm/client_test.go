package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCreateChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("unexpected authorization header: %q", got)
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.ResponseFormat["type"] != "json_object" {
			t.Fatalf("expected json_object response format, got %v", req.ResponseFormat)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt","choices":[{"index":0,"message":{"role":"assistant","content":"{}"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "sk-test", time.Second)
	resp, err := client.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model:          "gpt",
		Messages:       []ChatMessage{{Role: "user", Content: "hello"}},
		ResponseFormat: map[string]interface{}{"type": "json_object"},
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt", resp.Model)
	assert.Equal(t, "{}", resp.Content())
}

func TestClientStatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		temporary bool
		message   string
	}{
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad","type":"invalid_request_error"}}`, false, "bad"},
		{"unauthorized", http.StatusUnauthorized, `nope`, false, "nope"},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`, true, "slow down"},
		{"server error", http.StatusBadGateway, `upstream down`, true, "upstream down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			_, err := NewClient(server.URL, "", time.Second).CreateChatCompletion(context.Background(), &ChatCompletionRequest{Model: "gpt"})
			var se *StatusError
			require.True(t, errors.As(err, &se), "expected StatusError, got %v", err)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.temporary, se.Temporary())
			assert.Contains(t, se.Error(), tt.message)
		})
	}
}

func TestClientTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(url, "", time.Second).CreateChatCompletion(context.Background(), &ChatCompletionRequest{Model: "gpt"})
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
	assert.True(t, strings.Contains(err.Error(), "failed to send request"))
}

func TestMockClientRecognisesReviewer(t *testing.T) {
	client := NewMockClient()
	resp, err := client.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []ChatMessage{
			{Role: "system", Content: "You are the Security reviewer for pull requests."},
			{Role: "user", Content: "diff"},
		},
	})
	require.NoError(t, err)

	var verdict map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resp.Content()), &verdict))
	assert.Equal(t, "Security", verdict["stepName"])
	assert.Equal(t, "APPROVE", verdict["recommendation"])

	resp, err = client.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Messages: []ChatMessage{{Role: "system", Content: "unrelated"}},
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Content(), "REQUEST_CHANGES")
}

func TestNewLLMClient(t *testing.T) {
	_, isMock := NewLLMClient("MOCK", "", "", time.Second).(*MockClient)
	assert.True(t, isMock)
	_, isHTTP := NewLLMClient(ModeProduction, "http://localhost", "k", time.Second).(*Client)
	assert.True(t, isHTTP)
}
