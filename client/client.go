// Package client provides a Go client for the review engine HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/gogo/prreview/internal/domain"
)

const requestTimeout = 30 * time.Second

// Client is an HTTP client for the review engine.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new client. Calls other than AwaitResult are bounded
// by a 30 second timeout; AwaitResult is bounded by its own timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// errorResponse mirrors the server's error body.
type errorResponse struct {
	Error       string                 `json:"error"`
	Field       string                 `json:"field,omitempty"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Status      domain.ExecutionStatus `json:"status,omitempty"`
	Step        string                 `json:"step,omitempty"`
	LastError   string                 `json:"last_error,omitempty"`
}

// APIError is returned for unexpected server responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("review engine error [%d]: %s", e.StatusCode, e.Message)
}

// Submit starts a review and returns its execution ID.
func (c *Client) Submit(ctx context.Context, req *domain.ReviewRequest) (string, error) {
	var resp struct {
		ExecutionID string `json:"execution_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/reviews", req, http.StatusAccepted, &resp); err != nil {
		return "", err
	}
	return resp.ExecutionID, nil
}

// AwaitResult waits for an execution to finish. Failures come back as the
// same typed errors the engine uses: *domain.TimeoutError,
// *domain.ExecutionFailedError and *domain.ExecutionCancelledError.
func (c *Client) AwaitResult(ctx context.Context, executionID string, timeout time.Duration) (*domain.ReviewResponse, error) {
	path := "/v1/executions/" + url.PathEscape(executionID) + "/wait"
	if timeout > 0 {
		path += "?timeout_ms=" + strconv.FormatInt(timeout.Milliseconds(), 10)
	}
	var resp domain.ReviewResponse
	if err := c.doRaw(ctx, http.MethodPost, path, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Review submits a request and waits for its result.
func (c *Client) Review(ctx context.Context, req *domain.ReviewRequest, timeout time.Duration) (string, *domain.ReviewResponse, error) {
	id, err := c.Submit(ctx, req)
	if err != nil {
		return "", nil, err
	}
	resp, err := c.AwaitResult(ctx, id, timeout)
	return id, resp, err
}

// GetExecution returns an execution.
func (c *Client) GetExecution(ctx context.Context, executionID string) (*domain.Execution, error) {
	var exec domain.Execution
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+url.PathEscape(executionID), nil, http.StatusOK, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// Events returns the journal of an execution after afterSeq.
func (c *Client) Events(ctx context.Context, executionID string, afterSeq int64) ([]domain.Event, error) {
	path := "/v1/executions/" + url.PathEscape(executionID) + "/events"
	if afterSeq > 0 {
		path += "?after_seq=" + strconv.FormatInt(afterSeq, 10)
	}
	var resp struct {
		Events []domain.Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Cancel requests cancellation of an execution.
func (c *Client) Cancel(ctx context.Context, executionID string) (*domain.Execution, error) {
	var exec domain.Execution
	path := "/v1/executions/" + url.PathEscape(executionID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, nil, http.StatusAccepted, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (c *Client) do(ctx context.Context, method, path string, in interface{}, want int, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return c.doRaw(ctx, method, path, in, want, out)
}

func (c *Client) doRaw(ctx context.Context, method, path string, in interface{}, want int, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call review engine: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != want {
		return decodeError(resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	switch status {
	case http.StatusBadRequest:
		return &domain.ValidationError{Field: e.Field, Message: e.Error}
	case http.StatusNotFound:
		return domain.ErrExecutionNotFound
	case http.StatusGatewayTimeout:
		return &domain.TimeoutError{ExecutionID: e.ExecutionID, Status: e.Status}
	case http.StatusUnprocessableEntity:
		return &domain.ExecutionFailedError{ExecutionID: e.ExecutionID, Step: e.Step, LastError: e.LastError}
	case http.StatusConflict:
		return &domain.ExecutionCancelledError{ExecutionID: e.ExecutionID, Reason: e.Error}
	default:
		return &APIError{StatusCode: status, Message: e.Error}
	}
}
