package http

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/prreview/internal/domain"
	"github.com/xiaot623/gogo/prreview/internal/reviewio"
)

// CreateReviewResponse is returned by POST /v1/reviews.
type CreateReviewResponse struct {
	ExecutionID string `json:"execution_id"`
}

// CreateReview validates a review request and starts an execution.
func (h *Handler) CreateReview(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
	}
	req, err := reviewio.DecodeRequest(body)
	if err != nil {
		return writeError(c, err)
	}

	executionID, err := h.svc.Submit(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, CreateReviewResponse{ExecutionID: executionID})
}

// ListExecutionsResponse is returned by GET /v1/executions.
type ListExecutionsResponse struct {
	Executions []domain.Execution `json:"executions"`
}

// ListExecutions lists executions, optionally filtered by status.
func (h *Handler) ListExecutions(c echo.Context) error {
	filter := domain.ExecutionFilter{Status: domain.ExecutionStatus(c.QueryParam("status"))}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit", Field: "limit"})
		}
		filter.Limit = limit
	}

	execs, err := h.svc.ListExecutions(c.Request().Context(), filter)
	if err != nil {
		return writeError(c, err)
	}
	if execs == nil {
		execs = []domain.Execution{}
	}
	return c.JSON(http.StatusOK, ListExecutionsResponse{Executions: execs})
}

// GetExecution returns one execution.
func (h *Handler) GetExecution(c echo.Context) error {
	exec, err := h.svc.GetExecution(c.Request().Context(), c.Param("execution_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, exec)
}

// EventsResponse is returned by GET /v1/executions/:execution_id/events.
type EventsResponse struct {
	ExecutionID string         `json:"execution_id"`
	Events      []domain.Event `json:"events"`
}

// GetExecutionEvents returns the journal of an execution. after_seq skips
// events already seen.
func (h *Handler) GetExecutionEvents(c echo.Context) error {
	executionID := c.Param("execution_id")
	var afterSeq int64
	if v := c.QueryParam("after_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid after_seq", Field: "after_seq"})
		}
		afterSeq = n
	}

	events, err := h.svc.Events(c.Request().Context(), executionID, afterSeq)
	if err != nil {
		return writeError(c, err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return c.JSON(http.StatusOK, EventsResponse{ExecutionID: executionID, Events: events})
}

// WaitExecution blocks until the execution finishes or timeout_ms passes.
func (h *Handler) WaitExecution(c echo.Context) error {
	timeout := defaultWaitTimeout
	if v := c.QueryParam("timeout_ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid timeout_ms", Field: "timeout_ms"})
		}
		timeout = time.Duration(ms) * time.Millisecond
	}
	if timeout > maxWaitTimeout {
		timeout = maxWaitTimeout
	}

	resp, err := h.svc.AwaitResult(c.Request().Context(), c.Param("execution_id"), timeout)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// CancelExecution requests cancellation of an execution.
func (h *Handler) CancelExecution(c echo.Context) error {
	exec, err := h.svc.Cancel(c.Request().Context(), c.Param("execution_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, exec)
}

// Dashboard returns statistics over completed reviews.
func (h *Handler) Dashboard(c echo.Context) error {
	d, err := h.svc.Dashboard(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, d)
}
