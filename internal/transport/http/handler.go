// Package http provides the HTTP API of the review engine.
package http

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/prreview/internal/domain"
	"github.com/xiaot623/gogo/prreview/internal/service"
)

const (
	defaultWaitTimeout = 60 * time.Second
	maxWaitTimeout     = 10 * time.Minute
)

// Handler handles HTTP requests.
type Handler struct {
	svc          *service.Service
	metrics      http.Handler
	pollInterval time.Duration
	upgrader     websocket.Upgrader
}

// NewHandler creates a new handler. metrics may be nil to disable /metrics.
func NewHandler(svc *service.Service, metrics http.Handler, pollInterval time.Duration) *Handler {
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	return &Handler{
		svc:          svc,
		metrics:      metrics,
		pollInterval: pollInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/reviews", h.CreateReview)

	e.GET("/v1/executions", h.ListExecutions)
	e.GET("/v1/executions/:execution_id", h.GetExecution)
	e.GET("/v1/executions/:execution_id/events", h.GetExecutionEvents)
	e.POST("/v1/executions/:execution_id/wait", h.WaitExecution)
	e.POST("/v1/executions/:execution_id/cancel", h.CancelExecution)
	e.GET("/v1/executions/:execution_id/stream", h.StreamExecution)

	e.GET("/v1/dashboard", h.Dashboard)

	if h.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.metrics))
	}
	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error       string                 `json:"error"`
	Field       string                 `json:"field,omitempty"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Status      domain.ExecutionStatus `json:"status,omitempty"`
	Step        string                 `json:"step,omitempty"`
	LastError   string                 `json:"last_error,omitempty"`
}

// writeError maps service errors onto HTTP statuses.
func writeError(c echo.Context, err error) error {
	var (
		validation *domain.ValidationError
		timeout    *domain.TimeoutError
		failed     *domain.ExecutionFailedError
		cancelled  *domain.ExecutionCancelledError
	)
	switch {
	case errors.As(err, &validation):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: validation.Message, Field: validation.Field})
	case errors.Is(err, domain.ErrExecutionNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "execution not found"})
	case errors.As(err, &timeout):
		return c.JSON(http.StatusGatewayTimeout, ErrorResponse{
			Error:       "execution did not finish in time",
			ExecutionID: timeout.ExecutionID,
			Status:      timeout.Status,
		})
	case errors.As(err, &failed):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:       failed.Error(),
			ExecutionID: failed.ExecutionID,
			Status:      domain.ExecutionStatusFailed,
			Step:        failed.Step,
			LastError:   failed.LastError,
		})
	case errors.As(err, &cancelled):
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:       cancelled.Error(),
			ExecutionID: cancelled.ExecutionID,
			Status:      domain.ExecutionStatusCancelled,
		})
	default:
		log.Printf("ERROR: %s %s: %v", c.Request().Method, c.Request().URL.Path, err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
