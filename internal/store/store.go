// Package store persists executions and their event journals.
package store

import (
	"context"

	"github.com/xiaot623/gogo/prreview/internal/domain"
)

// Store defines the persistence interface.
type Store interface {
	// Executions
	CreateExecution(ctx context.Context, exec *domain.Execution) error
	GetExecution(ctx context.Context, executionID string) (*domain.Execution, error)
	ListExecutions(ctx context.Context, filter domain.ExecutionFilter) ([]domain.Execution, error)
	ListIncompleteExecutions(ctx context.Context) ([]domain.Execution, error)
	RequestCancel(ctx context.Context, executionID string) (bool, error)

	// Journal
	AppendEvent(ctx context.Context, event *domain.Event) error
	ReadEvents(ctx context.Context, executionID string) ([]domain.Event, error)
	ReadEventsAfter(ctx context.Context, executionID string, afterSeq int64) ([]domain.Event, error)
	LatestOutcome(ctx context.Context, executionID, stepName string) (*domain.Event, error)

	// Reporting
	ListCompletedResponses(ctx context.Context) ([]domain.ReviewResponse, error)

	Close() error
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
