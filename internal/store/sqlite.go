package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"github.com/xiaot623/gogo/prreview/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			request TEXT NOT NULL,
			steps TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			started_at DATETIME,
			completed_at DATETIME,
			cancel_requested INTEGER NOT NULL DEFAULT 0,
			last_seq INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			step_name TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT,
			recorded_at DATETIME NOT NULL,
			UNIQUE (execution_id, seq),
			FOREIGN KEY (execution_id) REFERENCES executions(execution_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_step ON events(execution_id, step_name, seq)`,
		// A step succeeds at most once per execution.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_step_success
			ON events(execution_id, step_name) WHERE kind = 'step_succeeded'`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return s.ensureColumn("executions", "cancel_requested",
		"ALTER TABLE executions ADD COLUMN cancel_requested INTEGER NOT NULL DEFAULT 0")
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateExecution inserts a new execution in PENDING state.
func (s *SQLiteStore) CreateExecution(ctx context.Context, exec *domain.Execution) error {
	request, err := json.Marshal(exec.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	steps, err := json.Marshal(exec.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	if exec.Status == "" {
		exec.Status = domain.ExecutionStatusPending
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (execution_id, status, request, steps, created_at) VALUES (?, ?, ?, ?, ?)`,
		exec.ExecutionID, exec.Status, string(request), string(steps), exec.CreatedAt)
	return err
}

const executionColumns = `execution_id, status, request, steps, created_at, started_at, completed_at, cancel_requested, last_seq`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*domain.Execution, error) {
	var exec domain.Execution
	var request, steps string
	var startedAt, completedAt sql.NullTime
	var cancel int
	if err := row.Scan(&exec.ExecutionID, &exec.Status, &request, &steps, &exec.CreatedAt,
		&startedAt, &completedAt, &cancel, &exec.LastSeq); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(request), &exec.Request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request of %s: %w", exec.ExecutionID, err)
	}
	if err := json.Unmarshal([]byte(steps), &exec.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps of %s: %w", exec.ExecutionID, err)
	}
	if startedAt.Valid {
		exec.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}
	exec.CancelRequested = cancel != 0
	return &exec, nil
}

// GetExecution retrieves an execution by ID.
func (s *SQLiteStore) GetExecution(ctx context.Context, executionID string) (*domain.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE execution_id = ?`, executionID)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// ListExecutions lists executions, newest first.
func (s *SQLiteStore) ListExecutions(ctx context.Context, filter domain.ExecutionFilter) ([]domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions`
	args := []interface{}{}

	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, filter.Status)
	}

	query += ` ORDER BY created_at DESC, execution_id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	return s.queryExecutions(ctx, query, args...)
}

// ListIncompleteExecutions returns executions that have not reached a
// terminal state, oldest first.
func (s *SQLiteStore) ListIncompleteExecutions(ctx context.Context) ([]domain.Execution, error) {
	return s.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE status IN (?, ?) ORDER BY created_at ASC, execution_id ASC`,
		domain.ExecutionStatusPending, domain.ExecutionStatusRunning)
}

func (s *SQLiteStore) queryExecutions(ctx context.Context, query string, args ...interface{}) ([]domain.Execution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, *exec)
	}
	return executions, rows.Err()
}

// RequestCancel flags a non-terminal execution for cancellation. It reports
// whether the flag was set.
func (s *SQLiteStore) RequestCancel(ctx context.Context, executionID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE executions SET cancel_requested = 1 WHERE execution_id = ? AND status IN (?, ?)`,
		executionID, domain.ExecutionStatusPending, domain.ExecutionStatusRunning)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AppendEvent appends one event to an execution's journal. The event's Seq
// must be exactly one past the last recorded sequence number. The execution
// projection (status, timestamps, last_seq) is updated in the same
// transaction.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *domain.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lastSeq int64
	var status domain.ExecutionStatus
	err = tx.QueryRowContext(ctx,
		`SELECT last_seq, status FROM executions WHERE execution_id = ?`,
		event.ExecutionID).Scan(&lastSeq, &status)
	if err == sql.ErrNoRows {
		return domain.ErrExecutionNotFound
	}
	if err != nil {
		return err
	}
	if status.IsTerminal() {
		return domain.ErrExecutionTerminal
	}
	if event.Seq != lastSeq+1 {
		return &domain.OutOfOrderEventError{ExecutionID: event.ExecutionID, Expected: lastSeq + 1, Got: event.Seq}
	}

	if event.Kind == domain.EventKindStepSucceeded {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM events WHERE execution_id = ? AND step_name = ? AND kind = ?`,
			event.ExecutionID, event.StepName, domain.EventKindStepSucceeded).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrDuplicateOutcome
		}
	}

	if event.EventID == "" {
		event.EventID = "evt_" + ulid.Make().String()
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now().UTC()
	}
	if event.StepName == "" {
		event.StepName = domain.ExecutionStep
	}
	var payload sql.NullString
	if event.Payload != nil {
		payload = sql.NullString{String: string(event.Payload), Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (event_id, execution_id, seq, step_name, kind, payload, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.ExecutionID, event.Seq, event.StepName, event.Kind, payload, event.RecordedAt); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	switch {
	case event.Kind.IsTerminal():
		_, err = tx.ExecContext(ctx,
			`UPDATE executions SET last_seq = ?, status = ?, completed_at = ? WHERE execution_id = ?`,
			event.Seq, event.Kind.Status(), event.RecordedAt, event.ExecutionID)
	case event.Kind == domain.EventKindStepStarted:
		_, err = tx.ExecContext(ctx,
			`UPDATE executions SET last_seq = ?, status = ?, started_at = COALESCE(started_at, ?) WHERE execution_id = ?`,
			event.Seq, domain.ExecutionStatusRunning, event.RecordedAt, event.ExecutionID)
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE executions SET last_seq = ? WHERE execution_id = ?`,
			event.Seq, event.ExecutionID)
	}
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	return tx.Commit()
}

// ReadEvents returns the full journal of an execution in sequence order.
func (s *SQLiteStore) ReadEvents(ctx context.Context, executionID string) ([]domain.Event, error) {
	return s.ReadEventsAfter(ctx, executionID, 0)
}

// ReadEventsAfter returns the events with seq greater than afterSeq.
func (s *SQLiteStore) ReadEventsAfter(ctx context.Context, executionID string, afterSeq int64) ([]domain.Event, error) {
	return s.queryEvents(ctx,
		`SELECT event_id, execution_id, seq, step_name, kind, payload, recorded_at
		 FROM events WHERE execution_id = ? AND seq > ? ORDER BY seq ASC`,
		executionID, afterSeq)
}

// LatestOutcome returns the most recent terminal event of a step: its
// success, or a failure that was not followed by a scheduled retry. It
// returns nil when the step has no outcome yet.
func (s *SQLiteStore) LatestOutcome(ctx context.Context, executionID, stepName string) (*domain.Event, error) {
	events, err := s.queryEvents(ctx,
		`SELECT event_id, execution_id, seq, step_name, kind, payload, recorded_at
		 FROM events WHERE execution_id = ? AND step_name = ? ORDER BY seq ASC`,
		executionID, stepName)
	if err != nil {
		return nil, err
	}

	var outcome *domain.Event
	for i := range events {
		switch events[i].Kind {
		case domain.EventKindStepSucceeded, domain.EventKindStepFailed:
			outcome = &events[i]
		case domain.EventKindStepRetryScheduled, domain.EventKindStepStarted:
			outcome = nil
		}
	}
	return outcome, nil
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...interface{}) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.ExecutionID, &event.Seq, &event.StepName,
			&event.Kind, &payload, &event.RecordedAt); err != nil {
			return nil, err
		}
		if payload.Valid {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// ListCompletedResponses returns the final responses of all completed
// executions, oldest first.
func (s *SQLiteStore) ListCompletedResponses(ctx context.Context) ([]domain.ReviewResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE kind = ? ORDER BY recorded_at ASC`,
		domain.EventKindExecutionCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var responses []domain.ReviewResponse
	for rows.Next() {
		var payload sql.NullString
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		if !payload.Valid {
			continue
		}
		var p domain.ExecutionCompletedPayload
		if err := json.Unmarshal([]byte(payload.String), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal completion payload: %w", err)
		}
		responses = append(responses, p.Response)
	}
	return responses, rows.Err()
}

// IsNotFound reports whether err means the execution does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrExecutionNotFound)
}
