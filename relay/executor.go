package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskrelay/taskrelay/types"
)

// TransferView is the consistent snapshot a transfer executes against.
// Reads and the conditional write all happen inside one storage transaction,
// so authorization and mutation cannot be separated by a concurrent reorder
// or a competing transfer.
type TransferView interface {
	LedgerReader

	// GetTask returns the task or ErrTaskNotFound.
	GetTask(ctx context.Context, taskID string) (*Task, error)

	// UpdateTaskHolder writes holder and status where the stored version
	// still matches. Returns the updated snapshot, or ErrVersionConflict
	// when the record changed underneath.
	UpdateTaskHolder(ctx context.Context, taskID string, version int64, holderID string, status TaskStatus) (*Task, error)
}

// TransferStore runs a function inside a single storage transaction.
// If fn returns an error the transaction rolls back and no partial mutation
// is visible.
type TransferStore interface {
	Transact(ctx context.Context, fn func(view TransferView) error) error
}

// TransferResult is the outcome of a successful transfer.
type TransferResult struct {
	Task *Task `json:"task"`

	// AuditWarning is set when the activity append failed. The transfer
	// itself committed; the caller should surface the warning, not fail.
	AuditWarning string `json:"audit_warning,omitempty"`
}

// Executor applies admitted transfers atomically.
type Executor struct {
	store   TransferStore
	sink    ActivitySink
	logger  *zap.Logger
	nowFn   func() time.Time
	newIDFn func() string
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithClock overrides the executor clock. Intended for tests.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.nowFn = now }
}

// NewExecutor creates an Executor on top of a transactional store and an
// activity sink.
func NewExecutor(store TransferStore, sink ActivitySink, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		store:   store,
		sink:    sink,
		logger:  logger.With(zap.String("component", "executor")),
		nowFn:   time.Now,
		newIDFn: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute validates the request and applies the holder change as a single
// atomic unit. The request is authorized against the transactional view, so
// there is no window between check and write. A transfer always activates a
// pending task; completed tasks refuse transfers.
func (e *Executor) Execute(ctx context.Context, req TransferRequest, actorRole types.Role) (*TransferResult, error) {
	var updated *Task

	err := e.store.Transact(ctx, func(view TransferView) error {
		task, err := view.GetTask(ctx, req.TaskID)
		if errors.Is(err, ErrTaskNotFound) {
			return types.NewError(types.ErrNotFound, "task not found").WithHTTPStatus(http.StatusNotFound)
		}
		if err != nil {
			return fmt.Errorf("load task %s: %w", req.TaskID, err)
		}

		if task.Status.IsTerminal() {
			return types.NewError(types.ErrTaskAlreadyCompleted,
				"a completed task cannot be re-routed")
		}

		// The request was built against a snapshot of the board. If the
		// holder moved on since, the premise is stale.
		if task.HolderID != req.SourceHolderID {
			return types.NewError(types.ErrConcurrentModification,
				"task holder changed since the request was made").WithRetryable(true)
		}

		authorizer := NewAuthorizer(view, e.logger)
		decision, err := authorizer.Authorize(ctx, req, actorRole)
		if err != nil {
			return fmt.Errorf("authorize transfer: %w", err)
		}
		if !decision.Admitted {
			return decision.Err()
		}

		status := task.Status
		if status == TaskStatusPending {
			status = TaskStatusInProgress
		}

		updated, err = view.UpdateTaskHolder(ctx, task.ID, task.Version, req.TargetHolderID, status)
		if errors.Is(err, ErrVersionConflict) {
			return types.NewError(types.ErrConcurrentModification,
				"task was modified by a concurrent transfer").WithRetryable(true)
		}
		if err != nil {
			return fmt.Errorf("update task %s: %w", task.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &TransferResult{Task: updated}

	// Audit append is best-effort and happens after commit: a rolled-back
	// transfer never leaves an entry, a failed append never undoes one.
	entry := ActivityEntry{
		ID:         e.newIDFn(),
		TaskID:     req.TaskID,
		FromHolder: req.SourceHolderID,
		ToHolder:   req.TargetHolderID,
		ActorID:    req.ActorID,
		Timestamp:  e.nowFn(),
	}
	if err := e.sink.Append(ctx, entry); err != nil {
		e.logger.Warn("activity append failed",
			zap.String("task_id", req.TaskID),
			zap.Error(err),
		)
		result.AuditWarning = "transfer committed but the activity entry was not recorded"
	}

	e.logger.Info("transfer executed",
		zap.String("task_id", req.TaskID),
		zap.String("from", req.SourceHolderID),
		zap.String("to", req.TargetHolderID),
		zap.String("actor", req.ActorID),
	)

	return result, nil
}
