package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskrelay/taskrelay/types"
)

// fakeStore backs executor tests with a single-task transactional store.
// Transact snapshots the task and restores it when fn fails.
type fakeStore struct {
	ledger *stubLedger
	task   *Task
}

func (s *fakeStore) Transact(_ context.Context, fn func(view TransferView) error) error {
	var snapshot *Task
	if s.task != nil {
		cp := *s.task
		snapshot = &cp
	}
	if err := fn(&fakeView{store: s}); err != nil {
		s.task = snapshot
		return err
	}
	return nil
}

type fakeView struct {
	store *fakeStore
}

func (v *fakeView) RankOf(ctx context.Context, id string) (int, error) {
	return v.store.ledger.RankOf(ctx, id)
}

func (v *fakeView) NextAfter(ctx context.Context, rank int) (string, error) {
	return v.store.ledger.NextAfter(ctx, rank)
}

func (v *fakeView) GetTask(_ context.Context, taskID string) (*Task, error) {
	if v.store.task == nil || v.store.task.ID != taskID {
		return nil, ErrTaskNotFound
	}
	cp := *v.store.task
	return &cp, nil
}

func (v *fakeView) UpdateTaskHolder(_ context.Context, taskID string, version int64, holderID string, status TaskStatus) (*Task, error) {
	if v.store.task == nil || v.store.task.ID != taskID || v.store.task.Version != version {
		return nil, ErrVersionConflict
	}
	v.store.task.HolderID = holderID
	v.store.task.Status = status
	v.store.task.Version = version + 1
	cp := *v.store.task
	return &cp, nil
}

// memSink records appended entries.
type memSink struct {
	entries []ActivityEntry
	err     error
}

func (s *memSink) Append(_ context.Context, entry ActivityEntry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memSink) ListByTask(_ context.Context, taskID string) ([]ActivityEntry, error) {
	var out []ActivityEntry
	for _, e := range s.entries {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out, nil
}

func pendingTask() *Task {
	return &Task{
		ID:       "t1",
		Title:    "review draft",
		Status:   TaskStatusPending,
		HolderID: "alice",
		Version:  1,
	}
}

func nextHopRequest() TransferRequest {
	return TransferRequest{
		TaskID:         "t1",
		SourceHolderID: "alice",
		TargetHolderID: "bob",
		ActorID:        "alice",
	}
}

func TestExecuteActivatesPendingTask(t *testing.T) {
	store := &fakeStore{ledger: testLedger(), task: pendingTask()}
	sink := &memSink{}
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	exec := NewExecutor(store, sink, zap.NewNop(), WithClock(func() time.Time { return at }))

	result, err := exec.Execute(context.Background(), nextHopRequest(), types.RoleCollaborator)
	require.NoError(t, err)

	assert.Equal(t, "bob", result.Task.HolderID)
	assert.Equal(t, TaskStatusInProgress, result.Task.Status)
	assert.Equal(t, int64(2), result.Task.Version)
	assert.Empty(t, result.AuditWarning)

	require.Len(t, sink.entries, 1)
	entry := sink.entries[0]
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "t1", entry.TaskID)
	assert.Equal(t, "alice", entry.FromHolder)
	assert.Equal(t, "bob", entry.ToHolder)
	assert.Equal(t, "alice", entry.ActorID)
	assert.Equal(t, at, entry.Timestamp)
}

func TestExecuteKeepsInProgressStatus(t *testing.T) {
	task := pendingTask()
	task.Status = TaskStatusInProgress
	store := &fakeStore{ledger: testLedger(), task: task}
	exec := NewExecutor(store, &memSink{}, zap.NewNop())

	result, err := exec.Execute(context.Background(), nextHopRequest(), types.RoleCollaborator)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusInProgress, result.Task.Status)
}

func TestExecuteRefusesCompletedTask(t *testing.T) {
	task := pendingTask()
	task.Status = TaskStatusCompleted
	store := &fakeStore{ledger: testLedger(), task: task}
	sink := &memSink{}
	exec := NewExecutor(store, sink, zap.NewNop())

	_, err := exec.Execute(context.Background(), nextHopRequest(), types.RoleCollaborator)
	require.Error(t, err)
	assert.Equal(t, types.ErrTaskAlreadyCompleted, types.GetErrorCode(err))

	assert.Equal(t, "alice", store.task.HolderID)
	assert.Empty(t, sink.entries)
}

func TestExecuteUnknownTask(t *testing.T) {
	store := &fakeStore{ledger: testLedger()}
	exec := NewExecutor(store, &memSink{}, zap.NewNop())

	_, err := exec.Execute(context.Background(), nextHopRequest(), types.RoleCollaborator)
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestExecuteStaleSourceHolder(t *testing.T) {
	task := pendingTask()
	task.HolderID = "bob" // moved on since the request was built
	store := &fakeStore{ledger: testLedger(), task: task}
	exec := NewExecutor(store, &memSink{}, zap.NewNop())

	_, err := exec.Execute(context.Background(), nextHopRequest(), types.RoleCollaborator)
	require.Error(t, err)
	assert.Equal(t, types.ErrConcurrentModification, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestExecutePropagatesRejection(t *testing.T) {
	store := &fakeStore{ledger: testLedger(), task: pendingTask()}
	sink := &memSink{}
	exec := NewExecutor(store, sink, zap.NewNop())

	req := nextHopRequest()
	req.TargetHolderID = "carol" // skips bob

	_, err := exec.Execute(context.Background(), req, types.RoleCollaborator)
	require.Error(t, err)
	assert.Equal(t, types.ErrNotNextInSequence, types.GetErrorCode(err))

	// Rejection rolls back; nothing moved and nothing was audited.
	assert.Equal(t, "alice", store.task.HolderID)
	assert.Equal(t, int64(1), store.task.Version)
	assert.Empty(t, sink.entries)
}

func TestExecuteVersionConflict(t *testing.T) {
	store := &fakeStore{ledger: testLedger(), task: pendingTask()}
	conflicting := &conflictingStore{inner: store}
	exec := NewExecutor(conflicting, &memSink{}, zap.NewNop())

	_, err := exec.Execute(context.Background(), nextHopRequest(), types.RoleCollaborator)
	require.Error(t, err)
	assert.Equal(t, types.ErrConcurrentModification, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

// conflictingStore bumps the stored version between the read and the write.
type conflictingStore struct {
	inner *fakeStore
}

func (s *conflictingStore) Transact(ctx context.Context, fn func(view TransferView) error) error {
	return s.inner.Transact(ctx, func(view TransferView) error {
		return fn(&conflictingView{inner: view.(*fakeView)})
	})
}

type conflictingView struct {
	inner *fakeView
}

func (v *conflictingView) RankOf(ctx context.Context, id string) (int, error) {
	return v.inner.RankOf(ctx, id)
}

func (v *conflictingView) NextAfter(ctx context.Context, rank int) (string, error) {
	return v.inner.NextAfter(ctx, rank)
}

func (v *conflictingView) GetTask(ctx context.Context, taskID string) (*Task, error) {
	task, err := v.inner.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	// Competing transfer lands right after the read.
	v.inner.store.task.Version++
	return task, nil
}

func (v *conflictingView) UpdateTaskHolder(ctx context.Context, taskID string, version int64, holderID string, status TaskStatus) (*Task, error) {
	return v.inner.UpdateTaskHolder(ctx, taskID, version, holderID, status)
}

func TestExecuteAdminMovesAnywhere(t *testing.T) {
	task := pendingTask()
	task.HolderID = "carol"
	store := &fakeStore{ledger: testLedger(), task: task}
	exec := NewExecutor(store, &memSink{}, zap.NewNop())

	// Backward move by an admin who does not hold the task.
	result, err := exec.Execute(context.Background(), TransferRequest{
		TaskID:         "t1",
		SourceHolderID: "carol",
		TargetHolderID: "alice",
		ActorID:        "root",
	}, types.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "alice", result.Task.HolderID)
}

func TestExecuteAuditFailureWarnsButCommits(t *testing.T) {
	store := &fakeStore{ledger: testLedger(), task: pendingTask()}
	sink := &memSink{err: assert.AnError}
	exec := NewExecutor(store, sink, zap.NewNop())

	result, err := exec.Execute(context.Background(), nextHopRequest(), types.RoleCollaborator)
	require.NoError(t, err)

	// The transfer stands even though the audit entry was lost.
	assert.Equal(t, "bob", result.Task.HolderID)
	assert.NotEmpty(t, result.AuditWarning)
	assert.Equal(t, "bob", store.task.HolderID)
}
