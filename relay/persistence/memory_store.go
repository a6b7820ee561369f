package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskrelay/taskrelay/relay"
	"github.com/taskrelay/taskrelay/types"
)

// MemoryStore is the in-process Backend used by tests and single-node
// development runs. All methods are safe for concurrent use.
type MemoryStore struct {
	mu            sync.RWMutex
	collaborators map[string]*relay.Collaborator
	tasks         map[string]*relay.Task
	activity      map[string][]relay.ActivityEntry
	logger        *zap.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		collaborators: make(map[string]*relay.Collaborator),
		tasks:         make(map[string]*relay.Task),
		activity:      make(map[string][]relay.ActivityEntry),
		logger:        logger.With(zap.String("component", "memory_store")),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// =============================================================================
// relay.Ledger
// =============================================================================

func (s *MemoryStore) RankOf(_ context.Context, collaboratorID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rankOfLocked(collaboratorID)
}

func (s *MemoryStore) rankOfLocked(collaboratorID string) (int, error) {
	c, ok := s.collaborators[collaboratorID]
	if !ok {
		return 0, relay.ErrUnknownCollaborator
	}
	if !c.Ranked() {
		return 0, relay.ErrUnranked
	}
	return *c.Sequence, nil
}

func (s *MemoryStore) NextAfter(_ context.Context, rank int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextAfterLocked(rank)
}

func (s *MemoryStore) nextAfterLocked(rank int) (string, error) {
	for _, c := range s.collaborators {
		if c.Ranked() && *c.Sequence == rank+1 {
			return c.ID, nil
		}
	}
	return "", relay.ErrEndOfChain
}

func (s *MemoryStore) Chain(_ context.Context) ([]relay.Collaborator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := make([]relay.Collaborator, 0, len(s.collaborators))
	for _, c := range s.collaborators {
		if c.Ranked() {
			chain = append(chain, *c)
		}
	}
	sort.Slice(chain, func(i, j int) bool { return *chain[i].Sequence < *chain[j].Sequence })
	return chain, nil
}

func (s *MemoryStore) Reorder(_ context.Context, orderedIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ranked := make(map[string]*relay.Collaborator)
	for _, c := range s.collaborators {
		if c.Ranked() {
			ranked[c.ID] = c
		}
	}
	if len(orderedIDs) != len(ranked) {
		return relay.ErrInvalidReorder
	}
	seen := make(map[string]struct{}, len(orderedIDs))
	for _, id := range orderedIDs {
		if _, ok := ranked[id]; !ok {
			return relay.ErrInvalidReorder
		}
		if _, dup := seen[id]; dup {
			return relay.ErrInvalidReorder
		}
		seen[id] = struct{}{}
	}
	for i, id := range orderedIDs {
		seq := i + 1
		ranked[id].Sequence = &seq
		ranked[id].UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) Insert(_ context.Context, collaboratorID string, atSeq int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collaborators[collaboratorID]
	if !ok {
		return relay.ErrUnknownCollaborator
	}
	if c.Sequence != nil {
		return relay.ErrDuplicateInsert
	}
	if c.Role != types.RoleCollaborator {
		return relay.ErrUnranked
	}

	size := 0
	for _, m := range s.collaborators {
		if m.Ranked() {
			size++
		}
	}
	if atSeq < 1 {
		atSeq = 1
	}
	if atSeq > size+1 {
		atSeq = size + 1
	}

	for _, m := range s.collaborators {
		if m.Ranked() && *m.Sequence >= atSeq {
			seq := *m.Sequence + 1
			m.Sequence = &seq
		}
	}
	seq := atSeq
	c.Sequence = &seq
	c.UpdatedAt = time.Now()
	return nil
}

// =============================================================================
// relay.TransferStore
// =============================================================================

// Transact serializes the mutation under the write lock and snapshots the
// task table first, so a failing fn leaves the store untouched.
func (s *MemoryStore) Transact(ctx context.Context, fn func(view relay.TransferView) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]*relay.Task, len(s.tasks))
	for id, t := range s.tasks {
		cp := *t
		cp.Checklist = append([]relay.ChecklistItem(nil), t.Checklist...)
		snapshot[id] = &cp
	}

	if err := fn(&memoryTxView{store: s}); err != nil {
		s.tasks = snapshot
		return err
	}
	return nil
}

// memoryTxView reads and writes directly against the locked store.
type memoryTxView struct {
	store *MemoryStore
}

func (v *memoryTxView) RankOf(_ context.Context, id string) (int, error) {
	return v.store.rankOfLocked(id)
}

func (v *memoryTxView) NextAfter(_ context.Context, rank int) (string, error) {
	return v.store.nextAfterLocked(rank)
}

func (v *memoryTxView) GetTask(_ context.Context, taskID string) (*relay.Task, error) {
	return v.store.getTaskLocked(taskID)
}

func (v *memoryTxView) UpdateTaskHolder(_ context.Context, taskID string, version int64, holderID string, status relay.TaskStatus) (*relay.Task, error) {
	t, ok := v.store.tasks[taskID]
	if !ok || t.Version != version {
		return nil, relay.ErrVersionConflict
	}
	t.HolderID = holderID
	t.Status = status
	t.Version = version + 1
	t.UpdatedAt = time.Now()
	return v.store.getTaskLocked(taskID)
}

// =============================================================================
// TaskStore
// =============================================================================

func (s *MemoryStore) CreateTask(_ context.Context, task *relay.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = relay.TaskStatusPending
	}
	if task.Version == 0 {
		task.Version = 1
	}
	for i := range task.Checklist {
		if task.Checklist[i].ID == "" {
			task.Checklist[i].ID = uuid.New().String()
		}
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now

	cp := *task
	cp.Checklist = append([]relay.ChecklistItem(nil), task.Checklist...)
	s.tasks[task.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, taskID string) (*relay.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTaskLocked(taskID)
}

func (s *MemoryStore) getTaskLocked(taskID string) (*relay.Task, error) {
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, relay.ErrTaskNotFound
	}
	cp := *t
	cp.Checklist = append([]relay.ChecklistItem(nil), t.Checklist...)
	return &cp, nil
}

func (s *MemoryStore) ListTasks(_ context.Context, filter TaskFilter) ([]*relay.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*relay.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.HolderID != "" && t.HolderID != filter.HolderID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		cp := *t
		cp.Checklist = append([]relay.ChecklistItem(nil), t.Checklist...)
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *MemoryStore) UpdateTaskDetails(_ context.Context, taskID, title, description string) (*relay.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, relay.ErrTaskNotFound
	}
	t.Title = title
	t.Description = description
	t.UpdatedAt = time.Now()
	return s.getTaskLocked(taskID)
}

func (s *MemoryStore) AddChecklistItem(_ context.Context, taskID, text string) (*relay.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, relay.ErrTaskNotFound
	}
	t.Checklist = append(t.Checklist, relay.ChecklistItem{
		ID:   uuid.New().String(),
		Text: text,
	})
	t.UpdatedAt = time.Now()
	return s.getTaskLocked(taskID)
}

func (s *MemoryStore) SetChecklistItemDone(_ context.Context, taskID, itemID string, done bool) (*relay.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, relay.ErrTaskNotFound
	}
	for i := range t.Checklist {
		if t.Checklist[i].ID == itemID {
			t.Checklist[i].Completed = done
			t.UpdatedAt = time.Now()
			return s.getTaskLocked(taskID)
		}
	}
	return nil, relay.ErrTaskNotFound
}

func (s *MemoryStore) CompleteTask(_ context.Context, taskID string) (*relay.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, relay.ErrTaskNotFound
	}
	t.Status = relay.TaskStatusCompleted
	t.Version++
	t.UpdatedAt = time.Now()
	return s.getTaskLocked(taskID)
}

func (s *MemoryStore) DeleteTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; !ok {
		return relay.ErrTaskNotFound
	}
	delete(s.tasks, taskID)
	delete(s.activity, taskID)
	return nil
}

// =============================================================================
// CollaboratorStore
// =============================================================================

func (s *MemoryStore) CreateCollaborator(_ context.Context, c *relay.Collaborator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Role == types.RoleAdmin {
		c.Sequence = nil
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	cp := *c
	s.collaborators[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCollaborator(_ context.Context, id string) (*relay.Collaborator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collaborators[id]
	if !ok {
		return nil, relay.ErrUnknownCollaborator
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListCollaborators(_ context.Context) ([]*relay.Collaborator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*relay.Collaborator, 0, len(s.collaborators))
	for _, c := range s.collaborators {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Ranked() && b.Ranked():
			return *a.Sequence < *b.Sequence
		case a.Ranked():
			return true
		case b.Ranked():
			return false
		default:
			return a.DisplayName < b.DisplayName
		}
	})
	return out, nil
}

func (s *MemoryStore) RenameCollaborator(_ context.Context, id, displayName string) (*relay.Collaborator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collaborators[id]
	if !ok {
		return nil, relay.ErrUnknownCollaborator
	}
	c.DisplayName = displayName
	c.UpdatedAt = time.Now()
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) DeleteCollaborator(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collaborators[id]
	if !ok {
		return relay.ErrUnknownCollaborator
	}
	removed := c.Sequence
	delete(s.collaborators, id)

	if removed != nil {
		for _, m := range s.collaborators {
			if m.Ranked() && *m.Sequence > *removed {
				seq := *m.Sequence - 1
				m.Sequence = &seq
			}
		}
	}
	return nil
}

// =============================================================================
// relay.ActivitySink
// =============================================================================

func (s *MemoryStore) Append(_ context.Context, entry relay.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	s.activity[entry.TaskID] = append(s.activity[entry.TaskID], entry)
	return nil
}

func (s *MemoryStore) ListByTask(_ context.Context, taskID string) ([]relay.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]relay.ActivityEntry(nil), s.activity[taskID]...), nil
}
