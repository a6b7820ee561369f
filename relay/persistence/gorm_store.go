package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/taskrelay/taskrelay/relay"
	"github.com/taskrelay/taskrelay/types"
)

// collaboratorRecord is the GORM row for a collaborator account.
// Sequence is nullable; the unique index only constrains ranked members.
type collaboratorRecord struct {
	ID          string `gorm:"primaryKey;size:36"`
	DisplayName string `gorm:"size:255;not null"`
	Role        string `gorm:"size:16;not null;index"`
	Sequence    *int   `gorm:"uniqueIndex"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (collaboratorRecord) TableName() string { return "collaborators" }

// taskRecord is the GORM row for a task. Version backs the conditional
// holder/status write.
type taskRecord struct {
	ID          string `gorm:"primaryKey;size:36"`
	Title       string `gorm:"size:255;not null"`
	Description string `gorm:"type:text"`
	Status      string `gorm:"size:16;not null;index"`
	HolderID    string `gorm:"size:36;not null;index"`
	Version     int64  `gorm:"not null;default:1"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (taskRecord) TableName() string { return "tasks" }

type checklistItemRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	TaskID    string `gorm:"size:36;not null;index"`
	Position  int    `gorm:"not null"`
	Text      string `gorm:"size:512;not null"`
	Completed bool   `gorm:"not null;default:false"`
}

func (checklistItemRecord) TableName() string { return "checklist_items" }

type activityRecord struct {
	ID         string `gorm:"primaryKey;size:36"`
	TaskID     string `gorm:"size:36;not null;index"`
	FromHolder string `gorm:"size:36;not null"`
	ToHolder   string `gorm:"size:36;not null"`
	ActorID    string `gorm:"size:36;not null"`
	CreatedAt  time.Time
}

func (activityRecord) TableName() string { return "activity_log" }

// GormStore is the relational Backend. The zero value is not usable; create
// it with NewGormStore. GormStore also serves as the transactional view
// inside Transact, where db is the transaction handle.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore creates a relational store on an open GORM connection.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "gorm_store")),
	}
}

// AutoMigrate creates or updates the schema for all records. Production
// deployments run versioned migrations instead; this covers development
// and tests.
func (s *GormStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(
		&collaboratorRecord{},
		&taskRecord{},
		&checklistItemRecord{},
		&activityRecord{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Close is a no-op; the connection pool is owned by the caller.
func (s *GormStore) Close() error { return nil }

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// =============================================================================
// relay.Ledger
// =============================================================================

// RankOf returns the chain position of a collaborator.
func (s *GormStore) RankOf(ctx context.Context, collaboratorID string) (int, error) {
	var rec collaboratorRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", collaboratorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, relay.ErrUnknownCollaborator
	}
	if err != nil {
		return 0, fmt.Errorf("load collaborator %s: %w", collaboratorID, err)
	}
	if rec.Role != string(types.RoleCollaborator) || rec.Sequence == nil {
		return 0, relay.ErrUnranked
	}
	return *rec.Sequence, nil
}

// NextAfter returns the collaborator ranked exactly one position after rank.
func (s *GormStore) NextAfter(ctx context.Context, rank int) (string, error) {
	var rec collaboratorRecord
	err := s.db.WithContext(ctx).First(&rec, "sequence = ?", rank+1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", relay.ErrEndOfChain
	}
	if err != nil {
		return "", fmt.Errorf("load rank %d: %w", rank+1, err)
	}
	return rec.ID, nil
}

// Chain returns the ranked members ordered by sequence.
func (s *GormStore) Chain(ctx context.Context) ([]relay.Collaborator, error) {
	var recs []collaboratorRecord
	err := s.db.WithContext(ctx).
		Where("role = ? AND sequence IS NOT NULL", string(types.RoleCollaborator)).
		Order("sequence ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("load chain: %w", err)
	}
	chain := make([]relay.Collaborator, 0, len(recs))
	for _, rec := range recs {
		chain = append(chain, toCollaborator(rec))
	}
	return chain, nil
}

// Reorder atomically reassigns ranks 1..N. The listed set must equal the
// current chain membership exactly.
func (s *GormStore) Reorder(ctx context.Context, orderedIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current []collaboratorRecord
		if err := tx.Where("role = ? AND sequence IS NOT NULL", string(types.RoleCollaborator)).
			Find(&current).Error; err != nil {
			return fmt.Errorf("load chain: %w", err)
		}

		if len(orderedIDs) != len(current) {
			return relay.ErrInvalidReorder
		}
		members := make(map[string]struct{}, len(current))
		for _, rec := range current {
			members[rec.ID] = struct{}{}
		}
		seen := make(map[string]struct{}, len(orderedIDs))
		for _, id := range orderedIDs {
			if _, ok := members[id]; !ok {
				return relay.ErrInvalidReorder
			}
			if _, dup := seen[id]; dup {
				return relay.ErrInvalidReorder
			}
			seen[id] = struct{}{}
		}

		// Park every member on NULL first so the unique index never sees a
		// transient duplicate while ranks move around.
		if err := tx.Model(&collaboratorRecord{}).
			Where("role = ? AND sequence IS NOT NULL", string(types.RoleCollaborator)).
			Update("sequence", nil).Error; err != nil {
			return fmt.Errorf("clear ranks: %w", err)
		}
		for i, id := range orderedIDs {
			if err := tx.Model(&collaboratorRecord{}).
				Where("id = ?", id).
				Update("sequence", i+1).Error; err != nil {
				return fmt.Errorf("assign rank %d to %s: %w", i+1, id, err)
			}
		}
		return nil
	})
}

// Insert places a collaborator at the given 1-based position, shifting
// everyone at that position and beyond up by one.
func (s *GormStore) Insert(ctx context.Context, collaboratorID string, atSeq int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec collaboratorRecord
		err := tx.First(&rec, "id = ?", collaboratorID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return relay.ErrUnknownCollaborator
		}
		if err != nil {
			return fmt.Errorf("load collaborator %s: %w", collaboratorID, err)
		}
		if rec.Sequence != nil {
			return relay.ErrDuplicateInsert
		}
		if rec.Role != string(types.RoleCollaborator) {
			return relay.ErrUnranked
		}

		var size int64
		if err := tx.Model(&collaboratorRecord{}).
			Where("sequence IS NOT NULL").Count(&size).Error; err != nil {
			return fmt.Errorf("count chain: %w", err)
		}
		if atSeq < 1 {
			atSeq = 1
		}
		if atSeq > int(size)+1 {
			atSeq = int(size) + 1
		}

		// Two-phase shift through negative ranks; a single ascending UPDATE
		// would trip the unique index under immediate constraint checking.
		if err := tx.Model(&collaboratorRecord{}).
			Where("sequence >= ?", atSeq).
			Update("sequence", gorm.Expr("-(sequence + 1)")).Error; err != nil {
			return fmt.Errorf("shift ranks: %w", err)
		}
		if err := tx.Model(&collaboratorRecord{}).
			Where("sequence < 0").
			Update("sequence", gorm.Expr("-sequence")).Error; err != nil {
			return fmt.Errorf("restore ranks: %w", err)
		}

		if err := tx.Model(&collaboratorRecord{}).
			Where("id = ?", collaboratorID).
			Update("sequence", atSeq).Error; err != nil {
			return fmt.Errorf("insert at rank %d: %w", atSeq, err)
		}
		return nil
	})
}

// =============================================================================
// relay.TransferStore
// =============================================================================

// Transact runs fn inside a single database transaction. The view handed to
// fn reads and writes through the transaction handle, so authorization and
// the conditional task write share one atomic unit.
func (s *GormStore) Transact(ctx context.Context, fn func(view relay.TransferView) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, logger: s.logger})
	})
}

// UpdateTaskHolder writes holder and status where the stored version still
// matches, bumping the version. RowsAffected zero means the record changed
// underneath (or vanished); both surface as ErrVersionConflict.
func (s *GormStore) UpdateTaskHolder(ctx context.Context, taskID string, version int64, holderID string, status relay.TaskStatus) (*relay.Task, error) {
	res := s.db.WithContext(ctx).Model(&taskRecord{}).
		Where("id = ? AND version = ?", taskID, version).
		Updates(map[string]any{
			"holder_id": holderID,
			"status":    string(status),
			"version":   version + 1,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update task %s: %w", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, relay.ErrVersionConflict
	}
	return s.GetTask(ctx, taskID)
}

// =============================================================================
// TaskStore
// =============================================================================

// CreateTask persists a new task. Missing ids are generated; the status
// defaults to pending.
func (s *GormStore) CreateTask(ctx context.Context, task *relay.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = relay.TaskStatusPending
	}
	if task.Version == 0 {
		task.Version = 1
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := taskRecord{
			ID:          task.ID,
			Title:       task.Title,
			Description: task.Description,
			Status:      string(task.Status),
			HolderID:    task.HolderID,
			Version:     task.Version,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		for i := range task.Checklist {
			item := &task.Checklist[i]
			if item.ID == "" {
				item.ID = uuid.New().String()
			}
			if err := tx.Create(&checklistItemRecord{
				ID:        item.ID,
				TaskID:    task.ID,
				Position:  i,
				Text:      item.Text,
				Completed: item.Completed,
			}).Error; err != nil {
				return fmt.Errorf("create checklist item: %w", err)
			}
		}
		task.CreatedAt = rec.CreatedAt
		task.UpdatedAt = rec.UpdatedAt
		return nil
	})
}

// GetTask loads a task with its checklist.
func (s *GormStore) GetTask(ctx context.Context, taskID string) (*relay.Task, error) {
	var rec taskRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, relay.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}

	var items []checklistItemRecord
	if err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("position ASC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("load checklist for %s: %w", taskID, err)
	}
	return toTask(rec, items), nil
}

// ListTasks returns tasks matching the filter, newest first.
func (s *GormStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*relay.Task, error) {
	q := s.db.WithContext(ctx).Model(&taskRecord{}).Order("created_at DESC")
	if filter.HolderID != "" {
		q = q.Where("holder_id = ?", filter.HolderID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var recs []taskRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks := make([]*relay.Task, 0, len(recs))
	for _, rec := range recs {
		tasks = append(tasks, toTask(rec, nil))
	}
	return tasks, nil
}

// UpdateTaskDetails edits title and description. Holder and status are not
// touched here.
func (s *GormStore) UpdateTaskDetails(ctx context.Context, taskID, title, description string) (*relay.Task, error) {
	res := s.db.WithContext(ctx).Model(&taskRecord{}).
		Where("id = ?", taskID).
		Updates(map[string]any{"title": title, "description": description})
	if res.Error != nil {
		return nil, fmt.Errorf("update task %s: %w", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, relay.ErrTaskNotFound
	}
	return s.GetTask(ctx, taskID)
}

// AddChecklistItem appends an item to the task checklist.
func (s *GormStore) AddChecklistItem(ctx context.Context, taskID, text string) (*relay.Task, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&taskRecord{}).Where("id = ?", taskID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return relay.ErrTaskNotFound
		}
		var max int64
		if err := tx.Model(&checklistItemRecord{}).
			Where("task_id = ?", taskID).Count(&max).Error; err != nil {
			return err
		}
		return tx.Create(&checklistItemRecord{
			ID:       uuid.New().String(),
			TaskID:   taskID,
			Position: int(max),
			Text:     text,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetTask(ctx, taskID)
}

// SetChecklistItemDone toggles the completed flag on one checklist item.
func (s *GormStore) SetChecklistItemDone(ctx context.Context, taskID, itemID string, done bool) (*relay.Task, error) {
	res := s.db.WithContext(ctx).Model(&checklistItemRecord{}).
		Where("id = ? AND task_id = ?", itemID, taskID).
		Update("completed", done)
	if res.Error != nil {
		return nil, fmt.Errorf("update checklist item %s: %w", itemID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, relay.ErrTaskNotFound
	}
	return s.GetTask(ctx, taskID)
}

// CompleteTask marks a task completed. This is the external completion edge;
// completed tasks refuse further transfers.
func (s *GormStore) CompleteTask(ctx context.Context, taskID string) (*relay.Task, error) {
	res := s.db.WithContext(ctx).Model(&taskRecord{}).
		Where("id = ?", taskID).
		Updates(map[string]any{
			"status":  string(relay.TaskStatusCompleted),
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("complete task %s: %w", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, relay.ErrTaskNotFound
	}
	return s.GetTask(ctx, taskID)
}

// DeleteTask removes a task, its checklist and its activity entries.
func (s *GormStore) DeleteTask(ctx context.Context, taskID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&taskRecord{}, "id = ?", taskID)
		if res.Error != nil {
			return fmt.Errorf("delete task %s: %w", taskID, res.Error)
		}
		if res.RowsAffected == 0 {
			return relay.ErrTaskNotFound
		}
		if err := tx.Delete(&checklistItemRecord{}, "task_id = ?", taskID).Error; err != nil {
			return err
		}
		return tx.Delete(&activityRecord{}, "task_id = ?", taskID).Error
	})
}

// =============================================================================
// CollaboratorStore
// =============================================================================

// CreateCollaborator persists a new account. Admin accounts never carry a
// sequence, whatever the caller passed.
func (s *GormStore) CreateCollaborator(ctx context.Context, c *relay.Collaborator) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Role == types.RoleAdmin {
		c.Sequence = nil
	}
	rec := collaboratorRecord{
		ID:          c.ID,
		DisplayName: c.DisplayName,
		Role:        string(c.Role),
		Sequence:    c.Sequence,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("create collaborator: %w", err)
	}
	c.CreatedAt = rec.CreatedAt
	c.UpdatedAt = rec.UpdatedAt
	return nil
}

// GetCollaborator loads one account.
func (s *GormStore) GetCollaborator(ctx context.Context, id string) (*relay.Collaborator, error) {
	var rec collaboratorRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, relay.ErrUnknownCollaborator
	}
	if err != nil {
		return nil, fmt.Errorf("load collaborator %s: %w", id, err)
	}
	c := toCollaborator(rec)
	return &c, nil
}

// ListCollaborators returns all accounts, ranked members first in chain
// order, then the rest by name.
func (s *GormStore) ListCollaborators(ctx context.Context) ([]*relay.Collaborator, error) {
	var recs []collaboratorRecord
	err := s.db.WithContext(ctx).
		Order("sequence IS NULL, sequence ASC, display_name ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	out := make([]*relay.Collaborator, 0, len(recs))
	for _, rec := range recs {
		c := toCollaborator(rec)
		out = append(out, &c)
	}
	return out, nil
}

// RenameCollaborator updates the display name.
func (s *GormStore) RenameCollaborator(ctx context.Context, id, displayName string) (*relay.Collaborator, error) {
	res := s.db.WithContext(ctx).Model(&collaboratorRecord{}).
		Where("id = ?", id).
		Update("display_name", displayName)
	if res.Error != nil {
		return nil, fmt.Errorf("rename collaborator %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, relay.ErrUnknownCollaborator
	}
	return s.GetCollaborator(ctx, id)
}

// DeleteCollaborator removes an account. When the account was ranked, the
// ranks above it shift down so the chain stays contiguous.
func (s *GormStore) DeleteCollaborator(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec collaboratorRecord
		err := tx.First(&rec, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return relay.ErrUnknownCollaborator
		}
		if err != nil {
			return fmt.Errorf("load collaborator %s: %w", id, err)
		}

		if err := tx.Delete(&collaboratorRecord{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete collaborator %s: %w", id, err)
		}

		if rec.Sequence != nil {
			// Compact through negative ranks, same reason as Insert.
			if err := tx.Model(&collaboratorRecord{}).
				Where("sequence > ?", *rec.Sequence).
				Update("sequence", gorm.Expr("-(sequence - 1)")).Error; err != nil {
				return fmt.Errorf("compact ranks: %w", err)
			}
			if err := tx.Model(&collaboratorRecord{}).
				Where("sequence < 0").
				Update("sequence", gorm.Expr("-sequence")).Error; err != nil {
				return fmt.Errorf("restore ranks: %w", err)
			}
		}
		return nil
	})
}

// =============================================================================
// relay.ActivitySink
// =============================================================================

// Append inserts one audit entry.
func (s *GormStore) Append(ctx context.Context, entry relay.ActivityEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	rec := activityRecord{
		ID:         entry.ID,
		TaskID:     entry.TaskID,
		FromHolder: entry.FromHolder,
		ToHolder:   entry.ToHolder,
		ActorID:    entry.ActorID,
		CreatedAt:  entry.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ListByTask returns the audit entries for one task, oldest first.
func (s *GormStore) ListByTask(ctx context.Context, taskID string) ([]relay.ActivityEntry, error) {
	var recs []activityRecord
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list activity for %s: %w", taskID, err)
	}
	entries := make([]relay.ActivityEntry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, relay.ActivityEntry{
			ID:         rec.ID,
			TaskID:     rec.TaskID,
			FromHolder: rec.FromHolder,
			ToHolder:   rec.ToHolder,
			ActorID:    rec.ActorID,
			Timestamp:  rec.CreatedAt,
		})
	}
	return entries, nil
}

// =============================================================================
// Row conversion
// =============================================================================

func toCollaborator(rec collaboratorRecord) relay.Collaborator {
	return relay.Collaborator{
		ID:          rec.ID,
		DisplayName: rec.DisplayName,
		Role:        types.Role(rec.Role),
		Sequence:    rec.Sequence,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

func toTask(rec taskRecord, items []checklistItemRecord) *relay.Task {
	task := &relay.Task{
		ID:          rec.ID,
		Title:       rec.Title,
		Description: rec.Description,
		Status:      relay.TaskStatus(rec.Status),
		HolderID:    rec.HolderID,
		Version:     rec.Version,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	for _, item := range items {
		task.Checklist = append(task.Checklist, relay.ChecklistItem{
			ID:        item.ID,
			Text:      item.Text,
			Completed: item.Completed,
		})
	}
	return task
}
