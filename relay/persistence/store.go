package persistence

import (
	"context"

	"github.com/taskrelay/taskrelay/relay"
)

// StoreType represents the type of storage backend.
type StoreType string

const (
	// StoreTypeMemory keeps everything in process memory. Development and
	// tests only; data is lost on restart.
	StoreTypeMemory StoreType = "memory"

	// StoreTypeGorm persists through a relational database via GORM.
	StoreTypeGorm StoreType = "gorm"
)

// TaskFilter defines criteria for listing tasks.
type TaskFilter struct {
	// HolderID filters by current holder.
	HolderID string `json:"holder_id,omitempty"`

	// Status filters by task status.
	Status relay.TaskStatus `json:"status,omitempty"`

	// Limit is the maximum number of tasks to return (0 = no limit).
	Limit int `json:"limit,omitempty"`

	// Offset is the number of tasks to skip.
	Offset int `json:"offset,omitempty"`
}

// TaskStore is the CRUD surface over task records used by the API layer.
// Holder/status changes go through relay.Executor, never through here —
// except CompleteTask, which is the external completion edge of the task
// state machine.
type TaskStore interface {
	CreateTask(ctx context.Context, task *relay.Task) error
	GetTask(ctx context.Context, taskID string) (*relay.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*relay.Task, error)
	UpdateTaskDetails(ctx context.Context, taskID, title, description string) (*relay.Task, error)
	AddChecklistItem(ctx context.Context, taskID, text string) (*relay.Task, error)
	SetChecklistItemDone(ctx context.Context, taskID, itemID string, done bool) (*relay.Task, error)
	CompleteTask(ctx context.Context, taskID string) (*relay.Task, error)
	DeleteTask(ctx context.Context, taskID string) error
}

// CollaboratorStore is the CRUD surface over collaborator accounts.
// Chain positions are owned by the relay.Ledger; deleting a ranked
// collaborator compacts the remaining ranks so the chain stays contiguous.
type CollaboratorStore interface {
	CreateCollaborator(ctx context.Context, c *relay.Collaborator) error
	GetCollaborator(ctx context.Context, id string) (*relay.Collaborator, error)
	ListCollaborators(ctx context.Context) ([]*relay.Collaborator, error)
	RenameCollaborator(ctx context.Context, id, displayName string) (*relay.Collaborator, error)
	DeleteCollaborator(ctx context.Context, id string) error
}

// Backend bundles every storage contract the service needs.
type Backend interface {
	relay.Ledger
	relay.TransferStore
	relay.ActivitySink
	TaskStore
	CollaboratorStore

	// Close releases backend resources.
	Close() error

	// Ping checks if the backend is healthy.
	Ping(ctx context.Context) error
}
