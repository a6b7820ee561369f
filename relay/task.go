package relay

import "time"

// TaskStatus represents the lifecycle status of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not been started by its holder.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusInProgress indicates the task is being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"

	// TaskStatusCompleted indicates the task is finished. Completed tasks
	// are terminal with respect to transfers.
	TaskStatusCompleted TaskStatus = "completed"
)

// IsTerminal returns true if the status refuses further transfers.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted
}

// Valid reports whether the status is one of the known values.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted:
		return true
	default:
		return false
	}
}

// ChecklistItem is a single entry of a task checklist. Ordering follows the
// slice order on the task; the item itself carries no position.
type ChecklistItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// Task is a work item routed through the handoff chain.
//
// HolderID names the collaborator currently responsible. Holder and status
// are mutated only by the Executor; title, description and checklist are
// edited through the regular CRUD surface. Version increments on every
// holder/status write and backs the conditional update that detects
// concurrent transfers.
type Task struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Status      TaskStatus      `json:"status"`
	HolderID    string          `json:"holder_id"`
	Checklist   []ChecklistItem `json:"checklist,omitempty"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
