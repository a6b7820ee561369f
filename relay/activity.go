package relay

import (
	"context"
	"time"
)

// ActivityEntry records one completed handoff in the append-only audit log.
type ActivityEntry struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	FromHolder string    `json:"from_holder"`
	ToHolder   string    `json:"to_holder"`
	ActorID    string    `json:"actor_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// ActivitySink is the append-only destination for audit entries. Appends are
// best-effort with respect to transfers: a failed append never rolls back a
// committed transfer, it is surfaced to the caller as a warning instead.
type ActivitySink interface {
	Append(ctx context.Context, entry ActivityEntry) error

	// ListByTask returns the entries for one task, oldest first.
	ListByTask(ctx context.Context, taskID string) ([]ActivityEntry, error)
}
