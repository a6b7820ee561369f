package relay

import "github.com/taskrelay/taskrelay/types"

// TransferRequest proposes moving a task from one holder to another.
// It is produced by the UI/API layer, consumed once, never stored.
type TransferRequest struct {
	TaskID         string `json:"task_id"`
	SourceHolderID string `json:"source_holder_id"`
	TargetHolderID string `json:"target_holder_id"`
	ActorID        string `json:"actor_id"`
}

// Decision is the outcome of authorizing a transfer request.
type Decision struct {
	Admitted bool            `json:"admitted"`
	Reason   types.ErrorCode `json:"reason,omitempty"`
	Detail   string          `json:"detail,omitempty"`
}

// Admit returns an admitting decision.
func Admit() Decision {
	return Decision{Admitted: true}
}

// Reject returns a rejecting decision with a typed reason.
func Reject(reason types.ErrorCode, detail string) Decision {
	return Decision{Admitted: false, Reason: reason, Detail: detail}
}

// Err converts a rejection into a structured error. Returns nil for an
// admitted decision.
func (d Decision) Err() error {
	if d.Admitted {
		return nil
	}
	return types.NewError(d.Reason, d.Detail)
}
