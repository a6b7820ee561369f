package relay

import (
	"time"

	"github.com/taskrelay/taskrelay/types"
)

// Collaborator is an account that can hold and hand off tasks.
//
// Sequence is the 1-based rank in the handoff chain. It is nil for admin
// accounts (admins are never part of the chain) and for collaborators that
// have not been placed into the chain yet. An account without a sequence
// cannot send or receive tasks through the chain rule.
type Collaborator struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Role        types.Role `json:"role"`
	Sequence    *int       `json:"sequence,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Ranked reports whether the collaborator holds a chain position.
func (c *Collaborator) Ranked() bool {
	return c.Role == types.RoleCollaborator && c.Sequence != nil
}
