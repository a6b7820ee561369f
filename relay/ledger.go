package relay

import (
	"context"
	"errors"
)

// Sentinel errors returned by Ledger implementations. These are expected,
// typed outcomes; callers branch on them with errors.Is.
var (
	// ErrUnknownCollaborator is returned when the referenced id does not exist.
	ErrUnknownCollaborator = errors.New("collaborator not found")

	// ErrUnranked is returned when the collaborator exists but holds no chain
	// position (admin role, or never inserted into the chain).
	ErrUnranked = errors.New("collaborator has no chain position")

	// ErrEndOfChain is returned by NextAfter when no collaborator holds the
	// requested rank.
	ErrEndOfChain = errors.New("no collaborator at that rank")

	// ErrInvalidReorder is returned when a reorder does not cover exactly the
	// current chain membership.
	ErrInvalidReorder = errors.New("reorder must list exactly the current chain members")

	// ErrDuplicateInsert is returned when inserting a collaborator that
	// already holds a rank.
	ErrDuplicateInsert = errors.New("collaborator already has a chain position")

	// ErrTaskNotFound is returned by task stores when the task id is unknown.
	ErrTaskNotFound = errors.New("task not found")

	// ErrVersionConflict is returned by conditional task writes when the
	// record changed between read and write.
	ErrVersionConflict = errors.New("task version conflict")
)

// LedgerReader is the read-only view of the chain that the authorizer needs.
type LedgerReader interface {
	// RankOf returns the current 1-based rank of a collaborator.
	// Returns ErrUnknownCollaborator if the id does not exist, ErrUnranked
	// if the collaborator is an admin or holds no sequence.
	RankOf(ctx context.Context, collaboratorID string) (int, error)

	// NextAfter returns the collaborator whose rank is exactly rank+1,
	// or ErrEndOfChain if no such rank exists.
	NextAfter(ctx context.Context, rank int) (string, error)
}

// Ledger maintains the total order over collaborator accounts.
//
// Invariant across every operation: ranks are unique, contiguous, 1-based,
// over exactly the set of collaborator-role accounts currently in the chain.
// Reorder and Insert are all-or-nothing; a reader never observes a partial
// ranking.
type Ledger interface {
	LedgerReader

	// Chain returns the current chain members ordered by rank.
	Chain(ctx context.Context) ([]Collaborator, error)

	// Reorder atomically reassigns ranks 1..N in the given order. The given
	// set must equal the current chain membership exactly; otherwise
	// ErrInvalidReorder is returned and nothing changes.
	Reorder(ctx context.Context, orderedIDs []string) error

	// Insert places a collaborator into the chain at the given 1-based
	// position, shifting members at that position and beyond up by one.
	// Returns ErrDuplicateInsert if the collaborator is already ranked.
	Insert(ctx context.Context, collaboratorID string, atSeq int) error
}
