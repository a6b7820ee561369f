package relay

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/taskrelay/taskrelay/types"
)

// Authorizer decides whether a proposed transfer may proceed. It is a pure
// decision function over the request plus read-only ledger queries; it never
// mutates state.
type Authorizer struct {
	admin transferPolicy
	chain transferPolicy
}

// NewAuthorizer creates an Authorizer backed by the given ledger view.
func NewAuthorizer(ledger LedgerReader, logger *zap.Logger) *Authorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authorizer{
		admin: adminPolicy{},
		chain: chainPolicy{ledger: ledger, logger: logger.With(zap.String("component", "authorizer"))},
	}
}

// Authorize evaluates the request under the policy selected by the actor
// role. The returned error is non-nil only for infrastructure failures
// (ledger unreachable); every policy outcome, including rejection, is
// expressed in the Decision.
func (a *Authorizer) Authorize(ctx context.Context, req TransferRequest, actorRole types.Role) (Decision, error) {
	if actorRole == types.RoleAdmin {
		return a.admin.authorize(ctx, req)
	}
	return a.chain.authorize(ctx, req)
}

// transferPolicy is one variant of the authorization rules. Keeping the
// admin bypass and the chain discipline as separate implementations makes
// each independently testable.
type transferPolicy interface {
	authorize(ctx context.Context, req TransferRequest) (Decision, error)
}

// adminPolicy admits unconditionally. Administrators perform corrective and
// management moves outside the normal production flow, including into or out
// of the chain and onto unranked holders.
type adminPolicy struct{}

func (adminPolicy) authorize(context.Context, TransferRequest) (Decision, error) {
	return Admit(), nil
}

// chainPolicy enforces the pipeline discipline: a collaborator may only push
// a task they currently hold exactly one step forward in the chain.
type chainPolicy struct {
	ledger LedgerReader
	logger *zap.Logger
}

func (p chainPolicy) authorize(ctx context.Context, req TransferRequest) (Decision, error) {
	if req.ActorID != req.SourceHolderID {
		return Reject(types.ErrForbiddenActor,
			"a collaborator may only transfer tasks they currently hold"), nil
	}

	srcRank, srcErr := p.ledger.RankOf(ctx, req.SourceHolderID)
	_, tgtErr := p.ledger.RankOf(ctx, req.TargetHolderID)

	// Unknown ids take precedence over unranked ones.
	if errors.Is(srcErr, ErrUnknownCollaborator) || errors.Is(tgtErr, ErrUnknownCollaborator) {
		return Reject(types.ErrUnknownCollaborator,
			"source or target collaborator does not exist"), nil
	}
	if errors.Is(srcErr, ErrUnranked) || errors.Is(tgtErr, ErrUnranked) {
		return Reject(types.ErrUnrankedParticipant,
			"source or target is not part of the handoff chain"), nil
	}
	if srcErr != nil {
		return Decision{}, fmt.Errorf("rank lookup for source %s: %w", req.SourceHolderID, srcErr)
	}
	if tgtErr != nil {
		return Decision{}, fmt.Errorf("rank lookup for target %s: %w", req.TargetHolderID, tgtErr)
	}

	next, err := p.ledger.NextAfter(ctx, srcRank)
	if errors.Is(err, ErrEndOfChain) {
		return Reject(types.ErrNotNextInSequence,
			"source holder is last in the chain"), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("next-in-chain lookup after rank %d: %w", srcRank, err)
	}
	if next != req.TargetHolderID {
		p.logger.Debug("transfer skips the chain order",
			zap.String("task_id", req.TaskID),
			zap.String("expected_target", next),
			zap.String("requested_target", req.TargetHolderID),
		)
		return Reject(types.ErrNotNextInSequence,
			fmt.Sprintf("expected next holder %s, got %s", next, req.TargetHolderID)), nil
	}

	return Admit(), nil
}
