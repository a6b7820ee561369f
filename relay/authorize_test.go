package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskrelay/taskrelay/types"
)

// stubLedger is an in-memory LedgerReader for authorizer tests.
// ranks maps ranked ids; unranked ids exist without a position.
type stubLedger struct {
	ranks    map[string]int
	unranked map[string]bool
	err      error
}

func (l *stubLedger) RankOf(_ context.Context, id string) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	if rank, ok := l.ranks[id]; ok {
		return rank, nil
	}
	if l.unranked[id] {
		return 0, ErrUnranked
	}
	return 0, ErrUnknownCollaborator
}

func (l *stubLedger) NextAfter(_ context.Context, rank int) (string, error) {
	if l.err != nil {
		return "", l.err
	}
	for id, r := range l.ranks {
		if r == rank+1 {
			return id, nil
		}
	}
	return "", ErrEndOfChain
}

func testLedger() *stubLedger {
	return &stubLedger{
		ranks:    map[string]int{"alice": 1, "bob": 2, "carol": 3},
		unranked: map[string]bool{"dave": true, "root": true},
	}
}

func TestAuthorizeAdmitsNextHop(t *testing.T) {
	auth := NewAuthorizer(testLedger(), zap.NewNop())

	decision, err := auth.Authorize(context.Background(), TransferRequest{
		TaskID:         "t1",
		SourceHolderID: "alice",
		TargetHolderID: "bob",
		ActorID:        "alice",
	}, types.RoleCollaborator)
	require.NoError(t, err)
	assert.True(t, decision.Admitted)
	assert.NoError(t, decision.Err())
}

func TestAuthorizeRejectsForeignActor(t *testing.T) {
	auth := NewAuthorizer(testLedger(), zap.NewNop())

	// bob tries to move a task alice holds.
	decision, err := auth.Authorize(context.Background(), TransferRequest{
		TaskID:         "t1",
		SourceHolderID: "alice",
		TargetHolderID: "bob",
		ActorID:        "bob",
	}, types.RoleCollaborator)
	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	assert.Equal(t, types.ErrForbiddenActor, decision.Reason)
}

func TestAuthorizeActorCheckPrecedesLookups(t *testing.T) {
	auth := NewAuthorizer(testLedger(), zap.NewNop())

	// The target does not even exist, but the foreign actor is rejected
	// first, before any ledger query runs.
	decision, err := auth.Authorize(context.Background(), TransferRequest{
		TaskID:         "t1",
		SourceHolderID: "alice",
		TargetHolderID: "ghost",
		ActorID:        "carol",
	}, types.RoleCollaborator)
	require.NoError(t, err)
	assert.Equal(t, types.ErrForbiddenActor, decision.Reason)
}

func TestAuthorizeRejectsUnknownParticipants(t *testing.T) {
	auth := NewAuthorizer(testLedger(), zap.NewNop())

	for name, req := range map[string]TransferRequest{
		"unknown target": {SourceHolderID: "alice", TargetHolderID: "ghost", ActorID: "alice"},
		"unknown source": {SourceHolderID: "ghost", TargetHolderID: "bob", ActorID: "ghost"},
	} {
		t.Run(name, func(t *testing.T) {
			decision, err := auth.Authorize(context.Background(), req, types.RoleCollaborator)
			require.NoError(t, err)
			assert.Equal(t, types.ErrUnknownCollaborator, decision.Reason)
		})
	}
}

func TestAuthorizeRejectsUnrankedParticipants(t *testing.T) {
	auth := NewAuthorizer(testLedger(), zap.NewNop())

	decision, err := auth.Authorize(context.Background(), TransferRequest{
		SourceHolderID: "alice",
		TargetHolderID: "dave",
		ActorID:        "alice",
	}, types.RoleCollaborator)
	require.NoError(t, err)
	assert.Equal(t, types.ErrUnrankedParticipant, decision.Reason)
}

func TestAuthorizeUnknownBeatsUnranked(t *testing.T) {
	auth := NewAuthorizer(testLedger(), zap.NewNop())

	// Source unknown, target unranked: the unknown id decides the reason.
	decision, err := auth.Authorize(context.Background(), TransferRequest{
		SourceHolderID: "ghost",
		TargetHolderID: "dave",
		ActorID:        "ghost",
	}, types.RoleCollaborator)
	require.NoError(t, err)
	assert.Equal(t, types.ErrUnknownCollaborator, decision.Reason)
}

func TestAuthorizeRejectsOutOfOrderTargets(t *testing.T) {
	auth := NewAuthorizer(testLedger(), zap.NewNop())

	for name, req := range map[string]TransferRequest{
		"skip ahead":       {SourceHolderID: "alice", TargetHolderID: "carol", ActorID: "alice"},
		"move backward":    {SourceHolderID: "carol", TargetHolderID: "bob", ActorID: "carol"},
		"transfer to self": {SourceHolderID: "bob", TargetHolderID: "bob", ActorID: "bob"},
	} {
		t.Run(name, func(t *testing.T) {
			decision, err := auth.Authorize(context.Background(), req, types.RoleCollaborator)
			require.NoError(t, err)
			assert.Equal(t, types.ErrNotNextInSequence, decision.Reason)
		})
	}
}

func TestAuthorizeRejectsTailSource(t *testing.T) {
	auth := NewAuthorizer(testLedger(), zap.NewNop())

	// carol is last; there is no next hop to admit.
	decision, err := auth.Authorize(context.Background(), TransferRequest{
		SourceHolderID: "carol",
		TargetHolderID: "alice",
		ActorID:        "carol",
	}, types.RoleCollaborator)
	require.NoError(t, err)
	assert.Equal(t, types.ErrNotNextInSequence, decision.Reason)
}

func TestAuthorizeAdminBypassesEveryRule(t *testing.T) {
	auth := NewAuthorizer(testLedger(), zap.NewNop())

	for name, req := range map[string]TransferRequest{
		"backward":       {SourceHolderID: "carol", TargetHolderID: "alice", ActorID: "root"},
		"onto unranked":  {SourceHolderID: "alice", TargetHolderID: "dave", ActorID: "root"},
		"foreign actor":  {SourceHolderID: "alice", TargetHolderID: "bob", ActorID: "root"},
		"unknown target": {SourceHolderID: "alice", TargetHolderID: "ghost", ActorID: "root"},
	} {
		t.Run(name, func(t *testing.T) {
			decision, err := auth.Authorize(context.Background(), req, types.RoleAdmin)
			require.NoError(t, err)
			assert.True(t, decision.Admitted)
		})
	}
}

func TestAuthorizePropagatesLedgerFailures(t *testing.T) {
	ledger := testLedger()
	ledger.err = assert.AnError
	auth := NewAuthorizer(ledger, zap.NewNop())

	_, err := auth.Authorize(context.Background(), TransferRequest{
		SourceHolderID: "alice",
		TargetHolderID: "bob",
		ActorID:        "alice",
	}, types.RoleCollaborator)
	assert.ErrorIs(t, err, assert.AnError)
}
