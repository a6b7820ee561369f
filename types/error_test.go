package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	err := NewError(ErrNotNextInSequence, "target is not the next holder")
	assert.Equal(t, "[NOT_NEXT_IN_SEQUENCE] target is not the next holder", err.Error())

	cause := errors.New("row not found")
	withCause := NewError(ErrUnknownCollaborator, "lookup failed").WithCause(cause)
	assert.Contains(t, withCause.Error(), "row not found")
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("deadlock detected")
	err := NewError(ErrConcurrentModification, "transfer lost the race").WithCause(cause)

	require.ErrorIs(t, err, cause)
}

func TestError_Builders(t *testing.T) {
	err := NewError(ErrConcurrentModification, "stale version").
		WithHTTPStatus(409).
		WithRetryable(true)

	assert.Equal(t, 409, err.HTTPStatus)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, ErrConcurrentModification, GetErrorCode(err))
}

func TestIsRetryable_PlainError(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleAdmin.Valid())
	assert.True(t, RoleCollaborator.Valid())
	assert.False(t, Role("manager").Valid())
	assert.False(t, Role("").Valid())
}
