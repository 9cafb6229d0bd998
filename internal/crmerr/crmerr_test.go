package crmerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesByCode(t *testing.T) {
	err := NotFound("leads", "01ABC")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrPermissionDenied))
	assert.Equal(t, "lead not found: 01ABC", err.Error())

	wrapped := fmt.Errorf("update lead: %w", err)
	assert.True(t, IsNotFound(wrapped))
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("boom")))
	assert.False(t, IsValidation(errors.New("boom")))
}

func TestTransport_IsRetryableAndUnwraps(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := Transport("list leads", cause)

	assert.True(t, err.Retryable)
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "list leads")
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestPartialComposite(t *testing.T) {
	cause := Transport("update lead", errors.New("timeout"))
	err := PartialComposite("promote lead", "deal-1", []string{"create deal"}, []string{"qualify lead"}, cause)

	assert.True(t, IsPartialComposite(err))
	assert.Equal(t, []string{"create deal"}, err.Completed)
	assert.Equal(t, []string{"qualify lead"}, err.Remaining)
	assert.Equal(t, "deal-1", err.ID)
	assert.Contains(t, err.Error(), "failed at qualify lead")
	// The cause stays reachable for callers that want the underlying code.
	assert.True(t, IsTransport(err))
}

func TestWithOp(t *testing.T) {
	err := WithOp("delete deal", PermissionDenied("deals", "d1"))
	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, "delete deal", e.Op)
	assert.Equal(t, "delete deal: permission denied for deal d1", err.Error())

	plain := errors.New("x")
	assert.Equal(t, plain, WithOp("op", plain))
}

func TestValidationAndTransitionMessages(t *testing.T) {
	v := Validation("add lead", "name is required")
	assert.Equal(t, "add lead: name is required", v.Error())
	assert.True(t, IsValidation(v))

	it := InvalidTransition("move deal stage", "cannot move from %s to %s", "closed", "payment")
	assert.Equal(t, "move deal stage: cannot move from closed to payment", it.Error())
	assert.True(t, IsInvalidTransition(it))
}
