package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrappedChain(t *testing.T) {
	base := Reject(CodeStakeLocked, "stake is locked for 25 more days")
	wrapped := fmt.Errorf("unstake position abc: %w", base)

	assert.Equal(t, DomainRejection, KindOf(wrapped))
	assert.Equal(t, CodeStakeLocked, CodeOf(wrapped))
	assert.True(t, IsKind(wrapped, DomainRejection))
	assert.False(t, IsKind(wrapped, Conflict))
}

func TestUnclassifiedIsFatal(t *testing.T) {
	err := errors.New("disk on fire")
	assert.Equal(t, Fatal, KindOf(err))
	assert.Empty(t, CodeOf(err))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("pq: connection refused")
	err := Wrap(cause, Transient, "", "database unavailable")

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "database unavailable")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsKindNilError(t *testing.T) {
	assert.False(t, IsKind(nil, Validation))
	// A nil error is not classified; KindOf defaults to Fatal, which is
	// why callers must check err != nil first.
	assert.Equal(t, Fatal, KindOf(nil))
}
