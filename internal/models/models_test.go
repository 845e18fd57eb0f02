package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleOrdering(t *testing.T) {
	assert.True(t, RoleSuperAdmin.AtLeast(RoleAdmin))
	assert.True(t, RoleAdmin.AtLeast(RoleAdmin))
	assert.True(t, RoleAdmin.AtLeast(RoleUser))
	assert.False(t, RoleSupport.AtLeast(RoleAdmin))
	assert.False(t, RoleUser.AtLeast(RoleSupport))

	assert.True(t, RoleAdmin.IsAdmin())
	assert.False(t, RoleSupport.IsAdmin())

	// Unknown roles never pass a gate.
	assert.False(t, Role("ROOT").AtLeast(RoleUser))
	assert.False(t, Role("ROOT").Valid())
}

func TestWithdrawalStateMachineEdges(t *testing.T) {
	allowed := []struct {
		from, to WithdrawalStatus
	}{
		{WithdrawalPendingReview, WithdrawalApproved},
		{WithdrawalPendingReview, WithdrawalRejected},
		{WithdrawalPendingReview, WithdrawalPaidManually},
		{WithdrawalApproved, WithdrawalProcessing},
		{WithdrawalApproved, WithdrawalPaidManually},
		{WithdrawalProcessing, WithdrawalSent},
		{WithdrawalProcessing, WithdrawalFailed},
		{WithdrawalSent, WithdrawalConfirming},
		{WithdrawalSent, WithdrawalFailed},
		{WithdrawalConfirming, WithdrawalConfirmed},
		{WithdrawalConfirming, WithdrawalFailed},
		{WithdrawalConfirmed, WithdrawalCompleted},
		{WithdrawalFailed, WithdrawalProcessing},
		{WithdrawalFailed, WithdrawalPaidManually},
	}
	for _, tc := range allowed {
		assert.True(t, tc.from.CanTransitionTo(tc.to), "%s -> %s must be allowed", tc.from, tc.to)
	}

	denied := []struct {
		from, to WithdrawalStatus
	}{
		{WithdrawalPendingReview, WithdrawalSent},
		{WithdrawalPendingReview, WithdrawalCompleted},
		{WithdrawalApproved, WithdrawalRejected},
		{WithdrawalRejected, WithdrawalApproved},
		{WithdrawalCompleted, WithdrawalProcessing},
		{WithdrawalPaidManually, WithdrawalProcessing},
		{WithdrawalSent, WithdrawalApproved},
	}
	for _, tc := range denied {
		assert.False(t, tc.from.CanTransitionTo(tc.to), "%s -> %s must be denied", tc.from, tc.to)
	}
}

func TestWithdrawalTerminalStates(t *testing.T) {
	for _, s := range []WithdrawalStatus{WithdrawalRejected, WithdrawalCompleted, WithdrawalPaidManually} {
		assert.True(t, s.Terminal(), "%s", s)
	}
	for _, s := range []WithdrawalStatus{WithdrawalPendingReview, WithdrawalApproved, WithdrawalProcessing, WithdrawalSent, WithdrawalConfirming, WithdrawalConfirmed, WithdrawalFailed} {
		assert.False(t, s.Terminal(), "%s", s)
	}
}

func TestStakeStateMachine(t *testing.T) {
	assert.True(t, StakeActive.CanTransitionTo(StakeUnstaking))
	assert.True(t, StakeActive.CanTransitionTo(StakeCompleted))
	assert.True(t, StakeActive.CanTransitionTo(StakeCancelled))
	assert.True(t, StakeUnstaking.CanTransitionTo(StakeCompleted))

	assert.False(t, StakeUnstaking.CanTransitionTo(StakeActive))
	assert.False(t, StakeCompleted.CanTransitionTo(StakeActive))
	assert.False(t, StakeCancelled.CanTransitionTo(StakeActive))
}

func TestOneShotEntryTypes(t *testing.T) {
	oneShot := []EntryType{
		EntryDepositConfirmed, EntryStakeCreated, EntryUnstakeCompleted,
		EntryRewardClaimed, EntryWithdrawalRequested, EntryWithdrawalRejected,
		EntryWithdrawalPaid,
	}
	for _, et := range oneShot {
		assert.True(t, et.OneShot(), "%s", et)
	}
	for _, et := range []EntryType{EntryRewardAccrued, EntryAdjustment, EntryStakeCancelled} {
		assert.False(t, et.OneShot(), "%s", et)
	}
}
