package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StakeStatus is the lifecycle state of a stake position.
type StakeStatus string

const (
	StakeActive    StakeStatus = "ACTIVE"
	StakeUnstaking StakeStatus = "UNSTAKING"
	StakeCompleted StakeStatus = "COMPLETED"
	StakeCancelled StakeStatus = "CANCELLED"
)

var stakeTransitions = map[StakeStatus][]StakeStatus{
	StakeActive:    {StakeUnstaking, StakeCompleted, StakeCancelled},
	StakeUnstaking: {StakeCompleted},
}

// CanTransitionTo reports whether the edge s -> next exists in the
// stake state machine.
func (s StakeStatus) CanTransitionTo(next StakeStatus) bool {
	for _, t := range stakeTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions leave s.
func (s StakeStatus) Terminal() bool {
	return s == StakeCompleted || s == StakeCancelled
}

// StakePosition is principal committed to a pool plus its reward
// counters. RewardsAccrued is earned-but-unclaimed; RewardsClaimed is
// the lifetime total settled to the available balance.
type StakePosition struct {
	ID                    uuid.UUID       `db:"id" json:"id"`
	UserID                uuid.UUID       `db:"user_id" json:"userId"`
	PoolID                uuid.UUID       `db:"pool_id" json:"poolId"`
	Amount                decimal.Decimal `db:"amount" json:"amount"`
	RewardsAccrued        decimal.Decimal `db:"rewards_accrued" json:"rewardsAccrued"`
	RewardsClaimed        decimal.Decimal `db:"rewards_claimed" json:"rewardsClaimed"`
	LastRewardCalculation time.Time       `db:"last_reward_calculation" json:"lastRewardCalculation"`
	Status                StakeStatus     `db:"status" json:"status"`
	LockedUntil           *time.Time      `db:"locked_until" json:"lockedUntil,omitempty"`
	CooldownEndsAt        *time.Time      `db:"cooldown_ends_at" json:"cooldownEndsAt,omitempty"`
	UnstakedAt            *time.Time      `db:"unstaked_at" json:"unstakedAt,omitempty"`
	CreatedAt             time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updatedAt"`
}

// Locked reports whether the position's lock period extends past now.
func (p *StakePosition) Locked(now time.Time) bool {
	return p.LockedUntil != nil && p.LockedUntil.After(now)
}
