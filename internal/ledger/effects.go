// Package ledger implements the append-only accounting log and the
// balance projection derived from it. Every balance-affecting action in
// the system posts exactly one entry here; balance_cache rows are a
// fold over the entries and are rebuildable from scratch.
package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/openvault/staked/internal/apperr"
	"github.com/openvault/staked/internal/models"
)

// Delta is the signed effect of one entry on the four balance buckets.
type Delta struct {
	Available decimal.Decimal
	Staked    decimal.Decimal
	Rewards   decimal.Decimal
	Pending   decimal.Decimal
}

// Add returns the bucket-wise sum of two deltas.
func (d Delta) Add(o Delta) Delta {
	return Delta{
		Available: d.Available.Add(o.Available),
		Staked:    d.Staked.Add(o.Staked),
		Rewards:   d.Rewards.Add(o.Rewards),
		Pending:   d.Pending.Add(o.Pending),
	}
}

// IsZero reports whether every bucket delta is zero.
func (d Delta) IsZero() bool {
	return d.Available.IsZero() && d.Staked.IsZero() && d.Rewards.IsZero() && d.Pending.IsZero()
}

// unstakeMetadata splits an UNSTAKE_COMPLETED amount into the principal
// returned from the staked bucket and the rewards drained from the
// rewards bucket. The two must sum to the entry amount.
type unstakeMetadata struct {
	Principal decimal.Decimal `json:"principal"`
	Rewards   decimal.Decimal `json:"rewards"`
}

// cancelMetadata carries the unclaimed rewards forfeited when a fixed
// position is cancelled before its lock expires.
type cancelMetadata struct {
	ForfeitedRewards decimal.Decimal `json:"forfeitedRewards"`
}

// DirectionOf returns the canonical direction for an entry type. The
// second return is false for ADJUSTMENT, which can go either way.
func DirectionOf(t models.EntryType) (models.Direction, bool) {
	switch t {
	case models.EntryDepositConfirmed,
		models.EntryStakeCancelled,
		models.EntryUnstakeCompleted,
		models.EntryRewardAccrued,
		models.EntryRewardClaimed,
		models.EntryWithdrawalRejected:
		return models.Credit, true
	case models.EntryStakeCreated,
		models.EntryWithdrawalRequested,
		models.EntryWithdrawalPaid:
		return models.Debit, true
	default:
		return "", false
	}
}

// EffectOf computes the bucket deltas an entry applies. It validates
// the amount, the direction, and any type-specific metadata, so a bad
// entry is rejected before anything touches the database.
func EffectOf(e models.LedgerEntry) (Delta, error) {
	if !e.Amount.IsPositive() {
		return Delta{}, apperr.Invalidf("ledger: entry amount must be positive, got %s", e.Amount)
	}
	if canonical, ok := DirectionOf(e.EntryType); ok && e.Direction != canonical {
		return Delta{}, apperr.Invalidf("ledger: %s entries are %s, got %s", e.EntryType, canonical, e.Direction)
	}

	amt := e.Amount
	switch e.EntryType {
	case models.EntryDepositConfirmed:
		return Delta{Available: amt}, nil

	case models.EntryStakeCreated:
		return Delta{Available: amt.Neg(), Staked: amt}, nil

	case models.EntryStakeCancelled:
		var meta cancelMetadata
		if len(e.Metadata) > 0 {
			if err := json.Unmarshal(e.Metadata, &meta); err != nil {
				return Delta{}, fmt.Errorf("ledger: decode STAKE_CANCELLED metadata: %w", err)
			}
		}
		if meta.ForfeitedRewards.IsNegative() {
			return Delta{}, apperr.Invalidf("ledger: forfeitedRewards must be non-negative, got %s", meta.ForfeitedRewards)
		}
		return Delta{Available: amt, Staked: amt.Neg(), Rewards: meta.ForfeitedRewards.Neg()}, nil

	case models.EntryUnstakeCompleted:
		var meta unstakeMetadata
		if err := json.Unmarshal(e.Metadata, &meta); err != nil {
			return Delta{}, fmt.Errorf("ledger: decode UNSTAKE_COMPLETED metadata: %w", err)
		}
		if meta.Principal.IsNegative() || meta.Rewards.IsNegative() {
			return Delta{}, apperr.Invalidf("ledger: unstake split must be non-negative, got principal=%s rewards=%s",
				meta.Principal, meta.Rewards)
		}
		if !meta.Principal.Add(meta.Rewards).Equal(amt) {
			return Delta{}, apperr.Invalidf("ledger: unstake split %s+%s does not equal amount %s",
				meta.Principal, meta.Rewards, amt)
		}
		return Delta{Available: amt, Staked: meta.Principal.Neg(), Rewards: meta.Rewards.Neg()}, nil

	case models.EntryRewardAccrued:
		return Delta{Rewards: amt}, nil

	case models.EntryRewardClaimed:
		return Delta{Available: amt, Rewards: amt.Neg()}, nil

	case models.EntryWithdrawalRequested:
		return Delta{Available: amt.Neg(), Pending: amt}, nil

	case models.EntryWithdrawalRejected:
		return Delta{Available: amt, Pending: amt.Neg()}, nil

	case models.EntryWithdrawalPaid:
		return Delta{Pending: amt.Neg()}, nil

	case models.EntryAdjustment:
		switch e.Direction {
		case models.Credit:
			return Delta{Available: amt}, nil
		case models.Debit:
			return Delta{Available: amt.Neg()}, nil
		default:
			return Delta{}, apperr.Invalidf("ledger: ADJUSTMENT requires an explicit direction, got %q", e.Direction)
		}

	default:
		return Delta{}, apperr.Invalidf("ledger: unknown entry type %q", e.EntryType)
	}
}
