package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// EntryType enumerates every monetary movement the ledger records.
type EntryType string

const (
	EntryDepositConfirmed    EntryType = "DEPOSIT_CONFIRMED"
	EntryStakeCreated        EntryType = "STAKE_CREATED"
	EntryStakeCancelled      EntryType = "STAKE_CANCELLED"
	EntryUnstakeCompleted    EntryType = "UNSTAKE_COMPLETED"
	EntryRewardAccrued       EntryType = "REWARD_ACCRUED"
	EntryRewardClaimed       EntryType = "REWARD_CLAIMED"
	EntryWithdrawalRequested EntryType = "WITHDRAWAL_REQUESTED"
	EntryWithdrawalRejected  EntryType = "WITHDRAWAL_REJECTED"
	EntryWithdrawalPaid      EntryType = "WITHDRAWAL_PAID"
	EntryAdjustment          EntryType = "ADJUSTMENT"
)

// OneShot reports whether at most one entry of this type may reference
// a given (referenceType, referenceId). The uniqueness is enforced by a
// partial index on the ledger table and is what makes transitions like
// deposit confirmation exactly-once.
func (t EntryType) OneShot() bool {
	switch t {
	case EntryDepositConfirmed, EntryStakeCreated, EntryUnstakeCompleted,
		EntryRewardClaimed, EntryWithdrawalRequested,
		EntryWithdrawalRejected, EntryWithdrawalPaid:
		return true
	}
	return false
}

// Direction is the side of a ledger entry.
type Direction string

const (
	Credit Direction = "CREDIT"
	Debit  Direction = "DEBIT"
)

// Reference types recorded on ledger entries.
const (
	RefDeposit     = "deposit"
	RefStake       = "stake"
	RefRewardClaim = "reward_claim"
	RefWithdrawal  = "withdrawal"
	RefAdjustment  = "adjustment"
)

// LedgerEntry is one append-only journal row. Rows are never updated or
// deleted after commit; the balance cache is a projection of them and
// the journal always wins a dispute.
type LedgerEntry struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	UserID        *uuid.UUID       `db:"user_id" json:"userId,omitempty"`
	AssetID       uuid.UUID        `db:"asset_id" json:"assetId"`
	ChainID       uuid.UUID        `db:"chain_id" json:"chainId"`
	EntryType     EntryType        `db:"entry_type" json:"entryType"`
	Direction     Direction        `db:"direction" json:"direction"`
	Amount        decimal.Decimal  `db:"amount" json:"amount"`
	BalanceAfter  *decimal.Decimal `db:"balance_after" json:"balanceAfter,omitempty"`
	ReferenceType string           `db:"reference_type" json:"referenceType"`
	ReferenceID   uuid.UUID        `db:"reference_id" json:"referenceId"`
	Metadata      types.JSONText   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"createdAt"`
}

// BalanceCache is the materialized projection of a user's ledger tail
// for one asset on one chain. Updates co-commit with the entries that
// cause them.
type BalanceCache struct {
	UserID             uuid.UUID       `db:"user_id" json:"userId"`
	AssetID            uuid.UUID       `db:"asset_id" json:"assetId"`
	ChainID            uuid.UUID       `db:"chain_id" json:"chainId"`
	Available          decimal.Decimal `db:"available" json:"available"`
	Staked             decimal.Decimal `db:"staked" json:"staked"`
	RewardsAccrued     decimal.Decimal `db:"rewards_accrued" json:"rewardsAccrued"`
	WithdrawalsPending decimal.Decimal `db:"withdrawals_pending" json:"withdrawalsPending"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updatedAt"`
}
