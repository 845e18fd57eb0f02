package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DepositAddress is a platform-controlled receive address assigned to
// one user on one chain. Derivation indexes are assigned monotonically
// per chain inside the allocating transaction.
type DepositAddress struct {
	ID              uuid.UUID `db:"id" json:"id"`
	UserID          uuid.UUID `db:"user_id" json:"userId"`
	ChainID         uuid.UUID `db:"chain_id" json:"chainId"`
	Address         string    `db:"address" json:"address"`
	DerivationPath  *string   `db:"derivation_path" json:"-"`
	DerivationIndex *int64    `db:"derivation_index" json:"-"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}

// DepositStatus is the lifecycle state of an observed deposit.
type DepositStatus string

const (
	// DepositAwaiting is reserved for deposits announced before any
	// on-chain observation. The scanner inserts observed transfers
	// directly as CONFIRMING.
	DepositAwaiting   DepositStatus = "AWAITING"
	DepositConfirming DepositStatus = "CONFIRMING"
	DepositConfirmed  DepositStatus = "CONFIRMED"
	DepositFailed     DepositStatus = "FAILED"
)

// Deposit is an observed on-chain transfer into a deposit address.
// (TxHash, LogIndex, ChainID) is unique, which makes re-scans of
// overlapping block windows no-ops.
type Deposit struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	UserID           uuid.UUID       `db:"user_id" json:"userId"`
	AssetID          uuid.UUID       `db:"asset_id" json:"assetId"`
	ChainID          uuid.UUID       `db:"chain_id" json:"chainId"`
	DepositAddressID uuid.UUID       `db:"deposit_address_id" json:"depositAddressId"`
	TxHash           string          `db:"tx_hash" json:"txHash"`
	LogIndex         *int64          `db:"log_index" json:"logIndex,omitempty"`
	BlockNumber      *int64          `db:"block_number" json:"blockNumber,omitempty"`
	FromAddress      string          `db:"from_address" json:"fromAddress"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Confirmations    int64           `db:"confirmations" json:"confirmations"`
	Status           DepositStatus   `db:"status" json:"status"`
	ConfirmedAt      *time.Time      `db:"confirmed_at" json:"confirmedAt,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updatedAt"`
}
