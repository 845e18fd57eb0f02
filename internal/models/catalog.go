package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Chain is a configured EVM network reachable over JSON-RPC.
type Chain struct {
	ID                    uuid.UUID `db:"id" json:"id"`
	Slug                  string    `db:"slug" json:"slug"`
	Name                  string    `db:"name" json:"name"`
	ChainID               int64     `db:"chain_id" json:"chainId"`
	RPCEndpoint           string    `db:"rpc_endpoint" json:"-"`
	ExplorerURL           string    `db:"explorer_url" json:"explorerUrl"`
	ConfirmationsRequired int64     `db:"confirmations_required" json:"confirmationsRequired"`
	IsActive              bool      `db:"is_active" json:"isActive"`
	CreatedAt             time.Time `db:"created_at" json:"createdAt"`
}

// Asset is a token on a chain. A nil ContractAddress means the chain's
// native coin.
type Asset struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	ChainID         uuid.UUID       `db:"chain_id" json:"chainId"`
	Symbol          string          `db:"symbol" json:"symbol"`
	Name            string          `db:"name" json:"name"`
	Decimals        int32           `db:"decimals" json:"decimals"`
	ContractAddress *string         `db:"contract_address" json:"contractAddress,omitempty"`
	IsNative        bool            `db:"is_native" json:"isNative"`
	IsActive        bool            `db:"is_active" json:"isActive"`
	PriceUSD        decimal.Decimal `db:"price_usd" json:"priceUsd"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

// PoolType distinguishes flexible pools from fixed-term pools.
type PoolType string

const (
	PoolFlexible PoolType = "FLEXIBLE"
	PoolFixed    PoolType = "FIXED"
)

// Valid reports whether t is a known pool type.
func (t PoolType) Valid() bool { return t == PoolFlexible || t == PoolFixed }

// Pool is a staking product. CurrentAPR is a display cache; the accrual
// engine reads the effective rate from the APR schedule table.
type Pool struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	Name          string           `db:"name" json:"name"`
	Slug          string           `db:"slug" json:"slug"`
	AssetID       uuid.UUID        `db:"asset_id" json:"assetId"`
	Type          PoolType         `db:"type" json:"type"`
	LockDays      int32            `db:"lock_days" json:"lockDays"`
	CurrentAPR    decimal.Decimal  `db:"current_apr" json:"currentApr"`
	MinStake      decimal.Decimal  `db:"min_stake" json:"minStake"`
	MaxStake      *decimal.Decimal `db:"max_stake" json:"maxStake,omitempty"`
	TotalCapacity *decimal.Decimal `db:"total_capacity" json:"totalCapacity,omitempty"`
	TotalStaked   decimal.Decimal  `db:"total_staked" json:"totalStaked"`
	CooldownHours int32            `db:"cooldown_hours" json:"cooldownHours"`
	IsActive      bool             `db:"is_active" json:"isActive"`
	CreatedAt     time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updatedAt"`
}

// AprSchedule is one step of a pool's rate history. At most one row is
// effective at any instant.
type AprSchedule struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	PoolID        uuid.UUID       `db:"pool_id" json:"poolId"`
	APR           decimal.Decimal `db:"apr" json:"apr"`
	EffectiveFrom time.Time       `db:"effective_from" json:"effectiveFrom"`
	EffectiveTo   *time.Time      `db:"effective_to" json:"effectiveTo,omitempty"`
	CreatedBy     *uuid.UUID      `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
}
