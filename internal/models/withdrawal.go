package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// WithdrawalStatus is the state of a withdrawal request. Transitions
// happen only through the edges in withdrawalTransitions, enforced by
// compare-and-swap status updates.
type WithdrawalStatus string

const (
	WithdrawalPendingReview WithdrawalStatus = "PENDING_REVIEW"
	WithdrawalApproved      WithdrawalStatus = "APPROVED"
	WithdrawalProcessing    WithdrawalStatus = "PROCESSING"
	WithdrawalSent          WithdrawalStatus = "SENT"
	WithdrawalConfirming    WithdrawalStatus = "CONFIRMING"
	WithdrawalConfirmed     WithdrawalStatus = "CONFIRMED"
	WithdrawalCompleted     WithdrawalStatus = "COMPLETED"
	WithdrawalRejected      WithdrawalStatus = "REJECTED"
	WithdrawalPaidManually  WithdrawalStatus = "PAID_MANUALLY"
	WithdrawalFailed        WithdrawalStatus = "FAILED"
)

var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalPendingReview: {WithdrawalApproved, WithdrawalRejected, WithdrawalPaidManually},
	WithdrawalApproved:      {WithdrawalProcessing, WithdrawalPaidManually},
	WithdrawalProcessing:    {WithdrawalSent, WithdrawalFailed},
	WithdrawalSent:          {WithdrawalConfirming, WithdrawalFailed},
	WithdrawalConfirming:    {WithdrawalConfirmed, WithdrawalFailed},
	WithdrawalConfirmed:     {WithdrawalCompleted},
	WithdrawalFailed:        {WithdrawalProcessing, WithdrawalPaidManually},
}

// CanTransitionTo reports whether the edge s -> next exists in the
// withdrawal state machine.
func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	for _, t := range withdrawalTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions leave s.
func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalRejected || s == WithdrawalCompleted || s == WithdrawalPaidManually
}

// Valid reports whether s is a known withdrawal status.
func (s WithdrawalStatus) Valid() bool {
	switch s {
	case WithdrawalPendingReview, WithdrawalApproved, WithdrawalProcessing,
		WithdrawalSent, WithdrawalConfirming, WithdrawalConfirmed,
		WithdrawalCompleted, WithdrawalRejected, WithdrawalPaidManually,
		WithdrawalFailed:
		return true
	}
	return false
}

// WithdrawalRequest is a user's request to move funds off-platform.
// Amount = Fee + NetAmount always holds; Amount is reserved from the
// available balance at submission and released on reject or cleared on
// payout.
type WithdrawalRequest struct {
	ID                 uuid.UUID        `db:"id" json:"id"`
	UserID             uuid.UUID        `db:"user_id" json:"userId"`
	AssetID            uuid.UUID        `db:"asset_id" json:"assetId"`
	ChainID            uuid.UUID        `db:"chain_id" json:"chainId"`
	Amount             decimal.Decimal  `db:"amount" json:"amount"`
	Fee                decimal.Decimal  `db:"fee" json:"fee"`
	NetAmount          decimal.Decimal  `db:"net_amount" json:"netAmount"`
	DestinationAddress string           `db:"destination_address" json:"destinationAddress"`
	Status             WithdrawalStatus `db:"status" json:"status"`
	UserNotes          *string          `db:"user_notes" json:"userNotes,omitempty"`
	AdminNotes         *string          `db:"admin_notes" json:"adminNotes,omitempty"`
	ReviewedBy         *uuid.UUID       `db:"reviewed_by" json:"reviewedBy,omitempty"`
	ReviewedAt         *time.Time       `db:"reviewed_at" json:"reviewedAt,omitempty"`
	ManualProofURL     *string          `db:"manual_proof_url" json:"manualProofUrl,omitempty"`
	IdempotencyKey     string           `db:"idempotency_key" json:"idempotencyKey"`
	FraudScore         int32            `db:"fraud_score" json:"fraudScore"`
	FraudIndicators    types.JSONText   `db:"fraud_indicators" json:"fraudIndicators,omitempty"`
	CreatedAt          time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updatedAt"`
}

// PayoutStatus is the state of the on-chain transaction paying out one
// withdrawal.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "PENDING"
	PayoutSent       PayoutStatus = "SENT"
	PayoutConfirming PayoutStatus = "CONFIRMING"
	PayoutConfirmed  PayoutStatus = "CONFIRMED"
	PayoutFailed     PayoutStatus = "FAILED"
)

// PayoutTx tracks the broadcast and confirmation of one withdrawal's
// on-chain transaction. One row per withdrawal request.
type PayoutTx struct {
	ID                  uuid.UUID    `db:"id" json:"id"`
	WithdrawalRequestID uuid.UUID    `db:"withdrawal_request_id" json:"withdrawalRequestId"`
	TxHash              *string      `db:"tx_hash" json:"txHash,omitempty"`
	Nonce               *int64       `db:"nonce" json:"nonce,omitempty"`
	GasUsed             *int64       `db:"gas_used" json:"gasUsed,omitempty"`
	Status              PayoutStatus `db:"status" json:"status"`
	Confirmations       int64        `db:"confirmations" json:"confirmations"`
	ErrorMessage        *string      `db:"error_message" json:"errorMessage,omitempty"`
	Attempts            int32        `db:"attempts" json:"attempts"`
	SentAt              *time.Time   `db:"sent_at" json:"sentAt,omitempty"`
	ConfirmedAt         *time.Time   `db:"confirmed_at" json:"confirmedAt,omitempty"`
	CreatedAt           time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time    `db:"updated_at" json:"updatedAt"`
}

// AddressWhitelist records a destination a user has withdrawn to. New
// entries carry a cooldown that is never refreshed afterwards.
type AddressWhitelist struct {
	ID             uuid.UUID `db:"id" json:"id"`
	UserID         uuid.UUID `db:"user_id" json:"userId"`
	ChainID        uuid.UUID `db:"chain_id" json:"chainId"`
	Address        string    `db:"address" json:"address"`
	Label          *string   `db:"label" json:"label,omitempty"`
	CooldownEndsAt time.Time `db:"cooldown_ends_at" json:"cooldownEndsAt"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// TreasuryWallet is a platform hot wallet authorized to disburse funds
// on one chain. The private key is sealed by the wallet vault and only
// the payout executor ever opens it.
type TreasuryWallet struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	ChainID             uuid.UUID `db:"chain_id" json:"chainId"`
	Address             string    `db:"address" json:"address"`
	Label               string    `db:"label" json:"label"`
	EncryptedPrivateKey []byte    `db:"encrypted_private_key" json:"-"`
	IsActive            bool      `db:"is_active" json:"isActive"`
	CreatedAt           time.Time `db:"created_at" json:"createdAt"`
}
