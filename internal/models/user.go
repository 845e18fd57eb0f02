// Package models holds the persisted row types shared by every
// component. Monetary amounts are decimal.Decimal backed by
// NUMERIC(78,18) columns; floating point never touches the ledger path.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role is the RBAC level of a user. Roles are strictly ordered; a
// handler demanding a minimum role admits any caller ranked at or
// above it.
type Role string

const (
	RoleUser       Role = "USER"
	RoleSupport    Role = "SUPPORT"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

var roleRank = map[Role]int{
	RoleUser:       0,
	RoleSupport:    1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r ranks at or above min. Unknown roles rank
// below everything.
func (r Role) AtLeast(min Role) bool {
	rr, ok := roleRank[r]
	if !ok {
		return false
	}
	return rr >= roleRank[min]
}

// IsAdmin reports whether r is ADMIN or SUPER_ADMIN.
func (r Role) IsAdmin() bool { return r.AtLeast(RoleAdmin) }

// KYCStatus is the verification state of a user's identity documents.
type KYCStatus string

const (
	KYCNone     KYCStatus = "NONE"
	KYCPending  KYCStatus = "PENDING"
	KYCApproved KYCStatus = "APPROVED"
	KYCRejected KYCStatus = "REJECTED"
)

// User is a platform account. PasswordHash is an argon2id PHC string
// and never leaves the auth package.
type User struct {
	ID                      uuid.UUID       `db:"id" json:"id"`
	Email                   string          `db:"email" json:"email"`
	PasswordHash            string          `db:"password_hash" json:"-"`
	Role                    Role            `db:"role" json:"role"`
	EmailVerified           bool            `db:"email_verified" json:"emailVerified"`
	TwoFactorEnabled        bool            `db:"two_factor_enabled" json:"twoFactorEnabled"`
	KYCStatus               KYCStatus       `db:"kyc_status" json:"kycStatus"`
	DailyWithdrawalLimitUSD decimal.Decimal `db:"daily_withdrawal_limit_usd" json:"dailyWithdrawalLimitUsd"`
	IsActive                bool            `db:"is_active" json:"isActive"`
	LastLoginAt             *time.Time      `db:"last_login_at" json:"lastLoginAt,omitempty"`
	CreatedAt               time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt               time.Time       `db:"updated_at" json:"updatedAt"`
}

// Session is one refresh-token session. RefreshTokenHash is the keyed
// digest of the opaque refresh token; the plaintext is never stored.
type Session struct {
	ID               uuid.UUID `db:"id" json:"id"`
	UserID           uuid.UUID `db:"user_id" json:"userId"`
	RefreshTokenHash string    `db:"refresh_token_hash" json:"-"`
	DeviceName       *string   `db:"device_name" json:"deviceName,omitempty"`
	IPAddress        *string   `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent        *string   `db:"user_agent" json:"userAgent,omitempty"`
	LastActiveAt     time.Time `db:"last_active_at" json:"lastActiveAt"`
	ExpiresAt        time.Time `db:"expires_at" json:"expiresAt"`
	IsRevoked        bool      `db:"is_revoked" json:"isRevoked"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
}

// TwoFactorSecret holds the sealed TOTP secret for a user. A secret is
// provisional until the first successful code verification.
type TwoFactorSecret struct {
	UserID          uuid.UUID `db:"user_id"`
	EncryptedSecret []byte    `db:"encrypted_secret"`
	IsVerified      bool      `db:"is_verified"`
	CreatedAt       time.Time `db:"created_at"`
}

// RecoveryCode is a single-use 2FA fallback. Only the hash of the code
// is stored.
type RecoveryCode struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	CodeHash  string    `db:"code_hash"`
	Used      bool      `db:"used"`
	CreatedAt time.Time `db:"created_at"`
}
