package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/models"
)

// Claims is the access-token payload. The session id ties the token to
// a revocable session row; role rides along so middleware can gate
// without a user lookup, but ownership checks always reload the user.
type Claims struct {
	UserID    uuid.UUID   `json:"uid"`
	SessionID uuid.UUID   `json:"sid"`
	Role      models.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenPair is what login, register and refresh hand back.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Tokens mints and verifies access tokens and opaque refresh tokens.
type Tokens struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	clock         clock.Clock
}

func NewTokens(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration, clk clock.Clock) *Tokens {
	return &Tokens{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		clock:         clk,
	}
}

// RefreshTTL exposes the refresh lifetime for session rows.
func (t *Tokens) RefreshTTL() time.Duration { return t.refreshTTL }

// MintAccess signs a short-lived access token for user bound to session.
func (t *Tokens) MintAccess(user *models.User, sessionID uuid.UUID) (string, error) {
	now := t.clock.Now()
	claims := Claims{
		UserID:    user.ID,
		SessionID: sessionID,
		Role:      user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.accessSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign access token: %w", err)
	}
	return signed, nil
}

// VerifyAccess parses and validates an access token's signature and
// expiry. Session liveness is checked separately against the store.
func (t *Tokens) VerifyAccess(tokenString string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.accessSecret, nil
	}, jwt.WithTimeFunc(t.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("auth: parse access token: %w", err)
	}
	return &claims, nil
}

// NewRefreshToken mints an opaque 256-bit refresh token. Only its hash
// is stored; the plaintext goes to the client once and is never
// recoverable.
func (t *Tokens) NewRefreshToken() (plaintext, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("auth: refresh token: %w", err)
	}
	plaintext = base64.RawURLEncoding.EncodeToString(raw)
	return plaintext, t.HashRefreshToken(plaintext), nil
}

// HashRefreshToken keys the session row. SHA-256 is keyed with the
// refresh secret so a leaked database alone cannot be used to forge
// lookups.
func (t *Tokens) HashRefreshToken(plaintext string) string {
	h := sha256.New()
	h.Write(t.refreshSecret)
	h.Write([]byte(plaintext))
	return hex.EncodeToString(h.Sum(nil))
}
