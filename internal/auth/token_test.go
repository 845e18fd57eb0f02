package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/models"
)

func testTokens(clk clock.Clock) *Tokens {
	return NewTokens("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour, clk)
}

func TestMintAndVerifyAccess(t *testing.T) {
	clk := clock.NewSimulated(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	tokens := testTokens(clk)
	user := &models.User{ID: uuid.New(), Role: models.RoleAdmin}
	sessionID := uuid.New()

	signed, err := tokens.MintAccess(user, sessionID)
	require.NoError(t, err)

	claims, err := tokens.VerifyAccess(signed)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, sessionID, claims.SessionID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestVerifyAccessExpired(t *testing.T) {
	clk := clock.NewSimulated(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	tokens := testTokens(clk)

	signed, err := tokens.MintAccess(&models.User{ID: uuid.New(), Role: models.RoleUser}, uuid.New())
	require.NoError(t, err)

	clk.Advance(16 * time.Minute)
	_, err = tokens.VerifyAccess(signed)
	assert.Error(t, err)
}

func TestVerifyAccessWrongSecret(t *testing.T) {
	clk := clock.NewSimulated(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	minted := testTokens(clk)
	other := NewTokens("different-secret", "refresh-secret", 15*time.Minute, time.Hour, clk)

	signed, err := minted.MintAccess(&models.User{ID: uuid.New(), Role: models.RoleUser}, uuid.New())
	require.NoError(t, err)

	_, err = other.VerifyAccess(signed)
	assert.Error(t, err)
}

func TestRefreshTokenHashing(t *testing.T) {
	clk := clock.NewSimulated(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	tokens := testTokens(clk)

	plain, hash, err := tokens.NewRefreshToken()
	require.NoError(t, err)
	assert.NotEmpty(t, plain)
	assert.Equal(t, hash, tokens.HashRefreshToken(plain))

	// The hash is keyed: a different refresh secret yields a different
	// digest for the same plaintext.
	other := NewTokens("access-secret", "other-refresh-secret", time.Minute, time.Hour, clk)
	assert.NotEqual(t, hash, other.HashRefreshToken(plain))

	plain2, hash2, err := tokens.NewRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, plain, plain2)
	assert.NotEqual(t, hash, hash2)
}

func TestTOTPRoundTrip(t *testing.T) {
	secret, url, err := generateTOTPSecret("OpenVault", "user@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.Contains(t, url, "otpauth://totp/")

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	code, err := totp.GenerateCodeCustom(secret, now, totp.ValidateOpts{
		Period: 30, Skew: 1, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	assert.True(t, validateTOTP(code, secret, now))
	// Within the skew window.
	assert.True(t, validateTOTP(code, secret, now.Add(30*time.Second)))
	// Outside it.
	assert.False(t, validateTOTP(code, secret, now.Add(5*time.Minute)))
	assert.False(t, validateTOTP("000000", secret, now))
}

func TestRecoveryCodes(t *testing.T) {
	codes, hashes, err := generateRecoveryCodes()
	require.NoError(t, err)
	require.Len(t, codes, recoveryCodeCount)
	require.Len(t, hashes, recoveryCodeCount)

	seen := map[string]bool{}
	for i, code := range codes {
		assert.Len(t, code, recoveryCodeLen)
		assert.Equal(t, hashes[i], hashRecoveryCode(code))
		assert.False(t, seen[code], "duplicate recovery code")
		seen[code] = true
	}
}
