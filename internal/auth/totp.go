package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	recoveryCodeCount = 10
	recoveryCodeLen   = 8
	// Base32-ish alphabet without easily confused characters.
	recoveryAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// generateTOTPSecret mints a fresh secret and its otpauth:// URL for QR
// provisioning.
func generateTOTPSecret(issuer, account string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", fmt.Errorf("auth: generate totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// validateTOTP checks a six-digit code against secret with the RFC 6238
// defaults and a ±1 step window for clock skew.
func validateTOTP(code, secret string, now time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// generateRecoveryCodes mints the one-shot fallback codes. Only hashes
// are stored; the plaintext batch is shown to the user exactly once.
func generateRecoveryCodes() (codes, hashes []string, err error) {
	codes = make([]string, recoveryCodeCount)
	hashes = make([]string, recoveryCodeCount)
	for i := range codes {
		buf := make([]byte, recoveryCodeLen)
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, fmt.Errorf("auth: recovery codes: %w", err)
		}
		b := make([]byte, recoveryCodeLen)
		for j, v := range buf {
			b[j] = recoveryAlphabet[int(v)%len(recoveryAlphabet)]
		}
		codes[i] = string(b)
		hashes[i] = hashRecoveryCode(codes[i])
	}
	return codes, hashes, nil
}

func hashRecoveryCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func totpAAD(userID uuid.UUID) []byte {
	return []byte("totp:" + userID.String())
}
