// Package vault seals small secrets (TOTP seeds, treasury signing keys)
// for storage at rest. Keys are derived from the service master key with
// scrypt and sealed with AES-256-GCM; the random nonce is prepended to
// the ciphertext. Callers bind each blob to its owning row through the
// additional-data parameter so a blob copied between rows fails to open.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	// Domain separation for the derived key. Bump the suffix if the
	// derivation parameters ever change so old blobs stay decryptable
	// during a re-encryption rollout.
	domainSalt = "openvault/staked:v1"

	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	derivedKeyLn = 32
)

// ErrDecrypt is returned when a blob fails authentication, either
// because the master key is wrong or the additional data does not match.
var ErrDecrypt = errors.New("vault: message authentication failed")

// Vault derives one AES-256 key per process from the master key and
// seals/opens blobs with it. Safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// New derives the sealing key from masterKey. The scrypt call is
// intentionally slow; construct the Vault once at startup and share it.
func New(masterKey string) (*Vault, error) {
	if len(masterKey) < 16 {
		return nil, errors.New("vault: master key must be at least 16 characters")
	}
	key, err := scrypt.Key([]byte(masterKey), []byte(domainSalt), scryptN, scryptR, scryptP, derivedKeyLn)
	if err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Seal encrypts plaintext and binds it to additionalData. The returned
// blob is nonce || ciphertext || tag.
func (v *Vault) Seal(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Open decrypts a blob produced by Seal. additionalData must match the
// value given at seal time byte for byte.
func (v *Vault) Open(blob, additionalData []byte) ([]byte, error) {
	if len(blob) < v.aead.NonceSize() {
		return nil, ErrDecrypt
	}
	nonce, ciphertext := blob[:v.aead.NonceSize()], blob[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
