// Package wallet holds the signing seams: the HD signer that derives
// per-user deposit addresses, and the treasury keyring that seals hot
// wallet keys at rest and signs payout transactions. The master seed
// never leaves the signer implementation; production deployments plug
// an HSM or KMS backed Signer.
package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoSigner is returned when deposit-address derivation is requested
// but no signer is configured. Address allocation fails cleanly instead
// of inventing addresses nobody controls.
var ErrNoSigner = errors.New("wallet: no signer configured")

// Signer derives deposit addresses along BIP-44 style paths. The index
// is assigned by the deposit service; the signer only turns (chain,
// index) into an address it can later spend from.
type Signer interface {
	// DeriveAddress returns the deposit address for index on an EVM
	// chain, together with the derivation path recorded on the row.
	DeriveAddress(evmChainID int64, index int64) (common.Address, string, error)
}

// DerivationPath renders the fixed deposit derivation path for index.
func DerivationPath(index int64) string {
	return fmt.Sprintf("m/44'/60'/0'/0/%d", index)
}

// DevSigner is a deterministic development signer seeded from
// configuration. Each index maps to the keccak of the seed and the
// derivation path; good enough to exercise the pipeline end to end,
// never acceptable for production custody.
type DevSigner struct {
	seed []byte
}

// NewDevSigner builds a DevSigner from a seed string.
func NewDevSigner(seed string) (*DevSigner, error) {
	if len(seed) < 16 {
		return nil, errors.New("wallet: dev signer seed must be at least 16 characters")
	}
	return &DevSigner{seed: []byte(seed)}, nil
}

func (s *DevSigner) key(evmChainID int64, index int64) (*ecdsa.PrivateKey, error) {
	material := crypto.Keccak256(s.seed, []byte(fmt.Sprintf("/%d%s", evmChainID, DerivationPath(index))))
	key, err := crypto.ToECDSA(material)
	if err != nil {
		return nil, fmt.Errorf("wallet: derive key: %w", err)
	}
	return key, nil
}

// DeriveAddress implements Signer.
func (s *DevSigner) DeriveAddress(evmChainID int64, index int64) (common.Address, string, error) {
	key, err := s.key(evmChainID, index)
	if err != nil {
		return common.Address{}, "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey), DerivationPath(index), nil
}

// SignTx signs tx with key for the given chain, using the newest signer
// the chain supports.
func SignTx(tx *types.Transaction, evmChainID int64, key *ecdsa.PrivateKey) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(bigInt(evmChainID)), key)
	if err != nil {
		return nil, fmt.Errorf("wallet: sign tx: %w", err)
	}
	return signed, nil
}
