package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openvault/staked/internal/vault"
)

// Keyring seals and opens treasury private keys. Keys are stored as
// vault blobs bound to the wallet's address so a blob copied onto
// another row refuses to open.
type Keyring struct {
	vault *vault.Vault
}

func NewKeyring(v *vault.Vault) *Keyring {
	return &Keyring{vault: v}
}

// SealKey encrypts a hex-encoded secp256k1 private key for storage and
// returns the sealed blob plus the address it controls.
func (k *Keyring) SealKey(privateKeyHex string) ([]byte, common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("wallet: parse private key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	blob, err := k.vault.Seal(crypto.FromECDSA(key), keyAAD(addr))
	if err != nil {
		return nil, common.Address{}, err
	}
	return blob, addr, nil
}

// OpenKey decrypts a sealed treasury key. The address must be the one
// recorded on the wallet row; a mismatch fails authentication.
func (k *Keyring) OpenKey(blob []byte, address string) (*ecdsa.PrivateKey, error) {
	plain, err := k.vault.Open(blob, keyAAD(common.HexToAddress(address)))
	if err != nil {
		return nil, err
	}
	key, err := crypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("wallet: decode private key: %w", err)
	}
	return key, nil
}

// GenerateKey mints a fresh treasury key, sealed and ready to store.
// Used by the seed command for development environments.
func (k *Keyring) GenerateKey() ([]byte, common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("wallet: generate key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	blob, err := k.vault.Seal(crypto.FromECDSA(key), keyAAD(addr))
	if err != nil {
		return nil, common.Address{}, err
	}
	return blob, addr, nil
}

func keyAAD(addr common.Address) []byte {
	return []byte("treasury:" + strings.ToLower(addr.Hex()))
}

func bigInt(v int64) *big.Int { return big.NewInt(v) }
