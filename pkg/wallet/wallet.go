// Package wallet derives the run's signing key from a BIP-39 secret phrase.
package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/cosmos/go-bip39"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultDerivationPath is the first account of the standard Ethereum path.
const DefaultDerivationPath = "m/44'/60'/0'/0/0"

// ErrInvalidMnemonic is returned for phrases that fail the BIP-39 checksum.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// Wallet holds an externally-owned account key.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// FromMnemonic derives the key at path from mnemonic. An empty path uses DefaultDerivationPath.
func FromMnemonic(mnemonic, path string) (*Wallet, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	if path == "" {
		path = DefaultDerivationPath
	}
	derivation, err := accounts.ParseDerivationPath(path)
	if err != nil {
		return nil, fmt.Errorf("parse derivation path %q: %w", path, err)
	}

	seed := bip39.NewSeed(mnemonic, "")
	node, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	for _, index := range derivation {
		if node, err = node.Derive(index); err != nil {
			return nil, fmt.Errorf("derive %s: %w", path, err)
		}
	}

	ecKey, err := node.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("extract private key: %w", err)
	}
	key, err := crypto.ToECDSA(ecKey.Serialize())
	if err != nil {
		return nil, fmt.Errorf("convert private key: %w", err)
	}
	return FromKey(key), nil
}

// FromKey wraps an existing private key.
func FromKey(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the account address
func (w *Wallet) Address() common.Address {
	return w.address
}

// PrivateKey returns the signing key
func (w *Wallet) PrivateKey() *ecdsa.PrivateKey {
	return w.key
}

// SignHash signs a 32-byte digest and returns the 65-byte [R || S || V] signature.
func (w *Wallet) SignHash(hash []byte) ([]byte, error) {
	return crypto.Sign(hash, w.key)
}
