package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// Derivation path m/44'/60'/0'/0/0, the first account of the standard
// Ethereum tree.
var signerPath = []uint32{
	bip32.FirstHardenedChild + 44,
	bip32.FirstHardenedChild + 60,
	bip32.FirstHardenedChild,
	0,
	0,
}

// Signer holds the service's operator key used for both on-chain
// transactions and symmetric key derivation.
type Signer struct {
	priv *ecdsa.PrivateKey
}

// NewSignerFromMnemonic derives the operator key from a BIP-39 phrase.
func NewSignerFromMnemonic(mnemonic string) (*Signer, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("crypto: invalid mnemonic phrase")
	}
	seed := bip39.NewSeed(mnemonic, "")
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive master key: %w", err)
	}
	for _, step := range signerPath {
		key, err = key.NewChildKey(step)
		if err != nil {
			return nil, fmt.Errorf("crypto: derive child key: %w", err)
		}
	}
	priv, err := ethcrypto.ToECDSA(key.Key)
	if err != nil {
		return nil, fmt.Errorf("crypto: load derived key: %w", err)
	}
	return &Signer{priv: priv}, nil
}

// NewSignerFromHex loads the operator key from a hex-encoded private key.
func NewSignerFromHex(hexKey string) (*Signer, error) {
	priv, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return &Signer{priv: priv}, nil
}

// PrivateKey exposes the raw key for transaction signing.
func (s *Signer) PrivateKey() *ecdsa.PrivateKey {
	return s.priv
}

// Address returns the operator's checksummed hex address.
func (s *Signer) Address() string {
	return ethcrypto.PubkeyToAddress(s.priv.PublicKey).Hex()
}

// KeyBytes returns the 32-byte secret used as HKDF input material.
func (s *Signer) KeyBytes() []byte {
	return ethcrypto.FromECDSA(s.priv)
}
