package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	envelopeKeySize   = 32
	envelopeNonceSize = 12
)

// envelopeInfo domain-separates the encryption key from the signing key so
// a leak of ciphertext material never exposes transaction authority.
var envelopeInfo = []byte("qawakun/profile-envelope/v1")

// ErrCiphertextTooShort is returned when the input is shorter than the
// prepended nonce.
var ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

// Envelope seals and opens profile payloads with AES-256-GCM. The nonce is
// generated per message and prepended to the ciphertext; the whole blob is
// hex encoded for transport.
type Envelope struct {
	aead cipher.AEAD
}

// NewEnvelope derives the symmetric key from the signer's secret via
// HKDF-SHA256 and prepares the AEAD.
func NewEnvelope(signer *Signer) (*Envelope, error) {
	if signer == nil {
		return nil, errors.New("crypto: signer required")
	}
	key := make([]byte, envelopeKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, signer.KeyBytes(), nil, envelopeInfo), key); err != nil {
		return nil, fmt.Errorf("crypto: derive envelope key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: init gcm: %w", err)
	}
	return &Envelope{aead: aead}, nil
}

// Seal encrypts the payload and returns hex(nonce || ciphertext).
func (e *Envelope) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, envelopeNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, plaintext, nil)
	return hex.EncodeToString(sealed), nil
}

// Open decrypts a hex(nonce || ciphertext) blob produced by Seal.
func (e *Envelope) Open(encoded string) ([]byte, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode ciphertext: %w", err)
	}
	if len(raw) < envelopeNonceSize {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := raw[:envelopeNonceSize], raw[envelopeNonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: open envelope: %w", err)
	}
	return plaintext, nil
}
