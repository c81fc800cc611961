// Package sealbox seals small secrets (per-payment Solana private keys) with
// AES-256-GCM. Sealed values are self-contained: nonce || ciphertext, hex
// encoded for JSON transport.
package sealbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// KeySize is the required key length in bytes.
const KeySize = 32

var (
	// ErrBadKey indicates the sealing key has the wrong length.
	ErrBadKey = errors.New("sealbox: key must be 32 bytes")
	// ErrCorrupt indicates a sealed value that cannot be opened.
	ErrCorrupt = errors.New("sealbox: sealed value corrupt or wrong key")
)

// Seal encrypts plaintext under key and returns a hex-encoded sealed value.
func Seal(plaintext, key []byte) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("sealbox: nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return hex.EncodeToString(sealed), nil
}

// Open decrypts a sealed value produced by Seal.
func Open(sealed string, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(sealed)
	if err != nil {
		return nil, ErrCorrupt
	}
	if len(raw) < aead.NonceSize() {
		return nil, ErrCorrupt
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCorrupt
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealbox: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealbox: gcm: %w", err)
	}
	return aead, nil
}
