// Package vault provides authenticated encryption for agent
// credentials. Secrets are stored only as ciphertext and decrypted
// transiently at the point a provider call needs them.
package vault

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size in bytes of the server-held vault key.
const KeySize = chacha20poly1305.KeySize

// blobVersion is prepended to every ciphertext and bound into the
// AEAD as additional authenticated data, so tampering with it fails
// authentication.
const blobVersion byte = 0x01

// Overhead is the total byte overhead per sealed blob:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const Overhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

var (
	ErrBadKey     = errors.New("vault: key must be 32 bytes")
	ErrCiphertext = errors.New("vault: malformed or tampered ciphertext")
)

// Vault seals and opens credential values under a server-held key.
type Vault struct {
	key []byte
}

// New creates a vault from a raw 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, ErrBadKey
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Vault{key: k}, nil
}

// NewFromHex creates a vault from a hex-encoded key, the form the
// service configuration carries.
func NewFromHex(encoded string) (*Vault, error) {
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault: decode key: %w", err)
	}
	return New(key)
}

// GenerateKey returns a fresh random vault key, hex encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("vault: generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Seal encrypts a plaintext credential value. The blob layout is
//
//	[version: 1 byte] [nonce: 24 bytes, random] [ciphertext+tag]
//
// A fresh nonce per call means equal plaintexts never produce equal
// ciphertexts.
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}

	blob := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	blob[0] = blobVersion
	nonce := blob[1 : 1+aead.NonceSize()]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce: %w", err)
	}

	return aead.Seal(blob, nonce, plaintext, []byte{blobVersion}), nil
}

// Open decrypts a sealed blob and returns the plaintext. Callers must
// not retain the plaintext beyond the provider call that needed it.
func (v *Vault) Open(blob []byte) ([]byte, error) {
	if len(blob) < Overhead {
		return nil, ErrCiphertext
	}
	if blob[0] != blobVersion {
		return nil, ErrCiphertext
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}

	nonce := blob[1 : 1+aead.NonceSize()]
	ciphertext := blob[1+aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte{blob[0]})
	if err != nil {
		return nil, ErrCiphertext
	}
	return plaintext, nil
}
