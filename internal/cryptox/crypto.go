// Package cryptox implements the keepsake content codec: authenticated
// AES-256-GCM encryption of a single text payload under a per-vault key,
// plus derivation of that key from the vault salt.
//
// The codec is stateless. Keys are never stored; callers derive them with
// DeriveVaultKey on every encrypt/decrypt call.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the required AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes (128 bits).
	NonceSize = 16
	// TagSize is the GCM authentication tag length appended to the ciphertext.
	TagSize = 16
)

// keyDomain separates vault keys from any other argon2 use of the same salt.
var keyDomain = []byte("keepsake/vault-key/v1")

// EncryptedContent is an immutable ciphertext/nonce pair, both base64 encoded.
// A content update produces a new value, it is never mutated in place.
type EncryptedContent struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
}

// IsZero reports whether no content has been set.
func (c EncryptedContent) IsZero() bool {
	return c.Ciphertext == "" && c.Nonce == ""
}

// DeriveVaultKey derives the 32-byte content key for a vault from its random
// salt and an optional server-side pepper. The derivation is one-way.
func DeriveVaultKey(salt, pepper []byte) []byte {
	s := make([]byte, 0, len(keyDomain)+len(pepper))
	s = append(s, keyDomain...)
	s = append(s, pepper...)
	return argon2.IDKey(salt, s, 1, 64*1024, 4, KeySize)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", common.ErrInvalidKeyLength, len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCMWithNonceSize(block, NonceSize)
}

// Encrypt seals plaintext under key with a fresh random nonce. Encrypting the
// same plaintext twice yields different ciphertext/nonce pairs.
func Encrypt(plaintext string, key []byte) (EncryptedContent, error) {
	aead, err := newGCM(key)
	if err != nil {
		return EncryptedContent{}, err
	}

	if plaintext == "" {
		return EncryptedContent{}, common.ErrEmptyContent
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return EncryptedContent{}, err
	}

	ciphertext := aead.Seal(nil, nonce, []byte(plaintext), nil)

	return EncryptedContent{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Decrypt opens content under key. Any authentication failure, including a
// wrong key or tampered ciphertext, yields ErrDecryptionFailed and no plaintext.
func Decrypt(content EncryptedContent, key []byte) (string, error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(content.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: malformed ciphertext", common.ErrDecryptionFailed)
	}

	nonce, err := base64.StdEncoding.DecodeString(content.Nonce)
	if err != nil || len(nonce) != NonceSize {
		return "", fmt.Errorf("%w: malformed nonce", common.ErrDecryptionFailed)
	}

	if len(ciphertext) < TagSize {
		return "", fmt.Errorf("%w: ciphertext too short", common.ErrDecryptionFailed)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", common.ErrDecryptionFailed
	}

	return string(plaintext), nil
}
