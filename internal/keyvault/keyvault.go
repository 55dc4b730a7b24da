// Package keyvault encrypts user-supplied provider API keys at rest.
//
// Keys are sealed with AES-256-GCM under a server-held secret. Every call to
// Encrypt draws a fresh 12-byte IV, which is stored next to the ciphertext.
package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoKey             = errors.New("encryption key not configured")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

const ivSize = 12

type Vault struct {
	aead cipher.AEAD
}

// New accepts a 32-byte key encoded as base64 or hex. Any other non-empty
// secret is stretched with SHA-256.
func New(secret string) (*Vault, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrNoKey
	}
	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

func deriveKey(secret string) []byte {
	if raw, err := base64.StdEncoding.DecodeString(secret); err == nil && len(raw) == 32 {
		return raw
	}
	if raw, err := hex.DecodeString(secret); err == nil && len(raw) == 32 {
		return raw
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Sealed is the stored form of an encrypted key.
type Sealed struct {
	Ciphertext string
	IV         string
}

func (v *Vault) Encrypt(plaintext string) (Sealed, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return Sealed{}, fmt.Errorf("generate iv: %w", err)
	}
	out := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	return Sealed{
		Ciphertext: base64.StdEncoding.EncodeToString(out),
		IV:         base64.StdEncoding.EncodeToString(iv),
	}, nil
}

func (v *Vault) Decrypt(sealed Sealed) (string, error) {
	iv, err := base64.StdEncoding.DecodeString(sealed.IV)
	if err != nil || len(iv) != ivSize {
		return "", ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	plain, err := v.aead.Open(nil, iv, data, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}

// Hint returns the masked tail shown in key status responses.
func Hint(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return "..." + key[len(key)-4:]
}
