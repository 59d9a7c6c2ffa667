// Package crypt encrypts OAuth tokens before they reach the credential store.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize is the required key length for AES-256.
const KeySize = 32

// ErrCorruptCredential indicates that a stored ciphertext could not be
// decrypted: it is malformed, truncated, or was sealed under a different key.
// A record that produces this error cannot be recovered without the user
// re-authenticating.
var ErrCorruptCredential = errors.New("corrupt credential ciphertext")

// Codec provides authenticated encryption for token strings at rest.
// It uses AES-256-GCM with a random nonce per encryption; the stored form
// is base64(nonce || ciphertext || tag).
//
// The key is process-wide, loaded once at startup, and held only in memory.
type Codec struct {
	key []byte
}

// NewCodec creates a Codec from a 32-byte AES-256 key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Codec{key: k}, nil
}

// Encrypt seals plaintext and returns the base64-encoded ciphertext.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	gcm, err := c.aead()
	if err != nil {
		return "", err
	}

	// Nonce must be unique for each encryption under the same key.
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any malformed input or
// authentication failure returns an error wrapping ErrCorruptCredential;
// garbage plaintext is never returned silently.
func (c *Codec) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrCorruptCredential, err)
	}

	gcm, err := c.aead()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrCorruptCredential)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptCredential, err)
	}

	return string(plaintext), nil
}

func (c *Codec) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// GenerateKey generates a fresh 32-byte encryption key. Call it once and
// store the key persistently; a new key on every start orphans all stored
// credentials.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate encryption key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes key material from its environment representation.
// Both standard and URL-safe base64 alphabets are accepted, with or without
// padding, so Fernet-style keys work unchanged.
func KeyFromBase64(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, errors.New("encryption key is empty")
	}

	var key []byte
	var err error
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding, base64.RawURLEncoding,
		base64.StdEncoding, base64.RawStdEncoding,
	} {
		key, err = enc.DecodeString(encoded)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}

	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must decode to %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// KeyToBase64 encodes a key for storage in the environment.
func KeyToBase64(key []byte) string {
	return base64.URLEncoding.EncodeToString(key)
}
