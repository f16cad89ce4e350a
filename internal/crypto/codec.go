// Package crypto provides the authenticated encryption codec for message
// bodies. Bodies are stored as AES-256-GCM blobs encoded as
// base64(nonce ‖ ciphertext ‖ tag), with a fresh random nonce per call.
// The key is process-wide configuration; the codec has no knowledge of
// threads or users.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/loqui/social-core/internal/domain"
)

// KeySize is the required AES-256 key length in bytes.
const KeySize = 32

// DeriveKey decodes a hex-encoded key string into a 32-byte AES-256 key.
func DeriveKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid hex key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes (%d hex chars), got %d", KeySize, KeySize*2, len(key))
	}
	return key, nil
}

// Codec encrypts and decrypts message bodies with a fixed process-wide key.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a Codec from a 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt seals plaintext into a transport-encoded blob. The nonce is
// generated fresh for every call and prefixed to the ciphertext so the
// blob is self-contained.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce generation: %w", err)
	}

	// Seal appends ciphertext+tag to the nonce prefix.
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt, verifying the authentication
// tag before returning the plaintext. Tampered, truncated, or otherwise
// malformed blobs fail with domain.ErrIntegrity.
func (c *Codec) Decrypt(blob string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode: %v", domain.ErrIntegrity, err)
	}

	min := c.aead.NonceSize() + c.aead.Overhead()
	if len(data) < min {
		return "", fmt.Errorf("%w: blob shorter than nonce+tag (%d < %d)", domain.ErrIntegrity, len(data), min)
	}

	nonce, ciphertext := data[:c.aead.NonceSize()], data[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication tag mismatch", domain.ErrIntegrity)
	}
	return string(plaintext), nil
}
