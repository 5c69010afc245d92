// Package encryption protects per-city vendor API tokens at rest with
// AES-256-GCM. The key comes from ENCRYPTION_KEY: either 64 hex characters
// used directly, or any other passphrase stretched to 32 bytes via HKDF.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/hkdf"

	"github.com/engagic/engagic/pkg/logger"
)

// Common errors
var (
	ErrKeyNotConfigured = errors.New("encryption key not configured")
	ErrDecryptionFailed = errors.New("failed to decrypt data")
)

// hkdfInfo domain-separates the derived key from any other use of the same
// passphrase.
const hkdfInfo = "engagic vendor token encryption v1"

// Service encrypts and decrypts short secrets. A Service built without a
// key is valid but refuses both operations.
type Service struct {
	aead cipher.AEAD
	log  *slog.Logger
}

// NewService builds the AEAD from the configured key. An empty key yields a
// disabled service; a malformed key is a hard error.
func NewService(key string, log *slog.Logger) (*Service, error) {
	scoped := log.With(logger.Scope("encryption"))

	if key == "" {
		scoped.Warn("ENCRYPTION_KEY not set - vendor token storage disabled")
		return &Service{log: scoped}, nil
	}

	material, err := keyMaterial(key)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to build GCM: %w", err)
	}

	return &Service{aead: aead, log: scoped}, nil
}

// keyMaterial turns the configured key into 32 bytes
func keyMaterial(key string) ([]byte, error) {
	if decoded, err := hex.DecodeString(key); err == nil && len(decoded) == 32 {
		return decoded, nil
	}

	material := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(key), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, material); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return material, nil
}

// IsConfigured returns true if encryption is available
func (s *Service) IsConfigured() bool {
	return s.aead != nil
}

// Encrypt seals the plaintext and returns base64(nonce || ciphertext)
func (s *Service) Encrypt(plaintext string) (string, error) {
	if !s.IsConfigured() {
		return "", ErrKeyNotConfigured
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered or foreign ciphertexts return
// ErrDecryptionFailed.
func (s *Service) Decrypt(encoded string) (string, error) {
	if !s.IsConfigured() {
		return "", ErrKeyNotConfigured
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	if len(sealed) < s.aead.NonceSize() {
		return "", ErrDecryptionFailed
	}

	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}
