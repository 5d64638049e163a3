// Package crypt encrypts anonymous transcript text with a tab-scoped
// AES-256-GCM key. The key lives in the same volatile medium as the
// ciphertext, so it bounds the transcript lifetime rather than defending
// against an attacker who can read that medium.
package crypt

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
)

const (
	// NonceSize is the AES-GCM IV size (96 bits), generated fresh per call
	// and prepended to the ciphertext before base64 encoding.
	NonceSize = 12
	// KeySize is the AES-256 key size.
	KeySize = 32
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	// ErrDecryptionFailed usually means the token was sealed under a key
	// from an earlier tab epoch that has since been lost.
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")
)

// KeyStore persists the session key alongside the ciphertext it protects.
type KeyStore interface {
	// LoadKey returns the stored key, or nil when none exists yet.
	LoadKey(ctx context.Context) ([]byte, error)
	StoreKey(ctx context.Context, key []byte) error
}

// Service performs symmetric encryption with a lazily created key.
type Service struct {
	mu   sync.Mutex
	keys KeyStore
	aead cipher.AEAD
}

// NewService wires a cipher service to the key store of one tab.
func NewService(keys KeyStore) *Service {
	return &Service{keys: keys}
}

// GenerateKey produces a fresh 256-bit random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// aeadLocked returns the AEAD, loading or creating the key on first use.
// Callers must hold s.mu.
func (s *Service) aeadLocked(ctx context.Context) (cipher.AEAD, error) {
	if s.aead != nil {
		return s.aead, nil
	}

	key, err := s.keys.LoadKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session key: %w", err)
	}
	if key == nil {
		key, err = GenerateKey()
		if err != nil {
			return nil, err
		}
		if err := s.keys.StoreKey(ctx, key); err != nil {
			return nil, fmt.Errorf("store session key: %w", err)
		}
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("session key has %d bytes, want %d", len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	s.aead = aead
	return aead, nil
}

// Forget drops the cached AEAD so the next operation loads or generates
// a key again. Called when the backing store is cleared, which starts a
// new key epoch.
func (s *Service) Forget() {
	s.mu.Lock()
	s.aead = nil
	s.mu.Unlock()
}

// Encrypt seals plaintext into base64(IV || ciphertext || tag).
func (s *Service) Encrypt(ctx context.Context, plaintext string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	aead, err := s.aeadLocked(ctx)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt.
func (s *Service) Decrypt(ctx context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	aead, err := s.aeadLocked(ctx)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < NonceSize {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := aead.Open(nil, raw[:NonceSize], raw[NonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// EncryptLenient degrades to returning the plaintext unchanged when
// encryption fails. Availability is preferred over strict confidentiality
// for the volatile store; the failure is logged, never raised.
func (s *Service) EncryptLenient(ctx context.Context, plaintext string) string {
	token, err := s.Encrypt(ctx, plaintext)
	if err != nil {
		log.Printf("[crypt] encrypt degraded to pass-through: %v", err)
		return plaintext
	}
	return token
}

// DecryptLenient degrades to returning the token unchanged when
// decryption fails. A tag mismatch here is the observable symptom of a
// lost key epoch, so it is logged loudly rather than swallowed.
func (s *Service) DecryptLenient(ctx context.Context, token string) string {
	plaintext, err := s.Decrypt(ctx, token)
	if err != nil {
		if errors.Is(err, ErrDecryptionFailed) {
			log.Printf("[crypt] ciphertext sealed under a lost key epoch, returning raw token: %v", err)
		} else {
			log.Printf("[crypt] decrypt degraded to pass-through: %v", err)
		}
		return token
	}
	return plaintext
}
