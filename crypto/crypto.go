// Package crypto seals small values, such as the panel session cookie, with AES-256-GCM
// so they can be handed to a browser and trusted when they come back.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidToken is returned for sealed values that fail authentication, are malformed
// or have expired.
var ErrInvalidToken = errors.New("invalid or expired token")

// Encryptor defines the interface for encrypting and decrypting data.
// Implementations must provide authenticated encryption (AEAD).
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESEncryptor implements Encryptor using AES-256-GCM.
type AESEncryptor struct {
	aead cipher.AEAD
}

// NewAESEncryptor derives a 256-bit key from secret with SHA-256. Any non-empty
// passphrase works, so operators can set PANEL_SESSION_KEY to free text.
func NewAESEncryptor(secret string) (*AESEncryptor, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &AESEncryptor{aead: gcm}, nil
}

// Encrypt returns nonce || ciphertext || tag. The nonce is random per call.
func (e *AESEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is empty")
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt verifies and opens a value produced by Encrypt.
func (e *AESEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("ciphertext is empty")
	}
	nonceSize := e.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short: expected at least %d bytes, got %d", nonceSize, len(ciphertext))
	}
	plaintext, err := e.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		// Don't expose internal error details.
		return nil, fmt.Errorf("decryption failed: authentication or integrity check failed")
	}
	return plaintext, nil
}

// EncryptString encrypts a string and returns URL-safe base64, suitable for cookies.
func EncryptString(enc Encryptor, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	ciphertext, err := enc.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// DecryptString reverses EncryptString.
func DecryptString(enc Encryptor, sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	ciphertext, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	plaintext, err := enc.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// SessionSealer issues and verifies expiring session tokens bound to a username.
type SessionSealer struct {
	Enc Encryptor
	TTL time.Duration
	Now func() time.Time
}

func (s *SessionSealer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Seal returns an opaque token for user valid for TTL.
func (s *SessionSealer) Seal(user string) (string, error) {
	exp := s.now().Add(s.TTL).Unix()
	return EncryptString(s.Enc, strconv.FormatInt(exp, 10)+"|"+user)
}

// Open returns the user a token was sealed for, or ErrInvalidToken.
func (s *SessionSealer) Open(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	plain, err := DecryptString(s.Enc, token)
	if err != nil {
		return "", ErrInvalidToken
	}
	expRaw, user, ok := strings.Cut(plain, "|")
	if !ok || user == "" {
		return "", ErrInvalidToken
	}
	exp, err := strconv.ParseInt(expRaw, 10, 64)
	if err != nil || s.now().Unix() >= exp {
		return "", ErrInvalidToken
	}
	return user, nil
}
