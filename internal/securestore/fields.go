package securestore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const keySize = 32

var (
	ErrInvalidKey    = errors.New("invalid master key")
	ErrMalformedData = errors.New("malformed sealed value")
)

// Sealer protects columns at rest. Sealed values are base64(nonce|ciphertext)
// under AES-256-GCM; lookup digests are keyed HMAC-SHA256 so equality queries
// work without storing the plaintext. Both keys are derived from one master key.
type Sealer struct {
	aead      cipher.AEAD
	lookupKey []byte
}

func NewSealer(master []byte) (*Sealer, error) {
	if len(master) != keySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(deriveKey(master, "courier/seal"))
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Sealer{aead: aead, lookupKey: deriveKey(master, "courier/lookup")}, nil
}

func deriveKey(master []byte, label string) []byte {
	mac := hmac.New(sha256.New, master)
	_, _ = mac.Write([]byte(label))
	return mac.Sum(nil)
}

// Seal encrypts plaintext. The empty string seals to the empty string.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Sealer) Open(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n+s.aead.Overhead() {
		return "", ErrMalformedData
	}
	pt, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	return string(pt), nil
}

// Lookup returns a deterministic digest of the case-folded, trimmed value.
func (s *Sealer) Lookup(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	mac := hmac.New(sha256.New, s.lookupKey)
	_, _ = mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
