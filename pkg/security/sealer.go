package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrUnknownKeyVersion is returned when a sealed blob references a key the sealer does not hold.
	ErrUnknownKeyVersion = errors.New("unknown sealing key version")
	// ErrMalformedSealed signals a blob that cannot be decoded or authenticated.
	ErrMalformedSealed = errors.New("malformed sealed payload")
)

// Sealer encrypts small payloads at rest with XChaCha20-Poly1305 under versioned keys.
type Sealer struct {
	keys    map[int][]byte
	current int
}

// NewSealer builds a sealer whose current key is secret at the given version.
// Secrets of any length are stretched to 32 bytes with SHA-256.
func NewSealer(secret string, version int) (*Sealer, error) {
	if secret == "" {
		return nil, fmt.Errorf("sealing secret is required")
	}
	if version <= 0 {
		return nil, fmt.Errorf("sealing key version must be positive")
	}
	s := &Sealer{keys: map[int][]byte{}, current: version}
	s.keys[version] = deriveKey(secret)
	return s, nil
}

// WithPreviousKey registers a retired key so older payloads can still be opened.
func (s *Sealer) WithPreviousKey(secret string, version int) *Sealer {
	if s == nil || secret == "" || version <= 0 || version == s.current {
		return s
	}
	s.keys[version] = deriveKey(secret)
	return s
}

// KeyVersion returns the version used by Seal.
func (s *Sealer) KeyVersion() int {
	return s.current
}

// Seal encrypts plaintext with the current key.
func (s *Sealer) Seal(plaintext []byte) (string, int, error) {
	aead, err := chacha20poly1305.NewX(s.keys[s.current])
	if err != nil {
		return "", 0, fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", 0, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawStdEncoding.EncodeToString(sealed), s.current, nil
}

// Open decrypts a blob produced by Seal with the given key version.
func (s *Sealer) Open(encoded string, version int) ([]byte, error) {
	key, ok := s.keys[version]
	if !ok {
		return nil, ErrUnknownKeyVersion
	}
	raw, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformedSealed
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrMalformedSealed
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrMalformedSealed
	}
	return plaintext, nil
}

// SecretsEqual compares two shared secrets in constant time.
func SecretsEqual(expected, provided string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

func deriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}
