package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// kdfIterations keeps a single key unwrap fast enough for request handling
// while remaining expensive enough to resist brute force of the master secret.
const kdfIterations = 600_000

// kdfSalt is an application-level salt for deriving the key-encryption key.
// It is fixed so the same master secret always derives the same KEK.
var kdfSalt = []byte("safeguard-api/contact-key-wrap/v1")

// ErrMasterKeyTooShort indicates the supplied master secret is unusable.
// Callers treat this as fatal at startup; there is no fallback key.
var ErrMasterKeyTooShort = errors.New("master key must be at least 32 bytes")

// Protector wraps per-record data keys under a key derived from the master
// secret, so the master secret itself is never used for bulk encryption. The
// derived KEK is computed once at construction; the master secret is not
// retained.
type Protector struct {
	kek []byte
}

// NewProtector derives the key-encryption key from masterSecret.
func NewProtector(masterSecret []byte) (*Protector, error) {
	if len(masterSecret) < KeySize {
		return nil, ErrMasterKeyTooShort
	}
	kek := pbkdf2.Key(masterSecret, kdfSalt, kdfIterations, KeySize, sha256.New)
	return &Protector{kek: kek}, nil
}

// GenerateDataKey returns a fresh random per-record key.
func (p *Protector) GenerateDataKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return key, nil
}

// WrapKey encrypts a raw data key under the derived KEK for storage.
func (p *Protector) WrapKey(rawKey []byte) (string, error) {
	if len(rawKey) != KeySize {
		return "", ErrInvalidKey
	}
	env, err := Encrypt(rawKey, p.kek)
	if err != nil {
		return "", fmt.Errorf("failed to wrap key: %w", err)
	}
	return Marshal(env)
}

// UnwrapKey recovers a data key from its stored wrapped form. Tag mismatch
// surfaces as ErrIntegrityCheckFailed and is terminal for the operation.
func (p *Protector) UnwrapKey(blob string) ([]byte, error) {
	env, err := Unmarshal(blob)
	if err != nil {
		return nil, err
	}
	return Decrypt(env, p.kek)
}
