package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Algorithm identifies the AEAD scheme used for field encryption. Stored with
// every envelope so ciphertexts remain decryptable across future rotations.
const Algorithm = "aes-256-gcm"

// KeySize is the required length of data keys and the master secret minimum.
const KeySize = 32

var (
	// ErrIntegrityCheckFailed indicates the authentication tag did not verify.
	// Treated as possible tampering, never as recoverable corruption.
	ErrIntegrityCheckFailed = errors.New("integrity check failed")
	// ErrInvalidKey indicates a key of the wrong length was supplied.
	ErrInvalidKey = errors.New("encryption key must be 32 bytes")
	// ErrMalformedEnvelope indicates the stored envelope could not be decoded.
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

// Envelope is the serialized result of a single field encryption. The IV and
// auth tag are stored alongside the ciphertext; the key is never included.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"auth_tag"`
	Algorithm  string `json:"algorithm"`
}

// Encrypt seals plaintext under key with AES-256-GCM. A fresh random IV is
// drawn from crypto/rand on every call; IV reuse across calls never happens.
func Encrypt(plaintext []byte, key []byte) (Envelope, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return Envelope{}, err
	}

	iv := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Envelope{}, fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := aead.Seal(nil, iv, plaintext, nil)
	tagStart := len(sealed) - aead.Overhead()

	return Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:tagStart]),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(sealed[tagStart:]),
		Algorithm:  Algorithm,
	}, nil
}

// Decrypt opens an envelope with key. The GCM tag is verified before any
// plaintext is returned; a mismatch fails closed with ErrIntegrityCheckFailed.
func Decrypt(env Envelope, key []byte) ([]byte, error) {
	if env.Algorithm != "" && env.Algorithm != Algorithm {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrMalformedEnvelope, env.Algorithm)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(iv) != aead.NonceSize() || len(tag) != aead.Overhead() {
		return nil, ErrMalformedEnvelope
	}

	plaintext, err := aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, ErrIntegrityCheckFailed
	}
	return plaintext, nil
}

// Marshal serializes an envelope for storage in a single column.
func Marshal(env Envelope) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Unmarshal restores an envelope from its stored form.
func Unmarshal(raw string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Ciphertext == "" || env.IV == "" || env.AuthTag == "" {
		return Envelope{}, ErrMalformedEnvelope
	}
	return env, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
