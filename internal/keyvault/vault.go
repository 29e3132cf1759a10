// Package keyvault seals wallet signing keys under a process-wide master key.
package keyvault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	masterKeySize = 32
	saltSize      = 16
	iterations    = 100_000
)

var (
	// ErrDecryption is returned when a blob cannot be opened with the active
	// master key, usually because the key was rotated without migrating blobs.
	ErrDecryption = errors.New("decryption failed: invalid master key or corrupted data")

	// ErrInvalidMasterKey is returned for master keys that are not 32 bytes of
	// base64url data.
	ErrInvalidMasterKey = errors.New("master key must be 32 bytes, base64url encoded")
)

var encoding = base64.URLEncoding

// Vault encrypts and decrypts signing keys. Every blob gets its own salt, so
// encrypting the same key twice yields different blobs.
type Vault struct {
	master []byte
}

// New builds a vault from a base64url encoded master key.
func New(masterKey string) (*Vault, error) {
	raw, err := encoding.DecodeString(masterKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMasterKey, err)
	}
	if len(raw) != masterKeySize {
		return nil, ErrInvalidMasterKey
	}
	return &Vault{master: raw}, nil
}

// GenerateMasterKey returns a fresh random master key in the format New expects.
func GenerateMasterKey() (string, error) {
	key := make([]byte, masterKeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return encoding.EncodeToString(key), nil
}

// Encrypt seals a raw signing key. The blob layout is salt || nonce || ciphertext.
func (v *Vault) Encrypt(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("signing key cannot be empty")
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(v.derive(salt))
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(raw)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(raw), salt)
	return encoding.EncodeToString(out), nil
}

// Decrypt opens a blob produced by Encrypt.
func (v *Vault) Decrypt(blob string) (string, error) {
	if blob == "" {
		return "", fmt.Errorf("%w: empty blob", ErrDecryption)
	}
	data, err := encoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	if len(data) < saltSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return "", fmt.Errorf("%w: blob too short", ErrDecryption)
	}
	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	sealed := data[saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(v.derive(salt))
	if err != nil {
		return "", err
	}
	plain, err := aead.Open(nil, nonce, sealed, salt)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plain), nil
}

// Rotate re-encrypts a blob sealed by old under this vault's master key.
func (v *Vault) Rotate(blob string, old *Vault) (string, error) {
	raw, err := old.Decrypt(blob)
	if err != nil {
		return "", err
	}
	return v.Encrypt(raw)
}

func (v *Vault) derive(salt []byte) []byte {
	return pbkdf2.Key(v.master, salt, iterations, chacha20poly1305.KeySize, sha256.New)
}
