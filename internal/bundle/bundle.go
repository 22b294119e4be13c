// Package bundle implements password-based unlocking of uploaded
// detokenization files. A bundle is a small binary envelope:
//
//	salt (16 bytes) || nonce || AES-256-GCM ciphertext
//
// where the ciphertext holds a gzip-compressed text payload and the AES key
// is derived from the caller's password with PBKDF2-SHA256 over the embedded
// salt. GCM gives authenticated integrity, so a wrong password and a
// tampered file are indistinguishable and both surface as ErrUnlockFailed;
// the HTTP handler deliberately reports them with one generic message.
package bundle

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize      = 16
	kdfIterations = 100000
	keySize       = 32
)

// MaxPayloadSize bounds the decompressed payload (1MB). Detokenization
// payloads are short token strings, so anything near the limit is a
// decompression bomb, not a legitimate upload.
const MaxPayloadSize = 1 * 1024 * 1024

var (
	// ErrBundleCorrupted is returned when the envelope is too short to hold
	// a salt and nonce, or the decrypted content is not valid gzip.
	ErrBundleCorrupted = errors.New("bundle: file is corrupted or not a detokenization bundle")
	// ErrUnlockFailed is returned when GCM authentication fails, meaning a
	// wrong password or a tampered file.
	ErrUnlockFailed = errors.New("bundle: wrong password or tampered file")
)

// Unlocker decrypts an uploaded bundle into its text payload.
type Unlocker interface {
	Unlock(data []byte, password string) (string, error)
}

// PasswordUnlocker is the production Unlocker.
type PasswordUnlocker struct{}

// NewPasswordUnlocker creates the production unlocker.
func NewPasswordUnlocker() *PasswordUnlocker {
	return &PasswordUnlocker{}
}

// Unlock derives the key from password and the embedded salt, decrypts, and
// decompresses the payload.
func (u *PasswordUnlocker) Unlock(data []byte, password string) (string, error) {
	if len(data) < saltSize {
		return "", ErrBundleCorrupted
	}
	salt := data[:saltSize]
	sealed := data[saltSize:]

	aead, err := newAEAD(password, salt)
	if err != nil {
		return "", err
	}

	nonceLen := aead.NonceSize()
	if len(sealed) < nonceLen {
		return "", ErrBundleCorrupted
	}

	compressed, err := aead.Open(nil, sealed[:nonceLen], sealed[nonceLen:], nil)
	if err != nil {
		return "", ErrUnlockFailed
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return "", ErrBundleCorrupted
	}
	defer gz.Close()

	payload, err := io.ReadAll(io.LimitReader(gz, MaxPayloadSize+1))
	if err != nil {
		return "", ErrBundleCorrupted
	}
	if len(payload) > MaxPayloadSize {
		return "", fmt.Errorf("bundle: payload exceeds maximum size of %d bytes", MaxPayloadSize)
	}

	return string(payload), nil
}

// Seal builds a bundle around payload using a fresh random salt and nonce.
// It is the inverse of Unlock and exists for tests and tooling; the gateway
// itself only ever unlocks bundles produced elsewhere.
func Seal(payload, password string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	aead, err := newAEAD(password, salt)
	if err != nil {
		return nil, err
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write([]byte(payload)); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltSize+len(nonce)+compressed.Len()+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, compressed.Bytes(), nil)
	return out, nil
}

func newAEAD(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, kdfIterations, keySize, sha256.New)

	blockCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(blockCipher)
}
