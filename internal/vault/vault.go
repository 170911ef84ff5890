// Package vault implements the document-encryption utility: AES-256-GCM
// with a passphrase-derived key. The output layout is
// salt || nonce || ciphertext+tag, so a blob is self-contained.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"golang.org/x/crypto/scrypt"

	scanerrors "github.com/sentinelsec/sentinel/internal/shared/errors"
)

const (
	saltLen  = 16
	nonceLen = 12
	keyLen   = 32

	// scrypt parameters: interactive-grade work factor.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// Encrypt seals plaintext under a key derived from passphrase. Each call
// uses a fresh random salt and nonce.
func Encrypt(plaintext []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, scanerrors.ErrEmptyPassphrase
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	gcm, err := aead(passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltLen+nonceLen+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt. A wrong passphrase or tampered blob fails
// authentication and returns ErrDecryptFailed.
func Decrypt(blob []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, scanerrors.ErrEmptyPassphrase
	}
	if len(blob) < saltLen+nonceLen+1 {
		return nil, scanerrors.ErrCiphertextFormat
	}

	salt := blob[:saltLen]
	nonce := blob[saltLen : saltLen+nonceLen]
	ciphertext := blob[saltLen+nonceLen:]

	gcm, err := aead(passphrase, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, scanerrors.ErrDecryptFailed
	}
	return plaintext, nil
}

func aead(passphrase string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, nonceLen)
}
