package settings

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// SecretPrefix marks an encrypted settings value.
const SecretPrefix = "enc:"

const (
	saltLen    = 16
	nonceLen   = 12
	iterations = 100000
)

// ErrNoPassphrase is returned when an encrypted value is found but no passphrase is set.
var ErrNoPassphrase = errors.New("settings: encrypted value requires SETTINGS_PASSPHRASE")

// DecryptSecret returns value unchanged unless it carries SecretPrefix, in which
// case the remainder is base64 of salt(16) + nonce(12) + AES-GCM ciphertext.
func DecryptSecret(value, passphrase string) (string, error) {
	if !strings.HasPrefix(value, SecretPrefix) {
		return value, nil
	}
	if passphrase == "" {
		return "", ErrNoPassphrase
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SecretPrefix))
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	if len(data) < saltLen+nonceLen+16 {
		return "", fmt.Errorf("secret too short: %d bytes", len(data))
	}
	gcm, err := newGCM(passphrase, data[:saltLen])
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, data[saltLen:saltLen+nonceLen], data[saltLen+nonceLen:], nil)
	if err != nil {
		return "", fmt.Errorf("GCM decryption failed: %w", err)
	}
	return string(plain), nil
}

// EncryptSecret produces a value DecryptSecret accepts.
func EncryptSecret(plain, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrNoPassphrase
	}
	salt := make([]byte, saltLen)
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, saltLen+nonceLen+len(plain)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, []byte(plain), nil)
	return SecretPrefix + base64.StdEncoding.EncodeToString(out), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
