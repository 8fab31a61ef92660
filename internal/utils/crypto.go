// internal/utils/crypto.go
package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	secretPrefix     = "enc:v1:"
	secretSaltSize   = 16
	secretKeySize    = 32
	secretIterations = 100000
)

// deriveKey 通过 PBKDF2 从口令派生 AES-256 密钥
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, secretIterations, secretKeySize, sha256.New)
}

// EncryptSecret 使用 AES-GCM 加密（例如 API 金钥落盘前）。
// 输出格式: enc:v1:base64(salt|nonce|ciphertext)
func EncryptSecret(plaintext, passphrase string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if passphrase == "" {
		return "", fmt.Errorf("encryption passphrase is empty")
	}

	salt := make([]byte, secretSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	out := append(salt, nonce...)
	out = gcm.Seal(out, nonce, []byte(plaintext), nil)
	return secretPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// DecryptSecret 解密 EncryptSecret 的输出。未加密的旧数据原样返回
func DecryptSecret(value, passphrase string) (string, error) {
	if !IsEncryptedSecret(value) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, secretPrefix))
	if err != nil {
		return "", err
	}
	if len(raw) < secretSaltSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	salt, rest := raw[:secretSaltSize], raw[secretSaltSize:]

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// IsEncryptedSecret 是否为 EncryptSecret 的输出
func IsEncryptedSecret(value string) bool {
	return strings.HasPrefix(value, secretPrefix)
}

// GenerateSecureKey generates a cryptographically secure random key of specified length
func GenerateSecureKey(length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("key length must be greater than 0")
	}

	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate secure key: %w", err)
	}
	return key, nil
}

// MaskSecret 仅保留末四位用于展示
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}
