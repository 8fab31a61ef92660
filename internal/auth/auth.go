// internal/auth/auth.go
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// 用户等级
const (
	TierFree    = "free"
	TierPremium = "premium"
)

// 错误定义
var (
	ErrNoSecret      = errors.New("secret key is required")
	ErrInvalidFormat = errors.New("invalid token format")
	ErrBadSignature  = errors.New("invalid token signature")
	ErrExpired       = errors.New("token has expired")
)

// TokenConfig holds the configuration for token generation
type TokenConfig struct {
	Secret     []byte
	Expiration time.Duration

	// now 测试时替换
	now func() time.Time
}

func (c *TokenConfig) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Token 官方代理用户的身份令牌
type Token struct {
	UserID    string `json:"user_id"`
	Tier      string `json:"tier"`
	ExpiresAt int64  `json:"expires_at"`
	IssuedAt  int64  `json:"issued_at"`
}

// Premium 是否为付费用户
func (t *Token) Premium() bool {
	return t != nil && t.Tier == TierPremium
}

// GenerateToken 签发令牌：base64(userID|tier|expires|issued).base64(hmac)
func GenerateToken(userID, tier string, config *TokenConfig) (string, error) {
	if len(config.Secret) == 0 {
		return "", ErrNoSecret
	}
	if userID == "" || strings.Contains(userID, "|") {
		return "", fmt.Errorf("invalid user id: %q", userID)
	}
	if tier != TierPremium {
		tier = TierFree
	}

	now := config.clock()
	payload := fmt.Sprintf("%s|%s|%d|%d", userID, tier, now.Add(config.Expiration).Unix(), now.Unix())

	encodedPayload := base64.URLEncoding.EncodeToString([]byte(payload))
	encodedSignature := base64.URLEncoding.EncodeToString(sign(config.Secret, []byte(payload)))

	return encodedPayload + "." + encodedSignature, nil
}

// ParseToken parses and validates a token
func ParseToken(tokenString string, config *TokenConfig) (*Token, error) {
	if len(config.Secret) == 0 {
		return nil, ErrNoSecret
	}

	parts := strings.Split(tokenString, ".")
	if len(parts) != 2 {
		return nil, ErrInvalidFormat
	}

	payloadBytes, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid token payload: %w", err)
	}
	signatureBytes, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid token signature: %w", err)
	}

	if !hmac.Equal(signatureBytes, sign(config.Secret, payloadBytes)) {
		return nil, ErrBadSignature
	}

	payloadParts := strings.Split(string(payloadBytes), "|")
	if len(payloadParts) != 4 {
		return nil, ErrInvalidFormat
	}
	expiresAt, err := strconv.ParseInt(payloadParts[2], 10, 64)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	issuedAt, err := strconv.ParseInt(payloadParts[3], 10, 64)
	if err != nil {
		return nil, ErrInvalidFormat
	}

	if config.clock().Unix() > expiresAt {
		return nil, ErrExpired
	}

	return &Token{
		UserID:    payloadParts[0],
		Tier:      payloadParts[1],
		ExpiresAt: expiresAt,
		IssuedAt:  issuedAt,
	}, nil
}

func sign(secret, payload []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return h.Sum(nil)
}
