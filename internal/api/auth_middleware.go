// internal/api/auth_middleware.go
package api

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/LoreChat/internal/auth"
	"github.com/Corphon/LoreChat/internal/utils"
)

var (
	tokenConfigMu sync.RWMutex
	tokenConfig   *auth.TokenConfig
)

// InitializeAuth 设置令牌密钥。未设置密钥时所有请求视为匿名
func InitializeAuth(secret string) {
	tokenConfigMu.Lock()
	defer tokenConfigMu.Unlock()

	if secret == "" {
		tokenConfig = nil
		utils.GetLogger().Warn("⚠️ 未设置 AUTH_SECRET，官方模型将不可用", nil)
		return
	}
	tokenConfig = &auth.TokenConfig{
		Secret:     []byte(secret),
		Expiration: 30 * 24 * time.Hour,
	}
}

func currentTokenConfig() *auth.TokenConfig {
	tokenConfigMu.RLock()
	defer tokenConfigMu.RUnlock()
	return tokenConfig
}

// AuthMiddleware 解析 Bearer 令牌并把身份放进请求 context。
// 缺少或无效的令牌按匿名处理，由需要身份的操作自行拒绝
func AuthMiddleware() gin.HandlerFunc {
	logger := utils.GetLogger().With("auth", nil)
	return func(c *gin.Context) {
		raw := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		cfg := currentTokenConfig()
		if raw == "" || cfg == nil {
			c.Next()
			return
		}

		token, err := auth.ParseToken(raw, cfg)
		if err != nil {
			logger.Warn("无效的令牌，按匿名请求处理", map[string]interface{}{
				"error":      err.Error(),
				"request_id": getRequestID(c),
			})
			c.Set("auth_error", err.Error())
			c.Next()
			return
		}

		c.Set("user_id", token.UserID)
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), &auth.Identity{Token: token, Raw: raw}))
		c.Next()
	}
}

// GetUserFromContext 当前用户 ID，匿名请求返回空字符串
func GetUserFromContext(c *gin.Context) string {
	return c.GetString("user_id")
}
