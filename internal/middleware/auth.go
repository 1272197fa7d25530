package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"lucledger/internal/config"
	"lucledger/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	ContextKeyUserID = "user_id"
	// InternalTokenHeader 服务端内部调用凭证
	InternalTokenHeader = "X-LUC-Internal"
)

func JWTAuthMiddleware(jwtService *service.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "malformed Authorization header"})
			return
		}

		claims, err := jwtService.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			msg := "invalid token"
			if err == service.ErrExpiredToken {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Next()
	}
}

func GetUserID(c *gin.Context) string {
	userID, _ := c.Get(ContextKeyUserID)
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// validInternalToken 空 token 一律拒绝
func validInternalToken(expected, provided string) bool {
	if expected == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

// TrackGate track 只允许服务端调用，除非显式开启客户端上报
func TrackGate(cfg config.LedgerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.AllowClientTracking {
			c.Next()
			return
		}
		if !validInternalToken(cfg.InternalToken, c.GetHeader(InternalTokenHeader)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Token tracking is server-only"})
			return
		}
		c.Next()
	}
}

// RequireInternalToken 管理类写操作必须携带内部凭证
func RequireInternalToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !validInternalToken(token, c.GetHeader(InternalTokenHeader)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "internal credential required"})
			return
		}
		c.Next()
	}
}
