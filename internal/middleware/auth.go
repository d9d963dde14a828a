package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"card_shop/internal/security"

	"github.com/gin-gonic/gin"
)

const userClaimsKey = "card_shop.user"

// OptionalUser 解析 Authorization: Bearer <jwt>。
// 没有 token 时匿名放行；token 无效时返回 401，避免把身份错误静默当作匿名。
func OptionalUser(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		if raw == "" {
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "invalid authorization header"})
			return
		}
		claims, err := security.ParseToken(secret, strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": err.Error()})
			return
		}
		c.Set(userClaimsKey, claims)
		c.Next()
	}
}

// CurrentUser 返回 OptionalUser 解析出的登录用户。
func CurrentUser(c *gin.Context) (*security.UserClaims, bool) {
	v, ok := c.Get(userClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*security.UserClaims)
	return claims, ok && claims != nil
}

// AdminToken 校验 X-Admin-Token。
func AdminToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Admin-Token")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "unauthorized"})
			return
		}
		c.Next()
	}
}
