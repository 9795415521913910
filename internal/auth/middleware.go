package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const serviceContextKey = "auth_service"

// AuthMiddleware 服务令牌认证中间件
func AuthMiddleware(jwtService *JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少认证令牌"})
			c.Abort()
			return
		}

		token := ExtractTokenFromBearer(authHeader)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的令牌格式"})
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "令牌验证失败: " + err.Error()})
			c.Abort()
			return
		}

		c.Set(serviceContextKey, claims.Service)
		c.Next()
	}
}

// GetCallerService 获取调用方服务名
func GetCallerService(c *gin.Context) (string, bool) {
	v, exists := c.Get(serviceContextKey)
	if !exists {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
