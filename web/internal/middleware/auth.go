package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/jwt"
	"github.com/incyashraj/ParkShare-sub000/web/pkg/response"
)

// claimsKey gin.Context 中保存已校验令牌的键
const claimsKey = "parkshare.claims"

// TokenValidator *jwt.Service 满足
type TokenValidator interface {
	Verify(token string) (*jwt.Claims, error)
}

// JWTAuth 校验 Bearer 令牌，uid 取自身份服务签发的 sub
func JWTAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c.GetHeader("Authorization"))
		if token == "" {
			response.Unauthorized(c)
			c.Abort()
			return
		}

		claims, err := validator.Verify(token)
		if err != nil {
			code := sharedErrors.CodeTokenInvalid
			if errors.Is(err, jwt.ErrTokenExpired) {
				code = sharedErrors.CodeTokenExpired
			}
			response.Error(c, code)
			c.Abort()
			return
		}

		SetClaims(c, claims)
		c.Next()
	}
}

// SetClaims 写入已认证身份（测试中用来跳过令牌校验）
func SetClaims(c *gin.Context, claims *jwt.Claims) {
	c.Set(claimsKey, claims)
}

func extractToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func claimsFrom(c *gin.Context) *jwt.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*jwt.Claims)
	return claims
}

// GetUserID 未认证时为 0
func GetUserID(c *gin.Context) int64 {
	if claims := claimsFrom(c); claims != nil {
		return claims.UserID
	}
	return 0
}

// GetDeviceID 未认证时为空
func GetDeviceID(c *gin.Context) string {
	if claims := claimsFrom(c); claims != nil {
		return claims.DeviceID
	}
	return ""
}
