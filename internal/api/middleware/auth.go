package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/d60-Lab/vinylfeed/pkg/response"
)

const viewerKey = "viewer_id"

// Claims 只关心 viewer 身份；账号体系在别处
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken 签发 HS256 token（测试与本地调试用）
func IssueToken(secret, issuer, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Auth 校验 Bearer token，把 sub 写入上下文。
// SSE 的 EventSource 不能带头，允许 access_token 查询参数。
func Auth(secret, issuer string) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	return func(c *gin.Context) {
		raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if raw == "" {
			raw = c.Query("access_token")
		}
		if raw == "" {
			response.Unauthorized(c, "missing token")
			return
		}
		var claims Claims
		_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token expired"
			}
			response.Unauthorized(c, msg)
			return
		}
		if claims.Subject == "" {
			response.Unauthorized(c, "token has no subject")
			return
		}
		c.Set(viewerKey, claims.Subject)
		c.Next()
	}
}

// ViewerID 当前请求的用户
func ViewerID(c *gin.Context) string { return c.GetString(viewerKey) }
