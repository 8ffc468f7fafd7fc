package middleware

import (
	"net/http"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/pkg/logger"
	"github.com/d60-Lab/vinylfeed/pkg/response"
)

// Sentry 为每个请求挂一个 hub；panic 交给 Recovery 处理
func Sentry() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{Repanic: true})
}

// Recovery 捕获 panic，记录日志并返回 500
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.String("path", c.Request.URL.Path), zap.Stack("stack"))
				if hub := sentrygin.GetHubFromContext(c); hub == nil {
					sentry.CurrentHub().Recover(r)
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{Code: response.CodeInternal, Message: "internal server error"})
			}
		}()
		c.Next()
	}
}
