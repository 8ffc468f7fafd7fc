// Package response 统一的 gin JSON 响应包装
package response

import (
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

// Response 响应体
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CascadeFailure 部分级联失败的明细
type CascadeFailure struct {
	RootID string   `json:"root_id"`
	Steps  []string `json:"failed_steps"`
	Items  []string `json:"failed_items,omitempty"`
}

const (
	CodeOK               = 0
	CodeBadRequest       = 40000
	CodeUnauthorized     = 40100
	CodeForbidden        = 40300
	CodeNotFound         = 40400
	CodeConflict         = 40900
	CodeTooManyRequests  = 42900
	CodeInternal         = 50000
	CodePartialCascade   = 50001
	CodeUnavailable      = 50300
	CodeSubscriptionLost = 50301
)

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: CodeOK, Message: "success", Data: data})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Code: CodeOK, Message: "created", Data: data})
}

func BadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Response{Code: CodeBadRequest, Message: msg})
}

func Unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Code: CodeUnauthorized, Message: msg})
}

func TooManyRequests(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, Response{Code: CodeTooManyRequests, Message: "too many requests"})
}

// InternalError 记录并上报错误，对外只返回通用信息
func InternalError(c *gin.Context, err error) {
	logger.Error("internal error", zap.String("path", c.FullPath()), zap.Error(err))
	capture(c, err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, Response{Code: CodeInternal, Message: "internal server error"})
}

// Error 按错误分类选择状态码
func Error(c *gin.Context, err error) {
	var cerr *apperr.CascadeError
	switch {
	case errors.As(err, &cerr):
		detail := CascadeFailure{RootID: cerr.RootID, Steps: cerr.FailedSteps()}
		for _, f := range cerr.Failures {
			if f.ID != "" {
				detail.Items = append(detail.Items, f.ID)
			}
		}
		logger.Warn("partial cascade failure", zap.String("root", cerr.RootID), zap.Strings("steps", detail.Steps))
		capture(c, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, Response{Code: CodePartialCascade, Message: err.Error(), Data: detail})
	case errors.Is(err, apperr.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, Response{Code: CodeNotFound, Message: err.Error()})
	case errors.Is(err, apperr.ErrAlreadyExists):
		c.AbortWithStatusJSON(http.StatusConflict, Response{Code: CodeConflict, Message: err.Error()})
	case errors.Is(err, apperr.ErrLoadInProgress):
		c.AbortWithStatusJSON(http.StatusConflict, Response{Code: CodeConflict, Message: err.Error()})
	case errors.Is(err, apperr.ErrInvalidCursor), errors.Is(err, apperr.ErrInvalidArgument):
		BadRequest(c, err.Error())
	case errors.Is(err, apperr.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, Response{Code: CodeForbidden, Message: err.Error()})
	case errors.Is(err, apperr.ErrSubscriptionLost):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, Response{Code: CodeSubscriptionLost, Message: err.Error()})
	case apperr.IsTransient(err):
		logger.Warn("transient backend error", zap.String("path", c.FullPath()), zap.Error(err))
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, Response{Code: CodeUnavailable, Message: "service temporarily unavailable"})
	default:
		InternalError(c, err)
	}
}

func capture(c *gin.Context, err error) {
	if hub := sentrygin.GetHubFromContext(c); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}
