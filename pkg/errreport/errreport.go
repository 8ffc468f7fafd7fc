// Package errreport 封装 sentry 初始化
package errreport

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/config"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

// Init DSN 为空时不启用；返回的 flush 在退出前调用
func Init(cfg config.SentryConfig) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		AttachStacktrace: true,
	}); err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}
	logger.Info("sentry enabled", zap.String("environment", cfg.Environment))
	return func() { sentry.Flush(2 * time.Second) }, nil
}
