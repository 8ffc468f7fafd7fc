package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Log      LogConfig      `mapstructure:"log"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	RateLimitRPS float64       `mapstructure:"rate_limit_rps"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // postgres | sqlite
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"` // silent | error | warn | info
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// FeedConfig 控制 fan-out 读扩散的规模。
// FollowCap 截断关注列表，是 merge-based fan-out 的已知扩展性上限。
type FeedConfig struct {
	FollowCap         int           `mapstructure:"follow_cap"`
	InClauseLimit     int           `mapstructure:"in_clause_limit"`
	InitialPageSize   int           `mapstructure:"initial_page_size"`
	LoadMorePageSize  int           `mapstructure:"load_more_page_size"`
	HydrationCacheTTL time.Duration `mapstructure:"hydration_cache_ttl"`
}

type RealtimeConfig struct {
	LivenessTimeout   time.Duration `mapstructure:"liveness_timeout"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	RelayPollInterval time.Duration `mapstructure:"relay_poll_interval"`
	RelayClaimLimit   int           `mapstructure:"relay_claim_limit"`
	SubscribeTimeout  time.Duration `mapstructure:"subscribe_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	Insecure    bool    `mapstructure:"insecure"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 0) // SSE 长连接
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rps", 50.0)
	v.SetDefault("server.rate_burst", 100)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=vinylfeed port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.issuer", "vinylfeed")

	v.SetDefault("feed.follow_cap", 10)
	v.SetDefault("feed.in_clause_limit", 30)
	v.SetDefault("feed.initial_page_size", 20)
	v.SetDefault("feed.load_more_page_size", 15)
	v.SetDefault("feed.hydration_cache_ttl", 5*time.Minute)

	v.SetDefault("realtime.liveness_timeout", 0)
	v.SetDefault("realtime.ping_interval", 15*time.Second)
	v.SetDefault("realtime.relay_poll_interval", 100*time.Millisecond)
	v.SetDefault("realtime.relay_claim_limit", 128)
	v.SetDefault("realtime.subscribe_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("sentry.environment", "development")

	v.SetDefault("tracing.service_name", "vinylfeed")
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.insecure", true)
}

// Load 读取 config.yaml 与 APP_ 前缀环境变量
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path := os.Getenv("APP_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验会影响分页/扇出正确性的参数
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Feed.FollowCap < 0 {
		return errors.New("feed.follow_cap must be >= 0")
	}
	if c.Feed.InClauseLimit < 1 {
		return errors.New("feed.in_clause_limit must be >= 1")
	}
	if c.Feed.InitialPageSize < 1 || c.Feed.LoadMorePageSize < 1 {
		return errors.New("feed page sizes must be >= 1")
	}
	return nil
}
