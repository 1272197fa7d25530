package config

import (
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Metering MeteringConfig `mapstructure:"metering"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port               string        `mapstructure:"port"`
	CORSAllowedOrigins string        `mapstructure:"cors_allowed_origins"`
	RateLimitRPS       float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst     int           `mapstructure:"rate_limit_burst"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置，driver 为 sqlite 或 postgres
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Path         string `mapstructure:"path"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

// LedgerConfig 控制 track 接口的访问方式
type LedgerConfig struct {
	AllowClientTracking bool   `mapstructure:"allow_client_tracking"`
	InternalToken       string `mapstructure:"internal_token"`
}

type MeteringConfig struct {
	Provider   string           `mapstructure:"provider"`
	Fallback   bool             `mapstructure:"fallback"`
	Timeout    time.Duration    `mapstructure:"timeout"`
	EventName  string           `mapstructure:"event_name"`
	Cloudflare CloudflareConfig `mapstructure:"cloudflare"`
	Stripe     StripeConfig     `mapstructure:"stripe"`
}

type CloudflareConfig struct {
	AccountID string `mapstructure:"account_id"`
	APIToken  string `mapstructure:"api_token"`
	MeterID   string `mapstructure:"meter_id"`
	APIBase   string `mapstructure:"api_base"`
}

// Configured 三个必填项缺一不可
func (c CloudflareConfig) Configured() bool {
	return c.AccountID != "" && c.APIToken != "" && c.MeterID != ""
}

type StripeConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	MeterID   string `mapstructure:"meter_id"`
	APIBase   string `mapstructure:"api_base"`
}

func (c StripeConfig) Configured() bool {
	return c.SecretKey != "" && c.MeterID != ""
}

type PricingConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// AllowedOrigins 解析逗号分隔的 CORS 来源，空值返回 ["*"]
func (c ServerConfig) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
