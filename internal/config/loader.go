package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// envBindings 配置键 -> 环境变量（按顺序取第一个已设置的）
var envBindings = map[string][]string{
	"server.port":                 {"LUC_SERVER_PORT", "PORT"},
	"server.cors_allowed_origins": {"LUC_CORS_ALLOWED_ORIGINS"},
	"server.rate_limit_rps":       {"LUC_RATE_LIMIT_RPS"},
	"server.rate_limit_burst":     {"LUC_RATE_LIMIT_BURST"},
	"server.shutdown_timeout":     {"LUC_SHUTDOWN_TIMEOUT"},

	"database.driver":         {"LUC_DB_DRIVER"},
	"database.path":           {"LUC_DB_PATH"},
	"database.dsn":            {"LUC_DB_DSN", "DATABASE_URL"},
	"database.max_open_conns": {"LUC_DB_MAX_OPEN_CONNS"},

	"auth.jwt_secret":   {"JWT_SECRET"},
	"auth.jwt_issuer":   {"JWT_ISSUER"},
	"auth.jwt_audience": {"JWT_AUDIENCE"},
	"auth.token_ttl":    {"JWT_TOKEN_TTL"},

	"ledger.allow_client_tracking": {"LUC_ALLOW_CLIENT_TRACKING", "ALLOW_LUC_CLIENT_TRACKING"},
	"ledger.internal_token":        {"LUC_INTERNAL_TOKEN"},

	"metering.provider":              {"LUC_METER_PROVIDER"},
	"metering.fallback":              {"LUC_METER_FALLBACK"},
	"metering.timeout":               {"LUC_METER_TIMEOUT"},
	"metering.event_name":            {"LUC_METER_EVENT_NAME"},
	"metering.cloudflare.account_id": {"CLOUDFLARE_ACCOUNT_ID"},
	"metering.cloudflare.api_token":  {"CLOUDFLARE_API_TOKEN"},
	"metering.cloudflare.meter_id":   {"CLOUDFLARE_METER_ID", "STRIPE_METER_ID"},
	"metering.cloudflare.api_base":   {"CLOUDFLARE_METER_API_BASE"},
	"metering.stripe.secret_key":     {"STRIPE_SECRET_KEY"},
	"metering.stripe.meter_id":       {"STRIPE_METER_ID"},
	"metering.stripe.api_base":       {"STRIPE_API_BASE"},

	"pricing.file":  {"LUC_PRICING_FILE"},
	"pricing.watch": {"LUC_PRICING_WATCH"},

	"redis.addr":     {"LUC_REDIS_ADDR"},
	"redis.password": {"LUC_REDIS_PASSWORD"},
	"redis.db":       {"LUC_REDIS_DB"},
	"redis.lock_ttl": {"LUC_REDIS_LOCK_TTL"},

	"log.level":  {"LUC_LOG_LEVEL"},
	"log.format": {"LUC_LOG_FORMAT"},

	"tracing.enabled":      {"LUC_TRACING_ENABLED"},
	"tracing.service_name": {"LUC_TRACING_SERVICE_NAME"},
	"tracing.endpoint":     {"OTEL_EXPORTER_OTLP_ENDPOINT"},
	"tracing.sample_rate":  {"LUC_TRACING_SAMPLE_RATE"},

	"metrics.enabled": {"LUC_METRICS_ENABLED"},
	"metrics.path":    {"LUC_METRICS_PATH"},
}

// Load 加载配置
// 优先级：环境变量 -> 配置文件(LUC_CONFIG_FILE) -> 默认值
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path := os.Getenv("LUC_CONFIG_FILE"); path != "" {
		if err := loadConfigFile(v, path); err != nil {
			return nil, err
		}
	}

	setDefaults(v)
	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Metering.Provider = strings.ToLower(strings.TrimSpace(cfg.Metering.Provider))
	return &cfg, nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

func loadConfigFile(v *viper.Viper, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.ReadConfig(strings.NewReader(expandEnv(string(content)))); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

var envPattern = regexp.MustCompile(`\${(\w+)(:([^}]*))?}`)

// expandEnv 替换 ${VAR} / ${VAR:default} 占位符，未定义且无默认值时原样保留
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := envPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(sub[1]); ok {
			return val
		}
		if sub[2] != "" {
			return sub[3]
		}
		return match
	})
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "16823")
	v.SetDefault("server.cors_allowed_origins", "*")
	v.SetDefault("server.rate_limit_rps", 20.0)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/luc.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)

	v.SetDefault("auth.jwt_secret", "luc-ledger-default-secret-change-in-production")
	v.SetDefault("auth.jwt_issuer", "luc-ledger")
	v.SetDefault("auth.jwt_audience", "luc-api")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("ledger.allow_client_tracking", false)
	v.SetDefault("ledger.internal_token", "")

	v.SetDefault("metering.provider", "cloudflare")
	v.SetDefault("metering.fallback", false)
	v.SetDefault("metering.timeout", "5s")
	v.SetDefault("metering.event_name", "token_usage")
	v.SetDefault("metering.cloudflare.account_id", "")
	v.SetDefault("metering.cloudflare.api_token", "")
	v.SetDefault("metering.cloudflare.meter_id", "")
	v.SetDefault("metering.cloudflare.api_base", "https://api.cloudflare.com/client/v4")
	v.SetDefault("metering.stripe.secret_key", "")
	v.SetDefault("metering.stripe.meter_id", "")
	v.SetDefault("metering.stripe.api_base", "")

	v.SetDefault("pricing.file", "")
	v.SetDefault("pricing.watch", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "luc-ledger")
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
