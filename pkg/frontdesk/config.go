package frontdesk

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/chatterlinx/frontdesk/pkg/gateway"
)

// AppConfig is the process-level configuration. Per-tenant behavior
// lives in the tenant config files, not here.
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Gateway  gateway.Config `mapstructure:"gateway"`
	Tenants  TenantsConfig  `mapstructure:"tenants"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	Fallback FallbackConfig `mapstructure:"fallback"`
	Trace    TraceConfig    `mapstructure:"trace"`
	Privacy  PrivacyConfig  `mapstructure:"privacy"`

	Appointments AppointmentsConfig `mapstructure:"appointments"`
}

type TenantsConfig struct {
	Dir          string `mapstructure:"dir"`
	CacheTTLSecs int    `mapstructure:"cache_ttl_secs"`
}

type SessionsConfig struct {
	TTLMinutes       int `mapstructure:"ttl_minutes"`
	IdleMinutes      int `mapstructure:"idle_minutes"`
	SweepIntervalSec int `mapstructure:"sweep_interval_secs"`
}

type FallbackConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	APIKeyEnv string `mapstructure:"api_key_env"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
	CacheSize int    `mapstructure:"cache_size"`

	// MaxAttempts above 1 retries transient transport failures within
	// the turn timeout. Parse failures and rate limits never retry.
	MaxAttempts int `mapstructure:"max_attempts"`

	BreakerThreshold int `mapstructure:"breaker_threshold"`
	BreakerCooldownS int `mapstructure:"breaker_cooldown_secs"`
}

type TraceConfig struct {
	ArtifactsDir  string `mapstructure:"artifacts_dir"`
	Buffer        int    `mapstructure:"buffer"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type AppointmentsConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// APIKey resolves the provider key from the configured environment
// variable. Keys never appear in config files.
func (c FallbackConfig) APIKey() string {
	env := c.APIKeyEnv
	if env == "" {
		env = "ANTHROPIC_API_KEY"
	}
	return strings.TrimSpace(os.Getenv(env))
}

func (c FallbackConfig) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 2500 * time.Millisecond
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c SessionsConfig) TTL() time.Duration {
	if c.TTLMinutes <= 0 {
		return 2 * time.Hour
	}
	return time.Duration(c.TTLMinutes) * time.Minute
}

func (c SessionsConfig) IdleTimeout() time.Duration {
	if c.IdleMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.IdleMinutes) * time.Minute
}

func (c SessionsConfig) SweepInterval() time.Duration {
	if c.SweepIntervalSec <= 0 {
		return time.Minute
	}
	return time.Duration(c.SweepIntervalSec) * time.Second
}

func (c TenantsConfig) CacheTTL() time.Duration {
	if c.CacheTTLSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// LoadConfig reads the process configuration from a YAML file.
func LoadConfig(path string) (AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("gateway.server_addr", ":8080")
	v.SetDefault("tenants.dir", "tenants")
	v.SetDefault("tenants.cache_ttl_secs", 30)
	v.SetDefault("sessions.ttl_minutes", 120)
	v.SetDefault("sessions.idle_minutes", 10)
	v.SetDefault("sessions.sweep_interval_secs", 60)
	v.SetDefault("fallback.provider", "anthropic")
	v.SetDefault("fallback.model", "claude-3-5-haiku-latest")
	v.SetDefault("fallback.api_key_env", "ANTHROPIC_API_KEY")
	v.SetDefault("fallback.timeout_ms", 2500)
	v.SetDefault("fallback.cache_size", 512)
	v.SetDefault("fallback.max_attempts", 1)
	v.SetDefault("fallback.breaker_threshold", 5)
	v.SetDefault("fallback.breaker_cooldown_secs", 30)
	v.SetDefault("trace.artifacts_dir", "")
	v.SetDefault("trace.buffer", 1024)
	v.SetDefault("trace.retention_days", 0)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("appointments.db_path", "appointments.db")

	if err := v.ReadInConfig(); err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
