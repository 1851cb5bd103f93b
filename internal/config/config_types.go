package config

import "time"

// Config is the root configuration tree, read once at startup per §6.
type Config struct {
	Server       ServerConfig
	Coordination CoordinationConfig
	Catalog      CatalogConfig
	Upstream     UpstreamConfig
	Scheduler    SchedulerConfig
	Logging      LoggingConfig
	Metrics      MetricsConfig
	Operator     OperatorConfig
}

// ServerConfig controls the gateway's own HTTP listener.
type ServerConfig struct {
	Port string
}

// CoordinationConfig points at the Redis coordination store.
type CoordinationConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// CatalogConfig points at the Postgres credential catalog.
type CatalogConfig struct {
	DatabaseURL string
}

// UpstreamConfig describes the opaque upstream provider endpoint.
type UpstreamConfig struct {
	BaseURL string
	Timeout time.Duration
}

// RateLimit is an (rpm, rpd) pair, the unit the policy table is built from.
type RateLimit struct {
	RPM int `json:"rpm" yaml:"rpm"`
	RPD int `json:"rpd" yaml:"rpd"`
}

// SchedulerConfig carries every option the credential-pool scheduler reads
// at startup, per §6's "Configuration (recognized options)" table.
type SchedulerConfig struct {
	DefaultRPM             int
	DefaultRPD             int
	ModelRateLimits        map[string]RateLimit
	KeyRateLimits          map[string]RateLimit
	MaxFailures            int
	MaxRetries             int
	TimeoutSeconds         int
	GlobalFailureThreshold int
	GlobalCooldownSeconds  int
	Timezone               string
	ActivationIntervalMS   int
}

// LoggingConfig selects logrus level/format.
type LoggingConfig struct {
	Level  string
	Format string
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool
}

// OperatorConfig guards the /admin/* routes with a static bearer token.
type OperatorConfig struct {
	Token string
}

// Policy resolves the effective (rpm, rpd) for a (credential, model) pair
// with priority credential-specific > model-specific > default, per §3's
// Rate-Limit Policy entity. Credential-specific entries are matched by
// suffix against KEY_RATE_LIMITS, mirroring the Python original's practice
// of keying per-key overrides off a short recognizable suffix of the secret
// rather than the full credential string.
func (s SchedulerConfig) Policy(credential, model string) (rpm, rpd int) {
	rpm, rpd = s.DefaultRPM, s.DefaultRPD
	if rl, ok := s.ModelRateLimits[model]; ok {
		rpm, rpd = rl.RPM, rl.RPD
	}
	for suffix, rl := range s.KeyRateLimits {
		if len(credential) >= len(suffix) && credential[len(credential)-len(suffix):] == suffix {
			return rl.RPM, rl.RPD
		}
	}
	return rpm, rpd
}

// FileConfig is the optional on-disk config layer, grounded on the
// teacher's internal/config/config_loader.go FileConfig (yaml.Unmarshal
// into a struct mirroring the domain layout) scoped down to this gateway's
// own options. Every field is optional; whatever it leaves zero-valued
// keeps its env-var/hardcoded default, per §6's "env vars override an
// optional YAML file".
type FileConfig struct {
	Server       FileServerConfig       `yaml:"server"`
	Coordination FileCoordinationConfig `yaml:"coordination"`
	Catalog      FileCatalogConfig      `yaml:"catalog"`
	Upstream     FileUpstreamConfig     `yaml:"upstream"`
	Scheduler    FileSchedulerConfig    `yaml:"scheduler"`
	Logging      FileLoggingConfig      `yaml:"logging"`
	Metrics      FileMetricsConfig      `yaml:"metrics"`
	Operator     FileOperatorConfig     `yaml:"operator"`
}

type FileServerConfig struct {
	Port string `yaml:"port"`
}

type FileCoordinationConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

type FileCatalogConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

type FileUpstreamConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type FileSchedulerConfig struct {
	DefaultRPM             int                  `yaml:"default_rpm"`
	DefaultRPD             int                  `yaml:"default_rpd"`
	ModelRateLimits        map[string]RateLimit `yaml:"model_rate_limits"`
	KeyRateLimits          map[string]RateLimit `yaml:"key_rate_limits"`
	MaxFailures            int                  `yaml:"max_failures"`
	MaxRetries             int                  `yaml:"max_retries"`
	GlobalFailureThreshold int                  `yaml:"global_failure_threshold"`
	GlobalCooldownSeconds  int                  `yaml:"global_cooldown_seconds"`
	Timezone               string               `yaml:"timezone"`
	ActivationIntervalMS   int                  `yaml:"activation_interval_ms"`
}

type FileLoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type FileMetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

type FileOperatorConfig struct {
	Token string `yaml:"token"`
}
