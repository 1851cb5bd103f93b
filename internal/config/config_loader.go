package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Load builds a Config the way the teacher's NewConfigManager does: look
// for a config file at one of the conventional default locations, then
// layer environment variables on top of whatever it contains.
func Load() (*Config, error) {
	return LoadWithFile(defaultConfigPath())
}

// defaultConfigPath mirrors the teacher's NewConfigManager location search,
// scoped down to the two names this gateway documents in its own config
// (no home-directory/etc fallback since this service does not install a
// machine-wide config the way the teacher's CLI tool does).
func defaultConfigPath() string {
	for _, loc := range []string{"config.yaml", "config.yml"} {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// LoadWithFile builds a Config from an optional YAML file at path, then
// applies environment variables on top (env vars win), documented in
// SPEC_FULL.md §6. Map-valued options (MODEL_RATE_LIMITS, KEY_RATE_LIMITS)
// are read from the environment as JSON objects, e.g.
// MODEL_RATE_LIMITS={"gemini-1.5-pro":{"rpm":60,"rpd":1000}}; when absent
// from the environment, the YAML file's `scheduler.model_rate_limits` /
// `scheduler.key_rate_limits` maps are used instead.
func LoadWithFile(path string) (*Config, error) {
	file, err := loadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getenv("SERVER_PORT", firstNonEmpty(file.Server.Port, "8080")),
		},
		Coordination: CoordinationConfig{
			RedisAddr:     getenv("REDIS_ADDR", firstNonEmpty(file.Coordination.RedisAddr, "127.0.0.1:6379")),
			RedisPassword: getenv("REDIS_PASSWORD", file.Coordination.RedisPassword),
			RedisDB:       getenvInt("REDIS_DB", file.Coordination.RedisDB),
		},
		Catalog: CatalogConfig{
			DatabaseURL: getenv("DATABASE_URL", file.Catalog.DatabaseURL),
		},
		Upstream: UpstreamConfig{
			BaseURL: getenv("UPSTREAM_BASE_URL", file.Upstream.BaseURL),
			Timeout: time.Duration(getenvInt("TIME_OUT", firstNonZeroInt(file.Upstream.TimeoutSeconds, 300))) * time.Second,
		},
		Scheduler: SchedulerConfig{
			DefaultRPM:             getenvInt("DEFAULT_RPM", firstNonZeroInt(file.Scheduler.DefaultRPM, 60)),
			DefaultRPD:             getenvInt("DEFAULT_RPD", firstNonZeroInt(file.Scheduler.DefaultRPD, 1000)),
			MaxFailures:            getenvInt("MAX_FAILURES", firstNonZeroInt(file.Scheduler.MaxFailures, 5)),
			MaxRetries:             getenvInt("MAX_RETRIES", firstNonZeroInt(file.Scheduler.MaxRetries, 3)),
			TimeoutSeconds:         getenvInt("TIME_OUT", firstNonZeroInt(file.Upstream.TimeoutSeconds, 300)),
			GlobalFailureThreshold: getenvInt("GLOBAL_FAILURE_THRESHOLD", firstNonZeroInt(file.Scheduler.GlobalFailureThreshold, 50)),
			GlobalCooldownSeconds:  getenvInt("GLOBAL_COOLDOWN_SECONDS", firstNonZeroInt(file.Scheduler.GlobalCooldownSeconds, 60)),
			Timezone:               getenv("TIMEZONE", firstNonEmpty(file.Scheduler.Timezone, "UTC")),
			ActivationIntervalMS:   getenvInt("ACTIVATION_INTERVAL_MS", firstNonZeroInt(file.Scheduler.ActivationIntervalMS, 1000)),
		},
		Logging: LoggingConfig{
			Level:  getenv("LOG_LEVEL", firstNonEmpty(file.Logging.Level, "info")),
			Format: getenv("LOG_FORMAT", firstNonEmpty(file.Logging.Format, "json")),
		},
		Metrics: MetricsConfig{
			Enabled: getenvBool("METRICS_ENABLED", fileBoolOr(file.Metrics.Enabled, true)),
		},
		Operator: OperatorConfig{
			Token: getenv("OPERATOR_TOKEN", file.Operator.Token),
		},
	}

	modelLimits, err := rateLimitMap("MODEL_RATE_LIMITS", file.Scheduler.ModelRateLimits)
	if err != nil {
		return nil, fmt.Errorf("MODEL_RATE_LIMITS: %w", err)
	}
	cfg.Scheduler.ModelRateLimits = modelLimits

	keyLimits, err := rateLimitMap("KEY_RATE_LIMITS", file.Scheduler.KeyRateLimits)
	if err != nil {
		return nil, fmt.Errorf("KEY_RATE_LIMITS: %w", err)
	}
	cfg.Scheduler.KeyRateLimits = keyLimits

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile reads and parses the optional YAML config file, grounded on the
// teacher's config_loader.go load(): a missing file is not an error (the
// service runs on env vars and defaults alone), but a present, malformed
// file is.
func loadFile(path string) (*FileConfig, error) {
	file := &FileConfig{}
	if path == "" {
		return file, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", path).Warn("no config file found, using env vars and defaults")
			return file, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	log.WithField("path", path).Info("configuration file loaded")
	return file, nil
}

func fileBoolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func rateLimitMap(envKey string, fileVal map[string]RateLimit) (map[string]RateLimit, error) {
	raw := getenv(envKey, "")
	if raw != "" {
		var m map[string]RateLimit
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, err
		}
		return m, nil
	}
	if fileVal != nil {
		return fileVal, nil
	}
	return map[string]RateLimit{}, nil
}

// Validate rejects configuration combinations the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.Scheduler.DefaultRPM <= 0 {
		return fmt.Errorf("DEFAULT_RPM must be positive, got %d", c.Scheduler.DefaultRPM)
	}
	if c.Scheduler.DefaultRPD <= 0 {
		return fmt.Errorf("DEFAULT_RPD must be positive, got %d", c.Scheduler.DefaultRPD)
	}
	if c.Scheduler.MaxRetries <= 0 {
		return fmt.Errorf("MAX_RETRIES must be positive, got %d", c.Scheduler.MaxRetries)
	}
	if c.Scheduler.ActivationIntervalMS <= 0 || c.Scheduler.ActivationIntervalMS > 1000 {
		return fmt.Errorf("ACTIVATION_INTERVAL_MS must be in (0, 1000], got %d", c.Scheduler.ActivationIntervalMS)
	}
	return nil
}
