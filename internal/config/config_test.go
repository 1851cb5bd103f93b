package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearSchedulerEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"SERVER_PORT", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "DATABASE_URL",
		"UPSTREAM_BASE_URL", "TIME_OUT", "DEFAULT_RPM", "DEFAULT_RPD", "MAX_FAILURES",
		"MAX_RETRIES", "GLOBAL_FAILURE_THRESHOLD", "GLOBAL_COOLDOWN_SECONDS", "TIMEZONE",
		"ACTIVATION_INTERVAL_MS", "MODEL_RATE_LIMITS", "KEY_RATE_LIMITS", "LOG_LEVEL",
		"LOG_FORMAT", "METRICS_ENABLED", "OPERATOR_TOKEN",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearSchedulerEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 60, cfg.Scheduler.DefaultRPM)
	require.Equal(t, 1000, cfg.Scheduler.DefaultRPD)
	require.Equal(t, 5, cfg.Scheduler.MaxFailures)
	require.Equal(t, 3, cfg.Scheduler.MaxRetries)
	require.Equal(t, 50, cfg.Scheduler.GlobalFailureThreshold)
	require.Equal(t, 60, cfg.Scheduler.GlobalCooldownSeconds)
	require.Equal(t, 1000, cfg.Scheduler.ActivationIntervalMS)
	require.Equal(t, "UTC", cfg.Scheduler.Timezone)
	require.Equal(t, "8080", cfg.Server.Port)
	require.True(t, cfg.Metrics.Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearSchedulerEnv(t)
	os.Setenv("DEFAULT_RPM", "10")
	os.Setenv("DEFAULT_RPD", "100")
	os.Setenv("MAX_FAILURES", "2")
	os.Setenv("MODEL_RATE_LIMITS", `{"gemini-1.5-pro":{"rpm":30,"rpd":500}}`)
	os.Setenv("KEY_RATE_LIMITS", `{"-abcd":{"rpm":5,"rpd":50}}`)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 10, cfg.Scheduler.DefaultRPM)
	require.Equal(t, 100, cfg.Scheduler.DefaultRPD)
	require.Equal(t, 2, cfg.Scheduler.MaxFailures)
	require.Equal(t, RateLimit{RPM: 30, RPD: 500}, cfg.Scheduler.ModelRateLimits["gemini-1.5-pro"])
	require.Equal(t, RateLimit{RPM: 5, RPD: 50}, cfg.Scheduler.KeyRateLimits["-abcd"])
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	clearSchedulerEnv(t)
	os.Setenv("MODEL_RATE_LIMITS", `not json`)
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsBadActivationInterval(t *testing.T) {
	clearSchedulerEnv(t)
	os.Setenv("ACTIVATION_INTERVAL_MS", "5000")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadWithFileMissingFileFallsBackToDefaults(t *testing.T) {
	clearSchedulerEnv(t)
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, 60, cfg.Scheduler.DefaultRPM)
	require.Equal(t, "8080", cfg.Server.Port)
}

func TestLoadWithFileReadsYAMLValues(t *testing.T) {
	clearSchedulerEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
scheduler:
  default_rpm: 42
  default_rpd: 777
  model_rate_limits:
    gemini-1.5-pro:
      rpm: 12
      rpd: 99
`), 0o644))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, 42, cfg.Scheduler.DefaultRPM)
	require.Equal(t, 777, cfg.Scheduler.DefaultRPD)
	require.Equal(t, RateLimit{RPM: 12, RPD: 99}, cfg.Scheduler.ModelRateLimits["gemini-1.5-pro"])
}

func TestLoadWithFileEnvVarOverridesYAML(t *testing.T) {
	clearSchedulerEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  default_rpm: 42\n"), 0o644))
	os.Setenv("DEFAULT_RPM", "10")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	require.Equal(t, 10, cfg.Scheduler.DefaultRPM)
}

func TestLoadWithFileRejectsMalformedYAML(t *testing.T) {
	clearSchedulerEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
}

func TestSchedulerConfigPolicyPriority(t *testing.T) {
	sc := SchedulerConfig{
		DefaultRPM: 60,
		DefaultRPD: 1000,
		ModelRateLimits: map[string]RateLimit{
			"gemini-1.5-pro": {RPM: 30, RPD: 500},
		},
		KeyRateLimits: map[string]RateLimit{
			"-special": {RPM: 5, RPD: 50},
		},
	}

	t.Run("default", func(t *testing.T) {
		rpm, rpd := sc.Policy("key-plain", "gemini-2.0-flash")
		require.Equal(t, 60, rpm)
		require.Equal(t, 1000, rpd)
	})

	t.Run("model override", func(t *testing.T) {
		rpm, rpd := sc.Policy("key-plain", "gemini-1.5-pro")
		require.Equal(t, 30, rpm)
		require.Equal(t, 500, rpd)
	})

	t.Run("credential override beats model override", func(t *testing.T) {
		rpm, rpd := sc.Policy("abc-special", "gemini-1.5-pro")
		require.Equal(t, 5, rpm)
		require.Equal(t, 50, rpd)
	})
}
