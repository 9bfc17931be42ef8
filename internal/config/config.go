// Package config loads runtime configuration for ncflow.
//
// Values come from, in increasing precedence: built-in defaults, a config
// file (yaml or toml), NCFLOW_* environment variables, and command flags
// bound by the caller.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Configuration keys.
const (
	KeyDatabasePath     = "database.path"
	KeyPolicyFile       = "policy.file"
	KeyLogLevel         = "log.level"
	KeyLogFormat        = "log.format"
	KeyNotifyTimeout    = "notify.timeout"
	KeyWebhookURL       = "notify.webhook_url"
	KeySweepConcurrency = "sweep.concurrency"
	KeyTelemetry        = "telemetry.enabled"
	KeyTenant           = "tenant"
)

// EnvPrefix is prepended to environment variable names:
// database.path is read from NCFLOW_DATABASE_PATH.
const EnvPrefix = "NCFLOW"

// Config is the resolved runtime configuration.
type Config struct {
	DatabasePath     string
	PolicyFile       string
	LogLevel         string
	LogFormat        string
	NotifyTimeout    time.Duration
	WebhookURL       string
	SweepConcurrency int
	TelemetryEnabled bool
	Tenant           string
}

// NewViper returns a viper instance with defaults and environment binding.
// Callers bind flags on it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault(KeyDatabasePath, d.DatabasePath)
	v.SetDefault(KeyPolicyFile, d.PolicyFile)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)
	v.SetDefault(KeyNotifyTimeout, d.NotifyTimeout)
	v.SetDefault(KeyWebhookURL, d.WebhookURL)
	v.SetDefault(KeySweepConcurrency, d.SweepConcurrency)
	v.SetDefault(KeyTelemetry, d.TelemetryEnabled)
	v.SetDefault(KeyTenant, d.Tenant)
	return v
}

// Load reads path (if non-empty) into v and resolves the configuration.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := Config{
		DatabasePath:     v.GetString(KeyDatabasePath),
		PolicyFile:       v.GetString(KeyPolicyFile),
		LogLevel:         strings.ToLower(v.GetString(KeyLogLevel)),
		LogFormat:        strings.ToLower(v.GetString(KeyLogFormat)),
		NotifyTimeout:    v.GetDuration(KeyNotifyTimeout),
		WebhookURL:       v.GetString(KeyWebhookURL),
		SweepConcurrency: v.GetInt(KeySweepConcurrency),
		TelemetryEnabled: v.GetBool(KeyTelemetry),
		Tenant:           v.GetString(KeyTenant),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration with no file, env, or flags applied.
func Default() Config {
	return Config{
		DatabasePath:     "ncflow.db",
		LogLevel:         "info",
		LogFormat:        "text",
		NotifyTimeout:    5 * time.Second,
		SweepConcurrency: 4,
	}
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database.path must not be empty"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.LogFormat))
	}
	if c.NotifyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("notify.timeout must be positive, got %s", c.NotifyTimeout))
	}
	if c.SweepConcurrency < 1 {
		errs = append(errs, fmt.Errorf("sweep.concurrency must be at least 1, got %d", c.SweepConcurrency))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s)
}

// NewLogger builds the process logger. verbose forces debug level.
func (c Config) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
