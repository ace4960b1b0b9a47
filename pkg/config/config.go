// Package config handles veil configuration loading.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// config file, and environment variables. Environment variables use the
// VEIL_ prefix with dots replaced by underscores (VEIL_AUTOLOG_ENABLED);
// MLFLOW_TRACKING_URI is honoured for the tracking URI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/veil-org/veil/pkg/autolog"
	verrors "github.com/veil-org/veil/pkg/errors"
	"github.com/veil-org/veil/pkg/logging"
	"github.com/veil-org/veil/pkg/repoinfo"
	"github.com/veil-org/veil/pkg/tracking"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VEIL"

// Config is the root configuration structure.
type Config struct {
	Autolog   AutologConfig   `yaml:"autolog" mapstructure:"autolog"`
	Repo      RepoConfig      `yaml:"repo" mapstructure:"repo"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// AutologConfig holds the tracking target.
type AutologConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	TrackingURI    string        `yaml:"tracking_uri" mapstructure:"tracking_uri"`
	ExperimentName string        `yaml:"experiment_name" mapstructure:"experiment_name"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Token          string        `yaml:"token,omitempty" mapstructure:"token"`
}

// RepoConfig controls repository metadata lookup.
type RepoConfig struct {
	Path     string `yaml:"path" mapstructure:"path"`
	Disabled bool   `yaml:"disabled" mapstructure:"disabled"`
}

// LogConfig controls logging. An empty format picks text on a terminal and
// JSON otherwise.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TelemetryConfig controls OpenTelemetry export. An empty endpoint disables
// export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name" mapstructure:"service_name"`
	Insecure     bool   `yaml:"insecure" mapstructure:"insecure"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Autolog: AutologConfig{
			Enabled:        true,
			TrackingURI:    autolog.DefaultTrackingURI,
			ExperimentName: tracking.DefaultExperimentName,
			Timeout:        30 * time.Second,
		},
		Repo: RepoConfig{
			Path: ".",
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "veil",
		},
	}
}

func newViper() *viper.Viper {
	d := Default()
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("autolog.enabled", d.Autolog.Enabled)
	v.SetDefault("autolog.tracking_uri", d.Autolog.TrackingURI)
	v.SetDefault("autolog.experiment_name", d.Autolog.ExperimentName)
	v.SetDefault("autolog.timeout", d.Autolog.Timeout)
	v.SetDefault("autolog.token", "")
	v.SetDefault("repo.path", d.Repo.Path)
	v.SetDefault("repo.disabled", d.Repo.Disabled)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.insecure", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("autolog.tracking_uri", EnvPrefix+"_AUTOLOG_TRACKING_URI", autolog.EnvTrackingURI)
	return v
}

// Load reads configuration from path, layered over defaults and under
// environment overrides. An empty path reads defaults and environment only.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, verrors.ConfigWrap(err, verrors.ErrConfigNotFound, "config file not found").
					WithContext("path", path)
			}
			return nil, verrors.ConfigWrap(err, verrors.ErrConfigParseFailed, "failed to parse config").
				WithContext("path", path)
		}
	}

	enabled, err := boolValue(v.Get("autolog.enabled"), "autolog.enabled")
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, verrors.ConfigWrap(err, verrors.ErrConfigParseFailed, "failed to decode config").
			WithContext("path", path)
	}
	cfg.Autolog.Enabled = enabled
	return cfg, nil
}

// boolValue accepts booleans, and strings that parse as booleans since
// environment values arrive as strings.
func boolValue(raw any, field string) (bool, error) {
	switch val := raw.(type) {
	case bool:
		return val, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err == nil {
			return b, nil
		}
	}
	return false, verrors.Validationf(verrors.ErrValidationTypeMismatch, field,
		"%s must be a boolean, got %T %v", field, raw, raw)
}

// LoadOrDefault loads config from path, or defaults (with environment
// overrides) when path is empty or does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Load("")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Load("")
	}
	return Load(path)
}

// Validate checks values that the Autologger and logger would reject.
func (c *Config) Validate() error {
	if err := tracking.ValidateTrackingURI(c.Autolog.TrackingURI); err != nil {
		return err
	}
	if strings.TrimSpace(c.Autolog.ExperimentName) == "" {
		return verrors.Validation(verrors.ErrValidationEmptyValue, "autolog.experiment_name", "experiment name must not be empty")
	}
	if c.Autolog.Timeout < 0 {
		return verrors.Validation(verrors.ErrValidationTypeMismatch, "autolog.timeout", "timeout must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return verrors.Validationf(verrors.ErrValidationTypeMismatch, "log.format", "unknown log format %q", c.Log.Format).
			WithSuggestion("Use 'text' or 'json'")
	}
	return nil
}

// Apply pushes the autolog settings into a.
func (c *Config) Apply(a *autolog.Autologger) error {
	if err := a.SetTrackingURI(c.Autolog.TrackingURI); err != nil {
		return err
	}
	if err := a.SetExperimentName(c.Autolog.ExperimentName); err != nil {
		return err
	}
	a.SetEnabled(c.Autolog.Enabled)
	return nil
}

// Registry returns a store registry using the configured REST timeout and
// token.
func (c *Config) Registry() *tracking.Registry {
	return tracking.DefaultRegistry(c.Autolog.Timeout, c.Autolog.Token)
}

// Probe returns the repository metadata probe described by the config.
func (c *Config) Probe(logger *slog.Logger) repoinfo.Prober {
	if c.Repo.Disabled {
		return repoinfo.Static(repoinfo.Info{})
	}
	return repoinfo.NewGitProbe(c.Repo.Path, logger)
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return verrors.ConfigWrap(err, verrors.ErrConfigWriteFailed, "failed to create config directory").
			WithContext("path", dir)
	}

	data, err := c.YAML()
	if err != nil {
		return verrors.Internal(err, verrors.ErrInternal, "failed to marshal config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return verrors.ConfigWrap(err, verrors.ErrConfigWriteFailed, "failed to write config file").
			WithContext("path", path)
	}
	return nil
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	if _, err := os.Stat("veil.yaml"); err == nil {
		return "veil.yaml"
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "veil", "config.yaml")
	}
	return "veil.yaml"
}

// InitConfig creates a default config file if it doesn't exist.
// It reports whether a file was written.
func InitConfig(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := Default().Save(path); err != nil {
		return false, err
	}
	return true, nil
}

// String implements fmt.Stringer with the token redacted.
func (c *Config) String() string {
	redacted := *c
	if redacted.Autolog.Token != "" {
		redacted.Autolog.Token = "****"
	}
	data, err := redacted.YAML()
	if err != nil {
		return fmt.Sprintf("%+v", redacted)
	}
	return string(data)
}
