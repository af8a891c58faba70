// Package config loads the gateway configuration from file, environment,
// and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/quantfold/ibsim/pkg/store"
)

// Config represents the gateway configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (IBSIM_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the TWS protocol listener
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Database configures the brokerage state store (SQLite or PostgreSQL)
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Metrics contains the Prometheus/admin HTTP server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Feed configures the simulated tick generator
	Feed FeedConfig `mapstructure:"feed" yaml:"feed"`

	// Accounts lists the accounts provisioned at startup
	Accounts []AccountConfig `mapstructure:"accounts" yaml:"accounts"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the TWS protocol listener.
type ServerConfig struct {
	// Environment selects the bind address preset: local binds 127.0.0.1,
	// docker and network bind 0.0.0.0. An explicit Host wins.
	Environment string `mapstructure:"environment" validate:"omitempty,oneof=local docker network" yaml:"environment"`

	// Host is the listen address. Overrides the Environment preset.
	Host string `mapstructure:"host" yaml:"host,omitempty"`

	// Port is the TCP listen port. 7497 is the conventional paper-trading
	// port; 7496 is live.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// ServerVersion is the protocol version reported in the handshake
	ServerVersion int `mapstructure:"server_version" validate:"required,min=100" yaml:"server_version"`

	// MaxClients caps concurrent client connections. Connections beyond
	// the cap are closed without a handshake.
	MaxClients int `mapstructure:"max_clients" validate:"required,min=1" yaml:"max_clients"`

	// RateLimit is the per-client inbound message budget per second
	RateLimit int `mapstructure:"rate_limit" validate:"required,min=1" yaml:"rate_limit"`

	// ReadBufferSize is the socket read buffer size in bytes
	ReadBufferSize int `mapstructure:"read_buffer_size" validate:"omitempty,min=512" yaml:"read_buffer_size"`
}

// Addr returns the host:port the listener binds.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics server is started.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for /metrics and /healthz
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// FeedConfig configures the simulated tick generator.
type FeedConfig struct {
	// Enabled controls whether quotes random-walk while the gateway runs
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval is the delay between tick rounds
	Interval time.Duration `mapstructure:"interval" validate:"omitempty,gt=0" yaml:"interval"`

	// Volatility is the per-tick fractional price step bound
	Volatility float64 `mapstructure:"volatility" validate:"omitempty,gt=0,lte=0.5" yaml:"volatility"`
}

// AccountConfig is one account provisioned at startup.
type AccountConfig struct {
	AccountID string `mapstructure:"account_id" validate:"required" yaml:"account_id"`
	Password  string `mapstructure:"password" yaml:"password,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
// configPath empty uses the default location; a missing file is not an
// error and yields the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configFileFound {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	ApplyDefaults(&cfg)
	applyLegacyEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration against its struct tags.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var errs validator.ValidationErrors
		if ok := asValidationErrors(err, &errs); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("field %s failed %q validation", e.Namespace(), e.Tag())
		}
		return err
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	v, ok := err.(validator.ValidationErrors)
	if ok {
		*target = v
	}
	return ok
}

// SaveConfig writes the configuration to path in YAML form. Permissions are
// restricted because the file carries account passwords.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variables and config file search.
func setupViper(v *viper.Viper, configPath string) {
	// IBSIM_SERVER_PORT=7497, IBSIM_LOGGING_LEVEL=DEBUG, ...
	v.SetEnvPrefix("IBSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// applyLegacyEnv honors the environment variables the original simulator
// shipped with, so existing deployments keep working.
func applyLegacyEnv(cfg *Config) {
	if host := os.Getenv("IB_SIM_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("IB_SIM_PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil && p > 0 {
			cfg.Server.Port = p
		}
	}
	if dbPath := os.Getenv("IB_SIM_DB_PATH"); dbPath != "" {
		cfg.Database.Type = store.DatabaseTypeSQLite
		cfg.Database.SQLite.Path = dbPath
	}
}

// configDecodeHooks returns the combined decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory, preferring
// XDG_CONFIG_HOME over ~/.config.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ibsim")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ibsim")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory (exposed for init).
func GetConfigDir() string {
	return getConfigDir()
}
