package config

import (
	"strings"
	"time"
)

// Wire-level defaults. 7497 is the vendor's paper-trading port.
const (
	DefaultPort           = 7497
	DefaultServerVersion  = 176
	DefaultMaxClients     = 32
	DefaultRateLimit      = 50
	DefaultReadBufferSize = 4096
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	cfg.Database.ApplyDefaults()
	applyMetricsDefaults(&cfg.Metrics)
	applyFeedDefaults(&cfg.Feed)
	applyAccountDefaults(cfg)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Environment == "" {
		cfg.Environment = "local"
	}
	if cfg.Host == "" {
		switch cfg.Environment {
		case "docker", "network":
			cfg.Host = "0.0.0.0"
		default:
			cfg.Host = "127.0.0.1"
		}
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ServerVersion == 0 {
		cfg.ServerVersion = DefaultServerVersion
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyFeedDefaults(cfg *FeedConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}
	if cfg.Volatility == 0 {
		cfg.Volatility = 0.001
	}
}

func applyAccountDefaults(cfg *Config) {
	if len(cfg.Accounts) == 0 {
		cfg.Accounts = []AccountConfig{
			{AccountID: "DU123456", Password: "demo"},
		}
	}
}

// GetDefaultConfig returns a fully populated default configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
