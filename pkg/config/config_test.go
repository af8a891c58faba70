package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantfold/ibsim/pkg/store"
)

func TestDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	t.Run("server", func(t *testing.T) {
		if cfg.Server.Port != 7497 {
			t.Fatalf("port = %d", cfg.Server.Port)
		}
		if cfg.Server.ServerVersion != 176 {
			t.Fatalf("server version = %d", cfg.Server.ServerVersion)
		}
		if cfg.Server.Host != "127.0.0.1" {
			t.Fatalf("host = %q", cfg.Server.Host)
		}
		if cfg.Server.RateLimit != 50 || cfg.Server.MaxClients != 32 {
			t.Fatalf("rate=%d clients=%d", cfg.Server.RateLimit, cfg.Server.MaxClients)
		}
	})

	t.Run("environment presets", func(t *testing.T) {
		c := ServerConfig{Environment: "docker"}
		applyServerDefaults(&c)
		if c.Host != "0.0.0.0" {
			t.Fatalf("docker host = %q", c.Host)
		}

		c = ServerConfig{Environment: "network", Host: "10.0.0.5"}
		applyServerDefaults(&c)
		if c.Host != "10.0.0.5" {
			t.Fatalf("explicit host lost: %q", c.Host)
		}
	})

	t.Run("logging normalized", func(t *testing.T) {
		c := LoggingConfig{Level: "debug"}
		applyLoggingDefaults(&c)
		if c.Level != "DEBUG" || c.Format != "text" || c.Output != "stdout" {
			t.Fatalf("logging = %+v", c)
		}
	})

	t.Run("default account seeded", func(t *testing.T) {
		if len(cfg.Accounts) != 1 || cfg.Accounts[0].AccountID != "DU123456" {
			t.Fatalf("accounts = %+v", cfg.Accounts)
		}
	})

	t.Run("validates clean", func(t *testing.T) {
		if err := Validate(cfg); err != nil {
			t.Fatalf("default config invalid: %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("bad port", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Server.Port = 70000
		if err := Validate(cfg); err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = "TRACE"
		if err := Validate(cfg); err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("missing account id", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Accounts = []AccountConfig{{Password: "x"}}
		if err := Validate(cfg); err == nil {
			t.Fatal("expected validation error")
		}
	})
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
logging:
  level: debug
server:
  port: 4002
  rate_limit: 10
database:
  type: sqlite
  sqlite:
    path: ` + filepath.Join(dir, "sim.db") + `
feed:
  enabled: true
  interval: 250ms
accounts:
  - account_id: DU777777
    password: secret
shutdown_timeout: 5s
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 4002 || cfg.Server.RateLimit != 10 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Server.ServerVersion != 176 {
		t.Fatalf("defaults not applied: %+v", cfg.Server)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if cfg.Feed.Interval != 250*time.Millisecond {
		t.Fatalf("interval = %v", cfg.Feed.Interval)
	}
	if len(cfg.Accounts) != 1 || cfg.Accounts[0].AccountID != "DU777777" {
		t.Fatalf("accounts = %+v", cfg.Accounts)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("shutdown timeout = %v", cfg.ShutdownTimeout)
	}
}

func TestLegacyEnv(t *testing.T) {
	t.Setenv("IB_SIM_HOST", "0.0.0.0")
	t.Setenv("IB_SIM_PORT", "4002")
	t.Setenv("IB_SIM_DB_PATH", "/tmp/legacy.db")

	cfg := GetDefaultConfig()
	applyLegacyEnv(cfg)

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 4002 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Database.Type != store.DatabaseTypeSQLite || cfg.Database.SQLite.Path != "/tmp/legacy.db" {
		t.Fatalf("database = %+v", cfg.Database)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Server.Port = 4002
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 4002 {
		t.Fatalf("port = %d", loaded.Server.Port)
	}
}
