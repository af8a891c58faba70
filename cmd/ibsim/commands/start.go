package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quantfold/ibsim/internal/feed"
	"github.com/quantfold/ibsim/internal/logger"
	"github.com/quantfold/ibsim/pkg/adapter"
	"github.com/quantfold/ibsim/pkg/config"
	"github.com/quantfold/ibsim/pkg/metrics"
	"github.com/quantfold/ibsim/pkg/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the TWS gateway with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/ibsim/config.yaml. A missing config
file starts the gateway with defaults: paper-trading port 7497, a local
SQLite database, and one demo account.

Examples:
  # Start with defaults
  ibsim start

  # Start with custom config file
  ibsim start --config /etc/ibsim/config.yaml

  # Override settings through the environment
  IBSIM_LOGGING_LEVEL=DEBUG IBSIM_SERVER_PORT=4002 ibsim start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Metrics must be initialized before anything that creates collectors.
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}
	gwMetrics := metrics.NewGatewayMetrics()

	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() { _ = st.Close() }()

	seed := make([]store.SeedAccount, len(cfg.Accounts))
	for i, a := range cfg.Accounts {
		seed[i] = store.SeedAccount{AccountID: a.AccountID, Password: a.Password}
	}
	if err := st.Seed(ctx, seed); err != nil {
		return fmt.Errorf("failed to seed store: %w", err)
	}

	gateway := adapter.NewGateway(cfg, st, gwMetrics)

	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("Metrics server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer done()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("Metrics server shutdown error", "error", err)
			}
		}()
	}

	if cfg.Feed.Enabled {
		tickFeed := feed.New(cfg.Feed, st, gateway)
		go func() {
			if err := tickFeed.Run(ctx); err != nil && err != context.Canceled {
				logger.Error("Tick feed error", "error", err)
			}
		}()
	} else {
		logger.Info("Tick feed disabled")
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- gateway.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Gateway is running. Press Ctrl+C to stop.",
		"addr", cfg.Server.Addr(), "server_version", cfg.Server.ServerVersion)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Gateway shutdown error", "error", err)
			return err
		}
		logger.Info("Gateway stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Gateway error", "error", err)
			return err
		}
		logger.Info("Gateway stopped")
	}

	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
