package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/schedkit/exchange-bridge/internal/instrumentation"
	"github.com/schedkit/exchange-bridge/internal/secrets"
	"github.com/schedkit/exchange-bridge/internal/server"
	"github.com/schedkit/exchange-bridge/internal/store"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge API server",
		Long: `Start the HTTP API server for credential management, event operations,
and availability queries.

Credential encryption:
  Stored configurations are encrypted with AES-256-GCM. The key is taken
  from --encryption-key, EXCHANGE_BRIDGE_ENCRYPTION_KEY, or ` + secrets.KeyEnvVar + `
  (base64, 32 bytes). Generate one with: exchange-bridge keygen

Observability:
  Prometheus metrics are served on a dedicated port (--metrics-addr).
  Exporters and tracing are configured through the standard OTEL_*
  environment variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	cmd.Flags().String("addr", server.DefaultAddr, "API server address. Can also use EXCHANGE_BRIDGE_ADDR env var.")
	cmd.Flags().String("metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use EXCHANGE_BRIDGE_METRICS_ADDR env var.")
	cmd.Flags().Bool("metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use EXCHANGE_BRIDGE_METRICS_ENABLED env var.")
	cmd.Flags().String("encryption-key", "", "AES-256 credential encryption key (32 bytes, base64 encoded). Can also use EXCHANGE_BRIDGE_ENCRYPTION_KEY or "+secrets.KeyEnvVar+" env vars.")
	cmd.Flags().Bool("debug", false, "Enable debug logging. Can also use EXCHANGE_BRIDGE_DEBUG env var.")

	for _, flag := range []string{"addr", "metrics-addr", "metrics-enabled", "encryption-key", "debug"} {
		_ = viper.BindPFlag(flag, cmd.Flags().Lookup(flag))
	}

	return cmd
}

// resolveEncryptionKey loads the credential encryption key from the flag or
// the environment.
func resolveEncryptionKey() ([]byte, error) {
	if encoded := viper.GetString("encryption-key"); encoded != "" {
		return secrets.KeyFromBase64(encoded)
	}
	key, err := secrets.KeyFromEnv()
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("no encryption key configured; set --encryption-key or %s (generate one with: exchange-bridge keygen)", secrets.KeyEnvVar)
	}
	return key, nil
}

func runServe() error {
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	level := slog.LevelInfo
	if viper.GetBool("debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	key, err := resolveEncryptionKey()
	if err != nil {
		return err
	}

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during instrumentation shutdown", "error", err)
		}
	}()

	// Start metrics server if enabled
	var metricsServer *server.MetricsServer
	if viper.GetBool("metrics-enabled") && provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    viper.GetString("metrics-addr"),
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}

		// Use a ready channel to confirm the metrics server bound its port
		metricsReady := make(chan struct{})
		metricsErr := make(chan error, 1)
		go func() {
			if err := metricsServer.StartWithReadySignal(metricsReady); err != nil && err != http.ErrServerClosed {
				metricsErr <- err
			}
			close(metricsErr)
		}()

		select {
		case <-metricsReady:
			logger.Info("metrics server started", "addr", metricsServer.Addr())
		case err := <-metricsErr:
			return fmt.Errorf("metrics server failed to start: %w", err)
		case <-time.After(5 * time.Second):
			return fmt.Errorf("metrics server startup timed out")
		}
	}

	audit := instrumentation.NewAuditLogger(logger, instrConfig.AuditLogging)

	apiServer, err := server.NewServer(
		server.Config{
			Addr:          viper.GetString("addr"),
			EncryptionKey: key,
		},
		store.NewStore(),
		server.WithLogger(logger),
		server.WithMetrics(provider.Metrics()),
		server.WithAuditLogger(audit),
	)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- apiServer.Start()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-shutdownCtx.Done():
	}

	logger.Info("shutdown signal received")
	ctx, cancelShutdown := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancelShutdown()

	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Error("error during API server shutdown", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Error("error during metrics server shutdown", "error", err)
		}
	}
	return nil
}
