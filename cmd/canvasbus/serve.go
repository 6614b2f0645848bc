package main

import (
	"context"
	"os"
	"time"

	"github.com/orchestra-mcp/canvasbus/config"
	"github.com/orchestra-mcp/canvasbus/providers"
	"github.com/orchestra-mcp/canvasbus/src/bridge"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the WebSocket and HTTP poll server",
		Example: `  # Start on the default address
  canvasbus serve

  # Relay broadcasts across instances and keep interactions in Redis
  REDIS_ADDR=redis:6379 canvasbus serve --bridge --inbox redis`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "listen address (overrides config)")
	cmd.Flags().Bool("bridge", false, "enable the Redis pub/sub bridge")
	cmd.Flags().String("inbox", "", "interaction inbox backend: memory or redis")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Addr = addr
	}
	if cmd.Flags().Changed("bridge") {
		cfg.BridgeEnabled, _ = cmd.Flags().GetBool("bridge")
	}
	if backend, _ := cmd.Flags().GetString("inbox"); backend != "" {
		cfg.InboxBackend = backend
	}

	logger := cfg.NewLogger(os.Stderr)

	plugin := providers.NewBusPlugin()
	if err := plugin.Activate(&providers.Context{
		Logger: logger,
		Config: cfg,
		Redis:  bridge.RedisConfigFromEnv(),
	}); err != nil {
		return err
	}
	defer plugin.Deactivate()

	srv := &fasthttp.Server{
		Handler:         plugin.Handler(),
		Name:            "canvasbus",
		ReadBufferSize:  cfg.ReadBufferSize * 4,
		WriteBufferSize: cfg.WriteBufferSize * 4,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("canvas bus listening")
		errCh <- srv.ListenAndServe(cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-cmd.Context().Done():
	}

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	return nil
}
