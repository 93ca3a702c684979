// Command pushgateway runs the relay that the judge pushes to and the
// realtime clients dial: submission, config and flowchart updates plus
// the collaborative editing signaling rooms.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/ojhub/realtime/config"
	"github.com/ojhub/realtime/src/bridge"
	"github.com/ojhub/realtime/src/hub"
	"github.com/ojhub/realtime/src/logging"
	"github.com/ojhub/realtime/src/server"
	"github.com/ojhub/realtime/src/service"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pushgateway:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	h := hub.New(logger)
	svc := service.New(h, logger)
	go h.Run()

	b := startBridge(cfg.Redis, h, logger)
	srv := server.New(cfg.Server, svc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err = <-errc:
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	if b != nil {
		if stopErr := b.Stop(); stopErr != nil {
			logger.Error().Err(stopErr).Msg("bridge stop error")
		}
	}
	if shutErr := srv.Shutdown(); shutErr != nil && err == nil {
		err = shutErr
	}
	return err
}

// startBridge tries to start the Redis pub/sub bridge.
// If Redis is not reachable, the hub runs in standalone mode.
func startBridge(cfg bridge.RedisConfig, h *hub.Hub, logger zerolog.Logger) bridge.Bridge {
	if !cfg.Enabled {
		logger.Info().Msg("redis bridge disabled, running standalone")
		return nil
	}
	rb := bridge.NewRedisBridge(cfg, h, logger)
	if err := rb.Start(); err != nil {
		logger.Warn().Err(err).Msg("redis bridge unavailable, running standalone")
		_ = rb.Stop()
		return nil
	}
	h.SetBridge(rb)
	logger.Info().Str("redis_addr", cfg.Addr).Msg("redis bridge connected")
	return rb
}
