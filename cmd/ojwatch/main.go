// Command ojwatch follows one submission through the push gateway and
// prints its settled judge result. It reads the same configuration as the
// gateway: PUBLIC_WS_URL for the push channels and API_BASE_URL for the
// judge API.
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
	"github.com/ojhub/realtime/src/auth"
	"github.com/ojhub/realtime/src/client"
	"github.com/ojhub/realtime/src/logging"
	"github.com/ojhub/realtime/src/types"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: ojwatch <submission-id>")
		os.Exit(2)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, "ojwatch:", err)
		os.Exit(1)
	}
}

func run(submissionID string) error {
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

	state := auth.NewState(logger)
	state.Set(auth.Identity{Name: os.Getenv("OJ_USERNAME"), Authenticated: true})

	c := client.New(cfg, client.Deps{Auth: state}, logger)
	defer c.Close()

	settled := make(chan types.Submission, 1)
	c.Monitor.OnChange(func(s types.Submission) {
		logger.Info().Str("submission_id", s.ID).Str("result", s.Result.String()).Msg("submission changed")
	})
	c.Monitor.OnSettled(func(s types.Submission) {
		select {
		case settled <- s:
		default:
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.Monitor.StartMonitoring(submissionID)
	select {
	case s := <-settled:
		fmt.Printf("%s %s time=%dms memory=%dB\n", s.ID, s.Result, s.StatisticInfo.TimeCost, s.StatisticInfo.MemoryCost)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
