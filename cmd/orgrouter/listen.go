package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jrsteele09/go-org-router/internal/config"
	"github.com/jrsteele09/go-org-router/invalidation"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newListenCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Apply invalidation messages to this process's client cache until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.GetRedisURL() == "" {
				return errors.New("REDIS_URL is not set")
			}
			displayAppname(cfg.GetAppName())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			client, err := invalidation.Connect(ctx, cfg.GetRedisURL())
			if err != nil {
				return err
			}
			defer client.Close()

			sub := invalidation.NewSubscriber(client, cfg.GetInvalidationChannel(), a.router)
			log.Info().Str("channel", cfg.GetInvalidationChannel()).Msg("listening for invalidations")
			if err := sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info().Msg("listener stopped")
			return nil
		},
	}
}
