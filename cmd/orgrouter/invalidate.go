package main

import (
	"errors"

	"github.com/jrsteele09/go-org-router/internal/config"
	"github.com/jrsteele09/go-org-router/invalidation"
	"github.com/spf13/cobra"
)

func newInvalidateCmd(cfg config.Config) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "invalidate [organization]",
		Short: "Ask every listening process to evict cached clients",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return errors.New("pass an organization id or --all")
			}
			if cfg.GetRedisURL() == "" {
				return errors.New("REDIS_URL is not set")
			}

			client, err := invalidation.Connect(cmd.Context(), cfg.GetRedisURL())
			if err != nil {
				return err
			}
			defer client.Close()

			pub := invalidation.NewPublisher(client, cfg.GetInvalidationChannel())
			if all {
				return pub.EvictAll(cmd.Context())
			}
			return pub.EvictOrganization(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "evict every organization")
	return cmd
}
