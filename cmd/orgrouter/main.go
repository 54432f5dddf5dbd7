package main

import (
	"fmt"
	"os"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-org-router/internal/config"
	"github.com/jrsteele09/go-org-router/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(config.New()).Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newRootCmd(cfg config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "orgrouter",
		Short:         "Resolve organizations and route sessions to their databases",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(cfg.GetEnv(), cfg.GetLogLevel(), os.Stderr)
		},
	}

	root.AddCommand(
		newLookupCmd(cfg),
		newSignInCmd(cfg),
		newInvalidateCmd(cfg),
		newListenCmd(cfg),
	)
	return root
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
