package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/jrsteele09/go-org-router/internal/config"
	"github.com/spf13/cobra"
)

func newLookupCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <email>",
		Short: "List the organizations an email belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			orgs, err := a.router.Organizations(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tENDPOINT")
			for _, org := range orgs {
				fmt.Fprintf(w, "%s\t%s\t%s\n", org.ID, org.Name, org.Endpoint)
			}
			return w.Flush()
		},
	}
}
