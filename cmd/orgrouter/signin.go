package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jrsteele09/go-org-router/internal/config"
	"github.com/jrsteele09/go-org-router/organizations"
	"github.com/spf13/cobra"
)

const passwordEnvVar = "ORG_PASSWORD"

func newSignInCmd(cfg config.Config) *cobra.Command {
	var organizationID string

	cmd := &cobra.Command{
		Use:   "signin <email>",
		Short: "Sign in to an organization and show the bound user",
		Long:  "Sign in to an organization and show the bound user. The password is read from " + passwordEnvVar + ".",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv(passwordEnvVar)
			if password == "" {
				return fmt.Errorf("%s is not set", passwordEnvVar)
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			orgs, err := a.router.Organizations(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			org, err := pickOrganization(orgs, organizationID)
			if err != nil {
				return err
			}

			client, err := a.router.SignIn(cmd.Context(), org, args[0], password)
			if err != nil {
				return err
			}
			user, err := client.CurrentUser()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "organization: %s\nendpoint:     %s\nuser:         %s <%s>\nclient:       %s\n",
				org.ID, client.Endpoint(), user.ID, user.Email, client.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&organizationID, "org", "", "organization id when the email belongs to several")
	return cmd
}

func pickOrganization(orgs []*organizations.Organization, organizationID string) (*organizations.Organization, error) {
	if organizationID == "" {
		if len(orgs) == 1 {
			return orgs[0], nil
		}
		ids := make([]string, 0, len(orgs))
		for _, org := range orgs {
			ids = append(ids, org.ID)
		}
		return nil, fmt.Errorf("email belongs to several organizations (%s), pick one with --org", strings.Join(ids, ", "))
	}
	for _, org := range orgs {
		if org.ID == organizationID {
			return org, nil
		}
	}
	return nil, fmt.Errorf("email does not belong to organization %q", organizationID)
}
