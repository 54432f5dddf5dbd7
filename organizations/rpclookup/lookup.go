// Package rpclookup resolves organizations through database functions exposed
// by the management tier.
package rpclookup

import (
	"context"

	"github.com/jrsteele09/go-org-router/dbclient"
	apperrors "github.com/jrsteele09/go-org-router/internal/errors"
	"github.com/jrsteele09/go-org-router/organizations"
	"github.com/pkg/errors"
)

const (
	DefaultEmailFunction        = "get_organizations_for_email"
	DefaultOrganizationFunction = "get_organization"
)

var _ organizations.Lookup = (*Lookup)(nil)

type Lookup struct {
	client               *dbclient.Client
	emailFunction        string
	organizationFunction string
}

type Option func(*Lookup)

func WithFunctions(emailFunction, organizationFunction string) Option {
	return func(l *Lookup) {
		l.emailFunction = emailFunction
		l.organizationFunction = organizationFunction
	}
}

// New uses client, normally the anonymous handle of the default endpoint, for every call.
func New(client *dbclient.Client, options ...Option) (*Lookup, error) {
	if client == nil {
		return nil, errors.New("[rpclookup.New] client is required")
	}
	l := &Lookup{
		client:               client,
		emailFunction:        DefaultEmailFunction,
		organizationFunction: DefaultOrganizationFunction,
	}
	for _, opt := range options {
		opt(l)
	}
	return l, nil
}

func (l *Lookup) LookupByEmail(ctx context.Context, email string) ([]*organizations.Organization, error) {
	var orgs []*organizations.Organization
	args := map[string]any{"p_email": organizations.NormalizeEmail(email)}
	if err := l.client.RPC(ctx, l.emailFunction, args, &orgs); err != nil {
		return nil, errors.Wrap(err, "[Lookup.LookupByEmail] rpc")
	}
	if len(orgs) == 0 {
		return nil, apperrors.ErrNoOrganizations
	}
	return orgs, nil
}

func (l *Lookup) Get(ctx context.Context, organizationID string) (*organizations.Organization, error) {
	var orgs []*organizations.Organization
	args := map[string]any{"p_organization_id": organizationID}
	if err := l.client.RPC(ctx, l.organizationFunction, args, &orgs); err != nil {
		return nil, errors.Wrap(err, "[Lookup.Get] rpc")
	}
	if len(orgs) == 0 {
		return nil, apperrors.ErrOrganizationNotFound
	}
	return orgs[0], nil
}
