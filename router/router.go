// Package router ties organization lookup, the client registry and session
// binding together for the application layer.
package router

import (
	"context"
	"strings"

	"github.com/jrsteele09/go-org-router/binder"
	"github.com/jrsteele09/go-org-router/dbclient"
	apperrors "github.com/jrsteele09/go-org-router/internal/errors"
	"github.com/jrsteele09/go-org-router/organizations"
	"github.com/jrsteele09/go-org-router/registry"
	"github.com/jrsteele09/go-org-router/sessions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// LookupCache is implemented by lookups that keep results around (see organizations/cached).
type LookupCache interface {
	Purge()
	ForgetOrganization(organizationID string)
}

type Router struct {
	lookup   organizations.Lookup
	registry *registry.Registry
	binder   *binder.Binder
}

func New(lookup organizations.Lookup, reg *registry.Registry, b *binder.Binder) (*Router, error) {
	if lookup == nil {
		return nil, errors.New("[router.New] lookup is required")
	}
	if reg == nil {
		return nil, errors.New("[router.New] registry is required")
	}
	if b == nil {
		return nil, errors.New("[router.New] binder is required")
	}
	return &Router{lookup: lookup, registry: reg, binder: b}, nil
}

// Organizations returns the organizations email belongs to.
func (r *Router) Organizations(ctx context.Context, email string) ([]*organizations.Organization, error) {
	if strings.TrimSpace(email) == "" {
		return nil, errors.Wrap(apperrors.ErrInvalidRequest, "[Router.Organizations] empty email")
	}
	orgs, err := r.lookup.LookupByEmail(ctx, email)
	if err != nil {
		return nil, errors.Wrap(err, "[Router.Organizations] lookup")
	}
	return orgs, nil
}

func (r *Router) Organization(ctx context.Context, organizationID string) (*organizations.Organization, error) {
	org, err := r.lookup.Get(ctx, organizationID)
	if err != nil {
		return nil, errors.Wrap(err, "[Router.Organization] lookup")
	}
	return org, nil
}

// AnonymousClient returns the cached public handle for org.
func (r *Router) AnonymousClient(org *organizations.Organization) (*dbclient.Client, error) {
	if err := org.Validate(); err != nil {
		return nil, errors.Wrap(err, "[Router.AnonymousClient]")
	}
	return r.registry.GetClient(org.Endpoint, org.PublicKey, org.ID, "")
}

// SignIn authenticates with email and password against org's backend and returns
// the bound handle.
func (r *Router) SignIn(ctx context.Context, org *organizations.Organization, email, password string) (*dbclient.Client, error) {
	anon, err := r.AnonymousClient(org)
	if err != nil {
		return nil, err
	}
	session, err := anon.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, errors.Wrap(err, "[Router.SignIn] sign in")
	}
	return r.BindSession(ctx, org, session)
}

// BindSession binds a session obtained elsewhere (e.g., an OAuth callback).
func (r *Router) BindSession(ctx context.Context, org *organizations.Organization, session *sessions.Session) (*dbclient.Client, error) {
	return r.binder.BindSession(ctx, org, session)
}

// Client returns the authenticated handle currently cached for an organization.
func (r *Router) Client(organizationID string) (*dbclient.Client, error) {
	for _, c := range r.registry.ClientsFor(organizationID) {
		if c.HasToken() && c.IsAuthenticated() {
			return c, nil
		}
	}
	return nil, errors.Wrapf(apperrors.ErrNotAuthenticated, "[Router.Client] organization %q", organizationID)
}

// SignOut revokes the organization's bound sessions (best effort) and evicts all
// of its handles.
func (r *Router) SignOut(ctx context.Context, organizationID string) int {
	for _, c := range r.registry.ClientsFor(organizationID) {
		if !c.IsAuthenticated() {
			continue
		}
		if err := c.SignOut(ctx); err != nil {
			log.Warn().Err(err).Str("organization", organizationID).Msg("server-side sign out failed")
		}
	}
	return r.registry.EvictOrganization(organizationID)
}

// EvictOrganization drops an organization's handles and cached lookups, e.g.
// after its credentials were rotated.
func (r *Router) EvictOrganization(organizationID string) int {
	if lc, ok := r.lookup.(LookupCache); ok {
		lc.ForgetOrganization(organizationID)
	}
	return r.registry.EvictOrganization(organizationID)
}

// EvictAll clears every cached handle and lookup.
func (r *Router) EvictAll() int {
	if lc, ok := r.lookup.(LookupCache); ok {
		lc.Purge()
	}
	n := r.registry.EvictAll()
	log.Info().Int("evicted", n).Msg("organization clients reset")
	return n
}
