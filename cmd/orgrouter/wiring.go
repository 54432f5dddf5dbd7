package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-org-router/binder"
	"github.com/jrsteele09/go-org-router/internal/config"
	"github.com/jrsteele09/go-org-router/organizations"
	"github.com/jrsteele09/go-org-router/organizations/cached"
	"github.com/jrsteele09/go-org-router/organizations/pglookup"
	"github.com/jrsteele09/go-org-router/organizations/rpclookup"
	"github.com/jrsteele09/go-org-router/registry"
	"github.com/jrsteele09/go-org-router/router"
	"github.com/jrsteele09/go-org-router/sessions"
)

// managementOrganizationID labels the default endpoint's handle. The handle is
// built outside the registry so that evictions never orphan it.
const managementOrganizationID = "_management"

type app struct {
	registry *registry.Registry
	router   *router.Router
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}

	reg := registry.New(
		registry.WithHTTPClient(&http.Client{Timeout: cfg.GetHTTPTimeout()}),
		registry.WithClientInfo(cfg.GetClientInfo()),
	)
	a.registry = reg

	lookup, err := a.newLookup(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	var opts []binder.BinderOption
	if jwksURL := cfg.GetJWKSURL(); jwksURL != "" {
		opts = append(opts, binder.WithVerifier(sessions.NewRemoteVerifier(ctx, cfg.GetTokenIssuer(), jwksURL, "")))
	}
	b, err := binder.New(reg, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	r, err := router.New(lookup, reg, b)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.router = r
	return a, nil
}

func (a *app) newLookup(ctx context.Context, cfg config.Config) (organizations.Lookup, error) {
	var lookup organizations.Lookup

	if dsn := cfg.GetManagementDatabaseURL(); dsn != "" {
		pg, closePool, err := pglookup.Connect(ctx, dsn)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closePool)
		lookup = pg
	} else {
		if cfg.GetDefaultEndpoint() == "" || cfg.GetDefaultPublicKey() == "" {
			return nil, fmt.Errorf("DEFAULT_ENDPOINT and DEFAULT_PUBLIC_KEY (or MANAGEMENT_DATABASE_URL) must be set")
		}
		management, err := a.registry.Build(cfg.GetDefaultEndpoint(), cfg.GetDefaultPublicKey(), managementOrganizationID, "")
		if err != nil {
			return nil, fmt.Errorf("management client: %w", err)
		}
		rpc, err := rpclookup.New(management)
		if err != nil {
			return nil, err
		}
		lookup = rpc
	}

	if ttl := cfg.GetLookupCacheTTL(); ttl > 0 {
		c := cached.New(lookup, ttl)
		c.Start()
		a.closers = append(a.closers, c.Stop)
		lookup = c
	}
	return lookup, nil
}
