package binder_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-org-router/binder"
	"github.com/jrsteele09/go-org-router/dbclient"
	"github.com/jrsteele09/go-org-router/internal/errors"
	"github.com/jrsteele09/go-org-router/internal/fakebackend"
	"github.com/jrsteele09/go-org-router/organizations"
	"github.com/jrsteele09/go-org-router/registry"
	"github.com/jrsteele09/go-org-router/sessions"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	err   error
	calls int
}

func (v *stubVerifier) Verify(context.Context, string) error {
	v.calls++
	return v.err
}

// hookTransport runs before once, ahead of the first request to path.
type hookTransport struct {
	path   string
	before func()
	once   sync.Once
}

func (h *hookTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Path == h.path {
		h.once.Do(h.before)
	}
	return http.DefaultTransport.RoundTrip(req)
}

type fixture struct {
	backend  *fakebackend.Backend
	registry *registry.Registry
	org      *organizations.Organization
}

func setup(t *testing.T) *fixture {
	t.Helper()
	b := fakebackend.New("anon-key-1")
	t.Cleanup(b.Close)
	b.AddUser("user-1", "jane@acme.test", "hunter2", "authenticated")

	return &fixture{
		backend:  b,
		registry: registry.New(registry.WithLogger(zerolog.Nop())),
		org:      &organizations.Organization{ID: "acme", Name: "Acme", Endpoint: b.URL(), PublicKey: "anon-key-1"},
	}
}

func (f *fixture) session(t *testing.T) *sessions.Session {
	t.Helper()
	access, refresh := f.backend.IssueSession("jane@acme.test", time.Hour)
	s, err := sessions.New(access, refresh)
	require.NoError(t, err)
	return s
}

func (f *fixture) anonymous(t *testing.T) *dbclient.Client {
	t.Helper()
	c, err := f.registry.GetClient(f.org.Endpoint, f.org.PublicKey, f.org.ID, "")
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	_, err := binder.New(nil)
	require.Error(t, err)
}

func TestBinder_BindSession(t *testing.T) {
	ctx := context.Background()

	t.Run("anonymous, bind, anonymous again", func(t *testing.T) {
		f := setup(t)
		b, err := binder.New(f.registry)
		require.NoError(t, err)

		h1 := f.anonymous(t)

		s := f.session(t)
		h2, err := b.BindSession(ctx, f.org, s)
		require.NoError(t, err)
		require.NotSame(t, h1, h2)
		require.True(t, h2.HasToken())
		require.True(t, h2.IsAuthenticated())
		require.False(t, h1.IsAuthenticated())

		user, err := h2.CurrentUser()
		require.NoError(t, err)
		require.Equal(t, s.User.ID, user.ID)

		_, ok := f.registry.Get(registry.KeyFor(h1))
		require.False(t, ok, "anonymous handle evicted on bind")
		cached, ok := f.registry.Get(registry.KeyFor(h2))
		require.True(t, ok)
		require.Same(t, h2, cached)

		h3 := f.anonymous(t)
		require.NotSame(t, h1, h3)
		require.NotSame(t, h2, h3)
		require.False(t, h3.IsAuthenticated())
		_, ok = f.registry.Get(registry.KeyFor(h2))
		require.False(t, ok, "authenticated handle evicted on anonymous request")
	})

	t.Run("rebinding replaces the authenticated handle", func(t *testing.T) {
		f := setup(t)
		b, err := binder.New(f.registry)
		require.NoError(t, err)

		first, err := b.BindSession(ctx, f.org, f.session(t))
		require.NoError(t, err)
		s2 := f.session(t)
		second, err := b.BindSession(ctx, f.org, s2)
		require.NoError(t, err)

		require.NotSame(t, first, second)
		require.Equal(t, 1, f.registry.Len())
		state := second.AuthState().(dbclient.Authenticated)
		require.Equal(t, s2.AccessToken, state.Session.AccessToken)
	})

	t.Run("failed bind leaves cache untouched", func(t *testing.T) {
		f := setup(t)
		b, err := binder.New(f.registry)
		require.NoError(t, err)

		anon := f.anonymous(t)
		forged, err := sessions.New(fakebackend.MintToken("user-1", "jane@acme.test", time.Now().Add(time.Hour)), "ref456")
		require.NoError(t, err)

		_, err = b.BindSession(ctx, f.org, forged)
		require.ErrorIs(t, err, errors.ErrSessionBinding)

		require.Equal(t, 1, f.registry.Len())
		cached, ok := f.registry.Get(registry.KeyFor(anon))
		require.True(t, ok)
		require.Same(t, anon, cached)
		require.False(t, cached.IsAuthenticated())
	})

	t.Run("backend error is reported", func(t *testing.T) {
		f := setup(t)
		b, err := binder.New(f.registry)
		require.NoError(t, err)
		s := f.session(t)

		f.backend.FailUserLookups(true)
		_, err = b.BindSession(ctx, f.org, s)
		require.ErrorIs(t, err, errors.ErrSessionBinding)
		var apiErr *dbclient.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Zero(t, f.registry.Len())
	})

	t.Run("expired session never reaches the backend", func(t *testing.T) {
		f := setup(t)
		now := time.Now()
		b, err := binder.New(f.registry, binder.WithNowTime(func() time.Time { return now.Add(2 * time.Hour) }))
		require.NoError(t, err)

		_, err = b.BindSession(ctx, f.org, f.session(t))
		require.ErrorIs(t, err, errors.ErrSessionExpired)
		require.ErrorIs(t, err, errors.ErrSessionBinding)
		require.Zero(t, f.backend.UserLookups())
		require.Zero(t, f.registry.Len())
	})

	t.Run("verifier rejection", func(t *testing.T) {
		f := setup(t)
		v := &stubVerifier{err: errors.ErrInvalidToken}
		b, err := binder.New(f.registry, binder.WithVerifier(v))
		require.NoError(t, err)

		_, err = b.BindSession(ctx, f.org, f.session(t))
		require.ErrorIs(t, err, errors.ErrInvalidToken)
		require.ErrorIs(t, err, errors.ErrSessionBinding)
		require.Equal(t, 1, v.calls)
		require.Zero(t, f.backend.UserLookups())

		v.err = nil
		_, err = b.BindSession(ctx, f.org, f.session(t))
		require.NoError(t, err)
		require.Equal(t, 2, v.calls)
	})

	t.Run("invalid input", func(t *testing.T) {
		f := setup(t)
		b, err := binder.New(f.registry)
		require.NoError(t, err)

		_, err = b.BindSession(ctx, &organizations.Organization{ID: "acme", Endpoint: f.org.Endpoint}, f.session(t))
		require.ErrorIs(t, err, errors.ErrInvalidPublicKey)

		_, err = b.BindSession(ctx, f.org, &sessions.Session{AccessToken: "tok123", RefreshToken: "ref456"})
		require.ErrorIs(t, err, errors.ErrMalformedToken)
		require.ErrorIs(t, err, errors.ErrSessionBinding)

		_, err = b.BindSession(ctx, f.org, nil)
		require.ErrorIs(t, err, errors.ErrSessionBinding)
		require.Zero(t, f.backend.UserLookups())
	})
}

func TestBinder_EvictionDuringBind(t *testing.T) {
	ctx := context.Background()

	for name, evict := range map[string]func(reg *registry.Registry){
		"organization": func(reg *registry.Registry) { reg.EvictOrganization("acme") },
		"all":          func(reg *registry.Registry) { reg.EvictAll() },
	} {
		t.Run(name, func(t *testing.T) {
			f := setup(t)
			hook := &hookTransport{path: "/auth/v1/user"}
			f.registry = registry.New(
				registry.WithLogger(zerolog.Nop()),
				registry.WithHTTPClient(&http.Client{Transport: hook}),
			)
			hook.before = func() { evict(f.registry) }

			b, err := binder.New(f.registry)
			require.NoError(t, err)
			anon := f.anonymous(t)
			s := f.session(t)

			_, err = b.BindSession(ctx, f.org, s)
			require.ErrorIs(t, err, errors.ErrClientEvicted)
			require.ErrorIs(t, err, errors.ErrSessionBinding)
			require.Zero(t, f.registry.Len())

			fresh, err := f.registry.GetClient(f.org.Endpoint, f.org.PublicKey, f.org.ID, s.AccessToken)
			require.NoError(t, err)
			require.False(t, fresh.IsAuthenticated())
			require.NotSame(t, anon, fresh)

			// A retry after the eviction binds normally.
			bound, err := b.BindSession(ctx, f.org, s)
			require.NoError(t, err)
			require.True(t, bound.IsAuthenticated())
		})
	}
}

func TestBinder_SignedOutHandleIsReplaced(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	b, err := binder.New(f.registry)
	require.NoError(t, err)

	s := f.session(t)
	bound, err := b.BindSession(ctx, f.org, s)
	require.NoError(t, err)
	require.NoError(t, bound.SignOut(ctx))
	require.True(t, bound.SignedOut())

	next, err := f.registry.GetClient(f.org.Endpoint, f.org.PublicKey, f.org.ID, s.AccessToken)
	require.NoError(t, err)
	require.NotSame(t, bound, next)
	require.False(t, next.SignedOut())
	require.Equal(t, 1, f.registry.Len())
}
