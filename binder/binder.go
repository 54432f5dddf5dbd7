// Package binder produces client handles whose requests are authenticated as a
// user session.
package binder

import (
	"context"
	"time"

	"github.com/jrsteele09/go-org-router/dbclient"
	apperrors "github.com/jrsteele09/go-org-router/internal/errors"
	"github.com/jrsteele09/go-org-router/organizations"
	"github.com/jrsteele09/go-org-router/registry"
	"github.com/jrsteele09/go-org-router/sessions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Binder binds sessions into organization clients held by a registry.
type Binder struct {
	registry *registry.Registry
	verifier sessions.Verifier // Optional signature check before the backend round-trip
	nowTime  func() time.Time
}

type BinderOption func(*Binder)

// WithVerifier checks token signatures locally before binding.
func WithVerifier(v sessions.Verifier) BinderOption {
	return func(b *Binder) {
		b.verifier = v
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) BinderOption {
	return func(b *Binder) {
		b.nowTime = nowFunc
	}
}

func New(reg *registry.Registry, options ...BinderOption) (*Binder, error) {
	if reg == nil {
		return nil, errors.New("[binder.New] registry is required")
	}
	b := &Binder{
		registry: reg,
		nowTime:  time.Now,
	}
	for _, opt := range options {
		opt(b)
	}
	return b, nil
}

// BindSession returns a handle for org whose auth state holds session.
//
// The handle is built outside the cache and the session is set on it first
// (one backend round-trip). Only a fully bound handle is adopted into the
// registry, which evicts the organization's anonymous handle in the same step.
// When binding fails nothing in the cache changes, so an anonymous handle
// already cached for org stays valid as anonymous. If org is evicted while the
// round-trip is in flight the handle is discarded and ErrClientEvicted is
// returned; the caller may bind again.
func (b *Binder) BindSession(ctx context.Context, org *organizations.Organization, session *sessions.Session) (*dbclient.Client, error) {
	if err := org.Validate(); err != nil {
		return nil, errors.Wrap(err, "[Binder.BindSession] organization")
	}
	if err := session.Validate(); err != nil {
		return nil, errors.Wrap(apperrors.Mark(err, apperrors.ErrSessionBinding), "[Binder.BindSession] session")
	}
	if session.Expired(b.nowTime()) {
		return nil, errors.Wrap(apperrors.Mark(apperrors.ErrSessionExpired, apperrors.ErrSessionBinding), "[Binder.BindSession]")
	}
	if b.verifier != nil {
		if err := b.verifier.Verify(ctx, session.AccessToken); err != nil {
			return nil, errors.Wrap(apperrors.Mark(err, apperrors.ErrSessionBinding), "[Binder.BindSession] verify")
		}
	}

	generation := b.registry.Generation(org.ID)
	client, err := b.registry.Build(org.Endpoint, org.PublicKey, org.ID, session.AccessToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Binder.BindSession] build client")
	}

	if err := client.SetSession(ctx, session); err != nil {
		log.Warn().
			Err(err).
			Str("organization", org.ID).
			Str("token", sessions.Fingerprint(session.AccessToken)).
			Msg("session binding failed")
		return nil, errors.Wrap(err, "[Binder.BindSession] SetSession")
	}

	if err := b.registry.Adopt(client, generation); err != nil {
		log.Warn().
			Err(err).
			Str("organization", org.ID).
			Str("client_id", client.ID().String()).
			Msg("organization evicted while binding, discarding client")
		return nil, errors.Wrap(apperrors.Mark(err, apperrors.ErrSessionBinding), "[Binder.BindSession] adopt client")
	}

	log.Info().
		Str("organization", org.ID).
		Str("client_id", client.ID().String()).
		Str("user_id", session.User.ID).
		Msg("session bound to organization client")
	return client, nil
}
