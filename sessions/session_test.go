package sessions_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-org-router/internal/errors"
	"github.com/jrsteele09/go-org-router/internal/fakebackend"
	"github.com/jrsteele09/go-org-router/sessions"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	t.Run("decodes identity", func(t *testing.T) {
		access := fakebackend.MintToken("user-1", "jane@acme.test", exp)
		s, err := sessions.New(access, "ref456")
		require.NoError(t, err)
		require.Equal(t, "user-1", s.User.ID)
		require.Equal(t, "jane@acme.test", s.User.Email)
		require.Equal(t, "authenticated", s.User.Role)
		require.True(t, s.ExpiresAt.Equal(exp))
	})

	t.Run("missing refresh token", func(t *testing.T) {
		_, err := sessions.New(fakebackend.MintToken("user-1", "", exp), " ")
		require.ErrorIs(t, err, errors.ErrMalformedToken)
	})

	t.Run("not a jwt", func(t *testing.T) {
		_, err := sessions.New("tok123", "ref456")
		require.ErrorIs(t, err, errors.ErrMalformedToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"email": "x@y.z"}).SignedString([]byte("k"))
		require.NoError(t, err)
		_, err = sessions.New(raw, "ref456")
		require.ErrorIs(t, err, errors.ErrMalformedToken)
		require.Contains(t, err.Error(), "sub")
	})

	t.Run("no exp claim never expires", func(t *testing.T) {
		s, err := sessions.New(fakebackend.MintToken("user-1", "", time.Time{}), "ref456")
		require.NoError(t, err)
		require.True(t, s.ExpiresAt.IsZero())
		require.False(t, s.Expired(time.Now().Add(100*365*24*time.Hour)))
	})
}

func TestSession_Expired(t *testing.T) {
	exp := time.Now().Add(time.Minute)
	s, err := sessions.New(fakebackend.MintToken("user-1", "", exp), "ref456")
	require.NoError(t, err)

	require.False(t, s.Expired(exp.Add(-2*time.Second)))
	require.True(t, s.Expired(exp.Add(time.Second)))
}

func TestSession_Identity(t *testing.T) {
	access := fakebackend.MintToken("user-1", "jane@acme.test", time.Now().Add(time.Hour))

	t.Run("hand built session", func(t *testing.T) {
		s := &sessions.Session{AccessToken: access, RefreshToken: "ref456"}
		user, err := s.Identity()
		require.NoError(t, err)
		require.Equal(t, "user-1", user.ID)
	})

	t.Run("user does not match token", func(t *testing.T) {
		s := &sessions.Session{AccessToken: access, RefreshToken: "ref456", User: sessions.User{ID: "user-2"}}
		require.ErrorIs(t, s.Validate(), errors.ErrMalformedToken)
	})

	t.Run("nil session", func(t *testing.T) {
		var s *sessions.Session
		require.ErrorIs(t, s.Validate(), errors.ErrMalformedToken)
	})
}

func TestSession_Token(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	s, err := sessions.New(fakebackend.MintToken("user-1", "", exp), "ref456")
	require.NoError(t, err)

	tok := s.Token()
	require.Equal(t, s.AccessToken, tok.AccessToken)
	require.Equal(t, "ref456", tok.RefreshToken)
	require.Equal(t, "Bearer", tok.Type())
	require.True(t, tok.Valid())
}

func TestFingerprint(t *testing.T) {
	require.Empty(t, sessions.Fingerprint(""))
	require.Len(t, sessions.Fingerprint("tok123"), 12)
	require.Equal(t, sessions.Fingerprint("tok123"), sessions.Fingerprint("tok123"))
	require.NotEqual(t, sessions.Fingerprint("tok123"), sessions.Fingerprint("tok124"))
	require.NotContains(t, sessions.Fingerprint("tok123"), "tok123")
}
