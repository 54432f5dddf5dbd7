package sessions

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-org-router/internal/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/oauth2"
)

// User is the identity encoded in a session's access token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Session is the access/refresh token pair of an authenticated end user.
// Sessions are owned by the authentication flow; routing code only borrows
// them to bind into a client and never refreshes them itself.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"` // Zero when the token carries no exp claim
	User         User      `json:"user"`
}

// New decodes the identity claims of accessToken. The signature is not checked
// here, see Verifier for that.
func New(accessToken, refreshToken string) (*Session, error) {
	accessToken = strings.TrimSpace(accessToken)
	refreshToken = strings.TrimSpace(refreshToken)
	if accessToken == "" {
		return nil, errors.Wrapf(errors.ErrMalformedToken, "missing access token")
	}
	if refreshToken == "" {
		return nil, errors.Wrapf(errors.ErrMalformedToken, "missing refresh token")
	}

	user, exp, err := decodeClaims(accessToken)
	if err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    exp,
		User:         user,
	}, nil
}

func decodeClaims(rawToken string) (User, time.Time, error) {
	token, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return User{}, time.Time{}, errors.Mark(err, errors.ErrMalformedToken)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return User{}, time.Time{}, errors.Wrapf(errors.ErrMalformedToken, "error extracting claims")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return User{}, time.Time{}, errors.Wrapf(errors.ErrMalformedToken, "token missing sub claim")
	}

	var expiresAt time.Time
	if exp, err := claims.GetExpirationTime(); err != nil {
		return User{}, time.Time{}, errors.Mark(err, errors.ErrMalformedToken)
	} else if exp != nil {
		expiresAt = exp.Time
	}

	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)

	return User{ID: sub, Email: email, Role: role}, expiresAt, nil
}

// Validate checks both tokens are present and the access token still decodes.
func (s *Session) Validate() error {
	_, err := s.Identity()
	return err
}

// Identity decodes the user encoded in the access token.
func (s *Session) Identity() (User, error) {
	if s == nil {
		return User{}, errors.Wrapf(errors.ErrMalformedToken, "nil session")
	}
	if s.AccessToken == "" || s.RefreshToken == "" {
		return User{}, errors.Wrapf(errors.ErrMalformedToken, "session requires access and refresh tokens")
	}
	user, _, err := decodeClaims(s.AccessToken)
	if err != nil {
		return User{}, err
	}
	if s.User.ID != "" && s.User.ID != user.ID {
		return User{}, errors.Wrapf(errors.ErrMalformedToken, "session user does not match token subject")
	}
	return user, nil
}

// Expired reports whether the access token has expired at now.
func (s *Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Token converts the session for use with an oauth2 token source.
func (s *Session) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       s.ExpiresAt,
	}
}

// Fingerprint returns a short, stable digest of a token that is safe to log.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
