package dbclient

import "github.com/jrsteele09/go-org-router/sessions"

// AuthState is either Anonymous or Authenticated.
type AuthState interface {
	IsAuthenticated() bool
	authState()
}

// Anonymous handles only carry the organization's public key.
type Anonymous struct{}

func (Anonymous) IsAuthenticated() bool { return false }
func (Anonymous) authState()            {}

// Authenticated handles carry a bound session. User is the identity the server
// confirmed when the session was bound.
type Authenticated struct {
	Session sessions.Session
	User    sessions.User
}

func (Authenticated) IsAuthenticated() bool { return true }
func (Authenticated) authState()            {}
