package organizations

import (
	"strings"

	"github.com/jrsteele09/go-org-router/internal/errors"
)

// Organization is a tenant with its own isolated database.
// Descriptors are created by the management tier and are read-only here.
type Organization struct {
	ID        string `json:"id"`         // Opaque slug, globally unique (e.g., "acme")
	Name      string `json:"name"`       // Display name
	Endpoint  string `json:"endpoint"`   // Database endpoint, with or without scheme
	PublicKey string `json:"public_key"` // Anonymous access key for Endpoint
}

// Validate checks the descriptor carries everything needed to build a client.
func (o *Organization) Validate() error {
	if o == nil {
		return errors.Wrapf(errors.ErrInvalidOrganization, "nil organization")
	}
	if strings.TrimSpace(o.ID) == "" {
		return errors.Wrapf(errors.ErrInvalidOrganization, "missing id")
	}
	if strings.TrimSpace(o.Endpoint) == "" {
		return errors.Wrapf(errors.ErrInvalidEndpoint, "organization %q", o.ID)
	}
	if strings.TrimSpace(o.PublicKey) == "" {
		return errors.Wrapf(errors.ErrInvalidPublicKey, "organization %q", o.ID)
	}
	return nil
}

// NormalizeEmail trims and lower-cases an email before it is used as a lookup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
