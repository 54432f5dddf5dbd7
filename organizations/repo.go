package organizations

import "context"

// Lookup resolves which organizations an identity belongs to.
// LookupByEmail returns errors.ErrNoOrganizations when nothing matches and
// Get returns errors.ErrOrganizationNotFound for an unknown id.
type Lookup interface {
	LookupByEmail(ctx context.Context, email string) ([]*Organization, error)
	Get(ctx context.Context, organizationID string) (*Organization, error)
}

// Repo is a writable Lookup, used by the in-memory store.
type Repo interface {
	Lookup
	Upsert(ctx context.Context, org *Organization) error
	Delete(ctx context.Context, organizationID string) error
	AddMember(ctx context.Context, organizationID, email string) error
}
