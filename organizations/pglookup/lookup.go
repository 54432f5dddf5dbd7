// Package pglookup reads organization descriptors straight from the management
// database.
package pglookup

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/jrsteele09/go-org-router/internal/errors"
	"github.com/jrsteele09/go-org-router/organizations"
	"github.com/pkg/errors"
)

// Schema creates the tables the lookup reads.
const Schema = `
CREATE TABLE IF NOT EXISTS organizations (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	endpoint   TEXT NOT NULL,
	public_key TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS organization_members (
	organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
	email           TEXT NOT NULL,
	PRIMARY KEY (organization_id, email)
);`

const (
	selectByEmail = `
SELECT o.id, o.name, o.endpoint, o.public_key
FROM organizations o
JOIN organization_members m ON m.organization_id = o.id
WHERE lower(m.email) = $1
ORDER BY o.id`

	selectByID = `
SELECT id, name, endpoint, public_key
FROM organizations
WHERE id = $1`
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ organizations.Lookup = (*Lookup)(nil)

type Lookup struct {
	db Querier
}

func New(db Querier) *Lookup {
	return &Lookup{db: db}
}

// Connect opens a pool for dsn. The returned close function releases it.
func Connect(ctx context.Context, dsn string) (*Lookup, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[pglookup.Connect] pgxpool.New")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, errors.Wrap(err, "[pglookup.Connect] ping")
	}
	return New(pool), pool.Close, nil
}

func (l *Lookup) LookupByEmail(ctx context.Context, email string) ([]*organizations.Organization, error) {
	rows, err := l.db.Query(ctx, selectByEmail, organizations.NormalizeEmail(email))
	if err != nil {
		return nil, errors.Wrap(err, "[Lookup.LookupByEmail] query")
	}
	orgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*organizations.Organization, error) {
		return scanOrganization(row)
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Lookup.LookupByEmail] scan")
	}
	if len(orgs) == 0 {
		return nil, apperrors.ErrNoOrganizations
	}
	return orgs, nil
}

func (l *Lookup) Get(ctx context.Context, organizationID string) (*organizations.Organization, error) {
	org, err := scanOrganization(l.db.QueryRow(ctx, selectByID, organizationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrOrganizationNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Lookup.Get] scan")
	}
	return org, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row scanner) (*organizations.Organization, error) {
	var org organizations.Organization
	if err := row.Scan(&org.ID, &org.Name, &org.Endpoint, &org.PublicKey); err != nil {
		return nil, err
	}
	return &org, nil
}
