package orgrepofakes

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-org-router/internal/errors"
	"github.com/jrsteele09/go-org-router/organizations"
)

var _ organizations.Repo = (*FakeOrganizationRepo)(nil)

type FakeOrganizationRepo struct {
	orgs    map[string]*organizations.Organization
	members map[string]map[string]struct{} // email -> organization IDs
	lock    sync.RWMutex
}

func NewFakeOrganizationRepo() *FakeOrganizationRepo {
	return &FakeOrganizationRepo{
		orgs:    make(map[string]*organizations.Organization),
		members: make(map[string]map[string]struct{}),
	}
}

func (r *FakeOrganizationRepo) Upsert(_ context.Context, org *organizations.Organization) error {
	if org == nil {
		return errors.ErrInvalidOrganization
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	stored := *org
	r.orgs[org.ID] = &stored
	return nil
}

func (r *FakeOrganizationRepo) Delete(_ context.Context, organizationID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.orgs, organizationID)
	for _, ids := range r.members {
		delete(ids, organizationID)
	}
	return nil
}

func (r *FakeOrganizationRepo) AddMember(_ context.Context, organizationID, email string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.orgs[organizationID]; !ok {
		return errors.ErrOrganizationNotFound
	}
	email = organizations.NormalizeEmail(email)
	if _, ok := r.members[email]; !ok {
		r.members[email] = make(map[string]struct{})
	}
	r.members[email][organizationID] = struct{}{}
	return nil
}

func (r *FakeOrganizationRepo) Get(_ context.Context, organizationID string) (*organizations.Organization, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	org, ok := r.orgs[organizationID]
	if !ok {
		return nil, errors.ErrOrganizationNotFound
	}
	found := *org
	return &found, nil
}

func (r *FakeOrganizationRepo) LookupByEmail(_ context.Context, email string) ([]*organizations.Organization, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	orgs := make([]*organizations.Organization, 0)
	for id := range r.members[organizations.NormalizeEmail(email)] {
		if org, ok := r.orgs[id]; ok {
			found := *org
			orgs = append(orgs, &found)
		}
	}
	if len(orgs) == 0 {
		return nil, errors.ErrNoOrganizations
	}

	sort.Slice(orgs, func(i, j int) bool {
		return orgs[i].ID < orgs[j].ID
	})
	return orgs, nil
}
