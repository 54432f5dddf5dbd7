// Package cached adds a read-through TTL cache in front of an organization lookup.
package cached

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jrsteele09/go-org-router/organizations"
)

var _ organizations.Lookup = (*Lookup)(nil)

// Lookup caches successful lookups for ttl. Failures are never cached so that a
// user added to an organization is found on the next attempt. A result fetched
// before a Forget, ForgetOrganization or Purge that covers it is returned to its
// caller but not cached.
type Lookup struct {
	next    organizations.Lookup
	byEmail *ttlcache.Cache[string, []*organizations.Organization]
	byID    *ttlcache.Cache[string, *organizations.Organization]

	genMu     sync.Mutex
	gen       uint64
	forgotten map[string]uint64 // "email:" or "org:" key -> gen of its last forget
	purgedAt  uint64

	runMu   sync.Mutex
	running bool
}

func New(next organizations.Lookup, ttl time.Duration) *Lookup {
	return &Lookup{
		next: next,
		byEmail: ttlcache.New(
			ttlcache.WithTTL[string, []*organizations.Organization](ttl),
			ttlcache.WithDisableTouchOnHit[string, []*organizations.Organization](),
		),
		byID: ttlcache.New(
			ttlcache.WithTTL[string, *organizations.Organization](ttl),
			ttlcache.WithDisableTouchOnHit[string, *organizations.Organization](),
		),
		forgotten: make(map[string]uint64),
	}
}

// Start runs the expired-item cleanup loops until Stop is called.
func (l *Lookup) Start() {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if l.running {
		return
	}
	l.running = true
	go l.byEmail.Start()
	go l.byID.Start()
}

func (l *Lookup) Stop() {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	l.byEmail.Stop()
	l.byID.Stop()
}

func (l *Lookup) LookupByEmail(ctx context.Context, email string) ([]*organizations.Organization, error) {
	key := organizations.NormalizeEmail(email)
	if item := l.byEmail.Get(key); item != nil {
		return cloneAll(item.Value()), nil
	}

	since := l.generation()
	orgs, err := l.next.LookupByEmail(ctx, key)
	if err != nil {
		return nil, err
	}

	l.genMu.Lock()
	defer l.genMu.Unlock()
	if l.staleLocked(since, emailKey(key)) {
		return orgs, nil
	}
	for _, org := range orgs {
		if l.staleLocked(since, orgKey(org.ID)) {
			return orgs, nil
		}
	}
	l.byEmail.Set(key, cloneAll(orgs), ttlcache.DefaultTTL)
	for _, org := range orgs {
		l.byID.Set(org.ID, clone(org), ttlcache.DefaultTTL)
	}
	return orgs, nil
}

func (l *Lookup) Get(ctx context.Context, organizationID string) (*organizations.Organization, error) {
	if item := l.byID.Get(organizationID); item != nil {
		return clone(item.Value()), nil
	}

	since := l.generation()
	org, err := l.next.Get(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	l.genMu.Lock()
	defer l.genMu.Unlock()
	if !l.staleLocked(since, orgKey(organizationID)) {
		l.byID.Set(organizationID, clone(org), ttlcache.DefaultTTL)
	}
	return org, nil
}

// Forget drops the cached lookup for one email.
func (l *Lookup) Forget(email string) {
	key := organizations.NormalizeEmail(email)
	l.genMu.Lock()
	defer l.genMu.Unlock()
	l.gen++
	l.forgotten[emailKey(key)] = l.gen
	l.byEmail.Delete(key)
}

// ForgetOrganization drops an organization and every email lookup that returned it.
func (l *Lookup) ForgetOrganization(organizationID string) {
	l.genMu.Lock()
	defer l.genMu.Unlock()
	l.gen++
	l.forgotten[orgKey(organizationID)] = l.gen
	l.byID.Delete(organizationID)
	for email, item := range l.byEmail.Items() {
		if slices.ContainsFunc(item.Value(), func(o *organizations.Organization) bool {
			return o.ID == organizationID
		}) {
			l.byEmail.Delete(email)
		}
	}
}

// Purge empties both caches, e.g. after credential rotation.
func (l *Lookup) Purge() {
	l.genMu.Lock()
	defer l.genMu.Unlock()
	l.gen++
	l.purgedAt = l.gen
	l.byEmail.DeleteAll()
	l.byID.DeleteAll()
}

func (l *Lookup) Len() int {
	return l.byEmail.Len()
}

func (l *Lookup) generation() uint64 {
	l.genMu.Lock()
	defer l.genMu.Unlock()
	return l.gen
}

// staleLocked reports whether key was forgotten or the cache purged after since.
func (l *Lookup) staleLocked(since uint64, key string) bool {
	return l.purgedAt > since || l.forgotten[key] > since
}

func emailKey(email string) string { return "email:" + email }
func orgKey(id string) string      { return "org:" + id }

func clone(org *organizations.Organization) *organizations.Organization {
	c := *org
	return &c
}

func cloneAll(orgs []*organizations.Organization) []*organizations.Organization {
	out := make([]*organizations.Organization, len(orgs))
	for i, org := range orgs {
		out[i] = clone(org)
	}
	return out
}
