// Package registry caches one database client handle per organization,
// endpoint and auth state, and evicts them on logout, organization switch or
// credential rotation.
package registry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-org-router/dbclient"
	"github.com/jrsteele09/go-org-router/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Key identifies a cached handle. At most one handle exists per Key.
type Key struct {
	OrganizationID string
	Endpoint       string // Normalized, see dbclient.NormalizeEndpoint
	Authenticated  bool   // Whether the handle was requested with an access token
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%t", k.OrganizationID, k.Endpoint, k.Authenticated)
}

// KeyFor returns the key a handle is cached under.
func KeyFor(c *dbclient.Client) Key {
	return Key{
		OrganizationID: c.OrganizationID(),
		Endpoint:       c.Endpoint(),
		Authenticated:  c.HasToken(),
	}
}

type EvictionReason string

const (
	ReasonAuthStateChanged   EvictionReason = "auth_state_changed"
	ReasonCredentialsChanged EvictionReason = "credentials_changed"
	ReasonReplaced           EvictionReason = "replaced"
	ReasonOrganization       EvictionReason = "organization_evicted"
	ReasonAll                EvictionReason = "all_evicted"
	ReasonSignedOut          EvictionReason = "signed_out"
)

// Eviction is published to listeners whenever a handle leaves the cache.
type Eviction struct {
	Key      Key
	ClientID uuid.UUID
	Reason   EvictionReason
}

type EvictionListener func(Eviction)

// Registry is the process-wide client cache. Create one at start-up and pass it
// to whatever needs clients; separate instances share nothing.
type Registry struct {
	mu      sync.Mutex
	clients map[Key]*dbclient.Client
	orgGen  map[string]uint64 // Bumped by EvictOrganization
	allGen  uint64            // Bumped by EvictAll

	httpClient *http.Client
	clientInfo string
	logger     zerolog.Logger
	listeners  []EvictionListener
}

type Option func(*Registry)

// WithHTTPClient sets the transport used by every constructed handle.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Registry) {
		r.httpClient = hc
	}
}

func WithClientInfo(info string) Option {
	return func(r *Registry) {
		r.clientInfo = info
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithEvictionListener registers fn for cache invalidation events. Listeners run
// after the registry lock is released and may call back into the registry.
func WithEvictionListener(fn EvictionListener) Option {
	return func(r *Registry) {
		r.listeners = append(r.listeners, fn)
	}
}

func New(options ...Option) *Registry {
	r := &Registry{
		clients: make(map[Key]*dbclient.Client),
		orgGen:  make(map[string]uint64),
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// GetClient returns the cached handle for (organizationID, endpoint, token
// presence), constructing it on first use. Cached handles for the same
// organization and endpoint in the other auth state are evicted first, so an
// anonymous request never receives an authenticated handle or the reverse.
// An existing handle for the exact key is returned as is, without re-binding,
// unless it was signed out or its public key changed; then it is replaced.
func (r *Registry) GetClient(endpoint, publicKey, organizationID, accessToken string) (*dbclient.Client, error) {
	key, err := r.key(endpoint, publicKey, organizationID, accessToken)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	evicted := r.evictOtherStateLocked(key)

	if existing, ok := r.clients[key]; ok {
		switch {
		case existing.SignedOut():
			evicted = append(evicted, Eviction{Key: key, ClientID: existing.ID(), Reason: ReasonSignedOut})
		case existing.PublicKey() != publicKey:
			evicted = append(evicted, Eviction{Key: key, ClientID: existing.ID(), Reason: ReasonCredentialsChanged})
		default:
			r.mu.Unlock()
			r.notify(evicted)
			return existing, nil
		}
		delete(r.clients, key)
	}

	client, err := r.build(key.Endpoint, publicKey, organizationID, accessToken)
	if err != nil {
		r.mu.Unlock()
		r.notify(evicted)
		return nil, err
	}
	r.clients[key] = client
	r.mu.Unlock()

	r.notify(evicted)
	r.logger.Debug().
		Str("organization", organizationID).
		Str("endpoint", key.Endpoint).
		Bool("authenticated", key.Authenticated).
		Str("client_id", client.ID().String()).
		Msg("client created")
	return client, nil
}

// Generation changes whenever organizationID's handles are evicted by
// EvictOrganization or EvictAll. Read it before Build and hand it to Adopt.
func (r *Registry) Generation(organizationID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generationLocked(organizationID)
}

// Build constructs a handle with the registry's settings without caching it.
func (r *Registry) Build(endpoint, publicKey, organizationID, accessToken string) (*dbclient.Client, error) {
	key, err := r.key(endpoint, publicKey, organizationID, accessToken)
	if err != nil {
		return nil, err
	}
	return r.build(key.Endpoint, publicKey, organizationID, accessToken)
}

// Adopt stores a handle produced by Build. generation is the value Generation
// returned before Build; if the organization was evicted since, the handle is
// refused with ErrClientEvicted and the cache is left alone. Otherwise handles for
// the same organization and endpoint in the other auth state are evicted and an
// existing handle under the same key is replaced, all under one lock.
func (r *Registry) Adopt(client *dbclient.Client, generation uint64) error {
	if client == nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "[Registry.Adopt] nil client")
	}
	key := KeyFor(client)

	r.mu.Lock()
	if current := r.generationLocked(key.OrganizationID); current != generation {
		r.mu.Unlock()
		return errors.Wrapf(errors.ErrClientEvicted, "[Registry.Adopt] organization %q generation %d, built at %d", key.OrganizationID, current, generation)
	}
	evicted := r.evictOtherStateLocked(key)
	if existing, ok := r.clients[key]; ok && existing != client {
		evicted = append(evicted, Eviction{Key: key, ClientID: existing.ID(), Reason: ReasonReplaced})
	}
	r.clients[key] = client
	r.mu.Unlock()

	r.notify(evicted)
	return nil
}

// Get returns the handle cached under key.
func (r *Registry) Get(key Key) (*dbclient.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[key]
	return c, ok
}

// ClientsFor returns the cached handles of one organization, ordered by endpoint.
func (r *Registry) ClientsFor(organizationID string) []*dbclient.Client {
	r.mu.Lock()
	clients := make([]*dbclient.Client, 0)
	for key, c := range r.clients {
		if key.OrganizationID == organizationID {
			clients = append(clients, c)
		}
	}
	r.mu.Unlock()

	sort.Slice(clients, func(i, j int) bool {
		if clients[i].Endpoint() != clients[j].Endpoint() {
			return clients[i].Endpoint() < clients[j].Endpoint()
		}
		return !clients[i].HasToken() && clients[j].HasToken()
	})
	return clients
}

// EvictOrganization drops every handle of organizationID regardless of endpoint
// or auth state and returns how many were removed.
func (r *Registry) EvictOrganization(organizationID string) int {
	r.mu.Lock()
	r.orgGen[organizationID]++
	var evicted []Eviction
	for key, c := range r.clients {
		if key.OrganizationID == organizationID {
			delete(r.clients, key)
			evicted = append(evicted, Eviction{Key: key, ClientID: c.ID(), Reason: ReasonOrganization})
		}
	}
	r.mu.Unlock()

	r.notify(evicted)
	return len(evicted)
}

// EvictAll empties the cache and returns how many handles were removed.
func (r *Registry) EvictAll() int {
	r.mu.Lock()
	r.allGen++
	evicted := make([]Eviction, 0, len(r.clients))
	for key, c := range r.clients {
		evicted = append(evicted, Eviction{Key: key, ClientID: c.ID(), Reason: ReasonAll})
	}
	r.clients = make(map[Key]*dbclient.Client)
	r.mu.Unlock()

	r.notify(evicted)
	return len(evicted)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Keys returns the cached keys in a stable order.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.clients))
	for key := range r.clients {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// key validates the inputs so that a failed construction never evicts anything.
func (r *Registry) key(endpoint, publicKey, organizationID, accessToken string) (Key, error) {
	if strings.TrimSpace(organizationID) == "" {
		return Key{}, errors.Wrapf(errors.ErrInvalidOrganization, "empty organization id")
	}
	normalized, err := dbclient.NormalizeEndpoint(endpoint)
	if err != nil {
		return Key{}, err
	}
	if err := dbclient.ValidatePublicKey(publicKey); err != nil {
		return Key{}, err
	}
	return Key{
		OrganizationID: organizationID,
		Endpoint:       normalized,
		Authenticated:  strings.TrimSpace(accessToken) != "",
	}, nil
}

func (r *Registry) build(endpoint, publicKey, organizationID, accessToken string) (*dbclient.Client, error) {
	return dbclient.New(dbclient.Options{
		OrganizationID: organizationID,
		Endpoint:       endpoint,
		PublicKey:      publicKey,
		AccessToken:    accessToken,
		HTTPClient:     r.httpClient,
		ClientInfo:     r.clientInfo,
	})
}

func (r *Registry) generationLocked(organizationID string) uint64 {
	return r.allGen + r.orgGen[organizationID]
}

func (r *Registry) evictOtherStateLocked(key Key) []Eviction {
	other := key
	other.Authenticated = !key.Authenticated

	c, ok := r.clients[other]
	if !ok {
		return nil
	}
	delete(r.clients, other)
	return []Eviction{{Key: other, ClientID: c.ID(), Reason: ReasonAuthStateChanged}}
}

func (r *Registry) notify(evicted []Eviction) {
	for _, e := range evicted {
		r.logger.Debug().
			Str("organization", e.Key.OrganizationID).
			Str("endpoint", e.Key.Endpoint).
			Bool("authenticated", e.Key.Authenticated).
			Str("client_id", e.ClientID.String()).
			Str("reason", string(e.Reason)).
			Msg("client evicted")
		for _, listener := range r.listeners {
			listener(e)
		}
	}
}
