// Package invalidation carries cache invalidation requests between processes
// over Redis pub/sub.
package invalidation

import (
	"context"
	"encoding/json"
	"sync"

	apperrors "github.com/jrsteele09/go-org-router/internal/errors"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultChannel = "orgrouter:invalidate"

// Message asks every subscriber to evict one organization, or everything when All is set.
type Message struct {
	OrganizationID string `json:"organization_id,omitempty"`
	All            bool   `json:"all,omitempty"`
}

func (m Message) validate() error {
	if !m.All && m.OrganizationID == "" {
		return errors.Wrap(apperrors.ErrInvalidRequest, "message needs organization_id or all")
	}
	return nil
}

// Evictor is implemented by registry.Registry and router.Router.
type Evictor interface {
	EvictOrganization(organizationID string) int
	EvictAll() int
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "connect to redis")
	}
	return client, nil
}

type Publisher struct {
	client  redis.UniversalClient
	channel string
}

func NewPublisher(client redis.UniversalClient, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

func (p *Publisher) EvictOrganization(ctx context.Context, organizationID string) error {
	return p.Publish(ctx, Message{OrganizationID: organizationID})
}

func (p *Publisher) EvictAll(ctx context.Context) error {
	return p.Publish(ctx, Message{All: true})
}

func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "[Publisher.Publish] marshal")
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return errors.Wrap(err, "[Publisher.Publish] publish")
	}
	return nil
}

type Subscriber struct {
	client  redis.UniversalClient
	channel string
	evictor Evictor

	readyOnce sync.Once
	ready     chan struct{}
}

func NewSubscriber(client redis.UniversalClient, channel string, evictor Evictor) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Subscriber{
		client:  client,
		channel: channel,
		evictor: evictor,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the subscription is confirmed by the server.
func (s *Subscriber) Ready() <-chan struct{} {
	return s.ready
}

// Run applies messages until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Wrap(err, "[Subscriber.Run] subscribe")
	}
	s.readyOnce.Do(func() { close(s.ready) })

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.apply(msg.Payload)
		}
	}
}

func (s *Subscriber) apply(payload string) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		log.Warn().Err(err).Str("channel", s.channel).Msg("ignoring malformed invalidation message")
		return
	}
	if err := msg.validate(); err != nil {
		log.Warn().Err(err).Str("channel", s.channel).Msg("ignoring invalidation message")
		return
	}

	var evicted int
	if msg.All {
		evicted = s.evictor.EvictAll()
	} else {
		evicted = s.evictor.EvictOrganization(msg.OrganizationID)
	}
	log.Info().
		Str("organization", msg.OrganizationID).
		Bool("all", msg.All).
		Int("evicted", evicted).
		Msg("applied invalidation")
}
