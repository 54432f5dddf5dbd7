package invalidation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-org-router/internal/errors"
	"github.com/jrsteele09/go-org-router/invalidation"
	"github.com/jrsteele09/go-org-router/registry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingEvictor struct {
	mu   sync.Mutex
	orgs []string
	all  int
}

func (e *recordingEvictor) EvictOrganization(organizationID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orgs = append(e.orgs, organizationID)
	return 1
}

func (e *recordingEvictor) EvictAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all++
	return 0
}

func (e *recordingEvictor) snapshot() ([]string, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.orgs...), e.all
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := invalidation.Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// startSubscriber runs s until the test ends and waits for the subscription.
func startSubscriber(t *testing.T, s *invalidation.Subscriber) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never became ready")
	}
}

func TestBus(t *testing.T) {
	ctx := context.Background()
	client := setupRedis(t)

	evictor := &recordingEvictor{}
	startSubscriber(t, invalidation.NewSubscriber(client, "", evictor))
	pub := invalidation.NewPublisher(client, "")

	require.NoError(t, pub.EvictOrganization(ctx, "acme"))
	require.NoError(t, pub.EvictAll(ctx))
	require.NoError(t, pub.EvictOrganization(ctx, "globex"))

	require.Eventually(t, func() bool {
		orgs, all := evictor.snapshot()
		return len(orgs) == 2 && all == 1
	}, 2*time.Second, 10*time.Millisecond)

	orgs, _ := evictor.snapshot()
	require.Equal(t, []string{"acme", "globex"}, orgs)
}

func TestBus_IgnoresBadMessages(t *testing.T) {
	ctx := context.Background()
	client := setupRedis(t)

	evictor := &recordingEvictor{}
	startSubscriber(t, invalidation.NewSubscriber(client, "custom", evictor))

	require.NoError(t, client.Publish(ctx, "custom", "not json").Err())
	require.NoError(t, client.Publish(ctx, "custom", `{}`).Err())
	require.NoError(t, client.Publish(ctx, invalidation.DefaultChannel, `{"organization_id":"acme"}`).Err())
	require.NoError(t, client.Publish(ctx, "custom", `{"organization_id":"globex"}`).Err())

	require.Eventually(t, func() bool {
		orgs, _ := evictor.snapshot()
		return len(orgs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	orgs, all := evictor.snapshot()
	require.Equal(t, []string{"globex"}, orgs)
	require.Zero(t, all)
}

func TestPublisher_RejectsEmptyMessage(t *testing.T) {
	client := setupRedis(t)
	pub := invalidation.NewPublisher(client, "")
	require.ErrorIs(t, pub.Publish(context.Background(), invalidation.Message{}), errors.ErrInvalidRequest)
}

func TestBus_EvictsRegistry(t *testing.T) {
	ctx := context.Background()
	client := setupRedis(t)

	reg := registry.New(registry.WithLogger(zerolog.Nop()))
	_, err := reg.GetClient("acme.example.com", "anon-key-1", "acme", "")
	require.NoError(t, err)
	_, err = reg.GetClient("globex.example.com", "anon-key-2", "globex", "")
	require.NoError(t, err)

	startSubscriber(t, invalidation.NewSubscriber(client, "", reg))
	require.NoError(t, invalidation.NewPublisher(client, "").EvictOrganization(ctx, "acme"))

	require.Eventually(t, func() bool {
		return len(reg.ClientsFor("acme")) == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, reg.Len())
}

func TestConnect_BadURL(t *testing.T) {
	_, err := invalidation.Connect(context.Background(), "not a url")
	require.Error(t, err)
}
