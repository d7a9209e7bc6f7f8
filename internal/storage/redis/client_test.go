package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmail/backend/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewWithClient(rdb, nil), mr
}

func TestIncrementRateLimit(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := client.IncrementRateLimit(ctx, "inbound:1.2.3.4", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	ttl := mr.TTL(rateLimitPrefix + "inbound:1.2.3.4")
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(time.Minute + time.Second)
	n, err := client.IncrementRateLimit(ctx, "inbound:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPublishSubscribeNewMail(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan domain.NewMailEvent, 1)
	done := make(chan error, 1)
	go func() {
		done <- client.SubscribeNewMail(ctx, func(evt domain.NewMailEvent) {
			select {
			case received <- evt:
			default:
			}
		})
	}()

	evt := domain.NewMailEvent{AddressID: "addr-1", MessageID: "msg-1", Subject: "hello"}
	require.Eventually(t, func() bool {
		_ = client.PublishNewMail(ctx, evt)
		select {
		case got := <-received:
			assert.Equal(t, "msg-1", got.MessageID)
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
