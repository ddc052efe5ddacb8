package redisbus

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) (*Bus, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cleanup := func() {
		_ = rdb.Close()
		mr.Close()
	}
	return New(rdb), cleanup
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus, cleanup := newTestBus(t)
	defer cleanup()

	ctx := context.Background()
	received := make(chan []byte, 1)

	sub, err := bus.Subscribe(ctx, "resp.corr-1", func(payload []byte) {
		received <- payload
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, bus.Publish(ctx, "resp.corr-1", []byte("accepted")))

	select {
	case got := <-received:
		require.Equal(t, "accepted", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestBus_Publish_NoSubscriberIsLossyNotError(t *testing.T) {
	bus, cleanup := newTestBus(t)
	defer cleanup()

	err := bus.Publish(context.Background(), "resp.nobody-listening", []byte("hello"))
	require.NoError(t, err)
}

func TestBus_Unsubscribe_StopsDelivery(t *testing.T) {
	bus, cleanup := newTestBus(t)
	defer cleanup()

	ctx := context.Background()
	received := make(chan []byte, 2)

	sub, err := bus.Subscribe(ctx, "resp.corr-2", func(payload []byte) {
		received <- payload
	})
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe())

	err = bus.Publish(ctx, "resp.corr-2", []byte("late"))
	require.NoError(t, err)

	select {
	case <-received:
		t.Fatal("expected no delivery after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}
