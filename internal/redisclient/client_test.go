package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"storefront/internal/cart"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires REDIS_TEST_ADDR")
	}
	c, err := NewClient(addr, "", 15, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCartRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := cart.StorageKey("redis-test-" + time.Now().Format("150405.000"))

	items, err := c.Load(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, items)

	crt, err := cart.Load(ctx, c, key[len(cart.StorageNamespace)+1:])
	require.NoError(t, err)
	_, err = crt.AddItem(ctx, cart.Candidate{ProductID: 1, ProductName: "Vela", Quantity: 2, UnitPrice: 750000})
	require.NoError(t, err)

	items, err = c.Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1500000), items[0].Subtotal)

	ttl, err := c.rdb.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, crt.Clear(ctx))
	items, err = c.Load(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, items)
}

func TestLockIsExclusive(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "checkout:test", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireLock(ctx, "checkout:test", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, "checkout:test"))
}
