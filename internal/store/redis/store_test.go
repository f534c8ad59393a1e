package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avkor/facility/internal/store/redis"
)

func setupTestRedis(t *testing.T) *redis.Store {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	st, err := redis.NewStore(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRedisStoreRoundTrip(t *testing.T) {
	st := setupTestRedis(t)
	ctx := context.Background()

	in := map[string][]string{"gra-1": {"P1", "P2"}}
	require.NoError(t, st.Put(ctx, "scans", in))

	out := make(map[string][]string)
	found, err := st.Get(ctx, "scans", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)
}

func TestRedisStoreMissingDocument(t *testing.T) {
	st := setupTestRedis(t)

	var out map[string]string
	found, err := st.Get(context.Background(), "nope", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStoreUnreachable(t *testing.T) {
	_, err := redis.NewStore("127.0.0.1:1")
	assert.Error(t, err)
}
