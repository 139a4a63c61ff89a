package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/zhimiaox/zmqx-retained/common"
	"github.com/zhimiaox/zmqx-retained/consts"
	"github.com/zhimiaox/zmqx-retained/persistence"
	"github.com/zhimiaox/zmqx-retained/persistence/storetest"
)

func redisAddr(t *testing.T) string {
	addr := os.Getenv("ZMQX_REDIS_ADDR")
	if addr == "" {
		t.Skip("ZMQX_REDIS_ADDR not set")
	}
	return addr
}

func TestRedisBackend(t *testing.T) {
	addr := redisAddr(t)
	suite.Run(t, &storetest.BackendSuite{
		NewBackend: func(bucketCount int, now func() time.Time) persistence.Backend {
			prefix := consts.GlobalPrefix + ":test:" + common.NanoID(8)
			t.Cleanup(func() { flushPrefix(t, addr, prefix) })
			rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
			return New(rdb, bucketCount, WithKeyPrefix(prefix), WithClock(now))
		},
	})
}

func flushPrefix(t *testing.T, addr, prefix string) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	keys, err := rdb.Keys(ctx, prefix+":*").Result()
	require.NoError(t, err)
	if len(keys) > 0 {
		require.NoError(t, rdb.Del(ctx, keys...).Err())
	}
}
