package redis

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/code-payments/flipchat-iap/ledger/tests"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestLedger_RedisStore(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	reset := func() {
		ctx := context.Background()
		keys, err := client.Keys(ctx, recordKeyPrefix+"*").Result()
		if err != nil {
			t.Fatalf("error listing ledger keys: %v", err)
		}
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
	}
	reset()

	tests.RunStoreTests(t, NewInRedis(client), reset)
}
