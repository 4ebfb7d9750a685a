//go:build redis

package server

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"bagurumba/internal/redisclient"
)

func TestRedisStoreAllowCountsWindow(t *testing.T) {
	addr := os.Getenv("BAGURUMBA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BAGURUMBA_TEST_REDIS_ADDR not set")
	}
	client, err := redisclient.New(redisclient.Config{Addr: addr, DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("redisclient.New: %v", err)
	}
	ctx := context.Background()
	key := fmt.Sprintf("bagurumba-test:upload:%d", time.Now().UnixNano())
	t.Cleanup(func() {
		client.Del(ctx, key)
		_ = client.Close()
	})

	store := newRedisStore(client, time.Second)
	allowed, retry, err := store.Allow(ctx, key, 2, time.Minute)
	if err != nil || !allowed || retry != 0 {
		t.Fatalf("first allow unexpected: allowed=%v retry=%v err=%v", allowed, retry, err)
	}
	allowed, _, err = store.Allow(ctx, key, 2, time.Minute)
	if err != nil || !allowed {
		t.Fatalf("second allow unexpected: allowed=%v err=%v", allowed, err)
	}
	allowed, retry, err = store.Allow(ctx, key, 2, time.Minute)
	if err != nil {
		t.Fatalf("third allow err: %v", err)
	}
	if allowed {
		t.Fatalf("expected throttle on third attempt")
	}
	if retry <= 0 || retry > time.Minute {
		t.Fatalf("expected retry within the window, got %v", retry)
	}
}
