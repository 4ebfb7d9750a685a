//go:build redis

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"
)

// TestRedisPublisherAppendsToStream verifies XADD writes the JSON payload to the stream.
func TestRedisPublisherAppendsToStream(t *testing.T) {
	addr := os.Getenv("BAGURUMBA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BAGURUMBA_TEST_REDIS_ADDR not set")
	}
	stream := fmt.Sprintf("bagurumba-test-%d", time.Now().UnixNano())
	p, err := NewRedisPublisher(RedisConfig{Client: redisConfigForTest(addr), Stream: stream, MaxLen: 10})
	if err != nil {
		t.Fatalf("NewRedisPublisher: %v", err)
	}
	ctx := context.Background()
	t.Cleanup(func() {
		p.client.Del(ctx, stream)
		_ = p.Close()
	})
	if err := p.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := p.Publish(ctx, sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	entries, err := p.client.XRange(ctx, stream, "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	raw, ok := entries[0].Values["payload"].(string)
	if !ok {
		t.Fatalf("payload missing: %+v", entries[0].Values)
	}
	var decoded Event
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.CorrelationID != "uid-1" || decoded.Status != "ready" {
		t.Fatalf("unexpected event %+v", decoded)
	}
}
