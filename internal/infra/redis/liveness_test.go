package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLivenessTouchAndForget(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	liveness := NewRoomLiveness(client, time.Minute)
	ctx := context.Background()

	if err := liveness.Touch(ctx, "room-1"); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	if !mr.Exists("room:live:room-1") {
		t.Fatalf("expected liveness key to be set")
	}
	if ttl := mr.TTL("room:live:room-1"); ttl != time.Minute {
		t.Fatalf("expected one minute TTL, got %v", ttl)
	}

	if err := liveness.Forget(ctx, "room-1"); err != nil {
		t.Fatalf("forget failed: %v", err)
	}
	if mr.Exists("room:live:room-1") {
		t.Fatalf("expected liveness key to be removed")
	}
}

func TestLivenessMarkersExpire(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	liveness := NewRoomLiveness(client, time.Second)

	if err := liveness.Touch(context.Background(), "room-1"); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if mr.Exists("room:live:room-1") {
		t.Fatalf("expected marker to expire")
	}
}
