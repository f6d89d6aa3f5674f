package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RoomLiveness marks active rooms in Redis so operators (and a future
// cross-instance router) can see which meetings are live. Markers expire on
// their own; Touch refreshes the TTL on every meaningful room event.
type RoomLiveness struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRoomLiveness(client *redis.Client, ttl time.Duration) *RoomLiveness {
	return &RoomLiveness{client: client, ttl: ttl}
}

func (l *RoomLiveness) Touch(ctx context.Context, roomID string) error {
	return l.client.Set(ctx, l.key(roomID), "1", l.ttl).Err()
}

func (l *RoomLiveness) Forget(ctx context.Context, roomID string) error {
	return l.client.Del(ctx, l.key(roomID)).Err()
}

func (l *RoomLiveness) key(roomID string) string {
	return "room:live:" + roomID
}
