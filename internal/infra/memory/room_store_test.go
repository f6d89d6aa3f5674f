package memory_test

import (
	"testing"
	"time"

	"class-meet-service/internal/infra/memory"
	"github.com/rs/zerolog"
)

func TestGetOrCreateIsLazy(t *testing.T) {
	store := memory.NewRoomStore(time.Hour, zerolog.Nop())

	if _, ok := store.Get("room-1"); ok {
		t.Fatalf("Get must not create rooms")
	}
	room, created := store.GetOrCreate("room-1")
	if !created || room == nil {
		t.Fatalf("expected a fresh room")
	}
	again, created := store.GetOrCreate("room-1")
	if created || again != room {
		t.Fatalf("expected the same room on repeat")
	}
}

func TestSweepEvictsOnlyIdleRooms(t *testing.T) {
	store := memory.NewRoomStore(time.Millisecond, zerolog.Nop())

	var evicted []string
	store.OnEvict(func(roomID string) { evicted = append(evicted, roomID) })

	idle, _ := store.GetOrCreate("idle-room")
	busy, _ := store.GetOrCreate("busy-room")
	busy.Join("c1", "Alice", false)
	_ = idle

	time.Sleep(10 * time.Millisecond)

	got := store.Sweep()
	if len(got) != 1 || got[0] != "idle-room" {
		t.Fatalf("expected only idle-room evicted, got %v", got)
	}
	if len(evicted) != 1 || evicted[0] != "idle-room" {
		t.Fatalf("expected eviction callback for idle-room, got %v", evicted)
	}
	if _, ok := store.Get("idle-room"); ok {
		t.Fatalf("evicted room must be gone")
	}
	if _, ok := store.Get("busy-room"); !ok {
		t.Fatalf("occupied room must survive the sweep")
	}
}

func TestRoomBecomesEvictableAfterLastLeave(t *testing.T) {
	store := memory.NewRoomStore(time.Millisecond, zerolog.Nop())

	room, _ := store.GetOrCreate("room-1")
	room.Join("c1", "Alice", false)

	time.Sleep(10 * time.Millisecond)
	if got := store.Sweep(); len(got) != 0 {
		t.Fatalf("occupied room swept: %v", got)
	}

	room.Remove("c1")
	time.Sleep(10 * time.Millisecond)
	if got := store.Sweep(); len(got) != 1 {
		t.Fatalf("expected eviction after the room emptied, got %v", got)
	}
}
