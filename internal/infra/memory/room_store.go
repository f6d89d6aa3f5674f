package memory

import (
	"context"
	"sync"
	"time"

	"class-meet-service/internal/app"
	"github.com/rs/zerolog"
)

// RoomStore is the in-memory implementation of app.RoomRepository. Unlike
// the source system it replaces, rooms do not live forever: a janitor
// evicts rooms that have sat empty past the idle TTL.
type RoomStore struct {
	idleTTL time.Duration
	clock   func() time.Time
	onEvict func(roomID string)
	log     zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]*app.Room
}

func NewRoomStore(idleTTL time.Duration, log zerolog.Logger) *RoomStore {
	return &RoomStore{
		idleTTL: idleTTL,
		clock:   time.Now,
		log:     log.With().Str("component", "roomstore").Logger(),
		rooms:   make(map[string]*app.Room),
	}
}

// OnEvict registers a callback invoked for each evicted room id, e.g. to
// clear its shared liveness marker.
func (s *RoomStore) OnEvict(fn func(roomID string)) {
	s.onEvict = fn
}

func (s *RoomStore) GetOrCreate(roomID string) (*app.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		return room, false
	}
	room := app.NewRoom(roomID)
	s.rooms[roomID] = room
	return room, true
}

func (s *RoomStore) Get(roomID string) (*app.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	return room, ok
}

// All snapshots the live rooms, e.g. for disconnect cleanup scans.
func (s *RoomStore) All() []*app.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]*app.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Sweep evicts rooms that have been empty for at least the idle TTL and
// returns the evicted ids.
func (s *RoomStore) Sweep() []string {
	cutoff := s.clock().Add(-s.idleTTL)

	s.mu.Lock()
	evicted := make([]string, 0)
	for id, room := range s.rooms {
		idle := room.IdleSince()
		if !idle.IsZero() && idle.Before(cutoff) {
			delete(s.rooms, id)
			evicted = append(evicted, id)
		}
	}
	s.mu.Unlock()

	for _, id := range evicted {
		s.log.Info().Str("room", id).Msg("evicted idle room")
		if s.onEvict != nil {
			s.onEvict(id)
		}
	}
	return evicted
}

// Run sweeps periodically until the context is canceled.
func (s *RoomStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
