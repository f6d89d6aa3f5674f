package app

import (
	"sync"

	"class-meet-service/internal/domain"
	"github.com/rs/zerolog"
)

// outboundBuffer bounds the per-connection event queue. Slow consumers get
// their oldest queued frame dropped rather than blocking a broadcast.
const outboundBuffer = 16

// Hub is the connection registry and broadcast bus. It maps live transport
// connections to their outbound event channel and current room. All room
// state lives elsewhere; the hub only does bookkeeping and fan-out.
type Hub struct {
	log zerolog.Logger

	mu    sync.RWMutex
	conns map[string]*connection
}

type connection struct {
	roomID string
	closed bool
	out    chan domain.Event
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:   log.With().Str("component", "hub").Logger(),
		conns: make(map[string]*connection),
	}
}

// Register adds a connection and returns the channel its writer must drain.
func (h *Hub) Register(connID string) <-chan domain.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn := &connection{out: make(chan domain.Event, outboundBuffer)}
	h.conns[connID] = conn
	return conn.out
}

// Unregister removes a connection and closes its outbound channel. It is
// idempotent: unregistering an unknown connection is a no-op.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[connID]
	if !ok {
		return
	}
	delete(h.conns, connID)
	conn.closed = true
	close(conn.out)
}

// Bind records which room a connection currently belongs to.
func (h *Hub) Bind(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn, ok := h.conns[connID]; ok {
		conn.roomID = roomID
	}
}

// Unbind clears a connection's room membership without dropping the
// connection itself, e.g. after an admin removal.
func (h *Hub) Unbind(connID string) {
	h.Bind(connID, "")
}

// Resolve returns the room a connection is bound to.
func (h *Hub) Resolve(connID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[connID]
	if !ok || conn.roomID == "" {
		return "", false
	}
	return conn.roomID, true
}

// Send delivers an event to a single connection. Unknown targets are
// dropped silently, which is exactly what the signaling relay wants.
func (h *Hub) Send(connID string, event domain.Event) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[connID]
	if !ok {
		return false
	}
	h.push(conn, event)
	return true
}

// Broadcast fans an event out to every connection bound to roomID.
func (h *Hub) Broadcast(roomID string, event domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conn := range h.conns {
		if conn.roomID == roomID {
			h.push(conn, event)
		}
	}
}

// push enqueues without blocking; when the buffer is full the oldest frame
// is discarded so the consumer always ends up with the freshest state.
// Callers hold at least the read lock, and Unregister closes channels only
// under the write lock, so a push never races a close.
func (h *Hub) push(conn *connection, event domain.Event) {
	if conn.closed {
		return
	}
	select {
	case conn.out <- event:
	default:
		select {
		case <-conn.out:
		default:
		}
		select {
		case conn.out <- event:
		default:
			h.log.Warn().Str("event", event.Type).Msg("dropping event for saturated connection")
		}
	}
}
