package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client is a headless meeting endpoint: it joins a room over the signaling
// websocket, mirrors roster updates into a Policy, and routes negotiation
// events between the relay and the per-peer links. Useful for load probes
// and mesh soak tests against a running server.
type Client struct {
	url         string
	roomID      string
	displayName string
	factory     LinkFactory
	log         zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	policy *Policy
}

func NewClient(url, roomID, displayName string, factory LinkFactory, log zerolog.Logger) *Client {
	return &Client{
		url:         url,
		roomID:      roomID,
		displayName: displayName,
		factory:     factory,
		log:         log.With().Str("component", "mesh-client").Logger(),
	}
}

type clientMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type serverEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Run dials the server and processes events until the context is cancelled
// or the connection drops.
func (c *Client) Run(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial signaling server: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	defer func() {
		c.mu.Lock()
		if c.policy != nil {
			c.policy.Close()
		}
		c.mu.Unlock()
	}()

	for {
		var event serverEvent
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read signaling event: %w", err)
		}
		c.handle(ctx, event)
	}
}

func (c *Client) handle(ctx context.Context, event serverEvent) {
	switch event.Type {
	case "connected":
		var p struct {
			ConnectionID string `json:"connectionId"`
		}
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.log.Error().Err(err).Msg("bad connected payload")
			return
		}
		c.mu.Lock()
		c.policy = NewPolicy(p.ConnectionID, c, c.factory, c.log)
		c.mu.Unlock()
		c.send("join", map[string]any{
			"roomId":      c.roomID,
			"displayName": c.displayName,
			"isAdmin":     false,
		})

	case "room-state":
		var p struct {
			Participants []struct {
				ID string `json:"id"`
			} `json:"participants"`
		}
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.log.Error().Err(err).Msg("bad room-state payload")
			return
		}
		ids := make([]string, 0, len(p.Participants))
		for _, part := range p.Participants {
			ids = append(ids, part.ID)
		}
		if policy := c.getPolicy(); policy != nil {
			policy.SyncRoster(ctx, ids)
		}

	case "offer", "answer", "ice-candidate":
		var p struct {
			From    string          `json:"from"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.log.Error().Err(err).Str("type", event.Type).Msg("bad signal payload")
			return
		}
		policy := c.getPolicy()
		if policy == nil {
			return
		}
		switch event.Type {
		case "offer":
			policy.HandleOffer(ctx, p.From, p.Payload)
		case "answer":
			policy.HandleAnswer(p.From, p.Payload)
		case "ice-candidate":
			policy.HandleCandidate(p.From, p.Payload)
		}

	case "removed":
		c.log.Info().Msg("removed from room")

	case "error":
		c.log.Warn().RawJSON("payload", event.Payload).Msg("server error event")
	}
}

// Signal implements Signaler by relaying through the server connection.
func (c *Client) Signal(kind, to string, payload json.RawMessage) error {
	return c.send(kind, map[string]any{
		"roomId":  c.roomID,
		"to":      to,
		"payload": payload,
	})
}

// PeerStates snapshots the mesh link table, empty before the handshake.
func (c *Client) PeerStates() map[string]LinkState {
	if policy := c.getPolicy(); policy != nil {
		return policy.States()
	}
	return map[string]LinkState{}
}

func (c *Client) getPolicy() *Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

func (c *Client) send(msgType string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("signaling connection not established")
	}
	return c.conn.WriteJSON(clientMessage{Type: msgType, Payload: payload})
}
