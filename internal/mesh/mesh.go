// Package mesh implements the client-side full-mesh peer negotiation
// policy. Each endpoint runs it independently: an explicit per-peer state
// table, a lexicographic initiator tie-break so every pair negotiates
// exactly once, and membership diffing that creates or tears down links as
// the visible roster changes. All signaling flows through the server relay;
// the policy holds no server-side state.
package mesh

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// LinkState is the lifecycle of one peer pair.
type LinkState string

const (
	StateNew          LinkState = "new"
	StateConnecting   LinkState = "connecting"
	StateConnected    LinkState = "connected"
	StateFailed       LinkState = "failed"
	StateDisconnected LinkState = "disconnected"
)

// Terminal reports whether the state triggers teardown of the link.
func (s LinkState) Terminal() bool {
	return s == StateFailed || s == StateDisconnected
}

// Signaler carries negotiation payloads to a specific peer via the relay.
type Signaler interface {
	Signal(kind, to string, payload json.RawMessage) error
}

// Link is one directed peer connection owned by the policy.
type Link interface {
	// CreateOffer produces the local offer SDP for the initiating side.
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	// AcceptOffer applies a remote offer and returns the local answer.
	AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	// AcceptAnswer applies the remote answer on the initiating side.
	AcceptAnswer(answer json.RawMessage) error
	// AddCandidate applies a trickled remote ICE candidate.
	AddCandidate(candidate json.RawMessage) error
	Close() error
}

// LinkCallbacks are invoked by a Link as its transport progresses.
type LinkCallbacks struct {
	OnState     func(peerID string, state LinkState)
	OnCandidate func(peerID string, candidate json.RawMessage)
}

// LinkFactory builds transport links; swapped for a fake in tests.
type LinkFactory interface {
	NewLink(peerID string, cb LinkCallbacks) (Link, error)
}

// Initiates implements the tie-break rule: for any unordered pair exactly
// one side creates the offer, the one with the lexicographically smaller id.
func Initiates(selfID, peerID string) bool {
	return selfID < peerID
}

type peer struct {
	link  Link
	state LinkState
}

// Policy owns the per-peer state table for one endpoint.
type Policy struct {
	selfID   string
	signaler Signaler
	factory  LinkFactory
	log      zerolog.Logger

	mu    sync.Mutex
	peers map[string]*peer
}

func NewPolicy(selfID string, signaler Signaler, factory LinkFactory, log zerolog.Logger) *Policy {
	return &Policy{
		selfID:   selfID,
		signaler: signaler,
		factory:  factory,
		log:      log.With().Str("component", "mesh").Str("self", selfID).Logger(),
		peers:    make(map[string]*peer),
	}
}

// SyncRoster diffs the visible participant list against the link table:
// unseen peers get a link (and an offer when this side initiates), peers no
// longer present get torn down.
func (p *Policy) SyncRoster(ctx context.Context, participantIDs []string) {
	present := make(map[string]bool, len(participantIDs))
	var offers []string

	p.mu.Lock()
	for _, id := range participantIDs {
		if id == p.selfID {
			continue
		}
		present[id] = true
		if _, known := p.peers[id]; known {
			continue
		}
		pr, err := p.newPeerLocked(id)
		if err != nil {
			p.log.Error().Err(err).Str("peer", id).Msg("link creation failed")
			continue
		}
		if Initiates(p.selfID, id) {
			pr.state = StateConnecting
			offers = append(offers, id)
		} else {
			// The smaller id will reach out; we wait in state new.
			p.log.Debug().Str("peer", id).Msg("waiting for peer to initiate")
		}
	}
	var gone []string
	for id := range p.peers {
		if !present[id] {
			gone = append(gone, id)
		}
	}
	p.mu.Unlock()

	for _, id := range gone {
		p.teardown(id, StateDisconnected)
	}
	for _, id := range offers {
		p.sendOffer(ctx, id)
	}
}

// HandleOffer answers an incoming offer on the non-initiating side.
func (p *Policy) HandleOffer(ctx context.Context, from string, payload json.RawMessage) {
	if Initiates(p.selfID, from) {
		// Glare: the remote should not be offering when we hold the
		// smaller id. Ignore rather than fight over roles.
		p.log.Warn().Str("peer", from).Msg("ignoring offer from higher-id side")
		return
	}

	p.mu.Lock()
	pr, ok := p.peers[from]
	if !ok {
		var err error
		pr, err = p.newPeerLocked(from)
		if err != nil {
			p.mu.Unlock()
			p.log.Error().Err(err).Str("peer", from).Msg("link creation failed")
			return
		}
	}
	pr.state = StateConnecting
	link := pr.link
	p.mu.Unlock()

	answer, err := link.AcceptOffer(ctx, payload)
	if err != nil {
		p.log.Error().Err(err).Str("peer", from).Msg("accept offer failed")
		p.teardown(from, StateFailed)
		return
	}
	if err := p.signaler.Signal("answer", from, answer); err != nil {
		p.log.Error().Err(err).Str("peer", from).Msg("send answer failed")
	}
}

// HandleAnswer completes negotiation on the initiating side.
func (p *Policy) HandleAnswer(from string, payload json.RawMessage) {
	p.mu.Lock()
	pr, ok := p.peers[from]
	p.mu.Unlock()
	if !ok {
		return
	}
	if err := pr.link.AcceptAnswer(payload); err != nil {
		p.log.Error().Err(err).Str("peer", from).Msg("accept answer failed")
		p.teardown(from, StateFailed)
	}
}

// HandleCandidate applies a trickled ICE candidate; candidates for unknown
// peers are dropped.
func (p *Policy) HandleCandidate(from string, payload json.RawMessage) {
	p.mu.Lock()
	pr, ok := p.peers[from]
	p.mu.Unlock()
	if !ok {
		return
	}
	if err := pr.link.AddCandidate(payload); err != nil {
		p.log.Debug().Err(err).Str("peer", from).Msg("add candidate failed")
	}
}

// States snapshots the link table.
func (p *Policy) States() map[string]LinkState {
	p.mu.Lock()
	defer p.mu.Unlock()
	states := make(map[string]LinkState, len(p.peers))
	for id, pr := range p.peers {
		states[id] = pr.state
	}
	return states
}

// Close tears down every link.
func (p *Policy) Close() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.peers))
	for id := range p.peers {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		p.teardown(id, StateDisconnected)
	}
}

func (p *Policy) newPeerLocked(id string) (*peer, error) {
	link, err := p.factory.NewLink(id, LinkCallbacks{
		OnState:     p.onLinkState,
		OnCandidate: p.onLinkCandidate,
	})
	if err != nil {
		return nil, err
	}
	pr := &peer{link: link, state: StateNew}
	p.peers[id] = pr
	return pr, nil
}

func (p *Policy) sendOffer(ctx context.Context, id string) {
	p.mu.Lock()
	pr, ok := p.peers[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	offer, err := pr.link.CreateOffer(ctx)
	if err != nil {
		p.log.Error().Err(err).Str("peer", id).Msg("create offer failed")
		p.teardown(id, StateFailed)
		return
	}
	if err := p.signaler.Signal("offer", id, offer); err != nil {
		p.log.Error().Err(err).Str("peer", id).Msg("send offer failed")
	}
}

func (p *Policy) onLinkState(peerID string, state LinkState) {
	if state.Terminal() {
		p.teardown(peerID, state)
		return
	}
	p.mu.Lock()
	if pr, ok := p.peers[peerID]; ok {
		pr.state = state
	}
	p.mu.Unlock()
	p.log.Debug().Str("peer", peerID).Str("state", string(state)).Msg("link state changed")
}

func (p *Policy) onLinkCandidate(peerID string, candidate json.RawMessage) {
	if err := p.signaler.Signal("ice-candidate", peerID, candidate); err != nil {
		p.log.Debug().Err(err).Str("peer", peerID).Msg("send candidate failed")
	}
}

// teardown closes and removes one link, releasing its remote media.
func (p *Policy) teardown(peerID string, state LinkState) {
	p.mu.Lock()
	pr, ok := p.peers[peerID]
	if ok {
		delete(p.peers, peerID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	if err := pr.link.Close(); err != nil {
		p.log.Debug().Err(err).Str("peer", peerID).Msg("link close failed")
	}
	p.log.Info().Str("peer", peerID).Str("state", string(state)).Msg("peer link torn down")
}
