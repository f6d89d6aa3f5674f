package app

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"class-meet-service/internal/domain"
	"class-meet-service/internal/quizgen"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// RoomRepository abstracts how rooms are stored and lazily created.
type RoomRepository interface {
	GetOrCreate(roomID string) (room *Room, created bool)
	Get(roomID string) (*Room, bool)
	// All snapshots every live room, for operations that must scan the
	// whole store, like disconnect cleanup.
	All() []*Room
}

// Archiver is the best-effort write-through to the external meeting store.
// Calls are fire-and-forget; failures never block the live room.
type Archiver interface {
	MeetingCreated(ctx context.Context, roomID string) error
	SaveTranscript(ctx context.Context, roomID string, t domain.Transcript) error
	SaveSummary(ctx context.Context, roomID string, s domain.ClassSummary, tally domain.Tally) error
}

// Liveness marks rooms as active in a shared store (e.g. Redis).
type Liveness interface {
	Touch(ctx context.Context, roomID string) error
	Forget(ctx context.Context, roomID string) error
}

// RoomService contains the live-meeting use cases. Mutations run under the
// owning room's lock; broadcasts are dispatched afterwards through the hub.
type RoomService struct {
	rooms     RoomRepository
	hub       *Hub
	generator quizgen.Generator
	archive   Archiver
	liveness  Liveness
	log       zerolog.Logger
	sf        singleflight.Group
	newID     func() string
	now       func() time.Time
}

func NewRoomService(rooms RoomRepository, hub *Hub, generator quizgen.Generator, log zerolog.Logger) *RoomService {
	return &RoomService{
		rooms:     rooms,
		hub:       hub,
		generator: generator,
		log:       log.With().Str("component", "rooms").Logger(),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// WithArchiver attaches the optional persistence write-through.
func (s *RoomService) WithArchiver(a Archiver) *RoomService {
	s.archive = a
	return s
}

// WithLiveness attaches the optional shared liveness marker.
func (s *RoomService) WithLiveness(l Liveness) *RoomService {
	s.liveness = l
	return s
}

// CreateMeeting allocates a new room under a short shareable code.
func (s *RoomService) CreateMeeting(ctx context.Context) string {
	code := strings.ToUpper(strings.ReplaceAll(s.newID(), "-", "")[:8])
	s.rooms.GetOrCreate(code)
	s.log.Info().Str("room", code).Msg("meeting created")
	s.touch(code)
	if s.archive != nil {
		go s.background(func(ctx context.Context) error {
			return s.archive.MeetingCreated(ctx, code)
		}, code, "archive meeting")
	}
	return code
}

// Join adds the connection to the room, creating it lazily, and broadcasts
// the refreshed room state.
func (s *RoomService) Join(connID, roomID, displayName string, isAdmin bool) domain.RoomState {
	room, created := s.rooms.GetOrCreate(roomID)
	if created {
		s.log.Info().Str("room", roomID).Msg("room created on first join")
		if s.archive != nil {
			go s.background(func(ctx context.Context) error {
				return s.archive.MeetingCreated(ctx, roomID)
			}, roomID, "archive meeting")
		}
	}
	s.hub.Bind(connID, roomID)
	state := room.Join(connID, displayName, isAdmin)
	s.touch(roomID)
	s.log.Info().Str("room", roomID).Str("conn", connID).Str("name", displayName).
		Bool("admin", isAdmin).Int("participants", len(state.Participants)).Msg("participant joined")
	s.hub.Broadcast(roomID, domain.Event{Type: "room-state", Payload: state})
	return state
}

// Rename mutates the display name and re-broadcasts the roster. Unknown
// participants are a silent no-op.
func (s *RoomService) Rename(connID, roomID, newName string) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}
	state, ok := room.Rename(connID, newName)
	if !ok {
		return
	}
	s.hub.Broadcast(roomID, domain.Event{Type: "room-state", Payload: state})
}

// SubmitSentiment sets the participant's vote and broadcasts both the
// focused update and the full room state, since consumers render either.
func (s *RoomService) SubmitSentiment(connID, roomID string, value domain.Sentiment) {
	if !value.Valid() {
		return
	}
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}
	state, ok := room.SetSentiment(connID, value)
	if !ok {
		return
	}
	s.hub.Broadcast(roomID, domain.Event{Type: "sentiment-updated", Payload: map[string]any{
		"participantId": connID,
		"sentiment":     value,
		"distribution":  state.Sentiment,
	}})
	s.hub.Broadcast(roomID, domain.Event{Type: "room-state", Payload: state})
}

// RemoveParticipant ejects a target from the room. Admin-only; removing an
// absent target is a no-op. Gate and removal run as one locked operation on
// the room.
func (s *RoomService) RemoveParticipant(requesterID, roomID, targetID string) error {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return nil
	}
	removed, state, ok, err := room.RemoveByAdmin(requesterID, targetID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	s.log.Info().Str("room", roomID).Str("target", targetID).Str("name", removed.DisplayName).
		Msg("participant removed by admin")
	s.hub.Send(targetID, domain.Event{Type: "removed", Payload: map[string]any{"roomId": roomID}})
	s.hub.Unbind(targetID)
	s.hub.Broadcast(roomID, domain.Event{Type: "room-state", Payload: state})
	return nil
}

// MuteParticipant signals the target to mute locally. No stored state
// changes; mute state lives client-side.
func (s *RoomService) MuteParticipant(requesterID, roomID, targetID string) error {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return nil
	}
	present, err := room.AuthorizeMute(requesterID, targetID)
	if err != nil {
		return err
	}
	if !present {
		return nil
	}
	s.hub.Send(targetID, domain.Event{Type: "force-mute", Payload: map[string]any{"roomId": roomID}})
	return nil
}

// Leave handles a transport disconnect. The hub binding only tracks the
// most recent room, but a connection that re-joined elsewhere may still sit
// in earlier rosters, so every room is scanned and cleaned. Safe to call
// repeatedly; a second call finds nothing to remove and returns quietly.
func (s *RoomService) Leave(connID string) {
	s.hub.Unbind(connID)
	for _, room := range s.rooms.All() {
		_, state, removed := room.Remove(connID)
		if !removed {
			continue
		}
		s.log.Info().Str("room", room.ID()).Str("conn", connID).Msg("participant left")
		s.hub.Broadcast(room.ID(), domain.Event{Type: "room-state", Payload: state})
	}
}

// Relay forwards a peer-negotiation payload verbatim to the target
// connection. No membership check, no validation; unknown targets drop
// silently.
func (s *RoomService) Relay(kind, roomID, fromID, toID string, payload json.RawMessage) {
	delivered := s.hub.Send(toID, domain.Event{Type: kind, Payload: map[string]any{
		"roomId":  roomID,
		"from":    fromID,
		"payload": payload,
	}})
	if !delivered {
		s.log.Debug().Str("kind", kind).Str("to", toID).Msg("dropped signal for dead connection")
	}
}

// TranscriptArrived appends external transcription output, recomputes the
// class summary wholesale, and broadcasts both.
func (s *RoomService) TranscriptArrived(roomID, rawText, summaryText string, duration float64, timestamp time.Time) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}
	if timestamp.IsZero() {
		timestamp = s.now()
	}
	transcript := domain.Transcript{
		ID:        s.newID(),
		RawText:   rawText,
		Summary:   summaryText,
		Duration:  duration,
		Timestamp: timestamp,
	}
	summary, total := room.AddTranscript(transcript)
	s.touch(roomID)
	s.log.Info().Str("room", roomID).Int("transcripts", total).
		Int("engagement", summary.EngagementScore).Msg("transcript processed")

	s.hub.Broadcast(roomID, domain.Event{Type: "transcript-created", Payload: map[string]any{
		"transcript":       transcript,
		"totalTranscripts": total,
	}})
	s.hub.Broadcast(roomID, domain.Event{Type: "class-summary-updated", Payload: summary})

	if s.archive != nil {
		tally := room.State().Sentiment
		go s.background(func(ctx context.Context) error {
			if err := s.archive.SaveTranscript(ctx, roomID, transcript); err != nil {
				return err
			}
			return s.archive.SaveSummary(ctx, roomID, summary, tally)
		}, roomID, "archive transcript")
	}
}

// ClassAnalysis returns the on-demand snapshot for one requester.
func (s *RoomService) ClassAnalysis(roomID string) (domain.ClassAnalysis, error) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.ClassAnalysis{}, domain.ErrRoomNotFound
	}
	return room.Analysis(), nil
}

// touch refreshes the shared liveness marker, best effort.
func (s *RoomService) touch(roomID string) {
	if s.liveness == nil {
		return
	}
	go s.background(func(ctx context.Context) error {
		return s.liveness.Touch(ctx, roomID)
	}, roomID, "touch liveness")
}

// background runs a write-through with its own deadline so slow external
// stores never hold up the event loop.
func (s *RoomService) background(fn func(context.Context) error, roomID, op string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.log.Warn().Err(err).Str("room", roomID).Str("op", op).Msg("write-through failed")
	}
}
