package http

import (
	"encoding/json"
	"net/http"
	"time"

	"class-meet-service/internal/app"
	"class-meet-service/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

// WSHandler owns the websocket endpoint. Each connection gets a server-
// assigned id (sortable, which the client-side mesh tie-break relies on),
// one writer goroutine draining the hub channel, and a read loop that
// dispatches inbound events to the room service.
type WSHandler struct {
	service  *app.RoomService
	hub      *app.Hub
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewWSHandler(service *app.RoomService, hub *app.Hub, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
	IsAdmin     bool   `json:"isAdmin"`
}

type renamePayload struct {
	RoomID  string `json:"roomId"`
	NewName string `json:"newName"`
}

type sentimentPayload struct {
	RoomID    string           `json:"roomId"`
	Sentiment domain.Sentiment `json:"sentiment"`
}

type targetPayload struct {
	RoomID   string `json:"roomId"`
	TargetID string `json:"targetId"`
}

type signalPayload struct {
	RoomID  string          `json:"roomId"`
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

type generatePayload struct {
	RoomID string `json:"roomId"`
	Prompt string `json:"prompt"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type quizResponsePayload struct {
	RoomID        string `json:"roomId"`
	SessionID     string `json:"sessionId"`
	QuestionIndex int    `json:"questionIndex"`
	Answer        string `json:"answer"`
}

type analyticsPayload struct {
	RoomID    string `json:"roomId"`
	SessionID string `json:"sessionId"`
}

type chatPayload struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
	UserRole string `json:"userRole"`
	Text     string `json:"text"`
}

type reactionPayload struct {
	RoomID       string `json:"roomId"`
	MessageID    string `json:"messageId"`
	ReactionKind string `json:"reactionKind"`
	UserName     string `json:"userName"`
}

type transcriptPayload struct {
	RoomID    string    `json:"roomId"`
	RawText   string    `json:"rawText"`
	Summary   string    `json:"summary"`
	Duration  float64   `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}

// ServeWS upgrades the request and runs the connection's event loop until
// the peer goes away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	connID := xid.New().String()
	out := h.hub.Register(connID)
	h.log.Debug().Str("conn", connID).Msg("connection registered")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for event := range out {
			if err := conn.WriteJSON(event); err != nil {
				h.log.Debug().Err(err).Str("conn", connID).Msg("ws write failed")
				// Unblock the read loop so teardown runs once.
				_ = conn.Close()
				for range out {
				}
				return
			}
		}
	}()

	// Tell the client its connection id; the mesh policy needs it for the
	// initiator tie-break.
	h.hub.Send(connID, domain.Event{Type: "connected", Payload: map[string]any{"connectionId": connID}})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(r, connID, inbound)
	}

	h.service.Leave(connID)
	h.hub.Unregister(connID)
	<-writerDone
	_ = conn.Close()
	h.log.Debug().Str("conn", connID).Msg("connection closed")
}

func (h *WSHandler) dispatch(r *http.Request, connID string, inbound inboundMessage) {
	switch inbound.Type {
	case "join":
		var p joinPayload
		if !h.decode(connID, inbound.Payload, &p) {
			return
		}
		h.service.Join(connID, p.RoomID, p.DisplayName, p.IsAdmin)

	case "rename":
		var p renamePayload
		if !h.decode(connID, inbound.Payload, &p) {
			return
		}
		h.service.Rename(connID, p.RoomID, p.NewName)

	case "submit-sentiment":
		var p sentimentPayload
		if !h.decode(connID, inbound.Payload, &p) {
			return
		}
		h.service.SubmitSentiment(connID, p.RoomID, p.Sentiment)

	case "remove-participant":
		var p targetPayload
		if !h.decode(connID, inbound.Payload, &p) {
			return
		}
		h.report(connID, h.service.RemoveParticipant(connID, p.RoomID, p.TargetID))

	case "mute-participant":
		var p targetPayload
		if !h.decode(connID, inbound.Payload, &p) {
			return
		}
		h.report(connID, h.service.MuteParticipant(connID, p.RoomID, p.TargetID))

	case "offer", "answer", "ice-candidate":
		var p signalPayload
		if !h.decode(connID, inbound.Payload, &p) {
			return
		}
		h.service.Relay(inbound.Type, p.RoomID, connID, p.To, p.Payload)

	case "generate-quiz":
		var p generatePayload
		if !h.decode(connID, inbound.Payload, &p) {
			return
		}
		_, err := h.service.GenerateQuiz(r.Context(), connID, p.RoomID, p.Prompt)
		h.report(connID, err)

	case "generate-from-summary":
		var p roomPayload
		if !h.decode(connID, inbound.Payload, &p) {
			return
		}
		_, err := h.service.GenerateFromSummary(r.Context(), connID, p.RoomID)
		h.report(connID, err)

	case "submit-quiz-response":
		var p quizResponsePayload
		if !h.decode(connID, inbound.Payload, &p) {
			return
		}
		h.service.SubmitQuizResponse(connID, p.RoomID, p.SessionID, p.QuestionIndex, p.Answer)

	case "get-quiz-analytics":
		var p analyticsPayload
		if !h.decode(connID, inbound.Payload, &p) {
			return
		}
		analytics, err := h.service.QuizAnalytics(connID, p.RoomID, p.SessionID)
		if err != nil {
			h.report(connID, err)
			return
		}
		h.hub.Send(connID, domain.Event{Type: "quiz-analytics", Payload: analytics})

	case "post-message":
		var p chatPayload
		if !h.decode(connID, inbound.Payload, &p) {
			return
		}
		h.service.PostMessage(connID, p.RoomID, p.UserName, p.UserRole, p.Text)

	case "react-to-message":
		var p reactionPayload
		if !h.decode(connID, inbound.Payload, &p) {
			return
		}
		h.service.ReactToMessage(p.RoomID, p.MessageID, p.ReactionKind, p.UserName)

	case "transcript-arrived":
		var p transcriptPayload
		if !h.decode(connID, inbound.Payload, &p) {
			return
		}
		h.service.TranscriptArrived(p.RoomID, p.RawText, p.Summary, p.Duration, p.Timestamp)

	case "get-class-analysis":
		var p roomPayload
		if !h.decode(connID, inbound.Payload, &p) {
			return
		}
		analysis, err := h.service.ClassAnalysis(p.RoomID)
		if err != nil {
			h.report(connID, err)
			return
		}
		h.hub.Send(connID, domain.Event{Type: "class-analysis", Payload: analysis})

	default:
		h.sendError(connID, "unsupported message type")
	}
}

func (h *WSHandler) decode(connID string, raw json.RawMessage, dst any) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		h.sendError(connID, "invalid payload")
		return false
	}
	return true
}

// report sends an error event to the requester only; nil errors are fine.
func (h *WSHandler) report(connID string, err error) {
	if err == nil {
		return
	}
	h.sendError(connID, err.Error())
}

func (h *WSHandler) sendError(connID, message string) {
	h.hub.Send(connID, domain.Event{Type: "error", Payload: map[string]any{"message": message}})
}
