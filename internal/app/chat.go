package app

import "class-meet-service/internal/domain"

// PostMessage appends a chat message and broadcasts it to the room.
// Unknown rooms are a silent no-op.
func (s *RoomService) PostMessage(connID, roomID, userName, userRole, text string) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}
	msg := room.PostMessage(s.newID(), connID, userName, userRole, text)
	s.hub.Broadcast(roomID, domain.Event{Type: "receive-message", Payload: msg})
}

// ReactToMessage toggles a reaction and broadcasts the updated reaction map
// for that message only, not the whole log.
func (s *RoomService) ReactToMessage(roomID, messageID, kind, userName string) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}
	reactions, ok := room.React(messageID, kind, userName)
	if !ok {
		return
	}
	s.hub.Broadcast(roomID, domain.Event{Type: "reaction-updated", Payload: map[string]any{
		"messageId": messageID,
		"reactions": reactions,
	}})
}
