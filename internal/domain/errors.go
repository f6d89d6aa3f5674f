package domain

import "errors"

var (
	// ErrNotAdmin is returned when a regular participant attempts an
	// admin-only operation. Reported to the requester only, never broadcast.
	ErrNotAdmin = errors.New("only admins can perform this action")
	// ErrRoomNotFound is returned by query paths when the room id does not
	// resolve. Mutation paths treat a missing room as a silent no-op.
	ErrRoomNotFound = errors.New("room not found")
	// ErrParticipantNotFound is returned when a connection acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrSessionNotFound indicates an unknown quiz session id.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrMessageNotFound indicates an unknown chat message id.
	ErrMessageNotFound = errors.New("chat message not found")
	// ErrNoInsights is returned when summary-based generation is requested
	// before any transcript has produced insights.
	ErrNoInsights = errors.New("no class insights available yet")
)
