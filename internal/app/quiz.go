package app

import (
	"context"
	"fmt"
	"strings"

	"class-meet-service/internal/domain"
	"class-meet-service/internal/quizgen"
)

// GenerateQuiz runs the external generation collaborator for a free-form
// prompt and broadcasts the resulting session. Admin-only. Collaborator
// failures are swallowed: the session falls back to the deterministic
// placeholder set so it always has content.
func (s *RoomService) GenerateQuiz(ctx context.Context, requesterID, roomID, prompt string) (domain.QuizSession, error) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.QuizSession{}, domain.ErrRoomNotFound
	}
	if !room.IsAdmin(requesterID) {
		return domain.QuizSession{}, domain.ErrNotAdmin
	}

	questions := s.generate(ctx, roomID, prompt)
	return s.publishQuiz(roomID, prompt, false, questions)
}

// GenerateFromSummary synthesizes a prompt from the room's current insights
// and engagement score, then reuses the normal generation path. Fails with
// ErrNoInsights until a transcript has produced a summary.
func (s *RoomService) GenerateFromSummary(ctx context.Context, requesterID, roomID string) (domain.QuizSession, error) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.QuizSession{}, domain.ErrRoomNotFound
	}
	if !room.IsAdmin(requesterID) {
		return domain.QuizSession{}, domain.ErrNotAdmin
	}
	insights, engagement, ok := room.SummaryContext()
	if !ok {
		return domain.QuizSession{}, domain.ErrNoInsights
	}

	prompt := fmt.Sprintf(
		"Based on the class discussion insights: %q. Class engagement level: %d/100. "+
			"Generate 3 educational multiple choice questions that test understanding of the discussed concepts.",
		strings.Join(insights, ". "), engagement)
	questions := s.generate(ctx, roomID, prompt)
	return s.publishQuiz(roomID, "Generated from class summary", true, questions)
}

// SubmitQuizResponse upserts one answer and broadcasts the response tally.
// Unknown rooms, sessions, or question indexes are silent no-ops.
func (s *RoomService) SubmitQuizResponse(connID, roomID, sessionID string, questionIndex int, answer string) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}
	totalResponses, totalParticipants, ok := room.UpsertResponse(sessionID, connID, questionIndex, answer)
	if !ok {
		return
	}
	s.hub.Broadcast(roomID, domain.Event{Type: "quiz-response-update", Payload: map[string]any{
		"sessionId":         sessionID,
		"totalResponses":    totalResponses,
		"totalParticipants": totalParticipants,
	}})
}

// QuizAnalytics computes the admin-facing session tally for the requester.
func (s *RoomService) QuizAnalytics(requesterID, roomID, sessionID string) (domain.QuizAnalytics, error) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.QuizAnalytics{}, domain.ErrRoomNotFound
	}
	if !room.IsAdmin(requesterID) {
		return domain.QuizAnalytics{}, domain.ErrNotAdmin
	}
	analytics, ok := room.Analytics(sessionID)
	if !ok {
		return domain.QuizAnalytics{}, domain.ErrSessionNotFound
	}
	return analytics, nil
}

// generate calls the collaborator without holding any room lock.
// Concurrent requests for the same room and prompt collapse into one
// backend call; any failure degrades to the placeholder set.
func (s *RoomService) generate(ctx context.Context, roomID, prompt string) []domain.Question {
	if s.generator == nil {
		return quizgen.Placeholder(prompt)
	}
	result, err, _ := s.sf.Do(roomID+"\x00"+prompt, func() (any, error) {
		return s.generator.Generate(ctx, prompt)
	})
	if err != nil {
		s.log.Warn().Err(err).Str("room", roomID).Msg("generation backend failed, using placeholder set")
		return quizgen.Placeholder(prompt)
	}
	return result.([]domain.Question)
}

// publishQuiz re-validates the room (it may have been evicted while the
// collaborator ran), stores the session, and broadcasts it.
func (s *RoomService) publishQuiz(roomID, prompt string, fromSummary bool, questions []domain.Question) (domain.QuizSession, error) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.QuizSession{}, domain.ErrRoomNotFound
	}
	session := &domain.QuizSession{
		ID:                   s.newID(),
		Prompt:               prompt,
		GeneratedFromSummary: fromSummary,
		Questions:            questions,
		Responses:            make(map[string]map[int]string),
		CreatedAt:            s.now(),
	}
	room.AppendQuiz(session)
	snapshot, _ := room.QuizSnapshot(session.ID)
	s.log.Info().Str("room", roomID).Str("session", session.ID).
		Int("questions", len(questions)).Bool("fromSummary", fromSummary).Msg("quiz session published")
	s.hub.Broadcast(roomID, domain.Event{Type: "quiz-broadcast", Payload: snapshot})
	return snapshot, nil
}
