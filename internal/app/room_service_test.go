package app_test

import (
	"context"
	"testing"
	"time"

	"class-meet-service/internal/app"
	"class-meet-service/internal/domain"
	"class-meet-service/internal/infra/memory"
	"github.com/rs/zerolog"
)

func newTestService() (*app.RoomService, *app.Hub) {
	hub := app.NewHub(zerolog.Nop())
	rooms := memory.NewRoomStore(time.Hour, zerolog.Nop())
	return app.NewRoomService(rooms, hub, nil, zerolog.Nop()), hub
}

// drainEvents empties a connection's outbound channel without blocking.
func drainEvents(ch <-chan domain.Event) []domain.Event {
	var events []domain.Event
	for {
		select {
		case e := <-ch:
			events = append(events, e)
		default:
			return events
		}
	}
}

func findEvent(events []domain.Event, eventType string) (domain.Event, bool) {
	for _, e := range events {
		if e.Type == eventType {
			return e, true
		}
	}
	return domain.Event{}, false
}

func TestJoinBroadcastsRoomState(t *testing.T) {
	service, hub := newTestService()
	out1 := hub.Register("c1")
	out2 := hub.Register("c2")

	state := service.Join("c1", "room-1", "Alice", true)
	if len(state.Participants) != 1 || !state.Participants[0].IsAdmin {
		t.Fatalf("expected one admin participant, got %+v", state.Participants)
	}

	state = service.Join("c2", "room-1", "Bob", false)
	if len(state.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(state.Participants))
	}
	if state.Participants[0].DisplayName != "Alice" || state.Participants[1].DisplayName != "Bob" {
		t.Fatalf("expected insertion order Alice, Bob, got %+v", state.Participants)
	}

	for _, out := range []<-chan domain.Event{out1, out2} {
		if _, ok := findEvent(drainEvents(out), "room-state"); !ok {
			t.Fatalf("expected room-state broadcast on both connections")
		}
	}
}

func TestSentimentTallyRecomputedFromRoster(t *testing.T) {
	service, hub := newTestService()
	for _, id := range []string{"c1", "c2", "c3"} {
		hub.Register(id)
		service.Join(id, "room-1", id, false)
	}

	service.SubmitSentiment("c1", "room-1", domain.SentimentGood)
	service.SubmitSentiment("c2", "room-1", domain.SentimentGood)
	service.SubmitSentiment("c3", "room-1", domain.SentimentNegative)

	analysis, err := service.ClassAnalysis("room-1")
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}
	if analysis.Sentiment != (domain.Tally{Good: 2, Negative: 1}) {
		t.Fatalf("expected tally {2 0 1}, got %+v", analysis.Sentiment)
	}

	// Changing a vote must not leave the old category counted.
	service.SubmitSentiment("c1", "room-1", domain.SentimentNeutral)
	analysis, _ = service.ClassAnalysis("room-1")
	if analysis.Sentiment != (domain.Tally{Good: 1, Neutral: 1, Negative: 1}) {
		t.Fatalf("expected tally {1 1 1} after revote, got %+v", analysis.Sentiment)
	}

	// A leaving voter's contribution disappears with them.
	service.Leave("c3")
	analysis, _ = service.ClassAnalysis("room-1")
	if analysis.Sentiment != (domain.Tally{Good: 1, Neutral: 1}) {
		t.Fatalf("expected tally {1 1 0} after leave, got %+v", analysis.Sentiment)
	}
}

func TestSentimentIgnoresInvalidAndUnknown(t *testing.T) {
	service, hub := newTestService()
	hub.Register("c1")
	service.Join("c1", "room-1", "Alice", false)

	service.SubmitSentiment("c1", "room-1", domain.Sentiment("angry"))
	service.SubmitSentiment("ghost", "room-1", domain.SentimentGood)
	service.SubmitSentiment("c1", "no-such-room", domain.SentimentGood)

	analysis, _ := service.ClassAnalysis("room-1")
	if analysis.Sentiment.Voted() != 0 {
		t.Fatalf("expected empty tally, got %+v", analysis.Sentiment)
	}
}

func TestRemoveParticipantRequiresAdmin(t *testing.T) {
	service, hub := newTestService()
	hub.Register("admin")
	target := hub.Register("student")
	hub.Register("other")
	service.Join("admin", "room-1", "Teacher", true)
	service.Join("student", "room-1", "Sam", false)
	service.Join("other", "room-1", "Olga", false)

	if err := service.RemoveParticipant("other", "room-1", "student"); err != domain.ErrNotAdmin {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}

	// Removing an absent target is a quiet no-op even for admins.
	if err := service.RemoveParticipant("admin", "room-1", "ghost"); err != nil {
		t.Fatalf("expected nil for missing target, got %v", err)
	}

	drainEvents(target)
	if err := service.RemoveParticipant("admin", "room-1", "student"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, ok := findEvent(drainEvents(target), "removed"); !ok {
		t.Fatalf("expected removed event delivered to the target")
	}
	analysis, _ := service.ClassAnalysis("room-1")
	if len(analysis.Participants) != 2 {
		t.Fatalf("expected 2 participants after removal, got %d", len(analysis.Participants))
	}
}

func TestMuteSignalsTargetOnly(t *testing.T) {
	service, hub := newTestService()
	hub.Register("admin")
	target := hub.Register("student")
	bystander := hub.Register("other")
	service.Join("admin", "room-1", "Teacher", true)
	service.Join("student", "room-1", "Sam", false)
	service.Join("other", "room-1", "Olga", false)

	if err := service.MuteParticipant("admin", "room-1", "ghost"); err != nil {
		t.Fatalf("expected nil for missing target, got %v", err)
	}
	if err := service.MuteParticipant("student", "room-1", "other"); err != domain.ErrNotAdmin {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}

	drainEvents(target)
	drainEvents(bystander)
	if err := service.MuteParticipant("admin", "room-1", "student"); err != nil {
		t.Fatalf("mute failed: %v", err)
	}
	if _, ok := findEvent(drainEvents(target), "force-mute"); !ok {
		t.Fatalf("expected force-mute delivered to the target")
	}
	if _, ok := findEvent(drainEvents(bystander), "force-mute"); ok {
		t.Fatalf("force-mute must not reach bystanders")
	}
}

func TestDisconnectCleansEveryJoinedRoom(t *testing.T) {
	service, hub := newTestService()
	hub.Register("c1")
	watcher := hub.Register("watcher")

	service.Join("c1", "room-a", "Alice", false)
	service.Join("watcher", "room-a", "Walt", false)
	service.SubmitSentiment("c1", "room-a", domain.SentimentGood)
	// Re-joining elsewhere rebinds the hub but leaves the old roster entry.
	service.Join("c1", "room-b", "Alice", false)

	drainEvents(watcher)
	service.Leave("c1")

	analysisA, err := service.ClassAnalysis("room-a")
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}
	if len(analysisA.Participants) != 1 || analysisA.Participants[0].ID != "watcher" {
		t.Fatalf("expected only the watcher left in room-a, got %+v", analysisA.Participants)
	}
	if analysisA.Sentiment.Voted() != 0 {
		t.Fatalf("departed voter must not linger in the tally, got %+v", analysisA.Sentiment)
	}
	if _, ok := findEvent(drainEvents(watcher), "room-state"); !ok {
		t.Fatalf("room-a must see the roster shrink")
	}

	analysisB, err := service.ClassAnalysis("room-b")
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}
	if len(analysisB.Participants) != 0 {
		t.Fatalf("expected room-b emptied, got %+v", analysisB.Participants)
	}
}

func TestRenameUpdatesRosterOnly(t *testing.T) {
	service, hub := newTestService()
	out := hub.Register("c1")
	service.Join("c1", "room-1", "Alice", false)
	service.SubmitSentiment("c1", "room-1", domain.SentimentGood)

	drainEvents(out)
	service.Rename("c1", "room-1", "Alicia")
	event, ok := findEvent(drainEvents(out), "room-state")
	if !ok {
		t.Fatalf("expected room-state broadcast after rename")
	}
	state := event.Payload.(domain.RoomState)
	if state.Participants[0].DisplayName != "Alicia" {
		t.Fatalf("expected renamed roster, got %+v", state.Participants)
	}
	if state.Sentiment != (domain.Tally{Good: 1}) {
		t.Fatalf("rename must not touch the tally, got %+v", state.Sentiment)
	}

	// Unknown participants and rooms are quiet no-ops.
	service.Rename("ghost", "room-1", "Nobody")
	service.Rename("c1", "no-such-room", "Nobody")
	if _, ok := findEvent(drainEvents(out), "room-state"); ok {
		t.Fatalf("no-op renames must not broadcast")
	}
}

func TestEjectedAdminLosesAuthority(t *testing.T) {
	service, hub := newTestService()
	hub.Register("a1")
	hub.Register("a2")
	hub.Register("s1")
	service.Join("a1", "room-1", "Head", true)
	service.Join("a2", "room-1", "Deputy", true)
	service.Join("s1", "room-1", "Sam", false)

	if err := service.RemoveParticipant("a1", "room-1", "a2"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := service.RemoveParticipant("a2", "room-1", "s1"); err != domain.ErrNotAdmin {
		t.Fatalf("ejected admin must lose authority, got %v", err)
	}
	if err := service.MuteParticipant("a2", "room-1", "s1"); err != domain.ErrNotAdmin {
		t.Fatalf("ejected admin must not mute, got %v", err)
	}

	analysis, _ := service.ClassAnalysis("room-1")
	if len(analysis.Participants) != 2 {
		t.Fatalf("expected a1 and s1 remaining, got %+v", analysis.Participants)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	service, hub := newTestService()
	hub.Register("c1")
	hub.Register("c2")
	service.Join("c1", "room-1", "Alice", false)
	service.Join("c2", "room-1", "Bob", false)

	service.Leave("c1")
	service.Leave("c1")
	service.Leave("ghost")

	analysis, _ := service.ClassAnalysis("room-1")
	if len(analysis.Participants) != 1 || analysis.Participants[0].ID != "c2" {
		t.Fatalf("expected only c2 left, got %+v", analysis.Participants)
	}
}

func TestGenerateQuizFallsBackToPlaceholders(t *testing.T) {
	ctx := context.Background()
	service, hub := newTestService()
	hub.Register("admin")
	student := hub.Register("student")
	service.Join("admin", "room-1", "Teacher", true)
	service.Join("student", "room-1", "Sam", false)

	if _, err := service.GenerateQuiz(ctx, "student", "room-1", "3 questions on maps"); err != domain.ErrNotAdmin {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if _, err := service.GenerateQuiz(ctx, "admin", "no-such-room", "anything"); err != domain.ErrRoomNotFound {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}

	drainEvents(student)
	session, err := service.GenerateQuiz(ctx, "admin", "room-1", "3 questions on maps")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(session.Questions) != 3 {
		t.Fatalf("expected 3 placeholder questions, got %d", len(session.Questions))
	}
	if session.GeneratedFromSummary {
		t.Fatalf("prompt-based session must not be marked summary-generated")
	}
	event, ok := findEvent(drainEvents(student), "quiz-broadcast")
	if !ok {
		t.Fatalf("expected quiz-broadcast to reach students")
	}
	broadcast := event.Payload.(domain.QuizSession)
	if broadcast.ID != session.ID {
		t.Fatalf("broadcast session id %q != returned %q", broadcast.ID, session.ID)
	}
}

func TestGenerateFromSummaryRequiresInsights(t *testing.T) {
	ctx := context.Background()
	service, hub := newTestService()
	hub.Register("admin")
	service.Join("admin", "room-1", "Teacher", true)

	if _, err := service.GenerateFromSummary(ctx, "admin", "room-1"); err != domain.ErrNoInsights {
		t.Fatalf("expected ErrNoInsights, got %v", err)
	}

	service.SubmitSentiment("admin", "room-1", domain.SentimentGood)
	service.TranscriptArrived("room-1", "today we talked about react hooks and state", "React hooks recap", 42, time.Now())

	session, err := service.GenerateFromSummary(ctx, "admin", "room-1")
	if err != nil {
		t.Fatalf("generate from summary failed: %v", err)
	}
	if !session.GeneratedFromSummary {
		t.Fatalf("expected summary-generated flag")
	}
	if session.Prompt != "Generated from class summary" {
		t.Fatalf("unexpected stored prompt %q", session.Prompt)
	}
	if len(session.Questions) == 0 {
		t.Fatalf("expected a non-empty question set")
	}
}

func TestQuizResponsesAndAnalytics(t *testing.T) {
	ctx := context.Background()
	service, hub := newTestService()
	hub.Register("admin")
	s1 := hub.Register("s1")
	hub.Register("s2")
	service.Join("admin", "room-1", "Teacher", true)
	service.Join("s1", "room-1", "Sam", false)
	service.Join("s2", "room-1", "Olga", false)

	session, err := service.GenerateQuiz(ctx, "admin", "room-1", "2 questions on slices")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	correct := session.Questions[0].Answer

	drainEvents(s1)
	service.SubmitQuizResponse("s1", "room-1", session.ID, 0, correct)
	service.SubmitQuizResponse("s2", "room-1", session.ID, 0, "wrong answer")
	// Re-answering overwrites, never double counts.
	service.SubmitQuizResponse("s2", "room-1", session.ID, 0, "another wrong answer")
	// Out-of-range indexes and unknown sessions are dropped.
	service.SubmitQuizResponse("s1", "room-1", session.ID, 99, correct)
	service.SubmitQuizResponse("s1", "room-1", "no-such-session", 0, correct)

	event, ok := findEvent(drainEvents(s1), "quiz-response-update")
	if !ok {
		t.Fatalf("expected quiz-response-update broadcast")
	}
	update := event.Payload.(map[string]any)
	if update["totalParticipants"] != 2 {
		t.Fatalf("totalParticipants must exclude admins, got %v", update["totalParticipants"])
	}

	if _, err := service.QuizAnalytics("s1", "room-1", session.ID); err != domain.ErrNotAdmin {
		t.Fatalf("expected ErrNotAdmin for students, got %v", err)
	}
	if _, err := service.QuizAnalytics("admin", "room-1", "no-such-session"); err != domain.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	analytics, err := service.QuizAnalytics("admin", "room-1", session.ID)
	if err != nil {
		t.Fatalf("analytics failed: %v", err)
	}
	if analytics.TotalResponses != 2 || analytics.TotalParticipants != 2 {
		t.Fatalf("expected 2 responders of 2 students, got %+v", analytics)
	}
	if analytics.Accuracy < 0 || analytics.Accuracy > 100 {
		t.Fatalf("accuracy out of range: %v", analytics.Accuracy)
	}
	q0 := analytics.Questions[0]
	if q0.CorrectCount != 1 {
		t.Fatalf("expected one correct answer, got %d", q0.CorrectCount)
	}
	if q0.Responses[correct] != 1 || q0.Responses["another wrong answer"] != 1 {
		t.Fatalf("unexpected distribution %+v", q0.Responses)
	}
	if _, stale := q0.Responses["wrong answer"]; stale {
		t.Fatalf("overwritten answer must not linger in the distribution")
	}
}

func TestAnalyticsOnEmptySession(t *testing.T) {
	ctx := context.Background()
	service, hub := newTestService()
	hub.Register("admin")
	service.Join("admin", "room-1", "Teacher", true)

	session, err := service.GenerateQuiz(ctx, "admin", "room-1", "quiz on testing")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	analytics, err := service.QuizAnalytics("admin", "room-1", session.ID)
	if err != nil {
		t.Fatalf("analytics failed: %v", err)
	}
	if analytics.Accuracy != 0 {
		t.Fatalf("expected zero accuracy with no responses, got %v", analytics.Accuracy)
	}
}

func TestChatReactionToggle(t *testing.T) {
	service, hub := newTestService()
	out := hub.Register("c1")
	service.Join("c1", "room-1", "Alice", false)

	service.PostMessage("c1", "room-1", "Alice", "student", "hello class")
	event, ok := findEvent(drainEvents(out), "receive-message")
	if !ok {
		t.Fatalf("expected receive-message broadcast")
	}
	msg := event.Payload.(domain.ChatMessage)

	service.ReactToMessage("room-1", msg.ID, "thumbs-up", "Bob")
	event, ok = findEvent(drainEvents(out), "reaction-updated")
	if !ok {
		t.Fatalf("expected reaction-updated broadcast")
	}
	reactions := event.Payload.(map[string]any)["reactions"].(map[string][]string)
	if len(reactions["thumbs-up"]) != 1 || reactions["thumbs-up"][0] != "Bob" {
		t.Fatalf("expected Bob under thumbs-up, got %+v", reactions)
	}

	// The same user reacting again toggles it off and prunes the kind.
	service.ReactToMessage("room-1", msg.ID, "thumbs-up", "Bob")
	event, _ = findEvent(drainEvents(out), "reaction-updated")
	reactions = event.Payload.(map[string]any)["reactions"].(map[string][]string)
	if _, present := reactions["thumbs-up"]; present {
		t.Fatalf("expected thumbs-up pruned after toggle off, got %+v", reactions)
	}

	// Reacting to a missing message emits nothing.
	service.ReactToMessage("room-1", "no-such-message", "thumbs-up", "Bob")
	if _, ok := findEvent(drainEvents(out), "reaction-updated"); ok {
		t.Fatalf("missing message must not produce a broadcast")
	}
}

func TestRelayDeliversVerbatimToTarget(t *testing.T) {
	service, hub := newTestService()
	hub.Register("c1")
	target := hub.Register("c2")
	service.Join("c1", "room-1", "Alice", false)
	service.Join("c2", "room-1", "Bob", false)

	drainEvents(target)
	service.Relay("offer", "room-1", "c1", "c2", []byte(`{"sdp":"x"}`))
	event, ok := findEvent(drainEvents(target), "offer")
	if !ok {
		t.Fatalf("expected relayed offer")
	}
	payload := event.Payload.(map[string]any)
	if payload["from"] != "c1" || payload["roomId"] != "room-1" {
		t.Fatalf("unexpected relay envelope %+v", payload)
	}

	// Dead targets drop silently.
	service.Relay("answer", "room-1", "c1", "ghost", nil)
}

func TestTranscriptUpdatesClassSummary(t *testing.T) {
	service, hub := newTestService()
	out := hub.Register("c1")
	service.Join("c1", "room-1", "Alice", false)
	service.SubmitSentiment("c1", "room-1", domain.SentimentGood)

	drainEvents(out)
	service.TranscriptArrived("room-1", "we discussed testing and performance", "Testing deep dive", 120, time.Time{})

	events := drainEvents(out)
	if _, ok := findEvent(events, "transcript-created"); !ok {
		t.Fatalf("expected transcript-created broadcast")
	}
	event, ok := findEvent(events, "class-summary-updated")
	if !ok {
		t.Fatalf("expected class-summary-updated broadcast")
	}
	summary := event.Payload.(domain.ClassSummary)
	if summary.TotalTranscripts != 1 {
		t.Fatalf("expected 1 transcript, got %d", summary.TotalTranscripts)
	}
	if summary.AverageSentiment != domain.SentimentGood {
		t.Fatalf("expected good average sentiment, got %s", summary.AverageSentiment)
	}
	if len(summary.KeyTopics) != 1 || summary.KeyTopics[0] != "Testing deep dive" {
		t.Fatalf("expected the summary as key topic, got %+v", summary.KeyTopics)
	}
}

func TestClassAnalysisForUnknownRoom(t *testing.T) {
	service, _ := newTestService()
	if _, err := service.ClassAnalysis("nope"); err != domain.ErrRoomNotFound {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}
