package app

import (
	"sync"
	"time"

	"class-meet-service/internal/domain"
)

// Room owns all mutable state of one meeting. Every method acquires the
// room mutex, so exactly one logical operation observes-and-mutates the
// state at a time; methods return snapshots for the caller to fan out after
// the lock is released.
type Room struct {
	id        string
	createdAt time.Time
	now       func() time.Time

	mu           sync.Mutex
	participants []*domain.Participant
	tally        domain.Tally
	quizzes      []*domain.QuizSession
	messages     []*domain.ChatMessage
	transcripts  []domain.Transcript
	summary      *domain.ClassSummary
	emptySince   time.Time
}

func NewRoom(id string) *Room {
	return NewRoomWithClock(id, time.Now)
}

// NewRoomWithClock allows deterministic timestamps in tests.
func NewRoomWithClock(id string, now func() time.Time) *Room {
	return &Room{
		id:         id,
		createdAt:  now(),
		now:        now,
		emptySince: now(),
	}
}

func (r *Room) ID() string { return r.id }

// Join appends a participant in insertion order and returns the refreshed
// room state.
func (r *Room) Join(connID, displayName string, isAdmin bool) domain.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.participants = append(r.participants, &domain.Participant{
		ID:          connID,
		DisplayName: displayName,
		IsAdmin:     isAdmin,
		JoinedAt:    r.now(),
	})
	r.emptySince = time.Time{}
	r.recomputeTallyLocked()
	return r.stateLocked()
}

// Rename mutates a participant's display name. The tally is untouched.
func (r *Room) Rename(connID, newName string) (domain.RoomState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.findLocked(connID)
	if p == nil {
		return domain.RoomState{}, false
	}
	p.DisplayName = newName
	return r.stateLocked(), true
}

// Remove drops a participant from the roster and recomputes the tally from
// the remaining roster. It reports the removed participant so callers can
// notify them directly.
func (r *Room) Remove(connID string) (domain.Participant, domain.RoomState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connID)
}

// RemoveByAdmin verifies the requester's admin flag and ejects the target
// under one lock acquisition, so a requester who was just removed cannot
// still complete an ejection.
func (r *Room) RemoveByAdmin(requesterID, targetID string) (domain.Participant, domain.RoomState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isAdminLocked(requesterID) {
		return domain.Participant{}, domain.RoomState{}, false, domain.ErrNotAdmin
	}
	removed, state, ok := r.removeLocked(targetID)
	return removed, state, ok, nil
}

// AuthorizeMute checks the requester's admin flag and the target's presence
// in one locked step. It reports whether the mute signal should be sent;
// mute state itself lives client-side.
func (r *Room) AuthorizeMute(requesterID, targetID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isAdminLocked(requesterID) {
		return false, domain.ErrNotAdmin
	}
	return r.findLocked(targetID) != nil, nil
}

func (r *Room) removeLocked(connID string) (domain.Participant, domain.RoomState, bool) {
	for i, p := range r.participants {
		if p.ID == connID {
			removed := *p
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			if len(r.participants) == 0 {
				r.emptySince = r.now()
			}
			r.recomputeTallyLocked()
			return removed, r.stateLocked(), true
		}
	}
	return domain.Participant{}, domain.RoomState{}, false
}

// SetSentiment records a participant's vote and recomputes the whole tally
// by scanning the roster.
func (r *Room) SetSentiment(connID string, value domain.Sentiment) (domain.RoomState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.findLocked(connID)
	if p == nil {
		return domain.RoomState{}, false
	}
	p.Sentiment = value
	r.recomputeTallyLocked()
	return r.stateLocked(), true
}

// IsAdmin reports whether the connection belongs to an admin of this room.
func (r *Room) IsAdmin(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isAdminLocked(connID)
}

func (r *Room) isAdminLocked(connID string) bool {
	p := r.findLocked(connID)
	return p != nil && p.IsAdmin
}

// State returns the current roster and tally snapshot.
func (r *Room) State() domain.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

// IsEmpty reports whether the room has no participants.
func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants) == 0
}

// IdleSince returns when the room last became empty; the zero time means
// it is occupied.
func (r *Room) IdleSince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emptySince
}

// AppendQuiz attaches a generated session to the room.
func (r *Room) AppendQuiz(session *domain.QuizSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quizzes = append(r.quizzes, session)
}

// QuizSnapshot returns a deep-enough copy of a session for broadcasting.
func (r *Room) QuizSnapshot(sessionID string) (domain.QuizSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.quizLocked(sessionID)
	if s == nil {
		return domain.QuizSession{}, false
	}
	return copyQuizLocked(s), true
}

// UpsertResponse records responses[connID][questionIndex] = answer and
// returns the response tally for broadcast. totalParticipants excludes
// admins by convention.
func (r *Room) UpsertResponse(sessionID, connID string, questionIndex int, answer string) (totalResponses, totalParticipants int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.quizLocked(sessionID)
	if s == nil || questionIndex < 0 || questionIndex >= len(s.Questions) {
		return 0, 0, false
	}
	if s.Responses[connID] == nil {
		s.Responses[connID] = make(map[int]string)
	}
	s.Responses[connID][questionIndex] = answer

	return len(s.Responses), r.regularCountLocked(), true
}

// Analytics computes per-question distributions and overall accuracy for a
// quiz session.
func (r *Room) Analytics(sessionID string) (domain.QuizAnalytics, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.quizLocked(sessionID)
	if s == nil {
		return domain.QuizAnalytics{}, false
	}

	analytics := domain.QuizAnalytics{
		SessionID:         s.ID,
		TotalParticipants: r.regularCountLocked(),
		TotalResponses:    len(s.Responses),
		Questions:         make([]domain.QuestionAnalytics, 0, len(s.Questions)),
	}

	correctTotal := 0
	for idx, q := range s.Questions {
		qa := domain.QuestionAnalytics{
			QuestionIndex: idx,
			Question:      q.Text,
			CorrectAnswer: q.Answer,
			Responses:     make(map[string]int),
		}
		for _, byQuestion := range s.Responses {
			answer, answered := byQuestion[idx]
			if !answered {
				continue
			}
			qa.Responses[answer]++
			if answer == q.Answer {
				qa.CorrectCount++
			}
		}
		correctTotal += qa.CorrectCount
		analytics.Questions = append(analytics.Questions, qa)
	}

	if analytics.TotalResponses > 0 && len(s.Questions) > 0 {
		analytics.Accuracy = float64(correctTotal) / float64(analytics.TotalResponses*len(s.Questions)) * 100
	}
	return analytics, true
}

// PostMessage appends a chat message with a fresh reaction map.
func (r *Room) PostMessage(id, userID, userName, userRole, text string) domain.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := &domain.ChatMessage{
		ID:        id,
		UserID:    userID,
		UserName:  userName,
		UserRole:  userRole,
		Text:      text,
		Timestamp: r.now(),
		Reactions: make(map[string][]string),
	}
	r.messages = append(r.messages, msg)
	return copyMessageLocked(msg)
}

// React toggles userName under kind for a message. Adding when absent,
// removing when present, and pruning the kind once its list empties.
func (r *Room) React(messageID, kind, userName string) (map[string][]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var msg *domain.ChatMessage
	for _, m := range r.messages {
		if m.ID == messageID {
			msg = m
			break
		}
	}
	if msg == nil {
		return nil, false
	}

	users := msg.Reactions[kind]
	found := -1
	for i, u := range users {
		if u == userName {
			found = i
			break
		}
	}
	if found == -1 {
		msg.Reactions[kind] = append(users, userName)
	} else {
		users = append(users[:found], users[found+1:]...)
		if len(users) == 0 {
			delete(msg.Reactions, kind)
		} else {
			msg.Reactions[kind] = users
		}
	}

	return copyReactionsLocked(msg.Reactions), true
}

// AddTranscript appends a transcript and recomputes the class summary
// wholesale from the tally and transcript history.
func (r *Room) AddTranscript(t domain.Transcript) (domain.ClassSummary, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transcripts = append(r.transcripts, t)
	summary := ComputeClassSummary(r.tally, r.transcripts)
	r.summary = &summary
	return summary, len(r.transcripts)
}

// SummaryContext exposes what summary-based quiz generation needs.
func (r *Room) SummaryContext() (insights []string, engagement int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.summary == nil || len(r.summary.MainInsights) == 0 {
		return nil, 0, false
	}
	return append([]string(nil), r.summary.MainInsights...), r.summary.EngagementScore, true
}

// Analysis builds the full on-demand snapshot for one requester.
func (r *Room) Analysis() domain.ClassAnalysis {
	r.mu.Lock()
	defer r.mu.Unlock()

	totalResponses := 0
	for _, q := range r.quizzes {
		totalResponses += len(q.Responses)
	}
	analysis := domain.ClassAnalysis{
		RoomID:         r.id,
		Transcripts:    append([]domain.Transcript(nil), r.transcripts...),
		Participants:   r.rosterLocked(),
		Sentiment:      r.tally,
		TotalQuizzes:   len(r.quizzes),
		TotalResponses: totalResponses,
	}
	if r.summary != nil {
		analysis.ClassSummary = *r.summary
	} else {
		analysis.ClassSummary = domain.ClassSummary{
			KeyTopics:        []string{},
			AverageSentiment: domain.SentimentNeutral,
			MainInsights:     []string{},
		}
	}
	return analysis
}

// recomputeTallyLocked rebuilds the tally from the roster. This is the only
// way the tally ever changes; no caller adjusts a single counter.
func (r *Room) recomputeTallyLocked() {
	tally := domain.Tally{}
	for _, p := range r.participants {
		switch p.Sentiment {
		case domain.SentimentGood:
			tally.Good++
		case domain.SentimentNeutral:
			tally.Neutral++
		case domain.SentimentNegative:
			tally.Negative++
		}
	}
	r.tally = tally
}

func (r *Room) findLocked(connID string) *domain.Participant {
	for _, p := range r.participants {
		if p.ID == connID {
			return p
		}
	}
	return nil
}

func (r *Room) quizLocked(sessionID string) *domain.QuizSession {
	for _, s := range r.quizzes {
		if s.ID == sessionID {
			return s
		}
	}
	return nil
}

func (r *Room) regularCountLocked() int {
	count := 0
	for _, p := range r.participants {
		if !p.IsAdmin {
			count++
		}
	}
	return count
}

func (r *Room) rosterLocked() []domain.Participant {
	roster := make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		roster = append(roster, *p)
	}
	return roster
}

func (r *Room) stateLocked() domain.RoomState {
	return domain.RoomState{
		Participants: r.rosterLocked(),
		Sentiment:    r.tally,
	}
}

func copyQuizLocked(s *domain.QuizSession) domain.QuizSession {
	out := *s
	out.Questions = append([]domain.Question(nil), s.Questions...)
	out.Responses = make(map[string]map[int]string, len(s.Responses))
	for connID, byQuestion := range s.Responses {
		answers := make(map[int]string, len(byQuestion))
		for idx, a := range byQuestion {
			answers[idx] = a
		}
		out.Responses[connID] = answers
	}
	return out
}

func copyMessageLocked(m *domain.ChatMessage) domain.ChatMessage {
	out := *m
	out.Reactions = copyReactionsLocked(m.Reactions)
	return out
}

func copyReactionsLocked(reactions map[string][]string) map[string][]string {
	out := make(map[string][]string, len(reactions))
	for kind, users := range reactions {
		out[kind] = append([]string(nil), users...)
	}
	return out
}
