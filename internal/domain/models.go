package domain

import "time"

// Sentiment is a participant's current feedback signal.
type Sentiment string

const (
	SentimentGood     Sentiment = "good"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
	// SentimentUnset means the participant has not voted yet.
	SentimentUnset Sentiment = ""
)

// Valid reports whether s is one of the three votable values.
func (s Sentiment) Valid() bool {
	return s == SentimentGood || s == SentimentNeutral || s == SentimentNegative
}

// Participant is one connected user inside a room.
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	IsAdmin     bool      `json:"isAdmin"`
	JoinedAt    time.Time `json:"joinedAt"`
	Sentiment   Sentiment `json:"sentiment,omitempty"`
}

// Tally is the per-category sentiment count for a room. It is always
// recomputed from the roster, never adjusted in place.
type Tally struct {
	Good     int `json:"good"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
}

// Voted returns the number of participants with any sentiment set.
func (t Tally) Voted() int {
	return t.Good + t.Neutral + t.Negative
}

// Question models one generated multiple-choice question. Answer holds the
// full text of the correct option.
type Question struct {
	Text        string   `json:"question"`
	Options     []string `json:"options"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
}

// QuizSession is one generated question set plus accumulated responses,
// keyed by connection id then question index. Everything but Responses is
// immutable after creation.
type QuizSession struct {
	ID                   string                    `json:"id"`
	Prompt               string                    `json:"prompt"`
	GeneratedFromSummary bool                      `json:"generatedFromSummary,omitempty"`
	Questions            []Question                `json:"questions"`
	Responses            map[string]map[int]string `json:"responses"`
	CreatedAt            time.Time                 `json:"createdAt"`
}

// QuestionAnalytics aggregates responses for a single question index.
type QuestionAnalytics struct {
	QuestionIndex int            `json:"questionIndex"`
	Question      string         `json:"question"`
	CorrectAnswer string         `json:"correctAnswer"`
	Responses     map[string]int `json:"responses"`
	CorrectCount  int            `json:"correctCount"`
}

// QuizAnalytics is the admin-facing tally for one quiz session. Accuracy is
// a percentage in [0,100]; it is 0, never NaN, when nobody has responded.
type QuizAnalytics struct {
	SessionID         string              `json:"sessionId"`
	TotalParticipants int                 `json:"totalParticipants"`
	TotalResponses    int                 `json:"totalResponses"`
	Accuracy          float64             `json:"accuracy"`
	Questions         []QuestionAnalytics `json:"questionAnalytics"`
}

// ChatMessage is one entry of a room's append-only chat log. Reactions maps
// a reaction kind to the user names who toggled it on; a kind whose user
// list becomes empty is removed from the map entirely.
type ChatMessage struct {
	ID        string              `json:"id"`
	UserID    string              `json:"userId"`
	UserName  string              `json:"userName"`
	UserRole  string              `json:"userRole"`
	Text      string              `json:"text"`
	Timestamp time.Time           `json:"timestamp"`
	Reactions map[string][]string `json:"reactions"`
}

// Transcript is the output of the external transcription collaborator. The
// core never computes these values, it only stores and summarizes them.
type Transcript struct {
	ID        string    `json:"id"`
	RawText   string    `json:"rawText"`
	Summary   string    `json:"summary"`
	Duration  float64   `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}

// ClassSummary is the rolling digest recomputed wholesale on every
// transcript arrival.
type ClassSummary struct {
	TotalTranscripts int       `json:"totalTranscripts"`
	KeyTopics        []string  `json:"keyTopics"`
	AverageSentiment Sentiment `json:"averageSentiment"`
	EngagementScore  int       `json:"engagementScore"`
	MainInsights     []string  `json:"mainInsights"`
}

// RoomState is the broadcast snapshot of a room's roster and tally.
type RoomState struct {
	Participants []Participant `json:"participants"`
	Sentiment    Tally         `json:"sentiment"`
}

// ClassAnalysis is the on-demand snapshot returned to a requester.
type ClassAnalysis struct {
	RoomID         string        `json:"roomId"`
	ClassSummary   ClassSummary  `json:"classSummary"`
	Transcripts    []Transcript  `json:"transcripts"`
	Participants   []Participant `json:"participants"`
	Sentiment      Tally         `json:"sentiment"`
	TotalQuizzes   int           `json:"totalQuizzes"`
	TotalResponses int           `json:"totalResponses"`
}

// Event is one outbound frame, either broadcast to a room or sent to a
// single connection.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}
