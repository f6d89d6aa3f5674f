package app

import (
	"fmt"
	"math"
	"strings"

	"class-meet-service/internal/domain"
)

// keyTopicWindow is how many trailing transcript summaries feed KeyTopics.
const keyTopicWindow = 5

// topicKeywords are scanned against raw transcript text to surface covered
// topics in the insight list.
var topicKeywords = []string{
	"react", "hooks", "state", "performance", "optimization", "api",
	"testing", "architecture",
}

// ComputeClassSummary derives the rolling class digest as a pure function
// of the current tally and transcript history. The result replaces any
// previous summary wholesale.
func ComputeClassSummary(tally domain.Tally, transcripts []domain.Transcript) domain.ClassSummary {
	return domain.ClassSummary{
		TotalTranscripts: len(transcripts),
		KeyTopics:        keyTopics(transcripts),
		AverageSentiment: averageSentiment(tally),
		EngagementScore:  EngagementScore(tally, len(transcripts)),
		MainInsights:     mainInsights(tally, transcripts),
	}
}

func keyTopics(transcripts []domain.Transcript) []string {
	start := 0
	if len(transcripts) > keyTopicWindow {
		start = len(transcripts) - keyTopicWindow
	}
	topics := make([]string, 0, keyTopicWindow)
	for _, t := range transcripts[start:] {
		topics = append(topics, t.Summary)
	}
	return topics
}

// averageSentiment reduces the tally to a single label using the weighted
// score (good - negative) / voted. It degrades to neutral when nobody has
// voted.
func averageSentiment(tally domain.Tally) domain.Sentiment {
	voted := tally.Voted()
	if voted == 0 {
		return domain.SentimentNeutral
	}
	score := float64(tally.Good-tally.Negative) / float64(voted)
	switch {
	case score > 0.2:
		return domain.SentimentGood
	case score < -0.2:
		return domain.SentimentNegative
	default:
		return domain.SentimentNeutral
	}
}

// EngagementScore blends the positive-vote ratio (60%) with transcript
// volume capped at five chunks (40%), clamped to [0,100]. With no votes the
// positive ratio defaults to the 50% midpoint.
func EngagementScore(tally domain.Tally, transcriptCount int) int {
	voted := tally.Voted()
	positiveRatio := 50.0
	if voted > 0 {
		positiveRatio = float64(tally.Good) / float64(voted) * 100
	}
	participation := math.Min(float64(transcriptCount)/5, 1) * 20
	score := int(math.Round(positiveRatio*0.6 + participation*0.4))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func mainInsights(tally domain.Tally, transcripts []domain.Transcript) []string {
	insights := []string{}

	switch {
	case tally.Good > tally.Negative && tally.Good > tally.Neutral:
		insights = append(insights, "High positive sentiment - class is engaging well")
	case tally.Negative > tally.Good:
		insights = append(insights, "Low sentiment - consider reviewing content delivery")
	case tally.Neutral > tally.Good && tally.Neutral > tally.Negative:
		insights = append(insights, "Mixed sentiment - audience response varied")
	}

	totalWords := 0
	for _, t := range transcripts {
		totalWords += len(strings.Fields(t.RawText))
	}
	if totalWords > 500 {
		insights = append(insights, "High discussion volume - active participation detected")
	} else if totalWords > 0 && totalWords < 100 {
		insights = append(insights, "Low discussion volume - consider more interactive elements")
	}

	if covered := coveredTopics(transcripts); len(covered) > 0 {
		insights = append(insights, fmt.Sprintf("Topics covered: %s", strings.Join(covered, ", ")))
	}
	return insights
}

func coveredTopics(transcripts []domain.Transcript) []string {
	covered := make([]string, 0, len(topicKeywords))
	for _, keyword := range topicKeywords {
		for _, t := range transcripts {
			if strings.Contains(strings.ToLower(t.RawText), keyword) {
				covered = append(covered, keyword)
				break
			}
		}
	}
	return covered
}
