// Package quizgen is the question-generation collaborator. The service
// treats it as a pure prompt -> questions function that may fail; callers
// substitute the deterministic placeholder set on any failure so a quiz
// session always has content.
package quizgen

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"class-meet-service/internal/domain"
)

// DefaultQuestionCount is used when the prompt does not ask for a number.
const DefaultQuestionCount = 5

// Generator produces a multiple-choice question set for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) ([]domain.Question, error)
}

var (
	countPattern = regexp.MustCompile(`(?i)(\d+)\s*(?:questions?|mcqs?)`)
	topicPattern = regexp.MustCompile(`(?i)(?:on|about|regarding|for)\s+(.+)`)
)

// ParsePrompt extracts the requested question count and topic from a
// free-form prompt like "5 questions on arrays".
func ParsePrompt(prompt string) (count int, topic string) {
	count = DefaultQuestionCount
	if m := countPattern.FindStringSubmatch(prompt); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			count = n
		}
	}
	if m := topicPattern.FindStringSubmatch(prompt); m != nil {
		topic = strings.TrimSpace(m[1])
	} else {
		topic = strings.TrimSpace(countPattern.ReplaceAllString(prompt, ""))
	}
	if topic == "" {
		topic = "the class material"
	}
	return count, topic
}

// Placeholder builds a deterministic, clearly labeled question set. It
// honors the count parsed from the prompt and carries no timestamps, so the
// same prompt always yields the same set.
func Placeholder(prompt string) []domain.Question {
	count, topic := ParsePrompt(prompt)
	questions := make([]domain.Question, 0, count)
	for i := 1; i <= count; i++ {
		options := []string{
			fmt.Sprintf("Review the basics of %s", topic),
			fmt.Sprintf("Apply %s in practice", topic),
			fmt.Sprintf("Compare approaches to %s", topic),
			fmt.Sprintf("Summarize %s", topic),
		}
		questions = append(questions, domain.Question{
			Text:        fmt.Sprintf("Placeholder question %d of %d about %s?", i, count, topic),
			Options:     options,
			Answer:      options[(i-1)%len(options)],
			Explanation: "Placeholder question: the generation backend was unavailable.",
		})
	}
	return questions
}

// PlaceholderGenerator satisfies Generator with the deterministic set and
// never fails. Useful as the default when no backend is configured.
type PlaceholderGenerator struct{}

func (PlaceholderGenerator) Generate(_ context.Context, prompt string) ([]domain.Question, error) {
	return Placeholder(prompt), nil
}
