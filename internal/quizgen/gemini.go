package quizgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"class-meet-service/internal/domain"
	"github.com/rs/zerolog"
)

const defaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiGenerator calls the Gemini REST API and parses the JSON question
// array out of the model's text response.
type GeminiGenerator struct {
	client   *http.Client
	endpoint string
	apiKey   string
	model    string
	log      zerolog.Logger
}

func NewGeminiGenerator(apiKey, model string, timeout time.Duration, log zerolog.Logger) *GeminiGenerator {
	if model == "" {
		model = "gemini-pro"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GeminiGenerator{
		client:   &http.Client{Timeout: timeout},
		endpoint: defaultEndpoint,
		apiKey:   apiKey,
		model:    model,
		log:      log.With().Str("component", "quizgen").Logger(),
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) ([]domain.Question, error) {
	count, topic := ParsePrompt(prompt)

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: instruction(count, topic)}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", g.endpoint, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call generation backend: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generation backend returned %d", resp.StatusCode)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("generation backend returned no candidates")
	}

	questions, err := ParseQuestionsJSON(parsed.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		return nil, err
	}
	if len(questions) > count {
		questions = questions[:count]
	}
	g.log.Debug().Int("questions", len(questions)).Str("topic", topic).Msg("generated question set")
	return questions, nil
}

func instruction(count int, topic string) string {
	return fmt.Sprintf(`You are an expert MCQ generator.

Generate exactly %d multiple choice questions about: %s
Return ONLY a valid JSON array, no markdown and no code blocks.
Each question has exactly 4 options and the "answer" field must exactly match one option.

Format:
[{"question": "...", "options": ["...","...","...","..."], "answer": "...", "explanation": "..."}]`, count, topic)
}

// ParseQuestionsJSON extracts and validates the question array from model
// output, tolerating markdown code fences around the JSON.
func ParseQuestionsJSON(text string) ([]domain.Question, error) {
	cleaned := strings.ReplaceAll(text, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array in model output")
	}

	var questions []domain.Question
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &questions); err != nil {
		return nil, fmt.Errorf("decode question array: %w", err)
	}

	valid := questions[:0]
	for _, q := range questions {
		if q.Text == "" || len(q.Options) < 2 || q.Answer == "" {
			continue
		}
		valid = append(valid, q)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("no valid questions in model output")
	}
	return valid, nil
}
