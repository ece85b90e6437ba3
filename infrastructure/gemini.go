package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"interview-coordinator/domain"
	"interview-coordinator/infrastructure/config"
	"interview-coordinator/infrastructure/logger"
)

var defaultModels = []string{
	"gemini-2.0-flash-001",
	"gemini-2.0-flash",
	"gemini-2.5-flash",
	"gemini-flash-latest",
}

const maxAnswerScore = 100.0

// contentGenerator is the part of the GenAI client the evaluator needs.
type contentGenerator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

type genaiGenerator struct {
	client *genai.Client
}

func (g genaiGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.1),
		TopP:             genai.Ptr[float32](0.8),
		ResponseMIMEType: "application/json",
	}
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || strings.TrimSpace(part.Text) == "" {
				continue
			}
			builder.WriteString(part.Text)
		}
	}
	if builder.Len() == 0 {
		return "", errors.New("gemini api returned empty response")
	}
	return builder.String(), nil
}

// GeminiClient scores interview answers, trying each configured model in
// turn until one returns a usable result.
type GeminiClient struct {
	gen          contentGenerator
	models       []string
	maxLogLength int
	log          logger.Logger
	now          func() time.Time
}

func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig, log logger.Logger) (*GeminiClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiClient(genaiGenerator{client: client}, cfg, log), nil
}

func newGeminiClient(gen contentGenerator, cfg config.GeminiConfig, log logger.Logger) *GeminiClient {
	models := cfg.Models
	if len(models) == 0 {
		models = defaultModels
	}
	maxLog := cfg.MaxLogLength
	if maxLog <= 0 {
		maxLog = 500
	}
	return &GeminiClient{
		gen:          gen,
		models:       models,
		maxLogLength: maxLog,
		log:          log.WithFields(map[string]interface{}{"component": "gemini"}),
		now:          time.Now,
	}
}

// EvaluateAnswer asks the model for {score, feedback, technical_accuracy}.
func (g *GeminiClient) EvaluateAnswer(ctx context.Context, req domain.EvaluationRequest) (domain.AnswerEvaluation, error) {
	prompt := buildAnswerPrompt(req)

	var lastError error
	for _, model := range g.models {
		if err := ctx.Err(); err != nil {
			return domain.AnswerEvaluation{}, err
		}

		text, err := g.gen.Generate(ctx, model, prompt)
		if err == nil {
			var eval domain.AnswerEvaluation
			eval, err = parseAnswerEvaluation(text, g.now().UTC())
			if err == nil {
				g.log.Debug("answer evaluated", map[string]interface{}{"model": model})
				return eval, nil
			}
			g.log.Warn("unusable model response", map[string]interface{}{
				"model":    model,
				"response": logger.Truncate(text, g.maxLogLength),
			})
		}
		lastError = err
		g.log.WithError(err).Warn("model failed", map[string]interface{}{"model": model})
	}

	return domain.AnswerEvaluation{}, fmt.Errorf("all models failed: %w", lastError)
}

func buildAnswerPrompt(req domain.EvaluationRequest) string {
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = "software engineer"
	}
	return fmt.Sprintf(
		`You are an interviewer evaluating a candidate for the role of %s.

Question:
%s

Candidate answer:
%s

Score the answer from 0 to 100 overall and from 0 to 100 for technical accuracy,
and give short constructive feedback.

Return strict JSON with structure:
{
  "score": float,
  "feedback": string,
  "technical_accuracy": float
}

Return ONLY the raw JSON without any markdown formatting, code blocks, or additional text.`,
		role, req.Question, req.Answer)
}

type answerEvaluationJSON struct {
	Score             *float64 `json:"score"`
	Feedback          string   `json:"feedback"`
	TechnicalAccuracy *float64 `json:"technical_accuracy"`
}

func parseAnswerEvaluation(text string, at time.Time) (domain.AnswerEvaluation, error) {
	cleaned := cleanJSONResponse(text)

	var raw answerEvaluationJSON
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return domain.AnswerEvaluation{}, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if raw.Score == nil {
		return domain.AnswerEvaluation{}, errors.New("response has no score")
	}

	score := clampScore(*raw.Score)
	eval := domain.AnswerEvaluation{
		Score:       &score,
		Feedback:    strings.TrimSpace(raw.Feedback),
		EvaluatedAt: &at,
	}
	if raw.TechnicalAccuracy != nil {
		accuracy := clampScore(*raw.TechnicalAccuracy)
		eval.TechnicalAccuracy = &accuracy
	}
	return eval, nil
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > maxAnswerScore:
		return maxAnswerScore
	}
	return v
}

func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
	}
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start != -1 && end != -1 && end > start {
		content = content[start : end+1]
	}

	return strings.TrimSpace(content)
}
