package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quizpipe/internal/domain"
	openai "quizpipe/internal/infra/openai"
)

type chatClient interface {
	CompleteJSON(ctx context.Context, prompt openai.Prompt, out any) error
}

// OpenAI генерирует квизы через OpenAI Chat Completions.
type OpenAI struct {
	client  chatClient
	model   string
	timeout time.Duration
}

// NewOpenAI создаёт генератор.
func NewOpenAI(client chatClient, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout}
}

type quizPayload struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

var languageNames = map[string]string{
	"ru": "русском",
	"en": "английском",
	"de": "немецком",
	"es": "испанском",
}

// Generate запрашивает у модели вопрос и ответ для квиза.
// Недоступность API возвращается как domain.ErrGeneratorUnavailable.
func (g *OpenAI) Generate(ctx context.Context, spec domain.QuizSpec) (domain.GeneratedQuiz, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	language, ok := languageNames[strings.ToLower(spec.Language)]
	if !ok {
		language = "русском"
	}
	userPrompt := fmt.Sprintf(`Придумай один квиз для соцсетей на %s языке.
Шаблон: %s. Сложность: %s. Тема: %s.
Вопрос должен помещаться на картинку: не длиннее 200 символов, без ответа в тексте вопроса.
Верни JSON формата {"question": "...", "answer": "..."} без пояснений.`,
		language, spec.TemplateType, orDefault(spec.Difficulty, "medium"), orDefault(spec.Theme, "общие знания"))

	var parsed quizPayload
	err := g.client.CompleteJSON(ctx, openai.Prompt{
		Model:       g.model,
		System:      "Ты автор коротких викторин. Ответ должен быть однозначным и проверяемым.",
		User:        userPrompt,
		Temperature: 0.8,
		MaxTokens:   300,
	}, &parsed)
	if err != nil {
		if openai.Unreachable(err) {
			return domain.GeneratedQuiz{}, fmt.Errorf("%w: %v", domain.ErrGeneratorUnavailable, err)
		}
		return domain.GeneratedQuiz{}, fmt.Errorf("генерация квиза: %w", err)
	}
	question := strings.TrimSpace(parsed.Question)
	answer := strings.TrimSpace(parsed.Answer)
	if question == "" || answer == "" {
		return domain.GeneratedQuiz{}, fmt.Errorf("ответ LLM без вопроса или ответа")
	}
	return domain.GeneratedQuiz{Content: clipRunes(question, 280), Answer: clipRunes(answer, 120)}, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
