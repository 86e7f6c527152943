package generator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"quizpipe/internal/domain"
)

// Simple генерирует квизы без внешних сервисов. Нужен для dev-окружения.
type Simple struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimple создаёт генератор с фиксированным зерном.
func NewSimple(seed uint64) *Simple {
	return &Simple{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Generate строит арифметический вопрос, сложность которого зависит от spec.Difficulty.
func (s *Simple) Generate(_ context.Context, spec domain.QuizSpec) (domain.GeneratedQuiz, error) {
	limit := 10
	switch strings.ToLower(spec.Difficulty) {
	case "medium":
		limit = 100
	case "hard":
		limit = 1000
	}
	s.mu.Lock()
	a := s.rng.IntN(limit) + 1
	b := s.rng.IntN(limit) + 1
	s.mu.Unlock()
	question := fmt.Sprintf("Сколько будет %d + %d?", a, b)
	if strings.ToLower(spec.Language) == "en" {
		question = fmt.Sprintf("What is %d + %d?", a, b)
	}
	return domain.GeneratedQuiz{Content: question, Answer: fmt.Sprint(a + b)}, nil
}
