package domain

import (
	"context"
	"time"
)

// GenerationTask описывает генерацию одного квиза в рамках пакета.
type GenerationTask struct {
	ID           string    `json:"task_id"`
	BatchID      int64     `json:"batch_id"`
	Index        int       `json:"index"`
	Spec         QuizSpec  `json:"spec"`
	AutoSchedule bool      `json:"auto_schedule"`
	RequestedAt  time.Time `json:"requested_at"`
}

// GenerationQueue описывает очередь задач генерации.
type GenerationQueue interface {
	Enqueue(ctx context.Context, task GenerationTask) error
	Receive(ctx context.Context) (GenerationTask, AckFunc, error)
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type AckFunc func(success bool) error
