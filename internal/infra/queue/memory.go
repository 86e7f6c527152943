package queue

import (
	"context"

	"quizpipe/internal/domain"
)

// MemoryQueue: очередь задач генерации внутри процесса для dev-окружения и тестов.
type MemoryQueue struct {
	tasks chan domain.GenerationTask
}

var _ domain.GenerationQueue = (*MemoryQueue)(nil)

// NewMemoryQueue создаёт очередь ёмкостью size.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 128
	}
	return &MemoryQueue{tasks: make(chan domain.GenerationTask, size)}
}

// Enqueue кладёт задачу в очередь, ожидая свободного места.
func (q *MemoryQueue) Enqueue(ctx context.Context, task domain.GenerationTask) error {
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive ждёт следующую задачу. ack(false) возвращает задачу в конец очереди.
func (q *MemoryQueue) Receive(ctx context.Context) (domain.GenerationTask, domain.AckFunc, error) {
	select {
	case task := <-q.tasks:
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.Enqueue(context.Background(), task)
		}
		return task, ack, nil
	case <-ctx.Done():
		return domain.GenerationTask{}, nil, ctx.Err()
	}
}

// Len возвращает число задач в очереди.
func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}
