package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quizpipe/internal/domain"
	"quizpipe/internal/infra/metrics"
)

// RedisGenerationQueue реализует очередь задач генерации на базе Redis lists.
// Доставка не подтверждается брокером: задача, прочитанная упавшим воркером, теряется.
type RedisGenerationQueue struct {
	client *redis.Client
	key    string
}

var _ domain.GenerationQueue = (*RedisGenerationQueue)(nil)

// NewRedisGenerationQueue создаёт очередь по указанному ключу.
func NewRedisGenerationQueue(client *redis.Client, key string) *RedisGenerationQueue {
	return &RedisGenerationQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisGenerationQueue) Enqueue(ctx context.Context, task domain.GenerationTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "queue_push", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push task: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу. ack(false) возвращает её в хвост очереди.
func (q *RedisGenerationQueue) Receive(ctx context.Context) (domain.GenerationTask, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.GenerationTask{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.GenerationTask{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.GenerationTask{}, nil, err
		}
		if len(res) != 2 {
			return domain.GenerationTask{}, nil, errors.New("redis queue: unexpected response")
		}
		var task domain.GenerationTask
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			return domain.GenerationTask{}, nil, fmt.Errorf("decode task: %w", err)
		}
		payload := res[1]
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.client.LPush(context.Background(), q.key, payload).Err()
		}
		return task, ack, nil
	}
}
