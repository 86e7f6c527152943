package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"quizpipe/internal/domain"
	"quizpipe/internal/infra/metrics"
)

// RabbitGenerationQueue реализует очередь задач генерации поверх AMQP.
// Задача подтверждается только после обработки, поэтому при падении воркера брокер доставит её повторно.
type RabbitGenerationQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

var _ domain.GenerationQueue = (*RabbitGenerationQueue)(nil)

// NewRabbitGenerationQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitGenerationQueue(amqpURL, queue string, prefetch int) (*RabbitGenerationQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp qos: %w", err)
	}
	return &RabbitGenerationQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Enqueue публикует задачу как persistent-сообщение.
func (q *RabbitGenerationQueue) Enqueue(ctx context.Context, task domain.GenerationTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	start := time.Now()
	q.mu.Lock()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    task.ID,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	q.mu.Unlock()
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	return nil
}

// Receive ждёт следующую задачу. ack(false) возвращает сообщение брокеру для повторной доставки.
// Сообщение с некорректным телом отклоняется без повтора.
func (q *RabbitGenerationQueue) Receive(ctx context.Context) (domain.GenerationTask, domain.AckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.GenerationTask{}, nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return domain.GenerationTask{}, nil, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return domain.GenerationTask{}, nil, errors.New("rabbitmq: канал доставки закрыт")
			}
			var task domain.GenerationTask
			if err := json.Unmarshal(d.Body, &task); err != nil {
				_ = d.Nack(false, false)
				return domain.GenerationTask{}, nil, fmt.Errorf("decode task: %w", err)
			}
			ack := func(success bool) error {
				if success {
					return d.Ack(false)
				}
				return d.Nack(false, true)
			}
			return task, ack, nil
		}
	}
}

func (q *RabbitGenerationQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", q.queue, err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Close закрывает канал и соединение.
func (q *RabbitGenerationQueue) Close() error {
	if err := q.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return q.conn.Close()
}
