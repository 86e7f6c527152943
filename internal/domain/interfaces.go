package domain

import (
	"context"
	"errors"
	"time"
)

// SlotRepo управляет сеткой еженедельных слотов.
type SlotRepo interface {
	ListSlots(ctx context.Context) ([]RecurringSlot, error)
	ListActiveSlots(ctx context.Context) ([]RecurringSlot, error)
	// UpsertSlot создаёт слот или обновляет флаг активности для пары (день, время).
	UpsertSlot(ctx context.Context, slot RecurringSlot) (RecurringSlot, error)
	DeleteSlot(ctx context.Context, id int64) error
}

// PublishJobRepo хранит задачи публикации.
type PublishJobRepo interface {
	// CreateJobAtFreeSlot атомарно бронирует время и создаёт задачу в статусе PENDING.
	// Если на это время уже есть живая задача, возвращает ErrSlotTaken.
	CreateJobAtFreeSlot(ctx context.Context, quizID int64, scheduledAt time.Time) (PublishJob, error)
	// ListBookedTimes возвращает занятые моменты в полуинтервале [from, to).
	ListBookedTimes(ctx context.Context, from, to time.Time) ([]time.Time, error)
	GetJob(ctx context.Context, id int64) (PublishJob, error)
	ListJobs(ctx context.Context, status JobStatus, limit int) ([]PublishJob, error)
	// ClaimDueJobs атомарно переводит до limit задач PENDING со scheduled_at <= now в PROCESSING,
	// старые первыми.
	ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]PublishJob, error)
	MarkJobPublished(ctx context.Context, id int64, remotePostID string, publishedAt time.Time) error
	// MarkJobFailed фиксирует ошибку, увеличивает retry_count и выставляет last_retry_at.
	MarkJobFailed(ctx context.Context, id int64, message string, at time.Time) error
	// RearmJob переводит FAILED в PENDING, если retry_count не изменился с момента чтения.
	RearmJob(ctx context.Context, id int64, expectedRetryCount int, at time.Time) (PublishJob, error)
	// CancelJob переводит PENDING в CANCELLED; для прочих статусов возвращает ErrInvalidState.
	CancelJob(ctx context.Context, id int64) (PublishJob, error)
}

// BatchRepo хранит пакеты генерации. Все изменения условные и атомарные.
type BatchRepo interface {
	CreateBatch(ctx context.Context, requestedCount int, stage string) (Batch, error)
	GetBatch(ctx context.Context, id int64) (Batch, error)
	// IncrementCompleted увеличивает completed_count на единицу для пакета RUNNING,
	// не превышая requested_count, и возвращает актуальное состояние.
	IncrementCompleted(ctx context.Context, id int64) (Batch, error)
	// CompleteBatch переводит RUNNING в COMPLETE и отмечает черновики пакета готовыми.
	// Флаг changed равен false, если переход уже был выполнен кем-то другим.
	CompleteBatch(ctx context.Context, id int64, at time.Time) (batch Batch, changed bool, err error)
	// FailBatch переводит RUNNING в FAILED, только пока не готово ни одного элемента.
	FailBatch(ctx context.Context, id int64, reason string) (batch Batch, changed bool, err error)
	SetBatchStage(ctx context.Context, id int64, stage string) error
}

// QuizRepo хранит сгенерированные квизы.
type QuizRepo interface {
	CreateQuiz(ctx context.Context, quiz Quiz) (Quiz, error)
	GetQuiz(ctx context.Context, id int64) (Quiz, error)
	ListBatchQuizzes(ctx context.Context, batchID int64) ([]Quiz, error)
	SetQuizStatus(ctx context.Context, id int64, status QuizStatus, errorMessage *string) error
}

// QuizGenerator: внешний сервис генерации контента квиза.
type QuizGenerator interface {
	Generate(ctx context.Context, spec QuizSpec) (GeneratedQuiz, error)
}

// ImageRenderer превращает квиз в изображение и возвращает ссылку на него.
type ImageRenderer interface {
	Render(ctx context.Context, quiz Quiz) (string, error)
}

// Publisher: внешний API публикации (соцсеть).
type Publisher interface {
	// Publish публикует изображение с подписью и возвращает идентификатор поста.
	// Ошибки оборачивают ErrPublishRejected или ErrPublishTransient.
	Publish(ctx context.Context, req PublishRequest) (string, error)
}

// ErrCacheMiss возвращается кэшем при отсутствии ключа.
var ErrCacheMiss = errors.New("cache miss")

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
}

// Locker выдаёт межпроцессные блокировки с ограниченным сроком жизни.
type Locker interface {
	// TryLock захватывает блокировку или возвращает ErrLockHeld.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
