package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	BatchID    *int64
	JobID      *int64
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventBatchCreated фиксирует создание пакета генерации.
	BusinessMetricEventBatchCreated = "batch_created"
	// BusinessMetricEventBatchCompleted фиксирует финализацию пакета.
	BusinessMetricEventBatchCompleted = "batch_completed"
	// BusinessMetricEventBatchFailed фиксирует фатальную ошибку пакета.
	BusinessMetricEventBatchFailed = "batch_failed"
	// BusinessMetricEventJobPublished фиксирует успешную публикацию.
	BusinessMetricEventJobPublished = "job_published"
	// BusinessMetricEventJobFailed фиксирует неудачную попытку публикации.
	BusinessMetricEventJobFailed = "job_failed"
	// BusinessMetricEventJobRetried фиксирует ручной повтор задачи.
	BusinessMetricEventJobRetried = "job_retried"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
