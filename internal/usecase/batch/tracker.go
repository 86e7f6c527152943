package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quizpipe/internal/domain"
	"quizpipe/internal/infra/metrics"
	"quizpipe/internal/infra/retry"
)

const statusCacheTTL = 30 * time.Second

// Tracker ведёт учёт пакетов генерации: прогресс, финализацию и ошибки.
type Tracker struct {
	batches domain.BatchRepo
	events  domain.BusinessMetricRepo
	cache   domain.Cache
	log     zerolog.Logger
	now     func() time.Time
}

// NewTracker создаёт трекер. events и cache могут быть nil.
func NewTracker(batches domain.BatchRepo, events domain.BusinessMetricRepo, cache domain.Cache, logger zerolog.Logger) *Tracker {
	return &Tracker{batches: batches, events: events, cache: cache, log: logger, now: time.Now}
}

// Create регистрирует новый пакет на requestedCount элементов.
func (t *Tracker) Create(ctx context.Context, requestedCount int) (domain.Batch, error) {
	if requestedCount < 1 {
		return domain.Batch{}, fmt.Errorf("%w: размер пакета должен быть не меньше 1", domain.ErrValidation)
	}
	batch, err := retry.Value(ctx, "batches_create", func(ctx context.Context) (domain.Batch, error) {
		return t.batches.CreateBatch(ctx, requestedCount, domain.StageQueued)
	})
	if err != nil {
		return domain.Batch{}, fmt.Errorf("создание пакета: %w", err)
	}
	metrics.BatchTransitions.WithLabelValues(string(domain.BatchStatusRunning)).Inc()
	t.record(ctx, domain.BusinessMetricEventBatchCreated, batch.ID, map[string]any{"requested": requestedCount})
	t.log.Info().Int64("batch", batch.ID).Int("requested", requestedCount).Msg("batch: пакет создан")
	return batch, nil
}

// RecordItemComplete атомарно увеличивает счётчик готовых элементов.
// Для завершённого пакета счётчик не меняется. Вызывающий проверяет Batch.Eligible().
func (t *Tracker) RecordItemComplete(ctx context.Context, batchID int64) (domain.Batch, error) {
	batch, err := retry.Value(ctx, "batches_increment", func(ctx context.Context) (domain.Batch, error) {
		return t.batches.IncrementCompleted(ctx, batchID)
	})
	if err != nil {
		return domain.Batch{}, fmt.Errorf("прогресс пакета %d: %w", batchID, err)
	}
	t.invalidate(ctx, batchID)
	return batch, nil
}

// Finalize переводит пакет в COMPLETE. Повторный вызов для завершённого пакета ничего не меняет,
// для FAILED возвращает domain.ErrInvalidState.
func (t *Tracker) Finalize(ctx context.Context, batchID int64) (domain.Batch, error) {
	batch, changed, err := retryComplete(ctx, func(ctx context.Context) (domain.Batch, bool, error) {
		return t.batches.CompleteBatch(ctx, batchID, t.now().UTC())
	})
	if err != nil {
		return domain.Batch{}, fmt.Errorf("финализация пакета %d: %w", batchID, err)
	}
	if batch.Status == domain.BatchStatusFailed {
		return batch, fmt.Errorf("пакет %d уже завершился ошибкой: %w", batchID, domain.ErrInvalidState)
	}
	if !changed {
		return batch, nil
	}
	t.invalidate(ctx, batchID)
	metrics.BatchTransitions.WithLabelValues(string(domain.BatchStatusComplete)).Inc()
	t.record(ctx, domain.BusinessMetricEventBatchCompleted, batchID, map[string]any{
		"requested": batch.RequestedCount,
		"completed": batch.CompletedCount,
	})
	t.log.Info().Int64("batch", batchID).Int("completed", batch.CompletedCount).Int("requested", batch.RequestedCount).Msg("batch: пакет завершён")
	return batch, nil
}

// Fail фиксирует фатальную ошибку пакета. Пакет переходит в FAILED, только если ещё
// не готово ни одного элемента; иначе ошибка лишь логируется и пакет продолжает работу.
func (t *Tracker) Fail(ctx context.Context, batchID int64, reason string) (domain.Batch, error) {
	batch, changed, err := retryComplete(ctx, func(ctx context.Context) (domain.Batch, bool, error) {
		return t.batches.FailBatch(ctx, batchID, reason)
	})
	if err != nil {
		return domain.Batch{}, fmt.Errorf("ошибка пакета %d: %w", batchID, err)
	}
	if !changed {
		t.log.Warn().Int64("batch", batchID).Str("status", string(batch.Status)).Int("completed", batch.CompletedCount).Str("reason", reason).Msg("batch: ошибка не переводит пакет в FAILED")
		return batch, nil
	}
	t.invalidate(ctx, batchID)
	metrics.BatchTransitions.WithLabelValues(string(domain.BatchStatusFailed)).Inc()
	t.record(ctx, domain.BusinessMetricEventBatchFailed, batchID, map[string]any{"reason": reason})
	t.log.Error().Int64("batch", batchID).Str("reason", reason).Msg("batch: пакет завершился ошибкой")
	return batch, nil
}

// SetStage обновляет подпись текущего этапа работающего пакета.
func (t *Tracker) SetStage(ctx context.Context, batchID int64, stage string) error {
	if err := retry.Do(ctx, "batches_set_stage", func(ctx context.Context) error {
		return t.batches.SetBatchStage(ctx, batchID, stage)
	}); err != nil {
		return fmt.Errorf("этап пакета %d: %w", batchID, err)
	}
	t.invalidate(ctx, batchID)
	return nil
}

// GetStatus возвращает состояние пакета для опроса из интерфейса.
// В кэш попадают только завершённые пакеты: их состояние больше не меняется,
// а работающий пакет всегда читается из хранилища.
func (t *Tracker) GetStatus(ctx context.Context, batchID int64) (domain.BatchStatusView, error) {
	key := statusKey(batchID)
	if t.cache != nil {
		raw, err := t.cache.Get(ctx, key)
		if err == nil {
			var view domain.BatchStatusView
			if jsonErr := json.Unmarshal(raw, &view); jsonErr == nil && view.Status != domain.BatchStatusRunning {
				return view, nil
			}
		} else if !errors.Is(err, domain.ErrCacheMiss) {
			t.log.Debug().Err(err).Int64("batch", batchID).Msg("batch: кэш статуса недоступен")
		}
	}

	batch, err := retry.Value(ctx, "batches_get", func(ctx context.Context) (domain.Batch, error) {
		return t.batches.GetBatch(ctx, batchID)
	})
	if err != nil {
		return domain.BatchStatusView{}, err
	}
	view := batch.View()
	if t.cache != nil && batch.Terminal() {
		if raw, err := json.Marshal(view); err == nil {
			if err := t.cache.Set(ctx, key, raw, statusCacheTTL); err != nil {
				t.log.Debug().Err(err).Int64("batch", batchID).Msg("batch: не удалось сохранить статус в кэш")
			}
		}
	}
	return view, nil
}

func (t *Tracker) invalidate(ctx context.Context, batchID int64) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Delete(ctx, statusKey(batchID)); err != nil {
		t.log.Warn().Err(err).Int64("batch", batchID).Msg("batch: не удалось сбросить кэш статуса")
	}
}

func (t *Tracker) record(ctx context.Context, event string, batchID int64, meta map[string]any) {
	if t.events == nil {
		return
	}
	id := batchID
	if err := t.events.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:      event,
		BatchID:    &id,
		Metadata:   meta,
		OccurredAt: t.now().UTC(),
	}); err != nil {
		t.log.Warn().Err(err).Str("event", event).Msg("batch: не удалось записать бизнес-событие")
	}
}

func statusKey(batchID int64) string {
	return fmt.Sprintf("batch:status:%d", batchID)
}

type transition struct {
	batch   domain.Batch
	changed bool
}

func retryComplete(ctx context.Context, fn func(ctx context.Context) (domain.Batch, bool, error)) (domain.Batch, bool, error) {
	res, err := retry.Value(ctx, "batches_transition", func(ctx context.Context) (transition, error) {
		b, changed, err := fn(ctx)
		return transition{batch: b, changed: changed}, err
	})
	return res.batch, res.changed, err
}
