package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quizpipe/internal/adapters/repo"
	"quizpipe/internal/domain"
)

type mapCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{items: make(map[string][]byte)} }

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = append([]byte(nil), value...)
	return nil
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return v, nil
}

func (c *mapCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

var fixedNow = time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)

func newTestTracker() (*Tracker, *repo.Memory, *mapCache) {
	store := repo.NewMemory()
	cache := newMapCache()
	tracker := NewTracker(store, store, cache, zerolog.Nop())
	tracker.now = func() time.Time { return fixedNow }
	return tracker, store, cache
}

func TestCreateValidatesCount(t *testing.T) {
	tracker, _, _ := newTestTracker()
	if _, err := tracker.Create(context.Background(), 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ErrValidation, получили %v", err)
	}
	batch, err := tracker.Create(context.Background(), 3)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if batch.Status != domain.BatchStatusRunning || batch.CompletedCount != 0 || batch.CurrentStage != domain.StageQueued {
		t.Fatalf("неожиданное начальное состояние: %+v", batch)
	}
}

func TestRecordItemCompleteConcurrent(t *testing.T) {
	tracker, _, _ := newTestTracker()
	ctx := context.Background()
	const n = 25
	batch, err := tracker.Create(ctx, n)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tracker.RecordItemComplete(ctx, batch.ID); err != nil {
				t.Errorf("не ожидали ошибку: %v", err)
			}
		}()
	}
	wg.Wait()

	view, err := tracker.GetStatus(ctx, batch.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if view.CompletedCount != n {
		t.Fatalf("ожидали %d готовых элементов, получили %d", n, view.CompletedCount)
	}
	if view.Status != domain.BatchStatusRunning {
		t.Fatalf("пакет не должен завершаться автоматически, статус %s", view.Status)
	}
}

func TestRecordItemCompleteCapsAtRequested(t *testing.T) {
	tracker, _, _ := newTestTracker()
	ctx := context.Background()
	batch, _ := tracker.Create(ctx, 1)
	first, _ := tracker.RecordItemComplete(ctx, batch.ID)
	if !first.Eligible() {
		t.Fatalf("после первого элемента пакет должен быть готов к финализации")
	}
	second, _ := tracker.RecordItemComplete(ctx, batch.ID)
	if second.CompletedCount != 1 {
		t.Fatalf("счётчик не должен превышать requested, получили %d", second.CompletedCount)
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	tracker, store, _ := newTestTracker()
	ctx := context.Background()
	batch, _ := tracker.Create(ctx, 2)
	batchID := batch.ID
	draft, _ := store.CreateQuiz(ctx, domain.Quiz{BatchID: &batchID, Content: "q1"})
	failed, _ := store.CreateQuiz(ctx, domain.Quiz{BatchID: &batchID, Content: "q2", Status: domain.QuizStatusFailed})

	first, err := tracker.Finalize(ctx, batch.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	tracker.now = func() time.Time { return fixedNow.Add(time.Hour) }
	second, err := tracker.Finalize(ctx, batch.ID)
	if err != nil {
		t.Fatalf("повторная финализация не должна падать: %v", err)
	}
	if first.Status != domain.BatchStatusComplete || second.Status != domain.BatchStatusComplete {
		t.Fatalf("ожидали COMPLETE, получили %s и %s", first.Status, second.Status)
	}
	if first.CompletedAt == nil || second.CompletedAt == nil || !first.CompletedAt.Equal(*second.CompletedAt) {
		t.Fatalf("completedAt не должен меняться при повторе: %v vs %v", first.CompletedAt, second.CompletedAt)
	}
	if second.CurrentStage != domain.StageComplete {
		t.Fatalf("ожидали этап complete, получили %q", second.CurrentStage)
	}

	gotDraft, _ := store.GetQuiz(ctx, draft.ID)
	if gotDraft.Status != domain.QuizStatusReady {
		t.Fatalf("черновик должен стать READY, получили %s", gotDraft.Status)
	}
	gotFailed, _ := store.GetQuiz(ctx, failed.ID)
	if gotFailed.Status != domain.QuizStatusFailed {
		t.Fatalf("квиз с ошибкой не должен меняться, получили %s", gotFailed.Status)
	}

	completed := 0
	for _, ev := range store.BusinessMetrics() {
		if ev.Event == domain.BusinessMetricEventBatchCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("ожидали одно событие batch_completed, получили %d", completed)
	}
}

func TestFinalizeConcurrentCallersAgree(t *testing.T) {
	tracker, _, _ := newTestTracker()
	ctx := context.Background()
	batch, _ := tracker.Create(ctx, 1)

	const callers = 8
	results := make([]domain.Batch, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := tracker.Finalize(ctx, batch.ID)
			if err != nil {
				t.Errorf("не ожидали ошибку: %v", err)
			}
			results[i] = b
		}(i)
	}
	wg.Wait()
	for _, b := range results {
		if b.Status != domain.BatchStatusComplete || b.CompletedAt == nil || !b.CompletedAt.Equal(fixedNow) {
			t.Fatalf("все вызовы должны видеть одно и то же состояние: %+v", b)
		}
	}
}

func TestFinalizeFailedBatch(t *testing.T) {
	tracker, _, _ := newTestTracker()
	ctx := context.Background()
	batch, _ := tracker.Create(ctx, 2)
	if _, err := tracker.Fail(ctx, batch.ID, "генератор недоступен"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := tracker.Finalize(ctx, batch.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("ожидали ErrInvalidState, получили %v", err)
	}
}

func TestFailOnlyBeforeFirstItem(t *testing.T) {
	tracker, _, _ := newTestTracker()
	ctx := context.Background()

	partial, _ := tracker.Create(ctx, 3)
	if _, err := tracker.RecordItemComplete(ctx, partial.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got, err := tracker.Fail(ctx, partial.ID, "сбой")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Status != domain.BatchStatusRunning {
		t.Fatalf("частичный сбой не должен валить пакет, статус %s", got.Status)
	}

	empty, _ := tracker.Create(ctx, 3)
	got, err = tracker.Fail(ctx, empty.ID, "сбой")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Status != domain.BatchStatusFailed || got.ErrorMessage == nil || *got.ErrorMessage != "сбой" {
		t.Fatalf("ожидали FAILED с сообщением, получили %+v", got)
	}
	if _, err := tracker.RecordItemComplete(ctx, empty.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	view, _ := tracker.GetStatus(ctx, empty.ID)
	if view.CompletedCount != 0 {
		t.Fatalf("завершённый пакет не должен менять счётчик, получили %d", view.CompletedCount)
	}
}

func TestGetStatusSeesLatestState(t *testing.T) {
	tracker, _, cache := newTestTracker()
	ctx := context.Background()
	batch, _ := tracker.Create(ctx, 2)

	if _, err := tracker.GetStatus(ctx, batch.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, ok := cache.items[statusKey(batch.ID)]; ok {
		t.Fatalf("работающий пакет не должен попадать в кэш")
	}
	if err := tracker.SetStage(ctx, batch.ID, domain.StageGenerating); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := tracker.RecordItemComplete(ctx, batch.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	view, err := tracker.GetStatus(ctx, batch.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if view.CompletedCount != 1 || view.CurrentStage != domain.StageGenerating {
		t.Fatalf("статус устарел: %+v", view)
	}
}

// racingBatches выполняет mutate сразу после чтения пакета, до того как трекер
// успеет записать прочитанное состояние в кэш.
type racingBatches struct {
	domain.BatchRepo
	mutate func()
}

func (r *racingBatches) GetBatch(ctx context.Context, id int64) (domain.Batch, error) {
	batch, err := r.BatchRepo.GetBatch(ctx, id)
	if r.mutate != nil {
		mutate := r.mutate
		r.mutate = nil
		mutate()
	}
	return batch, err
}

func TestGetStatusConcurrentUpdateLeavesNoStaleEntry(t *testing.T) {
	store := repo.NewMemory()
	cache := newMapCache()
	batches := &racingBatches{BatchRepo: store}
	tracker := NewTracker(batches, store, cache, zerolog.Nop())
	tracker.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	batch, _ := tracker.Create(ctx, 3)
	for i := 0; i < 2; i++ {
		if _, err := tracker.RecordItemComplete(ctx, batch.ID); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}

	batches.mutate = func() {
		if _, err := tracker.RecordItemComplete(ctx, batch.ID); err != nil {
			t.Errorf("не ожидали ошибку: %v", err)
		}
	}
	view, err := tracker.GetStatus(ctx, batch.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if view.CompletedCount != 2 {
		t.Fatalf("ожидали прочитанное до обновления состояние, получили %d", view.CompletedCount)
	}
	view, _ = tracker.GetStatus(ctx, batch.ID)
	if view.CompletedCount != 3 {
		t.Fatalf("после обновления статус устарел: %+v", view)
	}

	batches.mutate = func() {
		if _, err := tracker.Finalize(ctx, batch.ID); err != nil {
			t.Errorf("не ожидали ошибку: %v", err)
		}
	}
	view, _ = tracker.GetStatus(ctx, batch.ID)
	if view.Status != domain.BatchStatusRunning {
		t.Fatalf("ожидали состояние до финализации, получили %s", view.Status)
	}
	view, _ = tracker.GetStatus(ctx, batch.ID)
	if view.Status != domain.BatchStatusComplete {
		t.Fatalf("финализация скрыта кэшем: %+v", view)
	}
	if _, ok := cache.items[statusKey(batch.ID)]; !ok {
		t.Fatalf("завершённый пакет должен попасть в кэш")
	}
	cached, _ := tracker.GetStatus(ctx, batch.ID)
	if cached.Status != domain.BatchStatusComplete || cached.CompletedCount != 3 {
		t.Fatalf("неожиданный статус из кэша: %+v", cached)
	}
}

func TestGetStatusNotFound(t *testing.T) {
	tracker, _, _ := newTestTracker()
	if _, err := tracker.GetStatus(context.Background(), 404); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}
