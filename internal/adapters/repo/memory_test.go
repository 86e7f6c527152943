package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quizpipe/internal/domain"
)

var base = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func TestCreateJobAtFreeSlotConflicts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	q1, _ := m.CreateQuiz(ctx, domain.Quiz{Content: "a"})
	q2, _ := m.CreateQuiz(ctx, domain.Quiz{Content: "b"})

	job, err := m.CreateJobAtFreeSlot(ctx, q1.ID, base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !job.ScheduledAt.Equal(base) || job.Status != domain.JobStatusPending {
		t.Fatalf("ожидали PENDING на %s, получили %+v", base, job)
	}
	if _, err := m.CreateJobAtFreeSlot(ctx, q2.ID, base); !errors.Is(err, domain.ErrSlotTaken) {
		t.Fatalf("ожидали ErrSlotTaken, получили %v", err)
	}
	if _, err := m.CreateJobAtFreeSlot(ctx, q1.ID, base.Add(time.Hour)); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("второй живой задачи для квиза быть не должно, получили %v", err)
	}
	if _, err := m.CreateJobAtFreeSlot(ctx, 999, base.Add(2*time.Hour)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound для неизвестного квиза, получили %v", err)
	}

	if _, err := m.CancelJob(ctx, job.ID); err != nil {
		t.Fatalf("не ожидали ошибку отмены: %v", err)
	}
	if _, err := m.CreateJobAtFreeSlot(ctx, q2.ID, base); err != nil {
		t.Fatalf("отменённая задача должна освободить слот: %v", err)
	}
}

func TestCreateJobAtFreeSlotQuizConflictWins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	target, _ := m.CreateQuiz(ctx, domain.Quiz{Content: "target"})
	if _, err := m.CreateJobAtFreeSlot(ctx, target.ID, base.Add(24*time.Hour)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for i := 0; i < 10; i++ {
		q, _ := m.CreateQuiz(ctx, domain.Quiz{Content: "other"})
		if _, err := m.CreateJobAtFreeSlot(ctx, q.ID, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}

	for i := 0; i < 20; i++ {
		_, err := m.CreateJobAtFreeSlot(ctx, target.ID, base)
		if !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("попытка %d: конфликт квиза должен быть важнее занятого времени, получили %v", i, err)
		}
	}
}

func TestClaimDueJobsConcurrentNoDuplicates(t *testing.T) {
	m := NewMemory()
	for i := 0; i < 20; i++ {
		m.PutJob(domain.PublishJob{QuizID: int64(i + 1), ScheduledAt: base.Add(time.Duration(i) * time.Minute), Status: domain.JobStatusPending})
	}
	var (
		mu      sync.Mutex
		claimed = map[int64]int{}
		wg      sync.WaitGroup
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs, err := m.ClaimDueJobs(context.Background(), base.Add(time.Hour), 4)
			if err != nil {
				t.Errorf("не ожидали ошибку: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, j := range jobs {
				claimed[j.ID]++
			}
		}()
	}
	wg.Wait()
	if len(claimed) != 20 {
		t.Fatalf("ожидали захват всех 20 задач, получили %d", len(claimed))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Fatalf("задача %d захвачена %d раз", id, n)
		}
	}
}

func TestCompleteBatchMarksDraftsReady(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	b, _ := m.CreateBatch(ctx, 2, domain.StageQueued)
	draft, _ := m.CreateQuiz(ctx, domain.Quiz{BatchID: &b.ID, Status: domain.QuizStatusDraft})
	failed, _ := m.CreateQuiz(ctx, domain.Quiz{BatchID: &b.ID, Status: domain.QuizStatusFailed})

	got, changed, err := m.CompleteBatch(ctx, b.ID, base)
	if err != nil || !changed || got.Status != domain.BatchStatusComplete {
		t.Fatalf("ожидали переход в COMPLETE, получили %+v, %t, %v", got, changed, err)
	}
	if _, changed, _ := m.CompleteBatch(ctx, b.ID, base.Add(time.Hour)); changed {
		t.Fatalf("повторная финализация не должна менять пакет")
	}
	if q, _ := m.GetQuiz(ctx, draft.ID); q.Status != domain.QuizStatusReady {
		t.Fatalf("черновик должен стать READY, получили %s", q.Status)
	}
	if q, _ := m.GetQuiz(ctx, failed.ID); q.Status != domain.QuizStatusFailed {
		t.Fatalf("упавший квиз не должен меняться, получили %s", q.Status)
	}
	if _, changed, _ := m.FailBatch(ctx, b.ID, "поздно"); changed {
		t.Fatalf("завершённый пакет нельзя перевести в FAILED")
	}
}

func TestRearmJobCompareAndSwap(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	job := m.PutJob(domain.PublishJob{QuizID: 1, ScheduledAt: base, Status: domain.JobStatusFailed, RetryCount: 1})
	if _, err := m.RearmJob(ctx, job.ID, 0, base); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("устаревший retry_count должен давать ErrInvalidState, получили %v", err)
	}
	rearmed, err := m.RearmJob(ctx, job.ID, 1, base)
	if err != nil || rearmed.Status != domain.JobStatusPending || rearmed.RetryCount != 2 || rearmed.ErrorMessage != nil {
		t.Fatalf("неожиданный результат: %+v, %v", rearmed, err)
	}
	if !rearmed.ScheduledAt.Equal(base) {
		t.Fatalf("время публикации не должно меняться при повторе")
	}
}
