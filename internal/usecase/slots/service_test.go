package slots

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

func newTestService(t *testing.T, grid ...domain.RecurringSlot) (*Service, *repo.Memory) {
	t.Helper()
	store := repo.NewMemory()
	ctx := context.Background()
	for _, s := range grid {
		if _, err := store.UpsertSlot(ctx, s); err != nil {
			t.Fatalf("не удалось сохранить слот: %v", err)
		}
	}
	svc := NewService(store, store, store, zerolog.Nop(), 30)
	svc.now = func() time.Time { return monday.Add(8 * time.Hour) }
	return svc, store
}

func newQuiz(t *testing.T, store *repo.Memory) domain.Quiz {
	t.Helper()
	quiz, err := store.CreateQuiz(context.Background(), domain.Quiz{Content: "2+2?", Answer: "4"})
	if err != nil {
		t.Fatalf("не удалось создать квиз: %v", err)
	}
	return quiz
}

func TestBookNextCreatesPendingJob(t *testing.T) {
	svc, store := newTestService(t, slot(1, "09:00"), slot(1, "18:00"))
	quiz := newQuiz(t, store)

	job, err := svc.BookNext(context.Background(), quiz.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if job.Status != domain.JobStatusPending {
		t.Fatalf("ожидали PENDING, получили %s", job.Status)
	}
	if !job.ScheduledAt.Equal(monday.Add(9 * time.Hour)) {
		t.Fatalf("неожиданное время: %v", job.ScheduledAt)
	}
	stored, _ := store.GetQuiz(context.Background(), quiz.ID)
	if stored.Status != domain.QuizStatusScheduled {
		t.Fatalf("ожидали квиз в статусе SCHEDULED, получили %s", stored.Status)
	}

	second := newQuiz(t, store)
	job2, err := svc.BookNext(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !job2.ScheduledAt.Equal(monday.Add(18 * time.Hour)) {
		t.Fatalf("ожидали второй слот дня, получили %v", job2.ScheduledAt)
	}
}

// racingJobs занимает выбранный слот другим квизом прямо перед записью.
type racingJobs struct {
	*repo.Memory
	rivalQuizID int64
	raced       bool
}

func (r *racingJobs) CreateJobAtFreeSlot(ctx context.Context, quizID int64, at time.Time) (domain.PublishJob, error) {
	if !r.raced {
		r.raced = true
		if _, err := r.Memory.CreateJobAtFreeSlot(ctx, r.rivalQuizID, at); err != nil {
			return domain.PublishJob{}, err
		}
	}
	return r.Memory.CreateJobAtFreeSlot(ctx, quizID, at)
}

func TestBookNextRetriesAfterConflict(t *testing.T) {
	store := repo.NewMemory()
	ctx := context.Background()
	for _, s := range []domain.RecurringSlot{slot(1, "09:00"), slot(1, "12:00")} {
		if _, err := store.UpsertSlot(ctx, s); err != nil {
			t.Fatalf("не удалось сохранить слот: %v", err)
		}
	}
	rival := newQuiz(t, store)
	quiz := newQuiz(t, store)
	jobs := &racingJobs{Memory: store, rivalQuizID: rival.ID}
	svc := NewService(store, jobs, store, zerolog.Nop(), 30)
	svc.now = func() time.Time { return monday.Add(8 * time.Hour) }

	job, err := svc.BookNext(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !job.ScheduledAt.Equal(monday.Add(12 * time.Hour)) {
		t.Fatalf("ожидали переход на 12:00 после конфликта, получили %v", job.ScheduledAt)
	}
}

func TestBookNextConcurrentCallersGetDistinctSlots(t *testing.T) {
	svc, store := newTestService(t, slot(1, "09:00"), slot(2, "09:00"), slot(3, "09:00"))
	const callers = 5
	quizzes := make([]domain.Quiz, callers)
	for i := range quizzes {
		quizzes[i] = newQuiz(t, store)
	}

	var wg sync.WaitGroup
	results := make(chan time.Time, callers)
	for _, q := range quizzes {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			job, err := svc.BookNext(context.Background(), id)
			if err != nil {
				t.Errorf("не ожидали ошибку: %v", err)
				return
			}
			results <- job.ScheduledAt
		}(q.ID)
	}
	wg.Wait()
	close(results)

	seen := make(map[time.Time]bool)
	for ts := range results {
		if seen[ts] {
			t.Fatalf("слот %v выдан дважды", ts)
		}
		seen[ts] = true
	}
	if len(seen) != callers {
		t.Fatalf("ожидали %d броней, получили %d", callers, len(seen))
	}
}

func TestBookNextNoSlots(t *testing.T) {
	svc, store := newTestService(t)
	quiz := newQuiz(t, store)
	if _, err := svc.BookNext(context.Background(), quiz.ID); !errors.Is(err, domain.ErrNoSlotAvailable) {
		t.Fatalf("ожидали ErrNoSlotAvailable, получили %v", err)
	}
}

func TestBookAtRejectsPastAndTaken(t *testing.T) {
	svc, store := newTestService(t)
	quiz := newQuiz(t, store)
	ctx := context.Background()

	if _, err := svc.BookAt(ctx, quiz.ID, monday.Add(7*time.Hour)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ErrValidation для прошедшего времени, получили %v", err)
	}
	at := monday.Add(15*time.Hour + 20*time.Second)
	job, err := svc.BookAt(ctx, quiz.ID, at)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !job.ScheduledAt.Equal(monday.Add(15 * time.Hour)) {
		t.Fatalf("ожидали округление до минуты, получили %v", job.ScheduledAt)
	}
	other := newQuiz(t, store)
	if _, err := svc.BookAt(ctx, other.ID, at); !errors.Is(err, domain.ErrSlotTaken) {
		t.Fatalf("ожидали ErrSlotTaken, получили %v", err)
	}
}

func TestFreeTimesExcludesBookings(t *testing.T) {
	svc, store := newTestService(t)
	quiz := newQuiz(t, store)
	ctx := context.Background()
	if _, err := svc.BookAt(ctx, quiz.ID, monday.Add(13*time.Hour)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	free, err := svc.FreeTimes(ctx, monday.Add(20*time.Hour))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(free) != 12 {
		t.Fatalf("ожидали 12 свободных часов, получили %d", len(free))
	}
}

func TestImportSlotsValidatesEverything(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	bad := []domain.RecurringSlot{slot(1, "09:00"), {DayOfWeek: 9, TimeOfDay: domain.TimeOfDay{Hour: 9}, IsActive: true}}
	if _, err := svc.ImportSlots(ctx, bad); !errors.Is(err, domain.ErrInvalidSlot) {
		t.Fatalf("ожидали ErrInvalidSlot, получили %v", err)
	}
	all, _ := svc.ListSlots(ctx)
	if len(all) != 0 {
		t.Fatalf("при ошибке валидации ничего не должно сохраняться, сохранено %d", len(all))
	}

	saved, err := svc.ImportSlots(ctx, []domain.RecurringSlot{slot(1, "09:00"), slot(1, "09:00"), slot(5, "19:30")})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if saved[0].ID != saved[1].ID {
		t.Fatalf("повтор пары (день, время) должен обновлять существующий слот")
	}
	all, _ = svc.ListSlots(ctx)
	if len(all) != 2 {
		t.Fatalf("ожидали 2 слота, получили %d", len(all))
	}
}
