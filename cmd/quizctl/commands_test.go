package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quizpipe/internal/adapters/repo"
	"quizpipe/internal/domain"
	"quizpipe/internal/usecase/publish"
	"quizpipe/internal/usecase/slots"
)

type okPublisher struct{}

func (okPublisher) Publish(context.Context, domain.PublishRequest) (string, error) {
	return "post-1", nil
}

func memoryOpener(store *repo.Memory) opener {
	return func(_ context.Context, withPublisher bool) (*services, func(), error) {
		deps := publish.Deps{Jobs: store, Quizzes: store, Events: store}
		if withPublisher {
			deps.Publisher = okPublisher{}
		}
		return &services{
			slots:  slots.NewService(store, store, store, zerolog.Nop(), 14),
			worker: publish.NewWorker(deps, publish.Config{RatePerSecond: 0}, zerolog.Nop()),
		}, func() {}, nil
	}
}

func run(t *testing.T, store *repo.Memory, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out, memoryOpener(store))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseSlotFile(t *testing.T) {
	grid, err := parseSlotFile([]byte(`
slots:
  - day: monday
    time: "09:30"
  - day: 0
    time: "18:00"
    active: false
`))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(grid) != 2 || grid[0].DayOfWeek != 1 || !grid[0].IsActive || grid[1].DayOfWeek != 0 || grid[1].IsActive {
		t.Fatalf("неожиданная сетка: %+v", grid)
	}
	if _, err := parseSlotFile([]byte("slots:\n  - day: funday\n    time: \"10:00\"\n")); !errors.Is(err, domain.ErrInvalidSlot) {
		t.Fatalf("ожидали ErrInvalidSlot, получили %v", err)
	}
	if _, err := parseSlotFile([]byte("slots:\n  - day: 1\n    time: \"25:00\"\n")); !errors.Is(err, domain.ErrInvalidSlot) {
		t.Fatalf("ожидали ErrInvalidSlot для времени, получили %v", err)
	}
}

func TestSlotsImportAndList(t *testing.T) {
	store := repo.NewMemory()
	path := filepath.Join(t.TempDir(), "slots.yaml")
	if err := os.WriteFile(path, []byte("slots:\n  - day: tue\n    time: \"10:00\"\n  - day: fri\n    time: \"12:15\"\n"), 0o600); err != nil {
		t.Fatalf("не удалось записать файл: %v", err)
	}
	out, err := run(t, store, "slots", "import", path)
	if err != nil || !strings.Contains(out, "сохранено слотов: 2") {
		t.Fatalf("импорт не удался: %q, %v", out, err)
	}
	out, err = run(t, store, "slots", "list")
	if err != nil || !strings.Contains(out, "Tuesday") || !strings.Contains(out, "12:15") {
		t.Fatalf("список не содержит слотов: %q, %v", out, err)
	}
}

func TestJobsRetryAndTick(t *testing.T) {
	store := repo.NewMemory()
	quiz, _ := store.CreateQuiz(context.Background(), domain.Quiz{Content: "2+2?", ImageURL: "https://cdn/q.png", Caption: "2+2?"})
	failed := store.PutJob(domain.PublishJob{QuizID: quiz.ID, ScheduledAt: time.Now().Add(-time.Minute).Truncate(time.Minute), Status: domain.JobStatusFailed, RetryCount: 1})

	out, err := run(t, store, "jobs", "retry", "abc")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ошибку валидации id, получили %q, %v", out, err)
	}
	out, err = run(t, store, "jobs", "retry", itoa(failed.ID))
	if err != nil || !strings.Contains(out, "PENDING") {
		t.Fatalf("повтор не удался: %q, %v", out, err)
	}
	out, err = run(t, store, "tick", "--batch-size", "5")
	if err != nil || !strings.Contains(out, "опубликовано 1") {
		t.Fatalf("проход не опубликовал задачу: %q, %v", out, err)
	}
	job, _ := store.GetJob(context.Background(), failed.ID)
	if job.Status != domain.JobStatusPublished {
		t.Fatalf("ожидали PUBLISHED, получили %s", job.Status)
	}
	out, err = run(t, store, "jobs", "cancel", itoa(failed.ID))
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("отмена опубликованной задачи должна быть ErrInvalidState: %q, %v", out, err)
	}
	out, err = run(t, store, "jobs", "list", "--status", "published")
	if err != nil || !strings.Contains(out, "PUBLISHED") {
		t.Fatalf("список задач пуст: %q, %v", out, err)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
