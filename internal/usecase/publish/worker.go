package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"quizpipe/internal/domain"
	"quizpipe/internal/infra/metrics"
	"quizpipe/internal/infra/retry"
)

// TickLockKey задаёт ключ межпроцессной блокировки прохода воркера.
const TickLockKey = "quizpipe:publish:tick"

// Config задаёт параметры воркера публикаций.
type Config struct {
	// Concurrency: сколько задач одного прохода публикуются параллельно.
	Concurrency int
	// PublishTimeout ограничивает один вызов внешнего API.
	PublishTimeout time.Duration
	// RatePerSecond ограничивает частоту обращений к API, 0 отключает ограничение.
	RatePerSecond float64
	Burst         int
	LockTTL       time.Duration
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{
		Concurrency:    4,
		PublishTimeout: 30 * time.Second,
		RatePerSecond:  1,
		Burst:          3,
		LockTTL:        55 * time.Second,
	}
}

// Deps содержит зависимости воркера. Events и Locker необязательны.
type Deps struct {
	Jobs      domain.PublishJobRepo
	Quizzes   domain.QuizRepo
	Publisher domain.Publisher
	Events    domain.BusinessMetricRepo
	Locker    domain.Locker
}

// Outcome описывает итог обработки одной задачи.
type Outcome struct {
	JobID    int64
	Status   domain.JobStatus
	RemoteID string
	Error    string
}

// TickReport описывает результат одного прохода.
type TickReport struct {
	Claimed   int
	Published int
	Failed    int
	// Skipped выставляется, если проход уже выполняет другой процесс.
	Skipped  bool
	Outcomes []Outcome
}

// Worker переводит наступившие задачи PENDING в PUBLISHED или FAILED.
type Worker struct {
	deps    Deps
	cfg     Config
	limiter *rate.Limiter
	log     zerolog.Logger
	now     func() time.Time
}

// NewWorker создаёт воркер.
func NewWorker(deps Deps, cfg Config, logger zerolog.Logger) *Worker {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Worker{
		deps:    deps,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		log:     logger,
		now:     time.Now,
	}
}

// Tick выполняет один проход: захватывает до batchSize наступивших задач, старые первыми,
// и публикует каждую ровно один раз. Отмена ctx учитывается только до захвата задач.
func (w *Worker) Tick(ctx context.Context, batchSize int) (TickReport, error) {
	var report TickReport
	if batchSize <= 0 {
		return report, fmt.Errorf("%w: размер прохода должен быть положительным", domain.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	if w.deps.Locker != nil {
		unlock, err := w.deps.Locker.TryLock(ctx, TickLockKey, w.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			w.log.Debug().Msg("publish: проход уже выполняется другим процессом")
			report.Skipped = true
			return report, nil
		}
		if err != nil {
			return report, fmt.Errorf("блокировка прохода: %w", err)
		}
		defer unlock()
	}

	start := time.Now()
	defer func() { metrics.PublishTickSeconds.Observe(time.Since(start).Seconds()) }()

	now := w.now().UTC()
	claimed, err := retry.Value(ctx, "jobs_claim_due", func(ctx context.Context) ([]domain.PublishJob, error) {
		return w.deps.Jobs.ClaimDueJobs(ctx, now, batchSize)
	})
	if err != nil {
		return report, fmt.Errorf("захват задач: %w", err)
	}
	report.Claimed = len(claimed)
	if len(claimed) == 0 {
		return report, nil
	}
	metrics.PublishJobsClaimed.Add(float64(len(claimed)))

	// захваченные задачи доводятся до конца даже при отмене вызывающего
	workCtx := context.WithoutCancel(ctx)
	outcomes := make([]Outcome, len(claimed))
	g := new(errgroup.Group)
	g.SetLimit(w.cfg.Concurrency)
	for i, job := range claimed {
		g.Go(func() error {
			if err := w.limiter.Wait(workCtx); err != nil {
				w.log.Warn().Err(err).Int64("job", job.ID).Msg("publish: ограничитель частоты")
			}
			outcomes[i] = w.process(workCtx, job)
			return nil
		})
	}
	_ = g.Wait()

	report.Outcomes = outcomes
	for _, o := range outcomes {
		switch o.Status {
		case domain.JobStatusPublished:
			report.Published++
		case domain.JobStatusFailed:
			report.Failed++
		}
	}
	w.log.Info().Int("claimed", report.Claimed).Int("published", report.Published).Int("failed", report.Failed).Dur("took", time.Since(start)).Msg("publish: проход завершён")
	return report, nil
}

func (w *Worker) process(ctx context.Context, job domain.PublishJob) Outcome {
	quiz, err := retry.Value(ctx, "quizzes_get", func(ctx context.Context) (domain.Quiz, error) {
		return w.deps.Quizzes.GetQuiz(ctx, job.QuizID)
	})
	if err != nil {
		return w.fail(ctx, job, fmt.Sprintf("квиз %d недоступен: %v", job.QuizID, err), "missing_quiz")
	}
	if quiz.ImageURL == "" {
		return w.fail(ctx, job, "у квиза нет изображения", "rejected")
	}

	pubCtx, cancel := context.WithTimeout(ctx, w.cfg.PublishTimeout)
	remoteID, err := w.deps.Publisher.Publish(pubCtx, domain.PublishRequest{ImageURL: quiz.ImageURL, Caption: quiz.Caption})
	cancel()
	if err != nil {
		return w.fail(ctx, job, err.Error(), classify(err))
	}

	publishedAt := w.now().UTC()
	if err := retry.Do(ctx, "jobs_mark_published", func(ctx context.Context) error {
		return w.deps.Jobs.MarkJobPublished(ctx, job.ID, remoteID, publishedAt)
	}); err != nil {
		// пост уже вышел, повторять публикацию нельзя
		w.log.Error().Err(err).Int64("job", job.ID).Str("remote_id", remoteID).Msg("publish: пост опубликован, но статус не сохранён")
		metrics.ObservePublish("persist_error")
		return Outcome{JobID: job.ID, Status: domain.JobStatusProcessing, RemoteID: remoteID, Error: err.Error()}
	}
	w.setQuizStatus(ctx, job.QuizID, domain.QuizStatusPublished, nil)
	metrics.ObservePublish("published")
	w.record(ctx, domain.BusinessMetricEventJobPublished, job.ID, map[string]any{"quiz_id": job.QuizID, "remote_id": remoteID})
	w.log.Info().Int64("job", job.ID).Int64("quiz", job.QuizID).Str("remote_id", remoteID).Msg("publish: квиз опубликован")
	return Outcome{JobID: job.ID, Status: domain.JobStatusPublished, RemoteID: remoteID}
}

func (w *Worker) fail(ctx context.Context, job domain.PublishJob, message, outcome string) Outcome {
	at := w.now().UTC()
	if err := retry.Do(ctx, "jobs_mark_failed", func(ctx context.Context) error {
		return w.deps.Jobs.MarkJobFailed(ctx, job.ID, message, at)
	}); err != nil {
		w.log.Error().Err(err).Int64("job", job.ID).Str("reason", message).Msg("publish: не удалось сохранить ошибку задачи")
		metrics.ObservePublish("persist_error")
		return Outcome{JobID: job.ID, Status: domain.JobStatusProcessing, Error: message}
	}
	w.setQuizStatus(ctx, job.QuizID, domain.QuizStatusFailed, &message)
	metrics.ObservePublish(outcome)
	w.record(ctx, domain.BusinessMetricEventJobFailed, job.ID, map[string]any{"quiz_id": job.QuizID, "reason": message, "outcome": outcome})
	w.log.Warn().Int64("job", job.ID).Int64("quiz", job.QuizID).Str("outcome", outcome).Str("reason", message).Msg("publish: публикация не удалась")
	return Outcome{JobID: job.ID, Status: domain.JobStatusFailed, Error: message}
}

// RetryJob вручную возвращает задачу FAILED в очередь. Лимит повторов общий с автоматическими попытками.
func (w *Worker) RetryJob(ctx context.Context, jobID int64) (domain.PublishJob, error) {
	job, err := retry.Value(ctx, "jobs_get", func(ctx context.Context) (domain.PublishJob, error) {
		return w.deps.Jobs.GetJob(ctx, jobID)
	})
	if err != nil {
		return domain.PublishJob{}, err
	}
	// Лимит проверяется раньше статуса: после последнего повтора задача не повторяется ни в каком статусе.
	if job.RetryCount >= domain.MaxRetryAttempts {
		metrics.PublishManualActions.WithLabelValues("retry", "limit").Inc()
		return domain.PublishJob{}, fmt.Errorf("задача %d: %d из %d попыток: %w", jobID, job.RetryCount, domain.MaxRetryAttempts, domain.ErrRetryLimitExceeded)
	}
	if job.Status != domain.JobStatusFailed {
		metrics.PublishManualActions.WithLabelValues("retry", "invalid_state").Inc()
		return domain.PublishJob{}, fmt.Errorf("повтор задачи %d в статусе %s: %w", jobID, job.Status, domain.ErrInvalidState)
	}

	rearmed, err := retry.Value(ctx, "jobs_rearm", func(ctx context.Context) (domain.PublishJob, error) {
		return w.deps.Jobs.RearmJob(ctx, jobID, job.RetryCount, w.now().UTC())
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			metrics.PublishManualActions.WithLabelValues("retry", "conflict").Inc()
			return domain.PublishJob{}, fmt.Errorf("задача %d изменилась параллельно: %w", jobID, err)
		}
		return domain.PublishJob{}, err
	}
	w.setQuizStatus(ctx, rearmed.QuizID, domain.QuizStatusScheduled, nil)
	metrics.PublishManualActions.WithLabelValues("retry", "ok").Inc()
	w.record(ctx, domain.BusinessMetricEventJobRetried, jobID, map[string]any{"retry_count": rearmed.RetryCount})
	w.log.Info().Int64("job", jobID).Int("retry_count", rearmed.RetryCount).Msg("publish: задача возвращена в очередь")
	return rearmed, nil
}

// CancelJob отменяет задачу, которую воркер ещё не захватил.
func (w *Worker) CancelJob(ctx context.Context, jobID int64) (domain.PublishJob, error) {
	job, err := retry.Value(ctx, "jobs_cancel", func(ctx context.Context) (domain.PublishJob, error) {
		return w.deps.Jobs.CancelJob(ctx, jobID)
	})
	if err != nil {
		result := "error"
		if errors.Is(err, domain.ErrInvalidState) {
			result = "invalid_state"
		}
		metrics.PublishManualActions.WithLabelValues("cancel", result).Inc()
		return domain.PublishJob{}, fmt.Errorf("отмена задачи %d: %w", jobID, err)
	}
	w.setQuizStatus(ctx, job.QuizID, domain.QuizStatusReady, nil)
	metrics.PublishManualActions.WithLabelValues("cancel", "ok").Inc()
	w.log.Info().Int64("job", jobID).Msg("publish: задача отменена")
	return job, nil
}

// GetJob возвращает задачу по идентификатору.
func (w *Worker) GetJob(ctx context.Context, jobID int64) (domain.PublishJob, error) {
	return retry.Value(ctx, "jobs_get", func(ctx context.Context) (domain.PublishJob, error) {
		return w.deps.Jobs.GetJob(ctx, jobID)
	})
}

// ListJobs возвращает задачи в статусе status (пустой статус означает все).
func (w *Worker) ListJobs(ctx context.Context, status domain.JobStatus, limit int) ([]domain.PublishJob, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: неизвестный статус %q", domain.ErrValidation, status)
	}
	return retry.Value(ctx, "jobs_list", func(ctx context.Context) ([]domain.PublishJob, error) {
		return w.deps.Jobs.ListJobs(ctx, status, limit)
	})
}

func (w *Worker) setQuizStatus(ctx context.Context, quizID int64, status domain.QuizStatus, message *string) {
	if err := retry.Do(ctx, "quizzes_set_status", func(ctx context.Context) error {
		return w.deps.Quizzes.SetQuizStatus(ctx, quizID, status, message)
	}); err != nil {
		w.log.Warn().Err(err).Int64("quiz", quizID).Str("status", string(status)).Msg("publish: не удалось обновить статус квиза")
	}
}

func (w *Worker) record(ctx context.Context, event string, jobID int64, meta map[string]any) {
	if w.deps.Events == nil {
		return
	}
	id := jobID
	if err := w.deps.Events.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:      event,
		JobID:      &id,
		Metadata:   meta,
		OccurredAt: w.now().UTC(),
	}); err != nil {
		w.log.Warn().Err(err).Str("event", event).Msg("publish: не удалось записать бизнес-событие")
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, domain.ErrPublishRejected):
		return "rejected"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transient"
	}
}
